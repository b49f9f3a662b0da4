package conflict

import (
	"fmt"
	"time"

	"github.com/fieldsync/opqueue/pkg/types"
)

// Input is the full context a Resolver needs to reconcile one entity.
type Input struct {
	EntityType string

	Local    map[string]any
	Server   map[string]any
	Previous map[string]any

	LocalUpdatedAt  time.Time
	ServerUpdatedAt time.Time
}

// Output is the reconciled result of applying a strategy to an Input.
type Output struct {
	// Payload is the reconciled payload. Empty when RequiresManualReview.
	Payload map[string]any
	// ClearSyncRequired reports whether the cache entry's sync_required
	// flag should be cleared as a result of this resolution.
	ClearSyncRequired bool
	// RequiresManualReview reports that the strategy could not resolve
	// automatically; the caller must park the entry for manual review.
	RequiresManualReview bool
}

// Resolver reconciles one Input into an Output for a single strategy.
type Resolver func(Input) Output

// Table maps each known ConflictStrategy to its Resolver.
var Table = map[types.ConflictStrategy]Resolver{
	types.ConflictClientWins:     clientWins,
	types.ConflictServerWins:     serverWins,
	types.ConflictLastWriterWins: lastWriterWins,
	types.ConflictMerge:          merge,
	types.ConflictManual:         manual,
}

// Resolve looks up strategy in Table and applies it to in. Returns an
// error for an unrecognized strategy rather than guessing a default.
func Resolve(strategy types.ConflictStrategy, in Input) (Output, error) {
	resolver, ok := Table[strategy]
	if !ok {
		return Output{}, fmt.Errorf("conflict: unknown strategy %q", strategy)
	}
	return resolver(in), nil
}

// clientWins keeps the local payload unchanged; the next upload overwrites
// the server.
func clientWins(in Input) Output {
	return Output{Payload: in.Local, ClearSyncRequired: false}
}

// serverWins replaces the local payload with the server payload and
// clears sync_required; the caller is responsible for cancelling any
// still-pending local operations against the same entity.
func serverWins(in Input) Output {
	return Output{Payload: in.Server, ClearSyncRequired: true}
}

// lastWriterWins compares updated_at timestamps; the newer payload wins
// in full.
func lastWriterWins(in Input) Output {
	if in.ServerUpdatedAt.After(in.LocalUpdatedAt) {
		return Output{Payload: in.Server, ClearSyncRequired: true}
	}
	return Output{Payload: in.Local, ClearSyncRequired: false}
}

// merge takes the server payload as base, adds local-only keys, merges
// nested mappings recursively, deduplicate-unions list-valued fields, and
// retains the server value for any remaining scalar conflict.
func merge(in Input) Output {
	return Output{Payload: mergePayloads(in.Server, in.Local), ClearSyncRequired: true}
}

// manual never resolves automatically; the caller must park the entry and
// surface it through the review API.
func manual(in Input) Output {
	return Output{RequiresManualReview: true, ClearSyncRequired: false}
}

func mergePayloads(server, local map[string]any) map[string]any {
	merged := make(map[string]any, len(server)+len(local))
	for k, v := range server {
		merged[k] = v
	}
	for k, localVal := range local {
		serverVal, exists := merged[k]
		if !exists {
			merged[k] = localVal
			continue
		}
		merged[k] = mergeValue(serverVal, localVal)
	}
	return merged
}

func mergeValue(serverVal, localVal any) any {
	serverMap, serverIsMap := serverVal.(map[string]any)
	localMap, localIsMap := localVal.(map[string]any)
	if serverIsMap && localIsMap {
		return mergePayloads(serverMap, localMap)
	}

	serverList, serverIsList := serverVal.([]any)
	localList, localIsList := localVal.([]any)
	if serverIsList && localIsList {
		return unionLists(serverList, localList)
	}

	// Scalar conflict: server value is retained.
	return serverVal
}

// unionLists deduplicate-unions two lists, preserving server order first.
func unionLists(server, local []any) []any {
	seen := make(map[string]struct{}, len(server)+len(local))
	result := make([]any, 0, len(server)+len(local))
	for _, v := range server {
		key := fmt.Sprintf("%v", v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, v)
	}
	for _, v := range local {
		key := fmt.Sprintf("%v", v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, v)
	}
	return result
}
