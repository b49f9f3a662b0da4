package conflict

import (
	"testing"
	"time"

	"github.com/fieldsync/opqueue/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_UnknownStrategy(t *testing.T) {
	_, err := Resolve("bogus", Input{})
	require.Error(t, err)
}

func TestClientWins(t *testing.T) {
	out, err := Resolve(types.ConflictClientWins, Input{
		Local:  map[string]any{"amount": 1.0},
		Server: map[string]any{"amount": 2.0},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"amount": 1.0}, out.Payload)
	assert.False(t, out.ClearSyncRequired)
}

func TestServerWins(t *testing.T) {
	out, err := Resolve(types.ConflictServerWins, Input{
		Local:  map[string]any{"amount": 1.0},
		Server: map[string]any{"amount": 2.0},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"amount": 2.0}, out.Payload)
	assert.True(t, out.ClearSyncRequired)
}

func TestLastWriterWins(t *testing.T) {
	now := time.Now()

	newerServer, err := Resolve(types.ConflictLastWriterWins, Input{
		Local: map[string]any{"v": "local"}, Server: map[string]any{"v": "server"},
		LocalUpdatedAt: now, ServerUpdatedAt: now.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, "server", newerServer.Payload["v"])

	newerLocal, err := Resolve(types.ConflictLastWriterWins, Input{
		Local: map[string]any{"v": "local"}, Server: map[string]any{"v": "server"},
		LocalUpdatedAt: now.Add(time.Minute), ServerUpdatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, "local", newerLocal.Payload["v"])
}

func TestMerge_UnionsLocalOnlyKeys(t *testing.T) {
	out, err := Resolve(types.ConflictMerge, Input{
		Server: map[string]any{"amount": 100.0},
		Local:  map[string]any{"note": "client added this"},
	})
	require.NoError(t, err)
	assert.Equal(t, 100.0, out.Payload["amount"])
	assert.Equal(t, "client added this", out.Payload["note"])
}

func TestMerge_ScalarConflictKeepsServer(t *testing.T) {
	out, err := Resolve(types.ConflictMerge, Input{
		Server: map[string]any{"amount": 200.0},
		Local:  map[string]any{"amount": 100.0},
	})
	require.NoError(t, err)
	assert.Equal(t, 200.0, out.Payload["amount"])
}

func TestMerge_NestedMapsMergeRecursively(t *testing.T) {
	out, err := Resolve(types.ConflictMerge, Input{
		Server: map[string]any{"address": map[string]any{"city": "server city", "zip": "99999"}},
		Local:  map[string]any{"address": map[string]any{"city": "local city", "country": "US"}},
	})
	require.NoError(t, err)
	addr := out.Payload["address"].(map[string]any)
	assert.Equal(t, "server city", addr["city"], "nested scalar conflict keeps server")
	assert.Equal(t, "99999", addr["zip"])
	assert.Equal(t, "US", addr["country"])
}

func TestMerge_ListsAreDedupedUnioned(t *testing.T) {
	out, err := Resolve(types.ConflictMerge, Input{
		Server: map[string]any{"tags": []any{"a", "b"}},
		Local:  map[string]any{"tags": []any{"b", "c"}},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"a", "b", "c"}, out.Payload["tags"])
}

func TestManual_RequiresReview(t *testing.T) {
	out, err := Resolve(types.ConflictManual, Input{
		Local: map[string]any{"amount": 1.0}, Server: map[string]any{"amount": 2.0},
	})
	require.NoError(t, err)
	assert.True(t, out.RequiresManualReview)
	assert.False(t, out.ClearSyncRequired)
}

func TestStrategiesAreDeterministic(t *testing.T) {
	in := Input{
		Server: map[string]any{"a": 1.0, "tags": []any{"x", "y"}},
		Local:  map[string]any{"b": 2.0, "tags": []any{"y", "z"}},
	}
	first, err := Resolve(types.ConflictMerge, in)
	require.NoError(t, err)
	second, err := Resolve(types.ConflictMerge, in)
	require.NoError(t, err)
	assert.Equal(t, first.Payload, second.Payload)
}
