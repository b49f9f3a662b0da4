// Package scheduler drives enqueued operations through pending ->
// executing -> terminal with bounded concurrency, dependency-aware
// ordering, and retry with exponential backoff.
//
// A tick-driven claim loop reads up to a configurable batch of pending
// operations ordered by priority then creation time, filters to those
// whose dependencies have resolved to completed or synced operations, and
// atomically claims each via the durable store before handing it to a
// fixed-size worker pool. Workers apply a kind-specific cache mutation
// (create/update/delete/approve/reject; submit/cancel are local no-ops)
// and transition the operation to completed or, on failure, back to
// pending with a deferred not-before timestamp or to failed once retries
// are exhausted.
package scheduler
