// Package health implements pluggable liveness checks with
// consecutive-failure/success tracking, independent of what they probe.
//
// The sync coordinator uses an HTTPChecker against the remote server's
// health endpoint to decide whether a sync tick should attempt a round
// trip at all, rather than burning a batch on a server it already knows
// is down. Status.Update folds each Result into a rolling healthy/unhealthy
// verdict gated by Config.Retries, so a single flaky probe doesn't flip
// the verdict.
package health
