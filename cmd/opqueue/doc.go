// Command opqueue is both the queue daemon (serve) and an operator CLI
// for inspecting and managing its durable store directly: enqueue, get,
// list, cancel, stats, conflicts, and compact.
package main
