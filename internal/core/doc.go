// Package core implements the CommCore client runtime: resource lifecycle
// (Context → Node → Publisher/Subscription → StatusEvent), QoS status
// events with monotonic counters and edge-triggered take semantics, guard
// conditions, and the WaitSet multiplexer.
//
// Every resource carries an explicit tri-state lifecycle (zero, live,
// finalized). Public operations check it and fail with the matching rterr
// kind instead of touching a dead resource; finalization is idempotent, and
// a failed initialization never leaves a resource partially built. Nodes
// additionally distinguish "valid" (node live and context running) from
// "valid except context" (node live, context possibly shut down) so
// teardown can proceed in any order after shutdown.
//
// The actual message delivery, matching, and status counting happen behind
// the pkg/transport contract; this package owns naming, validity, and the
// wait-set machinery on top of it.
package core
