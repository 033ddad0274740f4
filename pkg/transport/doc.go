// Package transport defines the contract between the CommCore runtime and a
// middleware transport implementation.
//
// The runtime owns resource lifecycle, naming, status-event bookkeeping, and
// wait-set multiplexing; the transport owns actual message delivery, peer
// matching, QoS compatibility verdicts, and the raw status counters behind
// every event kind. Two implementations live in this repository:
//
//   - internal/memtransport: an in-process broker used by tests and
//     single-process deployments
//   - internal/grpctransport: a peer-to-peer transport over gRPC streams
//
// The interfaces use Go idioms:
//   - Explicit error returns; rterr sentinel kinds wrap transport failures
//   - Channel-based wakeup (Waitable) instead of OS condition variables
//   - io.Closer-style Close for resource cleanup, idempotent by contract
//
// Handles returned by a Transport are owned by the runtime resource that
// created them and must not be shared; Close on a handle detaches it from
// the transport's matching graph.
package transport
