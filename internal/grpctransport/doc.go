// Package grpctransport implements the middleware transport over gRPC so
// endpoints in different processes can discover and reach each other.
//
// Each transport serves one bidirectional streaming channel and dials the
// peers it is configured with. Peers exchange endpoint announcements and
// mirror each other's endpoints as proxies in their local broker, so QoS
// matching, status counters, and delivery queues behave identically for
// local and remote peers. Payloads are broadcast on publish and injected
// through the proxy publisher on the receiving side.
package grpctransport
