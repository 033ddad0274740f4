// Package memtransport is the in-process middleware transport: a broker
// that matches publishers to subscriptions by exact topic name, applies
// request/offer QoS compatibility, delivers payloads through bounded
// per-subscription queues, and feeds the raw status counters behind every
// event kind (matched peers, incompatible QoS, missed deadlines, liveliness
// changes, lost messages).
//
// All timing (deadlines, liveliness leases, lifespan expiry) goes through
// an injected clock, so tests drive it deterministically with a mock.
package memtransport
