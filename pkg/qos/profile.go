// Package qos defines the quality-of-service vocabulary shared by the
// CommCore runtime and its transports. A Profile is fixed at endpoint
// creation; changing QoS afterwards means creating a new endpoint.
package qos

import "time"

// HistoryKind controls how many samples a transport retains per endpoint.
type HistoryKind int

const (
	HistorySystemDefault HistoryKind = iota
	HistoryKeepLast
	HistoryKeepAll
)

func (k HistoryKind) String() string {
	switch k {
	case HistorySystemDefault:
		return "SystemDefault"
	case HistoryKeepLast:
		return "KeepLast"
	case HistoryKeepAll:
		return "KeepAll"
	default:
		return "Unknown"
	}
}

// ReliabilityKind controls delivery guarantees.
type ReliabilityKind int

const (
	ReliabilitySystemDefault ReliabilityKind = iota
	ReliabilityReliable
	ReliabilityBestEffort
)

func (k ReliabilityKind) String() string {
	switch k {
	case ReliabilitySystemDefault:
		return "SystemDefault"
	case ReliabilityReliable:
		return "Reliable"
	case ReliabilityBestEffort:
		return "BestEffort"
	default:
		return "Unknown"
	}
}

// DurabilityKind controls whether late-joining subscriptions see earlier
// samples.
type DurabilityKind int

const (
	DurabilitySystemDefault DurabilityKind = iota
	DurabilityTransientLocal
	DurabilityVolatile
)

func (k DurabilityKind) String() string {
	switch k {
	case DurabilitySystemDefault:
		return "SystemDefault"
	case DurabilityTransientLocal:
		return "TransientLocal"
	case DurabilityVolatile:
		return "Volatile"
	default:
		return "Unknown"
	}
}

// LivelinessKind controls how a publisher proves it is alive.
type LivelinessKind int

const (
	LivelinessSystemDefault LivelinessKind = iota
	// LivelinessAutomatic treats any publish as proof of life.
	LivelinessAutomatic
	// LivelinessManualByTopic requires an explicit liveliness assertion
	// (or a publish) within each lease period.
	LivelinessManualByTopic
)

func (k LivelinessKind) String() string {
	switch k {
	case LivelinessSystemDefault:
		return "SystemDefault"
	case LivelinessAutomatic:
		return "Automatic"
	case LivelinessManualByTopic:
		return "ManualByTopic"
	default:
		return "Unknown"
	}
}

// PolicyKind identifies the QoS policy a transport found incompatible
// between a publisher's offer and a subscription's request. Reported in
// incompatible-QoS status events.
type PolicyKind int

const (
	PolicyInvalid PolicyKind = iota
	PolicyDurability
	PolicyDeadline
	PolicyLiveliness
	PolicyReliability
	PolicyHistory
	PolicyLifespan
)

func (k PolicyKind) String() string {
	switch k {
	case PolicyDurability:
		return "Durability"
	case PolicyDeadline:
		return "Deadline"
	case PolicyLiveliness:
		return "Liveliness"
	case PolicyReliability:
		return "Reliability"
	case PolicyHistory:
		return "History"
	case PolicyLifespan:
		return "Lifespan"
	default:
		return "Invalid"
	}
}

// Profile is the full QoS configuration of one endpoint.
//
// Zero durations mean "unspecified": no deadline, unlimited lifespan, or an
// infinite liveliness lease, respectively.
type Profile struct {
	History     HistoryKind
	Depth       int
	Reliability ReliabilityKind
	Durability  DurabilityKind
	Deadline    time.Duration
	Lifespan    time.Duration

	Liveliness    LivelinessKind
	LeaseDuration time.Duration

	// AvoidNamespaceConventions asks the transport to use the topic name
	// exactly as given, without applying its own prefixing conventions.
	AvoidNamespaceConventions bool
}

// DefaultProfile returns the profile endpoints get when the caller does not
// specify one: reliable, volatile, keep-last with a depth of 10.
func DefaultProfile() Profile {
	return Profile{
		History:     HistoryKeepLast,
		Depth:       10,
		Reliability: ReliabilityReliable,
		Durability:  DurabilityVolatile,
		Liveliness:  LivelinessAutomatic,
	}
}

// DiagnosticsProfile returns the profile nodes use for their internal
// diagnostics publisher: keep-last depth 1000, reliable, volatile.
func DiagnosticsProfile() Profile {
	p := DefaultProfile()
	p.Depth = 1000
	return p
}
