package transport

import "github.com/commcore/commcore-go/pkg/qos"

// EventKind identifies one QoS/status notification channel on an endpoint.
// The kind is fixed when the event is created and decides which endpoint
// kind may host it.
type EventKind int

const (
	// EventInvalid is the sentinel kind carried by zero or finalized
	// events. It is never a valid argument to CreateEvent.
	EventInvalid EventKind = iota

	// Publisher-hosted kinds.
	PublisherOfferedDeadlineMissed
	PublisherLivelinessLost
	PublisherOfferedIncompatibleQoS
	PublisherMatched

	// Subscription-hosted kinds.
	SubscriptionRequestedDeadlineMissed
	SubscriptionLivelinessChanged
	SubscriptionRequestedIncompatibleQoS
	SubscriptionMessageLost
	SubscriptionMatched
)

func (k EventKind) String() string {
	switch k {
	case PublisherOfferedDeadlineMissed:
		return "OfferedDeadlineMissed"
	case PublisherLivelinessLost:
		return "LivelinessLost"
	case PublisherOfferedIncompatibleQoS:
		return "OfferedIncompatibleQoS"
	case PublisherMatched:
		return "PublisherMatched"
	case SubscriptionRequestedDeadlineMissed:
		return "RequestedDeadlineMissed"
	case SubscriptionLivelinessChanged:
		return "LivelinessChanged"
	case SubscriptionRequestedIncompatibleQoS:
		return "RequestedIncompatibleQoS"
	case SubscriptionMessageLost:
		return "MessageLost"
	case SubscriptionMatched:
		return "SubscriptionMatched"
	default:
		return "Invalid"
	}
}

// PublisherHosted reports whether kind may be created on a publisher.
func (k EventKind) PublisherHosted() bool {
	switch k {
	case PublisherOfferedDeadlineMissed, PublisherLivelinessLost,
		PublisherOfferedIncompatibleQoS, PublisherMatched:
		return true
	}
	return false
}

// SubscriptionHosted reports whether kind may be created on a subscription.
func (k EventKind) SubscriptionHosted() bool {
	switch k {
	case SubscriptionRequestedDeadlineMissed, SubscriptionLivelinessChanged,
		SubscriptionRequestedIncompatibleQoS, SubscriptionMessageLost,
		SubscriptionMatched:
		return true
	}
	return false
}

// EventStatus is the raw counter snapshot a transport returns from
// EventHandle.TakeStatus. Which fields are meaningful depends on the kind;
// the typed views below name them per kind.
//
// TotalCount is monotonic over the life of the event. The *Change fields
// report the delta since the previous TakeStatus and are the only fields
// reset by a take.
type EventStatus struct {
	Kind               EventKind
	TotalCount         int
	TotalCountChange   int
	CurrentCount       int
	CurrentCountChange int
	LastPolicyKind     qos.PolicyKind
}

// CountStatus is the view for the purely counted kinds: deadline missed,
// liveliness lost, and message lost.
type CountStatus struct {
	TotalCount       int
	TotalCountChange int
}

// Counts returns the counted view of s.
func (s EventStatus) Counts() CountStatus {
	return CountStatus{TotalCount: s.TotalCount, TotalCountChange: s.TotalCountChange}
}

// MatchedStatus is the view for the level-triggered matched kinds.
// CurrentCount is the number of currently matched peers; TotalCount is the
// cumulative number of matches ever made.
type MatchedStatus struct {
	TotalCount         int
	TotalCountChange   int
	CurrentCount       int
	CurrentCountChange int
}

// Matched returns the matched-peer view of s.
func (s EventStatus) Matched() MatchedStatus {
	return MatchedStatus{
		TotalCount:         s.TotalCount,
		TotalCountChange:   s.TotalCountChange,
		CurrentCount:       s.CurrentCount,
		CurrentCountChange: s.CurrentCountChange,
	}
}

// IncompatibleQoSStatus is the view for the incompatible-QoS kinds,
// carrying the last policy the transport found incompatible.
type IncompatibleQoSStatus struct {
	TotalCount       int
	TotalCountChange int
	LastPolicyKind   qos.PolicyKind
}

// IncompatibleQoS returns the incompatible-QoS view of s.
func (s EventStatus) IncompatibleQoS() IncompatibleQoSStatus {
	return IncompatibleQoSStatus{
		TotalCount:       s.TotalCount,
		TotalCountChange: s.TotalCountChange,
		LastPolicyKind:   s.LastPolicyKind,
	}
}

// LivelinessChangedStatus is the view for SubscriptionLivelinessChanged.
// Alive counts ride the Current fields of EventStatus, not-alive counts the
// Total fields.
type LivelinessChangedStatus struct {
	AliveCount          int
	NotAliveCount       int
	AliveCountChange    int
	NotAliveCountChange int
}

// LivelinessChanged returns the liveliness view of s.
func (s EventStatus) LivelinessChanged() LivelinessChangedStatus {
	return LivelinessChangedStatus{
		AliveCount:          s.CurrentCount,
		AliveCountChange:    s.CurrentCountChange,
		NotAliveCount:       s.TotalCount,
		NotAliveCountChange: s.TotalCountChange,
	}
}
