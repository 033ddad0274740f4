package memtransport

import "github.com/commcore/commcore-go/pkg/qos"

// livelinessRank orders liveliness kinds by strictness: an offer must be at
// least as strict as the request.
func livelinessRank(k qos.LivelinessKind) int {
	switch k {
	case qos.LivelinessManualByTopic:
		return 2
	case qos.LivelinessAutomatic:
		return 1
	default:
		return 0
	}
}

// incompatiblePolicy returns the first policy on which an offered profile
// cannot satisfy a requested one, or PolicyInvalid when the pairing is
// compatible. The checks mirror the usual request/offer rules: best-effort
// cannot satisfy reliable, volatile cannot satisfy transient-local, a
// longer (or absent) offered deadline cannot satisfy a requested one, and
// the offered liveliness must be at least as strict with a lease no longer
// than requested.
func incompatiblePolicy(offered, requested qos.Profile) qos.PolicyKind {
	if requested.Reliability == qos.ReliabilityReliable &&
		offered.Reliability == qos.ReliabilityBestEffort {
		return qos.PolicyReliability
	}
	if requested.Durability == qos.DurabilityTransientLocal &&
		offered.Durability == qos.DurabilityVolatile {
		return qos.PolicyDurability
	}
	if requested.Deadline > 0 &&
		(offered.Deadline == 0 || offered.Deadline > requested.Deadline) {
		return qos.PolicyDeadline
	}
	if livelinessRank(offered.Liveliness) < livelinessRank(requested.Liveliness) {
		return qos.PolicyLiveliness
	}
	if requested.LeaseDuration > 0 &&
		(offered.LeaseDuration == 0 || offered.LeaseDuration > requested.LeaseDuration) {
		return qos.PolicyLiveliness
	}
	return qos.PolicyInvalid
}
