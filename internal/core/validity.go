package core

// State is the lifecycle position of a runtime resource. The zero value is
// StateZero, so a declared-but-never-initialized resource can be handed to
// Fini or a validity check without special casing.
type State uint8

const (
	// StateZero marks a resource that was declared but never initialized.
	StateZero State = iota
	// StateLive marks an initialized, usable resource.
	StateLive
	// StateFinalized marks a resource whose Fini has run. Finalization is
	// one-way and idempotent.
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateZero:
		return "Zero"
	case StateLive:
		return "Live"
	case StateFinalized:
		return "Finalized"
	default:
		return "Unknown"
	}
}
