// Package rterr defines the error kinds reported by the CommCore runtime.
//
// Every failure surfaced by the runtime wraps exactly one of these sentinel
// values, so callers classify failures with errors.Is and read the full
// diagnostic from the error message itself. Transport-level failures are
// wrapped with their original message preserved, never reinterpreted.
package rterr

import "errors"

var (
	// ErrInvalidArgument reports a nil, out-of-range, or otherwise
	// unusable input to a runtime call.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotInitialized reports an operation attempted before the owning
	// resource was initialized.
	ErrNotInitialized = errors.New("not initialized")

	// ErrAlreadyInitialized reports a second initialization of a resource
	// that is already live.
	ErrAlreadyInitialized = errors.New("already initialized")

	// ErrContextInvalid reports an operation on a context that is zero,
	// finalized, or already shut down.
	ErrContextInvalid = errors.New("context invalid")

	// ErrNodeInvalid reports an operation on a node that is zero,
	// finalized, or whose context has been shut down.
	ErrNodeInvalid = errors.New("node invalid")

	// ErrPublisherInvalid reports an operation on a zero or finalized
	// publisher.
	ErrPublisherInvalid = errors.New("publisher invalid")

	// ErrSubscriptionInvalid reports an operation on a zero or finalized
	// subscription.
	ErrSubscriptionInvalid = errors.New("subscription invalid")

	// ErrEventInvalid reports an operation on a zero or finalized status
	// event.
	ErrEventInvalid = errors.New("event invalid")

	// ErrWaitSetInvalid reports an operation on a zero or finalized wait
	// set.
	ErrWaitSetInvalid = errors.New("wait set invalid")

	// ErrWaitSetFull reports an add on a wait set category with no free
	// slot remaining.
	ErrWaitSetFull = errors.New("wait set full")

	// ErrInvalidName reports a node or topic name that violates the
	// naming grammar.
	ErrInvalidName = errors.New("invalid name")

	// ErrInvalidNamespace reports a namespace that violates the naming
	// grammar.
	ErrInvalidNamespace = errors.New("invalid namespace")

	// ErrInvalidRemap reports a name remapping rule the resolver could
	// not apply.
	ErrInvalidRemap = errors.New("invalid remap rule")

	// ErrBadAlloc reports an allocator failure. The failed call leaves
	// the process usable and the target resource unmodified.
	ErrBadAlloc = errors.New("allocation failed")

	// ErrTimeout reports that a wait elapsed with no entity ready, or
	// that a wait was interrupted before any entity became ready.
	ErrTimeout = errors.New("timeout")

	// ErrUnsupported reports a capability the active transport does not
	// provide. Callers are expected to treat this as skippable.
	ErrUnsupported = errors.New("unsupported")
)
