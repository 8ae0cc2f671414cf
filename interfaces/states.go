package interfaces

import "fmt"

// ApprovalState is the trustee's decision on a trust relationship.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalAccepted ApprovalState = "accepted"
	ApprovalRejected ApprovalState = "rejected"
)

// Valid reports whether the state is one of the known values.
func (s ApprovalState) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalAccepted, ApprovalRejected:
		return true
	}
	return false
}

// Transition validates a trustee decision against the current state.
// It reports whether the decision changes the record; repeating the current
// decision is a no-op.
//
//	pending  -> accepted | rejected
//	accepted -> accepted
//	rejected -> rejected
func (s ApprovalState) Transition(to ApprovalState) (changed bool, err error) {
	if to != ApprovalAccepted && to != ApprovalRejected {
		return false, fmt.Errorf("%w: cannot move to %q", ErrInvalidTransition, to)
	}

	switch s {
	case ApprovalPending:
		return true, nil
	case to:
		return false, nil
	default:
		return false, fmt.Errorf("%w: relationship is already %s", ErrInvalidTransition, s)
	}
}

// RecoveryState is the state of a recovery request.
type RecoveryState string

const (
	RecoveryInitiated       RecoveryState = "initiated"
	RecoveryAwaitingShares  RecoveryState = "awaiting_shares"
	RecoveryReconstructable RecoveryState = "reconstructable"
	RecoveryCompleted       RecoveryState = "completed"
	RecoveryAbandoned       RecoveryState = "abandoned"
)

// Terminal reports whether no further transitions are possible.
func (s RecoveryState) Terminal() bool {
	return s == RecoveryCompleted || s == RecoveryAbandoned
}

// Active reports whether the request still counts as the account's
// in-progress recovery.
func (s RecoveryState) Active() bool {
	switch s {
	case RecoveryInitiated, RecoveryAwaitingShares, RecoveryReconstructable:
		return true
	}
	return false
}

// ActiveRecoveryStates lists the states of in-progress requests.
var ActiveRecoveryStates = []RecoveryState{RecoveryInitiated, RecoveryAwaitingShares, RecoveryReconstructable}

// RecoveryAction names a recoverer operation that must be signed with the
// request's session key.
type RecoveryAction string

const (
	RecoveryActionPublish RecoveryAction = "publish"
	RecoveryActionAbandon RecoveryAction = "abandon"
)
