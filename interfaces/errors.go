package interfaces

import "errors"

// Record store errors.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAccountExists is returned when the username or email is already registered.
	ErrAccountExists = errors.New("account already exists")

	// ErrUnauthorized is returned when the caller may not act on a record.
	ErrUnauthorized = errors.New("unauthorized")
)

// Trust registry errors.
var (
	// ErrRecipientNotFound is returned when an email resolves to no public key.
	ErrRecipientNotFound = errors.New("recipient not found")

	// ErrInvalidTransition is returned for a trustee decision the relationship's
	// current approval state does not allow.
	ErrInvalidTransition = errors.New("invalid approval transition")

	// ErrDuplicateTrustee is returned when the trustor already has a live
	// relationship with the trustee.
	ErrDuplicateTrustee = errors.New("trustee already added")

	// ErrShareIndexTaken is returned when a trustor's share index is already
	// assigned. Indexes are never reused, even after revocation.
	ErrShareIndexTaken = errors.New("share index already assigned")

	// ErrSelfTrust is returned when an account tries to trust itself.
	ErrSelfTrust = errors.New("cannot add yourself as a trusted party")
)

// Recovery session errors.
var (
	// ErrInvalidState is returned when an operation does not apply to the
	// recovery request's current state.
	ErrInvalidState = errors.New("invalid recovery state")

	// ErrSessionClosed is returned when a share arrives for a completed or
	// abandoned recovery request.
	ErrSessionClosed = errors.New("recovery session closed")

	// ErrNotAuthorizedShareHolder is returned when the caller is not an
	// accepted trustee of the account being recovered.
	ErrNotAuthorizedShareHolder = errors.New("not an authorized share holder")

	// ErrRecoveryInProgress is returned when the account already has an
	// active recovery request.
	ErrRecoveryInProgress = errors.New("recovery already in progress")
)
