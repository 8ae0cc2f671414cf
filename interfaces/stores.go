package interfaces

import (
	"context"
	"time"
)

// AccountDirectory stores accounts and resolves emails to public keys.
type AccountDirectory interface {
	// CreateAccount registers a new account.
	// Returns ErrAccountExists if the username or email is taken.
	CreateAccount(ctx context.Context, account *Account) error

	// Account fetches an account by ID.
	Account(ctx context.Context, id AccountID) (*Account, error)

	// AccountByEmail fetches an account by its (normalized) email.
	AccountByEmail(ctx context.Context, email string) (*Account, error)
}

// TrustStore persists trust relationships.
// Every write is an atomic single-relationship transaction.
type TrustStore interface {
	// CreateRelationship inserts a new relationship.
	// Returns ErrDuplicateTrustee if the trustor already has a live
	// relationship with the same trustee email, and ErrShareIndexTaken if
	// the share index was ever assigned to another of the trustor's
	// relationships, including revoked ones.
	CreateRelationship(ctx context.Context, rel *TrustRelationship) error

	// Relationship fetches a relationship by ID.
	Relationship(ctx context.Context, id RelationshipID) (*TrustRelationship, error)

	// TransitionApproval applies a trustee decision (see ApprovalState.Transition).
	// Rejection drops the share ciphertext.
	TransitionApproval(ctx context.Context, id RelationshipID, to ApprovalState) (*TrustRelationship, error)

	// DeleteRelationship removes a relationship (trustor revocation).
	// Its share index stays reserved for the trustor.
	DeleteRelationship(ctx context.Context, id RelationshipID) error

	// RelationshipsByTrustor lists the relationships an account created,
	// oldest first.
	RelationshipsByTrustor(ctx context.Context, trustor AccountID) ([]*TrustRelationship, error)

	// RelationshipsByTrustee lists the relationships addressed to an email,
	// oldest first.
	RelationshipsByTrustee(ctx context.Context, email string) ([]*TrustRelationship, error)
}

// RecoveryStore persists recovery requests. Each mutation is applied
// atomically against the request's current state.
type RecoveryStore interface {
	// CreateRecovery inserts a request in the initiated state.
	// Returns ErrRecoveryInProgress if the account already has an active request.
	CreateRecovery(ctx context.Context, req *RecoveryRequest) error

	// Recovery fetches a request with its collected shares.
	Recovery(ctx context.Context, id RecoveryRequestID) (*RecoveryRequest, error)

	// ActiveRecovery returns the account's in-progress request or ErrNotFound.
	ActiveRecovery(ctx context.Context, account AccountID) (*RecoveryRequest, error)

	// PublishRecovery moves an initiated request to awaiting_shares.
	// signature must be SignAction(sessionKey, RecoveryActionPublish, id),
	// otherwise ErrUnauthorized is returned.
	PublishRecovery(ctx context.Context, id RecoveryRequestID, signature []byte) (*RecoveryRequest, error)

	// AppendShare adds a submitted share. Returns ErrSessionClosed for
	// completed or abandoned requests.
	AppendShare(ctx context.Context, id RecoveryRequestID, share CollectedShare) (*RecoveryRequest, error)

	// AbandonRecovery cancels a request on behalf of its recoverer, who signs
	// RecoveryActionAbandon with the session key.
	AbandonRecovery(ctx context.Context, id RecoveryRequestID, signature []byte) (*RecoveryRequest, error)

	// CancelRecovery cancels a request on behalf of the account owner.
	// Returns ErrUnauthorized if the request targets another account.
	CancelRecovery(ctx context.Context, id RecoveryRequestID, owner AccountID) (*RecoveryRequest, error)

	// ExpireRecovery abandons an active request whose last activity is
	// before idleSince. Returns ErrInvalidState if it saw activity since.
	ExpireRecovery(ctx context.Context, id RecoveryRequestID, idleSince time.Time) (*RecoveryRequest, error)

	// CompleteRecovery moves a reconstructable request to completed and
	// installs the new credentials on the account in the same transaction.
	// Returns ErrUnauthorized if the secret proof does not match the account.
	CompleteRecovery(ctx context.Context, id RecoveryRequestID, update CredentialUpdate) (*RecoveryRequest, error)
}

// StaleRecoveryLister finds active requests without activity since a cutoff.
type StaleRecoveryLister interface {
	StaleRecoveries(ctx context.Context, before time.Time) ([]*RecoveryRequest, error)
}
