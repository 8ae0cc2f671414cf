package api

import (
	"time"

	"github.com/ruteri/social-recovery-backend/interfaces"
)

// SaltResponse carries the salt a client needs to derive its password
// verifier before logging in.
type SaltResponse struct {
	Salt []byte `json:"salt"`
}

// LoginRequest authenticates with the password verifier.
type LoginRequest struct {
	Email            string `json:"email"`
	PasswordVerifier []byte `json:"password_verifier"`
}

// LoginResponse carries the bearer token for the authenticated account.
type LoginResponse struct {
	Token   string              `json:"token"`
	Account *interfaces.Account `json:"account"`
}

// ApprovalRequest is a trustee's decision on a relationship.
type ApprovalRequest struct {
	State interfaces.ApprovalState `json:"state"`
}

// SessionSignature authorizes a recoverer action on a request. The signature
// is made with the request's session key over the action and request ID.
type SessionSignature struct {
	Signature []byte `json:"signature"`
}

// ExpireRequest asks the relay to abandon a request that has seen no
// activity since IdleSince. The relay never honours a cutoff more recent
// than its own supersede delay.
type ExpireRequest struct {
	IdleSince time.Time `json:"idle_since"`
}

// BlobResponse acknowledges a stored blob.
type BlobResponse struct {
	ID interfaces.ContentID `json:"id"`
}

// RelationshipsResponse lists trust relationships.
type RelationshipsResponse struct {
	Relationships []*interfaces.TrustRelationship `json:"relationships"`
}

// ErrorResponse is the body of every failed relay request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
