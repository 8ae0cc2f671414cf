// Package interfaces defines the core types and contracts of the social
// recovery system. It provides the contract between components without
// implementation details.
package interfaces

import (
	"bytes"
	"slices"
	"time"

	"github.com/ruteri/social-recovery-backend/cryptoutils"
)

type Pubkey = cryptoutils.Pubkey
type Privkey = cryptoutils.Privkey

// AccountID identifies an account.
type AccountID string

// RelationshipID identifies a trust relationship.
type RelationshipID string

// RecoveryRequestID identifies one recovery attempt.
type RecoveryRequestID string

// Share is one fragment of a threshold-split secret.
//
// Index is the share's evaluation point in [1..255] and is unique within
// its split. All shares produced by one split carry the same SplitID and
// Threshold.
type Share struct {
	SplitID   string `json:"split_id"`
	Index     uint8  `json:"index"`
	Threshold int    `json:"threshold"`
	Value     []byte `json:"value"`
}

// Wipe zeroes the share value in place.
func (s *Share) Wipe() {
	cryptoutils.WipeBytes(s.Value)
}

// ShareSet is the owner's working copy of its own key material, kept sealed
// at rest by the local vault.
type ShareSet struct {
	AccountID  AccountID `json:"account_id"`
	Threshold  int       `json:"threshold"`
	Shares     []Share   `json:"shares"`
	PrivateKey Privkey   `json:"private_key"`
}

// Indexes returns the evaluation points held in the set.
func (s *ShareSet) Indexes() []uint8 {
	out := make([]uint8, 0, len(s.Shares))
	for _, share := range s.Shares {
		out = append(out, share.Index)
	}
	return out
}

// Wipe zeroes every share value and the private key.
func (s *ShareSet) Wipe() {
	for i := range s.Shares {
		s.Shares[i].Wipe()
	}
	s.PrivateKey.Wipe()
}

// Account is the relay-side record of a user.
//
// PasswordVerifier and SecretVerifier are only ever read by the relay itself
// and are stripped from every response it serves.
type Account struct {
	ID               AccountID `json:"id"`
	Username         string    `json:"username"`
	Email            string    `json:"email"`
	PublicKey        Pubkey    `json:"public_key"`
	Threshold        int       `json:"threshold"`
	SealedKeyID      ContentID `json:"sealed_key_id"`
	VaultID          ContentID `json:"vault_id"`
	PasswordSalt     []byte    `json:"password_salt"`
	PasswordVerifier []byte    `json:"password_verifier,omitempty"`
	SecretVerifier   []byte    `json:"secret_verifier,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	c := *a
	c.PublicKey = bytes.Clone(a.PublicKey)
	c.PasswordSalt = bytes.Clone(a.PasswordSalt)
	c.PasswordVerifier = bytes.Clone(a.PasswordVerifier)
	c.SecretVerifier = bytes.Clone(a.SecretVerifier)
	return &c
}

// Public returns a copy without the relay-only verifiers.
func (a *Account) Public() *Account {
	c := a.Clone()
	c.PasswordVerifier = nil
	c.SecretVerifier = nil
	return c
}

// TrustRelationship records that the trustor handed an encrypted share to the trustee.
type TrustRelationship struct {
	ID              RelationshipID `json:"id"`
	TrustorID       AccountID      `json:"trustor_id"`
	TrustorEmail    string         `json:"trustor_email"`
	TrusteeEmail    string         `json:"trustee_email"`
	ShareIndex      uint8          `json:"share_index"`
	ApprovalState   ApprovalState  `json:"approval_state"`
	ShareCiphertext []byte         `json:"share_ciphertext,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Clone returns a deep copy of the relationship.
func (r *TrustRelationship) Clone() *TrustRelationship {
	c := *r
	c.ShareCiphertext = bytes.Clone(r.ShareCiphertext)
	return &c
}

// Live reports whether the relationship still binds a share to the trustee.
func (r *TrustRelationship) Live() bool {
	return r.ApprovalState != ApprovalRejected
}

// CollectedShare is one re-encrypted share submitted to a recovery request.
type CollectedShare struct {
	HolderID       AccountID      `json:"holder_id"`
	RelationshipID RelationshipID `json:"relationship_id"`
	Ciphertext     []byte         `json:"ciphertext"`
	SubmittedAt    time.Time      `json:"submitted_at"`
}

// RecoveryRequest is one attempt to recover a specific account.
//
// The session private key never leaves the recoverer in the clear:
// SealedSessionKey holds it sealed under the recoverer's new password.
type RecoveryRequest struct {
	ID                RecoveryRequestID `json:"id"`
	AccountID         AccountID         `json:"account_id"`
	RecovererID       string            `json:"recoverer_id"`
	Threshold         int               `json:"threshold"`
	State             RecoveryState     `json:"state"`
	SessionPublicKey  Pubkey            `json:"session_public_key"`
	SealedSessionKey  []byte            `json:"sealed_session_key"`
	CollectedShares   []CollectedShare  `json:"collected_shares"`
	NewCredentialHash []byte            `json:"new_credential_hash,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Clone returns a deep copy of the request.
func (r *RecoveryRequest) Clone() *RecoveryRequest {
	c := *r
	c.SessionPublicKey = bytes.Clone(r.SessionPublicKey)
	c.SealedSessionKey = bytes.Clone(r.SealedSessionKey)
	c.NewCredentialHash = bytes.Clone(r.NewCredentialHash)
	c.CollectedShares = slices.Clone(r.CollectedShares)
	for i := range c.CollectedShares {
		c.CollectedShares[i].Ciphertext = bytes.Clone(r.CollectedShares[i].Ciphertext)
	}
	return &c
}

// HasShareFrom reports whether a share for the relationship was already collected.
func (r *RecoveryRequest) HasShareFrom(id RelationshipID) bool {
	for _, share := range r.CollectedShares {
		if share.RelationshipID == id {
			return true
		}
	}
	return false
}

// CredentialUpdate carries the credentials installed when a recovery completes.
type CredentialUpdate struct {
	VaultID          ContentID `json:"vault_id"`
	PasswordSalt     []byte    `json:"password_salt"`
	PasswordVerifier []byte    `json:"password_verifier"`
	// SecretProof must equal the account's SecretVerifier.
	SecretProof    []byte `json:"secret_proof"`
	CredentialHash []byte `json:"credential_hash"`
}
