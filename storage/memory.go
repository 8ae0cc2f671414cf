package storage

import (
	"cmp"
	"context"
	"crypto/subtle"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ruteri/social-recovery-backend/interfaces"
	"github.com/ruteri/social-recovery-backend/recoverystate"
)

// MemoryStore implements AccountDirectory, TrustStore and RecoveryStore in
// process memory. A single mutex makes every operation one transaction.
// Records are deep-copied on the way in and out.
type MemoryStore struct {
	mu sync.Mutex

	accounts      map[interfaces.AccountID]*interfaces.Account
	relationships map[interfaces.RelationshipID]*interfaces.TrustRelationship
	recoveries    map[interfaces.RecoveryRequestID]*interfaces.RecoveryRequest

	// share indexes ever assigned, kept after revocation
	reservedIndexes map[indexReservation]interfaces.RelationshipID

	now func() time.Time
}

type indexReservation struct {
	trustor interfaces.AccountID
	index   uint8
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:      make(map[interfaces.AccountID]*interfaces.Account),
		relationships: make(map[interfaces.RelationshipID]*interfaces.TrustRelationship),
		recoveries:    make(map[interfaces.RecoveryRequestID]*interfaces.RecoveryRequest),

		reservedIndexes: make(map[indexReservation]interfaces.RelationshipID),
		now:             time.Now,
	}
}

// WithClock replaces the store's time source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) CreateAccount(ctx context.Context, account *interfaces.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if existing.ID == account.ID || existing.Username == account.Username || existing.Email == account.Email {
			return interfaces.ErrAccountExists
		}
	}

	s.accounts[account.ID] = account.Clone()
	return nil
}

func (s *MemoryStore) Account(ctx context.Context, id interfaces.AccountID) (*interfaces.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return account.Clone(), nil
}

func (s *MemoryStore) AccountByEmail(ctx context.Context, email string) (*interfaces.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, account := range s.accounts {
		if account.Email == email {
			return account.Clone(), nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (s *MemoryStore) CreateRelationship(ctx context.Context, rel *interfaces.TrustRelationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.relationships[rel.ID]; ok {
		return interfaces.ErrDuplicateTrustee
	}
	for _, existing := range s.relationships {
		if existing.TrustorID == rel.TrustorID && existing.TrusteeEmail == rel.TrusteeEmail && existing.Live() {
			return interfaces.ErrDuplicateTrustee
		}
	}
	key := indexReservation{trustor: rel.TrustorID, index: rel.ShareIndex}
	if _, taken := s.reservedIndexes[key]; taken {
		return fmt.Errorf("%w: index %d", interfaces.ErrShareIndexTaken, rel.ShareIndex)
	}

	s.reservedIndexes[key] = rel.ID
	s.relationships[rel.ID] = rel.Clone()
	return nil
}

func (s *MemoryStore) Relationship(ctx context.Context, id interfaces.RelationshipID) (*interfaces.TrustRelationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, ok := s.relationships[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return rel.Clone(), nil
}

func (s *MemoryStore) TransitionApproval(ctx context.Context, id interfaces.RelationshipID, to interfaces.ApprovalState) (*interfaces.TrustRelationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, ok := s.relationships[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}

	changed, err := rel.ApprovalState.Transition(to)
	if err != nil {
		return nil, err
	}
	if changed {
		rel.ApprovalState = to
		rel.UpdatedAt = s.now().UTC()
		if to == interfaces.ApprovalRejected {
			rel.ShareCiphertext = nil
		}
	}
	return rel.Clone(), nil
}

func (s *MemoryStore) DeleteRelationship(ctx context.Context, id interfaces.RelationshipID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.relationships[id]; !ok {
		return interfaces.ErrNotFound
	}
	delete(s.relationships, id)
	return nil
}

func (s *MemoryStore) RelationshipsByTrustor(ctx context.Context, trustor interfaces.AccountID) ([]*interfaces.TrustRelationship, error) {
	return s.filterRelationships(func(rel *interfaces.TrustRelationship) bool {
		return rel.TrustorID == trustor
	}), nil
}

func (s *MemoryStore) RelationshipsByTrustee(ctx context.Context, email string) ([]*interfaces.TrustRelationship, error) {
	return s.filterRelationships(func(rel *interfaces.TrustRelationship) bool {
		return rel.TrusteeEmail == email
	}), nil
}

func (s *MemoryStore) filterRelationships(keep func(*interfaces.TrustRelationship) bool) []*interfaces.TrustRelationship {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*interfaces.TrustRelationship{}
	for _, rel := range s.relationships {
		if keep(rel) {
			out = append(out, rel.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *interfaces.TrustRelationship) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (s *MemoryStore) CreateRecovery(ctx context.Context, req *interfaces.RecoveryRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[req.AccountID]; !ok {
		return interfaces.ErrNotFound
	}
	for _, existing := range s.recoveries {
		if existing.AccountID == req.AccountID && existing.State.Active() {
			return interfaces.ErrRecoveryInProgress
		}
	}
	if _, ok := s.recoveries[req.ID]; ok {
		return interfaces.ErrRecoveryInProgress
	}

	s.recoveries[req.ID] = req.Clone()
	return nil
}

func (s *MemoryStore) Recovery(ctx context.Context, id interfaces.RecoveryRequestID) (*interfaces.RecoveryRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.recoveries[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return req.Clone(), nil
}

func (s *MemoryStore) ActiveRecovery(ctx context.Context, account interfaces.AccountID) (*interfaces.RecoveryRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, req := range s.recoveries {
		if req.AccountID == account && req.State.Active() {
			return req.Clone(), nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (s *MemoryStore) PublishRecovery(ctx context.Context, id interfaces.RecoveryRequestID, signature []byte) (*interfaces.RecoveryRequest, error) {
	return s.mutateRecovery(id, func(req *interfaces.RecoveryRequest, now time.Time) error {
		if err := recoverystate.Authorize(req, interfaces.RecoveryActionPublish, signature); err != nil {
			return err
		}
		return recoverystate.Publish(req, now)
	})
}

func (s *MemoryStore) AppendShare(ctx context.Context, id interfaces.RecoveryRequestID, share interfaces.CollectedShare) (*interfaces.RecoveryRequest, error) {
	return s.mutateRecovery(id, func(req *interfaces.RecoveryRequest, now time.Time) error {
		share.Ciphertext = slices.Clone(share.Ciphertext)
		share.SubmittedAt = now
		_, err := recoverystate.Submit(req, share)
		return err
	})
}

func (s *MemoryStore) AbandonRecovery(ctx context.Context, id interfaces.RecoveryRequestID, signature []byte) (*interfaces.RecoveryRequest, error) {
	return s.mutateRecovery(id, func(req *interfaces.RecoveryRequest, now time.Time) error {
		if err := recoverystate.Authorize(req, interfaces.RecoveryActionAbandon, signature); err != nil {
			return err
		}
		return recoverystate.Abandon(req, now)
	})
}

func (s *MemoryStore) CancelRecovery(ctx context.Context, id interfaces.RecoveryRequestID, owner interfaces.AccountID) (*interfaces.RecoveryRequest, error) {
	return s.mutateRecovery(id, func(req *interfaces.RecoveryRequest, now time.Time) error {
		return recoverystate.Cancel(req, owner, now)
	})
}

func (s *MemoryStore) ExpireRecovery(ctx context.Context, id interfaces.RecoveryRequestID, idleSince time.Time) (*interfaces.RecoveryRequest, error) {
	return s.mutateRecovery(id, func(req *interfaces.RecoveryRequest, now time.Time) error {
		return recoverystate.Expire(req, idleSince, now)
	})
}

func (s *MemoryStore) CompleteRecovery(ctx context.Context, id interfaces.RecoveryRequestID, update interfaces.CredentialUpdate) (*interfaces.RecoveryRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.recoveries[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	account, ok := s.accounts[stored.AccountID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}

	if err := recoverystate.CanComplete(stored); err != nil {
		return nil, err
	}
	if !proofMatches(account.SecretVerifier, update.SecretProof) {
		return nil, interfaces.ErrUnauthorized
	}

	now := s.now().UTC()
	req := stored.Clone()
	if err := recoverystate.Complete(req, update.CredentialHash, now); err != nil {
		return nil, err
	}

	updated := account.Clone()
	updated.VaultID = update.VaultID
	updated.PasswordSalt = slices.Clone(update.PasswordSalt)
	updated.PasswordVerifier = slices.Clone(update.PasswordVerifier)
	updated.UpdatedAt = now

	s.recoveries[id] = req
	s.accounts[account.ID] = updated
	return req.Clone(), nil
}

func (s *MemoryStore) StaleRecoveries(ctx context.Context, before time.Time) ([]*interfaces.RecoveryRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*interfaces.RecoveryRequest{}
	for _, req := range s.recoveries {
		if req.State.Active() && req.UpdatedAt.Before(before) {
			out = append(out, req.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *interfaces.RecoveryRequest) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	})
	return out, nil
}

// mutateRecovery applies fn to a copy of the request and stores it only when
// fn succeeds, so a failed transition leaves the record untouched.
func (s *MemoryStore) mutateRecovery(id interfaces.RecoveryRequestID, fn func(*interfaces.RecoveryRequest, time.Time) error) (*interfaces.RecoveryRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.recoveries[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}

	req := stored.Clone()
	if err := fn(req, s.now().UTC()); err != nil {
		return nil, err
	}

	s.recoveries[id] = req
	return req.Clone(), nil
}

func proofMatches(verifier, proof []byte) bool {
	return len(verifier) > 0 && subtle.ConstantTimeCompare(verifier, proof) == 1
}
