package registry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/social-recovery-backend/interfaces"
)

// Registry manages trust relationships on top of a TrustStore and resolves
// trustee emails through an AccountDirectory.
type Registry struct {
	trust     interfaces.TrustStore
	directory interfaces.AccountDirectory
	log       *slog.Logger
	now       func() time.Time
}

// NewRegistry creates a registry over the given stores.
func NewRegistry(trust interfaces.TrustStore, directory interfaces.AccountDirectory, log *slog.Logger) *Registry {
	return &Registry{
		trust:     trust,
		directory: directory,
		log:       log,
		now:       time.Now,
	}
}

// WithClock replaces the time source used for relationship timestamps.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// ResolveTrustee looks up the account registered under email.
// Returns ErrRecipientNotFound when there is none or it has no usable key.
func (r *Registry) ResolveTrustee(ctx context.Context, email string) (*interfaces.Account, error) {
	account, err := r.directory.AccountByEmail(ctx, email)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrRecipientNotFound, email)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve trustee: %w", err)
	}

	if err := account.PublicKey.Validate(); err != nil {
		r.log.Warn("Trustee account has an unusable public key", "accountID", account.ID, "err", err)
		return nil, fmt.Errorf("%w: %s", interfaces.ErrRecipientNotFound, email)
	}
	return account, nil
}

// ReservedIndexes lists the share indexes of the trustor's current
// relationships, rejected ones included. Indexes of revoked relationships
// are not listed; the store still refuses to assign them again.
func (r *Registry) ReservedIndexes(ctx context.Context, trustor interfaces.AccountID) ([]uint8, error) {
	rels, err := r.trust.RelationshipsByTrustor(ctx, trustor)
	if err != nil {
		return nil, fmt.Errorf("failed to list relationships: %w", err)
	}

	indexes := make([]uint8, 0, len(rels))
	for _, rel := range rels {
		indexes = append(indexes, rel.ShareIndex)
	}
	return indexes, nil
}

// AddTrustedParty records a pending relationship carrying a share already
// encrypted to the trustee.
func (r *Registry) AddTrustedParty(ctx context.Context, trustor *interfaces.Account, trusteeEmail string, shareIndex uint8, ciphertext []byte) (*interfaces.TrustRelationship, error) {
	if trusteeEmail == trustor.Email {
		return nil, interfaces.ErrSelfTrust
	}
	if shareIndex == 0 || len(ciphertext) == 0 {
		return nil, errors.New("relationship requires a share index and ciphertext")
	}

	now := r.now().UTC()
	rel := &interfaces.TrustRelationship{
		ID:              interfaces.RelationshipID(uuid.NewString()),
		TrustorID:       trustor.ID,
		TrustorEmail:    trustor.Email,
		TrusteeEmail:    trusteeEmail,
		ShareIndex:      shareIndex,
		ApprovalState:   interfaces.ApprovalPending,
		ShareCiphertext: ciphertext,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := r.trust.CreateRelationship(ctx, rel); err != nil {
		return nil, err
	}

	r.log.Info("Trusted party added",
		"relationshipID", rel.ID,
		"trustorID", rel.TrustorID,
		"shareIndex", rel.ShareIndex)
	return rel, nil
}

// Approve accepts a pending relationship. Approving twice is a no-op;
// approving a rejected relationship fails with ErrInvalidTransition.
func (r *Registry) Approve(ctx context.Context, id interfaces.RelationshipID) (*interfaces.TrustRelationship, error) {
	return r.transition(ctx, id, interfaces.ApprovalAccepted)
}

// Reject declines a pending relationship. The share ciphertext is dropped and
// the relationship no longer counts as an eligible holder.
func (r *Registry) Reject(ctx context.Context, id interfaces.RelationshipID) (*interfaces.TrustRelationship, error) {
	return r.transition(ctx, id, interfaces.ApprovalRejected)
}

func (r *Registry) transition(ctx context.Context, id interfaces.RelationshipID, to interfaces.ApprovalState) (*interfaces.TrustRelationship, error) {
	rel, err := r.trust.TransitionApproval(ctx, id, to)
	if err != nil {
		return nil, err
	}

	r.log.Info("Trust relationship updated", "relationshipID", id, "state", rel.ApprovalState)
	return rel, nil
}

// Revoke deletes a relationship on behalf of the trustor.
func (r *Registry) Revoke(ctx context.Context, id interfaces.RelationshipID) error {
	if err := r.trust.DeleteRelationship(ctx, id); err != nil {
		return err
	}

	r.log.Info("Trust relationship revoked", "relationshipID", id)
	return nil
}

// Relationship fetches a single relationship.
func (r *Registry) Relationship(ctx context.Context, id interfaces.RelationshipID) (*interfaces.TrustRelationship, error) {
	return r.trust.Relationship(ctx, id)
}

// ListTrustedByMe returns the relationships the account created.
func (r *Registry) ListTrustedByMe(ctx context.Context, account interfaces.AccountID) ([]*interfaces.TrustRelationship, error) {
	rels, err := r.trust.RelationshipsByTrustor(ctx, account)
	if err != nil {
		return nil, err
	}
	sortRelationships(rels)
	return rels, nil
}

// ListTrustingMe returns the relationships addressed to email.
func (r *Registry) ListTrustingMe(ctx context.Context, email string) ([]*interfaces.TrustRelationship, error) {
	rels, err := r.trust.RelationshipsByTrustee(ctx, email)
	if err != nil {
		return nil, err
	}
	sortRelationships(rels)
	return rels, nil
}

// EligibleHolders returns the accepted relationships of an account: the
// parties that can contribute to its recovery.
func (r *Registry) EligibleHolders(ctx context.Context, account interfaces.AccountID) ([]*interfaces.TrustRelationship, error) {
	rels, err := r.ListTrustedByMe(ctx, account)
	if err != nil {
		return nil, err
	}

	return slices.DeleteFunc(rels, func(rel *interfaces.TrustRelationship) bool {
		return rel.ApprovalState != interfaces.ApprovalAccepted
	}), nil
}

func sortRelationships(rels []*interfaces.TrustRelationship) {
	slices.SortStableFunc(rels, func(a, b *interfaces.TrustRelationship) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
