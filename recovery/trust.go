package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ruteri/social-recovery-backend/cryptoutils"
	"github.com/ruteri/social-recovery-backend/interfaces"
	"github.com/ruteri/social-recovery-backend/sharing"
	"github.com/ruteri/social-recovery-backend/validation"
)

// Decision is a trustee's answer to a trust request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// AddTrustedParty derives a fresh share of the caller's secret, encrypts it
// to the trustee and records a pending relationship.
func (o *Orchestrator) AddTrustedParty(ctx context.Context, sess *SessionContext, trusteeEmail string) Result[*interfaces.TrustRelationship] {
	rel, err := o.addTrustedParty(ctx, sess, trusteeEmail)
	return finish(o, flowAddTrusted, rel, err, "Trust request sent.")
}

func (o *Orchestrator) addTrustedParty(ctx context.Context, sess *SessionContext, trusteeEmail string) (*interfaces.TrustRelationship, error) {
	if !sess.valid() {
		return nil, interfaces.ErrUnauthorized
	}

	trusteeEmail = validation.NormalizeEmail(trusteeEmail)
	if err := validation.ValidateEmail(trusteeEmail); err != nil {
		return nil, err
	}
	if trusteeEmail == sess.Email {
		return nil, interfaces.ErrSelfTrust
	}
	if err := o.domains.CheckDomain(ctx, validation.EmailDomain(trusteeEmail)); err != nil {
		return nil, err
	}

	trustor, err := o.directory.Account(ctx, sess.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load own account: %w", err)
	}
	trustee, err := o.registry.ResolveTrustee(ctx, trusteeEmail)
	if err != nil {
		return nil, err
	}
	if trustee.ID == trustor.ID {
		return nil, interfaces.ErrSelfTrust
	}

	reserved, err := o.registry.ReservedIndexes(ctx, trustor.ID)
	if err != nil {
		return nil, err
	}

	// The listing misses revoked indexes and concurrent additions, both of
	// which the store rejects. Retry with the conflicting index excluded.
	for attempt := 1; ; attempt++ {
		rel, index, err := o.offerShare(ctx, sess, trustor, trustee, trusteeEmail, reserved)
		if !errors.Is(err, interfaces.ErrShareIndexTaken) || attempt == maxIndexAttempts {
			return rel, err
		}

		o.log.Debug("Share index taken, deriving another", "trustorID", trustor.ID, "index", index, "attempt", attempt)
		reserved = append(reserved, index)
	}
}

// maxIndexAttempts bounds how often addTrustedParty re-derives a share
// after losing its index to another relationship.
const maxIndexAttempts = 8

// offerShare derives a share at an index outside reserved, encrypts it to the
// trustee and records the relationship. It returns the index it tried.
func (o *Orchestrator) offerShare(ctx context.Context, sess *SessionContext, trustor, trustee *interfaces.Account, trusteeEmail string, reserved []uint8) (*interfaces.TrustRelationship, uint8, error) {
	share, err := sharing.DeriveAdditionalShare(sess.Shares.Shares, sess.Shares.Threshold, reserved...)
	if err != nil {
		return nil, 0, err
	}
	defer share.Wipe()

	payload, err := json.Marshal(share)
	if err != nil {
		return nil, share.Index, fmt.Errorf("failed to encode share: %w", err)
	}
	defer cryptoutils.WipeBytes(payload)

	ciphertext, err := cryptoutils.EncryptFor(payload, trustee.PublicKey, trustShareLabel(trustor.ID))
	if err != nil {
		return nil, share.Index, err
	}

	rel, err := o.registry.AddTrustedParty(ctx, trustor, trusteeEmail, share.Index, ciphertext)
	return rel, share.Index, err
}

// RespondToTrustRequest records the trustee's decision. Before approving, the
// trustee checks that the share it is asked to hold decrypts with its key.
func (o *Orchestrator) RespondToTrustRequest(ctx context.Context, sess *SessionContext, id interfaces.RelationshipID, decision Decision) Result[*interfaces.TrustRelationship] {
	rel, err := o.respondToTrustRequest(ctx, sess, id, decision)

	msg := "Trust request approved."
	if decision == DecisionReject {
		msg = "Trust request rejected."
	}
	return finish(o, flowRespond, rel, err, msg)
}

func (o *Orchestrator) respondToTrustRequest(ctx context.Context, sess *SessionContext, id interfaces.RelationshipID, decision Decision) (*interfaces.TrustRelationship, error) {
	if !sess.valid() {
		return nil, interfaces.ErrUnauthorized
	}

	rel, err := o.registry.Relationship(ctx, id)
	if err != nil {
		return nil, err
	}
	if rel.TrusteeEmail != sess.Email {
		return nil, fmt.Errorf("%w: not the trustee of %s", interfaces.ErrUnauthorized, id)
	}

	switch decision {
	case DecisionApprove:
		if rel.ApprovalState == interfaces.ApprovalPending {
			plaintext, err := o.openTrustShare(rel, sess.PrivateKey)
			if err != nil {
				return nil, err
			}
			cryptoutils.WipeBytes(plaintext)
		}
		return o.registry.Approve(ctx, id)
	case DecisionReject:
		return o.registry.Reject(ctx, id)
	default:
		return nil, fmt.Errorf("%w: unknown decision %q", validation.ErrInvalidInput, decision)
	}
}

// openTrustShare decrypts the share a relationship carries and checks it is
// the one the relationship claims. The caller wipes the returned payload.
func (o *Orchestrator) openTrustShare(rel *interfaces.TrustRelationship, own interfaces.Privkey) ([]byte, error) {
	plaintext, err := cryptoutils.DecryptWith(rel.ShareCiphertext, own, trustShareLabel(rel.TrustorID))
	if err != nil {
		return nil, err
	}

	var share interfaces.Share
	if err := json.Unmarshal(plaintext, &share); err != nil {
		cryptoutils.WipeBytes(plaintext)
		return nil, fmt.Errorf("%w: malformed share", cryptoutils.ErrDecryptionFailed)
	}
	defer share.Wipe()

	if share.Index != rel.ShareIndex || len(share.Value) == 0 {
		cryptoutils.WipeBytes(plaintext)
		return nil, fmt.Errorf("%w: share does not match relationship", cryptoutils.ErrDecryptionFailed)
	}
	return plaintext, nil
}

// RevokeTrustedParty deletes one of the caller's relationships.
func (o *Orchestrator) RevokeTrustedParty(ctx context.Context, sess *SessionContext, id interfaces.RelationshipID) Result[interfaces.RelationshipID] {
	err := o.revokeTrustedParty(ctx, sess, id)
	return finish(o, flowRevoke, id, err, "Trusted party removed.")
}

func (o *Orchestrator) revokeTrustedParty(ctx context.Context, sess *SessionContext, id interfaces.RelationshipID) error {
	if !sess.valid() {
		return interfaces.ErrUnauthorized
	}

	rel, err := o.registry.Relationship(ctx, id)
	if err != nil {
		return err
	}
	if rel.TrustorID != sess.AccountID {
		return fmt.Errorf("%w: not the trustor of %s", interfaces.ErrUnauthorized, id)
	}
	return o.registry.Revoke(ctx, id)
}

// ListTrustedByMe lists the caller's relationships, oldest first.
func (o *Orchestrator) ListTrustedByMe(ctx context.Context, sess *SessionContext) Result[[]*interfaces.TrustRelationship] {
	if !sess.valid() {
		return finish[[]*interfaces.TrustRelationship](o, flowListTrusted, nil, interfaces.ErrUnauthorized, "")
	}
	rels, err := o.registry.ListTrustedByMe(ctx, sess.AccountID)
	return finish(o, flowListTrusted, rels, err, "")
}

// ListTrustingMe lists the relationships in which the caller is the trustee.
func (o *Orchestrator) ListTrustingMe(ctx context.Context, sess *SessionContext) Result[[]*interfaces.TrustRelationship] {
	if !sess.valid() {
		return finish[[]*interfaces.TrustRelationship](o, flowListTrusting, nil, interfaces.ErrUnauthorized, "")
	}
	rels, err := o.registry.ListTrustingMe(ctx, sess.Email)
	return finish(o, flowListTrusting, rels, err, "")
}
