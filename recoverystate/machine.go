// Package recoverystate implements the recovery session state machine.
//
//	initiated -> awaiting_shares -> reconstructable -> completed
//	    \               |                  |
//	     `--------------+------------------+--> abandoned
//
// The functions mutate a RecoveryRequest in place and are meant to be called
// by record stores inside their per-request transaction, so every store
// enforces identical rules.
package recoverystate

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ruteri/social-recovery-backend/cryptoutils"
	"github.com/ruteri/social-recovery-backend/interfaces"
)

// New builds a request in the initiated state.
func New(id interfaces.RecoveryRequestID, account *interfaces.Account, recovererID string, sessionPub interfaces.Pubkey, sealedSessionKey []byte, now time.Time) *interfaces.RecoveryRequest {
	return &interfaces.RecoveryRequest{
		ID:               id,
		AccountID:        account.ID,
		RecovererID:      recovererID,
		Threshold:        account.Threshold,
		State:            interfaces.RecoveryInitiated,
		SessionPublicKey: bytes.Clone(sessionPub),
		SealedSessionKey: bytes.Clone(sealedSessionKey),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Publish makes an initiated request discoverable by trustees.
// Publishing an already published request is a no-op.
func Publish(req *interfaces.RecoveryRequest, now time.Time) error {
	switch req.State {
	case interfaces.RecoveryInitiated:
		req.State = interfaces.RecoveryAwaitingShares
		req.UpdatedAt = now
		return nil
	case interfaces.RecoveryAwaitingShares, interfaces.RecoveryReconstructable:
		return nil
	default:
		return fmt.Errorf("%w: request is %s", interfaces.ErrSessionClosed, req.State)
	}
}

// CanSubmit reports whether the request currently accepts shares.
func CanSubmit(req *interfaces.RecoveryRequest) error {
	switch req.State {
	case interfaces.RecoveryAwaitingShares, interfaces.RecoveryReconstructable:
		return nil
	case interfaces.RecoveryInitiated:
		return fmt.Errorf("%w: request is not published yet", interfaces.ErrInvalidState)
	default:
		return fmt.Errorf("%w: request is %s", interfaces.ErrSessionClosed, req.State)
	}
}

// Submit appends a share in arrival order. It reports whether the share was
// added; a second submission for the same relationship is ignored.
//
// The request becomes reconstructable as soon as it holds Threshold shares
// and never leaves that state except to complete or be abandoned. Shares
// beyond the threshold are retained.
func Submit(req *interfaces.RecoveryRequest, share interfaces.CollectedShare) (bool, error) {
	if err := CanSubmit(req); err != nil {
		return false, err
	}
	if len(share.Ciphertext) == 0 {
		return false, fmt.Errorf("%w: empty share", interfaces.ErrInvalidState)
	}
	if req.HasShareFrom(share.RelationshipID) {
		return false, nil
	}

	req.CollectedShares = append(req.CollectedShares, share)
	req.UpdatedAt = share.SubmittedAt
	if req.State == interfaces.RecoveryAwaitingShares && len(req.CollectedShares) >= req.Threshold {
		req.State = interfaces.RecoveryReconstructable
	}
	return true, nil
}

// Abandon cancels the request. Abandoning twice is a no-op.
func Abandon(req *interfaces.RecoveryRequest, now time.Time) error {
	switch req.State {
	case interfaces.RecoveryAbandoned:
		return nil
	case interfaces.RecoveryCompleted:
		return fmt.Errorf("%w: request is completed", interfaces.ErrSessionClosed)
	default:
		req.State = interfaces.RecoveryAbandoned
		req.UpdatedAt = now
		return nil
	}
}

// Authorize checks that signature was made over action on this request with
// the private half of its session key.
func Authorize(req *interfaces.RecoveryRequest, action interfaces.RecoveryAction, signature []byte) error {
	if err := cryptoutils.VerifyAction(req.SessionPublicKey, string(action), string(req.ID), signature); err != nil {
		return fmt.Errorf("%w: %s requires the session key: %v", interfaces.ErrUnauthorized, action, err)
	}
	return nil
}

// Cancel abandons the request on behalf of the owner of the account it
// targets.
func Cancel(req *interfaces.RecoveryRequest, owner interfaces.AccountID, now time.Time) error {
	if req.AccountID != owner {
		return fmt.Errorf("%w: request targets another account", interfaces.ErrUnauthorized)
	}
	return Abandon(req, now)
}

// Expire abandons an active request that has been idle since before
// idleSince.
func Expire(req *interfaces.RecoveryRequest, idleSince, now time.Time) error {
	if req.State.Terminal() {
		return fmt.Errorf("%w: request is %s", interfaces.ErrSessionClosed, req.State)
	}
	if !req.UpdatedAt.Before(idleSince) {
		return fmt.Errorf("%w: request was active at %s", interfaces.ErrInvalidState, req.UpdatedAt.Format(time.RFC3339))
	}
	return Abandon(req, now)
}

// CanComplete reports whether the request may be finalized.
func CanComplete(req *interfaces.RecoveryRequest) error {
	if req.State != interfaces.RecoveryReconstructable {
		return fmt.Errorf("%w: request is %s", interfaces.ErrInvalidState, req.State)
	}
	return nil
}

// Complete finalizes a reconstructable request.
func Complete(req *interfaces.RecoveryRequest, credentialHash []byte, now time.Time) error {
	if err := CanComplete(req); err != nil {
		return err
	}

	req.State = interfaces.RecoveryCompleted
	req.NewCredentialHash = bytes.Clone(credentialHash)
	req.UpdatedAt = now
	return nil
}

// QuorumShares returns the first Threshold shares by arrival order, the set
// reconstruction starts from. Later shares only stand in for quorum shares
// that repeat a share index.
func QuorumShares(req *interfaces.RecoveryRequest) []interfaces.CollectedShare {
	if len(req.CollectedShares) < req.Threshold {
		return nil
	}
	return req.CollectedShares[:req.Threshold]
}
