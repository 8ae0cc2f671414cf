package recovery

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/social-recovery-backend/cryptoutils"
	"github.com/ruteri/social-recovery-backend/interfaces"
	"github.com/ruteri/social-recovery-backend/localvault"
	"github.com/ruteri/social-recovery-backend/recoverystate"
	"github.com/ruteri/social-recovery-backend/sharing"
	"github.com/ruteri/social-recovery-backend/validation"
)

// InitiateOptions tunes InitiateRecovery.
type InitiateOptions struct {
	// Supersede abandons an active request the caller cannot resume and
	// starts a new one. Only requests idle for Config.SupersedeAfter can be
	// replaced this way.
	Supersede bool
	// RecovererID names the device running the recovery. A random ID is
	// used when empty.
	RecovererID string
}

// Status summarizes a recovery request's progress.
type Status struct {
	RequestID interfaces.RecoveryRequestID `json:"request_id"`
	AccountID interfaces.AccountID         `json:"account_id"`
	State     interfaces.RecoveryState     `json:"state"`
	Submitted int                          `json:"submitted"`
	Threshold int                          `json:"threshold"`
	UpdatedAt time.Time                    `json:"updated_at"`
}

// Summary renders the progress line shown to the recoverer.
func (s *Status) Summary() string {
	return fmt.Sprintf("%d shares submitted (%d required)", s.Submitted, s.Threshold)
}

func statusOf(req *interfaces.RecoveryRequest) *Status {
	return &Status{
		RequestID: req.ID,
		AccountID: req.AccountID,
		State:     req.State,
		Submitted: len(req.CollectedShares),
		Threshold: req.Threshold,
		UpdatedAt: req.UpdatedAt,
	}
}

// PendingRecovery is a recovery a trustee can contribute to.
type PendingRecovery struct {
	RequestID      interfaces.RecoveryRequestID `json:"request_id"`
	AccountID      interfaces.AccountID         `json:"account_id"`
	TrustorEmail   string                       `json:"trustor_email"`
	RelationshipID interfaces.RelationshipID    `json:"relationship_id"`
	State          interfaces.RecoveryState     `json:"state"`
	Submitted      int                          `json:"submitted"`
	Threshold      int                          `json:"threshold"`
	AlreadySent    bool                         `json:"already_sent"`
	CreatedAt      time.Time                    `json:"created_at"`
}

// InitiateRecovery opens a recovery request for the account registered under
// email. The session private key is generated here and leaves the process
// only sealed under newPassword, which FinalizeRecovery must be given again.
//
// When the account already has an active request, it is resumed if
// newPassword opens its session key. Otherwise the call fails with
// ErrRecoveryInProgress unless opts.Supersede is set and the active request
// has been idle long enough to be replaced.
func (o *Orchestrator) InitiateRecovery(ctx context.Context, email, newPassword, confirm string, opts InitiateOptions) Result[*interfaces.RecoveryRequest] {
	req, resumed, err := o.initiateRecovery(ctx, email, newPassword, confirm, opts)

	msg := "Recovery request created."
	if resumed {
		msg = "Recovery request resumed."
	}
	return finish(o, flowInitiate, req, err, msg)
}

func (o *Orchestrator) initiateRecovery(ctx context.Context, email, newPassword, confirm string, opts InitiateOptions) (*interfaces.RecoveryRequest, bool, error) {
	email = validation.NormalizeEmail(email)
	if err := validation.ValidateEmail(email); err != nil {
		return nil, false, err
	}
	if err := validation.ValidateNewPassword(newPassword, confirm); err != nil {
		return nil, false, err
	}

	account, err := o.directory.AccountByEmail(ctx, email)
	if err != nil {
		return nil, false, err
	}

	active, err := o.recoveries.ActiveRecovery(ctx, account.ID)
	switch {
	case err == nil:
		if sessionKey, openErr := localvault.Open(active.SealedSessionKey, newPassword, sessionKeyAAD(active.ID)); openErr == nil {
			req, err := o.publish(ctx, active.ID, interfaces.Privkey(sessionKey))
			cryptoutils.WipeBytes(sessionKey)
			if err != nil {
				return nil, false, err
			}
			o.log.Info("Recovery resumed", "requestID", req.ID, "accountID", account.ID)
			return req, true, nil
		}
		if !opts.Supersede {
			return nil, false, interfaces.ErrRecoveryInProgress
		}
		idleSince := o.now().UTC().Add(-o.cfg.SupersedeAfter)
		_, err := o.recoveries.ExpireRecovery(ctx, active.ID, idleSince)
		if errors.Is(err, interfaces.ErrInvalidState) {
			return nil, false, fmt.Errorf("%w: the active request can be replaced once it has been idle for %s", interfaces.ErrRecoveryInProgress, o.cfg.SupersedeAfter)
		}
		if err != nil && !errors.Is(err, interfaces.ErrSessionClosed) {
			return nil, false, fmt.Errorf("failed to supersede recovery: %w", err)
		}
		if err == nil {
			o.metrics.RecoveryAbandoned("superseded")
			o.log.Info("Recovery superseded", "requestID", active.ID, "accountID", account.ID)
		}
	case errors.Is(err, interfaces.ErrNotFound):
	default:
		return nil, false, err
	}

	sessionPub, sessionPriv, err := cryptoutils.RandomKeypair()
	if err != nil {
		return nil, false, err
	}
	defer sessionPriv.Wipe()

	id := interfaces.RecoveryRequestID(uuid.NewString())
	sealed, err := localvault.Seal(sessionPriv, newPassword, sessionKeyAAD(id))
	if err != nil {
		return nil, false, err
	}

	recovererID := opts.RecovererID
	if recovererID == "" {
		recovererID = uuid.NewString()
	}

	req := recoverystate.New(id, account, recovererID, sessionPub, sealed, o.now().UTC())
	if err := o.recoveries.CreateRecovery(ctx, req); err != nil {
		return nil, false, err
	}
	published, err := o.publish(ctx, id, sessionPriv)
	if err != nil {
		return nil, false, err
	}

	o.log.Info("Recovery initiated", "requestID", id, "accountID", account.ID, "threshold", req.Threshold)
	return published, false, nil
}

// publish makes the request visible to trustees, signed with its session key.
func (o *Orchestrator) publish(ctx context.Context, id interfaces.RecoveryRequestID, sessionKey interfaces.Privkey) (*interfaces.RecoveryRequest, error) {
	sig, err := cryptoutils.SignAction(sessionKey, string(interfaces.RecoveryActionPublish), string(id))
	if err != nil {
		return nil, err
	}
	return o.recoveries.PublishRecovery(ctx, id, sig)
}

// SubmitShareForRecovery is run by a trustee: it decrypts the share the
// trustee holds for the request's account and re-encrypts it to the
// request's session key.
func (o *Orchestrator) SubmitShareForRecovery(ctx context.Context, sess *SessionContext, requestID interfaces.RecoveryRequestID, relationshipID interfaces.RelationshipID) Result[*Status] {
	status, err := o.submitShare(ctx, sess, requestID, relationshipID)
	return finish(o, flowSubmit, status, err, "Share submitted.")
}

func (o *Orchestrator) submitShare(ctx context.Context, sess *SessionContext, requestID interfaces.RecoveryRequestID, relationshipID interfaces.RelationshipID) (*Status, error) {
	if !sess.valid() {
		return nil, interfaces.ErrUnauthorized
	}

	rel, err := o.registry.Relationship(ctx, relationshipID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, interfaces.ErrNotAuthorizedShareHolder
	}
	if err != nil {
		return nil, err
	}
	if rel.TrusteeEmail != sess.Email || rel.ApprovalState != interfaces.ApprovalAccepted {
		return nil, interfaces.ErrNotAuthorizedShareHolder
	}

	req, err := o.recoveries.Recovery(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if rel.TrustorID != req.AccountID {
		return nil, interfaces.ErrNotAuthorizedShareHolder
	}
	if err := recoverystate.CanSubmit(req); err != nil {
		return nil, err
	}
	if req.HasShareFrom(rel.ID) {
		return statusOf(req), nil
	}

	plaintext, err := o.openTrustShare(rel, sess.PrivateKey)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.WipeBytes(plaintext)

	ciphertext, err := cryptoutils.EncryptFor(plaintext, req.SessionPublicKey, recoveryShareLabel(req.ID))
	if err != nil {
		return nil, err
	}

	updated, err := o.recoveries.AppendShare(ctx, req.ID, interfaces.CollectedShare{
		HolderID:       sess.AccountID,
		RelationshipID: rel.ID,
		Ciphertext:     ciphertext,
	})
	if err != nil {
		return nil, err
	}

	o.metrics.ShareSubmitted()
	o.log.Info("Share submitted",
		"requestID", req.ID,
		"relationshipID", rel.ID,
		"submitted", len(updated.CollectedShares),
		"threshold", updated.Threshold)
	return statusOf(updated), nil
}

// FinalizeRecovery reconstructs the account secret from the first Threshold
// collected shares, proves it against the account's sealed key and installs
// credentials for newPassword. Only one caller per request can succeed.
func (o *Orchestrator) FinalizeRecovery(ctx context.Context, requestID interfaces.RecoveryRequestID, newPassword string) Result[*interfaces.Account] {
	account, err := o.finalizeRecovery(ctx, requestID, newPassword)
	return finish(o, flowFinalize, account, err, "New credentials applied.")
}

func (o *Orchestrator) finalizeRecovery(ctx context.Context, requestID interfaces.RecoveryRequestID, newPassword string) (*interfaces.Account, error) {
	unlock := o.finalizeLocks.Lock(string(requestID))
	defer unlock()

	req, err := o.recoveries.Recovery(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.State.Terminal() {
		return nil, fmt.Errorf("%w: request is %s", interfaces.ErrSessionClosed, req.State)
	}
	if err := recoverystate.CanComplete(req); err != nil {
		return nil, err
	}

	sessionKey, err := localvault.Open(req.SealedSessionKey, newPassword, sessionKeyAAD(req.ID))
	if err != nil {
		return nil, err
	}
	defer cryptoutils.WipeBytes(sessionKey)

	shares, err := o.openQuorum(req, sessionKey)
	defer func() {
		for i := range shares {
			shares[i].Wipe()
		}
	}()
	if err != nil {
		return nil, err
	}

	secret, err := sharing.Reconstruct(shares, req.Threshold)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.WipeBytes(secret)

	account, err := o.directory.Account(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	privateKey, err := o.unsealAccountKey(ctx, account, secret)
	if err != nil {
		return nil, err
	}
	defer privateKey.Wipe()

	set := &interfaces.ShareSet{
		AccountID:  account.ID,
		Threshold:  req.Threshold,
		Shares:     shares,
		PrivateKey: privateKey,
	}
	vaultBlob, err := localvault.Lock(set, newPassword)
	if err != nil {
		return nil, err
	}
	vaultID, err := o.blobs.Store(ctx, vaultBlob, interfaces.VaultType)
	if err != nil {
		return nil, fmt.Errorf("failed to store vault: %w", err)
	}

	salt, err := cryptoutils.NewSalt()
	if err != nil {
		return nil, err
	}
	verifier := cryptoutils.PasswordVerifier(newPassword, salt)
	proof, err := cryptoutils.SecretVerifier(secret)
	if err != nil {
		return nil, err
	}

	credentialHash := sha256.Sum256(append(vaultID.Bytes(), verifier...))
	if _, err := o.recoveries.CompleteRecovery(ctx, req.ID, interfaces.CredentialUpdate{
		VaultID:          vaultID,
		PasswordSalt:     salt,
		PasswordVerifier: verifier,
		SecretProof:      proof,
		CredentialHash:   credentialHash[:],
	}); err != nil {
		return nil, err
	}

	o.metrics.RecoveryCompleted()
	o.log.Info("Recovery completed", "requestID", req.ID, "accountID", account.ID)

	updated, err := o.directory.Account(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	return updated.Public(), nil
}

// openQuorum decrypts collected shares in arrival order until it holds
// Threshold distinct share indexes. A share repeating an index already held
// is skipped, so the quorum is the first Threshold shares unless one of them
// duplicates another.
func (o *Orchestrator) openQuorum(req *interfaces.RecoveryRequest, sessionKey []byte) ([]interfaces.Share, error) {
	if recoverystate.QuorumShares(req) == nil {
		return nil, fmt.Errorf("%w: have %d, need %d", sharing.ErrInsufficientShares, len(req.CollectedShares), req.Threshold)
	}

	shares := make([]interfaces.Share, 0, req.Threshold)
	seen := make(map[uint8]bool, req.Threshold)
	for _, collected := range req.CollectedShares {
		if len(shares) == req.Threshold {
			break
		}

		plaintext, err := cryptoutils.DecryptWith(collected.Ciphertext, interfaces.Privkey(sessionKey), recoveryShareLabel(req.ID))
		if err != nil {
			return shares, err
		}

		var share interfaces.Share
		err = json.Unmarshal(plaintext, &share)
		cryptoutils.WipeBytes(plaintext)
		if err != nil {
			return shares, fmt.Errorf("%w: malformed share", cryptoutils.ErrDecryptionFailed)
		}
		if seen[share.Index] {
			o.log.Warn("Skipping share with repeated index",
				"requestID", req.ID,
				"relationshipID", collected.RelationshipID,
				"index", share.Index)
			share.Wipe()
			continue
		}

		seen[share.Index] = true
		shares = append(shares, share)
	}

	if len(shares) < req.Threshold {
		return shares, fmt.Errorf("%w: have %d distinct share indexes, need %d", sharing.ErrInsufficientShares, len(shares), req.Threshold)
	}
	return shares, nil
}

// unsealAccountKey opens the account's sealed private key with a key derived
// from secret. Success proves the secret is the account's.
func (o *Orchestrator) unsealAccountKey(ctx context.Context, account *interfaces.Account, secret []byte) (interfaces.Privkey, error) {
	sealed, err := o.blobs.Fetch(ctx, account.SealedKeyID, interfaces.KeyType)
	if errors.Is(err, interfaces.ErrContentNotFound) {
		return nil, fmt.Errorf("%w: sealed key blob missing", interfaces.ErrBackendUnavailable)
	}
	if err != nil {
		return nil, err
	}

	sealingKey, err := cryptoutils.AccountSealingKey(secret)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.WipeBytes(sealingKey)

	raw, err := cryptoutils.OpenAESGCM(sealingKey, sealed, accountKeyAAD(account.ID))
	if err != nil {
		return nil, err
	}

	privateKey := interfaces.Privkey(raw)
	pub, err := privateKey.Public()
	if err != nil || !bytes.Equal(pub, account.PublicKey) {
		privateKey.Wipe()
		return nil, fmt.Errorf("%w: recovered key does not match the account", cryptoutils.ErrAuthenticationFailed)
	}
	return privateKey, nil
}

// AbandonRecovery is run by the recoverer, who proves ownership of the
// request with the password its session key is sealed under.
func (o *Orchestrator) AbandonRecovery(ctx context.Context, requestID interfaces.RecoveryRequestID, newPassword string) Result[*Status] {
	status, err := o.abandonAsRecoverer(ctx, requestID, newPassword)
	return finish(o, flowAbandon, status, err, "Recovery abandoned.")
}

func (o *Orchestrator) abandonAsRecoverer(ctx context.Context, requestID interfaces.RecoveryRequestID, newPassword string) (*Status, error) {
	req, err := o.recoveries.Recovery(ctx, requestID)
	if err != nil {
		return nil, err
	}

	sessionKey, err := localvault.Open(req.SealedSessionKey, newPassword, sessionKeyAAD(req.ID))
	if err != nil {
		return nil, err
	}
	sig, err := cryptoutils.SignAction(interfaces.Privkey(sessionKey), string(interfaces.RecoveryActionAbandon), string(req.ID))
	cryptoutils.WipeBytes(sessionKey)
	if err != nil {
		return nil, err
	}

	return o.abandon(req, "recoverer", func() (*interfaces.RecoveryRequest, error) {
		return o.recoveries.AbandonRecovery(ctx, req.ID, sig)
	})
}

// CancelRecovery lets the account owner stop a recovery of their account.
func (o *Orchestrator) CancelRecovery(ctx context.Context, sess *SessionContext, requestID interfaces.RecoveryRequestID) Result[*Status] {
	status, err := o.cancelAsOwner(ctx, sess, requestID)
	return finish(o, flowCancel, status, err, "Recovery cancelled.")
}

func (o *Orchestrator) cancelAsOwner(ctx context.Context, sess *SessionContext, requestID interfaces.RecoveryRequestID) (*Status, error) {
	if !sess.valid() {
		return nil, interfaces.ErrUnauthorized
	}

	req, err := o.recoveries.Recovery(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.AccountID != sess.AccountID {
		return nil, fmt.Errorf("%w: request targets another account", interfaces.ErrUnauthorized)
	}
	return o.abandon(req, "owner", func() (*interfaces.RecoveryRequest, error) {
		return o.recoveries.CancelRecovery(ctx, req.ID, sess.AccountID)
	})
}

func (o *Orchestrator) abandon(req *interfaces.RecoveryRequest, reason string, apply func() (*interfaces.RecoveryRequest, error)) (*Status, error) {
	wasOpen := !req.State.Terminal()

	updated, err := apply()
	if err != nil {
		return nil, err
	}
	if wasOpen {
		o.metrics.RecoveryAbandoned(reason)
		o.log.Info("Recovery abandoned", "requestID", req.ID, "reason", reason)
	}
	return statusOf(updated), nil
}

// RecoveryStatus reports a request's progress.
func (o *Orchestrator) RecoveryStatus(ctx context.Context, requestID interfaces.RecoveryRequestID) Result[*Status] {
	req, err := o.recoveries.Recovery(ctx, requestID)
	if err != nil {
		return finish[*Status](o, flowStatus, nil, err, "")
	}

	status := statusOf(req)
	return finish(o, flowStatus, status, nil, status.Summary())
}

// ListRecoveryRequests lists the published recoveries of accounts that trust
// the caller, with the relationship to submit under.
func (o *Orchestrator) ListRecoveryRequests(ctx context.Context, sess *SessionContext) Result[[]*PendingRecovery] {
	pending, err := o.listRecoveryRequests(ctx, sess)
	return finish(o, flowListRecoveries, pending, err, "")
}

func (o *Orchestrator) listRecoveryRequests(ctx context.Context, sess *SessionContext) ([]*PendingRecovery, error) {
	if !sess.valid() {
		return nil, interfaces.ErrUnauthorized
	}

	rels, err := o.registry.ListTrustingMe(ctx, sess.Email)
	if err != nil {
		return nil, err
	}

	pending := []*PendingRecovery{}
	for _, rel := range rels {
		if rel.ApprovalState != interfaces.ApprovalAccepted {
			continue
		}

		req, err := o.recoveries.ActiveRecovery(ctx, rel.TrustorID)
		if errors.Is(err, interfaces.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if req.State == interfaces.RecoveryInitiated {
			continue
		}

		pending = append(pending, &PendingRecovery{
			RequestID:      req.ID,
			AccountID:      req.AccountID,
			TrustorEmail:   rel.TrustorEmail,
			RelationshipID: rel.ID,
			State:          req.State,
			Submitted:      len(req.CollectedShares),
			Threshold:      req.Threshold,
			AlreadySent:    req.HasShareFrom(rel.ID),
			CreatedAt:      req.CreatedAt,
		})
	}
	return pending, nil
}
