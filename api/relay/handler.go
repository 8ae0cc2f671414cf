package relay

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/social-recovery-backend/api"
	"github.com/ruteri/social-recovery-backend/auth"
	"github.com/ruteri/social-recovery-backend/interfaces"
	"github.com/ruteri/social-recovery-backend/metrics"
	"github.com/ruteri/social-recovery-backend/recoverystate"
	"github.com/ruteri/social-recovery-backend/validation"
	"golang.org/x/time/rate"
)

const (
	maxRequestBody = 1 << 20
	maxBlobSize    = 4 << 20

	defaultWritesPerMinute = 6
	defaultWriteBurst      = 20
	defaultSupersedeAfter  = 24 * time.Hour
)

// Handler serves the relay API over the record stores and the blob store.
type Handler struct {
	directory  interfaces.AccountDirectory
	trust      interfaces.TrustStore
	recoveries interfaces.RecoveryStore
	blobs      interfaces.BlobStore
	tokens     *auth.TokenIssuer
	metrics    metrics.RecoveryMetrics
	log        *slog.Logger
	now        func() time.Time

	// anonymous writes: account creation, blob uploads and new recoveries
	writes         *clientLimiter
	supersedeAfter time.Duration
}

// NewHandler creates a relay handler.
//
// Parameters:
//   - directory, trust, recoveries: the record stores, usually one storage.SQLStore
//   - blobs: content-addressed storage for sealed vaults and keys
//   - tokens: issues login tokens and guards the authenticated routes
//   - log: Structured logger for operational insights
func NewHandler(
	directory interfaces.AccountDirectory,
	trust interfaces.TrustStore,
	recoveries interfaces.RecoveryStore,
	blobs interfaces.BlobStore,
	tokens *auth.TokenIssuer,
	log *slog.Logger,
) *Handler {
	return &Handler{
		directory:  directory,
		trust:      trust,
		recoveries: recoveries,
		blobs:      blobs,
		tokens:     tokens,
		metrics:    metrics.NoopCollector{},
		log:        log,
		now:        time.Now,

		writes:         newClientLimiter(rate.Limit(defaultWritesPerMinute/60.0), defaultWriteBurst),
		supersedeAfter: defaultSupersedeAfter,
	}
}

// WithMetrics reports share submissions, completions and abandonments to m.
func (h *Handler) WithMetrics(m metrics.RecoveryMetrics) *Handler {
	if m != nil {
		h.metrics = m
	}
	return h
}

// WithWriteLimit sets how many anonymous writes per minute, with the given
// burst, one client address may make.
func (h *Handler) WithWriteLimit(perMinute float64, burst int) *Handler {
	h.writes = newClientLimiter(rate.Limit(perMinute/60), burst)
	return h
}

// WithSupersedeAfter sets how long a recovery must be idle before anyone may
// expire it.
func (h *Handler) WithSupersedeAfter(d time.Duration) *Handler {
	if d > 0 {
		h.supersedeAfter = d
	}
	return h
}

// RegisterRoutes mounts the relay API under /api/v1.
//
// Public routes:
//   - POST /accounts, GET /accounts/salt, GET /accounts/by-email, GET /accounts/{id}
//   - POST /login
//   - PUT and GET /blobs/{type}/{id}
//   - POST /recovery, GET /recovery/{id}, GET /recovery/active/{accountID}
//   - POST /recovery/{id}/publish and /abandon, signed with the session key
//   - POST /recovery/{id}/complete, carrying the secret proof
//   - POST /recovery/{id}/expire, for requests idle past the supersede delay
//
// POST /accounts, PUT /blobs and POST /recovery are rate limited per client
// address and answer 429 when the budget is spent.
//
// Routes requiring a bearer token:
//   - POST /trust, GET /trust/{id}, POST /trust/{id}/approval, DELETE /trust/{id}
//   - GET /trust/by-trustor/{accountID}, GET /trust/by-trustee
//   - POST /recovery/{id}/shares
//   - POST /recovery/{id}/cancel, by the account owner
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/accounts/salt", h.HandleSalt)
		r.Get("/accounts/by-email", h.HandleAccountByEmail)
		r.Get("/accounts/{id}", h.HandleAccount)
		r.Post("/login", h.HandleLogin)

		r.Get("/blobs/{type}/{id}", h.HandleGetBlob)

		r.Get("/recovery/active/{accountID}", h.HandleActiveRecovery)
		r.Get("/recovery/{id}", h.HandleRecovery)
		r.Post("/recovery/{id}/publish", h.HandlePublishRecovery)
		r.Post("/recovery/{id}/abandon", h.HandleAbandonRecovery)
		r.Post("/recovery/{id}/complete", h.HandleCompleteRecovery)
		r.Post("/recovery/{id}/expire", h.HandleExpireRecovery)

		r.Group(func(r chi.Router) {
			r.Use(h.limitWrites)

			r.Post("/accounts", h.HandleCreateAccount)
			r.Put("/blobs/{type}/{id}", h.HandlePutBlob)
			r.Post("/recovery", h.HandleCreateRecovery)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.tokens.Middleware)

			r.Post("/trust", h.HandleCreateRelationship)
			r.Get("/trust/by-trustor/{accountID}", h.HandleRelationshipsByTrustor)
			r.Get("/trust/by-trustee", h.HandleRelationshipsByTrustee)
			r.Get("/trust/{id}", h.HandleRelationship)
			r.Post("/trust/{id}/approval", h.HandleApproval)
			r.Delete("/trust/{id}", h.HandleDeleteRelationship)

			r.Post("/recovery/{id}/shares", h.HandleSubmitShare)
			r.Post("/recovery/{id}/cancel", h.HandleCancelRecovery)
		})
	})
}

func (h *Handler) limitWrites(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientAddress(r)
		if !h.writes.Allow(client, h.now()) {
			h.log.Warn("Anonymous write rate limited", "client", client, "path", r.URL.Path)
			h.writeError(w, r, api.ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleCreateAccount registers an account uploaded by an enrolling client.
// The blobs it references must be stored first.
//
// Status codes:
//   - 201 Created: account stored, body is the account without verifiers
//   - 400 Bad Request: malformed or incomplete account
//   - 409 Conflict: username or email taken
func (h *Handler) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var account interfaces.Account
	if err := decodeJSON(r, &account); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.validateAccount(&account); err != nil {
		h.writeError(w, r, err)
		return
	}

	now := h.now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	if err := h.directory.CreateAccount(r.Context(), &account); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.log.Info("Account registered", "accountID", account.ID)
	h.writeJSON(w, http.StatusCreated, account.Public())
}

func (h *Handler) validateAccount(account *interfaces.Account) error {
	account.Email = validation.NormalizeEmail(account.Email)
	if err := validation.ValidateUsername(account.Username); err != nil {
		return err
	}
	if err := validation.ValidateEmail(account.Email); err != nil {
		return err
	}

	switch {
	case account.ID == "":
		return fmt.Errorf("%w: missing account id", validation.ErrInvalidInput)
	case account.PublicKey.Validate() != nil:
		return fmt.Errorf("%w: invalid public key", validation.ErrInvalidInput)
	case account.Threshold < 1 || account.Threshold > 255:
		return fmt.Errorf("%w: threshold out of range", validation.ErrInvalidInput)
	case account.SealedKeyID.IsZero() || account.VaultID.IsZero():
		return fmt.Errorf("%w: missing blob ids", validation.ErrInvalidInput)
	case len(account.PasswordSalt) == 0 || len(account.PasswordVerifier) == 0 || len(account.SecretVerifier) == 0:
		return fmt.Errorf("%w: missing verifiers", validation.ErrInvalidInput)
	}
	return nil
}

// HandleSalt returns the password salt for ?email=.
func (h *Handler) HandleSalt(w http.ResponseWriter, r *http.Request) {
	account, err := h.directory.AccountByEmail(r.Context(), validation.NormalizeEmail(r.URL.Query().Get("email")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.SaltResponse{Salt: account.PasswordSalt})
}

// HandleLogin exchanges a password verifier for a bearer token. Unknown
// emails and wrong verifiers get the same 403.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	account, err := h.directory.AccountByEmail(r.Context(), validation.NormalizeEmail(req.Email))
	if errors.Is(err, interfaces.ErrNotFound) {
		h.writeError(w, r, interfaces.ErrUnauthorized)
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if subtle.ConstantTimeCompare(account.PasswordVerifier, req.PasswordVerifier) != 1 {
		h.writeError(w, r, interfaces.ErrUnauthorized)
		return
	}

	token, err := h.tokens.Issue(account)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.LoginResponse{Token: token, Account: account.Public()})
}

func (h *Handler) HandleAccountByEmail(w http.ResponseWriter, r *http.Request) {
	account, err := h.directory.AccountByEmail(r.Context(), validation.NormalizeEmail(r.URL.Query().Get("email")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, account.Public())
}

func (h *Handler) HandleAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.directory.Account(r.Context(), interfaces.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, account.Public())
}

// HandlePutBlob stores a sealed blob. The body must hash to the ID in the
// path, so a blob can only ever be written under its own content ID.
//
// URL format: PUT /api/v1/blobs/{vault|key}/{sha256 hex}
func (h *Handler) HandlePutBlob(w http.ResponseWriter, r *http.Request) {
	contentType, id, err := blobPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBlobSize+1))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: could not read body", validation.ErrInvalidInput))
		return
	}
	if len(data) == 0 || len(data) > maxBlobSize {
		h.writeError(w, r, fmt.Errorf("%w: blob size out of range", validation.ErrInvalidInput))
		return
	}
	if interfaces.ComputeID(data) != id {
		h.writeError(w, r, fmt.Errorf("%w: content does not match id", validation.ErrInvalidInput))
		return
	}

	stored, err := h.blobs.Store(r.Context(), data, contentType)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, api.BlobResponse{ID: stored})
}

func (h *Handler) HandleGetBlob(w http.ResponseWriter, r *http.Request) {
	contentType, id, err := blobPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	data, err := h.blobs.Fetch(r.Context(), id, contentType)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.log.Error("Failed to write blob", "err", err, "id", id.String())
	}
}

func blobPath(r *http.Request) (interfaces.ContentType, interfaces.ContentID, error) {
	contentType, err := interfaces.ParseContentType(chi.URLParam(r, "type"))
	if err != nil {
		return 0, interfaces.ContentID{}, fmt.Errorf("%w: %v", validation.ErrInvalidInput, err)
	}
	id, err := interfaces.NewContentIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		return 0, interfaces.ContentID{}, fmt.Errorf("%w: %v", validation.ErrInvalidInput, err)
	}
	return contentType, id, nil
}

// HandleCreateRelationship records a trust request from the caller.
// The state is always pending regardless of what the body says.
func (h *Handler) HandleCreateRelationship(w http.ResponseWriter, r *http.Request) {
	caller := mustIdentity(r)

	var rel interfaces.TrustRelationship
	if err := decodeJSON(r, &rel); err != nil {
		h.writeError(w, r, err)
		return
	}

	if rel.TrustorID != caller.AccountID || rel.TrustorEmail != caller.Email {
		h.writeError(w, r, fmt.Errorf("%w: relationship must be created by its trustor", interfaces.ErrUnauthorized))
		return
	}

	rel.TrusteeEmail = validation.NormalizeEmail(rel.TrusteeEmail)
	if err := validation.ValidateEmail(rel.TrusteeEmail); err != nil {
		h.writeError(w, r, err)
		return
	}
	if rel.TrusteeEmail == caller.Email {
		h.writeError(w, r, interfaces.ErrSelfTrust)
		return
	}
	if rel.ID == "" || rel.ShareIndex == 0 || len(rel.ShareCiphertext) == 0 {
		h.writeError(w, r, fmt.Errorf("%w: relationship requires an id, share index and ciphertext", validation.ErrInvalidInput))
		return
	}

	now := h.now().UTC()
	rel.ApprovalState = interfaces.ApprovalPending
	rel.CreatedAt = now
	rel.UpdatedAt = now
	if err := h.trust.CreateRelationship(r.Context(), &rel); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, &rel)
}

// HandleRelationship returns a relationship to its trustor or trustee.
func (h *Handler) HandleRelationship(w http.ResponseWriter, r *http.Request) {
	caller := mustIdentity(r)

	rel, err := h.trust.Relationship(r.Context(), interfaces.RelationshipID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if rel.TrustorID != caller.AccountID && rel.TrusteeEmail != caller.Email {
		h.writeError(w, r, interfaces.ErrUnauthorized)
		return
	}
	h.writeJSON(w, http.StatusOK, rel)
}

// HandleApproval applies the trustee's decision.
//
// Status codes:
//   - 200 OK: body is the updated relationship
//   - 403 Forbidden: caller is not the trustee
//   - 409 Conflict: the decision is not allowed from the current state
func (h *Handler) HandleApproval(w http.ResponseWriter, r *http.Request) {
	caller := mustIdentity(r)
	id := interfaces.RelationshipID(chi.URLParam(r, "id"))

	var req api.ApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	rel, err := h.trust.Relationship(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if rel.TrusteeEmail != caller.Email {
		h.writeError(w, r, interfaces.ErrUnauthorized)
		return
	}

	updated, err := h.trust.TransitionApproval(r.Context(), id, req.State)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) HandleDeleteRelationship(w http.ResponseWriter, r *http.Request) {
	caller := mustIdentity(r)
	id := interfaces.RelationshipID(chi.URLParam(r, "id"))

	rel, err := h.trust.Relationship(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if rel.TrustorID != caller.AccountID {
		h.writeError(w, r, interfaces.ErrUnauthorized)
		return
	}

	if err := h.trust.DeleteRelationship(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleRelationshipsByTrustor(w http.ResponseWriter, r *http.Request) {
	caller := mustIdentity(r)

	account := interfaces.AccountID(chi.URLParam(r, "accountID"))
	if account != caller.AccountID {
		h.writeError(w, r, interfaces.ErrUnauthorized)
		return
	}

	rels, err := h.trust.RelationshipsByTrustor(r.Context(), account)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.RelationshipsResponse{Relationships: rels})
}

func (h *Handler) HandleRelationshipsByTrustee(w http.ResponseWriter, r *http.Request) {
	caller := mustIdentity(r)

	email := validation.NormalizeEmail(r.URL.Query().Get("email"))
	if email != caller.Email {
		h.writeError(w, r, interfaces.ErrUnauthorized)
		return
	}

	rels, err := h.trust.RelationshipsByTrustee(r.Context(), email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.RelationshipsResponse{Relationships: rels})
}

// HandleCreateRecovery opens a recovery request. The relay rebuilds the
// request from the account it targets, so clients cannot choose its state or
// lower its threshold.
func (h *Handler) HandleCreateRecovery(w http.ResponseWriter, r *http.Request) {
	var body interfaces.RecoveryRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	if body.ID == "" || len(body.SealedSessionKey) == 0 || body.SessionPublicKey.Validate() != nil {
		h.writeError(w, r, fmt.Errorf("%w: request requires an id, session key and sealed session key", validation.ErrInvalidInput))
		return
	}

	account, err := h.directory.Account(r.Context(), body.AccountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	req := recoverystate.New(body.ID, account, body.RecovererID, body.SessionPublicKey, body.SealedSessionKey, h.now().UTC())
	if err := h.recoveries.CreateRecovery(r.Context(), req); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.log.Info("Recovery requested", "requestID", req.ID, "accountID", req.AccountID)
	h.writeJSON(w, http.StatusCreated, req)
}

func (h *Handler) HandleRecovery(w http.ResponseWriter, r *http.Request) {
	req, err := h.recoveries.Recovery(r.Context(), interfaces.RecoveryRequestID(chi.URLParam(r, "id")))
	h.respondRecovery(w, r, req, err)
}

func (h *Handler) HandleActiveRecovery(w http.ResponseWriter, r *http.Request) {
	req, err := h.recoveries.ActiveRecovery(r.Context(), interfaces.AccountID(chi.URLParam(r, "accountID")))
	h.respondRecovery(w, r, req, err)
}

// HandlePublishRecovery opens a request to trustees. The body carries a
// session key signature; the store answers 403 if it does not verify.
func (h *Handler) HandlePublishRecovery(w http.ResponseWriter, r *http.Request) {
	body, err := decodeSignature(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := h.recoveries.PublishRecovery(r.Context(), interfaces.RecoveryRequestID(chi.URLParam(r, "id")), body.Signature)
	h.respondRecovery(w, r, req, err)
}

// HandleAbandonRecovery cancels a request for its recoverer.
//
// Status codes:
//   - 200 OK: body is the abandoned request
//   - 403 Forbidden: missing or wrong session key signature
//   - 409 Conflict: the request already completed
func (h *Handler) HandleAbandonRecovery(w http.ResponseWriter, r *http.Request) {
	id := interfaces.RecoveryRequestID(chi.URLParam(r, "id"))

	body, err := decodeSignature(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.abandon(w, r, id, "requested", func() (*interfaces.RecoveryRequest, error) {
		return h.recoveries.AbandonRecovery(r.Context(), id, body.Signature)
	})
}

// HandleCancelRecovery lets an account owner cancel a recovery of their
// account.
func (h *Handler) HandleCancelRecovery(w http.ResponseWriter, r *http.Request) {
	caller := mustIdentity(r)
	id := interfaces.RecoveryRequestID(chi.URLParam(r, "id"))

	h.abandon(w, r, id, "owner", func() (*interfaces.RecoveryRequest, error) {
		return h.recoveries.CancelRecovery(r.Context(), id, caller.AccountID)
	})
}

// HandleExpireRecovery abandons a request idle since the requested cutoff.
// The cutoff is clamped to the supersede delay, so an active recovery cannot
// be expired by a third party.
func (h *Handler) HandleExpireRecovery(w http.ResponseWriter, r *http.Request) {
	id := interfaces.RecoveryRequestID(chi.URLParam(r, "id"))

	var body api.ExpireRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	idleSince := h.now().UTC().Add(-h.supersedeAfter)
	if !body.IdleSince.IsZero() && body.IdleSince.Before(idleSince) {
		idleSince = body.IdleSince
	}

	h.abandon(w, r, id, "superseded", func() (*interfaces.RecoveryRequest, error) {
		return h.recoveries.ExpireRecovery(r.Context(), id, idleSince)
	})
}

func (h *Handler) abandon(w http.ResponseWriter, r *http.Request, id interfaces.RecoveryRequestID, reason string, apply func() (*interfaces.RecoveryRequest, error)) {
	before, err := h.recoveries.Recovery(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	req, err := apply()
	if err == nil && before.State != interfaces.RecoveryAbandoned {
		h.log.Info("Recovery abandoned", "requestID", id, "accountID", req.AccountID, "reason", reason)
		h.metrics.RecoveryAbandoned(reason)
	}
	h.respondRecovery(w, r, req, err)
}

// HandleCompleteRecovery installs new credentials. The store rejects the
// update with 403 unless its secret proof matches the account.
func (h *Handler) HandleCompleteRecovery(w http.ResponseWriter, r *http.Request) {
	var update interfaces.CredentialUpdate
	if err := decodeJSON(r, &update); err != nil {
		h.writeError(w, r, err)
		return
	}
	if update.VaultID.IsZero() || len(update.PasswordSalt) == 0 || len(update.PasswordVerifier) == 0 {
		h.writeError(w, r, fmt.Errorf("%w: incomplete credentials", validation.ErrInvalidInput))
		return
	}

	req, err := h.recoveries.CompleteRecovery(r.Context(), interfaces.RecoveryRequestID(chi.URLParam(r, "id")), update)
	if err == nil {
		h.log.Info("Recovery completed", "requestID", req.ID, "accountID", req.AccountID)
		h.metrics.RecoveryCompleted()
	}
	h.respondRecovery(w, r, req, err)
}

// HandleSubmitShare appends a share from the caller, who must be the
// accepted trustee of the named relationship for the request's account.
func (h *Handler) HandleSubmitShare(w http.ResponseWriter, r *http.Request) {
	caller := mustIdentity(r)
	id := interfaces.RecoveryRequestID(chi.URLParam(r, "id"))

	var share interfaces.CollectedShare
	if err := decodeJSON(r, &share); err != nil {
		h.writeError(w, r, err)
		return
	}

	rel, err := h.trust.Relationship(r.Context(), share.RelationshipID)
	if errors.Is(err, interfaces.ErrNotFound) {
		h.writeError(w, r, interfaces.ErrNotAuthorizedShareHolder)
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if rel.TrusteeEmail != caller.Email || rel.ApprovalState != interfaces.ApprovalAccepted {
		h.writeError(w, r, interfaces.ErrNotAuthorizedShareHolder)
		return
	}

	req, err := h.recoveries.Recovery(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.AccountID != rel.TrustorID {
		h.writeError(w, r, interfaces.ErrNotAuthorizedShareHolder)
		return
	}

	share.HolderID = caller.AccountID
	updated, err := h.recoveries.AppendShare(r.Context(), id, share)
	if err == nil && len(updated.CollectedShares) > len(req.CollectedShares) {
		h.metrics.ShareSubmitted()
	}
	h.respondRecovery(w, r, updated, err)
}

func (h *Handler) respondRecovery(w http.ResponseWriter, r *http.Request, req *interfaces.RecoveryRequest, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

// mustIdentity returns the caller authenticated by the token middleware.
func mustIdentity(r *http.Request) *auth.Identity {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		panic("relay: authenticated route without token middleware")
	}
	return id
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", validation.ErrInvalidInput, err)
	}
	return nil
}

// decodeSignature reads an optional signature body. A request without a body
// carries no signature and is refused by the store.
func decodeSignature(r *http.Request) (api.SessionSignature, error) {
	var body api.SessionSignature
	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&body)
	if err != nil && !errors.Is(err, io.EOF) {
		return body, fmt.Errorf("%w: malformed request body: %v", validation.ErrInvalidInput, err)
	}
	return body, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, status := api.ErrorStatus(err)

	message := err.Error()
	if status >= http.StatusInternalServerError {
		h.log.Error("Relay request failed", "err", err, "method", r.Method, "path", r.URL.Path)
		if status == http.StatusInternalServerError {
			message = "internal error"
		}
	} else {
		h.log.Debug("Relay request rejected", "err", err, "code", code, "path", r.URL.Path)
	}

	h.writeJSON(w, status, api.ErrorResponse{Error: message, Code: code})
}
