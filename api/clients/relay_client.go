package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ruteri/social-recovery-backend/api"
	"github.com/ruteri/social-recovery-backend/cryptoutils"
	"github.com/ruteri/social-recovery-backend/interfaces"
	"github.com/ruteri/social-recovery-backend/validation"
)

// RelayClient talks to a relay server. It implements the record stores and
// the blob store, so an Orchestrator can run on the user's machine against a
// remote relay.
//
// Trust routes and share submission need a token; call Login first.
type RelayClient struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger

	mu    sync.RWMutex
	token string
}

var (
	_ interfaces.AccountDirectory = (*RelayClient)(nil)
	_ interfaces.TrustStore       = (*RelayClient)(nil)
	_ interfaces.RecoveryStore    = (*RelayClient)(nil)
	_ interfaces.BlobStore        = (*RelayClient)(nil)
)

// NewRelayClient creates a client for the relay at baseURL.
func NewRelayClient(baseURL string, timeout time.Duration, log *slog.Logger) *RelayClient {
	return &RelayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *RelayClient) WithHTTPClient(hc *http.Client) *RelayClient {
	c.http = hc
	return c
}

// Login derives the password verifier from the account's salt and exchanges
// it for a token used by later calls.
func (c *RelayClient) Login(ctx context.Context, email, password string) (*interfaces.Account, error) {
	email = validation.NormalizeEmail(email)

	var salt api.SaltResponse
	if err := c.do(ctx, http.MethodGet, "/accounts/salt", url.Values{"email": {email}}, nil, &salt); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, interfaces.ErrUnauthorized
		}
		return nil, err
	}

	var resp api.LoginResponse
	err := c.do(ctx, http.MethodPost, "/login", nil, api.LoginRequest{
		Email:            email,
		PasswordVerifier: cryptoutils.PasswordVerifier(password, salt.Salt),
	}, &resp)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()

	c.log.Debug("Logged in to relay", "accountID", resp.Account.ID)
	return resp.Account, nil
}

// Logout forgets the token.
func (c *RelayClient) Logout() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func (c *RelayClient) CreateAccount(ctx context.Context, account *interfaces.Account) error {
	return c.do(ctx, http.MethodPost, "/accounts", nil, account, nil)
}

func (c *RelayClient) Account(ctx context.Context, id interfaces.AccountID) (*interfaces.Account, error) {
	var account interfaces.Account
	if err := c.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(string(id)), nil, nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (c *RelayClient) AccountByEmail(ctx context.Context, email string) (*interfaces.Account, error) {
	var account interfaces.Account
	if err := c.do(ctx, http.MethodGet, "/accounts/by-email", url.Values{"email": {email}}, nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (c *RelayClient) CreateRelationship(ctx context.Context, rel *interfaces.TrustRelationship) error {
	return c.do(ctx, http.MethodPost, "/trust", nil, rel, nil)
}

func (c *RelayClient) Relationship(ctx context.Context, id interfaces.RelationshipID) (*interfaces.TrustRelationship, error) {
	var rel interfaces.TrustRelationship
	if err := c.do(ctx, http.MethodGet, "/trust/"+url.PathEscape(string(id)), nil, nil, &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

func (c *RelayClient) TransitionApproval(ctx context.Context, id interfaces.RelationshipID, to interfaces.ApprovalState) (*interfaces.TrustRelationship, error) {
	var rel interfaces.TrustRelationship
	path := "/trust/" + url.PathEscape(string(id)) + "/approval"
	if err := c.do(ctx, http.MethodPost, path, nil, api.ApprovalRequest{State: to}, &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

func (c *RelayClient) DeleteRelationship(ctx context.Context, id interfaces.RelationshipID) error {
	return c.do(ctx, http.MethodDelete, "/trust/"+url.PathEscape(string(id)), nil, nil, nil)
}

func (c *RelayClient) RelationshipsByTrustor(ctx context.Context, trustor interfaces.AccountID) ([]*interfaces.TrustRelationship, error) {
	var resp api.RelationshipsResponse
	if err := c.do(ctx, http.MethodGet, "/trust/by-trustor/"+url.PathEscape(string(trustor)), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Relationships, nil
}

func (c *RelayClient) RelationshipsByTrustee(ctx context.Context, email string) ([]*interfaces.TrustRelationship, error) {
	var resp api.RelationshipsResponse
	if err := c.do(ctx, http.MethodGet, "/trust/by-trustee", url.Values{"email": {email}}, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Relationships, nil
}

func (c *RelayClient) CreateRecovery(ctx context.Context, req *interfaces.RecoveryRequest) error {
	return c.do(ctx, http.MethodPost, "/recovery", nil, req, nil)
}

func (c *RelayClient) Recovery(ctx context.Context, id interfaces.RecoveryRequestID) (*interfaces.RecoveryRequest, error) {
	return c.recovery(ctx, http.MethodGet, "/recovery/"+url.PathEscape(string(id)), nil)
}

func (c *RelayClient) ActiveRecovery(ctx context.Context, account interfaces.AccountID) (*interfaces.RecoveryRequest, error) {
	return c.recovery(ctx, http.MethodGet, "/recovery/active/"+url.PathEscape(string(account)), nil)
}

func (c *RelayClient) PublishRecovery(ctx context.Context, id interfaces.RecoveryRequestID, signature []byte) (*interfaces.RecoveryRequest, error) {
	return c.recovery(ctx, http.MethodPost, "/recovery/"+url.PathEscape(string(id))+"/publish", api.SessionSignature{Signature: signature})
}

func (c *RelayClient) AppendShare(ctx context.Context, id interfaces.RecoveryRequestID, share interfaces.CollectedShare) (*interfaces.RecoveryRequest, error) {
	return c.recovery(ctx, http.MethodPost, "/recovery/"+url.PathEscape(string(id))+"/shares", share)
}

func (c *RelayClient) AbandonRecovery(ctx context.Context, id interfaces.RecoveryRequestID, signature []byte) (*interfaces.RecoveryRequest, error) {
	return c.recovery(ctx, http.MethodPost, "/recovery/"+url.PathEscape(string(id))+"/abandon", api.SessionSignature{Signature: signature})
}

// CancelRecovery cancels a recovery of the logged-in account. The relay takes
// the owner from the token, so owner must be the account passed to Login.
func (c *RelayClient) CancelRecovery(ctx context.Context, id interfaces.RecoveryRequestID, owner interfaces.AccountID) (*interfaces.RecoveryRequest, error) {
	c.mu.RLock()
	loggedIn := c.token != ""
	c.mu.RUnlock()
	if !loggedIn {
		return nil, fmt.Errorf("%w: log in as %s to cancel its recoveries", interfaces.ErrUnauthorized, owner)
	}
	return c.recovery(ctx, http.MethodPost, "/recovery/"+url.PathEscape(string(id))+"/cancel", nil)
}

// ExpireRecovery asks the relay to abandon an idle request. The relay applies
// its own supersede delay if idleSince is more recent.
func (c *RelayClient) ExpireRecovery(ctx context.Context, id interfaces.RecoveryRequestID, idleSince time.Time) (*interfaces.RecoveryRequest, error) {
	return c.recovery(ctx, http.MethodPost, "/recovery/"+url.PathEscape(string(id))+"/expire", api.ExpireRequest{IdleSince: idleSince})
}

func (c *RelayClient) CompleteRecovery(ctx context.Context, id interfaces.RecoveryRequestID, update interfaces.CredentialUpdate) (*interfaces.RecoveryRequest, error) {
	return c.recovery(ctx, http.MethodPost, "/recovery/"+url.PathEscape(string(id))+"/complete", update)
}

func (c *RelayClient) recovery(ctx context.Context, method, path string, body any) (*interfaces.RecoveryRequest, error) {
	var req interfaces.RecoveryRequest
	if err := c.do(ctx, method, path, nil, body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Store uploads a blob under its content ID.
func (c *RelayClient) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)

	req, err := c.newRequest(ctx, http.MethodPut, blobPath(contentType, id), nil, bytes.NewReader(data))
	if err != nil {
		return interfaces.ContentID{}, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	var resp api.BlobResponse
	if err := c.send(req, &resp); err != nil {
		return interfaces.ContentID{}, err
	}
	if resp.ID != id {
		return interfaces.ContentID{}, fmt.Errorf("%w: relay stored blob under %s", interfaces.ErrBackendUnavailable, resp.ID)
	}
	return id, nil
}

// Fetch downloads a blob and checks it hashes to id.
func (c *RelayClient) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, blobPath(contentType, id), nil, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	if interfaces.ComputeID(data) != id {
		return nil, fmt.Errorf("%w: blob %s failed integrity check", interfaces.ErrBackendUnavailable, id)
	}
	return data, nil
}

// Available reports whether the relay answers its liveness probe.
func (c *RelayClient) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/livez", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *RelayClient) Name() string {
	return "relay"
}

func (c *RelayClient) LocationURI() string {
	return c.baseURL
}

func blobPath(contentType interfaces.ContentType, id interfaces.ContentID) string {
	return fmt.Sprintf("/blobs/%s/%s", contentType, id)
}

func (c *RelayClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("could not encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := c.newRequest(ctx, method, path, query, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *RelayClient) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	target := c.baseURL + "/api/v1" + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *RelayClient) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(req.Context(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: could not parse relay response: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

func (c *RelayClient) transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	c.log.Debug("Relay request failed", "err", err, "relay", c.baseURL)
	return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
}

// readError turns a failed response into the sentinel error it carries.
func readError(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return api.ErrorFromResponse(resp.StatusCode, api.ErrorResponse{})
	}

	var body api.ErrorResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		body = api.ErrorResponse{Error: strings.TrimSpace(string(raw))}
	}
	return api.ErrorFromResponse(resp.StatusCode, body)
}
