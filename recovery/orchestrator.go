// Package recovery drives the social recovery protocol: enrollment, the
// trust flows between a trustor and its trustees, and recovery sessions from
// initiation to new credentials.
//
// The orchestrator holds no protocol state of its own. Records live behind
// the store contracts in interfaces, which may be local (storage) or remote
// (api/clients), and every flow re-reads them.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/social-recovery-backend/cryptoutils"
	"github.com/ruteri/social-recovery-backend/interfaces"
	"github.com/ruteri/social-recovery-backend/localvault"
	"github.com/ruteri/social-recovery-backend/metrics"
	"github.com/ruteri/social-recovery-backend/registry"
	"github.com/ruteri/social-recovery-backend/sharing"
	"github.com/ruteri/social-recovery-backend/validation"
)

// Config holds the protocol parameters.
type Config struct {
	// Threshold is the number of shares needed to recover a new account.
	Threshold int
	// InitialShares is how many shares enrollment places in the owner's vault.
	InitialShares int
	// InactivityWindow is how long a recovery may go without activity before
	// the janitor abandons it.
	InactivityWindow time.Duration
	// SupersedeAfter is how long an active recovery must be idle before a
	// recoverer without its session key may replace it.
	SupersedeAfter time.Duration
	// JanitorInterval is how often the janitor sweeps.
	JanitorInterval time.Duration
}

// DefaultConfig returns the parameters used when none are configured.
func DefaultConfig() Config {
	return Config{
		Threshold:        2,
		InitialShares:    2,
		InactivityWindow: 7 * 24 * time.Hour,
		SupersedeAfter:   24 * time.Hour,
		JanitorInterval:  10 * time.Minute,
	}
}

// Validate checks the parameters are usable.
func (c Config) Validate() error {
	if c.Threshold < 1 || c.Threshold > sharing.MaxShares {
		return fmt.Errorf("threshold must be between 1 and %d", sharing.MaxShares)
	}
	if c.InitialShares < c.Threshold || c.InitialShares > sharing.MaxShares {
		return fmt.Errorf("initial shares must be between the threshold and %d", sharing.MaxShares)
	}
	if c.InactivityWindow <= 0 || c.JanitorInterval <= 0 {
		return errors.New("inactivity window and janitor interval must be positive")
	}
	if c.SupersedeAfter <= 0 || c.SupersedeAfter > c.InactivityWindow {
		return errors.New("supersede delay must be positive and no longer than the inactivity window")
	}
	return nil
}

// Orchestrator runs the recovery flows over the record stores and the blob
// store.
type Orchestrator struct {
	cfg        Config
	directory  interfaces.AccountDirectory
	registry   *registry.Registry
	recoveries interfaces.RecoveryStore
	blobs      interfaces.BlobStore
	domains    validation.DomainChecker
	metrics    metrics.RecoveryMetrics
	log        *slog.Logger
	now        func() time.Time

	finalizeLocks *keyedMutex
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithDomainChecker verifies trustee email domains before adding them.
func WithDomainChecker(checker validation.DomainChecker) Option {
	return func(o *Orchestrator) { o.domains = checker }
}

// WithMetrics reports flow outcomes to m.
func WithMetrics(m metrics.RecoveryMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator wires the flows to their stores.
func NewOrchestrator(
	cfg Config,
	directory interfaces.AccountDirectory,
	trust interfaces.TrustStore,
	recoveries interfaces.RecoveryStore,
	blobs interfaces.BlobStore,
	log *slog.Logger,
	opts ...Option,
) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recovery config: %w", err)
	}

	o := &Orchestrator{
		cfg:           cfg,
		directory:     directory,
		registry:      registry.NewRegistry(trust, directory, log),
		recoveries:    recoveries,
		blobs:         blobs,
		domains:       validation.NopDomainChecker{},
		metrics:       metrics.NoopCollector{},
		log:           log,
		now:           time.Now,
		finalizeLocks: newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.registry.WithClock(o.now)
	return o, nil
}

// Context labels bind ciphertexts and sealed blobs to where they belong.
func trustShareLabel(trustor interfaces.AccountID) string {
	return "trust-share:" + string(trustor)
}

func recoveryShareLabel(id interfaces.RecoveryRequestID) string {
	return "recovery-share:" + string(id)
}

func accountKeyAAD(id interfaces.AccountID) []byte {
	return []byte("account-key:" + string(id))
}

func sessionKeyAAD(id interfaces.RecoveryRequestID) string {
	return "recovery-session:" + string(id)
}

// Enroll registers a new account: it generates the account keypair and
// secret, splits the secret into the configured threshold, seals the private
// key under a key derived from the secret and locks the share set under the
// password.
func (o *Orchestrator) Enroll(ctx context.Context, username, email, password, confirm string) Result[*interfaces.Account] {
	account, err := o.enroll(ctx, username, email, password, confirm)
	return finish(o, flowEnroll, account, err, "Account created.")
}

func (o *Orchestrator) enroll(ctx context.Context, username, email, password, confirm string) (*interfaces.Account, error) {
	username = strings.TrimSpace(username)
	email = validation.NormalizeEmail(email)

	if err := validation.ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := validation.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := validation.ValidateNewPassword(password, confirm); err != nil {
		return nil, err
	}

	_, err := o.directory.AccountByEmail(ctx, email)
	if err == nil {
		return nil, interfaces.ErrAccountExists
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing account: %w", err)
	}

	pub, priv, err := cryptoutils.RandomKeypair()
	if err != nil {
		return nil, err
	}

	secret, err := cryptoutils.NewSecret()
	if err != nil {
		priv.Wipe()
		return nil, err
	}
	defer cryptoutils.WipeBytes(secret)

	shares, err := sharing.Split(secret, o.cfg.InitialShares, o.cfg.Threshold)
	if err != nil {
		priv.Wipe()
		return nil, fmt.Errorf("failed to split secret: %w", err)
	}

	id := interfaces.AccountID(uuid.NewString())
	set := &interfaces.ShareSet{
		AccountID:  id,
		Threshold:  o.cfg.Threshold,
		Shares:     shares,
		PrivateKey: priv,
	}
	defer set.Wipe()

	sealingKey, err := cryptoutils.AccountSealingKey(secret)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.WipeBytes(sealingKey)

	sealedKey, err := cryptoutils.SealAESGCM(sealingKey, priv, accountKeyAAD(id))
	if err != nil {
		return nil, fmt.Errorf("failed to seal account key: %w", err)
	}
	secretVerifier, err := cryptoutils.SecretVerifier(secret)
	if err != nil {
		return nil, err
	}
	vaultBlob, err := localvault.Lock(set, password)
	if err != nil {
		return nil, err
	}

	sealedKeyID, err := o.blobs.Store(ctx, sealedKey, interfaces.KeyType)
	if err != nil {
		return nil, fmt.Errorf("failed to store sealed key: %w", err)
	}
	vaultID, err := o.blobs.Store(ctx, vaultBlob, interfaces.VaultType)
	if err != nil {
		return nil, fmt.Errorf("failed to store vault: %w", err)
	}

	salt, err := cryptoutils.NewSalt()
	if err != nil {
		return nil, err
	}

	now := o.now().UTC()
	account := &interfaces.Account{
		ID:               id,
		Username:         username,
		Email:            email,
		PublicKey:        pub,
		Threshold:        o.cfg.Threshold,
		SealedKeyID:      sealedKeyID,
		VaultID:          vaultID,
		PasswordSalt:     salt,
		PasswordVerifier: cryptoutils.PasswordVerifier(password, salt),
		SecretVerifier:   secretVerifier,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := o.directory.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	o.log.Info("Account enrolled", "accountID", id, "threshold", o.cfg.Threshold, "shares", len(shares))
	return account.Public(), nil
}

// OpenSession unlocks the account's vault with its password. The caller owns
// the returned session and should Close it when done.
func (o *Orchestrator) OpenSession(ctx context.Context, email, password string) Result[*SessionContext] {
	sess, err := o.openSession(ctx, email, password)
	return finish(o, flowOpenSession, sess, err, "Signed in.")
}

func (o *Orchestrator) openSession(ctx context.Context, email, password string) (*SessionContext, error) {
	email = validation.NormalizeEmail(email)

	account, err := o.directory.AccountByEmail(ctx, email)
	if errors.Is(err, interfaces.ErrNotFound) {
		// same answer as a wrong password
		return nil, localvault.ErrAuthenticationFailed
	}
	if err != nil {
		return nil, err
	}

	blob, err := o.blobs.Fetch(ctx, account.VaultID, interfaces.VaultType)
	if errors.Is(err, interfaces.ErrContentNotFound) {
		return nil, fmt.Errorf("%w: vault blob missing", interfaces.ErrBackendUnavailable)
	}
	if err != nil {
		return nil, err
	}

	set, err := localvault.Unlock(blob, password)
	if err != nil {
		return nil, err
	}
	if set.AccountID != account.ID {
		set.Wipe()
		return nil, fmt.Errorf("%w: vault belongs to another account", localvault.ErrAuthenticationFailed)
	}

	return &SessionContext{
		AccountID:  account.ID,
		Email:      account.Email,
		PrivateKey: set.PrivateKey,
		Shares:     set,
	}, nil
}
