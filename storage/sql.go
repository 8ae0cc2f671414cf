package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/ruteri/social-recovery-backend/interfaces"
	"github.com/ruteri/social-recovery-backend/recoverystate"
	"github.com/ruteri/social-recovery-backend/storage/migrations"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect selects the SQL database behind an SQLStore.
type Dialect string

const (
	// DialectPostgres uses PostgreSQL through pgx.
	DialectPostgres Dialect = "postgres"
	// DialectSQLite uses the pure-Go SQLite driver.
	DialectSQLite Dialect = "sqlite"
)

// ParseDialect validates a dialect name.
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(strings.ToLower(s)) {
	case DialectPostgres, "pgx", "postgresql":
		return DialectPostgres, nil
	case DialectSQLite, "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database dialect %q", s)
	}
}

func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

func (d Dialect) gooseDialect() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite3"
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

const pgUniqueViolation = "23505"

var activeStatesSQL = func() string {
	quoted := make([]string, len(interfaces.ActiveRecoveryStates))
	for i, state := range interfaces.ActiveRecoveryStates {
		quoted[i] = "'" + string(state) + "'"
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}()

// SQLStore implements AccountDirectory, TrustStore and RecoveryStore over
// database/sql. Every mutation runs in one transaction; on PostgreSQL the
// affected recovery row is locked with SELECT ... FOR UPDATE, on SQLite the
// single connection serializes writers.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	log     *slog.Logger
	now     func() time.Time
}

// OpenSQLStore connects to the database and applies pending migrations.
func OpenSQLStore(ctx context.Context, dialect Dialect, dsn string, log *slog.Logger) (*SQLStore, error) {
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	store := NewSQLStore(db, dialect, log)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an open database. The schema must already be migrated.
func NewSQLStore(db *sql.DB, dialect Dialect, log *slog.Logger) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialect,
		log:     log,
		now:     time.Now,
	}
}

// WithClock replaces the store's time source.
func (s *SQLStore) WithClock(now func() time.Time) *SQLStore {
	s.now = now
	return s
}

// Migrate applies the embedded goose migrations.
func (s *SQLStore) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(s.dialect.gooseDialect()); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := gooseUpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rebind rewrites ? placeholders into PostgreSQL's $N form.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) forUpdate() string {
	if s.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(tx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
		return strings.Contains(liteErr.Error(), "UNIQUE constraint failed")
	}
	return false
}

func dbError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.ErrNotFound
	}
	return fmt.Errorf("db error: %w", err)
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Accounts

const accountColumns = `id, username, email, public_key, threshold, sealed_key_id, vault_id,
	password_salt, password_verifier, secret_verifier, created_at, updated_at`

func (s *SQLStore) CreateAccount(ctx context.Context, account *interfaces.Account) error {
	query := s.rebind(`INSERT INTO accounts (` + accountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		string(account.ID), account.Username, account.Email, []byte(account.PublicKey), account.Threshold,
		account.SealedKeyID.String(), account.VaultID.String(),
		account.PasswordSalt, account.PasswordVerifier, account.SecretVerifier,
		toMillis(account.CreatedAt), toMillis(account.UpdatedAt))
	if isUniqueViolation(err) {
		return interfaces.ErrAccountExists
	}
	if err != nil {
		return dbError(err)
	}
	return nil
}

func (s *SQLStore) Account(ctx context.Context, id interfaces.AccountID) (*interfaces.Account, error) {
	return s.loadAccount(ctx, s.db, `id = ?`, string(id))
}

func (s *SQLStore) AccountByEmail(ctx context.Context, email string) (*interfaces.Account, error) {
	return s.loadAccount(ctx, s.db, `email = ?`, email)
}

func (s *SQLStore) loadAccount(ctx context.Context, q queryer, where string, arg any) (*interfaces.Account, error) {
	query := s.rebind(`SELECT ` + accountColumns + ` FROM accounts WHERE ` + where)

	var (
		account              interfaces.Account
		id                   string
		pub                  []byte
		sealedKeyID, vaultID string
		createdAt, updatedAt int64
	)
	err := q.QueryRowContext(ctx, query, arg).Scan(
		&id, &account.Username, &account.Email, &pub, &account.Threshold, &sealedKeyID, &vaultID,
		&account.PasswordSalt, &account.PasswordVerifier, &account.SecretVerifier, &createdAt, &updatedAt)
	if err != nil {
		return nil, dbError(err)
	}

	account.ID = interfaces.AccountID(id)
	account.PublicKey = interfaces.Pubkey(pub)
	if account.SealedKeyID, err = interfaces.NewContentIDFromHex(sealedKeyID); err != nil {
		return nil, fmt.Errorf("corrupt sealed key id: %w", err)
	}
	if account.VaultID, err = interfaces.NewContentIDFromHex(vaultID); err != nil {
		return nil, fmt.Errorf("corrupt vault id: %w", err)
	}
	account.CreatedAt = fromMillis(createdAt)
	account.UpdatedAt = fromMillis(updatedAt)
	return &account, nil
}

// Trust relationships

const relationshipColumns = `id, trustor_id, trustor_email, trustee_email, share_index,
	approval_state, share_ciphertext, created_at, updated_at`

// CreateRelationship reserves the share index and inserts the relationship
// in one transaction. Reservations outlive the relationship.
func (s *SQLStore) CreateRelationship(ctx context.Context, rel *interfaces.TrustRelationship) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		reserve := s.rebind(`INSERT INTO share_index_reservations (trustor_id, share_index, relationship_id, created_at)
			VALUES (?, ?, ?, ?)`)
		_, err := tx.ExecContext(ctx, reserve, string(rel.TrustorID), int(rel.ShareIndex), string(rel.ID), toMillis(rel.CreatedAt))
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: index %d", interfaces.ErrShareIndexTaken, rel.ShareIndex)
		}
		if err != nil {
			return dbError(err)
		}

		query := s.rebind(`INSERT INTO trust_relationships (` + relationshipColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		_, err = tx.ExecContext(ctx, query,
			string(rel.ID), string(rel.TrustorID), rel.TrustorEmail, rel.TrusteeEmail, int(rel.ShareIndex),
			string(rel.ApprovalState), rel.ShareCiphertext, toMillis(rel.CreatedAt), toMillis(rel.UpdatedAt))
		if isUniqueViolation(err) {
			return interfaces.ErrDuplicateTrustee
		}
		if err != nil {
			return dbError(err)
		}
		return nil
	})
}

func (s *SQLStore) Relationship(ctx context.Context, id interfaces.RelationshipID) (*interfaces.TrustRelationship, error) {
	rels, err := s.queryRelationships(ctx, s.db, `id = ?`, "", string(id))
	if err != nil {
		return nil, err
	}
	if len(rels) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return rels[0], nil
}

func (s *SQLStore) TransitionApproval(ctx context.Context, id interfaces.RelationshipID, to interfaces.ApprovalState) (*interfaces.TrustRelationship, error) {
	var result *interfaces.TrustRelationship

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rels, err := s.queryRelationships(ctx, tx, `id = ?`, s.forUpdate(), string(id))
		if err != nil {
			return err
		}
		if len(rels) == 0 {
			return interfaces.ErrNotFound
		}
		rel := rels[0]

		changed, err := rel.ApprovalState.Transition(to)
		if err != nil {
			return err
		}
		if !changed {
			result = rel
			return nil
		}

		rel.ApprovalState = to
		rel.UpdatedAt = s.now().UTC()
		if to == interfaces.ApprovalRejected {
			rel.ShareCiphertext = nil
		}

		query := s.rebind(`UPDATE trust_relationships
			SET approval_state = ?, share_ciphertext = ?, updated_at = ?
			WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, query, string(rel.ApprovalState), rel.ShareCiphertext, toMillis(rel.UpdatedAt), string(id)); err != nil {
			return dbError(err)
		}

		result = rel
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLStore) DeleteRelationship(ctx context.Context, id interfaces.RelationshipID) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM trust_relationships WHERE id = ?`), string(id))
	if err != nil {
		return dbError(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return dbError(err)
	}
	if n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (s *SQLStore) RelationshipsByTrustor(ctx context.Context, trustor interfaces.AccountID) ([]*interfaces.TrustRelationship, error) {
	return s.queryRelationships(ctx, s.db, `trustor_id = ? ORDER BY created_at, id`, "", string(trustor))
}

func (s *SQLStore) RelationshipsByTrustee(ctx context.Context, email string) ([]*interfaces.TrustRelationship, error) {
	return s.queryRelationships(ctx, s.db, `trustee_email = ? ORDER BY created_at, id`, "", email)
}

func (s *SQLStore) queryRelationships(ctx context.Context, q queryer, where, suffix string, args ...any) ([]*interfaces.TrustRelationship, error) {
	query := s.rebind(`SELECT ` + relationshipColumns + ` FROM trust_relationships WHERE ` + where + suffix)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	out := []*interfaces.TrustRelationship{}
	for rows.Next() {
		var (
			rel                  interfaces.TrustRelationship
			id, trustor, state   string
			shareIndex           int
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&id, &trustor, &rel.TrustorEmail, &rel.TrusteeEmail, &shareIndex,
			&state, &rel.ShareCiphertext, &createdAt, &updatedAt); err != nil {
			return nil, dbError(err)
		}

		rel.ID = interfaces.RelationshipID(id)
		rel.TrustorID = interfaces.AccountID(trustor)
		rel.ShareIndex = uint8(shareIndex)
		rel.ApprovalState = interfaces.ApprovalState(state)
		rel.CreatedAt = fromMillis(createdAt)
		rel.UpdatedAt = fromMillis(updatedAt)
		out = append(out, &rel)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err)
	}
	return out, nil
}

// Recovery requests

const recoveryColumns = `id, account_id, recoverer_id, threshold, state, session_public_key,
	sealed_session_key, new_credential_hash, created_at, updated_at`

func (s *SQLStore) CreateRecovery(ctx context.Context, req *interfaces.RecoveryRequest) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM accounts WHERE id = ?`), string(req.AccountID)).Scan(&exists)
		if err != nil {
			return dbError(err)
		}

		query := s.rebind(`INSERT INTO recovery_requests (` + recoveryColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		_, err = tx.ExecContext(ctx, query,
			string(req.ID), string(req.AccountID), req.RecovererID, req.Threshold, string(req.State),
			[]byte(req.SessionPublicKey), req.SealedSessionKey, req.NewCredentialHash,
			toMillis(req.CreatedAt), toMillis(req.UpdatedAt))
		if isUniqueViolation(err) {
			return interfaces.ErrRecoveryInProgress
		}
		if err != nil {
			return dbError(err)
		}

		return s.insertShares(ctx, tx, req.ID, req.CollectedShares, 0)
	})
}

func (s *SQLStore) Recovery(ctx context.Context, id interfaces.RecoveryRequestID) (*interfaces.RecoveryRequest, error) {
	return s.loadRecovery(ctx, s.db, id, "")
}

func (s *SQLStore) ActiveRecovery(ctx context.Context, account interfaces.AccountID) (*interfaces.RecoveryRequest, error) {
	var id string
	query := s.rebind(`SELECT id FROM recovery_requests WHERE account_id = ? AND state IN ` + activeStatesSQL)
	if err := s.db.QueryRowContext(ctx, query, string(account)).Scan(&id); err != nil {
		return nil, dbError(err)
	}
	return s.loadRecovery(ctx, s.db, interfaces.RecoveryRequestID(id), "")
}

func (s *SQLStore) PublishRecovery(ctx context.Context, id interfaces.RecoveryRequestID, signature []byte) (*interfaces.RecoveryRequest, error) {
	return s.mutateRecovery(ctx, id, func(tx *sql.Tx, req *interfaces.RecoveryRequest, now time.Time) error {
		if err := recoverystate.Authorize(req, interfaces.RecoveryActionPublish, signature); err != nil {
			return err
		}
		return recoverystate.Publish(req, now)
	})
}

func (s *SQLStore) AppendShare(ctx context.Context, id interfaces.RecoveryRequestID, share interfaces.CollectedShare) (*interfaces.RecoveryRequest, error) {
	return s.mutateRecovery(ctx, id, func(tx *sql.Tx, req *interfaces.RecoveryRequest, now time.Time) error {
		share.SubmittedAt = now
		_, err := recoverystate.Submit(req, share)
		return err
	})
}

func (s *SQLStore) AbandonRecovery(ctx context.Context, id interfaces.RecoveryRequestID, signature []byte) (*interfaces.RecoveryRequest, error) {
	return s.mutateRecovery(ctx, id, func(tx *sql.Tx, req *interfaces.RecoveryRequest, now time.Time) error {
		if err := recoverystate.Authorize(req, interfaces.RecoveryActionAbandon, signature); err != nil {
			return err
		}
		return recoverystate.Abandon(req, now)
	})
}

func (s *SQLStore) CancelRecovery(ctx context.Context, id interfaces.RecoveryRequestID, owner interfaces.AccountID) (*interfaces.RecoveryRequest, error) {
	return s.mutateRecovery(ctx, id, func(tx *sql.Tx, req *interfaces.RecoveryRequest, now time.Time) error {
		return recoverystate.Cancel(req, owner, now)
	})
}

func (s *SQLStore) ExpireRecovery(ctx context.Context, id interfaces.RecoveryRequestID, idleSince time.Time) (*interfaces.RecoveryRequest, error) {
	return s.mutateRecovery(ctx, id, func(tx *sql.Tx, req *interfaces.RecoveryRequest, now time.Time) error {
		return recoverystate.Expire(req, idleSince, now)
	})
}

func (s *SQLStore) CompleteRecovery(ctx context.Context, id interfaces.RecoveryRequestID, update interfaces.CredentialUpdate) (*interfaces.RecoveryRequest, error) {
	return s.mutateRecovery(ctx, id, func(tx *sql.Tx, req *interfaces.RecoveryRequest, now time.Time) error {
		if err := recoverystate.CanComplete(req); err != nil {
			return err
		}

		var verifier []byte
		query := s.rebind(`SELECT secret_verifier FROM accounts WHERE id = ?` + s.forUpdate())
		if err := tx.QueryRowContext(ctx, query, string(req.AccountID)).Scan(&verifier); err != nil {
			return dbError(err)
		}
		if !proofMatches(verifier, update.SecretProof) {
			return interfaces.ErrUnauthorized
		}

		if err := recoverystate.Complete(req, update.CredentialHash, now); err != nil {
			return err
		}

		query = s.rebind(`UPDATE accounts
			SET vault_id = ?, password_salt = ?, password_verifier = ?, updated_at = ?
			WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, query,
			update.VaultID.String(), update.PasswordSalt, update.PasswordVerifier, toMillis(now), string(req.AccountID)); err != nil {
			return dbError(err)
		}
		return nil
	})
}

func (s *SQLStore) StaleRecoveries(ctx context.Context, before time.Time) ([]*interfaces.RecoveryRequest, error) {
	query := s.rebind(`SELECT id FROM recovery_requests
		WHERE state IN ` + activeStatesSQL + ` AND updated_at < ?
		ORDER BY updated_at`)

	rows, err := s.db.QueryContext(ctx, query, toMillis(before))
	if err != nil {
		return nil, dbError(err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, dbError(err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, dbError(err)
	}

	out := make([]*interfaces.RecoveryRequest, 0, len(ids))
	for _, id := range ids {
		req, err := s.Recovery(ctx, interfaces.RecoveryRequestID(id))
		if errors.Is(err, interfaces.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

// mutateRecovery locks the request, applies fn and persists the resulting
// state and any newly appended shares in the same transaction.
func (s *SQLStore) mutateRecovery(ctx context.Context, id interfaces.RecoveryRequestID, fn func(*sql.Tx, *interfaces.RecoveryRequest, time.Time) error) (*interfaces.RecoveryRequest, error) {
	var result *interfaces.RecoveryRequest

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		req, err := s.loadRecovery(ctx, tx, id, s.forUpdate())
		if err != nil {
			return err
		}
		persisted := len(req.CollectedShares)

		if err := fn(tx, req, s.now().UTC()); err != nil {
			return err
		}

		query := s.rebind(`UPDATE recovery_requests
			SET state = ?, new_credential_hash = ?, updated_at = ?
			WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, query, string(req.State), req.NewCredentialHash, toMillis(req.UpdatedAt), string(id)); err != nil {
			return dbError(err)
		}
		if err := s.insertShares(ctx, tx, id, req.CollectedShares[persisted:], persisted); err != nil {
			return err
		}

		result = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLStore) insertShares(ctx context.Context, tx *sql.Tx, id interfaces.RecoveryRequestID, shares []interfaces.CollectedShare, firstSeq int) error {
	query := s.rebind(`INSERT INTO recovery_shares
		(request_id, seq, holder_id, relationship_id, ciphertext, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?)`)

	for i, share := range shares {
		_, err := tx.ExecContext(ctx, query,
			string(id), firstSeq+i, string(share.HolderID), string(share.RelationshipID),
			share.Ciphertext, toMillis(share.SubmittedAt))
		if err != nil {
			return dbError(err)
		}
	}
	return nil
}

func (s *SQLStore) loadRecovery(ctx context.Context, q queryer, id interfaces.RecoveryRequestID, suffix string) (*interfaces.RecoveryRequest, error) {
	query := s.rebind(`SELECT ` + recoveryColumns + ` FROM recovery_requests WHERE id = ?` + suffix)

	var (
		req                  interfaces.RecoveryRequest
		reqID, account       string
		state                string
		sessionPub           []byte
		createdAt, updatedAt int64
	)
	err := q.QueryRowContext(ctx, query, string(id)).Scan(
		&reqID, &account, &req.RecovererID, &req.Threshold, &state, &sessionPub,
		&req.SealedSessionKey, &req.NewCredentialHash, &createdAt, &updatedAt)
	if err != nil {
		return nil, dbError(err)
	}

	req.ID = interfaces.RecoveryRequestID(reqID)
	req.AccountID = interfaces.AccountID(account)
	req.State = interfaces.RecoveryState(state)
	req.SessionPublicKey = interfaces.Pubkey(sessionPub)
	req.CreatedAt = fromMillis(createdAt)
	req.UpdatedAt = fromMillis(updatedAt)

	rows, err := q.QueryContext(ctx, s.rebind(`SELECT holder_id, relationship_id, ciphertext, submitted_at
		FROM recovery_shares WHERE request_id = ? ORDER BY seq`), string(id))
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			share          interfaces.CollectedShare
			holder, relID  string
			submittedAt    int64
		)
		if err := rows.Scan(&holder, &relID, &share.Ciphertext, &submittedAt); err != nil {
			return nil, dbError(err)
		}
		share.HolderID = interfaces.AccountID(holder)
		share.RelationshipID = interfaces.RelationshipID(relID)
		share.SubmittedAt = fromMillis(submittedAt)
		req.CollectedShares = append(req.CollectedShares, share)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err)
	}
	return &req, nil
}
