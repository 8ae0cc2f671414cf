package storage

import (
	"context"
	"crypto/sha256"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/social-recovery-backend/cryptoutils"
	"github.com/ruteri/social-recovery-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordStore interface {
	interfaces.AccountDirectory
	interfaces.TrustStore
	interfaces.RecoveryStore
	interfaces.StaleRecoveryLister
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testAccount(id, username, email string, now time.Time) *interfaces.Account {
	return &interfaces.Account{
		ID:               interfaces.AccountID(id),
		Username:         username,
		Email:            email,
		PublicKey:        interfaces.Pubkey{0x04, 0x01, 0x02},
		Threshold:        2,
		SealedKeyID:      interfaces.ComputeID([]byte("key-" + id)),
		VaultID:          interfaces.ComputeID([]byte("vault-" + id)),
		PasswordSalt:     []byte("salt-" + id),
		PasswordVerifier: []byte("pwv-" + id),
		SecretVerifier:   []byte("secret-" + id),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func testRelationship(id string, trustor *interfaces.Account, trusteeEmail string, index uint8, now time.Time) *interfaces.TrustRelationship {
	return &interfaces.TrustRelationship{
		ID:              interfaces.RelationshipID(id),
		TrustorID:       trustor.ID,
		TrustorEmail:    trustor.Email,
		TrusteeEmail:    trusteeEmail,
		ShareIndex:      index,
		ApprovalState:   interfaces.ApprovalPending,
		ShareCiphertext: []byte("ct-" + id),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// testSessionKey derives a fixed session key per request ID.
func testSessionKey(id string) interfaces.Privkey {
	seed := sha256.Sum256([]byte("session-" + id))
	return interfaces.Privkey(seed[:])
}

func signed(t *testing.T, id string, action interfaces.RecoveryAction) []byte {
	t.Helper()
	sig, err := cryptoutils.SignAction(testSessionKey(id), string(action), id)
	require.NoError(t, err)
	return sig
}

func testRecovery(id string, account *interfaces.Account, now time.Time) *interfaces.RecoveryRequest {
	sessionPub, err := testSessionKey(id).Public()
	if err != nil {
		panic(err)
	}
	return &interfaces.RecoveryRequest{
		ID:               interfaces.RecoveryRequestID(id),
		AccountID:        account.ID,
		RecovererID:      "device-" + id,
		Threshold:        account.Threshold,
		State:            interfaces.RecoveryInitiated,
		SessionPublicKey: sessionPub,
		SealedSessionKey: []byte("sealed-" + id),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func share(rel string) interfaces.CollectedShare {
	return interfaces.CollectedShare{
		HolderID:       interfaces.AccountID("holder-" + rel),
		RelationshipID: interfaces.RelationshipID(rel),
		Ciphertext:     []byte("reenc-" + rel),
	}
}

// runStoreContract exercises the behavior every record store must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T, clock *testClock) recordStore) {
	ctx := context.Background()

	t.Run("accounts", func(t *testing.T) {
		clock := newTestClock()
		store := newStore(t, clock)

		alice := testAccount("a1", "alice", "alice@example.com", clock.Now())
		require.NoError(t, store.CreateAccount(ctx, alice))

		got, err := store.Account(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, alice, got)

		got, err = store.AccountByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, got.ID)

		_, err = store.Account(ctx, "missing")
		assert.ErrorIs(t, err, interfaces.ErrNotFound)
		_, err = store.AccountByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, interfaces.ErrNotFound)

		dupEmail := testAccount("a2", "alice2", "alice@example.com", clock.Now())
		assert.ErrorIs(t, store.CreateAccount(ctx, dupEmail), interfaces.ErrAccountExists)
		dupName := testAccount("a3", "alice", "other@example.com", clock.Now())
		assert.ErrorIs(t, store.CreateAccount(ctx, dupName), interfaces.ErrAccountExists)
	})

	t.Run("relationships", func(t *testing.T) {
		clock := newTestClock()
		store := newStore(t, clock)

		alice := testAccount("a1", "alice", "alice@example.com", clock.Now())
		require.NoError(t, store.CreateAccount(ctx, alice))

		r1 := testRelationship("r1", alice, "bob@example.com", 1, clock.Now())
		r2 := testRelationship("r2", alice, "carol@example.com", 2, clock.Now().Add(time.Second))
		require.NoError(t, store.CreateRelationship(ctx, r1))
		require.NoError(t, store.CreateRelationship(ctx, r2))

		dup := testRelationship("r3", alice, "bob@example.com", 3, clock.Now())
		assert.ErrorIs(t, store.CreateRelationship(ctx, dup), interfaces.ErrDuplicateTrustee)

		byTrustor, err := store.RelationshipsByTrustor(ctx, alice.ID)
		require.NoError(t, err)
		require.Len(t, byTrustor, 2)
		assert.Equal(t, interfaces.RelationshipID("r1"), byTrustor[0].ID)
		assert.Equal(t, interfaces.RelationshipID("r2"), byTrustor[1].ID)

		byTrustee, err := store.RelationshipsByTrustee(ctx, "bob@example.com")
		require.NoError(t, err)
		require.Len(t, byTrustee, 1)
		assert.Equal(t, r1, byTrustee[0])

		clock.Advance(time.Minute)
		accepted, err := store.TransitionApproval(ctx, "r1", interfaces.ApprovalAccepted)
		require.NoError(t, err)
		assert.Equal(t, interfaces.ApprovalAccepted, accepted.ApprovalState)
		assert.Equal(t, clock.Now(), accepted.UpdatedAt)
		assert.Equal(t, r1.ShareCiphertext, accepted.ShareCiphertext)

		// repeating the decision is a no-op
		again, err := store.TransitionApproval(ctx, "r1", interfaces.ApprovalAccepted)
		require.NoError(t, err)
		assert.Equal(t, accepted, again)

		_, err = store.TransitionApproval(ctx, "r1", interfaces.ApprovalRejected)
		assert.ErrorIs(t, err, interfaces.ErrInvalidTransition)

		rejected, err := store.TransitionApproval(ctx, "r2", interfaces.ApprovalRejected)
		require.NoError(t, err)
		assert.Equal(t, interfaces.ApprovalRejected, rejected.ApprovalState)
		assert.Empty(t, rejected.ShareCiphertext)

		stored, err := store.Relationship(ctx, "r2")
		require.NoError(t, err)
		assert.Equal(t, interfaces.ApprovalRejected, stored.ApprovalState)
		assert.Empty(t, stored.ShareCiphertext)

		// a rejected relationship frees the trustee for a new request
		retry := testRelationship("r4", alice, "carol@example.com", 4, clock.Now())
		require.NoError(t, store.CreateRelationship(ctx, retry))

		_, err = store.TransitionApproval(ctx, "missing", interfaces.ApprovalAccepted)
		assert.ErrorIs(t, err, interfaces.ErrNotFound)

		require.NoError(t, store.DeleteRelationship(ctx, "r1"))
		_, err = store.Relationship(ctx, "r1")
		assert.ErrorIs(t, err, interfaces.ErrNotFound)
		assert.ErrorIs(t, store.DeleteRelationship(ctx, "r1"), interfaces.ErrNotFound)
	})

	t.Run("share indexes are never reassigned", func(t *testing.T) {
		clock := newTestClock()
		store := newStore(t, clock)

		alice := testAccount("a1", "alice", "alice@example.com", clock.Now())
		bob := testAccount("b1", "bob", "bob@example.com", clock.Now())
		require.NoError(t, store.CreateAccount(ctx, alice))
		require.NoError(t, store.CreateAccount(ctx, bob))

		require.NoError(t, store.CreateRelationship(ctx, testRelationship("r1", alice, "carol@example.com", 3, clock.Now())))

		err := store.CreateRelationship(ctx, testRelationship("r2", alice, "dave@example.com", 3, clock.Now()))
		assert.ErrorIs(t, err, interfaces.ErrShareIndexTaken)
		_, err = store.Relationship(ctx, "r2")
		assert.ErrorIs(t, err, interfaces.ErrNotFound)

		// indexes are per trustor
		require.NoError(t, store.CreateRelationship(ctx, testRelationship("r3", bob, "dave@example.com", 3, clock.Now())))

		// a failed insert does not hold on to its index
		err = store.CreateRelationship(ctx, testRelationship("r4", alice, "carol@example.com", 4, clock.Now()))
		assert.ErrorIs(t, err, interfaces.ErrDuplicateTrustee)
		require.NoError(t, store.CreateRelationship(ctx, testRelationship("r5", alice, "erin@example.com", 4, clock.Now())))

		// revocation keeps the index reserved
		require.NoError(t, store.DeleteRelationship(ctx, "r1"))
		err = store.CreateRelationship(ctx, testRelationship("r6", alice, "frank@example.com", 3, clock.Now()))
		assert.ErrorIs(t, err, interfaces.ErrShareIndexTaken)
		require.NoError(t, store.CreateRelationship(ctx, testRelationship("r7", alice, "carol@example.com", 5, clock.Now())))
	})

	t.Run("recovery lifecycle", func(t *testing.T) {
		clock := newTestClock()
		store := newStore(t, clock)

		alice := testAccount("a1", "alice", "alice@example.com", clock.Now())
		require.NoError(t, store.CreateAccount(ctx, alice))

		orphan := testRecovery("q0", testAccount("ghost", "ghost", "ghost@example.com", clock.Now()), clock.Now())
		assert.ErrorIs(t, store.CreateRecovery(ctx, orphan), interfaces.ErrNotFound)

		req := testRecovery("q1", alice, clock.Now())
		require.NoError(t, store.CreateRecovery(ctx, req))
		assert.ErrorIs(t, store.CreateRecovery(ctx, testRecovery("q2", alice, clock.Now())), interfaces.ErrRecoveryInProgress)

		active, err := store.ActiveRecovery(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, req.ID, active.ID)

		_, err = store.AppendShare(ctx, "q1", share("r1"))
		assert.ErrorIs(t, err, interfaces.ErrInvalidState)

		published, err := store.PublishRecovery(ctx, "q1", signed(t, "q1", interfaces.RecoveryActionPublish))
		require.NoError(t, err)
		assert.Equal(t, interfaces.RecoveryAwaitingShares, published.State)

		clock.Advance(time.Minute)
		got, err := store.AppendShare(ctx, "q1", share("r1"))
		require.NoError(t, err)
		assert.Equal(t, interfaces.RecoveryAwaitingShares, got.State)
		require.Len(t, got.CollectedShares, 1)
		assert.Equal(t, clock.Now(), got.CollectedShares[0].SubmittedAt)

		got, err = store.AppendShare(ctx, "q1", share("r1"))
		require.NoError(t, err)
		assert.Len(t, got.CollectedShares, 1)

		_, err = store.CompleteRecovery(ctx, "q1", interfaces.CredentialUpdate{SecretProof: alice.SecretVerifier})
		assert.ErrorIs(t, err, interfaces.ErrInvalidState)

		clock.Advance(time.Minute)
		got, err = store.AppendShare(ctx, "q1", share("r2"))
		require.NoError(t, err)
		assert.Equal(t, interfaces.RecoveryReconstructable, got.State)

		got, err = store.AppendShare(ctx, "q1", share("r3"))
		require.NoError(t, err)
		assert.Equal(t, interfaces.RecoveryReconstructable, got.State)
		require.Len(t, got.CollectedShares, 3)
		assert.Equal(t, interfaces.RelationshipID("r1"), got.CollectedShares[0].RelationshipID)
		assert.Equal(t, interfaces.RelationshipID("r2"), got.CollectedShares[1].RelationshipID)
		assert.Equal(t, interfaces.RelationshipID("r3"), got.CollectedShares[2].RelationshipID)

		update := interfaces.CredentialUpdate{
			VaultID:          interfaces.ComputeID([]byte("new-vault")),
			PasswordSalt:     []byte("new-salt"),
			PasswordVerifier: []byte("new-pwv"),
			SecretProof:      []byte("wrong"),
			CredentialHash:   []byte("hash"),
		}
		_, err = store.CompleteRecovery(ctx, "q1", update)
		assert.ErrorIs(t, err, interfaces.ErrUnauthorized)

		stillOpen, err := store.Recovery(ctx, "q1")
		require.NoError(t, err)
		assert.Equal(t, interfaces.RecoveryReconstructable, stillOpen.State)

		clock.Advance(time.Minute)
		update.SecretProof = alice.SecretVerifier
		completed, err := store.CompleteRecovery(ctx, "q1", update)
		require.NoError(t, err)
		assert.Equal(t, interfaces.RecoveryCompleted, completed.State)
		assert.Equal(t, []byte("hash"), completed.NewCredentialHash)

		_, err = store.CompleteRecovery(ctx, "q1", update)
		assert.ErrorIs(t, err, interfaces.ErrInvalidState)

		account, err := store.Account(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, update.VaultID, account.VaultID)
		assert.Equal(t, update.PasswordSalt, account.PasswordSalt)
		assert.Equal(t, update.PasswordVerifier, account.PasswordVerifier)
		assert.Equal(t, alice.SecretVerifier, account.SecretVerifier)
		assert.Equal(t, clock.Now(), account.UpdatedAt)

		_, err = store.AppendShare(ctx, "q1", share("r4"))
		assert.ErrorIs(t, err, interfaces.ErrSessionClosed)

		_, err = store.ActiveRecovery(ctx, alice.ID)
		assert.ErrorIs(t, err, interfaces.ErrNotFound)

		// completed requests no longer block a new one
		require.NoError(t, store.CreateRecovery(ctx, testRecovery("q3", alice, clock.Now())))
	})

	t.Run("abandon and staleness", func(t *testing.T) {
		clock := newTestClock()
		store := newStore(t, clock)

		alice := testAccount("a1", "alice", "alice@example.com", clock.Now())
		bob := testAccount("b1", "bob", "bob@example.com", clock.Now())
		require.NoError(t, store.CreateAccount(ctx, alice))
		require.NoError(t, store.CreateAccount(ctx, bob))

		require.NoError(t, store.CreateRecovery(ctx, testRecovery("q1", alice, clock.Now())))
		_, err := store.PublishRecovery(ctx, "q1", signed(t, "q1", interfaces.RecoveryActionPublish))
		require.NoError(t, err)

		clock.Advance(time.Hour)
		require.NoError(t, store.CreateRecovery(ctx, testRecovery("q2", bob, clock.Now())))

		stale, err := store.StaleRecoveries(ctx, clock.Now().Add(-30*time.Minute))
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, interfaces.RecoveryRequestID("q1"), stale[0].ID)

		_, err = store.AbandonRecovery(ctx, "q1", nil)
		assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
		_, err = store.AbandonRecovery(ctx, "q1", signed(t, "q2", interfaces.RecoveryActionAbandon))
		assert.ErrorIs(t, err, interfaces.ErrUnauthorized)

		abandoned, err := store.AbandonRecovery(ctx, "q1", signed(t, "q1", interfaces.RecoveryActionAbandon))
		require.NoError(t, err)
		assert.Equal(t, interfaces.RecoveryAbandoned, abandoned.State)

		again, err := store.AbandonRecovery(ctx, "q1", signed(t, "q1", interfaces.RecoveryActionAbandon))
		require.NoError(t, err)
		assert.Equal(t, interfaces.RecoveryAbandoned, again.State)

		_, err = store.AppendShare(ctx, "q1", share("r1"))
		assert.ErrorIs(t, err, interfaces.ErrSessionClosed)
		_, err = store.PublishRecovery(ctx, "q1", signed(t, "q1", interfaces.RecoveryActionPublish))
		assert.ErrorIs(t, err, interfaces.ErrSessionClosed)

		stale, err = store.StaleRecoveries(ctx, clock.Now().Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, interfaces.RecoveryRequestID("q2"), stale[0].ID)

		_, err = store.AbandonRecovery(ctx, "missing", signed(t, "missing", interfaces.RecoveryActionAbandon))
		assert.ErrorIs(t, err, interfaces.ErrNotFound)
	})

	t.Run("recoverer signatures", func(t *testing.T) {
		clock := newTestClock()
		store := newStore(t, clock)

		alice := testAccount("a1", "alice", "alice@example.com", clock.Now())
		require.NoError(t, store.CreateAccount(ctx, alice))
		require.NoError(t, store.CreateRecovery(ctx, testRecovery("q1", alice, clock.Now())))

		_, err := store.PublishRecovery(ctx, "q1", nil)
		assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
		_, err = store.PublishRecovery(ctx, "q1", signed(t, "q1", interfaces.RecoveryActionAbandon))
		assert.ErrorIs(t, err, interfaces.ErrUnauthorized)

		req, err := store.Recovery(ctx, "q1")
		require.NoError(t, err)
		assert.Equal(t, interfaces.RecoveryInitiated, req.State)

		_, err = store.PublishRecovery(ctx, "q1", signed(t, "q1", interfaces.RecoveryActionPublish))
		require.NoError(t, err)

		_, err = store.AbandonRecovery(ctx, "q1", signed(t, "q1", interfaces.RecoveryActionPublish))
		assert.ErrorIs(t, err, interfaces.ErrUnauthorized)

		req, err = store.Recovery(ctx, "q1")
		require.NoError(t, err)
		assert.Equal(t, interfaces.RecoveryAwaitingShares, req.State)
	})

	t.Run("owner cancel", func(t *testing.T) {
		clock := newTestClock()
		store := newStore(t, clock)

		alice := testAccount("a1", "alice", "alice@example.com", clock.Now())
		bob := testAccount("b1", "bob", "bob@example.com", clock.Now())
		require.NoError(t, store.CreateAccount(ctx, alice))
		require.NoError(t, store.CreateAccount(ctx, bob))
		require.NoError(t, store.CreateRecovery(ctx, testRecovery("q1", alice, clock.Now())))

		_, err := store.CancelRecovery(ctx, "q1", bob.ID)
		assert.ErrorIs(t, err, interfaces.ErrUnauthorized)

		clock.Advance(time.Minute)
		cancelled, err := store.CancelRecovery(ctx, "q1", alice.ID)
		require.NoError(t, err)
		assert.Equal(t, interfaces.RecoveryAbandoned, cancelled.State)
		assert.Equal(t, clock.Now(), cancelled.UpdatedAt)

		_, err = store.CancelRecovery(ctx, "missing", alice.ID)
		assert.ErrorIs(t, err, interfaces.ErrNotFound)
	})

	t.Run("expire", func(t *testing.T) {
		clock := newTestClock()
		store := newStore(t, clock)

		alice := testAccount("a1", "alice", "alice@example.com", clock.Now())
		require.NoError(t, store.CreateAccount(ctx, alice))
		require.NoError(t, store.CreateRecovery(ctx, testRecovery("q1", alice, clock.Now())))
		_, err := store.PublishRecovery(ctx, "q1", signed(t, "q1", interfaces.RecoveryActionPublish))
		require.NoError(t, err)

		clock.Advance(time.Hour)
		_, err = store.AppendShare(ctx, "q1", share("r1"))
		require.NoError(t, err)

		// activity after the cutoff keeps the request open
		_, err = store.ExpireRecovery(ctx, "q1", clock.Now().Add(-time.Minute))
		assert.ErrorIs(t, err, interfaces.ErrInvalidState)

		clock.Advance(time.Hour)
		expired, err := store.ExpireRecovery(ctx, "q1", clock.Now().Add(-time.Minute))
		require.NoError(t, err)
		assert.Equal(t, interfaces.RecoveryAbandoned, expired.State)
		assert.Len(t, expired.CollectedShares, 1)

		_, err = store.ExpireRecovery(ctx, "q1", clock.Now())
		assert.ErrorIs(t, err, interfaces.ErrSessionClosed)
	})

	t.Run("concurrent submissions", func(t *testing.T) {
		clock := newTestClock()
		store := newStore(t, clock)

		alice := testAccount("a1", "alice", "alice@example.com", clock.Now())
		alice.Threshold = 3
		require.NoError(t, store.CreateAccount(ctx, alice))
		require.NoError(t, store.CreateRecovery(ctx, testRecovery("q1", alice, clock.Now())))
		_, err := store.PublishRecovery(ctx, "q1", signed(t, "q1", interfaces.RecoveryActionPublish))
		require.NoError(t, err)

		rels := []string{"r1", "r2", "r3", "r4", "r5"}
		var wg sync.WaitGroup
		for _, rel := range rels {
			wg.Add(1)
			go func(rel string) {
				defer wg.Done()
				_, err := store.AppendShare(ctx, "q1", share(rel))
				assert.NoError(t, err)
			}(rel)
		}
		wg.Wait()

		req, err := store.Recovery(ctx, "q1")
		require.NoError(t, err)
		assert.Equal(t, interfaces.RecoveryReconstructable, req.State)
		assert.Len(t, req.CollectedShares, len(rels))
	})
}
