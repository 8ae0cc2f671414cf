package clients

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/social-recovery-backend/api/relay"
	"github.com/ruteri/social-recovery-backend/auth"
	"github.com/ruteri/social-recovery-backend/interfaces"
	"github.com/ruteri/social-recovery-backend/recovery"
	"github.com/ruteri/social-recovery-backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRelayServer(t *testing.T) *httptest.Server {
	t.Helper()

	log := testLogger()
	store := storage.NewMemoryStore()
	blobs, err := storage.NewFileBackend(t.TempDir(), log)
	require.NoError(t, err)
	tokens, err := auth.NewTokenIssuer([]byte("client-test-secret-0123456789abc"), time.Hour)
	require.NoError(t, err)

	router := chi.NewRouter()
	router.Get("/livez", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	relay.NewHandler(store, store, store, blobs, tokens, log).WithWriteLimit(600, 100).RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

// user is one person's machine: its own relay client and orchestrator.
type user struct {
	client *RelayClient
	o      *recovery.Orchestrator
}

func newUser(t *testing.T, srv *httptest.Server) *user {
	t.Helper()

	client := NewRelayClient(srv.URL, 5*time.Second, testLogger())
	o, err := recovery.NewOrchestrator(recovery.DefaultConfig(), client, client, client, client, testLogger())
	require.NoError(t, err)
	return &user{client: client, o: o}
}

func (u *user) enrollAndLogin(t *testing.T, name string) *recovery.SessionContext {
	t.Helper()
	ctx := context.Background()
	email, password := name+"@example.com", "password-1-"+name

	res := u.o.Enroll(ctx, name, email, password, password)
	require.True(t, res.Success, "enroll %s: %v", name, res.Err())

	_, err := u.client.Login(ctx, email, password)
	require.NoError(t, err)

	sess := u.o.OpenSession(ctx, email, password)
	require.True(t, sess.Success, "open session %s: %v", name, sess.Err())
	t.Cleanup(sess.Data.Close)
	return sess.Data
}

func TestRecoveryThroughRelay(t *testing.T) {
	srv := newRelayServer(t)
	ctx := context.Background()

	alice, bob, carol := newUser(t, srv), newUser(t, srv), newUser(t, srv)
	aliceSess := alice.enrollAndLogin(t, "alice")
	bobSess := bob.enrollAndLogin(t, "bob")
	carolSess := carol.enrollAndLogin(t, "carol")

	rels := map[*user]interfaces.RelationshipID{}
	for _, trustee := range []struct {
		u    *user
		sess *recovery.SessionContext
	}{{bob, bobSess}, {carol, carolSess}} {
		added := alice.o.AddTrustedParty(ctx, aliceSess, trustee.sess.Email)
		require.True(t, added.Success, added.Err())

		approved := trustee.u.o.RespondToTrustRequest(ctx, trustee.sess, added.Data.ID, recovery.DecisionApprove)
		require.True(t, approved.Success, approved.Err())
		rels[trustee.u] = added.Data.ID
	}

	mine := alice.o.ListTrustedByMe(ctx, aliceSess)
	require.True(t, mine.Success, mine.Err())
	assert.Len(t, mine.Data, 2)

	// the recoverer has lost everything and is not logged in
	recoverer := newUser(t, srv)
	newPassword := "recovered-password-9"
	initiated := recoverer.o.InitiateRecovery(ctx, "alice@example.com", newPassword, newPassword, recovery.InitiateOptions{})
	require.True(t, initiated.Success, initiated.Err())
	requestID := initiated.Data.ID

	pending := bob.o.ListRecoveryRequests(ctx, bobSess)
	require.True(t, pending.Success, pending.Err())
	require.Len(t, pending.Data, 1)
	assert.Equal(t, requestID, pending.Data[0].RequestID)

	submitted := bob.o.SubmitShareForRecovery(ctx, bobSess, requestID, pending.Data[0].RelationshipID)
	require.True(t, submitted.Success, submitted.Err())

	// carol cannot submit under bob's relationship
	forged := carol.o.SubmitShareForRecovery(ctx, carolSess, requestID, rels[bob])
	assert.Equal(t, recovery.KindAuthorization, forged.Kind)

	submitted = carol.o.SubmitShareForRecovery(ctx, carolSess, requestID, rels[carol])
	require.True(t, submitted.Success, submitted.Err())
	assert.Equal(t, interfaces.RecoveryReconstructable, submitted.Data.State)

	final := recoverer.o.FinalizeRecovery(ctx, requestID, newPassword)
	require.True(t, final.Success, final.Err())

	_, err := recoverer.client.Login(ctx, "alice@example.com", "password-1-alice")
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)

	account, err := recoverer.client.Login(ctx, "alice@example.com", newPassword)
	require.NoError(t, err)
	assert.Equal(t, aliceSess.AccountID, account.ID)

	sess := recoverer.o.OpenSession(ctx, "alice@example.com", newPassword)
	require.True(t, sess.Success, sess.Err())
	defer sess.Data.Close()
	assert.Equal(t, aliceSess.AccountID, sess.Data.AccountID)

	status := recoverer.o.RecoveryStatus(ctx, requestID)
	require.True(t, status.Success)
	assert.Equal(t, interfaces.RecoveryCompleted, status.Data.State)
}

func TestOwnerCancelsRecoveryThroughRelay(t *testing.T) {
	srv := newRelayServer(t)
	ctx := context.Background()

	alice := newUser(t, srv)
	aliceSess := alice.enrollAndLogin(t, "alice")

	intruder := newUser(t, srv)
	password := "intruder-password-1"
	initiated := intruder.o.InitiateRecovery(ctx, "alice@example.com", password, password, recovery.InitiateOptions{})
	require.True(t, initiated.Success, initiated.Err())
	requestID := initiated.Data.ID

	bystander := NewRelayClient(srv.URL, 5*time.Second, testLogger())
	_, err := bystander.AbandonRecovery(ctx, requestID, nil)
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
	_, err = bystander.CancelRecovery(ctx, requestID, aliceSess.AccountID)
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)

	req, err := bystander.Recovery(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RecoveryAwaitingShares, req.State)

	cancelled := alice.o.CancelRecovery(ctx, aliceSess, requestID)
	require.True(t, cancelled.Success, cancelled.Err())
	assert.Equal(t, interfaces.RecoveryAbandoned, cancelled.Data.State)
}

func TestRelayClientErrors(t *testing.T) {
	srv := newRelayServer(t)
	ctx := context.Background()
	client := NewRelayClient(srv.URL, 5*time.Second, testLogger())

	_, err := client.AccountByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	_, err = client.RelationshipsByTrustee(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)

	_, err = client.Login(ctx, "nobody@example.com", "password-1")
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)

	_, err = client.Recovery(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	_, err = client.Fetch(ctx, interfaces.ComputeID([]byte("missing")), interfaces.VaultType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	down := NewRelayClient("http://127.0.0.1:1", time.Second, testLogger())
	_, err = down.Account(ctx, "acct")
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	assert.False(t, down.Available(ctx))
}

func TestRelayClientBlobs(t *testing.T) {
	srv := newRelayServer(t)
	ctx := context.Background()
	client := NewRelayClient(srv.URL+"/", 5*time.Second, testLogger())

	assert.True(t, client.Available(ctx))
	assert.Equal(t, "relay", client.Name())
	assert.Equal(t, srv.URL, client.LocationURI())

	data := []byte("sealed key")
	id, err := client.Store(ctx, data, interfaces.KeyType)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ComputeID(data), id)

	fetched, err := client.Fetch(ctx, id, interfaces.KeyType)
	require.NoError(t, err)
	assert.Equal(t, data, fetched)
}

func TestRelayClientRejectsTamperedBlob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not what was asked for"))
	}))
	defer srv.Close()

	client := NewRelayClient(srv.URL, time.Second, testLogger())
	_, err := client.Fetch(context.Background(), interfaces.ComputeID([]byte("original")), interfaces.VaultType)
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
}
