package recovery

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/social-recovery-backend/interfaces"
	"github.com/ruteri/social-recovery-backend/storage"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
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

type recordingMetrics struct {
	mu        sync.Mutex
	flows     map[string]int
	submitted int
	completed int
	abandoned map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{flows: map[string]int{}, abandoned: map[string]int{}}
}

func (m *recordingMetrics) FlowFinished(flow, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flows[flow+"/"+kind]++
}

func (m *recordingMetrics) ShareSubmitted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted++
}

func (m *recordingMetrics) RecoveryCompleted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
}

func (m *recordingMetrics) RecoveryAbandoned(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abandoned[reason]++
}

type harness struct {
	o       *Orchestrator
	store   *storage.MemoryStore
	blobs   *storage.FileBackend
	clock   *testClock
	metrics *recordingMetrics
	log     *slog.Logger
}

func newHarness(t *testing.T, threshold int) *harness {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := storage.NewMemoryStore().WithClock(clock.Now)

	blobs, err := storage.NewFileBackend(t.TempDir(), log)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Threshold = threshold
	cfg.InitialShares = threshold

	m := newRecordingMetrics()
	o, err := NewOrchestrator(cfg, store, store, store, blobs, log, WithMetrics(m), WithClock(clock.Now))
	require.NoError(t, err)

	return &harness{o: o, store: store, blobs: blobs, clock: clock, metrics: m, log: log}
}

func email(name string) string {
	return name + "@example.com"
}

func password(name string) string {
	return "password-1-" + name
}

// enroll registers name and returns an open session for it.
func (h *harness) enroll(t *testing.T, name string) *SessionContext {
	t.Helper()

	res := h.o.Enroll(context.Background(), name, email(name), password(name), password(name))
	require.True(t, res.Success, "enroll %s: %v", name, res.Err())

	sess := h.o.OpenSession(context.Background(), email(name), password(name))
	require.True(t, sess.Success, "open session %s: %v", name, sess.Err())
	t.Cleanup(sess.Data.Close)
	return sess.Data
}

// addTrustee creates a relationship from owner to trustee and answers it.
func (h *harness) addTrustee(t *testing.T, owner, trustee *SessionContext, decision Decision) interfaces.RelationshipID {
	t.Helper()
	ctx := context.Background()

	added := h.o.AddTrustedParty(ctx, owner, trustee.Email)
	require.True(t, added.Success, "add trustee %s: %v", trustee.Email, added.Err())

	answered := h.o.RespondToTrustRequest(ctx, trustee, added.Data.ID, decision)
	require.True(t, answered.Success, "respond %s: %v", trustee.Email, answered.Err())
	return added.Data.ID
}

// initiate starts a recovery for owner's account with a new password.
func (h *harness) initiate(t *testing.T, ownerName, newPassword string) *interfaces.RecoveryRequest {
	t.Helper()

	res := h.o.InitiateRecovery(context.Background(), email(ownerName), newPassword, newPassword, InitiateOptions{})
	require.True(t, res.Success, "initiate: %v", res.Err())
	return res.Data
}

func (h *harness) submit(t *testing.T, trustee *SessionContext, req interfaces.RecoveryRequestID, rel interfaces.RelationshipID) *Status {
	t.Helper()

	res := h.o.SubmitShareForRecovery(context.Background(), trustee, req, rel)
	require.True(t, res.Success, "submit %s: %v", rel, res.Err())
	return res.Data
}
