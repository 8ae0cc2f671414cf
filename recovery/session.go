package recovery

import (
	"sync"

	"github.com/ruteri/social-recovery-backend/interfaces"
)

// SessionContext is an unlocked account: who the caller is and the key
// material from its vault. Flows that act on behalf of a user take it
// explicitly.
type SessionContext struct {
	AccountID  interfaces.AccountID `json:"account_id"`
	Email      string               `json:"email"`
	PrivateKey interfaces.Privkey   `json:"-"`
	Shares     *interfaces.ShareSet `json:"-"`
}

// Close wipes the session's key material.
func (s *SessionContext) Close() {
	if s == nil {
		return
	}
	if s.Shares != nil {
		s.Shares.Wipe()
	}
	s.PrivateKey.Wipe()
}

func (s *SessionContext) valid() bool {
	return s != nil && s.AccountID != "" && len(s.PrivateKey) > 0 && s.Shares != nil
}

// keyedMutex hands out one mutex per key and forgets it once nobody holds it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns the matching unlock.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()

		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
