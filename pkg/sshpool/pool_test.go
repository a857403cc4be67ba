package sshpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcbridge/hpcbridge/pkg/credentials"
	"github.com/hpcbridge/hpcbridge/pkg/gwerr"
)

func testPool(t *testing.T) *Pool {
	t.Helper()
	return NewPool(Config{
		Host:        "daint.example.com",
		Port:        22,
		MaxSessions: 4,
		IdleTimeout: time.Minute,
		KeepAlive:   5 * time.Second,
	}, credentials.NewStaticProvider(nil))
}

// addIdle parks a fake session in the pool, occupying a slot the way a real
// released session would.
func addIdle(p *Pool, username string, lastUsed time.Time, alive bool) *Session {
	s := &Session{
		username: username,
		pool:     p,
		lastUsed: lastUsed,
		aliveFn:  func() bool { return alive },
	}
	p.slots <- struct{}{}
	p.idle[username] = append(p.idle[username], s)
	return s
}

func TestPrune_EvictsExpiredSessions(t *testing.T) {
	p := testPool(t)
	addIdle(p, "alice", time.Now().Add(-2*time.Minute), true)
	addIdle(p, "alice", time.Now(), true)

	p.Prune()

	assert.Len(t, p.idle["alice"], 1, "only the expired session is evicted")
	assert.Len(t, p.slots, 1, "eviction frees the slot")
}

func TestPrune_KeepAliveDiscardsDeadSessions(t *testing.T) {
	p := testPool(t)
	staleAt := time.Now().Add(-10 * time.Second)
	live := addIdle(p, "alice", staleAt, true)
	addIdle(p, "alice", staleAt, false)

	p.Prune()

	require.Len(t, p.idle["alice"], 1)
	assert.Same(t, live, p.idle["alice"][0])
	assert.Len(t, p.slots, 1, "the dead session's slot is freed")

	// The keep-alive probe is not a use; the idle clock keeps running from
	// the last real use.
	assert.Equal(t, staleAt, live.lastUsed)
}

func TestPrune_FreshSessionsNotProbed(t *testing.T) {
	p := testPool(t)
	probed := false
	s := &Session{
		username: "alice",
		pool:     p,
		lastUsed: time.Now(),
		aliveFn:  func() bool { probed = true; return true },
	}
	p.slots <- struct{}{}
	p.idle["alice"] = append(p.idle["alice"], s)

	p.Prune()

	assert.False(t, probed, "sessions used within the keep-alive window are trusted")
	assert.Len(t, p.idle["alice"], 1)
}

func TestAcquire_ReusesLiveIdleSession(t *testing.T) {
	p := testPool(t)
	s := addIdle(p, "alice", time.Now(), true)

	got, err := p.Acquire(context.Background(), "alice", "token")
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestAcquire_DiscardsDeadIdleSession(t *testing.T) {
	p := testPool(t)
	addIdle(p, "alice", time.Now(), false)

	// The dead session is dropped and its slot freed; the subsequent dial
	// fails at the credential lookup since no keys are configured.
	_, err := p.Acquire(context.Background(), "alice", "token")
	require.Error(t, err)
	assert.True(t, gwerr.IsNotFound(err))
	assert.Empty(t, p.idle["alice"])
	assert.Empty(t, p.slots, "the discarded session must not leak its slot")
}

func TestNewPool_Defaults(t *testing.T) {
	p := NewPool(Config{Host: "daint.example.com", Port: 22}, credentials.NewStaticProvider(nil))

	assert.Equal(t, 100, cap(p.slots))
	assert.Equal(t, 5*time.Second, p.connectTimeout)
	assert.Equal(t, 60*time.Second, p.idleTimeout)
	assert.Equal(t, 5*time.Second, p.keepAlive)
}
