package sshpool

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/hpcbridge/hpcbridge/pkg/credentials"
)

// maxOutputBytes caps captured command output to keep a runaway remote
// command from exhausting gateway memory.
const maxOutputBytes = 10 * 1024 * 1024

// Config holds the connection parameters for one cluster's pool.
type Config struct {
	Host      string
	Port      int
	ProxyHost string
	ProxyPort int

	// MaxSessions bounds concurrently open sessions across all users.
	MaxSessions int

	ConnectTimeout time.Duration
	ExecuteTimeout time.Duration
	IdleTimeout    time.Duration

	// KeepAlive is how long a session may sit idle before Prune probes it
	// with a keep-alive request instead of trusting it blindly.
	KeepAlive time.Duration
}

// Pool owns the SSH sessions for a single cluster. Sessions are created
// lazily per user, reused while healthy, and pruned after IdleTimeout.
//
// A Pool is never destroyed once published by the Registry; a dead session
// inside it is discarded and replaced on the next Acquire.
type Pool struct {
	cfg      Config
	provider credentials.Provider

	connectTimeout time.Duration
	executeTimeout time.Duration
	idleTimeout    time.Duration
	keepAlive      time.Duration

	// slots bounds the number of live sessions.
	slots chan struct{}

	mu   sync.Mutex
	idle map[string][]*Session
}

// NewPool creates an empty pool. No connection is attempted until Acquire.
func NewPool(cfg Config, provider credentials.Provider) *Pool {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 100
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = 5 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 5 * time.Second
	}

	return &Pool{
		cfg:            cfg,
		provider:       provider,
		connectTimeout: cfg.ConnectTimeout,
		executeTimeout: cfg.ExecuteTimeout,
		idleTimeout:    cfg.IdleTimeout,
		keepAlive:      cfg.KeepAlive,
		slots:          make(chan struct{}, cfg.MaxSessions),
		idle:           make(map[string][]*Session),
	}
}

// Acquire returns a live session authenticated as username, reusing an idle
// one when possible. Blocks while the pool is at MaxSessions until a slot
// frees up or ctx is done.
func (p *Pool) Acquire(ctx context.Context, username, accessToken string) (*Session, error) {
	// Reuse idle sessions first; dead ones are discarded, freeing their slot.
	for {
		s := p.popIdle(username)
		if s == nil {
			break
		}
		if s.alive() {
			return s, nil
		}
		s.close()
		<-p.slots
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire ssh session: %w", ctx.Err())
	}

	s, err := p.dial(ctx, username, accessToken)
	if err != nil {
		<-p.slots
		return nil, err
	}
	return s, nil
}

func (p *Pool) popIdle(username string) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	sessions := p.idle[username]
	if len(sessions) == 0 {
		return nil
	}
	s := sessions[len(sessions)-1]
	p.idle[username] = sessions[:len(sessions)-1]
	return s
}

func (p *Pool) release(s *Session) {
	s.lastUsed = time.Now()
	p.mu.Lock()
	p.idle[s.username] = append(p.idle[s.username], s)
	p.mu.Unlock()
}

// Prune closes idle sessions past the idle timeout and probes the rest with
// keep-alive requests, discarding any whose connection no longer responds.
// Safe to call concurrently with Acquire; the pool object itself survives.
func (p *Pool) Prune() {
	now := time.Now()
	idleCutoff := now.Add(-p.idleTimeout)
	probeCutoff := now.Add(-p.keepAlive)

	var victims, stale []*Session
	p.mu.Lock()
	for user, sessions := range p.idle {
		kept := sessions[:0]
		for _, s := range sessions {
			switch {
			case s.lastUsed.Before(idleCutoff):
				victims = append(victims, s)
			case s.lastUsed.Before(probeCutoff):
				stale = append(stale, s)
			default:
				kept = append(kept, s)
			}
		}
		p.idle[user] = kept
	}
	p.mu.Unlock()

	for _, s := range victims {
		s.close()
		<-p.slots
	}

	// Probing happens off the lock; SendRequest can block on a wedged peer.
	// lastUsed is left untouched so the idle timeout still counts from the
	// last real use.
	for _, s := range stale {
		if !s.alive() {
			s.close()
			<-p.slots
			continue
		}
		p.mu.Lock()
		p.idle[s.username] = append(p.idle[s.username], s)
		p.mu.Unlock()
	}
}

// dial establishes a new authenticated connection, optionally through the
// configured proxy jump host.
func (p *Pool) dial(ctx context.Context, username, accessToken string) (*Session, error) {
	cred, err := p.provider.Credential(ctx, username, accessToken)
	if err != nil {
		return nil, fmt.Errorf("obtain ssh credential: %w", err)
	}

	clientCfg := &ssh.ClientConfig{
		User:            cred.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(cred.Signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         p.connectTimeout,
	}

	addr := hostPort(p.cfg.Host, p.cfg.Port)

	var client *ssh.Client
	if p.cfg.ProxyHost != "" {
		proxy, err := ssh.Dial("tcp", hostPort(p.cfg.ProxyHost, p.cfg.ProxyPort), clientCfg)
		if err != nil {
			return nil, fmt.Errorf("ssh dial proxy: %w", err)
		}
		conn, err := proxy.DialContext(ctx, "tcp", addr)
		if err != nil {
			_ = proxy.Close()
			return nil, fmt.Errorf("ssh dial %s via proxy: %w", addr, err)
		}
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
		if err != nil {
			_ = proxy.Close()
			return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
		}
		client = ssh.NewClient(c, chans, reqs)
	} else {
		client, err = ssh.Dial("tcp", addr, clientCfg)
		if err != nil {
			return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
		}
	}

	return &Session{
		client:   client,
		username: username,
		pool:     p,
		lastUsed: time.Now(),
	}, nil
}

// limitedBuffer collects output up to maxOutputBytes and drops the rest.
type limitedBuffer struct {
	buf bytes.Buffer
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if remaining := maxOutputBytes - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
