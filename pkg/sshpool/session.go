// Package sshpool manages bounded pools of authenticated SSH sessions, one
// pool per cluster. Pools are created lazily, published exactly once, and
// never torn down; crashed sessions are replaced inside the pool.
package sshpool

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Result is the structured outcome of one remote command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Session is one authenticated SSH connection to a cluster's login node.
// Sessions are checked out of a Pool, used for one or more commands, and
// returned with Release.
type Session struct {
	client   *ssh.Client
	username string
	pool     *Pool
	lastUsed time.Time

	// aliveFn overrides the keep-alive probe in tests.
	aliveFn func() bool
}

// Username returns the user this session authenticates as.
func (s *Session) Username() string {
	return s.username
}

// Execute runs a command on the remote host, bounded by ctx and the pool's
// execution timeout.
func (s *Session) Execute(ctx context.Context, command string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.pool.executeTimeout)
	defer cancel()

	sess, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open ssh channel: %w", err)
	}
	defer sess.Close()

	var stdout, stderr limitedBuffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(command)
	}()

	select {
	case <-ctx.Done():
		// Closing the channel unblocks Run; the connection itself stays usable.
		_ = sess.Signal(ssh.SIGKILL)
		return nil, fmt.Errorf("execute %q: %w", command, ctx.Err())
	case err = <-done:
	}

	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return nil, fmt.Errorf("execute %q: %w", command, err)
	}
	return res, nil
}

// Stat returns metadata for a remote path, following symlinks.
func (s *Session) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	type statResult struct {
		info fs.FileInfo
		err  error
	}

	ctx, cancel := context.WithTimeout(ctx, s.pool.executeTimeout)
	defer cancel()

	done := make(chan statResult, 1)
	go func() {
		client, err := sftp.NewClient(s.client)
		if err != nil {
			done <- statResult{err: fmt.Errorf("open sftp: %w", err)}
			return
		}
		defer client.Close()
		info, err := client.Stat(path)
		done <- statResult{info: info, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("stat %q: %w", path, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("stat %q: %w", path, r.err)
		}
		return r.info, nil
	}
}

// ReadDir lists a remote directory, used by filesystem reachability probes.
func (s *Session) ReadDir(ctx context.Context, path string) ([]fs.FileInfo, error) {
	type listResult struct {
		infos []fs.FileInfo
		err   error
	}

	ctx, cancel := context.WithTimeout(ctx, s.pool.executeTimeout)
	defer cancel()

	done := make(chan listResult, 1)
	go func() {
		client, err := sftp.NewClient(s.client)
		if err != nil {
			done <- listResult{err: fmt.Errorf("open sftp: %w", err)}
			return
		}
		defer client.Close()
		infos, err := client.ReadDir(path)
		done <- listResult{infos: infos, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("readdir %q: %w", path, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("readdir %q: %w", path, r.err)
		}
		return r.infos, nil
	}
}

// Release returns the session to its pool for reuse.
func (s *Session) Release() {
	s.pool.release(s)
}

// alive sends a keep-alive request and reports whether the connection still
// responds.
func (s *Session) alive() bool {
	if s.aliveFn != nil {
		return s.aliveFn()
	}
	_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

func (s *Session) close() {
	if s.client != nil {
		_ = s.client.Close()
	}
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
