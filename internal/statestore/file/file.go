// Package file stores Mentara documents as JSON files in a local directory.
//
// Each key maps to <dir>/<key>.json. Writes go through a temporary file and
// a rename so a crash never leaves a half-written document. A sibling
// <key>.lock file, held with an advisory flock for the duration of each
// operation, keeps concurrent Mentara processes (CLI and daemon) from
// interleaving.
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"

	"github.com/MrWong99/mentara/internal/statestore"
)

const (
	// DefaultLockTimeout bounds how long an operation waits for the lock.
	DefaultLockTimeout = 5 * time.Second

	// DefaultLockRetry is the delay between lock attempts.
	DefaultLockRetry = 50 * time.Millisecond
)

var (
	_ statestore.Store  = (*Store)(nil)
	_ statestore.Pinger = (*Store)(nil)
)

// ErrLocked is returned when the lock could not be taken within the timeout.
var ErrLocked = errors.New("file store: document is locked by another process")

// Option configures a [Store].
type Option func(*Store)

// WithLockTimeout sets how long an operation waits for the lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithLockRetry sets the delay between lock attempts.
func WithLockRetry(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockRetry = d
		}
	}
}

// Store is a directory-backed [statestore.Store].
type Store struct {
	dir         string
	lockTimeout time.Duration
	lockRetry   time.Duration

	mu     sync.Mutex
	closed bool
}

// New returns a store rooted at dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("file store: directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("file store: create %s: %w", dir, err)
	}
	s := &Store{
		dir:         dir,
		lockTimeout: DefaultLockTimeout,
		lockRetry:   DefaultLockRetry,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

// Load implements [statestore.Store].
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	if err := s.check(key); err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, key, true)
	if err != nil {
		return nil, err
	}
	defer unlock()

	b, err := os.ReadFile(s.docPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("file store: load %q: %w", key, statestore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("file store: load %q: %w", key, err)
	}
	return b, nil
}

// Save implements [statestore.Store].
func (s *Store) Save(ctx context.Context, key string, body []byte) error {
	if err := s.check(key); err != nil {
		return err
	}
	unlock, err := s.lock(ctx, key, false)
	if err != nil {
		return err
	}
	defer unlock()

	if err := atomic.WriteFile(s.docPath(key), bytes.NewReader(body)); err != nil {
		return fmt.Errorf("file store: save %q: %w", key, err)
	}
	return nil
}

// Ping reports whether the directory is still reachable.
func (s *Store) Ping(context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("file store: ping: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("file store: ping: %s is not a directory", s.dir)
	}
	return nil
}

// Close implements [statestore.Store].
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) check(key string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return statestore.ErrClosed
	}
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("file store: invalid key %q", key)
	}
	return nil
}

func (s *Store) docPath(key string) string  { return filepath.Join(s.dir, key+".json") }
func (s *Store) lockPath(key string) string { return filepath.Join(s.dir, key+".lock") }

// lock takes a shared (read) or exclusive lock on key's lock file and returns
// the release function.
func (s *Store) lock(ctx context.Context, key string, shared bool) (func(), error) {
	fl := flock.New(s.lockPath(key))

	lctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	var (
		ok  bool
		err error
	)
	if shared {
		ok, err = fl.TryRLockContext(lctx, s.lockRetry)
	} else {
		ok, err = fl.TryLockContext(lctx, s.lockRetry)
	}
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, fmt.Errorf("file store: lock %q: %w", key, ctx.Err())
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("%w (waited %v)", ErrLocked, s.lockTimeout)
	case err != nil:
		return nil, fmt.Errorf("file store: lock %q: %w", key, err)
	case !ok:
		return nil, ErrLocked
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			slog.Warn("file store: release lock", "key", key, "err", err)
		}
	}, nil
}
