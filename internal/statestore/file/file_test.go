package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/MrWong99/mentara/internal/statestore"
)

const key = "mentara_state_v2"

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "state"), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SaveLoad(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	body := []byte(`{"userName":"Sobat Mentara","streak":3}`)
	if err := s.Save(ctx, key, body); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx, key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("Load = %s, want %s", got, body)
	}

	onDisk, err := os.ReadFile(filepath.Join(s.Dir(), key+".json"))
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	if string(onDisk) != string(body) {
		t.Fatalf("document on disk = %s", onDisk)
	}
}

func TestStore_LastWriteWins(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	for _, b := range []string{`{"streak":1}`, `{"streak":2}`, `{"streak":3}`} {
		if err := s.Save(ctx, key, []byte(b)); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	got, _ := s.Load(ctx, key)
	if string(got) != `{"streak":3}` {
		t.Fatalf("Load = %s, want last write", got)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if _, err := s.Load(context.Background(), key); !errors.Is(err, statestore.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_InvalidKey(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	for _, k := range []string{"", "..", "a/b", `a\b`} {
		if err := s.Save(context.Background(), k, []byte("{}")); err == nil {
			t.Errorf("Save(%q) succeeded, want error", k)
		}
	}
}

func TestStore_LockedByOtherHolder(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, WithLockTimeout(100*time.Millisecond), WithLockRetry(10*time.Millisecond))

	other := flock.New(filepath.Join(s.Dir(), key+".lock"))
	ok, err := other.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock: ok=%v err=%v", ok, err)
	}

	start := time.Now()
	err = s.Save(context.Background(), key, []byte("{}"))
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("err = %v, want ErrLocked", err)
	}
	if waited := time.Since(start); waited < 100*time.Millisecond {
		t.Fatalf("gave up after %v, want at least the lock timeout", waited)
	}

	if err := other.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if err := s.Save(context.Background(), key, []byte("{}")); err != nil {
		t.Fatalf("Save after unlock: %v", err)
	}
}

func TestStore_ClosedAndPing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	_ = s.Close()
	if err := s.Save(context.Background(), key, nil); !errors.Is(err, statestore.ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestNew_RequiresDir(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty directory")
	}
}
