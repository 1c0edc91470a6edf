package statestore

import (
	"context"
	"errors"
	"testing"
)

func TestMemory_LoadMissing(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	if _, err := m.Load(context.Background(), "mentara_state_v2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemory_SaveOverwrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	if err := m.Save(ctx, "k", []byte(`{"streak":1}`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := m.Save(ctx, "k", []byte(`{"streak":2}`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := m.Load(ctx, "k")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != `{"streak":2}` {
		t.Fatalf("Load = %s, want last write", got)
	}
}

func TestMemory_CopiesBuffers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	body := []byte("abc")
	_ = m.Save(ctx, "k", body)
	body[0] = 'x'

	got, _ := m.Load(ctx, "k")
	got[1] = 'y'
	again, _ := m.Load(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("stored document changed to %q", again)
	}
}

func TestMemory_Closed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := m.Save(ctx, "k", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("Save err = %v, want ErrClosed", err)
	}
	if _, err := m.Load(ctx, "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Load err = %v, want ErrClosed", err)
	}
}
