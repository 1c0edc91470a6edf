package companion

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/mentara/internal/statestore"
)

func TestNewDailyReset_InvalidSchedule(t *testing.T) {
	t.Parallel()
	f := newFixture(t, statestore.NewMemory())
	if _, err := NewDailyReset(f.svc, "not a cron", time.UTC, nil); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestDailyReset_StartCatchesUp(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	_, _ = f.svc.ToggleTask(ctx, "2")
	f.clock.Advance(48 * time.Hour)

	d, err := NewDailyReset(f.svc, DefaultResetSchedule, time.UTC, nil)
	if err != nil {
		t.Fatalf("NewDailyReset: %v", err)
	}
	d.Start(ctx)
	t.Cleanup(func() { d.Stop(context.Background()) })

	st, _ := f.svc.State(ctx)
	if st.CompletedTasks() != 0 {
		t.Fatalf("completed tasks = %d, want 0 after catch-up", st.CompletedTasks())
	}
	if st.LastActive != "2026-10-19" {
		t.Fatalf("LastActive = %q", st.LastActive)
	}

	next := d.Next()
	if next.IsZero() || next.Hour() != 0 || next.Minute() != 0 {
		t.Fatalf("Next = %v, want a midnight run", next)
	}
}
