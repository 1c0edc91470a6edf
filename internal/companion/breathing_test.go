package companion

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreathing_RunCycles(t *testing.T) {
	t.Parallel()
	b := Breathing{PhaseSeconds: 2, Step: time.Millisecond}

	var ticks []BreathTick
	if err := b.Run(context.Background(), 2, func(tk BreathTick) { ticks = append(ticks, tk) }); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// 2 cycles x 4 phases x 2 seconds.
	if len(ticks) != 16 {
		t.Fatalf("ticks = %d, want 16", len(ticks))
	}
	want := []BreathTick{
		{1, PhaseInhale, 2}, {1, PhaseInhale, 1},
		{1, PhaseHold, 2}, {1, PhaseHold, 1},
		{1, PhaseExhale, 2}, {1, PhaseExhale, 1},
		{1, PhasePause, 2}, {1, PhasePause, 1},
		{2, PhaseInhale, 2},
	}
	for i, w := range want {
		if ticks[i] != w {
			t.Errorf("tick[%d] = %+v, want %+v", i, ticks[i], w)
		}
	}
	if last := ticks[len(ticks)-1]; last != (BreathTick{2, PhasePause, 1}) {
		t.Errorf("last tick = %+v", last)
	}
}

func TestBreathing_Cancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	b := Breathing{Step: time.Hour}

	n := 0
	err := b.Run(ctx, 3, func(BreathTick) {
		n++
		cancel()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n != 1 {
		t.Fatalf("callbacks = %d, want 1", n)
	}
}

func TestPhase_Strings(t *testing.T) {
	t.Parallel()
	tests := []struct {
		p           Phase
		name, instr string
	}{
		{PhaseInhale, "Inhale", "Tarik napas"},
		{PhaseHold, "Hold", "Tahan"},
		{PhaseExhale, "Exhale", "Hembuskan"},
		{PhasePause, "Pause", "Diam sejenak"},
		{Phase(9), "unknown", ""},
	}
	for _, tc := range tests {
		if tc.p.String() != tc.name || tc.p.Instruction() != tc.instr {
			t.Errorf("Phase(%d) = %q/%q, want %q/%q", tc.p, tc.p.String(), tc.p.Instruction(), tc.name, tc.instr)
		}
	}
}
