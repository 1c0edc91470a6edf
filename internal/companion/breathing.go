package companion

import (
	"context"
	"time"
)

// Phase is one step of a box-breathing cycle.
type Phase int

const (
	PhaseInhale Phase = iota
	PhaseHold
	PhaseExhale
	PhasePause
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseInhale:
		return "Inhale"
	case PhaseHold:
		return "Hold"
	case PhaseExhale:
		return "Exhale"
	case PhasePause:
		return "Pause"
	default:
		return "unknown"
	}
}

// Instruction returns the Indonesian prompt for the phase.
func (p Phase) Instruction() string {
	switch p {
	case PhaseInhale:
		return "Tarik napas"
	case PhaseHold:
		return "Tahan"
	case PhaseExhale:
		return "Hembuskan"
	case PhasePause:
		return "Diam sejenak"
	default:
		return ""
	}
}

// next returns the phase that follows p.
func (p Phase) next() Phase { return (p + 1) % 4 }

// BreathTick is delivered once per second of the exercise.
type BreathTick struct {
	Cycle     int // 1-based
	Phase     Phase
	Remaining int // seconds left in the phase, counting down to 1
}

// DefaultPhaseSeconds is the length of every box-breathing phase.
const DefaultPhaseSeconds = 4

// Breathing drives a box-breathing exercise: inhale, hold, exhale and pause,
// each lasting the same number of seconds.
type Breathing struct {
	PhaseSeconds int
	// Step is the wall-clock length of one second of the exercise; tests
	// shrink it. Zero means time.Second.
	Step time.Duration
}

// Run calls fn once per step for the given number of cycles. It returns
// ctx.Err() when cancelled and nil after the last cycle.
func (b Breathing) Run(ctx context.Context, cycles int, fn func(BreathTick)) error {
	secs := b.PhaseSeconds
	if secs <= 0 {
		secs = DefaultPhaseSeconds
	}
	step := b.Step
	if step <= 0 {
		step = time.Second
	}

	ticker := time.NewTicker(step)
	defer ticker.Stop()

	phase, cycle, remaining := PhaseInhale, 1, secs
	for cycle <= cycles {
		fn(BreathTick{Cycle: cycle, Phase: phase, Remaining: remaining})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		remaining--
		if remaining > 0 {
			continue
		}
		remaining = secs
		if phase == PhasePause {
			cycle++
		}
		phase = phase.next()
	}
	return nil
}
