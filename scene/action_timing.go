package scene

import (
	"math"

	"github.com/iltempo/engine/clock"
)

// ActionTimingKind tags which variant of ActionTiming is populated
// (spec.md §4.7; grounded on bubocore/src/schedule/action_timing.rs and
// core/src/schedule/action_timing.rs).
type ActionTimingKind int

const (
	Immediate ActionTimingKind = iota
	AtNextBeat
	AtBeat
	EndOfLine
	AtNextPhase
)

// ActionTiming says when a deferred scheduler action should take effect.
// AtNextBeat and AtNextPhase are sugar: Resolve pins them to a concrete
// AtBeat target the moment the action is deferred, so ShouldApply never
// has to re-derive "next" relative to a moving current beat.
type ActionTiming struct {
	Kind      ActionTimingKind
	Beat      float64
	LineIndex int
}

// Resolve converts AtNextBeat/AtNextPhase into a concrete AtBeat target
// given the clock's current beat. Immediate, AtBeat and EndOfLine pass
// through unchanged.
func (a ActionTiming) Resolve(cl *clock.Clock) ActionTiming {
	switch a.Kind {
	case AtNextBeat:
		return ActionTiming{Kind: AtBeat, Beat: math.Floor(cl.Beat()) + 1}
	case AtNextPhase:
		return ActionTiming{Kind: AtBeat, Beat: clock.QuantumStartBeat(cl.Beat(), cl.Quantum())}
	default:
		return a
	}
}

// ShouldApply reports whether the action is due. line is not consulted
// and may be nil; EndOfLine timing is decided by atEndOfLine alone.
func (a ActionTiming) ShouldApply(cl *clock.Clock, line *Line, atEndOfLine bool) bool {
	switch a.Kind {
	case Immediate:
		return true
	case AtBeat:
		return cl.Beat() >= a.Beat
	case EndOfLine:
		return atEndOfLine
	default:
		// AtNextBeat/AtNextPhase should be Resolve()d before being stored;
		// treat an unresolved one as due immediately rather than stalling
		// it forever.
		return true
	}
}

// Remaining reports how many beats remain before the action is due, 0 if
// it is already due or due on a condition this function can't anticipate
// (EndOfLine).
func (a ActionTiming) Remaining(cl *clock.Clock) float64 {
	if a.Kind != AtBeat {
		return 0
	}
	r := a.Beat - cl.Beat()
	if r < 0 {
		return 0
	}
	return r
}
