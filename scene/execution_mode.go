package scene

import "github.com/iltempo/engine/clock"

// ExecutionMode governs when a newly armed frame's ScriptExecution is
// actually allowed to start (spec.md §12's supplemented feature, grounded
// on core/src/scene/execution_mode.rs).
type ExecutionMode int

const (
	// AtQuantum waits for the next quantum boundary. It is the default
	// (the zero value), so a freshly added line waits to align rather
	// than arming immediately, matching the grounding source's own
	// #[default] on this variant.
	AtQuantum ExecutionMode = iota
	// Free starts as soon as the frame is armed.
	Free
	// LongestLine waits for the longest-running line's current cycle to
	// complete before starting, so a newly triggered short line doesn't
	// phase against a long one already in flight.
	LongestLine
)

// Remaining reports how many beats to wait before an execution armed under
// this mode may start, given the current beat of the tick that is arming
// it (the caller's own single-capture-per-tick value, not a fresh clock
// read — spec.md §4.1). longestLineBeats is the current remaining length
// (in beats) of the longest active line's cycle; it is only consulted
// under LongestLine and may be 0 if no line is considered authoritative.
func (m ExecutionMode) Remaining(cl *clock.Clock, currentBeat, longestLineBeats float64) float64 {
	switch m {
	case Free:
		return 0
	case AtQuantum:
		return clock.QuantumStartBeat(currentBeat, cl.Quantum()) - currentBeat
	case LongestLine:
		if longestLineBeats > 0 {
			return longestLineBeats
		}
		return clock.QuantumStartBeat(currentBeat, cl.Quantum()) - currentBeat
	default:
		return 0
	}
}
