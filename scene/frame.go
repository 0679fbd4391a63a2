package scene

// Frame is one cell of a Line's timeline: a duration (in beats), a repeat
// count, an enabled flag, and the Script it runs (spec.md §3's Frame
// module; grounded on core/src/scene/frame.rs's Frame struct).
type Frame struct {
	DurationBeats float64
	Repetitions   int
	Enabled       bool
	Script        *Script
	Name          string
}

func NewFrame(durationBeats float64, script *Script) *Frame {
	return &Frame{
		DurationBeats: durationBeats,
		Repetitions:   1,
		Enabled:       true,
		Script:        script,
	}
}

// EffectiveRepetitions clamps Repetitions to a minimum of 1: a frame with
// Repetitions < 1 still plays once (core/src/scene/frame.rs's default).
func (f *Frame) EffectiveRepetitions() int {
	if f.Repetitions < 1 {
		return 1
	}
	return f.Repetitions
}

// EffectiveDuration reports the frame's nominal length, or 0 if the frame
// should be treated as absent entirely (disabled or zero-length frames are
// skipped by the frame-index algorithm rather than occupying zero time).
func (f *Frame) EffectiveDuration() float64 {
	if f == nil || !f.Enabled || f.DurationBeats <= 0 {
		return 0
	}
	return f.DurationBeats
}
