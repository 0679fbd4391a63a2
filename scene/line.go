package scene

import (
	"sync"

	"github.com/iltempo/engine/vm"
)

// Line is one timeline track: an ordered list of Frames, a playback speed
// factor, an optional custom length that truncates the line's natural
// cycle, an optional sub-range restricting which Frames participate, an
// end flag marking the line as one-shot, and its own scoped variable store
// (spec.md §3's Line module).
type Line struct {
	mu sync.RWMutex

	Frames []*Frame

	// SpeedFactor divides every frame's duration, so higher values play
	// the line faster; 0 behaves as 1 (spec.md §3: "speed_factor 0 -> 1").
	SpeedFactor float64

	// CustomLength, if > 0, truncates the line's natural frame-cycle
	// length to this many beats (scaled by SpeedFactor the same way a
	// frame's own duration is).
	CustomLength float64

	// RangeStart/RangeEnd restrict playback to Frames[RangeStart:RangeEnd].
	// RangeEnd == 0 means "through the end of Frames".
	RangeStart int
	RangeEnd   int

	// EndFlag marks the line as one-shot: after the first full pass
	// through its cycle it stops producing frames instead of looping.
	EndFlag bool

	// DeviceSlot seeds the _current_midi_device_id instance variable of
	// every execution armed on this line, for scripts that name their
	// device through it.
	DeviceSlot int

	// Mode governs when a frame newly armed on this line is actually
	// allowed to start (spec.md §12's supplemented ExecutionMode feature).
	Mode ExecutionMode

	Vars *vm.Store
}

func NewLine() *Line {
	return &Line{SpeedFactor: 1, Vars: vm.NewStore()}
}

func (l *Line) effectiveSpeed() float64 {
	if l.SpeedFactor <= 0 {
		return 1
	}
	return l.SpeedFactor
}

func (l *Line) effectiveFrames() []*Frame {
	start := l.RangeStart
	if start < 0 {
		start = 0
	}
	end := l.RangeEnd
	if end <= 0 || end > len(l.Frames) {
		end = len(l.Frames)
	}
	if start >= end {
		return nil
	}
	return l.Frames[start:end]
}

// NumFrames and FrameLenBeats implement vm.LineInfo, letting EnvironmentFunc
// FrameLen resolve without the vm package importing scene.
func (l *Line) NumFrames() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.effectiveFrames())
}

func (l *Line) FrameLenBeats(frameIndex int) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	frames := l.effectiveFrames()
	if frameIndex < 0 || frameIndex >= len(frames) {
		return 0
	}
	return frames[frameIndex].EffectiveDuration() / l.effectiveSpeed()
}

// NaturalLengthBeats reports the line's own cycle length before any
// CustomLength truncation: the sum of each effective frame's duration ×
// repetitions, divided by the speed factor. Used by ExecutionMode.LongestLine to find
// the scene's authoritative cycle (spec.md §2's "longest-line logic").
func (l *Line) NaturalLengthBeats() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	speed := l.effectiveSpeed()
	var total float64
	for _, f := range l.effectiveFrames() {
		if f.EffectiveDuration() == 0 {
			continue
		}
		total += f.DurationBeats / speed * float64(f.EffectiveRepetitions())
	}
	return total
}

// EffectiveLengthBeats is NaturalLengthBeats, clipped to CustomLength when
// the line declares one (spec.md §4.2 step 1).
func (l *Line) EffectiveLengthBeats() float64 {
	l.mu.RLock()
	custom := l.CustomLength
	speed := l.effectiveSpeed()
	l.mu.RUnlock()
	natural := l.NaturalLengthBeats()
	if custom > 0 {
		if c := custom / speed; c < natural {
			return c
		}
	}
	return natural
}

// FrameAt returns the frame at index within the line's effective range,
// or nil if out of bounds.
func (l *Line) FrameAt(index int) *Frame {
	l.mu.RLock()
	defer l.mu.RUnlock()
	frames := l.effectiveFrames()
	if index < 0 || index >= len(frames) {
		return nil
	}
	return frames[index]
}

func (l *Line) AddFrame(f *Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Frames = append(l.Frames, f)
}

func (l *Line) RemoveFrame(index int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.Frames) {
		return
	}
	l.Frames = append(l.Frames[:index], l.Frames[index+1:]...)
}

func (l *Line) ReplaceFrame(index int, f *Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.Frames) {
		return
	}
	l.Frames[index] = f
}

func (l *Line) SetFrameEnabled(index int, enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.Frames) {
		return
	}
	l.Frames[index].Enabled = enabled
}
