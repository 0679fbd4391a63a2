// Package event defines ConcreteEvent, the fully-evaluated outbound event
// taxonomy spec.md §6 requires: the shape the scheduler hands to the
// device router once a script's symbolic effect instruction has been
// evaluated against its EvaluationContext. This package has no
// dependencies inside the module: it is the leaf both the VM and the
// device router build on.
package event

import "time"

// Kind tags which variant of ConcreteEvent is populated.
type Kind int

const (
	Nop Kind = iota
	MidiNote
	MidiControl
	MidiProgram
	MidiAftertouch
	MidiChannelPressure
	MidiSystemExclusive
	MidiStart
	MidiStop
	MidiReset
	MidiContinue
	MidiClock
	Osc
	Dirt
	AudioEngine
)

func (k Kind) String() string {
	switch k {
	case Nop:
		return "Nop"
	case MidiNote:
		return "MidiNote"
	case MidiControl:
		return "MidiControl"
	case MidiProgram:
		return "MidiProgram"
	case MidiAftertouch:
		return "MidiAftertouch"
	case MidiChannelPressure:
		return "MidiChannelPressure"
	case MidiSystemExclusive:
		return "MidiSystemExclusive"
	case MidiStart:
		return "MidiStart"
	case MidiStop:
		return "MidiStop"
	case MidiReset:
		return "MidiReset"
	case MidiContinue:
		return "MidiContinue"
	case MidiClock:
		return "MidiClock"
	case Osc:
		return "Osc"
	case Dirt:
		return "Dirt"
	case AudioEngine:
		return "AudioEngine"
	default:
		return "Unknown"
	}
}

// ConcreteEvent is a fully evaluated outbound message bound for a device
// slot. Only the fields relevant to Kind are meaningful; the rest are
// zero. A struct (rather than an interface per variant) keeps routing code
// a single type switch on Kind, matching how the teacher's Step/Pattern
// model keeps per-step fields flat rather than behind an interface.
type ConcreteEvent struct {
	Kind Kind

	// MIDI fields
	Note       uint8 // 0-127
	Velocity   uint8 // 0-127
	Channel    uint8 // 0-15
	Duration   time.Duration
	Controller uint8
	Value      uint8
	Program    uint8
	Pressure   uint8
	SysEx      []byte

	// OSC / Dirt / AudioEngine fields
	Address string
	Args    []any

	DeviceSlot int
}

// DeviceSlotOf returns the device slot this event should route to, and
// whether it is a device-routed event at all (AudioEngine events are
// collected and dispatched as a single batch outside the per-execution
// slot routing, per spec.md §4.5; Nop never routes).
func (e ConcreteEvent) DeviceSlotOf() (slot int, routed bool) {
	switch e.Kind {
	case Nop, AudioEngine:
		return 0, false
	default:
		return e.DeviceSlot, true
	}
}

// IsAudioEngine reports whether this event is destined for the batched
// audio-engine dispatch path rather than per-slot MIDI/OSC routing.
func (e ConcreteEvent) IsAudioEngine() bool {
	return e.Kind == AudioEngine
}
