// Package device routes evaluated event.ConcreteEvent values to the
// outputs that actually speak to the outside world: MIDI ports today, with
// OSC/Dirt/AudioEngine slots modeled as loggable stand-ins since no such
// transport exists anywhere in the retrieval pack (spec.md §4.5, §6).
package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iltempo/engine/event"
	"github.com/iltempo/engine/midi"
)

// Slot is one addressable output a ConcreteEvent can be routed to.
type Slot interface {
	Dispatch(ev event.ConcreteEvent) error
}

// MidiSlot dispatches events to a MIDI output port. MidiNote schedules its
// own NoteOff after Duration, mirroring the teacher's playback loop
// (playback/playback.go's NoteOn + time.AfterFunc(gate, NoteOff)) rather
// than requiring the VM to emit a second explicit instruction per note.
type MidiSlot struct {
	Out *midi.Output
}

func (s *MidiSlot) Dispatch(ev event.ConcreteEvent) error {
	switch ev.Kind {
	case event.MidiNote:
		if err := s.Out.NoteOn(ev.Channel, ev.Note, ev.Velocity); err != nil {
			return err
		}
		if ev.Duration > 0 {
			note, channel := ev.Note, ev.Channel
			time.AfterFunc(ev.Duration, func() { s.Out.NoteOff(channel, note) })
		}
		return nil
	case event.MidiControl:
		return s.Out.ControlChange(ev.Channel, ev.Controller, ev.Value)
	case event.MidiProgram:
		return s.Out.ProgramChange(ev.Channel, ev.Program)
	case event.MidiAftertouch:
		return s.Out.Aftertouch(ev.Channel, ev.Note, ev.Pressure)
	case event.MidiChannelPressure:
		return s.Out.ChannelPressure(ev.Channel, ev.Pressure)
	case event.MidiSystemExclusive:
		return s.Out.SystemExclusive(ev.SysEx)
	case event.MidiStart:
		return s.Out.Start()
	case event.MidiStop:
		return s.Out.Stop()
	case event.MidiReset:
		return s.Out.Reset()
	case event.MidiContinue:
		return s.Out.Continue()
	case event.MidiClock:
		return s.Out.Clock()
	default:
		return nil
	}
}

// LogSlot stands in for a transport this repository has no real backend
// for (OSC, Dirt); it exists so a script targeting one still produces
// observable output instead of silently vanishing.
type LogSlot struct {
	Label string
}

func (s *LogSlot) Dispatch(ev event.ConcreteEvent) error {
	fmt.Printf("[%s] %s %s %v\n", s.Label, ev.Kind, ev.Address, ev.Args)
	return nil
}

// TimedMessage is one outbound dispatch, queued from the scheduler thread
// to the dedicated world-output goroutine that actually calls Slot.Dispatch
// (spec.md §5's concurrency model: the scheduler never blocks on I/O).
type TimedMessage struct {
	Slot  int
	Event event.ConcreteEvent
	Date  int64
}

// Map owns every registered Slot plus the batched AudioEngine queue. It
// implements vm.DeviceLookup structurally (IsLive), so the vm package
// never needs to import device.
type Map struct {
	mu    sync.RWMutex
	slots map[int]Slot
	dead  map[int]bool

	audioBatch []event.ConcreteEvent
	audioSlot  Slot
}

func NewMap() *Map {
	return &Map{
		slots: make(map[int]Slot),
		dead:  make(map[int]bool),
	}
}

func (m *Map) Register(slot int, s Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slot] = s
	delete(m.dead, slot)
}

func (m *Map) RegisterAudioEngine(s Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audioSlot = s
}

// IsLive implements vm.DeviceLookup.
func (m *Map) IsLive(slot int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dead[slot] {
		return false
	}
	_, ok := m.slots[slot]
	return ok
}

// Route hands one evaluated event to its destination: AudioEngine events
// are accumulated for a single end-of-tick batch dispatch (spec.md §4.5);
// everything else becomes a TimedMessage for the world-output goroutine.
func (m *Map) Route(ev event.ConcreteEvent, date int64) *TimedMessage {
	if ev.Kind == event.Nop {
		return nil
	}
	if ev.IsAudioEngine() {
		m.mu.Lock()
		m.audioBatch = append(m.audioBatch, ev)
		m.mu.Unlock()
		return nil
	}
	slot, routed := ev.DeviceSlotOf()
	if !routed {
		return nil
	}
	return &TimedMessage{Slot: slot, Event: ev, Date: date}
}

// FlushAudioEngine dispatches the tick's accumulated AudioEngine events as
// one batch and clears it, matching spec.md §4.5's "batched AudioEngine
// dispatch" as distinct from per-event device-slot routing.
func (m *Map) FlushAudioEngine() {
	m.mu.Lock()
	batch := m.audioBatch
	m.audioBatch = nil
	slot := m.audioSlot
	m.mu.Unlock()

	if slot == nil || len(batch) == 0 {
		return
	}
	for _, ev := range batch {
		if err := slot.Dispatch(ev); err != nil {
			fmt.Printf("audio engine dispatch error: %v\n", err)
		}
	}
}

// Dispatch delivers one TimedMessage to its slot, marking the slot dead on
// I/O failure (spec.md §7's "device I/O failure: slot marked dead").
func (m *Map) Dispatch(msg TimedMessage) {
	m.mu.RLock()
	s, ok := m.slots[msg.Slot]
	dead := m.dead[msg.Slot]
	m.mu.RUnlock()
	if !ok || dead {
		return
	}
	if err := s.Dispatch(msg.Event); err != nil {
		m.mu.Lock()
		m.dead[msg.Slot] = true
		m.mu.Unlock()
		fmt.Printf("device slot %d marked dead: %v\n", msg.Slot, err)
	}
}

// Run is the dedicated world-output goroutine: it drains ch and calls
// Dispatch for each message until ctx is cancelled (spec.md §5).
func (m *Map) Run(ctx context.Context, ch <-chan TimedMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			m.Dispatch(msg)
		}
	}
}
