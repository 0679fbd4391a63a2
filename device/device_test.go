package device

import (
	"errors"
	"testing"

	"github.com/iltempo/engine/event"
)

type fakeSlot struct {
	dispatched []event.ConcreteEvent
	failEvery  func(ev event.ConcreteEvent) bool
}

func (f *fakeSlot) Dispatch(ev event.ConcreteEvent) error {
	if f.failEvery != nil && f.failEvery(ev) {
		return errors.New("boom")
	}
	f.dispatched = append(f.dispatched, ev)
	return nil
}

func TestMapIsLiveBeforeAndAfterRegister(t *testing.T) {
	m := NewMap()
	if m.IsLive(0) {
		t.Fatal("unregistered slot should not be live")
	}
	m.Register(0, &fakeSlot{})
	if !m.IsLive(0) {
		t.Fatal("registered slot should be live")
	}
}

func TestMapDispatchMarksDeadOnError(t *testing.T) {
	m := NewMap()
	slot := &fakeSlot{failEvery: func(event.ConcreteEvent) bool { return true }}
	m.Register(0, slot)

	m.Dispatch(TimedMessage{Slot: 0, Event: event.ConcreteEvent{Kind: event.MidiControl}})
	if m.IsLive(0) {
		t.Fatal("slot should be marked dead after a dispatch error")
	}
}

func TestMapRouteAccumulatesAudioEngineBatch(t *testing.T) {
	m := NewMap()
	slot := &fakeSlot{}
	m.RegisterAudioEngine(slot)

	msg := m.Route(event.ConcreteEvent{Kind: event.AudioEngine, Address: "/x"}, 0)
	if msg != nil {
		t.Fatal("AudioEngine events should not produce a TimedMessage")
	}
	m.FlushAudioEngine()
	if len(slot.dispatched) != 1 {
		t.Fatalf("expected 1 batched dispatch, got %d", len(slot.dispatched))
	}
}

func TestMapRouteReturnsTimedMessageForDeviceEvents(t *testing.T) {
	m := NewMap()
	msg := m.Route(event.ConcreteEvent{Kind: event.MidiNote, DeviceSlot: 2}, 1000)
	if msg == nil || msg.Slot != 2 {
		t.Fatalf("expected a routed TimedMessage to slot 2, got %+v", msg)
	}
}

func TestMapRouteDropsNop(t *testing.T) {
	m := NewMap()
	if msg := m.Route(event.ConcreteEvent{Kind: event.Nop}, 0); msg != nil {
		t.Fatal("Nop should never route")
	}
}
