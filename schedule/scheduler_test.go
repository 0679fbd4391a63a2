package schedule

import (
	"testing"

	"github.com/iltempo/engine/clock"
	"github.com/iltempo/engine/device"
	"github.com/iltempo/engine/event"
	"github.com/iltempo/engine/scene"
	"github.com/iltempo/engine/vm"
)

// recordSlot is a device.Slot that records every event dispatched to it,
// for assertions, without touching any real MIDI hardware.
type recordSlot struct {
	events []event.ConcreteEvent
}

func (r *recordSlot) Dispatch(ev event.ConcreteEvent) error {
	r.events = append(r.events, ev)
	return nil
}

// newTestScheduler builds a Scheduler exactly as Create does, but without
// starting its goroutine, so tests can drive tick()'s sub-steps (armAllLines,
// runExecutionManager, applyMessage, ...) directly against explicit micros
// values instead of real wall-clock time.
func newTestScheduler(tempoBPM, quantum float64) (*Scheduler, *device.Map, chan device.TimedMessage) {
	cl := clock.New(clock.NewSession(tempoBPM, quantum))
	sc := scene.NewScene()
	devices := device.NewMap()
	dir := vm.NewDirectory()
	world := make(chan device.TimedMessage, 256)

	s := &Scheduler{
		cl:           cl,
		sc:           sc,
		devices:      devices,
		dir:          dir,
		world:        world,
		playback:     NewPlaybackManager(cl),
		messages:     make(chan SchedulerMessage, 256),
		notify:       make(chan SchedulerNotification, 256),
		compiled:     make(chan compileResult, 64),
		lastArmed:    make(map[int]armKey),
		lastLoopIter: make(map[int]int64),
		lastGlobals:  make(map[string]vm.Value),
	}
	return s, devices, world
}

func compileOrFail(t *testing.T, s *scene.Script, dir *vm.Directory) {
	t.Helper()
	s.Recompile(dir)
	if !s.Compiled().OK() {
		t.Fatalf("compile failed: %v", s.Compiled().Err)
	}
}

// TestSchedulerScenarioA pins spec.md §8 scenario A: 60 BPM, quantum 4, one
// line with one 1-beat frame whose script fires a MidiNote. Over four ticks
// spanning beats 0..3 the scheduler must arm and fire exactly one event per
// beat on device slot 0 (the line's default).
func TestSchedulerScenarioA(t *testing.T) {
	s, devices, world := newTestScheduler(60, 4)
	slot := &recordSlot{}
	devices.Register(0, slot)

	script := scene.NewScript("effect.note #60 #80 #0 i:_current_midi_device_id #0", "asm")
	compileOrFail(t, script, s.dir)
	frame := scene.NewFrame(1, script)
	line := scene.NewLine()
	line.Mode = scene.Free // AtQuantum (the default) would delay arming past this test's beats
	line.AddFrame(frame)
	s.sc.AddLine(line)

	var fired []int64
	for _, micros := range []int64{0, 1_000_000, 2_000_000, 3_000_000} {
		s.armAllLines(micros)
		s.runExecutionManager(micros)
		for {
			select {
			case msg := <-world:
				devices.Dispatch(msg)
				fired = append(fired, micros)
			default:
				goto drained
			}
		}
	drained:
	}

	if len(fired) != 4 {
		t.Fatalf("expected 4 fired events across 4 beats, got %d (%v)", len(fired), fired)
	}
	if len(slot.events) != 4 {
		t.Fatalf("expected 4 dispatched events, got %d", len(slot.events))
	}
	for _, ev := range slot.events {
		if ev.Note != 60 || ev.Velocity != 80 {
			t.Errorf("unexpected event %+v", ev)
		}
	}
}

// TestSchedulerScenarioB pins scenario B: repetitions=3 on the frame and a
// line CustomLength of 3 beats should fire 3 events per loop, 6 total over
// two loops (6 beats).
func TestSchedulerScenarioB(t *testing.T) {
	s, devices, world := newTestScheduler(60, 4)
	slot := &recordSlot{}
	devices.Register(0, slot)

	script := scene.NewScript("effect.note #60 #80 #0 i:_current_midi_device_id #0", "asm")
	compileOrFail(t, script, s.dir)
	frame := scene.NewFrame(1, script)
	frame.Repetitions = 3
	line := scene.NewLine()
	line.Mode = scene.Free // AtQuantum (the default) would delay arming past this test's beats
	line.CustomLength = 3
	line.AddFrame(frame)
	s.sc.AddLine(line)

	count := 0
	for micros := int64(0); micros < 6_000_000; micros += 1_000_000 {
		s.armAllLines(micros)
		s.runExecutionManager(micros)
		for {
			select {
			case msg := <-world:
				devices.Dispatch(msg)
				count++
			default:
				goto drained
			}
		}
	drained:
	}

	if count != 6 {
		t.Fatalf("expected 6 events over 6 beats (3 per 3-beat loop), got %d", count)
	}
}

// TestSchedulerRemoveLineStopsExecutions pins invariant 3 of spec.md §8:
// removing a line terminates every execution that references it within one
// tick, and it stops producing events.
func TestSchedulerRemoveLineStopsExecutions(t *testing.T) {
	s, devices, world := newTestScheduler(60, 4)
	slot := &recordSlot{}
	devices.Register(0, slot)

	script := scene.NewScript("effect.note #60 #80 #0 i:_current_midi_device_id #0", "asm")
	compileOrFail(t, script, s.dir)
	frame := scene.NewFrame(1, script)
	line := scene.NewLine()
	line.AddFrame(frame)
	s.sc.AddLine(line)

	s.armAllLines(0)
	if s.sc.NumLines() != 1 {
		t.Fatalf("expected 1 line")
	}
	execs := s.sc.ExecutionsSnapshot()
	if len(execs) != 1 {
		t.Fatalf("expected 1 armed execution, got %d", len(execs))
	}

	s.applyMessage(SchedulerMessage{Kind: MsgRemoveLine, LineIndex: 0})

	if s.sc.NumLines() != 0 {
		t.Fatalf("expected line removed")
	}
	for _, se := range execs {
		if !se.HasTerminated() {
			t.Error("execution referencing the removed line should be terminated")
		}
	}

	// No further events should ever be produced for it.
	s.runExecutionManager(1_000_000)
	select {
	case msg := <-world:
		t.Fatalf("unexpected event after line removal: %+v", msg)
	default:
	}
}

// TestSchedulerEndOfLineDefersRemoval pins scenario D: a RemoveLine message
// with EndOfLine timing must not apply until the line has wrapped.
func TestSchedulerEndOfLineDefersRemoval(t *testing.T) {
	s, _, _ := newTestScheduler(60, 4)

	script := scene.NewScript("yield", "asm")
	compileOrFail(t, script, s.dir)
	line := scene.NewLine()
	line.AddFrame(scene.NewFrame(1, script))
	line.AddFrame(scene.NewFrame(1, script))
	s.sc.AddLine(line)

	// Prime lastLoopIter as arming would on the first tick.
	s.armAllLines(0)

	msg := SchedulerMessage{Kind: MsgRemoveLine, LineIndex: 0, Timing: scene.ActionTiming{Kind: scene.EndOfLine, LineIndex: 0}}
	s.handleIncoming(msg)
	if len(s.deferred) != 1 {
		t.Fatalf("expected the message to be deferred, got %d deferred", len(s.deferred))
	}

	// Mid-loop (beat 1, still within the 2-beat cycle): must not fire yet.
	// applyDueDeferred runs before armAllLines each tick, exactly as tick()
	// orders them, so it always compares against the *previous* tick's
	// lastLoopIter rather than one armAllLines just updated this tick.
	s.applyDueDeferred(1_000_000, 1)
	s.armAllLines(1_000_000)
	if s.sc.NumLines() != 1 {
		t.Fatal("line should not be removed before it wraps")
	}

	// Past the wrap (beat 2, loop iteration advances from 0 to 1): now due.
	s.applyDueDeferred(2_000_000, 2)
	s.armAllLines(2_000_000)
	if s.sc.NumLines() != 0 {
		t.Fatal("line should be removed once it has wrapped")
	}
}

// TestSchedulerMessageOrderingFIFO pins invariant 5: messages sent with
// Immediate timing by the same caller apply in the order they were sent.
func TestSchedulerMessageOrderingFIFO(t *testing.T) {
	s, _, _ := newTestScheduler(120, 4)

	for i := 0; i < 5; i++ {
		s.applyMessage(SchedulerMessage{Kind: MsgSetGlobal, VarName: "x", Value: vm.Integer(int64(i))})
	}
	got, ok := s.sc.Global.Get("x")
	if !ok || got.Int != 4 {
		t.Fatalf("expected last-applied value 4, got %v ok=%v", got, ok)
	}
}

// TestSchedulerDeferredActionFIFO pins invariant 4/5: deferred actions of
// the same AtBeat timing apply in FIFO insertion order once due.
func TestSchedulerDeferredActionFIFO(t *testing.T) {
	s, _, _ := newTestScheduler(60, 4)

	for i := 0; i < 3; i++ {
		timing := scene.ActionTiming{Kind: scene.AtBeat, Beat: 2}
		s.deferred = append(s.deferred, deferredAction{
			msg:    SchedulerMessage{Kind: MsgSetGlobal, VarName: "order", Value: vm.Integer(int64(i))},
			timing: timing,
		})
	}
	// All 3 apply in FIFO order once due; the last-enqueued value (2) wins
	// since each overwrites the same global in turn.
	s.applyDueDeferred(2_000_000, 2)
	if len(s.deferred) != 0 {
		t.Fatalf("expected all 3 actions due at beat 2, got %d remaining", len(s.deferred))
	}
	got, ok := s.sc.Global.Get("order")
	if !ok || got.Int != 2 {
		t.Fatalf("expected the last-enqueued action (value 2) to have applied last, got %v", got)
	}
}

// TestSchedulerBadMessageDropped pins spec.md §7: a message referencing a
// nonexistent line is logged and dropped rather than panicking.
func TestSchedulerBadMessageDropped(t *testing.T) {
	s, _, _ := newTestScheduler(120, 4)
	s.applyMessage(SchedulerMessage{Kind: MsgSetLineSpeed, LineIndex: 99, Speed: 2})
	select {
	case n := <-s.notify:
		if n.Kind != NotifyLog {
			t.Errorf("expected a Log notification, got kind %d", n.Kind)
		}
	default:
		t.Fatal("expected a dropped-message log notification")
	}
}

// TestSchedulerCompileErrorNeverArms pins scenario E: a script that fails to
// compile never arms an execution and its frame produces no events.
func TestSchedulerCompileErrorNeverArms(t *testing.T) {
	s, _, _ := newTestScheduler(60, 4)

	script := scene.NewScript("not a real instruction", "asm")
	script.Recompile(s.dir)
	if script.Compiled().OK() {
		t.Fatal("expected a compile error")
	}
	line := scene.NewLine()
	line.AddFrame(scene.NewFrame(1, script))
	s.sc.AddLine(line)

	s.armAllLines(0)
	if execs := s.sc.ExecutionsSnapshot(); len(execs) != 0 {
		t.Fatalf("a frame with a compile error should never arm, got %d executions", len(execs))
	}
}

// TestSchedulerLineModeDelaysStart pins the supplemented ExecutionMode
// feature: a line set to AtQuantum delays a newly armed execution's start
// until the next quantum boundary instead of firing immediately.
func TestSchedulerLineModeDelaysStart(t *testing.T) {
	s, _, _ := newTestScheduler(60, 4)

	script := scene.NewScript("yield", "asm")
	compileOrFail(t, script, s.dir)
	line := scene.NewLine()
	line.Mode = scene.AtQuantum
	line.AddFrame(scene.NewFrame(1, script))
	s.sc.AddLine(line)

	s.armAllLines(1_000_000) // beat 1, mid-phrase (quantum 4)
	execs := s.sc.ExecutionsSnapshot()
	if len(execs) != 1 {
		t.Fatalf("expected 1 armed execution, got %d", len(execs))
	}
	if got := execs[0].ScheduledTime(); got <= 1_000_000 {
		t.Errorf("AtQuantum mode should delay the start past the arming date, got %d", got)
	}
}

// TestSchedulerShutdownClosesNotifyAfterFinalTransportStopped pins
// invariant 7: every notification produced before Shutdown is delivered,
// and the final TransportStopped precedes the channel close.
func TestSchedulerShutdownClosesNotifyAfterFinalTransportStopped(t *testing.T) {
	s, _, _ := newTestScheduler(120, 4)
	s.log("hello")
	s.doShutdown()
	close(s.notify)

	var got []SchedulerNotification
	for n := range s.notify {
		got = append(got, n)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 notifications (log + final TransportStopped), got %d", len(got))
	}
	if got[0].Kind != NotifyLog {
		t.Errorf("expected the log to be delivered first, got kind %d", got[0].Kind)
	}
	last := got[len(got)-1]
	if last.Kind != NotifyTransportStopped {
		t.Errorf("expected the final notification to be TransportStopped, got kind %d", last.Kind)
	}
}
