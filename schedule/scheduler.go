package schedule

import (
	"fmt"
	"math"
	"time"

	"github.com/iltempo/engine/clock"
	"github.com/iltempo/engine/device"
	"github.com/iltempo/engine/scene"
	"github.com/iltempo/engine/vm"
)

// messageDrainQuota bounds how many queued messages one tick applies
// before moving on, so a burst of control traffic can never starve frame
// arming and execution (spec.md §4.9 step 3).
const messageDrainQuota = 256

// notifyInterval caps how often periodic FramePositions/GlobalsChanged
// notifications go out, regardless of tick rate (spec.md §4.9 step 7).
const notifyInterval = 50 * time.Millisecond

// stoppedPollInterval/startingPollInterval are the scheduler's wake cadence
// while not actively driven by a due execution or deferred action
// (spec.md §4.6).
const (
	stoppedPollInterval  = 100 * time.Millisecond
	startingPollInterval = time.Millisecond
)

// armKey identifies the (frame, loop iteration, repetition) coordinate a
// line last armed an execution for, so the same coordinate is never armed
// twice (spec.md §4.8).
type armKey struct {
	frame    int
	loopIter int64
	rep      int
}

// deferredAction is one message waiting on a resolved ActionTiming.
type deferredAction struct {
	msg    SchedulerMessage
	timing scene.ActionTiming
}

// compileResult is what a compilation goroutine reports back once a
// script's Recompile finishes (spec.md §5's "one compilation thread per
// pending script compile... returns a CompilationUpdate message").
type compileResult struct {
	lineIndex  int
	frameIndex int
	script     *scene.Script
}

// Handle is what Create returns to a caller: the message sender, the
// notification receiver, and a channel closed once the scheduler goroutine
// has fully exited (spec.md §4.9's "(join handle, message sender,
// notification receiver)").
type Handle struct {
	messages chan SchedulerMessage
	notify   chan SchedulerNotification
	done     chan struct{}
}

// Send enqueues msg on the scheduler's bounded control channel without
// blocking; it reports false if the channel is full, matching spec.md
// §4.9's "non-blocking bounded channel" (a caller that floods the
// scheduler loses messages rather than stalling).
func (h *Handle) Send(msg SchedulerMessage) bool {
	select {
	case h.messages <- msg:
		return true
	default:
		return false
	}
}

// Notifications returns the channel observers drain for
// SchedulerNotifications. It is closed after the final TransportStopped
// notification sent during shutdown (spec.md §8 invariant 7).
func (h *Handle) Notifications() <-chan SchedulerNotification { return h.notify }

// Done is closed once the scheduler goroutine has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Scheduler owns the Scene, the globals store (via Scene.Global), the live
// execution list, the deferred-action queue, the playback state machine,
// and the language directory handle; it is the single thread that mutates
// any of them (spec.md §4.9, §5).
type Scheduler struct {
	cl      *clock.Clock
	sc      *scene.Scene
	devices *device.Map
	dir     *vm.Directory
	world   chan<- device.TimedMessage

	playback *PlaybackManager

	messages chan SchedulerMessage
	notify   chan SchedulerNotification
	compiled chan compileResult

	deferred []deferredAction

	lastArmed    map[int]armKey
	lastLoopIter map[int]int64

	lastGlobals  map[string]vm.Value
	lastNotifyAt time.Time
	prevBeat     float64

	lastArmWake  int64
	lastExecWake int64
}

// Create builds a Scheduler around an already-constructed Scene/Clock/
// device map/language directory and starts its loop goroutine, returning
// the caller-facing Handle (spec.md §4.9's "create(...)").
func Create(cl *clock.Clock, sc *scene.Scene, devices *device.Map, dir *vm.Directory, world chan<- device.TimedMessage) *Handle {
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
	h := &Handle{messages: s.messages, notify: s.notify, done: make(chan struct{})}
	go s.run(h.done)
	return h
}

func (s *Scheduler) log(format string, args ...any) {
	s.emit(SchedulerNotification{Kind: NotifyLog, Message: fmt.Sprintf(format, args...)})
}

func (s *Scheduler) emit(n SchedulerNotification) {
	select {
	case s.notify <- n:
	default:
		// A stalled observer must never stall the scheduler thread; the
		// notification is dropped rather than blocking the tick loop.
	}
}

// run is the scheduler's cooperative tick loop (spec.md §4.9). It exits
// only once a drained Shutdown message has been fully processed.
func (s *Scheduler) run(done chan struct{}) {
	defer close(done)
	defer close(s.notify)

	for {
		if shutdown := s.tick(); shutdown {
			s.doShutdown()
			return
		}

		timeout := s.nextWake()
		timer := time.NewTimer(timeout)
		select {
		case <-timer.C:
		case res := <-s.compiled:
			timer.Stop()
			s.applyCompileResult(res)
		case msg, ok := <-s.messages:
			timer.Stop()
			if !ok {
				return
			}
			if s.handleIncoming(msg) {
				s.doShutdown()
				return
			}
		}
	}
}

// tick runs one full scheduling pass: capture, playback update, drain
// messages, apply due deferred actions, arm frames, run the execution
// manager, emit periodic notifications. It reports whether a Shutdown
// message was drained this pass.
func (s *Scheduler) tick() bool {
	micros, beat := s.cl.Now()

	if s.playback.Update() {
		s.killAllExecutions()
		s.resetArming()
	}
	if s.playback.State() == Playing && !s.cl.IsPlaying() {
		s.killAllExecutions()
		s.resetArming()
		s.playback.RequestStop()
		s.emit(SchedulerNotification{Kind: NotifyTransportStopped})
	}

	shutdown := s.drainMessages()

	s.applyDueDeferred(micros, beat)

	var armWake int64 = clock.NEVER
	if s.playback.ArmingAllowed() {
		armWake = s.armAllLines(micros)
	}

	execWake := s.runExecutionManager(micros)

	s.emitPeriodic()

	s.prevBeat = beat
	s.lastArmWake = armWake
	s.lastExecWake = execWake
	return shutdown
}

func (s *Scheduler) nextWake() time.Duration {
	best := min64(s.lastArmWake, s.lastExecWake)

	if d := s.deferredWakeMicros(); d < best {
		best = d
	}

	switch s.playback.State() {
	case Stopped:
		if best == clock.NEVER || best > int64(stoppedPollInterval/time.Microsecond) {
			best = int64(stoppedPollInterval / time.Microsecond)
		}
	case Starting:
		if best == clock.NEVER || best > int64(startingPollInterval/time.Microsecond) {
			best = int64(startingPollInterval / time.Microsecond)
		}
	}

	if best == clock.NEVER {
		return stoppedPollInterval
	}
	if best < 0 {
		best = 0
	}
	return time.Duration(best) * time.Microsecond
}

func (s *Scheduler) deferredWakeMicros() int64 {
	if len(s.deferred) == 0 {
		return clock.NEVER
	}
	best := int64(clock.NEVER)
	for _, d := range s.deferred {
		if d.timing.Kind != scene.AtBeat {
			continue
		}
		micros := s.cl.BeatsToMicros(d.timing.Remaining(s.cl))
		if micros < best {
			best = micros
		}
	}
	return best
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// ---- messages -------------------------------------------------------

// drainMessages applies (or enqueues) up to messageDrainQuota pending
// messages without blocking (spec.md §4.9 step 3). It reports whether a
// Shutdown message was seen.
func (s *Scheduler) drainMessages() bool {
	for i := 0; i < messageDrainQuota; i++ {
		select {
		case res := <-s.compiled:
			s.applyCompileResult(res)
		case msg, ok := <-s.messages:
			if !ok {
				return true
			}
			if s.handleIncoming(msg) {
				return true
			}
		default:
			return false
		}
	}
	return false
}

// handleIncoming applies an Immediate message now or enqueues a timed one;
// it reports true iff msg is Shutdown.
func (s *Scheduler) handleIncoming(msg SchedulerMessage) bool {
	if msg.Kind == MsgShutdown {
		return true
	}
	timing := msg.Timing.Resolve(s.cl)
	if timing.Kind == scene.Immediate {
		s.applyMessage(msg)
		return false
	}
	s.deferred = append(s.deferred, deferredAction{msg: msg, timing: timing})
	return false
}

// applyDueDeferred applies every queued deferred action whose timing is
// now due, in FIFO order, and returns which line indices wrapped this
// tick (so a later EndOfLine check in the same pass can see it). micros
// and beat are the single (micros, beat) pair captured once at the top of
// this tick (spec.md §4.1's "single capture per tick" contract) — reused
// here rather than re-read from the live clock.
func (s *Scheduler) applyDueDeferred(micros int64, beat float64) map[int]bool {
	atEndOfLine := s.computeLineWraps(micros)

	if len(s.deferred) == 0 {
		return atEndOfLine
	}
	remaining := s.deferred[:0]
	for _, d := range s.deferred {
		line := s.lineForTiming(d.timing)
		var due bool
		if d.timing.Kind == scene.AtBeat {
			due = beat >= d.timing.Beat
		} else {
			due = d.timing.ShouldApply(s.cl, line, d.timing.Kind == scene.EndOfLine && atEndOfLine[d.timing.LineIndex])
		}
		if due {
			s.applyMessage(d.msg)
			continue
		}
		remaining = append(remaining, d)
	}
	s.deferred = remaining
	return atEndOfLine
}

func (s *Scheduler) lineForTiming(t scene.ActionTiming) *scene.Line {
	if t.Kind != scene.EndOfLine {
		return nil
	}
	return s.sc.Line(t.LineIndex)
}

// computeLineWraps reports, for every line, whether its loop iteration (per
// CalculateFrameIndex) advanced past what it was the last time arming ran
// — i.e. whether the line wrapped this tick, which is what EndOfLine
// timing keys off (spec.md §4.7).
func (s *Scheduler) computeLineWraps(micros int64) map[int]bool {
	wrapped := make(map[int]bool)
	for li := 0; li < s.sc.NumLines(); li++ {
		line := s.sc.Line(li)
		if line == nil {
			continue
		}
		res := scene.CalculateFrameIndex(s.cl, line, micros)
		prev, ok := s.lastLoopIter[li]
		if ok && res.LoopIteration > prev {
			wrapped[li] = true
		}
	}
	return wrapped
}

func (s *Scheduler) badMessage(msg SchedulerMessage, reason string) {
	s.log("dropped message kind %d: %s", msg.Kind, reason)
}

// applyMessage mutates scene/clock/globals state for one message. Applied
// either immediately from drainMessages or once a deferred action becomes
// due (spec.md §4.7, §6).
func (s *Scheduler) applyMessage(msg SchedulerMessage) {
	switch msg.Kind {
	case MsgSetScene:
		if msg.Scene == nil {
			s.badMessage(msg, "nil scene")
			return
		}
		s.sc.ReplaceAll(msg.Scene)
		s.resetArming()
		s.recompileAllScripts()
		s.emit(SchedulerNotification{Kind: NotifySceneReplaced})

	case MsgAddLine:
		if msg.Line == nil {
			s.badMessage(msg, "nil line")
			return
		}
		s.sc.AddLine(msg.Line)

	case MsgRemoveLine:
		if !s.validLine(msg.LineIndex) {
			s.badMessage(msg, "no such line")
			return
		}
		for _, se := range s.sc.ExecutionsSnapshot() {
			if se.LineIndex == msg.LineIndex {
				se.Stop()
			}
		}
		s.sc.PruneTerminated()
		s.sc.RemoveLine(msg.LineIndex)
		s.reindexAfterRemove(msg.LineIndex)

	case MsgReplaceLine:
		if !s.validLine(msg.LineIndex) || msg.Line == nil {
			s.badMessage(msg, "no such line or nil line")
			return
		}
		s.sc.ReplaceLine(msg.LineIndex, msg.Line)
		delete(s.lastArmed, msg.LineIndex)
		delete(s.lastLoopIter, msg.LineIndex)

	case MsgAddFrame:
		line := s.sc.Line(msg.LineIndex)
		if line == nil || msg.Frame == nil {
			s.badMessage(msg, "no such line or nil frame")
			return
		}
		line.AddFrame(msg.Frame)
		s.recompileFrame(msg.LineIndex, len(line.Frames)-1, msg.Frame)

	case MsgRemoveFrame:
		line := s.sc.Line(msg.LineIndex)
		if line == nil {
			s.badMessage(msg, "no such line")
			return
		}
		line.RemoveFrame(msg.FrameIndex)

	case MsgReplaceFrame:
		line := s.sc.Line(msg.LineIndex)
		if line == nil || msg.Frame == nil {
			s.badMessage(msg, "no such line or nil frame")
			return
		}
		line.ReplaceFrame(msg.FrameIndex, msg.Frame)
		s.recompileFrame(msg.LineIndex, msg.FrameIndex, msg.Frame)

	case MsgSetFrameEnabled:
		line := s.sc.Line(msg.LineIndex)
		if line == nil {
			s.badMessage(msg, "no such line")
			return
		}
		line.SetFrameEnabled(msg.FrameIndex, msg.Enabled)

	case MsgSetLineSpeed:
		line := s.sc.Line(msg.LineIndex)
		if line == nil {
			s.badMessage(msg, "no such line")
			return
		}
		line.SpeedFactor = msg.Speed

	case MsgSetLineCustomLength:
		line := s.sc.Line(msg.LineIndex)
		if line == nil {
			s.badMessage(msg, "no such line")
			return
		}
		line.CustomLength = msg.CustomLength
		delete(s.lastArmed, msg.LineIndex)
		delete(s.lastLoopIter, msg.LineIndex)

	case MsgSetLineMode:
		line := s.sc.Line(msg.LineIndex)
		if line == nil {
			s.badMessage(msg, "no such line")
			return
		}
		line.Mode = msg.Mode

	case MsgSetScript:
		line := s.sc.Line(msg.LineIndex)
		if line == nil {
			s.badMessage(msg, "no such line")
			return
		}
		frame := line.FrameAt(msg.FrameIndex)
		if frame == nil || msg.Script == nil {
			s.badMessage(msg, "no such frame or nil script")
			return
		}
		frame.Script = msg.Script
		s.recompileFrame(msg.LineIndex, msg.FrameIndex, msg.Script)

	case MsgSetGlobal:
		s.sc.Global.Set(msg.VarName, msg.Value)

	case MsgSetTempo:
		if msg.Tempo <= 0 {
			s.badMessage(msg, "non-positive tempo")
			return
		}
		s.cl.SetTempo(msg.Tempo)

	case MsgSetQuantum:
		if msg.Quantum <= 0 {
			s.badMessage(msg, "non-positive quantum")
			return
		}
		s.cl.SetQuantum(msg.Quantum)

	case MsgStart:
		s.playback.RequestStart()

	case MsgStop:
		s.killAllExecutions()
		s.resetArming()
		s.playback.RequestStop()
		s.emit(SchedulerNotification{Kind: NotifyTransportStopped})

	case MsgCompilationUpdate:
		s.emit(SchedulerNotification{Kind: NotifyCompilationUpdated, LineIndex: msg.LineIndex, CompileErr: compileErrOf(msg.Script)})

	default:
		s.badMessage(msg, "unknown message kind")
	}
}

func compileErrOf(script *scene.Script) *vm.CompilationError {
	if script == nil {
		return nil
	}
	return script.Compiled().Err
}

func (s *Scheduler) validLine(i int) bool {
	return i >= 0 && i < s.sc.NumLines()
}

func (s *Scheduler) reindexAfterRemove(removed int) {
	newArmed := make(map[int]armKey, len(s.lastArmed))
	newLoop := make(map[int]int64, len(s.lastLoopIter))
	for li, k := range s.lastArmed {
		switch {
		case li < removed:
			newArmed[li] = k
		case li > removed:
			newArmed[li-1] = k
		}
	}
	for li, k := range s.lastLoopIter {
		switch {
		case li < removed:
			newLoop[li] = k
		case li > removed:
			newLoop[li-1] = k
		}
	}
	s.lastArmed = newArmed
	s.lastLoopIter = newLoop
}

func (s *Scheduler) resetArming() {
	s.lastArmed = make(map[int]armKey)
	s.lastLoopIter = make(map[int]int64)
}

func (s *Scheduler) killAllExecutions() {
	for _, se := range s.sc.ExecutionsSnapshot() {
		se.Stop()
	}
	s.sc.PruneTerminated()
}

// ---- compilation ------------------------------------------------------

// recompileFrame spawns the per-script compilation goroutine spec.md §5
// describes: the scheduler thread never blocks on a compile, and the
// result comes back as a compileResult on s.compiled, consumed by either
// drainMessages or the run loop's select (spec.md §4.9, §7).
func (s *Scheduler) recompileFrame(lineIndex, frameIndex int, script *scene.Script) {
	dir := s.dir
	go func() {
		script.Recompile(dir)
		select {
		case s.compiled <- compileResult{lineIndex: lineIndex, frameIndex: frameIndex, script: script}:
		default:
		}
	}()
}

func (s *Scheduler) recompileAllScripts() {
	for li := 0; li < s.sc.NumLines(); li++ {
		line := s.sc.Line(li)
		if line == nil {
			continue
		}
		for fi, f := range line.Frames {
			if f.Script != nil {
				s.recompileFrame(li, fi, f.Script)
			}
		}
	}
}

func (s *Scheduler) applyCompileResult(res compileResult) {
	state := res.script.Compiled()
	s.emit(SchedulerNotification{Kind: NotifyCompilationUpdated, LineIndex: res.lineIndex, CompileErr: state.Err})
	if state.Err != nil {
		s.log("line %d frame %d: compile error: %v", res.lineIndex, res.frameIndex, state.Err)
	}
}

// ---- arming -----------------------------------------------------------

// armAllLines runs frame arming (spec.md §4.8) for every line in the
// scene and returns the smallest NextEventDelay across all of them, i.e.
// the next micros date the scheduler must wake to re-evaluate arming.
func (s *Scheduler) armAllLines(dateMicros int64) int64 {
	next := int64(clock.NEVER)
	n := s.sc.NumLines()
	longestLineBeats := s.sc.LongestLineLengthBeats()
	currentBeat := s.cl.BeatAtDate(dateMicros)
	if longestLineBeats > 0 {
		// What is left of the longest line's current cycle.
		longestLineBeats -= math.Mod(currentBeat, longestLineBeats)
	}
	for li := 0; li < n; li++ {
		line := s.sc.Line(li)
		if line == nil {
			continue
		}
		res := scene.CalculateFrameIndex(s.cl, line, dateMicros)
		if res.NextEventDelay < next {
			next = res.NextEventDelay
		}
		s.lastLoopIter[li] = res.LoopIteration
		if res.AbsoluteFrameIndex < 0 {
			continue
		}

		key := armKey{frame: res.AbsoluteFrameIndex, loopIter: res.LoopIteration, rep: res.RepetitionIndex}
		if last, ok := s.lastArmed[li]; ok && last == key {
			continue
		}
		s.lastArmed[li] = key

		frame := line.FrameAt(res.AbsoluteFrameIndex)
		if frame == nil || !frame.Enabled || frame.Script == nil {
			continue
		}
		state := frame.Script.Compiled()
		if state.Err != nil {
			continue // compilation error: frame never fires (spec.md §7)
		}

		startDate := res.RepStartDate
		if delayBeats := line.Mode.Remaining(s.cl, currentBeat, longestLineBeats); delayBeats > 0 {
			startDate += s.cl.BeatsToMicros(delayBeats)
		}

		se := scene.NewScriptExecution(frame.Script, li, line.DeviceSlot, startDate)
		s.sc.AddExecution(se)
	}
	return next
}

// ---- execution ----------------------------------------------------------

// runExecutionManager drives every ready ScriptExecution once, routes the
// events they produce to the device map, prunes terminated executions, and
// reports the next wake the still-pending executions require (spec.md
// §4.5).
func (s *Scheduler) runExecutionManager(micros int64) int64 {
	if s.sc.NumLines() == 0 {
		return clock.NEVER
	}

	lines := s.sc.LineInfos()
	execs := s.sc.ExecutionsSnapshot()
	next := int64(clock.NEVER)

	for _, se := range execs {
		if !se.IsReady(micros) {
			if r := se.RemainingBefore(micros); r < next {
				next = r
			}
			continue
		}

		line := s.sc.Line(se.LineIndex)
		if line == nil {
			se.Stop()
			continue
		}

		ev := se.ExecuteNext(s.cl, s.sc.Global, line.Vars, lines, s.devices)
		if ev != nil {
			date := se.ScheduledTime()
			if msg := s.devices.Route(*ev, date); msg != nil {
				s.world <- *msg
			}
		}

		if !se.HasTerminated() {
			if r := se.RemainingBefore(micros); r < next {
				next = r
			}
		}
	}

	s.sc.PruneTerminated()
	s.devices.FlushAudioEngine()
	return next
}

// ---- notifications ------------------------------------------------------

func (s *Scheduler) emitPeriodic() {
	now := time.Now()
	if !s.lastNotifyAt.IsZero() && now.Sub(s.lastNotifyAt) < notifyInterval {
		return
	}
	s.lastNotifyAt = now

	positions := s.framePositions()
	if len(positions) > 0 {
		s.emit(SchedulerNotification{Kind: NotifyFramePositions, Positions: positions})
	}

	if diff := s.globalsDiff(); len(diff) > 0 {
		s.emit(SchedulerNotification{Kind: NotifyGlobalsChanged, Globals: diff})
	}
}

func (s *Scheduler) framePositions() []FramePosition {
	var out []FramePosition
	for li, key := range s.lastArmed {
		out = append(out, FramePosition{LineIndex: li, FrameIndex: key.frame, RepetitionIndex: key.rep})
	}
	return out
}

func (s *Scheduler) globalsDiff() map[string]vm.Value {
	current := s.sc.Global.Snapshot()
	diff := make(map[string]vm.Value)
	for k, v := range current {
		if old, ok := s.lastGlobals[k]; !ok || !vm.ValuesEqual(old, v) {
			diff[k] = v
		}
	}
	s.lastGlobals = current
	if len(diff) == 0 {
		return nil
	}
	return diff
}

// ---- shutdown ------------------------------------------------------------

// doShutdown drains any remaining messages without applying them, stops
// every execution, and sends a final TransportStopped notification before
// run() closes the notification channel (spec.md §4.9, §8 invariant 7).
func (s *Scheduler) doShutdown() {
	for {
		select {
		case <-s.messages:
		default:
			goto drained
		}
	}
drained:
	s.killAllExecutions()
	s.emit(SchedulerNotification{Kind: NotifyTransportStopped})
}
