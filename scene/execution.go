package scene

import (
	"github.com/iltempo/engine/clock"
	"github.com/iltempo/engine/event"
	"github.com/iltempo/engine/vm"
)

// ScriptExecution is one running instance of a Script on a particular
// line: its own instance-scoped variables and operand stack, the
// Interpreter driving it, and the micros date at which it is next due
// (spec.md §3's ScriptExecution, §4.4; grounded on core/src/scene/
// script.rs's ScriptExecution).
type ScriptExecution struct {
	Script    *Script
	LineIndex int

	Instance *vm.Store
	stack    []vm.Value

	interp        vm.Interpreter
	scheduledTime int64
}

// NewScriptExecution builds a fresh execution of script on lineIndex,
// starting at startDate, seeding the instance var every script can read to
// know which device slot it was armed against ("_current_midi_device_id"),
// matching core/src/scene/script.rs's seeding of that instance var before
// the first execute_at.
func NewScriptExecution(script *Script, lineIndex int, deviceSlot int, startDate int64) *ScriptExecution {
	instance := vm.NewStore()
	instance.Set("_current_midi_device_id", vm.Integer(int64(deviceSlot)))

	se := &ScriptExecution{
		Script:        script,
		LineIndex:     lineIndex,
		Instance:      instance,
		scheduledTime: startDate,
	}
	se.interp = se.newInterpreter()
	return se
}

func (se *ScriptExecution) newInterpreter() vm.Interpreter {
	state := se.Script.Compiled()
	if state.Err != nil {
		return vm.NewASMInterpreter(nil)
	}
	return vm.NewASMInterpreter(state.Program)
}

// IsReady reports whether this execution is due to run at date.
func (se *ScriptExecution) IsReady(date int64) bool {
	return date >= se.scheduledTime
}

// RemainingBefore reports the micros until this execution is next due, 0
// if it is already due.
func (se *ScriptExecution) RemainingBefore(date int64) int64 {
	if se.scheduledTime <= date {
		return 0
	}
	return se.scheduledTime - date
}

// ScheduledTime reports the absolute micros date this execution is next
// due to run.
func (se *ScriptExecution) ScheduledTime() int64 {
	return se.scheduledTime
}

func (se *ScriptExecution) HasTerminated() bool {
	return se.interp.HasTerminated()
}

func (se *ScriptExecution) Stop() {
	se.interp.Stop()
}

// ExecuteNext drives the interpreter one step, building an EvaluationContext
// from the surrounding scene/line/script state, and advances
// scheduledTime by the interpreter's reported wait.
func (se *ScriptExecution) ExecuteNext(cl *clock.Clock, global, line *vm.Store, lines []vm.LineInfo, devices vm.DeviceLookup) *event.ConcreteEvent {
	ctx := &vm.EvaluationContext{
		Global:      global,
		Line:        line,
		Frame:       se.Script.FrameVars(),
		Instance:    se.Instance,
		Stack:       se.stack,
		Lines:       lines,
		CurrentLine: se.LineIndex,
		Clock:       cl,
		Devices:     devices,
	}
	ev, wait := se.interp.ExecuteNext(ctx)
	se.stack = ctx.Stack
	if wait == clock.NEVER {
		se.scheduledTime = clock.NEVER
	} else {
		se.scheduledTime += wait
	}
	return ev
}
