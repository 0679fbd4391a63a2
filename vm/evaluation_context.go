package vm

import (
	"math/rand"

	"github.com/iltempo/engine/clock"
	"github.com/iltempo/engine/event"
)

// LineInfo is the narrow view of a scene line the VM needs to resolve
// FrameLen(line, frame): how many frames it has and how long (in beats)
// each one is. scene.Line implements this structurally so that vm never
// imports scene (spec.md §4.3's "must not depend on the scene package").
type LineInfo interface {
	NumFrames() int
	FrameLenBeats(frameIndex int) float64
}

// DeviceLookup is the narrow view of the device map the VM needs to
// resolve a SymbolicEvent's device slot. device.Map implements this
// structurally so that vm never imports device.
type DeviceLookup interface {
	IsLive(slot int) bool
}

// EvaluationContext is the bundle of state one Interpreter.ExecuteNext call
// evaluates against: the four variable stores, the operand stack, the
// enclosing scene's lines (for FrameLen), the current line index, the
// clock, and the device map (spec.md §4.3).
type EvaluationContext struct {
	Global   *Store
	Line     *Store
	Frame    *Store
	Instance *Store

	Stack []Value

	Lines       []LineInfo
	CurrentLine int

	Clock   *clock.Clock
	Devices DeviceLookup
}

// Push/Pop implement the operand stack used by OpPush/OpPop.
func (ctx *EvaluationContext) Push(v Value) {
	ctx.Stack = append(ctx.Stack, v)
}

func (ctx *EvaluationContext) Pop() Value {
	n := len(ctx.Stack)
	if n == 0 {
		return Nil()
	}
	v := ctx.Stack[n-1]
	ctx.Stack = ctx.Stack[:n-1]
	return v
}

// Evaluate resolves a Variable to its current Value against this context.
func (ctx *EvaluationContext) Evaluate(v Variable) Value {
	switch v.Scope {
	case ScopeConstant:
		return v.Const
	case ScopeGlobal:
		if val, ok := ctx.Global.Get(v.Name); ok {
			return val
		}
		return Nil()
	case ScopeLine:
		if val, ok := ctx.Line.Get(v.Name); ok {
			return val
		}
		return Nil()
	case ScopeFrame:
		if val, ok := ctx.Frame.Get(v.Name); ok {
			return val
		}
		return Nil()
	case ScopeInstance:
		if val, ok := ctx.Instance.Get(v.Name); ok {
			return val
		}
		return Nil()
	case ScopeEnvironment:
		if v.Env == nil {
			return Nil()
		}
		return ctx.execEnv(v.Env)
	default:
		return Nil()
	}
}

// SetVar commits a Value to the scope a Variable addresses. Constant and
// Environment scopes are not assignable; attempts to set them are no-ops,
// matching a bad-message-style silent drop rather than a panic.
func (ctx *EvaluationContext) SetVar(v Variable, val Value) {
	switch v.Scope {
	case ScopeGlobal:
		ctx.Global.Set(v.Name, val)
	case ScopeLine:
		ctx.Line.Set(v.Name, val)
	case ScopeFrame:
		ctx.Frame.Set(v.Name, val)
	case ScopeInstance:
		ctx.Instance.Set(v.Name, val)
	}
}

func (ctx *EvaluationContext) execEnv(call *EnvCall) Value {
	switch call.Func {
	case FuncGetTempo:
		if ctx.Clock == nil {
			return Float(0)
		}
		return Float(ctx.Clock.Tempo())
	case FuncRandomUInt:
		if call.N == 0 {
			return Integer(0)
		}
		return Integer(rand.Int63n(int64(call.N)))
	case FuncRandomInt:
		return Integer(rand.Int63())
	case FuncRandomFloat:
		return Float(rand.Float64())
	case FuncFrameLen:
		lineIdx := int(ctx.Evaluate(call.Line).AsInteger())
		frameIdx := int(ctx.Evaluate(call.Frame).AsInteger())
		if len(ctx.Lines) == 0 {
			return Float(0)
		}
		line := ctx.Lines[((lineIdx%len(ctx.Lines))+len(ctx.Lines))%len(ctx.Lines)]
		return Float(line.FrameLenBeats(frameIdx))
	default:
		return Nil()
	}
}

// BuildEvent resolves a SymbolicEvent against this context into a dispatch-
// ready event.ConcreteEvent.
func (ctx *EvaluationContext) BuildEvent(se SymbolicEvent) event.ConcreteEvent {
	ce := event.ConcreteEvent{Kind: se.Kind}
	ce.DeviceSlot = int(ctx.Evaluate(se.DeviceSlot).AsInteger())

	switch se.Kind {
	case event.MidiNote:
		ce.Note = uint8(ctx.Evaluate(se.Note).AsInteger())
		ce.Velocity = uint8(ctx.Evaluate(se.Velocity).AsInteger())
		ce.Channel = uint8(ctx.Evaluate(se.Channel).AsInteger())
	case event.MidiControl:
		ce.Controller = uint8(ctx.Evaluate(se.Controller).AsInteger())
		ce.Value = uint8(ctx.Evaluate(se.Value).AsInteger())
		ce.Channel = uint8(ctx.Evaluate(se.Channel).AsInteger())
	case event.MidiProgram:
		ce.Program = uint8(ctx.Evaluate(se.Program).AsInteger())
		ce.Channel = uint8(ctx.Evaluate(se.Channel).AsInteger())
	case event.MidiAftertouch:
		ce.Note = uint8(ctx.Evaluate(se.Note).AsInteger())
		ce.Pressure = uint8(ctx.Evaluate(se.Pressure).AsInteger())
		ce.Channel = uint8(ctx.Evaluate(se.Channel).AsInteger())
	case event.MidiChannelPressure:
		ce.Pressure = uint8(ctx.Evaluate(se.Pressure).AsInteger())
		ce.Channel = uint8(ctx.Evaluate(se.Channel).AsInteger())
	case event.MidiSystemExclusive:
		ce.SysEx = valueToBytes(ctx.Evaluate(se.SysEx))
	case event.Osc, event.Dirt, event.AudioEngine:
		ce.Address = ctx.Evaluate(se.Address).Str
		ce.Args = valueToArgs(ctx.Evaluate(se.Args))
	}
	return ce
}

func valueToBytes(v Value) []byte {
	if v.Kind == KString {
		return []byte(v.Str)
	}
	out := make([]byte, 0, len(v.List))
	for _, e := range v.List {
		out = append(out, byte(e.AsInteger()))
	}
	return out
}

func valueToArgs(v Value) []any {
	if v.Kind != KList {
		return nil
	}
	out := make([]any, 0, len(v.List))
	for _, e := range v.List {
		switch e.Kind {
		case KInteger:
			out = append(out, e.Int)
		case KFloat:
			out = append(out, e.Flt)
		case KString:
			out = append(out, e.Str)
		case KBool:
			out = append(out, e.Bln)
		default:
			out = append(out, e.AsFloat())
		}
	}
	return out
}
