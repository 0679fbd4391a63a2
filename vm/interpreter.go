package vm

import (
	"time"

	"github.com/iltempo/engine/clock"
	"github.com/iltempo/engine/event"
)

// DefaultInstructionBatchSize bounds how many control instructions
// ASMInterpreter.ExecuteNext runs before yielding back to the scheduler on
// a tick that produces no Effect, preventing a runaway control-only loop
// (e.g. a label whose next line jumps back to it) from starving the
// scheduler (spec.md §4.3).
const DefaultInstructionBatchSize = 16

// Interpreter is the pluggable execution contract every ScriptExecution
// drives: one call per scheduler visit, advancing internal state by at
// most one Effect's worth of work and reporting how long to wait before
// the next call (spec.md §4.9's "Interpreter interface").
type Interpreter interface {
	// ExecuteNext advances execution against ctx. It returns the next
	// outbound event (nil if none fired this call) and how many
	// microseconds to wait before the next ExecuteNext call. A wait of
	// clock.NEVER means the interpreter has nothing left to schedule.
	ExecuteNext(ctx *EvaluationContext) (*event.ConcreteEvent, int64)
	HasTerminated() bool
	Stop()
}

type frame struct {
	prog Program
	pc   int
}

// ASMInterpreter executes a compiled control-ASM Program directly. It runs
// every Program, whichever registered Compiler produced it; a script whose
// language has no registered Compiler gets a compilation error instead
// (spec.md §4.3, §9).
type ASMInterpreter struct {
	frames     []frame
	batchSize  int
	stopped    bool
	frameBeats float64 // frame length, for Duration spans expressed as frames
}

func NewASMInterpreter(prog Program) *ASMInterpreter {
	return &ASMInterpreter{
		frames:    []frame{{prog: prog, pc: 0}},
		batchSize: DefaultInstructionBatchSize,
	}
}

func (in *ASMInterpreter) SetFrameBeats(beats float64) {
	in.frameBeats = beats
}

func (in *ASMInterpreter) HasTerminated() bool {
	return in.stopped || len(in.frames) == 0
}

func (in *ASMInterpreter) Stop() {
	in.stopped = true
}

func (in *ASMInterpreter) current() *frame {
	return &in.frames[len(in.frames)-1]
}

// ExecuteNext runs up to batchSize control instructions, stopping early on
// the first Effect instruction (which it resolves into a ConcreteEvent and
// a wait duration) or on Yield (which ends the batch with no event and no
// wait, so the scheduler calls back on its very next tick).
func (in *ASMInterpreter) ExecuteNext(ctx *EvaluationContext) (*event.ConcreteEvent, int64) {
	if in.HasTerminated() {
		return nil, clock.NEVER
	}

	for i := 0; i < in.batchSize; i++ {
		f := in.current()
		if f.pc >= len(f.prog) {
			// Implicit return off the end of a subroutine; falling off
			// the end of the top-level program terminates.
			in.frames = in.frames[:len(in.frames)-1]
			if len(in.frames) == 0 {
				return nil, clock.NEVER
			}
			continue
		}

		instr := f.prog[f.pc]
		if instr.IsEffect {
			f.pc++
			ce := ctx.BuildEvent(instr.Event)
			wait := in.resolveDuration(ctx, instr.Duration)
			if ce.Kind == event.MidiNote && wait > 0 {
				// A note sounds for the instruction's duration operand.
				ce.Duration = time.Duration(wait) * time.Microsecond
			}
			return &ce, wait
		}

		if in.execControl(ctx, f, instr.Control) {
			return nil, 0
		}
	}
	return nil, 0
}

func (in *ASMInterpreter) resolveDuration(ctx *EvaluationContext, d Variable) int64 {
	val := ctx.Evaluate(d)
	if val.Kind == KDuration {
		span := clock.TimeSpan{Kind: clock.TimeSpanKind(val.DurationKind), Micros: val.DurationA, Beats: val.DurationB, Frames: val.DurationB}
		return span.ToMicros(ctx.Clock, in.frameBeats)
	}
	return ctx.Clock.BeatsToMicros(val.AsFloat())
}

// execControl runs one control instruction, mutating f.pc, and reports
// whether this tick's batch should end immediately (true for OpYield).
func (in *ASMInterpreter) execControl(ctx *EvaluationContext, f *frame, ci ControlInstr) bool {
	next := f.pc + 1
	switch ci.Op {
	case OpMov:
		ctx.SetVar(ci.Dst, ctx.Evaluate(ci.Src1))
	case OpPush:
		ctx.Push(ctx.Evaluate(ci.Src1))
	case OpPop:
		ctx.SetVar(ci.Dst, ctx.Pop())
	case OpAdd, OpSub, OpMul, OpDiv, OpRem, OpPow, OpShl, OpShr:
		ctx.SetVar(ci.Dst, Arith(ci.Op, ctx.Evaluate(ci.Src1), ctx.Evaluate(ci.Src2)))
	case OpLt:
		ctx.SetVar(ci.Dst, Bool(Compare(ctx.Evaluate(ci.Src1), ctx.Evaluate(ci.Src2)) < 0))
	case OpLeq:
		ctx.SetVar(ci.Dst, Bool(Compare(ctx.Evaluate(ci.Src1), ctx.Evaluate(ci.Src2)) <= 0))
	case OpGt:
		ctx.SetVar(ci.Dst, Bool(Compare(ctx.Evaluate(ci.Src1), ctx.Evaluate(ci.Src2)) > 0))
	case OpGeq:
		ctx.SetVar(ci.Dst, Bool(Compare(ctx.Evaluate(ci.Src1), ctx.Evaluate(ci.Src2)) >= 0))
	case OpEq:
		ctx.SetVar(ci.Dst, Bool(ValuesEqual(ctx.Evaluate(ci.Src1), ctx.Evaluate(ci.Src2))))
	case OpNeq:
		ctx.SetVar(ci.Dst, Bool(!ValuesEqual(ctx.Evaluate(ci.Src1), ctx.Evaluate(ci.Src2))))

	case OpJump:
		next = ci.Target
	case OpRelJump:
		next = f.pc + ci.Target

	case OpJumpIfTrue:
		if ctx.Evaluate(ci.Src1).AsBool() {
			next = ci.Target
		}
	case OpJumpIfFalse:
		if !ctx.Evaluate(ci.Src1).AsBool() {
			next = ci.Target
		}
	case OpRelJumpIfTrue:
		if ctx.Evaluate(ci.Src1).AsBool() {
			next = f.pc + ci.Target
		}
	case OpRelJumpIfFalse:
		if !ctx.Evaluate(ci.Src1).AsBool() {
			next = f.pc + ci.Target
		}

	case OpJumpIfEqual:
		if ValuesEqual(ctx.Evaluate(ci.Src1), ctx.Evaluate(ci.Src2)) {
			next = ci.Target
		}
	case OpJumpIfDifferent:
		if !ValuesEqual(ctx.Evaluate(ci.Src1), ctx.Evaluate(ci.Src2)) {
			next = ci.Target
		}
	case OpJumpIfLess:
		if Compare(ctx.Evaluate(ci.Src1), ctx.Evaluate(ci.Src2)) < 0 {
			next = ci.Target
		}
	case OpJumpIfLessOrEqual:
		if Compare(ctx.Evaluate(ci.Src1), ctx.Evaluate(ci.Src2)) <= 0 {
			next = ci.Target
		}
	case OpRelJumpIfEqual:
		if ValuesEqual(ctx.Evaluate(ci.Src1), ctx.Evaluate(ci.Src2)) {
			next = f.pc + ci.Target
		}
	case OpRelJumpIfDifferent:
		if !ValuesEqual(ctx.Evaluate(ci.Src1), ctx.Evaluate(ci.Src2)) {
			next = f.pc + ci.Target
		}
	case OpRelJumpIfLess:
		if Compare(ctx.Evaluate(ci.Src1), ctx.Evaluate(ci.Src2)) < 0 {
			next = f.pc + ci.Target
		}
	case OpRelJumpIfLessOrEqual:
		if Compare(ctx.Evaluate(ci.Src1), ctx.Evaluate(ci.Src2)) <= 0 {
			next = f.pc + ci.Target
		}

	case OpCall:
		callee := ctx.Evaluate(ci.Src1)
		f.pc = next
		if callee.Kind == KFunction {
			in.frames = append(in.frames, frame{prog: callee.Func, pc: 0})
		}
		return false
	case OpReturn:
		in.frames = in.frames[:len(in.frames)-1]
		return false
	case OpYield:
		f.pc = next
		return true
	}
	f.pc = next
	return false
}
