package vm

import "github.com/iltempo/engine/event"

// Op enumerates the control-ASM operations spec.md §4.3 requires: moves,
// stack ops, arithmetic, comparisons, jumps (absolute and relative,
// conditional and unconditional) and subroutine call/return/yield.
type Op int

const (
	OpMov Op = iota
	OpPush
	OpPop

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpPow
	OpShl
	OpShr

	OpLt
	OpLeq
	OpGt
	OpGeq
	OpEq
	OpNeq

	OpJump    // unconditional, absolute target
	OpRelJump // unconditional, pc += target

	OpJumpIfTrue  // absolute, jumps if Src1 is truthy
	OpJumpIfFalse // absolute, jumps if Src1 is falsy

	OpRelJumpIfTrue
	OpRelJumpIfFalse

	OpJumpIfEqual      // absolute, jumps if Src1 == Src2
	OpJumpIfDifferent  // absolute, jumps if Src1 != Src2
	OpJumpIfLess       // absolute, jumps if Src1 < Src2
	OpJumpIfLessOrEqual

	OpRelJumpIfEqual
	OpRelJumpIfDifferent
	OpRelJumpIfLess
	OpRelJumpIfLessOrEqual

	OpCall   // Src1 evaluates to a Function value; pushes a return frame
	OpReturn // pops the current call frame
	OpYield  // ends the current batch for this tick without terminating
)

// ControlInstr is one control-ASM instruction.
type ControlInstr struct {
	Op     Op
	Src1   Variable
	Src2   Variable
	Dst    Variable
	Target int // absolute instruction index, or relative pc delta for OpRel*
}

// EnvFunc enumerates the built-in environment functions a script can call
// through an Environment-scoped Variable (spec.md §3's EnvironmentFunc).
type EnvFunc int

const (
	FuncGetTempo EnvFunc = iota
	FuncRandomUInt
	FuncRandomInt
	FuncRandomFloat
	FuncFrameLen
)

// EnvCall is the payload of an Environment-scoped Variable: which function,
// and its arguments (RandomUInt takes a literal bound; FrameLen takes a
// line index and a frame index, each itself a Variable so a script can
// compute them dynamically).
type EnvCall struct {
	Func EnvFunc
	N    uint64   // bound for RandomUInt
	Line Variable // line index, for FrameLen
	Frame Variable // frame index, for FrameLen
}

// SymbolicEvent is the unevaluated operand of an Effect instruction: a
// ConcreteEvent shape whose fields are Variables rather than concrete
// values, resolved against an EvaluationContext immediately before
// dispatch (spec.md §4.3, §6).
type SymbolicEvent struct {
	Kind event.Kind

	Note       Variable
	Velocity   Variable
	Channel    Variable
	Controller Variable
	Value      Variable
	Program    Variable
	Pressure   Variable
	SysEx      Variable // evaluates to a List of Integer, or a String
	Address    Variable // OSC/Dirt address
	Args       Variable // evaluates to a List
	DeviceSlot Variable
}

// Instruction is Control(ControlASM) | Effect(SymbolicEvent, duration).
type Instruction struct {
	IsEffect bool

	Control ControlInstr

	Event    SymbolicEvent
	Duration Variable // how long to wait before the next instruction runs
}

func ControlOf(ci ControlInstr) Instruction {
	return Instruction{IsEffect: false, Control: ci}
}

func EffectOf(ev SymbolicEvent, duration Variable) Instruction {
	return Instruction{IsEffect: true, Event: ev, Duration: duration}
}

// Program is a compiled, directly executable instruction sequence. It is
// cheap to clone: a Value of Kind Function carries a Program by slice
// header, sharing the underlying instruction array with whoever compiled
// it (spec.md §3's "programs are cheap to clone").
type Program []Instruction
