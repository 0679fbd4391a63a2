package vm

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/iltempo/engine/event"
)

// CompilationError is a non-fatal compile failure: the calling Script keeps
// its last-good Program (if any) and stores this for the next Log/
// CompilationUpdate notification (spec.md §7).
type CompilationError struct {
	Line    int
	Message string
}

func (e *CompilationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// CompilationState is a Script's compiled-artifact cell: either a freshly
// compiled Program, or the error from the last attempt to produce one.
// The zero value means the script has not been compiled yet.
type CompilationState struct {
	Program Program
	Err     *CompilationError
}

// OK reports whether the state holds a successfully compiled Program; the
// zero (never compiled) state is not OK.
func (s CompilationState) OK() bool {
	return s.Err == nil && s.Program != nil
}

// Compiler turns script source text into a Program. The built-in ASM
// compiler (Name() == "asm") always exists; a Directory may also
// register language names backed by external subprocess compilers
// (spec.md §4.3's "pluggable Interpreter/Compiler").
type Compiler interface {
	Name() string
	Compile(source string) CompilationState
}

// Directory maps a script's declared language to the Compiler that
// handles it. "asm" is registered by default; every other name must be
// registered explicitly, and an unregistered language is a fatal interpreter
// error for scripts written in it (spec.md §7's "interpreter fatal").
type Directory struct {
	compilers map[string]Compiler
}

func NewDirectory() *Directory {
	d := &Directory{compilers: make(map[string]Compiler)}
	d.Register(&AsmCompiler{})
	return d
}

func (d *Directory) Register(c Compiler) {
	d.compilers[c.Name()] = c
}

func (d *Directory) Get(name string) (Compiler, bool) {
	c, ok := d.compilers[name]
	return c, ok
}

func (d *Directory) Has(name string) bool {
	_, ok := d.compilers[name]
	return ok
}

// ExternalCompiler compiles by shelling out to a subprocess once per
// script source, matching core/src/compiler.rs's ExternalCompiler: a
// single request/response round trip per compile rather than a
// long-running session, since compilation (unlike interpretation) never
// needs to be driven tick by tick.
//
// Protocol: the source is written to the subprocess's stdin (newline-
// terminated), and the subprocess replies on stdout with one JSON object:
// {"program": [...Instruction JSON...]} on success, or
// {"error": {"line": N, "message": "..."}} on failure.
type ExternalCompiler struct {
	LangName string
	Path     string
	Args     []string
}

func (e *ExternalCompiler) Name() string { return e.LangName }

func (e *ExternalCompiler) Compile(source string) CompilationState {
	cmd := exec.Command(e.Path, e.Args...)
	cmd.Stdin = strings.NewReader(source + "\n")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return CompilationState{Err: &CompilationError{Message: fmt.Sprintf("external compiler %q: %v", e.Path, err)}}
	}

	var resp struct {
		Program Program           `json:"program"`
		Error   *CompilationError `json:"error"`
	}
	if err := json.NewDecoder(bufio.NewReader(&out)).Decode(&resp); err != nil {
		return CompilationState{Err: &CompilationError{Message: fmt.Sprintf("malformed compiler response: %v", err)}}
	}
	if resp.Error != nil {
		return CompilationState{Err: resp.Error}
	}
	return CompilationState{Program: resp.Program}
}

// AsmCompiler compiles the VM's own line-based mnemonic notation directly
// into a Program, with no external process: this is the always-available
// fallback language every script can use without a registered Compiler
// (spec.md §9's design note that the VM needs no outside language to be
// useful on its own).
//
// Grammar, one instruction per line, blank lines and "; comment" lines
// ignored, optional leading "label:" line naming a jump target:
//
//	mov <src> <dst>
//	push <src>
//	pop <dst>
//	add|sub|mul|div|rem|pow|shl|shr <src1> <src2> <dst>
//	lt|leq|gt|geq|eq|neq <src1> <src2> <dst>
//	jump <label>
//	jump_if_true|jump_if_false <src1> <label>
//	jump_if_eq|jump_if_neq|jump_if_lt|jump_if_leq <src1> <src2> <label>
//	call <src1>
//	return
//	yield
//	effect.note <note> <velocity> <channel> <device> <duration>
//	effect.control <controller> <value> <channel> <device> <duration>
//	effect.program <program> <channel> <device> <duration>
//
// Operands: g:name / l:name / f:name / i:name address a store; #123,
// #1.5, #true, #"text" are constants; env:tempo, env:random_uint:N,
// env:random_int, env:random_float, env:frame_len:<line>:<frame> call
// environment functions.
type AsmCompiler struct{}

func (a *AsmCompiler) Name() string { return "asm" }

func (a *AsmCompiler) Compile(source string) CompilationState {
	lines := strings.Split(source, "\n")

	labels := map[string]int{}
	type rawLine struct {
		lineNo int
		tokens []string
	}
	var raw []rawLine
	for i, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(l, ";") {
			continue
		}
		if strings.HasSuffix(l, ":") && !strings.Contains(l, " ") {
			labels[strings.TrimSuffix(l, ":")] = len(raw)
			continue
		}
		raw = append(raw, rawLine{lineNo: i + 1, tokens: strings.Fields(l)})
	}

	prog := make(Program, 0, len(raw))
	for _, rl := range raw {
		instr, err := assembleLine(rl.tokens, labels, rl.lineNo)
		if err != nil {
			return CompilationState{Err: err}
		}
		prog = append(prog, instr)
	}
	return CompilationState{Program: prog}
}

func assembleLine(tok []string, labels map[string]int, lineNo int) (Instruction, *CompilationError) {
	if len(tok) == 0 {
		return Instruction{}, &CompilationError{Line: lineNo, Message: "empty instruction"}
	}
	op := tok[0]

	arg := func(i int) (Variable, *CompilationError) {
		if i >= len(tok) {
			return Variable{}, &CompilationError{Line: lineNo, Message: fmt.Sprintf("%s: missing operand %d", op, i)}
		}
		return parseOperand(tok[i])
	}
	target := func(i int) (int, *CompilationError) {
		if i >= len(tok) {
			return 0, &CompilationError{Line: lineNo, Message: fmt.Sprintf("%s: missing label", op)}
		}
		idx, ok := labels[tok[i]]
		if !ok {
			return 0, &CompilationError{Line: lineNo, Message: fmt.Sprintf("%s: unknown label %q", op, tok[i])}
		}
		return idx, nil
	}

	switch op {
	case "mov":
		s, e := arg(1)
		if e != nil {
			return Instruction{}, e
		}
		d, e := arg(2)
		if e != nil {
			return Instruction{}, e
		}
		return ControlOf(ControlInstr{Op: OpMov, Src1: s, Dst: d}), nil
	case "push":
		s, e := arg(1)
		if e != nil {
			return Instruction{}, e
		}
		return ControlOf(ControlInstr{Op: OpPush, Src1: s}), nil
	case "pop":
		d, e := arg(1)
		if e != nil {
			return Instruction{}, e
		}
		return ControlOf(ControlInstr{Op: OpPop, Dst: d}), nil
	case "add", "sub", "mul", "div", "rem", "pow", "shl", "shr",
		"lt", "leq", "gt", "geq", "eq", "neq":
		s1, e := arg(1)
		if e != nil {
			return Instruction{}, e
		}
		s2, e := arg(2)
		if e != nil {
			return Instruction{}, e
		}
		d, e := arg(3)
		if e != nil {
			return Instruction{}, e
		}
		return ControlOf(ControlInstr{Op: binOp(op), Src1: s1, Src2: s2, Dst: d}), nil
	case "jump":
		t, e := target(1)
		if e != nil {
			return Instruction{}, e
		}
		return ControlOf(ControlInstr{Op: OpJump, Target: t}), nil
	case "jump_if_true", "jump_if_false":
		s1, e := arg(1)
		if e != nil {
			return Instruction{}, e
		}
		t, e := target(2)
		if e != nil {
			return Instruction{}, e
		}
		o := OpJumpIfTrue
		if op == "jump_if_false" {
			o = OpJumpIfFalse
		}
		return ControlOf(ControlInstr{Op: o, Src1: s1, Target: t}), nil
	case "jump_if_eq", "jump_if_neq", "jump_if_lt", "jump_if_leq":
		s1, e := arg(1)
		if e != nil {
			return Instruction{}, e
		}
		s2, e := arg(2)
		if e != nil {
			return Instruction{}, e
		}
		t, e := target(3)
		if e != nil {
			return Instruction{}, e
		}
		var o Op
		switch op {
		case "jump_if_eq":
			o = OpJumpIfEqual
		case "jump_if_neq":
			o = OpJumpIfDifferent
		case "jump_if_lt":
			o = OpJumpIfLess
		case "jump_if_leq":
			o = OpJumpIfLessOrEqual
		}
		return ControlOf(ControlInstr{Op: o, Src1: s1, Src2: s2, Target: t}), nil
	case "call":
		s1, e := arg(1)
		if e != nil {
			return Instruction{}, e
		}
		return ControlOf(ControlInstr{Op: OpCall, Src1: s1}), nil
	case "return":
		return ControlOf(ControlInstr{Op: OpReturn}), nil
	case "yield":
		return ControlOf(ControlInstr{Op: OpYield}), nil
	case "effect.note":
		if len(tok) < 6 {
			return Instruction{}, &CompilationError{Line: lineNo, Message: "effect.note needs note velocity channel device duration"}
		}
		note, _ := arg(1)
		vel, _ := arg(2)
		ch, _ := arg(3)
		dev, _ := arg(4)
		dur, e := arg(5)
		if e != nil {
			return Instruction{}, e
		}
		return EffectOf(SymbolicEvent{Kind: event.MidiNote, Note: note, Velocity: vel, Channel: ch, DeviceSlot: dev}, dur), nil
	case "effect.control":
		if len(tok) < 6 {
			return Instruction{}, &CompilationError{Line: lineNo, Message: "effect.control needs controller value channel device duration"}
		}
		ctl, _ := arg(1)
		val, _ := arg(2)
		ch, _ := arg(3)
		dev, _ := arg(4)
		dur, e := arg(5)
		if e != nil {
			return Instruction{}, e
		}
		return EffectOf(SymbolicEvent{Kind: event.MidiControl, Controller: ctl, Value: val, Channel: ch, DeviceSlot: dev}, dur), nil
	case "effect.program":
		if len(tok) < 5 {
			return Instruction{}, &CompilationError{Line: lineNo, Message: "effect.program needs program channel device duration"}
		}
		prg, _ := arg(1)
		ch, _ := arg(2)
		dev, _ := arg(3)
		dur, e := arg(4)
		if e != nil {
			return Instruction{}, e
		}
		return EffectOf(SymbolicEvent{Kind: event.MidiProgram, Program: prg, Channel: ch, DeviceSlot: dev}, dur), nil
	default:
		return Instruction{}, &CompilationError{Line: lineNo, Message: fmt.Sprintf("unknown instruction %q", op)}
	}
}

func binOp(name string) Op {
	switch name {
	case "add":
		return OpAdd
	case "sub":
		return OpSub
	case "mul":
		return OpMul
	case "div":
		return OpDiv
	case "rem":
		return OpRem
	case "pow":
		return OpPow
	case "shl":
		return OpShl
	case "shr":
		return OpShr
	case "lt":
		return OpLt
	case "leq":
		return OpLeq
	case "gt":
		return OpGt
	case "geq":
		return OpGeq
	case "eq":
		return OpEq
	case "neq":
		return OpNeq
	}
	return OpMov
}

func parseOperand(t string) (Variable, *CompilationError) {
	switch {
	case strings.HasPrefix(t, "g:"):
		return Global(t[2:]), nil
	case strings.HasPrefix(t, "l:"):
		return LineVar(t[2:]), nil
	case strings.HasPrefix(t, "f:"):
		return FrameVar(t[2:]), nil
	case strings.HasPrefix(t, "i:"):
		return InstanceVar(t[2:]), nil
	case strings.HasPrefix(t, "env:"):
		return parseEnvOperand(t[4:])
	case strings.HasPrefix(t, "#"):
		return parseConstOperand(t[1:])
	default:
		return Variable{}, &CompilationError{Message: fmt.Sprintf("unrecognized operand %q", t)}
	}
}

func parseEnvOperand(rest string) (Variable, *CompilationError) {
	parts := strings.Split(rest, ":")
	switch parts[0] {
	case "tempo":
		return EnvVar(&EnvCall{Func: FuncGetTempo}), nil
	case "random_uint":
		if len(parts) < 2 {
			return Variable{}, &CompilationError{Message: "env:random_uint needs a bound"}
		}
		n, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return Variable{}, &CompilationError{Message: fmt.Sprintf("bad random_uint bound: %v", err)}
		}
		return EnvVar(&EnvCall{Func: FuncRandomUInt, N: n}), nil
	case "random_int":
		return EnvVar(&EnvCall{Func: FuncRandomInt}), nil
	case "random_float":
		return EnvVar(&EnvCall{Func: FuncRandomFloat}), nil
	case "frame_len":
		if len(parts) < 3 {
			return Variable{}, &CompilationError{Message: "env:frame_len needs line:frame"}
		}
		lineVar, err := parseOperand(parts[1])
		if err != nil {
			return Variable{}, err
		}
		frameVar, err := parseOperand(parts[2])
		if err != nil {
			return Variable{}, err
		}
		return EnvVar(&EnvCall{Func: FuncFrameLen, Line: lineVar, Frame: frameVar}), nil
	default:
		return Variable{}, &CompilationError{Message: fmt.Sprintf("unknown environment function %q", parts[0])}
	}
}

func parseConstOperand(rest string) (Variable, *CompilationError) {
	switch rest {
	case "true":
		return Const(Bool(true)), nil
	case "false":
		return Const(Bool(false)), nil
	}
	if strings.HasPrefix(rest, `"`) && strings.HasSuffix(rest, `"`) && len(rest) >= 2 {
		return Const(Str(rest[1 : len(rest)-1])), nil
	}
	if i, err := strconv.ParseInt(rest, 10, 64); err == nil {
		return Const(Integer(i)), nil
	}
	if f, err := strconv.ParseFloat(rest, 64); err == nil {
		return Const(Float(f)), nil
	}
	return Variable{}, &CompilationError{Message: fmt.Sprintf("bad constant %q", rest)}
}
