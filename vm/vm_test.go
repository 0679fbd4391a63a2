package vm

import (
	"testing"

	"github.com/iltempo/engine/clock"
	"github.com/iltempo/engine/event"
)

func newTestContext() *EvaluationContext {
	c := clock.New(clock.NewSession(120, 4))
	return &EvaluationContext{
		Global:   NewStore(),
		Line:     NewStore(),
		Frame:    NewStore(),
		Instance: NewStore(),
		Clock:    c,
	}
}

func TestDecimalArithmeticReduces(t *testing.T) {
	a := Decimal(1, 1, 2) // 1/2
	b := Decimal(1, 1, 3) // 1/3
	sum := Arith(OpAdd, a, b)
	if sum.Kind != KDecimal {
		t.Fatalf("expected decimal result, got %v", sum.Kind)
	}
	// 1/2 + 1/3 = 5/6
	if sum.DecNum != 5 || sum.DecDen != 6 {
		t.Errorf("1/2+1/3 = %d/%d, want 5/6", sum.DecNum, sum.DecDen)
	}
}

func TestCoercionRankPromotesToFloat(t *testing.T) {
	i := Integer(2)
	f := Float(1.5)
	got := Arith(OpAdd, i, f)
	if got.Kind != KFloat {
		t.Fatalf("int+float should promote to float, got %v", got.Kind)
	}
	if got.Flt != 3.5 {
		t.Errorf("2+1.5 = %v, want 3.5", got.Flt)
	}
}

func TestCoercionDecimalWithInteger(t *testing.T) {
	d := Decimal(1, 3, 2) // 3/2
	i := Integer(1)
	got := Arith(OpAdd, d, i)
	if got.Kind != KDecimal {
		t.Fatalf("decimal+integer should stay decimal, got %v", got.Kind)
	}
	if got.DecNum != 5 || got.DecDen != 2 {
		t.Errorf("3/2+1 = %d/%d, want 5/2", got.DecNum, got.DecDen)
	}
}

func TestStoreGetSetScoping(t *testing.T) {
	ctx := newTestContext()
	ctx.SetVar(Global("x"), Integer(5))
	ctx.SetVar(LineVar("x"), Integer(7))
	if got := ctx.Evaluate(Global("x")); got.Int != 5 {
		t.Errorf("global x = %v, want 5", got.Int)
	}
	if got := ctx.Evaluate(LineVar("x")); got.Int != 7 {
		t.Errorf("line x = %v, want 7", got.Int)
	}
}

func TestEnvironmentGetTempo(t *testing.T) {
	ctx := newTestContext()
	got := ctx.Evaluate(EnvVar(&EnvCall{Func: FuncGetTempo}))
	if got.AsFloat() != 120 {
		t.Errorf("env:tempo = %v, want 120", got.AsFloat())
	}
}

func TestAsmCompilerSimpleProgram(t *testing.T) {
	c := &AsmCompiler{}
	src := `
mov #5 g:x
mov #7 g:y
add g:x g:y g:z
`
	state := c.Compile(src)
	if !state.OK() {
		t.Fatalf("compile failed: %v", state.Err)
	}
	if len(state.Program) != 3 {
		t.Fatalf("expected 3 instructions, got %d", len(state.Program))
	}
}

func TestAsmCompilerUnknownLabel(t *testing.T) {
	c := &AsmCompiler{}
	state := c.Compile("jump nowhere")
	if state.OK() {
		t.Fatal("expected compile error for unknown label")
	}
}

func TestAsmInterpreterRunsControlThenEffect(t *testing.T) {
	c := &AsmCompiler{}
	src := `
mov #60 g:note
mov #100 g:vel
effect.note g:note g:vel #0 #0 #1
`
	state := c.Compile(src)
	if !state.OK() {
		t.Fatalf("compile failed: %v", state.Err)
	}
	in := NewASMInterpreter(state.Program)
	ctx := newTestContext()

	ev, wait := in.ExecuteNext(ctx)
	if ev == nil {
		t.Fatal("expected an event from first ExecuteNext call")
	}
	if ev.Kind != event.MidiNote || ev.Note != 60 || ev.Velocity != 100 {
		t.Errorf("unexpected event: %+v", ev)
	}
	if wait <= 0 {
		t.Errorf("expected positive wait, got %d", wait)
	}
}

func TestAsmInterpreterLoopYieldsWithoutTerminating(t *testing.T) {
	c := &AsmCompiler{}
	src := `
loop:
mov #1 g:x
jump loop
`
	state := c.Compile(src)
	if !state.OK() {
		t.Fatalf("compile failed: %v", state.Err)
	}
	in := NewASMInterpreter(state.Program)
	ctx := newTestContext()
	ev, wait := in.ExecuteNext(ctx)
	if ev != nil {
		t.Fatal("infinite control loop should never itself emit an event")
	}
	if wait != 0 {
		t.Errorf("batch-exhausted-without-effect should report wait=0, got %d", wait)
	}
	if in.HasTerminated() {
		t.Fatal("an infinite loop never terminates")
	}
}

func TestAsmInterpreterTerminatesAtEndOfProgram(t *testing.T) {
	c := &AsmCompiler{}
	state := c.Compile("mov #1 g:x")
	in := NewASMInterpreter(state.Program)
	ctx := newTestContext()
	in.ExecuteNext(ctx)
	if !in.HasTerminated() {
		t.Fatal("falling off the end of the top-level program should terminate")
	}
	_, wait := in.ExecuteNext(ctx)
	if wait != clock.NEVER {
		t.Errorf("terminated interpreter should report NEVER, got %d", wait)
	}
}

func TestExternalCompilerSuccess(t *testing.T) {
	c := &ExternalCompiler{
		LangName: "echo-lang",
		Path:     "/bin/sh",
		Args:     []string{"-c", "cat >/dev/null; printf '%s' '{\"program\":[]}'"},
	}
	if c.Name() != "echo-lang" {
		t.Fatalf("Name() = %q, want echo-lang", c.Name())
	}
	state := c.Compile("whatever the subprocess's own language looks like")
	if !state.OK() {
		t.Fatalf("expected a successful compile, got %v", state.Err)
	}
	if len(state.Program) != 0 {
		t.Errorf("expected an empty program, got %d instructions", len(state.Program))
	}
}

func TestExternalCompilerReportsSubprocessError(t *testing.T) {
	c := &ExternalCompiler{
		LangName: "echo-lang",
		Path:     "/bin/sh",
		Args:     []string{"-c", "cat >/dev/null; printf '%s' '{\"error\":{\"line\":3,\"message\":\"bad token\"}}'"},
	}
	state := c.Compile("nonsense")
	if state.OK() {
		t.Fatal("expected a compile error reported by the subprocess")
	}
	if state.Err.Line != 3 || state.Err.Message != "bad token" {
		t.Errorf("unexpected compile error: %+v", state.Err)
	}
}

func TestExternalCompilerFailsOnNonzeroExit(t *testing.T) {
	c := &ExternalCompiler{
		LangName: "echo-lang",
		Path:     "/bin/sh",
		Args:     []string{"-c", "cat >/dev/null; exit 1"},
	}
	state := c.Compile("source")
	if state.OK() {
		t.Fatal("expected a compile error when the subprocess exits nonzero")
	}
}

func TestDirectoryRegistersAsmByDefault(t *testing.T) {
	dir := NewDirectory()
	if !dir.Has("asm") {
		t.Fatal("expected \"asm\" to be registered by default")
	}
	if _, ok := dir.Get("unregistered-lang"); ok {
		t.Fatal("expected an unregistered language to not be found")
	}

	ext := &ExternalCompiler{LangName: "lua", Path: "/bin/sh"}
	dir.Register(ext)
	got, ok := dir.Get("lua")
	if !ok || got.Name() != "lua" {
		t.Errorf("expected the registered external compiler to be retrievable, got %v, %v", got, ok)
	}
}

func TestAsmInterpreterCallAndReturn(t *testing.T) {
	c := &AsmCompiler{}
	sub := Program{
		ControlOf(ControlInstr{Op: OpMov, Src1: Const(Integer(42)), Dst: Global("called")}),
		ControlOf(ControlInstr{Op: OpReturn}),
	}
	main := Program{
		ControlOf(ControlInstr{Op: OpMov, Src1: Const(FuncOf(sub)), Dst: Global("fn")}),
		ControlOf(ControlInstr{Op: OpCall, Src1: Global("fn")}),
	}
	_ = c
	in := NewASMInterpreter(main)
	ctx := newTestContext()
	in.ExecuteNext(ctx)
	got := ctx.Evaluate(Global("called"))
	if got.Int != 42 {
		t.Errorf("subroutine did not run: called=%v", got)
	}
}
