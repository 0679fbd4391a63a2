package commands

import (
	"strings"
	"testing"

	"github.com/iltempo/engine/clock"
	"github.com/iltempo/engine/device"
	"github.com/iltempo/engine/scene"
	"github.com/iltempo/engine/schedule"
	"github.com/iltempo/engine/vm"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	cl := clock.New(clock.NewSession(120, 4))
	sc := scene.NewScene()
	devices := device.NewMap()
	dir := vm.NewDirectory()
	world := make(chan device.TimedMessage, 16)
	sched := schedule.Create(cl, sc, devices, dir, world)
	t.Cleanup(func() { sched.Send(schedule.SchedulerMessage{Kind: schedule.MsgShutdown}) })
	return New(sched, dir, nil)
}

func TestProcessCommand_UnknownCommand(t *testing.T) {
	h := newTestHandler(t)
	err := h.ProcessCommand("bogus")
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestProcessCommand_EmptyLine(t *testing.T) {
	h := newTestHandler(t)
	if err := h.ProcessCommand("   "); err != nil {
		t.Errorf("empty command line should be a no-op, got %v", err)
	}
}

func TestProcessCommand_LineAdd(t *testing.T) {
	h := newTestHandler(t)
	if err := h.ProcessCommand("line add"); err != nil {
		t.Fatalf("line add failed: %v", err)
	}
}

func TestProcessCommand_Tempo(t *testing.T) {
	h := newTestHandler(t)
	if err := h.ProcessCommand("tempo 140"); err != nil {
		t.Fatalf("tempo failed: %v", err)
	}
	if err := h.ProcessCommand("tempo notanumber"); err == nil {
		t.Fatal("expected error for non-numeric tempo")
	}
}

func TestProcessCommand_Quantum(t *testing.T) {
	h := newTestHandler(t)
	if err := h.ProcessCommand("quantum 8"); err != nil {
		t.Fatalf("quantum failed: %v", err)
	}
}

func TestProcessCommand_StartStop(t *testing.T) {
	h := newTestHandler(t)
	if err := h.ProcessCommand("start"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := h.ProcessCommand("stop"); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestProcessCommand_GlobalSet(t *testing.T) {
	h := newTestHandler(t)
	if err := h.ProcessCommand("global set shift 3"); err != nil {
		t.Fatalf("global set failed: %v", err)
	}
}

func TestProcessCommand_LineMode(t *testing.T) {
	h := newTestHandler(t)
	if err := h.ProcessCommand("line add"); err != nil {
		t.Fatalf("line add failed: %v", err)
	}
	for _, mode := range []string{"free", "quantum", "longest"} {
		if err := h.ProcessCommand("line mode 0 " + mode); err != nil {
			t.Errorf("line mode 0 %s failed: %v", mode, err)
		}
	}
	if err := h.ProcessCommand("line mode 0 sideways"); err == nil {
		t.Fatal("expected an error for an unknown mode name")
	}
	if err := h.ProcessCommand("line mode 0"); err == nil {
		t.Fatal("expected an error for a missing mode argument")
	}
}

func TestProcessCommand_AskWithoutAI(t *testing.T) {
	h := newTestHandler(t)
	err := h.ProcessCommand("ask 0 play a scale")
	if err == nil {
		t.Fatal("expected error when no AI client is configured")
	}
	if !strings.Contains(err.Error(), "AI assistant unavailable") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestProcessCommand_CompareWithoutAI(t *testing.T) {
	h := newTestHandler(t)
	err := h.ProcessCommand("compare play a scale")
	if err == nil {
		t.Fatal("expected error when no AI client is configured")
	}
}

func TestParseTiming(t *testing.T) {
	tests := []struct {
		args     []string
		wantKind scene.ActionTimingKind
		wantRest int
	}{
		{[]string{"0", "4", "C4"}, scene.Immediate, 3},
		{[]string{"0", "4", "C4", "at", "now"}, scene.Immediate, 3},
		{[]string{"0", "4", "C4", "at", "next-beat"}, scene.AtNextBeat, 3},
		{[]string{"0", "4", "C4", "at", "next-phase"}, scene.AtNextPhase, 3},
	}
	for _, tt := range tests {
		rest, timing, err := parseTiming(tt.args)
		if err != nil {
			t.Fatalf("parseTiming(%v) error: %v", tt.args, err)
		}
		if timing.Kind != tt.wantKind {
			t.Errorf("parseTiming(%v) kind = %v, want %v", tt.args, timing.Kind, tt.wantKind)
		}
		if len(rest) != tt.wantRest {
			t.Errorf("parseTiming(%v) rest = %v, want len %d", tt.args, rest, tt.wantRest)
		}
	}
}

func TestReadLoop_QuitsOnQuit(t *testing.T) {
	h := newTestHandler(t)
	reader := strings.NewReader("tempo 100\nquit\n")
	if err := h.ReadLoop(reader); err != nil {
		t.Fatalf("ReadLoop returned error: %v", err)
	}
}
