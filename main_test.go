package main

import (
	"strings"
	"testing"

	"github.com/iltempo/engine/clock"
	"github.com/iltempo/engine/commands"
	"github.com/iltempo/engine/device"
	"github.com/iltempo/engine/scene"
	"github.com/iltempo/engine/schedule"
	"github.com/iltempo/engine/vm"
)

func newTestHandler(t *testing.T) *commands.Handler {
	t.Helper()
	cl := clock.New(clock.NewSession(120, 4))
	sc := scene.NewScene()
	devices := device.NewMap()
	dir := vm.NewDirectory()
	world := make(chan device.TimedMessage, 16)
	sched := schedule.Create(cl, sc, devices, dir, world)
	t.Cleanup(func() { sched.Send(schedule.SchedulerMessage{Kind: schedule.MsgShutdown}) })
	return commands.New(sched, dir, nil)
}

func TestProcessBatchInput(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantSuccess bool
		wantExit    bool
	}{
		{name: "empty input", input: "", wantSuccess: true, wantExit: false},
		{name: "comments only", input: "# comment\n# another comment\n", wantSuccess: true, wantExit: false},
		{name: "empty lines only", input: "\n\n\n", wantSuccess: true, wantExit: false},
		{name: "valid command", input: "tempo 130\n", wantSuccess: true, wantExit: false},
		{name: "exit command", input: "exit\n", wantSuccess: true, wantExit: true},
		{name: "quit command", input: "quit\n", wantSuccess: true, wantExit: true},
		{name: "mixed valid and comments", input: "# Setup\ntempo 130\n# Done\n", wantSuccess: true, wantExit: false},
		{name: "invalid command", input: "invalid_command_xyz\n", wantSuccess: false, wantExit: false},
		{name: "valid then invalid commands", input: "tempo 130\ninvalid_command\n", wantSuccess: false, wantExit: false},
		{name: "invalid then valid commands", input: "invalid_command\ntempo 130\n", wantSuccess: false, wantExit: false},
		{name: "exit after error", input: "invalid_command\nexit\n", wantSuccess: false, wantExit: true},
		{name: "case insensitive exit", input: "EXIT\n", wantSuccess: true, wantExit: true},
		{name: "case insensitive quit", input: "QUIT\n", wantSuccess: true, wantExit: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestHandler(t)
			reader := strings.NewReader(tt.input)

			gotSuccess, gotExit := processBatchInput(reader, handler)

			if gotSuccess != tt.wantSuccess {
				t.Errorf("processBatchInput() success = %v, want %v", gotSuccess, tt.wantSuccess)
			}
			if gotExit != tt.wantExit {
				t.Errorf("processBatchInput() exit = %v, want %v", gotExit, tt.wantExit)
			}
		})
	}
}

func TestProcessBatchInput_CommandExecution(t *testing.T) {
	handler := newTestHandler(t)

	input := "line add\n"
	reader := strings.NewReader(input)
	success, exit := processBatchInput(reader, handler)

	if !success {
		t.Error("Expected 'line add' command to succeed")
	}
	if exit {
		t.Error("Expected no exit for 'line add' command")
	}
}

func TestProcessBatchInput_MultipleCommands(t *testing.T) {
	handler := newTestHandler(t)

	input := `# Set up scene
line add
tempo 130
# Done
quantum 4
`
	reader := strings.NewReader(input)
	success, exit := processBatchInput(reader, handler)

	if !success {
		t.Error("Expected all commands to succeed")
	}
	if exit {
		t.Error("Expected no exit")
	}
}
