package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/iltempo/engine/ai"
	"github.com/iltempo/engine/clock"
	"github.com/iltempo/engine/commands"
	"github.com/iltempo/engine/device"
	"github.com/iltempo/engine/midi"
	"github.com/iltempo/engine/persistence"
	"github.com/iltempo/engine/scene"
	"github.com/iltempo/engine/schedule"
	"github.com/iltempo/engine/vm"
	"github.com/mattn/go-isatty"
)

// Device slots: 0 is the live MIDI output; 1 and 2 are stand-ins for
// transports this repository has no real backend for (spec.md §4.5, §6).
const (
	slotMIDI = 0
	slotOSC  = 1
	slotDirt = 2
)

// isTerminal returns true if stdin is a terminal (TTY).
func isTerminal() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}

// processBatchInput reads and executes commands from reader.
// Returns (success, shouldExit) where success indicates no errors occurred
// and shouldExit indicates if an explicit exit command was found.
func processBatchInput(reader io.Reader, handler *commands.Handler) (bool, bool) {
	scanner := bufio.NewScanner(reader)
	hadErrors := false
	shouldExit := false

	for scanner.Scan() {
		line := scanner.Text()
		line = strings.TrimSpace(line)

		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			fmt.Println(line)
			continue
		}
		if strings.ToLower(line) == "exit" || strings.ToLower(line) == "quit" {
			shouldExit = true
			continue
		}

		fmt.Println(">", line)
		if err := handler.ProcessCommand(line); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			hadErrors = true
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		return false, shouldExit
	}

	return !hadErrors, shouldExit
}

// selectMIDIPort lists available MIDI output ports and either auto-selects
// port 0 in batch mode or prompts interactively, mirroring the teacher's
// port-selection flow.
func selectMIDIPort(inBatchMode bool) (int, error) {
	ports, err := midi.ListPorts()
	if err != nil {
		return 0, fmt.Errorf("listing MIDI ports: %w", err)
	}
	if len(ports) == 0 {
		return 0, fmt.Errorf("no MIDI output ports found")
	}

	fmt.Println("Available MIDI ports:")
	for i, port := range ports {
		fmt.Printf("  %d: %s\n", i, port)
	}

	if len(ports) == 1 || inBatchMode {
		fmt.Printf("\nUsing port 0: %s\n\n", ports[0])
		return 0, nil
	}

	fmt.Print("\n")
	rl, err := readline.New(fmt.Sprintf("Select MIDI port (0-%d): ", len(ports)-1))
	if err != nil {
		return 0, fmt.Errorf("creating readline: %w", err)
	}
	defer rl.Close()

	input, err := rl.Readline()
	if err != nil {
		return 0, fmt.Errorf("reading input: %w", err)
	}

	input = strings.TrimSpace(input)
	portIndex, err := strconv.Atoi(input)
	if err != nil || portIndex < 0 || portIndex >= len(ports) {
		return 0, fmt.Errorf("invalid port selection: %s", input)
	}

	fmt.Printf("Using port %d: %s\n\n", portIndex, ports[portIndex])
	return portIndex, nil
}

func main() {
	scriptFile := flag.String("script", "", "execute commands from file")
	flag.Parse()

	inBatchMode := *scriptFile != "" || !isTerminal()

	portIndex, err := selectMIDIPort(inBatchMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	midiOut, err := midi.Open(portIndex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening MIDI port: %v\n", err)
		os.Exit(1)
	}
	defer midiOut.Close()

	// Build the engine: clock, scene, device map, language directory.
	cl := clock.New(clock.NewSession(120, 4))
	sc := scene.NewScene()

	devices := device.NewMap()
	devices.Register(slotMIDI, &device.MidiSlot{Out: midiOut})
	devices.Register(slotOSC, &device.LogSlot{Label: "osc"})
	devices.Register(slotDirt, &device.LogSlot{Label: "dirt"})
	devices.RegisterAudioEngine(&device.LogSlot{Label: "audio"})

	dir := vm.NewDirectory()

	worldCtx, cancelWorld := context.WithCancel(context.Background())
	world := make(chan device.TimedMessage, 256)
	go devices.Run(worldCtx, world)

	sched := schedule.Create(cl, sc, devices, dir, world)
	go drainNotifications(sched)

	var aiClient *ai.Client
	if c, aiErr := ai.NewFromEnv(); aiErr == nil {
		aiClient = c
	} else {
		fmt.Println("AI assistant unavailable (set ANTHROPIC_API_KEY to enable 'ask'/'compare')")
	}

	cmdHandler := commands.New(sched, dir, aiClient)
	cmdHandler.SetSnapshotHooks(
		func(name string) error {
			return persistence.Save(sc, cl, name)
		},
		func(name string) error {
			loaded, _, err := persistence.Load(name)
			if err != nil {
				return err
			}
			persistence.RecompileAll(loaded, dir)
			sched.Send(schedule.SchedulerMessage{Kind: schedule.MsgSetScene, Scene: loaded})
			return nil
		},
	)

	cleanup := func() {
		sched.Send(schedule.SchedulerMessage{Kind: schedule.MsgShutdown})
		<-sched.Done()
		cancelWorld()
		midiOut.Close()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down gracefully...")
		cleanup()
		os.Exit(0)
	}()

	fmt.Println("Engine started! Type 'help' for commands, 'quit' to exit.")
	fmt.Println()

	if *scriptFile != "" {
		f, err := os.Open(*scriptFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening script file: %v\n", err)
			os.Exit(2)
		}
		defer f.Close()

		success, shouldExit := processBatchInput(f, cmdHandler)
		if shouldExit {
			cleanup()
			if success {
				os.Exit(0)
			}
			os.Exit(1)
		}
		fmt.Println("\nScript completed. Engine continues running. Press Ctrl+C to exit.")
		select {}
	}

	if isTerminal() {
		if err := cmdHandler.ReadLoop(os.Stdin); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading commands: %v\n", err)
			os.Exit(1)
		}
	} else {
		success, shouldExit := processBatchInput(os.Stdin, cmdHandler)
		if shouldExit {
			cleanup()
			if success {
				os.Exit(0)
			}
			os.Exit(1)
		}
		fmt.Println("\nBatch commands completed. Engine continues running. Press Ctrl+C to exit.")
		select {}
	}

	cleanup()
	fmt.Println("Goodbye!")
}

// drainNotifications logs scheduler notifications until the channel is
// closed at shutdown (spec.md §6: a UI, a logger, or a snapshot writer is
// expected to consume SchedulerNotifications; this is the logger).
func drainNotifications(sched *schedule.Handle) {
	for n := range sched.Notifications() {
		switch n.Kind {
		case schedule.NotifyLog:
			fmt.Println(n.Message)
		case schedule.NotifyCompilationUpdated:
			if n.CompileErr != nil {
				fmt.Printf("compile error on line %d: %s\n", n.LineIndex, n.CompileErr.Error())
			}
		case schedule.NotifyTransportStopped:
			fmt.Println("Stopped")
		}
	}
}
