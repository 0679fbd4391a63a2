// Package commands implements the REPL command language: the same
// ProcessCommand/ReadLoop shape the teacher's step-sequencer Handler used,
// now issuing schedule.SchedulerMessages against a running scheduler
// instead of mutating a sequence.Pattern directly.
package commands

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/iltempo/engine/ai"
	"github.com/iltempo/engine/comparison"
	"github.com/iltempo/engine/midi"
	"github.com/iltempo/engine/persistence"
	"github.com/iltempo/engine/scene"
	"github.com/iltempo/engine/schedule"
	"github.com/iltempo/engine/vm"
)

// Handler processes REPL command lines against a running scheduler.
type Handler struct {
	sched *schedule.Handle
	dir   *vm.Directory
	ai    *ai.Client

	saveHook SaveFunc
	loadHook LoadFunc
}

// New creates a command handler bound to a scheduler handle and the
// language directory used to compile new scripts before they're sent.
func New(sched *schedule.Handle, dir *vm.Directory, aiClient *ai.Client) *Handler {
	return &Handler{sched: sched, dir: dir, ai: aiClient}
}

// ProcessCommand parses and executes a single command line.
func (h *Handler) ProcessCommand(cmdLine string) error {
	cmdLine = strings.TrimSpace(cmdLine)
	if cmdLine == "" {
		return nil
	}

	parts := strings.Fields(cmdLine)
	cmd := strings.ToLower(parts[0])

	switch cmd {
	case "line":
		return h.handleLine(parts)
	case "frame":
		return h.handleFrame(parts)
	case "note":
		return h.handleNote(parts)
	case "global":
		return h.handleGlobal(parts)
	case "tempo":
		return h.handleTempo(parts)
	case "quantum":
		return h.handleQuantum(parts)
	case "start":
		return h.handleStart(parts)
	case "stop":
		return h.handleStop(parts)
	case "save":
		return h.handleSave(parts)
	case "load":
		return h.handleLoad(parts)
	case "list":
		return h.handleList(parts)
	case "delete":
		return h.handleDelete(parts)
	case "ask":
		return h.handleAsk(parts, cmdLine)
	case "compare":
		return h.handleCompare(parts, cmdLine)
	case "help":
		return h.handleHelp(parts)
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmd)
	}
}

// parseTiming reads a trailing "at <keyword>" clause off args, returning
// the remaining args and the resolved ActionTiming. Recognized keywords:
// now (default), next-beat, next-phase, end-of-line, beat:<n>.
func parseTiming(args []string) ([]string, scene.ActionTiming, error) {
	if len(args) < 2 || strings.ToLower(args[len(args)-2]) != "at" {
		return args, scene.ActionTiming{Kind: scene.Immediate}, nil
	}
	kw := strings.ToLower(args[len(args)-1])
	rest := args[:len(args)-2]
	switch {
	case kw == "now":
		return rest, scene.ActionTiming{Kind: scene.Immediate}, nil
	case kw == "next-beat":
		return rest, scene.ActionTiming{Kind: scene.AtNextBeat}, nil
	case kw == "next-phase":
		return rest, scene.ActionTiming{Kind: scene.AtNextPhase}, nil
	case kw == "end-of-line":
		return rest, scene.ActionTiming{Kind: scene.EndOfLine}, nil
	case strings.HasPrefix(kw, "beat:"):
		beat, err := strconv.ParseFloat(strings.TrimPrefix(kw, "beat:"), 64)
		if err != nil {
			return nil, scene.ActionTiming{}, fmt.Errorf("invalid beat target: %s", kw)
		}
		return rest, scene.ActionTiming{Kind: scene.AtBeat, Beat: beat}, nil
	default:
		return nil, scene.ActionTiming{}, fmt.Errorf("unknown timing %q", kw)
	}
}

func (h *Handler) send(msg schedule.SchedulerMessage) error {
	if !h.sched.Send(msg) {
		return fmt.Errorf("scheduler busy, message dropped")
	}
	return nil
}

// handleLine: line add | line remove <i> | line speed <i> <factor> [at ...]
// | line length <i> <beats> [at ...] | line mode <i> free|quantum|longest
func (h *Handler) handleLine(parts []string) error {
	if len(parts) < 2 {
		return fmt.Errorf("usage: line add|remove|speed|length|mode ...")
	}
	args := parts[1:]
	switch strings.ToLower(args[0]) {
	case "add":
		if err := h.send(schedule.SchedulerMessage{Kind: schedule.MsgAddLine, Line: scene.NewLine()}); err != nil {
			return err
		}
		fmt.Println("Added line")
		return nil

	case "remove":
		if len(args) != 2 {
			return fmt.Errorf("usage: line remove <index>")
		}
		i, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid line index: %s", args[1])
		}
		if err := h.send(schedule.SchedulerMessage{Kind: schedule.MsgRemoveLine, LineIndex: i}); err != nil {
			return err
		}
		fmt.Printf("Removed line %d\n", i)
		return nil

	case "speed":
		rest, timing, err := parseTiming(args[1:])
		if err != nil {
			return err
		}
		if len(rest) != 2 {
			return fmt.Errorf("usage: line speed <index> <factor> [at <timing>]")
		}
		i, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("invalid line index: %s", rest[0])
		}
		speed, err := strconv.ParseFloat(rest[1], 64)
		if err != nil {
			return fmt.Errorf("invalid speed: %s", rest[1])
		}
		timing.LineIndex = i
		if err := h.send(schedule.SchedulerMessage{Kind: schedule.MsgSetLineSpeed, LineIndex: i, Speed: speed, Timing: timing}); err != nil {
			return err
		}
		fmt.Printf("Set line %d speed to %g\n", i, speed)
		return nil

	case "length":
		rest, timing, err := parseTiming(args[1:])
		if err != nil {
			return err
		}
		if len(rest) != 2 {
			return fmt.Errorf("usage: line length <index> <beats> [at <timing>]")
		}
		i, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("invalid line index: %s", rest[0])
		}
		beats, err := strconv.ParseFloat(rest[1], 64)
		if err != nil {
			return fmt.Errorf("invalid length: %s", rest[1])
		}
		timing.LineIndex = i
		if err := h.send(schedule.SchedulerMessage{Kind: schedule.MsgSetLineCustomLength, LineIndex: i, CustomLength: beats, Timing: timing}); err != nil {
			return err
		}
		fmt.Printf("Set line %d custom length to %g beats\n", i, beats)
		return nil

	case "mode":
		if len(args) != 3 {
			return fmt.Errorf("usage: line mode <index> free|quantum|longest")
		}
		i, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid line index: %s", args[1])
		}
		var mode scene.ExecutionMode
		switch strings.ToLower(args[2]) {
		case "free":
			mode = scene.Free
		case "quantum":
			mode = scene.AtQuantum
		case "longest":
			mode = scene.LongestLine
		default:
			return fmt.Errorf("unknown mode %q (want free|quantum|longest)", args[2])
		}
		if err := h.send(schedule.SchedulerMessage{Kind: schedule.MsgSetLineMode, LineIndex: i, Mode: mode}); err != nil {
			return err
		}
		fmt.Printf("Set line %d mode to %s\n", i, args[2])
		return nil

	default:
		return fmt.Errorf("usage: line add|remove|speed|length|mode ...")
	}
}

// handleFrame: frame add <line> <duration-beats> <language> <script...>
// | frame enable|disable <line> <frame>
// | frame script <line> <frame> <language> <script...>
func (h *Handler) handleFrame(parts []string) error {
	if len(parts) < 2 {
		return fmt.Errorf("usage: frame add|enable|disable|script ...")
	}
	args := parts[1:]
	switch strings.ToLower(args[0]) {
	case "add":
		if len(args) < 4 {
			return fmt.Errorf("usage: frame add <line> <duration-beats> <language> <script...>")
		}
		li, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid line index: %s", args[1])
		}
		beats, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("invalid duration: %s", args[2])
		}
		language := args[3]
		content := unescapeScript(strings.Join(args[4:], " "))
		script := scene.NewScript(content, language)
		script.Recompile(h.dir)
		frame := scene.NewFrame(beats, script)
		if err := h.send(schedule.SchedulerMessage{Kind: schedule.MsgAddFrame, LineIndex: li, Frame: frame}); err != nil {
			return err
		}
		fmt.Printf("Added frame to line %d (%g beats)\n", li, beats)
		return nil

	case "enable", "disable":
		if len(args) != 3 {
			return fmt.Errorf("usage: frame %s <line> <frame>", args[0])
		}
		li, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid line index: %s", args[1])
		}
		fi, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid frame index: %s", args[2])
		}
		enabled := strings.ToLower(args[0]) == "enable"
		if err := h.send(schedule.SchedulerMessage{Kind: schedule.MsgSetFrameEnabled, LineIndex: li, FrameIndex: fi, Enabled: enabled}); err != nil {
			return err
		}
		fmt.Printf("Frame %d/%d %s\n", li, fi, args[0]+"d")
		return nil

	case "script":
		if len(args) < 5 {
			return fmt.Errorf("usage: frame script <line> <frame> <language> <script...>")
		}
		li, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid line index: %s", args[1])
		}
		fi, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid frame index: %s", args[2])
		}
		language := args[3]
		content := unescapeScript(strings.Join(args[4:], " "))
		script := scene.NewScript(content, language)
		script.Recompile(h.dir)
		if err := h.send(schedule.SchedulerMessage{Kind: schedule.MsgSetScript, LineIndex: li, FrameIndex: fi, Script: script}); err != nil {
			return err
		}
		fmt.Printf("Set script for frame %d/%d\n", li, fi)
		return nil

	default:
		return fmt.Errorf("usage: frame add|enable|disable|script ...")
	}
}

// unescapeScript turns literal "\n" sequences typed on one REPL line into
// real newlines, since the asm compiler is line-oriented.
func unescapeScript(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}

// handleNote: note <line> <duration-beats> <note-name> [channel] [device]
// A convenience that assembles a one-shot effect.note ASM script, mirroring
// the teacher's "set <step> <note>" at the scripting layer.
func (h *Handler) handleNote(parts []string) error {
	if len(parts) < 4 {
		return fmt.Errorf("usage: note <line> <duration-beats> <note-name> [channel] [device]")
	}
	li, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("invalid line index: %s", parts[1])
	}
	beats, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return fmt.Errorf("invalid duration: %s", parts[2])
	}
	midiNote, err := midi.NoteNameToMIDI(parts[3])
	if err != nil {
		return err
	}
	channel := 0
	device := 0
	if len(parts) > 4 {
		if channel, err = strconv.Atoi(parts[4]); err != nil {
			return fmt.Errorf("invalid channel: %s", parts[4])
		}
	}
	if len(parts) > 5 {
		if device, err = strconv.Atoi(parts[5]); err != nil {
			return fmt.Errorf("invalid device: %s", parts[5])
		}
	}
	content := fmt.Sprintf("effect.note #%d #100 #%d #%d #%g\nyield\n", midiNote, channel, device, beats)
	script := scene.NewScript(content, "asm")
	script.Recompile(h.dir)
	frame := scene.NewFrame(beats, script)
	if err := h.send(schedule.SchedulerMessage{Kind: schedule.MsgAddFrame, LineIndex: li, Frame: frame}); err != nil {
		return err
	}
	fmt.Printf("Added note %s to line %d\n", parts[3], li)
	return nil
}

// handleGlobal: global set <name> <value>
func (h *Handler) handleGlobal(parts []string) error {
	if len(parts) != 4 || strings.ToLower(parts[1]) != "set" {
		return fmt.Errorf("usage: global set <name> <value>")
	}
	v, err := parseValue(parts[3])
	if err != nil {
		return err
	}
	if err := h.send(schedule.SchedulerMessage{Kind: schedule.MsgSetGlobal, VarName: parts[2], Value: v}); err != nil {
		return err
	}
	fmt.Printf("Set global %s = %s\n", parts[2], parts[3])
	return nil
}

func parseValue(s string) (vm.Value, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return vm.Integer(i), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return vm.Float(f), nil
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return vm.Bool(b), nil
	}
	return vm.Str(s), nil
}

// handleTempo: tempo <bpm>
func (h *Handler) handleTempo(parts []string) error {
	if len(parts) != 2 {
		return fmt.Errorf("usage: tempo <bpm>")
	}
	bpm, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return fmt.Errorf("invalid tempo: %s", parts[1])
	}
	if err := h.send(schedule.SchedulerMessage{Kind: schedule.MsgSetTempo, Tempo: bpm}); err != nil {
		return err
	}
	fmt.Printf("Set tempo to %g BPM\n", bpm)
	return nil
}

// handleQuantum: quantum <beats>
func (h *Handler) handleQuantum(parts []string) error {
	if len(parts) != 2 {
		return fmt.Errorf("usage: quantum <beats>")
	}
	q, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return fmt.Errorf("invalid quantum: %s", parts[1])
	}
	if err := h.send(schedule.SchedulerMessage{Kind: schedule.MsgSetQuantum, Quantum: q}); err != nil {
		return err
	}
	fmt.Printf("Set quantum to %g beats\n", q)
	return nil
}

func (h *Handler) handleStart(parts []string) error {
	if err := h.send(schedule.SchedulerMessage{Kind: schedule.MsgStart}); err != nil {
		return err
	}
	fmt.Println("Starting playback at next phase boundary")
	return nil
}

func (h *Handler) handleStop(parts []string) error {
	if err := h.send(schedule.SchedulerMessage{Kind: schedule.MsgStop}); err != nil {
		return err
	}
	fmt.Println("Stopped")
	return nil
}

// handleSave/handleLoad/handleList/handleDelete proxy the persistence
// package, exactly mirroring the teacher's save/load/list/delete commands
// but over scene snapshots instead of step patterns. Save/Load need direct
// scene/clock access, which the caller wires in via SaveFunc/LoadFunc since
// the scheduler owns that state and a Handler only has a message channel.
type SaveFunc func(name string) error
type LoadFunc func(name string) error

// The save and load hooks are installed by main through SetSnapshotHooks
// once the scheduler's owning scene and clock are available, letting
// commands trigger a snapshot without the commands package reaching into
// scheduler internals.

func (h *Handler) handleSave(parts []string) error {
	if h.saveHook == nil {
		return fmt.Errorf("snapshot save is unavailable")
	}
	if len(parts) < 2 {
		return fmt.Errorf("usage: save <name>")
	}
	name := strings.Join(parts[1:], " ")
	if err := h.saveHook(name); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	fmt.Printf("Saved snapshot %q\n", name)
	return nil
}

func (h *Handler) handleLoad(parts []string) error {
	if h.loadHook == nil {
		return fmt.Errorf("snapshot load is unavailable")
	}
	if len(parts) < 2 {
		return fmt.Errorf("usage: load <name>")
	}
	name := strings.Join(parts[1:], " ")
	if err := h.loadHook(name); err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	fmt.Printf("Loaded snapshot %q\n", name)
	return nil
}

func (h *Handler) handleList(parts []string) error {
	names, err := persistence.List()
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}
	if len(names) == 0 {
		fmt.Println("No saved snapshots found")
		return nil
	}
	fmt.Printf("Saved snapshots (%d):\n", len(names))
	for _, name := range names {
		fmt.Printf("  - %s\n", name)
	}
	return nil
}

func (h *Handler) handleDelete(parts []string) error {
	if len(parts) < 2 {
		return fmt.Errorf("usage: delete <name>")
	}
	name := strings.Join(parts[1:], " ")
	if err := persistence.Delete(name); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	fmt.Printf("Deleted snapshot %q\n", name)
	return nil
}

// SetSnapshotHooks wires the save/load callbacks main builds once it has
// direct access to the live scene and clock; commands never reach into
// scheduler internals on their own.
func (h *Handler) SetSnapshotHooks(save SaveFunc, load LoadFunc) {
	h.saveHook = save
	h.loadHook = load
}

// handleAsk: ask <natural language request...>
// Drafts a script via the AI assistant and sends it straight to the
// scheduler as a new frame on the named line, mirroring the teacher's
// ai.go draft-then-apply flow.
func (h *Handler) handleAsk(parts []string, cmdLine string) error {
	if h.ai == nil {
		return fmt.Errorf("AI assistant unavailable (set ANTHROPIC_API_KEY)")
	}
	if len(parts) < 3 {
		return fmt.Errorf("usage: ask <line> <request...>")
	}
	li, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("invalid line index: %s", parts[1])
	}
	prompt := strings.TrimSpace(strings.TrimPrefix(cmdLine, parts[0]+" "+parts[1]+" "))

	draft, err := h.ai.GenerateScript(prompt)
	if err != nil {
		return fmt.Errorf("assistant request failed: %w", err)
	}
	script := scene.NewScript(draft.Content, draft.Language)
	script.Recompile(h.dir)
	frame := scene.NewFrame(draft.DurationBeats, script)
	if err := h.send(schedule.SchedulerMessage{Kind: schedule.MsgAddFrame, LineIndex: li, Frame: frame}); err != nil {
		return err
	}
	fmt.Printf("Added assistant-drafted frame to line %d\n", li)
	return nil
}

// handleCompare: compare <request...>
// Runs the same prompt against every configured model and persists a
// comparison result under comparisons/, mirroring comparison.RunComparison.
func (h *Handler) handleCompare(parts []string, cmdLine string) error {
	if h.ai == nil {
		return fmt.Errorf("AI assistant unavailable (set ANTHROPIC_API_KEY)")
	}
	prompt := strings.TrimSpace(strings.TrimPrefix(cmdLine, parts[0]+" "))
	if prompt == "" {
		return fmt.Errorf("usage: compare <request...>")
	}
	result, err := comparison.RunComparison(h.ai, prompt)
	if err != nil {
		return fmt.Errorf("comparison failed: %w", err)
	}
	fmt.Printf("Comparison saved: %s (%d candidates)\n", result.Path, len(result.Candidates))
	return nil
}

func (h *Handler) handleHelp(parts []string) error {
	helpText := `Available commands:
  line add                               Add an empty line
  line remove <i>                        Remove a line
  line speed <i> <factor> [at <timing>]  Set a line's speed factor
  line length <i> <beats> [at <timing>]  Set a line's custom length
  line mode <i> free|quantum|longest     Set when newly armed frames start
  frame add <line> <beats> <lang> <src>  Add a frame with a script
  frame enable|disable <line> <frame>    Toggle a frame
  frame script <line> <frame> <lang> <s> Replace a frame's script
  note <line> <beats> <name> [ch] [dev]  Add a one-shot note frame
  global set <name> <value>              Set a global variable
  tempo <bpm>                            Change tempo
  quantum <beats>                        Change quantum (beats per phrase)
  start                                  Start playback at next phase
  stop                                   Stop playback
  save <name>                            Save a scene snapshot
  load <name>                            Load a scene snapshot
  list                                   List saved snapshots
  delete <name>                          Delete a saved snapshot
  ask <line> <request>                   Draft a script with the assistant
  compare <request>                      Compare assistant models on a request
  help                                   Show this help message
  quit                                   Exit the program

Timing keywords (for "at <timing>"): now, next-beat, next-phase, end-of-line,
beat:<n>. Scripts are ASM mnemonics unless a compiler is registered for the
given language name; write newlines in a single line with literal "\n".
Notes can be specified as: C4, D#5, Bb3, etc.`

	fmt.Println(helpText)
	return nil
}

// ReadLoop reads commands from input until "quit" or EOF.
func (h *Handler) ReadLoop(reader io.Reader) error {
	scanner := bufio.NewScanner(reader)

	fmt.Print("> ")
	for scanner.Scan() {
		line := scanner.Text()

		if strings.TrimSpace(strings.ToLower(line)) == "quit" {
			return nil
		}

		if err := h.ProcessCommand(line); err != nil {
			fmt.Printf("Error: %v\n", err)
		}

		fmt.Print("> ")
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading input: %w", err)
	}

	return nil
}
