// Package persistence implements scene snapshot save/load: the JSON-file-
// per-name convention the teacher's sequence package uses for patterns
// (sequence/persistence.go), adapted to the richer Scene/Line/Frame/Script
// model and to the snapshot shape spec.md §6 specifies: `{scene, tempo,
// beat, micros, quantum, devices?}`. A script's compiled Program is never
// serialized — only its text and language name — so loading a snapshot
// always triggers recompilation through a vm.Directory (spec.md §6).
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iltempo/engine/clock"
	"github.com/iltempo/engine/scene"
	"github.com/iltempo/engine/vm"
)

// SnapshotsDir is where named snapshots are written, mirroring the
// teacher's PatternsDir convention.
const SnapshotsDir = "snapshots"

// ScriptFile is a script's persisted form: text and declared language
// only, never the compiled Program (spec.md §6).
type ScriptFile struct {
	Content  string `json:"content"`
	Language string `json:"language"`
}

// FrameFile is one persisted Frame.
type FrameFile struct {
	DurationBeats float64    `json:"duration_beats"`
	Repetitions   int        `json:"repetitions,omitempty"`
	Enabled       bool       `json:"enabled"`
	Name          string     `json:"name,omitempty"`
	Script        ScriptFile `json:"script"`
}

// LineFile is one persisted Line.
type LineFile struct {
	SpeedFactor  float64     `json:"speed_factor,omitempty"`
	CustomLength float64     `json:"custom_length,omitempty"`
	RangeStart   int         `json:"range_start,omitempty"`
	RangeEnd     int         `json:"range_end,omitempty"`
	EndFlag      bool        `json:"end_flag,omitempty"`
	DeviceSlot   int         `json:"device_slot,omitempty"`
	Frames       []FrameFile `json:"frames"`
}

// ValueFile is a scalar vm.Value's persisted form. List/Map/Function/
// Decimal globals are not round-tripped through snapshots (they are
// dropped with a warning on save): the teacher's own persistence format
// has no precedent for a recursive value tree, and every global a live
// script actually needs across a reload in the retrieval pack's domain is
// scalar (tempo multipliers, note offsets, toggles).
type ValueFile struct {
	Kind  string  `json:"kind"`
	Int   int64   `json:"int,omitempty"`
	Float float64 `json:"float,omitempty"`
	Bool  bool    `json:"bool,omitempty"`
	Str   string  `json:"str,omitempty"`
}

// SceneFile is the persisted Scene: ordered lines plus scalar globals.
type SceneFile struct {
	Lines   []LineFile           `json:"lines"`
	Globals map[string]ValueFile `json:"globals,omitempty"`
}

// DeviceFile describes one device-map registration, for the optional
// `devices` field spec.md §6 allows.
type DeviceFile struct {
	Slot int    `json:"slot"`
	Kind string `json:"kind"` // "midi" or "log"
	Port string `json:"port,omitempty"`
}

// SnapshotFile is the on-disk snapshot shape spec.md §6 requires:
// `{scene, tempo, beat, micros, quantum, devices?}`, in a stable field
// order so two snapshots of the same state diff cleanly.
type SnapshotFile struct {
	Scene     SceneFile    `json:"scene"`
	Tempo     float64      `json:"tempo"`
	Beat      float64      `json:"beat"`
	Micros    int64        `json:"micros"`
	Quantum   float64      `json:"quantum"`
	Devices   []DeviceFile `json:"devices,omitempty"`
	CreatedAt string       `json:"created_at,omitempty"`
}

func valueToFile(v vm.Value) (ValueFile, bool) {
	switch v.Kind {
	case vm.KInteger:
		return ValueFile{Kind: "integer", Int: v.AsInteger()}, true
	case vm.KFloat:
		return ValueFile{Kind: "float", Float: v.AsFloat()}, true
	case vm.KBool:
		return ValueFile{Kind: "bool", Bool: v.AsBool()}, true
	case vm.KString:
		return ValueFile{Kind: "string", Str: v.Str}, true
	case vm.KNil:
		return ValueFile{Kind: "nil"}, true
	default:
		return ValueFile{}, false
	}
}

func fileToValue(f ValueFile) vm.Value {
	switch f.Kind {
	case "integer":
		return vm.Integer(f.Int)
	case "float":
		return vm.Float(f.Float)
	case "bool":
		return vm.Bool(f.Bool)
	case "string":
		return vm.Str(f.Str)
	default:
		return vm.Nil()
	}
}

// ToSnapshotFile converts the live scene and a clock capture into the
// persisted shape.
func ToSnapshotFile(sc *scene.Scene, cl *clock.Clock) *SnapshotFile {
	snap := cl.Snapshot()
	sf := &SnapshotFile{
		Tempo:     snap.Tempo,
		Beat:      snap.Beat,
		Micros:    snap.Micros,
		Quantum:   snap.Quantum,
		CreatedAt: time.Now().Format(time.RFC3339),
	}

	n := sc.NumLines()
	sf.Scene.Lines = make([]LineFile, 0, n)
	for i := 0; i < n; i++ {
		line := sc.Line(i)
		if line == nil {
			continue
		}
		lf := LineFile{
			SpeedFactor:  line.SpeedFactor,
			CustomLength: line.CustomLength,
			RangeStart:   line.RangeStart,
			RangeEnd:     line.RangeEnd,
			EndFlag:      line.EndFlag,
			DeviceSlot:   line.DeviceSlot,
		}
		for _, f := range line.Frames {
			ff := FrameFile{
				DurationBeats: f.DurationBeats,
				Repetitions:   f.Repetitions,
				Enabled:       f.Enabled,
				Name:          f.Name,
			}
			if f.Script != nil {
				ff.Script = ScriptFile{Content: f.Script.Content, Language: f.Script.Language}
			}
			lf.Frames = append(lf.Frames, ff)
		}
		sf.Scene.Lines = append(sf.Scene.Lines, lf)
	}

	globals := sc.Global.Snapshot()
	if len(globals) > 0 {
		sf.Scene.Globals = make(map[string]ValueFile, len(globals))
		for k, v := range globals {
			if vf, ok := valueToFile(v); ok {
				sf.Scene.Globals[k] = vf
			} else {
				fmt.Printf("warning: global %q has a non-scalar value, not saved\n", k)
			}
		}
	}

	return sf
}

// FromSnapshotFile rebuilds a Scene from its persisted form. Every script
// is left CompilationState{} (NotCompiled): the caller must run each
// script through a vm.Directory before any frame can produce events
// (spec.md §6's "loading triggers recompilation").
func FromSnapshotFile(sf *SnapshotFile) *scene.Scene {
	sc := scene.NewScene()
	for _, lf := range sf.Scene.Lines {
		line := scene.NewLine()
		line.SpeedFactor = lf.SpeedFactor
		line.CustomLength = lf.CustomLength
		line.RangeStart = lf.RangeStart
		line.RangeEnd = lf.RangeEnd
		line.EndFlag = lf.EndFlag
		line.DeviceSlot = lf.DeviceSlot
		for _, ff := range lf.Frames {
			script := scene.NewScript(ff.Script.Content, ff.Script.Language)
			frame := scene.NewFrame(ff.DurationBeats, script)
			frame.Repetitions = ff.Repetitions
			frame.Enabled = ff.Enabled
			frame.Name = ff.Name
			line.AddFrame(frame)
		}
		sc.AddLine(line)
	}
	for k, vf := range sf.Scene.Globals {
		sc.Global.Set(k, fileToValue(vf))
	}
	return sc
}

// RecompileAll runs every frame's script through dir, matching what the
// scheduler's MsgSetScene handler does for a freshly loaded scene.
func RecompileAll(sc *scene.Scene, dir *vm.Directory) {
	for i := 0; i < sc.NumLines(); i++ {
		line := sc.Line(i)
		if line == nil {
			continue
		}
		for _, f := range line.Frames {
			if f.Script != nil {
				f.Script.Recompile(dir)
			}
		}
	}
}

// Save writes the scene+clock state under SnapshotsDir/<name>.json as
// indented, human-diffable JSON (sequence/persistence.go's convention).
func Save(sc *scene.Scene, cl *clock.Clock, name string) error {
	if err := os.MkdirAll(SnapshotsDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshots directory: %w", err)
	}
	sf := ToSnapshotFile(sc, cl)
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	path := filepath.Join(SnapshotsDir, sanitizeFilename(name)+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	return nil
}

// Load reads a named snapshot and rebuilds its Scene (uncompiled — call
// RecompileAll before driving a Scheduler with it) plus the persisted
// clock fields.
func Load(name string) (*scene.Scene, *SnapshotFile, error) {
	path := filepath.Join(SnapshotsDir, sanitizeFilename(name)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("snapshot %q not found", name)
		}
		return nil, nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	var sf SnapshotFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, nil, fmt.Errorf("failed to parse snapshot file: %w", err)
	}
	return FromSnapshotFile(&sf), &sf, nil
}

// List returns every saved snapshot name.
func List() ([]string, error) {
	if _, err := os.Stat(SnapshotsDir); os.IsNotExist(err) {
		return []string{}, nil
	}
	entries, err := os.ReadDir(SnapshotsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshots directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, strings.TrimSuffix(e.Name(), ".json"))
		}
	}
	return names, nil
}

// Delete removes a saved snapshot.
func Delete(name string) error {
	path := filepath.Join(SnapshotsDir, sanitizeFilename(name)+".json")
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("snapshot %q not found", name)
		}
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, " ", "_")
	var sb strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			sb.WriteRune(r)
		}
	}
	result := sb.String()
	if result == "" {
		return "unnamed"
	}
	return result
}
