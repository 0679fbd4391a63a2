package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/iltempo/engine/clock"
	"github.com/iltempo/engine/scene"
	"github.com/iltempo/engine/vm"
)

// withTempSnapshotsDir changes into a fresh temp directory for the duration
// of one test and changes back afterward, so the relative SnapshotsDir that
// Save/List/Delete use resolves inside it, matching how the real CLI always
// runs from one working directory.
func withTempSnapshotsDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
}

func buildTestScene() *scene.Scene {
	sc := scene.NewScene()
	line := scene.NewLine()
	line.SpeedFactor = 2
	line.CustomLength = 8
	line.DeviceSlot = 1
	script := scene.NewScript("effect.note #60 #100 #0 #0 #0", "asm")
	frame := scene.NewFrame(4, script)
	frame.Repetitions = 2
	frame.Name = "intro"
	line.AddFrame(frame)
	sc.AddLine(line)

	sc.Global.Set("swing", vm.Float(0.12))
	sc.Global.Set("mute", vm.Bool(true))
	sc.Global.Set("label", vm.Str("a"))
	sc.Global.Set("count", vm.Integer(3))
	return sc
}

func TestSaveLoadRoundTrip(t *testing.T) {
	withTempSnapshotsDir(t)

	sc := buildTestScene()
	cl := clock.New(clock.NewSession(120, 4))

	if err := Save(sc, cl, "my set"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	path := filepath.Join(SnapshotsDir, "my_set.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected snapshot file at %s: %v", path, err)
	}

	loaded, sf, err := Load("my set")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sf.Tempo != 120 || sf.Quantum != 4 {
		t.Errorf("unexpected clock fields: tempo=%v quantum=%v", sf.Tempo, sf.Quantum)
	}
	if loaded.NumLines() != 1 {
		t.Fatalf("expected 1 line, got %d", loaded.NumLines())
	}
	line := loaded.Line(0)
	if line.SpeedFactor != 2 || line.CustomLength != 8 || line.DeviceSlot != 1 {
		t.Errorf("line fields not round-tripped: %+v", line)
	}
	if len(line.Frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(line.Frames))
	}
	f := line.Frames[0]
	if f.DurationBeats != 4 || f.Repetitions != 2 || f.Name != "intro" {
		t.Errorf("frame fields not round-tripped: %+v", f)
	}
	if f.Script.Content != "effect.note #60 #100 #0 #0 #0" || f.Script.Language != "asm" {
		t.Errorf("script not round-tripped: %+v", f.Script)
	}
	if state := f.Script.Compiled(); state.OK() {
		t.Error("a loaded script should not be compiled until RecompileAll runs")
	}

	globals := loaded.Global.Snapshot()
	if globals["swing"].AsFloat() != 0.12 {
		t.Errorf("swing not round-tripped: %+v", globals["swing"])
	}
	if !globals["mute"].AsBool() {
		t.Error("mute not round-tripped")
	}
	if globals["label"].Str != "a" {
		t.Errorf("label not round-tripped: %+v", globals["label"])
	}
	if globals["count"].AsInteger() != 3 {
		t.Errorf("count not round-tripped: %+v", globals["count"])
	}
}

func TestRecompileAllMakesLoadedSceneArmable(t *testing.T) {
	withTempSnapshotsDir(t)

	sc := buildTestScene()
	cl := clock.New(clock.NewSession(100, 4))
	if err := Save(sc, cl, "compileme"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, _, err := Load("compileme")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	dir := vm.NewDirectory()
	RecompileAll(loaded, dir)

	state := loaded.Line(0).Frames[0].Script.Compiled()
	if !state.OK() {
		t.Fatalf("expected script to compile after RecompileAll, got err %v", state.Err)
	}
}

func TestListAndDelete(t *testing.T) {
	withTempSnapshotsDir(t)

	names, err := List()
	if err != nil {
		t.Fatalf("List on missing dir: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected no snapshots yet, got %v", names)
	}

	sc := buildTestScene()
	cl := clock.New(clock.NewSession(90, 4))
	if err := Save(sc, cl, "alpha"); err != nil {
		t.Fatal(err)
	}
	if err := Save(sc, cl, "beta"); err != nil {
		t.Fatal(err)
	}

	names, err = List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 snapshots, got %v", names)
	}

	if err := Delete("alpha"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	names, err = List()
	if err != nil {
		t.Fatalf("List after delete: %v", err)
	}
	if len(names) != 1 || names[0] != "beta" {
		t.Fatalf("expected only beta to remain, got %v", names)
	}

	if err := Delete("alpha"); err == nil {
		t.Fatal("expected an error deleting an already-deleted snapshot")
	}
}

func TestLoadMissingSnapshot(t *testing.T) {
	withTempSnapshotsDir(t)

	if _, _, err := Load("nope"); err == nil {
		t.Fatal("expected an error loading a snapshot that was never saved")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"my set":       "my_set",
		"weird/../..":  "weird",
		"":             "unnamed",
		"###":          "unnamed",
		"already_fine": "already_fine",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
