package scene

import (
	"sync"

	"github.com/iltempo/engine/vm"
)

// Scene is the whole live set: an ordered list of Lines, the global
// variable store every line and script can read and write, and the set of
// currently running ScriptExecutions (spec.md §3's Scene).
type Scene struct {
	mu sync.RWMutex

	Lines      []*Line
	Global     *vm.Store
	Executions []*ScriptExecution
}

func NewScene() *Scene {
	return &Scene{Global: vm.NewStore()}
}

func (s *Scene) AddLine(l *Line) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Lines = append(s.Lines, l)
}

func (s *Scene) RemoveLine(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.Lines) {
		return
	}
	s.Lines = append(s.Lines[:index], s.Lines[index+1:]...)
}

func (s *Scene) ReplaceLine(index int, l *Line) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.Lines) {
		return
	}
	s.Lines[index] = l
}

func (s *Scene) Line(index int) *Line {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.Lines) {
		return nil
	}
	return s.Lines[index]
}

func (s *Scene) NumLines() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Lines)
}

// ReplaceAll swaps in another Scene's lines and globals wholesale, used by
// MsgSetScene (spec.md §4.9): every live execution is stopped first since
// they may reference lines that no longer exist after the swap (spec.md
// §3's "an execution whose line is removed is terminated").
func (s *Scene) ReplaceAll(other *Scene) {
	other.mu.RLock()
	lines := make([]*Line, len(other.Lines))
	copy(lines, other.Lines)
	global := other.Global
	other.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, se := range s.Executions {
		se.Stop()
	}
	s.Lines = lines
	if global != nil {
		s.Global = global
	}
	s.Executions = nil
}

// LongestLineLengthBeats reports the longest line's effective cycle length,
// the scene-wide "longest-line logic" that ExecutionMode.LongestLine
// quantizes newly armed executions against (spec.md §2).
func (s *Scene) LongestLineLengthBeats() float64 {
	s.mu.RLock()
	lines := make([]*Line, len(s.Lines))
	copy(lines, s.Lines)
	s.mu.RUnlock()

	var longest float64
	for _, l := range lines {
		if el := l.EffectiveLengthBeats(); el > longest {
			longest = el
		}
	}
	return longest
}

// LineInfos returns the scene's lines as the narrow vm.LineInfo view, for
// EnvironmentFunc FrameLen resolution.
func (s *Scene) LineInfos() []vm.LineInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]vm.LineInfo, len(s.Lines))
	for i, l := range s.Lines {
		out[i] = l
	}
	return out
}

// ExecutionsSnapshot returns a shallow copy of the currently running
// executions, safe for a caller to iterate without holding the scene lock.
func (s *Scene) ExecutionsSnapshot() []*ScriptExecution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ScriptExecution, len(s.Executions))
	copy(out, s.Executions)
	return out
}

func (s *Scene) AddExecution(se *ScriptExecution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Executions = append(s.Executions, se)
}

// PruneTerminated drops every execution that has finished, returning how
// many were removed.
func (s *Scene) PruneTerminated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.Executions[:0]
	removed := 0
	for _, se := range s.Executions {
		if se.HasTerminated() {
			removed++
			continue
		}
		kept = append(kept, se)
	}
	s.Executions = kept
	return removed
}
