// Package scene implements the nested timeline model a live set is built
// from: Script, Frame, Line, Scene, and the running ScriptExecutions a
// scheduler drives against them (spec.md §3, §4.2, §4.4).
package scene

import (
	"sync"
	"sync/atomic"

	"github.com/iltempo/engine/vm"
)

var scriptIDs atomic.Uint64

// Script is a piece of source text in a declared language, plus its last
// compiled Program (or compile error) and its frame-scoped variable store
// (spec.md §3's Script module). frame_vars lives on the Script rather than
// the Frame because a Frame and its Script can be swapped independently
// while the running instances that reference the old Script keep their
// view of its variables consistent mid-line (bubocore/src/scene/script.rs).
type Script struct {
	mu sync.RWMutex

	Content  string
	Language string

	frameVars *vm.Store
	compiled  vm.CompilationState
	id        uint64
}

func NewScript(content, language string) *Script {
	return &Script{
		Content:   content,
		Language:  language,
		frameVars: vm.NewStore(),
		id:        scriptIDs.Add(1),
	}
}

func (s *Script) ID() uint64 {
	return s.id
}

func (s *Script) FrameVars() *vm.Store {
	return s.frameVars
}

// Recompile runs the directory's compiler for this script's language and
// stores the result. A compile failure leaves a previously compiled
// Program in place so running executions keep playing the last-good
// version (spec.md §7's "compilation error: non-fatal").
func (s *Script) Recompile(dir *vm.Directory) {
	s.mu.Lock()
	defer s.mu.Unlock()

	compiler, ok := dir.Get(s.Language)
	if !ok {
		s.compiled = vm.CompilationState{Err: &vm.CompilationError{Message: "no compiler registered for language " + s.Language}}
		return
	}
	state := compiler.Compile(s.Content)
	if state.Err != nil {
		s.compiled.Err = state.Err
		return
	}
	s.compiled = state
}

func (s *Script) Compiled() vm.CompilationState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.compiled
}

func (s *Script) SetContent(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Content = content
}
