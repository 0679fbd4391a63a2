// Package schedule implements the scheduler: the single-threaded tick loop
// that owns a scene, drives its ScriptExecutions, applies queued commands,
// and forwards evaluated events to the device map (spec.md §4.5-§4.9).
package schedule

import (
	"github.com/iltempo/engine/scene"
	"github.com/iltempo/engine/vm"
)

// MessageKind tags which SchedulerMessage variant is populated (spec.md
// §6's SchedulerMessage, grounded on server/src/message.rs's ServerMessage
// taxonomy).
type MessageKind int

const (
	MsgSetScene MessageKind = iota
	MsgAddLine
	MsgRemoveLine
	MsgReplaceLine
	MsgAddFrame
	MsgRemoveFrame
	MsgReplaceFrame
	MsgSetFrameEnabled
	MsgSetLineSpeed
	MsgSetLineCustomLength
	MsgSetLineMode
	MsgSetScript
	MsgSetGlobal
	MsgSetTempo
	MsgSetQuantum
	MsgStart
	MsgStop
	MsgCompilationUpdate
	MsgShutdown
)

// SchedulerMessage is one command sent to the scheduler. Only the fields
// relevant to Kind are meaningful. Timing, when non-zero, defers the
// message's application instead of applying it the instant it's drained
// (spec.md §4.7).
type SchedulerMessage struct {
	Kind MessageKind

	LineIndex  int
	FrameIndex int

	Line   *scene.Line
	Frame  *scene.Frame
	Scene  *scene.Scene
	Script *scene.Script

	Enabled      bool
	Speed        float64
	CustomLength float64
	Mode         scene.ExecutionMode

	VarName string
	Value   vm.Value

	Tempo   float64
	Quantum float64

	Timing scene.ActionTiming
}

// NotificationKind tags which SchedulerNotification variant is populated.
type NotificationKind int

const (
	NotifyLog NotificationKind = iota
	NotifyTransportStopped
	NotifyFramePositions
	NotifyGlobalsChanged
	NotifyCompilationUpdated
	NotifySceneReplaced
)

// FramePosition is one line's currently armed frame, for NotifyFramePositions.
type FramePosition struct {
	LineIndex       int
	FrameIndex      int
	RepetitionIndex int
}

// SchedulerNotification is one outbound event the scheduler emits for
// observers (a UI, a logger, a snapshot writer) to consume (spec.md §6).
type SchedulerNotification struct {
	Kind NotificationKind

	Message string

	Positions []FramePosition
	Globals   map[string]vm.Value
	LineIndex int

	CompileErr *vm.CompilationError
}
