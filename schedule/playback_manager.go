package schedule

import "github.com/iltempo/engine/clock"

// PlaybackState is the transport's own Stopped/Starting/Playing machine,
// independent of whether the underlying clock.Session is ticking (spec.md
// §4.6; grounded on core/src/schedule/playback.rs's PlaybackManager).
type PlaybackState int

const (
	Stopped PlaybackState = iota
	Starting
	Playing
)

// PlaybackManager gates when newly crossed frame boundaries are allowed to
// arm executions: a transport that has just been asked to start doesn't
// arm anything until the clock reaches the next exact quantum boundary,
// so a set always enters in phase rather than wherever the beat happened
// to be when the user pressed play.
type PlaybackManager struct {
	cl         *clock.Clock
	state      PlaybackState
	targetBeat float64
}

func NewPlaybackManager(cl *clock.Clock) *PlaybackManager {
	return &PlaybackManager{cl: cl}
}

func (p *PlaybackManager) State() PlaybackState {
	return p.state
}

// RequestStart begins the transport immediately but holds the manager in
// Starting until the clock reaches the next quantum boundary.
func (p *PlaybackManager) RequestStart() {
	if p.state == Playing {
		return
	}
	p.cl.Session().Start()
	p.targetBeat = clock.QuantumStartBeat(p.cl.Beat(), p.cl.Quantum())
	p.state = Starting
}

// RequestStop halts the transport immediately; losing transport sync is a
// normal state transition, not an error condition (spec.md §7).
func (p *PlaybackManager) RequestStop() {
	p.cl.Session().Stop()
	p.state = Stopped
}

// Update re-evaluates the Starting->Playing transition and reports whether
// it just occurred.
func (p *PlaybackManager) Update() bool {
	if p.state == Starting && p.cl.Beat() >= p.targetBeat {
		p.state = Playing
		return true
	}
	return false
}

// ArmingAllowed reports whether newly crossed frame boundaries should be
// allowed to start new executions right now.
func (p *PlaybackManager) ArmingAllowed() bool {
	return p.state == Playing
}
