// Package clock implements the transport clock: a network-synchronized
// beat/microsecond conversion layer shared by the scheduler, the scene and
// the virtual machine.
//
// There is no real network-beat peer in this repository (the spec treats
// multi-master clock arbitration as an external collaborator); Session is
// the seam where such a library would be plugged in. DefaultSession is a
// standalone implementation driven purely by SetTempo/SetQuantum/Start/Stop,
// which is all a single process needs to drive playback on its own.
package clock

import (
	"math/big"
	"sync"
	"time"
)

// NEVER is the sentinel "no next wake" duration, in microseconds.
const NEVER int64 = 1<<63 - 1

// TimeSpanKind tags which unit a TimeSpan is expressed in.
type TimeSpanKind int

const (
	SpanMicros TimeSpanKind = iota
	SpanBeats
	SpanFrames
)

// TimeSpan is a tagged duration: either an absolute micros span, a beat
// count, or a frame count (which needs the enclosing frame's length in
// beats to resolve).
type TimeSpan struct {
	Kind   TimeSpanKind
	Micros int64
	Beats  float64
	Frames float64
}

func Micros(v int64) TimeSpan   { return TimeSpan{Kind: SpanMicros, Micros: v} }
func Beats(v float64) TimeSpan  { return TimeSpan{Kind: SpanBeats, Beats: v} }
func Frames(v float64) TimeSpan { return TimeSpan{Kind: SpanFrames, Frames: v} }

// ToMicros converts the span to microseconds given a clock and the length
// (in beats) of one frame, which is only consulted for SpanFrames.
func (t TimeSpan) ToMicros(c *Clock, frameLenBeats float64) int64 {
	switch t.Kind {
	case SpanMicros:
		return t.Micros
	case SpanBeats:
		return c.BeatsToMicros(t.Beats)
	case SpanFrames:
		return c.BeatsToMicros(t.Frames * frameLenBeats)
	default:
		return 0
	}
}

// Session is the captured, read-mostly snapshot of the network-beat
// session state: tempo, transport beat position, quantum and play state.
// A real implementation would be backed by a clock-peer library; Session
// only models the session's observable state, not its wire protocol.
type Session struct {
	mu       sync.RWMutex
	tempo    float64 // beats per minute
	quantum  float64 // beats per phrase, > 0
	playing  bool
	epoch    time.Time // wall-clock instant corresponding to micros()==0 while playing
	startBeat float64  // beat value latched at the moment play last started
}

// NewSession creates a session at the given tempo (BPM) and quantum
// (beats per phrase), initially stopped.
func NewSession(tempoBPM, quantum float64) *Session {
	if tempoBPM <= 0 {
		tempoBPM = 120
	}
	if quantum <= 0 {
		quantum = 4
	}
	return &Session{tempo: tempoBPM, quantum: quantum}
}

func (s *Session) Tempo() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tempo
}

func (s *Session) Quantum() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quantum
}

func (s *Session) IsPlaying() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playing
}

// SetTempo commits a new tempo. The beat position at the moment of the
// change is preserved (tempo changes never jump the transport).
func (s *Session) SetTempo(bpm float64) {
	if bpm <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		// latch the current beat under the old tempo before switching
		s.startBeat = s.beatLocked(time.Now())
		s.epoch = time.Now()
	}
	s.tempo = bpm
}

func (s *Session) SetQuantum(q float64) {
	if q <= 0 {
		q = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quantum = q
}

// Start begins the transport at beat 0 (or resumes from the last stopped
// beat position if Stop preserved one — this implementation always resumes
// from 0 for simplicity of a single-process transport).
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = true
	s.epoch = time.Now()
	s.startBeat = 0
}

func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = false
}

func (s *Session) beatLocked(now time.Time) float64 {
	if !s.playing {
		return s.startBeat
	}
	elapsedMinutes := now.Sub(s.epoch).Minutes()
	return s.startBeat + elapsedMinutes*s.tempo
}

// Beat returns the current transport beat position. While stopped it is
// the beat latched at the last Start or tempo change (0 right after Start),
// not the beat reached when Stop was called.
func (s *Session) Beat() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.beatLocked(time.Now())
}

// Clock is the read-mostly facade over a Session used by the scheduler,
// the scene and the VM. All conversions funnel through here so that a
// single capture-per-tick policy (spec.md §4.1) is easy to enforce: callers
// that need a stable (micros, beat) pair for one tick should call Now()
// once and reuse the result, rather than calling Micros()/Beat() separately.
type Clock struct {
	session *Session
}

func New(session *Session) *Clock {
	return &Clock{session: session}
}

// Now captures a single (micros, beat) pair.
func (c *Clock) Now() (micros int64, beat float64) {
	beat = c.session.Beat()
	return c.beatToMicros(beat), beat
}

func (c *Clock) Micros() int64 {
	m, _ := c.Now()
	return m
}

func (c *Clock) Beat() float64 {
	return c.session.Beat()
}

func (c *Clock) Quantum() float64 {
	return c.session.Quantum()
}

func (c *Clock) Tempo() float64 {
	return c.session.Tempo()
}

func (c *Clock) IsPlaying() bool {
	return c.session.IsPlaying()
}

// Session exposes the underlying network-beat session for callers (the
// playback manager) that need to drive Start/Stop directly rather than
// through a conversion method.
func (c *Clock) Session() *Session {
	return c.session
}

func (c *Clock) SetTempo(bpm float64) {
	c.session.SetTempo(bpm)
}

func (c *Clock) SetQuantum(q float64) {
	c.session.SetQuantum(q)
}

func (c *Clock) beatToMicros(beat float64) int64 {
	return c.BeatsToMicros(beat)
}

// BeatsToMicros converts a beat duration to microseconds at the current
// tempo: beats × 60_000_000 / tempo.
func (c *Clock) BeatsToMicros(beats float64) int64 {
	tempo := c.session.Tempo()
	if tempo <= 0 {
		return 0
	}
	return int64(beats * 60_000_000 / tempo)
}

// MicrosToBeats converts a microsecond duration to beats at the current
// tempo: the inverse of BeatsToMicros.
func (c *Clock) MicrosToBeats(micros int64) float64 {
	tempo := c.session.Tempo()
	return float64(micros) * tempo / 60_000_000
}

// BeatAtDate returns the transport beat that corresponds to absolute date
// (in clock-epoch micros). The clock's own epoch is beat 0 at micros 0, so
// this is simply MicrosToBeats, but it is named separately to mirror the
// spec's beat_at(micros) and to leave room for a future non-linear
// (tempo-change-aware) implementation.
func (c *Clock) BeatAtDate(date int64) float64 {
	return c.MicrosToBeats(date)
}

// DateAtBeat is the inverse of BeatAtDate: date_at_beat(beat_at_date(d)) = d
// within rounding, as required by spec.md §4.1's contract.
func (c *Clock) DateAtBeat(beat float64) int64 {
	return c.BeatsToMicros(beat)
}

// QuantumStartBeat computes the beat at which playback should start once a
// transport becomes playing while previously stopped: the next quantum
// boundary strictly after the current beat, Q × (floor(b/Q) + 1), computed with
// exact rational arithmetic so that boundary cases (b exactly a multiple of
// Q) never drift due to floating point (spec.md §4.6, §9).
func QuantumStartBeat(currentBeat, quantum float64) float64 {
	if quantum <= 0 {
		quantum = 1
	}
	cur := big.NewRat(1, 1).SetFloat64(currentBeat)
	q := big.NewRat(1, 1).SetFloat64(quantum)
	if cur == nil || q == nil || q.Sign() == 0 {
		// Fall back to float arithmetic for non-representable inputs
		// (e.g. NaN/Inf slipped through); never happens in normal use.
		return (float64Floor(currentBeat/quantum) + 1) * quantum
	}
	ratio := new(big.Rat).Quo(cur, q)
	floorRatio := ratFloor(ratio)
	target := new(big.Rat).Add(floorRatio, big.NewRat(1, 1))
	target.Mul(target, q)
	f, _ := target.Float64()
	return f
}

func float64Floor(v float64) float64 {
	i := int64(v)
	if float64(i) > v {
		i--
	}
	return float64(i)
}

// ratFloor returns floor(r) as an exact rational with denominator 1.
func ratFloor(r *big.Rat) *big.Rat {
	num := new(big.Int).Set(r.Num())
	den := r.Denom()
	q := new(big.Int)
	m := new(big.Int)
	q.DivMod(num, den, m) // Euclidean division: m >= 0
	return new(big.Rat).SetInt(q)
}

// Snapshot is the read-only tempo/quantum/beat/micros/playing capture used
// by persistence and by per-tick scheduler reads.
type Snapshot struct {
	Tempo   float64
	Quantum float64
	Beat    float64
	Micros  int64
	Playing bool
}

func (c *Clock) Snapshot() Snapshot {
	micros, beat := c.Now()
	return Snapshot{
		Tempo:   c.session.Tempo(),
		Quantum: c.session.Quantum(),
		Beat:    beat,
		Micros:  micros,
		Playing: c.session.IsPlaying(),
	}
}
