package scene

import "github.com/iltempo/engine/clock"

// FrameIndexResult is the outcome of CalculateFrameIndex: which frame
// (within the line's effective range) is live at a given date, which
// repetition of it, when that repetition started, and how long until the
// next frame/repetition boundary (spec.md §4.2).
type FrameIndexResult struct {
	AbsoluteFrameIndex int   // -1 if the line has nothing playable at this date
	LoopIteration      int64 // how many full cycles through the line have elapsed
	RepetitionIndex    int
	RepStartDate       int64
	NextEventDelay     int64 // micros until the next boundary; clock.NEVER if none
}

type frameUnit struct {
	frameIndex int
	repetition int
	lenMicros  int64
}

// CalculateFrameIndex computes which frame of line is live at date (an
// absolute clock micros value), grounded on bubocore/src/schedule/
// frame_index.rs's calculate_frame_index. Disabled and zero-length frames
// are skipped entirely rather than occupying zero time; Repetitions < 1
// behaves as 1; SpeedFactor <= 0 behaves as 1.
//
// When CustomLength truncates the line's natural cycle mid-repetition, the
// truncated repetition's NextEventDelay is clipped to the truncation
// boundary rather than its natural length, so the line wraps back to its
// first frame exactly at CustomLength instead of finishing the frame it
// was partway through (the Open Question in spec.md §9 is resolved this
// way; see scene.TestFrameIndex_CustomLengthTruncatesRepetition).
func CalculateFrameIndex(cl *clock.Clock, line *Line, date int64) FrameIndexResult {
	line.mu.RLock()
	frames := line.effectiveFrames()
	speed := line.effectiveSpeed()
	customLength := line.CustomLength
	endFlag := line.EndFlag
	line.mu.RUnlock()

	var units []frameUnit
	var cycleBeats float64
	for idx, f := range frames {
		if f.EffectiveDuration() == 0 {
			continue
		}
		reps := f.EffectiveRepetitions()
		repBeats := f.DurationBeats / speed
		repMicros := cl.BeatsToMicros(repBeats)
		for r := 0; r < reps; r++ {
			units = append(units, frameUnit{frameIndex: idx, repetition: r, lenMicros: repMicros})
			cycleBeats += repBeats
		}
	}
	if len(units) == 0 {
		return FrameIndexResult{AbsoluteFrameIndex: -1, NextEventDelay: clock.NEVER}
	}

	totalMicros := cl.BeatsToMicros(cycleBeats)
	if customLength > 0 {
		if custom := cl.BeatsToMicros(customLength / speed); custom < totalMicros {
			totalMicros = custom
		}
	}
	if totalMicros <= 0 {
		return FrameIndexResult{AbsoluteFrameIndex: -1, NextEventDelay: clock.NEVER}
	}

	loopIteration := date / totalMicros
	posInCycle := date % totalMicros
	if posInCycle < 0 {
		posInCycle += totalMicros
		loopIteration--
	}

	if endFlag && loopIteration > 0 {
		return FrameIndexResult{AbsoluteFrameIndex: -1, LoopIteration: loopIteration, NextEventDelay: clock.NEVER}
	}

	var acc int64
	for _, u := range units {
		if acc >= totalMicros {
			break
		}
		end := acc + u.lenMicros
		if end > totalMicros {
			end = totalMicros
		}
		if posInCycle < end {
			return FrameIndexResult{
				AbsoluteFrameIndex: u.frameIndex,
				LoopIteration:      loopIteration,
				RepetitionIndex:    u.repetition,
				RepStartDate:       date - (posInCycle - acc),
				NextEventDelay:     end - posInCycle,
			}
		}
		acc = end
	}
	return FrameIndexResult{AbsoluteFrameIndex: -1, LoopIteration: loopIteration, NextEventDelay: clock.NEVER}
}
