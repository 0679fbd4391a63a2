package scene

import "testing"

func TestActionTimingImmediateAlwaysApplies(t *testing.T) {
	cl := testClock(120)
	a := ActionTiming{Kind: Immediate}
	if !a.ShouldApply(cl, nil, false) {
		t.Error("Immediate should always apply")
	}
}

func TestActionTimingAtBeatWaitsUntilDue(t *testing.T) {
	cl := testClock(60)
	a := ActionTiming{Kind: AtBeat, Beat: 4}
	if a.ShouldApply(cl, nil, false) {
		t.Error("should not apply before beat 4 (transport stopped at beat 0)")
	}
	if r := a.Remaining(cl); r != 4 {
		t.Errorf("expected 4 beats remaining, got %v", r)
	}
}

func TestActionTimingResolveAtNextBeat(t *testing.T) {
	cl := testClock(60)
	resolved := ActionTiming{Kind: AtNextBeat}.Resolve(cl)
	if resolved.Kind != AtBeat {
		t.Fatalf("AtNextBeat should resolve to AtBeat, got %v", resolved.Kind)
	}
}

func TestActionTimingEndOfLineNeedsFlag(t *testing.T) {
	cl := testClock(120)
	a := ActionTiming{Kind: EndOfLine}
	if a.ShouldApply(cl, nil, false) {
		t.Error("EndOfLine should not apply until atEndOfLine is true")
	}
	if !a.ShouldApply(cl, nil, true) {
		t.Error("EndOfLine should apply once atEndOfLine is true")
	}
}
