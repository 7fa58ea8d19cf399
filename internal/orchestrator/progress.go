package orchestrator

import (
	"math"
	"sync"
	"time"
)

// Phase is the estimation mode of a progress snapshot.
type Phase int

const (
	// PhaseTime estimates from elapsed wall-clock time before any scene completes.
	PhaseTime Phase = iota
	// PhaseCount estimates from completed/total counts.
	PhaseCount
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseTime:
		return "time"
	case PhaseCount:
		return "count"
	default:
		return "unknown"
	}
}

const (
	timePhaseSteps        = 3
	timePhaseStepDuration = 3 * time.Second
	timePhaseSpan         = 30
	timePhaseCeiling      = 29

	countPhaseFloor = 30
	countPhaseSpan  = 70

	// remainingMinSamples is the completed count that must be exceeded before
	// a time-remaining estimate is produced.
	remainingMinSamples = 3
)

// EstimateInput is the data a progress estimate is derived from.
type EstimateInput struct {
	Elapsed   time.Duration
	Completed int
	Total     int
	Phase     Phase
}

// Snapshot is a derived progress reading.
type Snapshot struct {
	Percent      int
	Phase        Phase
	Remaining    time.Duration
	HasRemaining bool
}

// Estimate computes a progress snapshot. Once Completed >= 1 or Phase is
// PhaseCount, the count-based formula is used.
func Estimate(in EstimateInput) Snapshot {
	if in.Phase != PhaseCount && in.Completed < 1 {
		return Snapshot{Percent: timePercent(in.Elapsed), Phase: PhaseTime}
	}

	total := max(in.Total, 1)
	completed := min(max(in.Completed, 0), total)

	snap := Snapshot{
		Percent: countPhaseFloor + int(math.Round(countPhaseSpan*float64(completed)/float64(total))),
		Phase:   PhaseCount,
	}

	if completed > remainingMinSamples {
		perItem := in.Elapsed.Seconds() / float64(completed)
		secs := math.Round(perItem * float64(total-completed))
		snap.Remaining = time.Duration(secs) * time.Second
		snap.HasRemaining = true
	}

	return snap
}

func timePercent(elapsed time.Duration) int {
	if elapsed <= 0 {
		return 0
	}
	budget := timePhaseSteps * timePhaseStepDuration
	pct := int(float64(timePhaseSpan) * float64(elapsed) / float64(budget))
	return min(pct, timePhaseCeiling)
}

// Tracker latches the count phase and never reports a lower percentage than
// it has already reported. It is safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	phase Phase
	high  int
}

// NewTracker creates a Tracker in the time phase.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Observe estimates progress and applies the phase latch and high-water mark.
func (t *Tracker) Observe(elapsed time.Duration, completed, total int) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Estimate(EstimateInput{
		Elapsed:   elapsed,
		Completed: completed,
		Total:     total,
		Phase:     t.phase,
	})

	if snap.Phase == PhaseCount {
		t.phase = PhaseCount
	}
	if snap.Percent < t.high {
		snap.Percent = t.high
	}
	t.high = snap.Percent

	return snap
}
