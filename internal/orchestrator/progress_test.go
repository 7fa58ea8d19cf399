package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEstimate_TimePhase(t *testing.T) {
	tests := []struct {
		elapsed  time.Duration
		expected int
	}{
		{0, 0},
		{-time.Second, 0},
		{3 * time.Second, 10},
		{4500 * time.Millisecond, 15},
		{6 * time.Second, 20},
		{8 * time.Second, 26},
		{9 * time.Second, 29},
		{time.Minute, 29},
	}

	for _, tt := range tests {
		t.Run(tt.elapsed.String(), func(t *testing.T) {
			snap := Estimate(EstimateInput{Elapsed: tt.elapsed, Total: 10})
			assert.Equal(t, tt.expected, snap.Percent)
			assert.Equal(t, PhaseTime, snap.Phase)
			assert.False(t, snap.HasRemaining)
		})
	}
}

func TestEstimate_CountPhase(t *testing.T) {
	tests := []struct {
		name          string
		in            EstimateInput
		percent       int
		hasRemaining  bool
		remainingSecs int
	}{
		{"first completion", EstimateInput{Elapsed: 2 * time.Second, Completed: 1, Total: 10}, 37, false, 0},
		{"three completed withholds eta", EstimateInput{Elapsed: 30 * time.Second, Completed: 3, Total: 10}, 51, false, 0},
		{"four completed produces eta", EstimateInput{Elapsed: 40 * time.Second, Completed: 4, Total: 10}, 58, true, 60},
		{"rounded eta", EstimateInput{Elapsed: 10 * time.Second, Completed: 7, Total: 9}, 84, true, 3},
		{"all completed", EstimateInput{Elapsed: time.Minute, Completed: 12, Total: 12}, 100, true, 0},
		{"latched phase with zero completed", EstimateInput{Elapsed: time.Hour, Completed: 0, Total: 10, Phase: PhaseCount}, 30, false, 0},
		{"completed above total is clamped", EstimateInput{Completed: 15, Total: 10}, 100, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := Estimate(tt.in)
			assert.Equal(t, PhaseCount, snap.Phase)
			assert.Equal(t, tt.percent, snap.Percent)
			assert.Equal(t, tt.hasRemaining, snap.HasRemaining)
			assert.Equal(t, time.Duration(tt.remainingSecs)*time.Second, snap.Remaining)
		})
	}
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "time", PhaseTime.String())
	assert.Equal(t, "count", PhaseCount.String())
	assert.Equal(t, "unknown", Phase(7).String())
}

func TestTracker_NeverRegresses(t *testing.T) {
	tracker := NewTracker()

	readings := []struct {
		elapsed   time.Duration
		completed int
		total     int
	}{
		{1 * time.Second, 0, 10},
		{8 * time.Second, 0, 10},
		// Count phase: 30+7 = 37, below nothing reported so far.
		{9 * time.Second, 1, 10},
		// A reset elsewhere lowers the count; the tracker holds its mark.
		{10 * time.Second, 0, 10},
		{12 * time.Second, 5, 10},
		// Total grew after a re-parse.
		{13 * time.Second, 5, 20},
		{20 * time.Second, 20, 20},
	}

	last := -1
	var phases []Phase
	for _, r := range readings {
		snap := tracker.Observe(r.elapsed, r.completed, r.total)
		assert.GreaterOrEqual(t, snap.Percent, last)
		last = snap.Percent
		phases = append(phases, snap.Phase)
	}

	assert.Equal(t, 100, last)
	assert.Equal(t, []Phase{PhaseTime, PhaseTime, PhaseCount, PhaseCount, PhaseCount, PhaseCount, PhaseCount}, phases)
}

func TestTracker_LatchesCountPhase(t *testing.T) {
	tracker := NewTracker()

	first := tracker.Observe(time.Second, 2, 4)
	assert.Equal(t, PhaseCount, first.Phase)
	assert.Equal(t, 65, first.Percent)

	// No completions visible any more, elapsed time would suggest 29%.
	again := tracker.Observe(time.Hour, 0, 4)
	assert.Equal(t, PhaseCount, again.Phase)
	assert.Equal(t, 65, again.Percent)
}
