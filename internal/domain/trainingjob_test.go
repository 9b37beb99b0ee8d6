package domain

import "testing"

func TestTrainingJobStatusTransitions(t *testing.T) {
	cases := []struct {
		from TrainingJobStatus
		to   TrainingJobStatus
		ok   bool
	}{
		{TrainingQueued, TrainingRunning, true},
		{TrainingRunning, TrainingPaused, true},
		{TrainingRunning, TrainingCompleted, true},
		{TrainingPaused, TrainingRunning, true},
		{TrainingPaused, TrainingCompleted, false},
		{TrainingCompleted, TrainingRunning, false},
		{TrainingFailed, TrainingRunning, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.ok {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestTrainingJobStatusTerminal(t *testing.T) {
	for _, s := range []TrainingJobStatus{TrainingCompleted, TrainingCancelled, TrainingFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []TrainingJobStatus{TrainingQueued, TrainingRunning, TrainingPaused} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
