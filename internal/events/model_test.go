package events

import "testing"

func TestPipelineStatusIsTerminal(t *testing.T) {
	cases := map[PipelineStatus]bool{
		PipelinePending:   false,
		PipelineRunning:   false,
		PipelineCompleted: true,
		PipelineFailed:    true,
		PipelineCancelled: true,
	}
	for status, want := range cases {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestTaskStatusIsTerminal(t *testing.T) {
	cases := map[TaskStatus]bool{
		TaskPending:   false,
		TaskReady:     false,
		TaskClaimed:   false,
		TaskRunning:   false,
		TaskRetrying:  false,
		TaskCompleted: true,
		TaskFailed:    true,
		TaskSkipped:   true,
		TaskCancelled: true,
	}
	for status, want := range cases {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}
