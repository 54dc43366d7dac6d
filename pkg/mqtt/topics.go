package mqtt

// Engine topic layout. Triggers let operators and test harnesses force a pass
// without waiting for the schedule; completion topics announce run summaries to
// the downstream suggestion generator.
const (
	// Trigger topics (input)
	TopicTriggerRun         = "automation/synergy/run"
	TopicTriggerSweep       = "automation/synergy/sweep"
	TopicTriggerRecalibrate = "automation/synergy/recalibrate"

	// Completion topics (output)
	TopicRunCompleted         = "automation/synergy/runs/completed"
	TopicSweepCompleted       = "automation/synergy/lifecycle/completed"
	TopicCalibrationCompleted = "automation/synergy/calibration/completed"
)
