package models

// Plan statuses. A plan is owned by at most one running workflow; the
// orchestrator is the only writer while a workflow is active.
const (
	StatusPlanned     = "planned"
	StatusResearching = "researching"
	StatusGenerating  = "generating"
	StatusRefining    = "refining"
	StatusDraftReady  = "draft_ready"
	StatusFailed      = "failed"
	StatusCancelled   = "cancelled"
)

// TerminalStatus reports whether a plan status ends the workflow.
func TerminalStatus(status string) bool {
	switch status {
	case StatusDraftReady, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Progress event stages (the wire contract UI consumers rely on).
const (
	StageResearching = "researching"
	StageGenerating  = "generating"
	StageRefining    = "refining"
	StageCompleted   = "completed"
	StageError       = "error"
)

// Progress event statuses.
const (
	EventRunning = "running"
	EventSuccess = "success"
	EventError   = "error"
)

// Iteration record statuses.
const (
	IterationPass = "pass"
	IterationFail = "fail"
)

// Defaults applied when a plan omits them.
const (
	DefaultMinSEOScore   = 95
	DefaultMaxIterations = 3
)

// Default limits.
const (
	DefaultMaxRequestBodyBytes = 1 << 20 // 1 MiB
	DefaultPlanListLimit       = 1000
	DefaultSubscriberBuffer    = 64
)
