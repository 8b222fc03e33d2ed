package research

// Status is the lifecycle state of a research job.
// Progression is strictly forward; failed is terminal and reachable from
// any non-terminal state.
type Status string

const (
	StatusQueued                  Status = "queued"
	StatusProcessing              Status = "processing"
	StatusGeneratingFinalAnalysis Status = "generating_final_analysis"
	StatusExtractingInsights      Status = "extracting_insights"
	StatusCompleted               Status = "completed"
	StatusFailed                  Status = "failed"
)

// statusOrder is the forward progression used to reject regressions.
var statusOrder = []Status{
	StatusQueued,
	StatusProcessing,
	StatusGeneratingFinalAnalysis,
	StatusExtractingInsights,
	StatusCompleted,
}

// Rank returns the position of s in the forward progression.
// failed has no rank; it is handled as a terminal branch.
func (s Status) Rank() int {
	for i, st := range statusOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusFailed || s.Rank() >= 0
}

// Terminal reports whether s ends the job lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is a legal
// forward transition.
func (s Status) CanTransitionTo(next Status) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	return next.Rank() > s.Rank()
}

// OrderedStatuses returns the forward progression as strings, for SQL
// transition guards.
func OrderedStatuses() []string {
	out := make([]string, len(statusOrder))
	for i, s := range statusOrder {
		out[i] = string(s)
	}
	return out
}
