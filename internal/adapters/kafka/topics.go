package kafka

// Topic definitions for research job event streaming
const (
	// Job lifecycle events
	TopicJobCreated   = "research.jobs.created"
	TopicJobCompleted = "research.jobs.completed"
	TopicJobFailed    = "research.jobs.failed"
)
