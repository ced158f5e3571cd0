package audithook

// Audit actions, one per lifecycle hook.
const (
	ActionTaskEnqueued    = "task.enqueued"
	ActionTaskStarted     = "task.started"
	ActionTaskRetrying    = "task.retrying"
	ActionTaskCompleted   = "task.completed"
	ActionTaskFailed      = "task.failed"
	ActionTaskCancelled   = "task.cancelled"
	ActionMessageHandled  = "message.handled"
	ActionMessageRejected = "message.rejected"
)

// Categories group related actions.
const (
	CategoryTask    = "conduit.task"
	CategoryMessage = "conduit.message"
)

// Resource types.
const (
	ResourceTask  = "task"
	ResourceTopic = "topic"
)

// Severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AllActions returns every action the extension emits.
func AllActions() []string {
	return []string{
		ActionTaskEnqueued,
		ActionTaskStarted,
		ActionTaskRetrying,
		ActionTaskCompleted,
		ActionTaskFailed,
		ActionTaskCancelled,
		ActionMessageHandled,
		ActionMessageRejected,
	}
}
