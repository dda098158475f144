package orchestrator

import "github.com/taskmesh/taskmesh/pkg/agent"

// FailureKind is the orchestrator's read on a subtask failure.
type FailureKind int

const (
	// FailureRetryable failures get another attempt with backoff.
	FailureRetryable FailureKind = iota

	// FailureNonCritical failures are recorded and skipped; the task can still
	// finish with partial success.
	FailureNonCritical

	// FailureCritical failures fail the whole task.
	FailureCritical
)

func (k FailureKind) String() string {
	switch k {
	case FailureRetryable:
		return "retryable"
	case FailureNonCritical:
		return "non_critical"
	case FailureCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Classify maps one failed attempt to a failure kind. Transport errors and
// explicitly retryable agent errors stay retryable until attempts run out;
// after that the agent's criticality decides the task's fate.
func Classify(a agent.Agent, response *agent.Response, err error, attempt, maxAttempts int) FailureKind {
	retryable := err != nil || (response != nil && response.Retryable)

	if retryable && attempt < maxAttempts {
		return FailureRetryable
	}

	if a != nil && !a.Critical() {
		return FailureNonCritical
	}

	return FailureCritical
}
