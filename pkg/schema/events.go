package schema

// Event type constants for the per-execution event log.
const (
	EventExecutionStarted   = "execution_started"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"

	EventStepSkipped   = "step_skipped"
	EventStepDeferred  = "step_deferred"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
)

// ExecutionStatus represents the lifecycle state of an execution record.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// DeferredStatus represents the lifecycle state of a deferred step record.
type DeferredStatus string

const (
	DeferredStatusPending  DeferredStatus = "pending"
	DeferredStatusRunning  DeferredStatus = "running"
	DeferredStatusExecuted DeferredStatus = "executed"
	DeferredStatusFailed   DeferredStatus = "failed"
)

// StepOutcome classifies what happened to a single step during a run.
type StepOutcome string

const (
	StepOutcomeCompleted StepOutcome = "completed"
	StepOutcomeSkipped   StepOutcome = "skipped"
	StepOutcomeDeferred  StepOutcome = "deferred"
	StepOutcomeFailed    StepOutcome = "failed"
)

// ValidExecutionTransitions lists the allowed execution status transitions.
// Terminal states have no outgoing edges.
var ValidExecutionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionStatusRunning: {ExecutionStatusCompleted, ExecutionStatusFailed},
}

// ValidDeferredTransitions lists the allowed deferred step transitions.
// failed -> pending is only reachable through an explicit operator requeue,
// which may also release a stale running claim.
var ValidDeferredTransitions = map[DeferredStatus][]DeferredStatus{
	DeferredStatusPending: {DeferredStatusRunning},
	DeferredStatusRunning: {DeferredStatusExecuted, DeferredStatusFailed},
	DeferredStatusFailed:  {DeferredStatusPending},
}

// CanTransitionExecution reports whether from -> to is a legal execution transition.
func CanTransitionExecution(from, to ExecutionStatus) bool {
	for _, a := range ValidExecutionTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// CanTransitionDeferred reports whether from -> to is a legal deferred step transition.
func CanTransitionDeferred(from, to DeferredStatus) bool {
	for _, a := range ValidDeferredTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for execution states that can never change again.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// IsTerminal returns true for deferred states the sweep never revisits.
func (s DeferredStatus) IsTerminal() bool {
	return s == DeferredStatusExecuted || s == DeferredStatusFailed
}
