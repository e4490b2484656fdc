package models

// TaskState is one phase of a task's navigation state machine. A task moves
// through states monotonically; the only way back is the explicit retry
// edge (Retrying -> Pending) taken under scheduler control.
type TaskState string

const (
	TaskPending           TaskState = "pending"
	TaskNavigating        TaskState = "navigating"
	TaskAwaitingCondition TaskState = "awaiting_condition"
	TaskExtracting        TaskState = "extracting"
	TaskRetrying          TaskState = "retrying"
	TaskFinalized         TaskState = "finalized"
	TaskFailed            TaskState = "failed"
)

// Terminal reports whether the state machine is done.
func (s TaskState) Terminal() bool {
	return s == TaskFinalized || s == TaskFailed
}
