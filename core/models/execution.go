package models

import "time"

// StudyCaseExecution represents one execution request for a study case.
// Exactly one execution is "current" per study case at a time (pointed to by
// StudyCase.CurrentExecutionID); historical executions remain queryable.
type StudyCaseExecution struct {
	ID                int64
	StudyCaseID       int64
	ExecutionStatus   ExecutionStatus
	ExecutionType     ExecutionType
	ProcessIdentifier int // OS pid, when ExecutionType is process
	CPUUsage          string
	MemoryUsage       string
	Message           string
	RequestedBy       string
	CreationDate      time.Time
}

// ExecutionStatus represents the current status of an execution
type ExecutionStatus string

const (
	ExecutionPending     ExecutionStatus = "pending"
	ExecutionPodPending  ExecutionStatus = "pod_pending"
	ExecutionRunning     ExecutionStatus = "running"
	ExecutionFinished    ExecutionStatus = "finished"
	ExecutionFailed      ExecutionStatus = "failed"
	ExecutionStopped     ExecutionStatus = "stopped"
	ExecutionPodError    ExecutionStatus = "pod_error"
	ExecutionNotExecuted ExecutionStatus = "not_executed"
)

// IsTerminal reports whether the status is a final one
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionFinished, ExecutionFailed, ExecutionStopped, ExecutionPodError, ExecutionNotExecuted:
		return true
	}
	return false
}

// IsActive reports whether the execution is submitted or running, i.e.
// blocks admission of a new execution for the same study case
func (s ExecutionStatus) IsActive() bool {
	switch s {
	case ExecutionRunning, ExecutionPending, ExecutionPodPending:
		return true
	}
	return false
}

// ExecutionType represents how an execution is run
type ExecutionType string

const (
	ExecutionTypeProcess    ExecutionType = "process"
	ExecutionTypeKubernetes ExecutionType = "kubernetes"
)

// IdleUsage is the display placeholder when no execution exists
const IdleUsage = "----"

// ExecutionLog represents one raw log row tied to a study case, and
// optionally to a specific execution
type ExecutionLog struct {
	ID          int64
	StudyCaseID int64
	ExecutionID *int64
	Message     string
	At          time.Time
}
