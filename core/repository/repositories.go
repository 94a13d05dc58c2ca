package repository

import (
	"time"

	"study-orchestrator/core/models"
)

// StudyCaseRepository handles persistence of study cases
type StudyCaseRepository interface {
	Create(sc *models.StudyCase) error
	Get(id int64) (*models.StudyCase, error)
	Update(sc *models.StudyCase) error
	UpdateCreationStatus(id int64, status models.CreationStatus) error
	SetCurrentExecution(id int64, executionID *int64) error
	UpdateModificationDate(id int64, date time.Time) error
	TouchLastActive(id int64, at time.Time) error
	SoftDelete(id int64) error
	Delete(id int64) error
	ListActive() ([]*models.StudyCase, error)
	ListInactiveSince(cutoff time.Time) ([]*models.StudyCase, error)
	ListDisabled() ([]*models.StudyCase, error)
}

// ExecutionRepository handles persistence of study case executions
type ExecutionRepository interface {
	Create(e *models.StudyCaseExecution) error
	Get(id int64) (*models.StudyCaseExecution, error)
	// GetLatestByStudy returns the most recent execution for a study, or
	// nil when the study has never been executed.
	GetLatestByStudy(studyID int64) (*models.StudyCaseExecution, error)
	ListByStudy(studyID int64) ([]*models.StudyCaseExecution, error)
	ListAll() ([]*models.StudyCaseExecution, error)
	UpdateStatus(id int64, status models.ExecutionStatus, message string) error
	UpdateProcess(id int64, executionType models.ExecutionType, pid int) error
	UpdateUsage(id int64, cpuUsage, memoryUsage string) error
	DeleteByStudy(studyID int64) error
}

// AllocationRepository handles persistence of pod allocations
type AllocationRepository interface {
	Create(a *models.PodAllocation) error
	// GetByIdentifier returns the allocation for (identifier, podType), or
	// nil when none exists. Duplicate allocations for the same pair are an
	// anomaly: the first one is returned and the duplication is logged.
	GetByIdentifier(identifier int64, podType models.PodType) (*models.PodAllocation, error)
	Update(a *models.PodAllocation) error
	Delete(id int64) error
	ListByPodType(podType models.PodType) ([]*models.PodAllocation, error)
}

// NotificationRepository handles the coedition notification audit trail
type NotificationRepository interface {
	Create(n *models.Notification) (int64, error)
	Get(id int64) (*models.Notification, error)
	ListByStudy(studyID int64) ([]*models.Notification, error)
	Delete(id int64) error
	AddChange(c *models.StudyCaseChange) error
	ListChanges(notificationID int64) ([]*models.StudyCaseChange, error)
	CountChanges(notificationID int64) (int, error)
}

// CoeditionRepository handles live room membership
type CoeditionRepository interface {
	Join(studyID, userID int64) error
	Leave(studyID, userID int64) error
	LeaveAll(userID int64) error
	ListUsers(studyID int64) ([]int64, error)
}

// UserRepository resolves user identities
type UserRepository interface {
	Get(id int64) (*models.User, error)
	GetByUsername(username string) (*models.User, error)
}

// ExecutionLogRepository handles per-study raw log rows
type ExecutionLogRepository interface {
	Append(l *models.ExecutionLog) error
	ListByStudy(studyID int64) ([]*models.ExecutionLog, error)
	// ClearUnbound removes log rows for a study that are not tied to any
	// execution; rows belonging to other executions are preserved.
	ClearUnbound(studyID int64) error
}
