package models

import "time"

// Notification represents one coedition event on a study case
type Notification struct {
	ID           int64
	StudyCaseID  int64
	Author       string
	Type         CoeditionAction
	Message      string
	CreationDate time.Time
}

// CoeditionAction represents a recognized coedition event type
type CoeditionAction string

const (
	CoeditionJoinRoom         CoeditionAction = "join_room"
	CoeditionLeaveRoom        CoeditionAction = "leave_room"
	CoeditionSave             CoeditionAction = "save"
	CoeditionSubmission       CoeditionAction = "submission"
	CoeditionExecution        CoeditionAction = "execution"
	CoeditionClaim            CoeditionAction = "claim"
	CoeditionUnclaim          CoeditionAction = "unclaim"
	CoeditionExport           CoeditionAction = "export"
	CoeditionValidationChange CoeditionAction = "validation_change"
	CoeditionDelete           CoeditionAction = "delete"
	CoeditionEdit             CoeditionAction = "edit"
)

// IsValid reports whether the action is a recognized coedition action
func (a CoeditionAction) IsValid() bool {
	switch a {
	case CoeditionJoinRoom, CoeditionLeaveRoom, CoeditionSave, CoeditionSubmission,
		CoeditionExecution, CoeditionClaim, CoeditionUnclaim, CoeditionExport,
		CoeditionValidationChange, CoeditionDelete, CoeditionEdit:
		return true
	}
	return false
}

// StudyCaseChange represents one before/after value captured under a SAVE or
// EXPORT notification, for replay and audit
type StudyCaseChange struct {
	ID                 int64
	NotificationID     int64
	VariableID         string
	VariableType       string
	ChangeType         ChangeType
	NewValue           string
	OldValue           string
	OldValueBlob       []byte // CSV content for dataframe-like values
	DatasetConnectorID string
	DatasetID          string
	DatasetParameterID string
	VariableKey        string
	Author             string
	Date               time.Time
}

// ChangeType represents the kind of captured change
type ChangeType string

const (
	ChangeScalar         ChangeType = "scalar"
	ChangeCSV            ChangeType = "csv"
	ChangeDatasetMapping ChangeType = "dataset_mapping"
)

// StudyCoeditionUser represents live room membership: the user is currently
// viewing the study case
type StudyCoeditionUser struct {
	ID          int64
	StudyCaseID int64
	UserID      int64
}

// User is the minimal identity record consumed by notification validation
type User struct {
	ID       int64
	Username string
	Fullname string
}
