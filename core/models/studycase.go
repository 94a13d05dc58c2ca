package models

import "time"

// StudyCase represents a parameterized simulation scenario owned by a group
type StudyCase struct {
	ID                 int64
	GroupID            int64
	Process            string
	Repository         string
	Name               string
	CreationStatus     CreationStatus
	FromType           StudyFromType
	Reference          string // usecase name or generated reference identifier
	SourceStudyID      *int64 // set when FromType is StudyFromCopy
	CurrentExecutionID *int64
	StudyPodFlavor     string
	ExecutionPodFlavor string
	Disabled           bool
	CreationDate       time.Time
	ModificationDate   time.Time
	LastActiveDate     time.Time
}

// CreationStatus represents the persisted creation state of a study case
type CreationStatus string

const (
	CreationPending    CreationStatus = "pending"
	CreationInProgress CreationStatus = "in_progress"
	CreationDone       CreationStatus = "done"
	CreationInError    CreationStatus = "in_error"
)

// StudyFromType represents the source a study case is created from
type StudyFromType string

const (
	StudyFromReference   StudyFromType = "reference"
	StudyFromUsecaseData StudyFromType = "usecase_data"
	StudyFromCopy        StudyFromType = "study"
)

// LoadStatus represents the in-memory load state of a study case manager.
// It is intentionally separate from CreationStatus: loading is a recurring,
// cheap-to-retry operation while creation is one-time and side-effecting.
type LoadStatus string

const (
	LoadStatusNone       LoadStatus = "none"
	LoadStatusInProgress LoadStatus = "in_progress"
	LoadStatusLoaded     LoadStatus = "loaded"
	LoadStatusInError    LoadStatus = "in_error"
)

// AccessRight represents a caller's rights on a study case
type AccessRight string

const (
	AccessManager          AccessRight = "manager"
	AccessContributor      AccessRight = "contributor"
	AccessCommenter        AccessRight = "commenter"
	AccessRestrictedViewer AccessRight = "restricted_viewer"
)

// CanEdit reports whether the right allows parameter mutation
func (a AccessRight) CanEdit() bool {
	return a == AccessManager || a == AccessContributor
}

// CanReadSnapshot reports whether the right allows serving the precomputed
// read-only snapshot instead of the live in-memory study
func (a AccessRight) CanReadSnapshot() bool {
	return a != AccessRestrictedViewer
}
