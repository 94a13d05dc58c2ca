package models

// PodAllocation represents the binding of a study case or an execution to an
// external compute resource. Identifier is either a study case id or a study
// case execution id, disambiguated by PodType.
type PodAllocation struct {
	ID                int64
	Identifier        int64
	PodType           PodType
	PodStatus         PodStatus
	Flavor            string
	Message           string
	KubernetesPodName string
}

// PodType disambiguates what an allocation's identifier refers to
type PodType string

const (
	PodTypeStudy     PodType = "study"
	PodTypeExecution PodType = "execution"
)

// PodStatus represents the status of the backing resource
type PodStatus string

const (
	PodNotStarted PodStatus = "not_started"
	PodPending    PodStatus = "pending"
	PodRunning    PodStatus = "running"
	PodInError    PodStatus = "in_error"
	PodOOMKilled  PodStatus = "oomkilled"
)
