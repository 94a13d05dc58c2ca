package coedition

import (
	"time"

	"study-orchestrator/core/models"
	"study-orchestrator/core/repository"

	log "github.com/sirupsen/logrus"
)

// Tracker manages live room membership and the coedition notification
// audit trail of study cases.
type Tracker struct {
	coedition     repository.CoeditionRepository
	notifications repository.NotificationRepository
	users         repository.UserRepository
}

// NewTracker creates a coedition tracker
func NewTracker(
	coedition repository.CoeditionRepository,
	notifications repository.NotificationRepository,
	users repository.UserRepository,
) *Tracker {
	return &Tracker{
		coedition:     coedition,
		notifications: notifications,
		users:         users,
	}
}

// JoinRoom registers the user in the study's room. Any previous membership
// of the same user is dropped first: a user views one study at a time.
func (t *Tracker) JoinRoom(studyID, userID int64) error {
	if _, err := t.resolveUser(userID); err != nil {
		return err
	}
	if err := t.coedition.LeaveAll(userID); err != nil {
		return err
	}
	if err := t.coedition.Join(studyID, userID); err != nil {
		return err
	}
	log.Debugf("user %d joined room of study case %d", userID, studyID)
	return nil
}

// LeaveRoom removes the user from the study's room
func (t *Tracker) LeaveRoom(studyID, userID int64) error {
	return t.coedition.Leave(studyID, userID)
}

// HandleDisconnect removes the user from every room, called when the
// user's connection drops without an explicit leave
func (t *Tracker) HandleDisconnect(userID int64) error {
	return t.coedition.LeaveAll(userID)
}

// RoomUsers lists the ids of users currently viewing the study
func (t *Tracker) RoomUsers(studyID int64) ([]int64, error) {
	return t.coedition.ListUsers(studyID)
}

// AddNotification records a coedition event and returns its id. The
// action must be recognized and the user must exist.
func (t *Tracker) AddNotification(studyID, userID int64, action models.CoeditionAction, message string) (int64, error) {
	if !action.IsValid() {
		return 0, models.NewStudyCaseError("unknown coedition action "+string(action), nil)
	}
	user, err := t.resolveUser(userID)
	if err != nil {
		return 0, err
	}
	return t.notifications.Create(&models.Notification{
		StudyCaseID:  studyID,
		Author:       user.Username,
		Type:         action,
		Message:      message,
		CreationDate: time.Now(),
	})
}

// ListNotifications returns the study's notifications, pruning SAVE and
// EXPORT entries that carry no change so the trail only shows events that
// altered something
func (t *Tracker) ListNotifications(studyID int64) ([]*models.Notification, error) {
	all, err := t.notifications.ListByStudy(studyID)
	if err != nil {
		return nil, err
	}

	kept := make([]*models.Notification, 0, len(all))
	for _, n := range all {
		if n.Type == models.CoeditionSave || n.Type == models.CoeditionExport {
			count, err := t.notifications.CountChanges(n.ID)
			if err != nil {
				return nil, err
			}
			if count == 0 {
				if err := t.notifications.Delete(n.ID); err != nil {
					log.Warnf("failed to prune empty notification %d: %v", n.ID, err)
				}
				continue
			}
		}
		kept = append(kept, n)
	}
	return kept, nil
}

// ListChanges returns the captured changes of one notification
func (t *Tracker) ListChanges(notificationID int64) ([]*models.StudyCaseChange, error) {
	return t.notifications.ListChanges(notificationID)
}

// AddScalarChange captures a plain before/after value under a notification
func (t *Tracker) AddScalarChange(notificationID int64, variableID, variableType, oldValue, newValue, author string) error {
	return t.notifications.AddChange(&models.StudyCaseChange{
		NotificationID: notificationID,
		VariableID:     variableID,
		VariableType:   variableType,
		ChangeType:     models.ChangeScalar,
		OldValue:       oldValue,
		NewValue:       newValue,
		Author:         author,
		Date:           time.Now(),
	})
}

// AddCSVChange captures a dataframe-like value as a CSV blob
func (t *Tracker) AddCSVChange(notificationID int64, variableID, author string, oldCSV []byte) error {
	return t.notifications.AddChange(&models.StudyCaseChange{
		NotificationID: notificationID,
		VariableID:     variableID,
		VariableType:   "dataframe",
		ChangeType:     models.ChangeCSV,
		OldValueBlob:   oldCSV,
		Author:         author,
		Date:           time.Now(),
	})
}

// AddDatasetMappingChange captures a dataset import with its provenance
func (t *Tracker) AddDatasetMappingChange(notificationID int64, variableID, connectorID, datasetID, parameterID, variableKey, author string) error {
	return t.notifications.AddChange(&models.StudyCaseChange{
		NotificationID:     notificationID,
		VariableID:         variableID,
		ChangeType:         models.ChangeDatasetMapping,
		DatasetConnectorID: connectorID,
		DatasetID:          datasetID,
		DatasetParameterID: parameterID,
		VariableKey:        variableKey,
		Author:             author,
		Date:               time.Now(),
	})
}

// resolveUser fetches the user or fails with a study case error
func (t *Tracker) resolveUser(userID int64) (*models.User, error) {
	user, err := t.users.Get(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, models.NewInvalidStudy("unknown user %d", userID)
	}
	return user, nil
}
