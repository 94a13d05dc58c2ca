package coedition

import (
	"testing"

	"study-orchestrator/core/models"
	"study-orchestrator/core/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker() (*Tracker, *repository.InMemoryNotificationRepository) {
	notifications := repository.NewInMemoryNotificationRepository()
	tracker := NewTracker(
		repository.NewInMemoryCoeditionRepository(),
		notifications,
		repository.NewInMemoryUserRepository(
			&models.User{ID: 1, Username: "alice"},
			&models.User{ID: 2, Username: "bob"},
		),
	)
	return tracker, notifications
}

func TestJoinRoomIsIdempotent(t *testing.T) {
	tracker, _ := newTestTracker()

	require.NoError(t, tracker.JoinRoom(10, 1))
	require.NoError(t, tracker.JoinRoom(10, 1))

	users, err := tracker.RoomUsers(10)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, users)
}

func TestJoinRoomMovesUserBetweenStudies(t *testing.T) {
	tracker, _ := newTestTracker()

	require.NoError(t, tracker.JoinRoom(10, 1))
	require.NoError(t, tracker.JoinRoom(20, 1))

	old, err := tracker.RoomUsers(10)
	require.NoError(t, err)
	assert.Empty(t, old)

	current, err := tracker.RoomUsers(20)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, current)
}

func TestJoinRoomUnknownUserFails(t *testing.T) {
	tracker, _ := newTestTracker()

	assert.Error(t, tracker.JoinRoom(10, 99))
}

func TestHandleDisconnectLeavesEveryRoom(t *testing.T) {
	tracker, _ := newTestTracker()

	require.NoError(t, tracker.JoinRoom(10, 1))
	require.NoError(t, tracker.JoinRoom(10, 2))
	require.NoError(t, tracker.HandleDisconnect(1))

	users, err := tracker.RoomUsers(10)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, users)
}

func TestAddNotificationRejectsUnknownAction(t *testing.T) {
	tracker, _ := newTestTracker()

	_, err := tracker.AddNotification(10, 1, models.CoeditionAction("reboot"), "")
	assert.Error(t, err)
}

func TestAddNotificationRecordsAuthor(t *testing.T) {
	tracker, _ := newTestTracker()

	id, err := tracker.AddNotification(10, 2, models.CoeditionSubmission, "submitted")
	require.NoError(t, err)

	list, err := tracker.ListNotifications(10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, "bob", list[0].Author)
	assert.Equal(t, models.CoeditionSubmission, list[0].Type)
}

func TestListNotificationsPrunesEmptySaves(t *testing.T) {
	tracker, notifications := newTestTracker()

	emptySave, err := tracker.AddNotification(10, 1, models.CoeditionSave, "")
	require.NoError(t, err)
	fullSave, err := tracker.AddNotification(10, 1, models.CoeditionSave, "")
	require.NoError(t, err)
	join, err := tracker.AddNotification(10, 1, models.CoeditionJoinRoom, "")
	require.NoError(t, err)

	require.NoError(t, tracker.AddScalarChange(fullSave, "energy.share", "float", "0.2", "0.4", "alice"))

	list, err := tracker.ListNotifications(10)
	require.NoError(t, err)

	ids := make([]int64, 0, len(list))
	for _, n := range list {
		ids = append(ids, n.ID)
	}
	assert.Contains(t, ids, fullSave)
	assert.Contains(t, ids, join)
	assert.NotContains(t, ids, emptySave)

	// the pruned notification is gone for good
	_, err = notifications.Get(emptySave)
	assert.Error(t, err)
}

func TestChangeKindsRoundTrip(t *testing.T) {
	tracker, _ := newTestTracker()

	save, err := tracker.AddNotification(10, 1, models.CoeditionSave, "")
	require.NoError(t, err)

	require.NoError(t, tracker.AddScalarChange(save, "energy.share", "float", "0.2", "0.4", "alice"))
	require.NoError(t, tracker.AddCSVChange(save, "energy.mix", "alice", []byte("year,value\n2030,0.5\n")))
	require.NoError(t, tracker.AddDatasetMappingChange(save, "energy.demand", "s3", "ds-1", "demand", "energy.demand", "alice"))

	changes, err := tracker.ListChanges(save)
	require.NoError(t, err)
	require.Len(t, changes, 3)

	kinds := map[models.ChangeType]bool{}
	for _, c := range changes {
		kinds[c.ChangeType] = true
		if c.ChangeType == models.ChangeCSV {
			assert.Equal(t, []byte("year,value\n2030,0.5\n"), c.OldValueBlob)
		}
		if c.ChangeType == models.ChangeDatasetMapping {
			assert.Equal(t, "s3", c.DatasetConnectorID)
			assert.Equal(t, "ds-1", c.DatasetID)
		}
	}
	assert.True(t, kinds[models.ChangeScalar])
	assert.True(t, kinds[models.ChangeCSV])
	assert.True(t, kinds[models.ChangeDatasetMapping])
}
