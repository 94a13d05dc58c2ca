package studycase

import (
	"sync"
	"testing"
	"time"

	"study-orchestrator/core/engine"
	"study-orchestrator/core/models"
	"study-orchestrator/core/repository"
	"study-orchestrator/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *models.StudyCase) {
	t.Helper()
	studies := repository.NewInMemoryStudyCaseRepository()
	sc := &models.StudyCase{
		Name:           "energy mix",
		Process:        "energy_process",
		Repository:     "energy_models",
		FromType:       models.StudyFromReference,
		CreationStatus: models.CreationDone,
	}
	require.NoError(t, studies.Create(sc))

	store := storage.NewStudyStore(t.TempDir())
	return NewCache(studies, store, engine.LocalFactory), sc
}

func TestGetReturnsSameInstance(t *testing.T) {
	cache, sc := newTestCache(t)

	first, err := cache.Get(sc.ID, false)
	require.NoError(t, err)
	second, err := cache.Get(sc.ID, false)
	require.NoError(t, err)

	assert.Equal(t, first.InstanceID(), second.InstanceID())
	assert.Same(t, first, second)
}

func TestConcurrentGetConstructsOnce(t *testing.T) {
	cache, sc := newTestCache(t)

	const callers = 32
	ids := make([]string, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			m, err := cache.Get(sc.ID, false)
			if assert.NoError(t, err) {
				ids[i] = m.InstanceID()
			}
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Equal(t, ids[0], ids[i])
	}
}

func TestGetUnknownStudyFails(t *testing.T) {
	cache, _ := newTestCache(t)

	_, err := cache.Get(999, false)
	assert.Error(t, err)
}

func TestDeleteConstructsFreshInstance(t *testing.T) {
	cache, sc := newTestCache(t)

	before, err := cache.Get(sc.ID, false)
	require.NoError(t, err)
	before.SetLoadStatus(models.LoadStatusLoaded)

	require.NoError(t, cache.Delete(sc.ID))
	assert.False(t, cache.IsCached(sc.ID))

	after, err := cache.Get(sc.ID, false)
	require.NoError(t, err)
	assert.NotEqual(t, before.InstanceID(), after.InstanceID())
	assert.Equal(t, models.LoadStatusNone, after.LoadStatus())
}

func TestGetForUpdateRefreshesRow(t *testing.T) {
	cache, sc := newTestCache(t)

	m, err := cache.Get(sc.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "energy mix", m.StudyCase().Name)

	sc.Name = "energy mix v2"
	studies := cache.studies
	require.NoError(t, studies.Update(sc))

	refreshed, err := cache.Get(sc.ID, true)
	require.NoError(t, err)
	assert.Same(t, m, refreshed)
	assert.Equal(t, "energy mix v2", refreshed.StudyCase().Name)
}

func TestUpdateModificationDateEvictsOnChange(t *testing.T) {
	cache, sc := newTestCache(t)

	m, err := cache.Get(sc.ID, false)
	require.NoError(t, err)

	// same date: instance survives
	assert.False(t, cache.UpdateModificationDate(sc.ID, m.ModificationDate()))
	assert.True(t, cache.IsCached(sc.ID))

	// a different persisted date means another process mutated the study
	assert.True(t, cache.UpdateModificationDate(sc.ID, m.ModificationDate().Add(time.Minute)))
	assert.False(t, cache.IsCached(sc.ID))
}

func TestUpdateModificationDateIgnoresUncached(t *testing.T) {
	cache, sc := newTestCache(t)

	assert.False(t, cache.UpdateModificationDate(sc.ID, time.Now()))
}
