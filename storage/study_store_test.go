package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumpAndLoadBlob(t *testing.T) {
	store := NewStudyStore(t.TempDir())

	in := map[string]interface{}{
		"disc.x": 3.14,
		"disc.y": []float64{1, 2, 3},
	}
	require.NoError(t, store.DumpBlob(1, DataManagerFile, in))
	assert.True(t, store.HasBlob(1, DataManagerFile))

	var out map[string]interface{}
	require.NoError(t, store.LoadBlob(1, DataManagerFile, &out))
	assert.Equal(t, in, out)
}

func TestLoadBlobMissing(t *testing.T) {
	store := NewStudyStore(t.TempDir())

	var out map[string]interface{}
	err := store.LoadBlob(42, DataManagerFile, &out)
	assert.Error(t, err)
}

func TestCopyStudyIsByteIdentical(t *testing.T) {
	store := NewStudyStore(t.TempDir())

	require.NoError(t, store.DumpBlob(1, DataManagerFile, map[string]interface{}{"a": 1.0}))
	require.NoError(t, store.DumpBlob(1, DisciplinesStatusFile, map[string]string{"disc": "DONE"}))
	f, err := store.OpenRawLog(1)
	require.NoError(t, err)
	_, err = f.WriteString("line one\nline two\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, store.CopyStudy(1, 2))

	for _, name := range []string{DataManagerFile, DisciplinesStatusFile, RawLogFile} {
		src, err := os.ReadFile(filepath.Join(store.StudyDir(1), name))
		require.NoError(t, err)
		dst, err := os.ReadFile(filepath.Join(store.StudyDir(2), name))
		require.NoError(t, err)
		assert.Equal(t, src, dst, name)
	}
}

func TestCopyStudySkipsMissingFiles(t *testing.T) {
	store := NewStudyStore(t.TempDir())

	require.NoError(t, store.DumpBlob(1, DataManagerFile, map[string]interface{}{"a": 1.0}))
	require.NoError(t, store.CopyStudy(1, 2))

	assert.True(t, store.HasBlob(2, DataManagerFile))
	assert.False(t, store.HasBlob(2, DisciplinesStatusFile))
}

func TestBackupAndRestore(t *testing.T) {
	store := NewStudyStore(t.TempDir())

	require.NoError(t, store.DumpBlob(1, DataManagerFile, map[string]interface{}{"v": "before"}))
	require.NoError(t, store.Backup(1))
	require.NoError(t, store.DumpBlob(1, DataManagerFile, map[string]interface{}{"v": "after"}))

	require.NoError(t, store.RestoreBackup(1))

	var out map[string]interface{}
	require.NoError(t, store.LoadBlob(1, DataManagerFile, &out))
	assert.Equal(t, "before", out["v"])
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := NewStudyStore(t.TempDir())
	assert.False(t, store.HasSnapshot(7))

	require.NoError(t, store.WriteSnapshot(7, map[string]interface{}{"tree": "root"}))
	assert.True(t, store.HasSnapshot(7))

	var out map[string]interface{}
	require.NoError(t, store.ReadSnapshot(7, &out))
	assert.Equal(t, "root", out["tree"])
}

func TestTruncateRawLog(t *testing.T) {
	store := NewStudyStore(t.TempDir())

	f, err := store.OpenRawLog(3)
	require.NoError(t, err)
	_, err = f.WriteString("old output\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, store.TruncateRawLog(3))

	data, err := os.ReadFile(store.RawLogPath(3))
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestDeleteStudyDir(t *testing.T) {
	store := NewStudyStore(t.TempDir())

	require.NoError(t, store.DumpBlob(5, DataManagerFile, map[string]interface{}{"a": 1.0}))
	require.NoError(t, store.DeleteStudyDir(5))

	_, err := os.Stat(store.StudyDir(5))
	assert.True(t, os.IsNotExist(err))
}
