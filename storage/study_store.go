package storage

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"study-orchestrator/core/models"
)

// File names inside a study directory. These are a stable contract with the
// read-only and export routes.
const (
	DataManagerFile       = "data_manager.gob"
	DisciplinesStatusFile = "disciplines_status.gob"
	RawLogFile            = "execution.raw.log"
	ReadOnlyFile          = "read_only.json"
	DashboardFile         = "dashboard.json"

	backupSuffix = ".bak"
)

func init() {
	// parameter values cross the gob boundary as interface values
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
	gob.Register([]float64{})
	gob.Register([]string{})
}

// StudyStore owns the on-disk layout of serialized study state: one
// directory per study case under the configured data root. The directory is
// owned exclusively by the single cached manager instance for that study, so
// file access needs no locking beyond the cache invariant.
type StudyStore struct {
	root string
}

// NewStudyStore creates a study store rooted at the given directory
func NewStudyStore(root string) *StudyStore {
	return &StudyStore{root: root}
}

// StudyDir returns the directory holding a study's serialized state
func (s *StudyStore) StudyDir(studyID int64) string {
	return filepath.Join(s.root, fmt.Sprintf("study_%d", studyID))
}

// EnsureStudyDir creates the study directory if needed
func (s *StudyStore) EnsureStudyDir(studyID int64) (string, error) {
	dir := s.StudyDir(studyID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &models.InvalidFile{Path: dir, Cause: err}
	}
	return dir, nil
}

// DumpBlob serializes v into the named blob of a study directory
func (s *StudyStore) DumpBlob(studyID int64, name string, v interface{}) error {
	dir, err := s.EnsureStudyDir(studyID)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return &models.InvalidFile{Path: path, Cause: err}
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(v); err != nil {
		return &models.InvalidFile{Path: path, Cause: err}
	}
	return nil
}

// LoadBlob deserializes the named blob of a study directory into out
func (s *StudyStore) LoadBlob(studyID int64, name string, out interface{}) error {
	path := filepath.Join(s.StudyDir(studyID), name)

	f, err := os.Open(path)
	if err != nil {
		return &models.InvalidFile{Path: path, Cause: err}
	}
	defer f.Close()

	if err := gob.NewDecoder(f).Decode(out); err != nil {
		return &models.InvalidFile{Path: path, Cause: err}
	}
	return nil
}

// HasBlob reports whether the named blob exists for a study
func (s *StudyStore) HasBlob(studyID int64, name string) bool {
	_, err := os.Stat(filepath.Join(s.StudyDir(studyID), name))
	return err == nil
}

// WriteSnapshot writes the read-only JSON snapshot served when the study's
// current execution is finished
func (s *StudyStore) WriteSnapshot(studyID int64, v interface{}) error {
	return s.writeJSON(studyID, ReadOnlyFile, v)
}

// ReadSnapshot reads the read-only JSON snapshot into out
func (s *StudyStore) ReadSnapshot(studyID int64, out interface{}) error {
	return s.readJSON(studyID, ReadOnlyFile, out)
}

// HasSnapshot reports whether a read-only snapshot exists
func (s *StudyStore) HasSnapshot(studyID int64) bool {
	return s.HasBlob(studyID, ReadOnlyFile)
}

// WriteDashboard writes the per-study dashboard JSON document
func (s *StudyStore) WriteDashboard(studyID int64, v interface{}) error {
	return s.writeJSON(studyID, DashboardFile, v)
}

// ReadDashboard reads the per-study dashboard JSON document into out
func (s *StudyStore) ReadDashboard(studyID int64, out interface{}) error {
	return s.readJSON(studyID, DashboardFile, out)
}

func (s *StudyStore) writeJSON(studyID int64, name string, v interface{}) error {
	dir, err := s.EnsureStudyDir(studyID)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, name)

	data, err := json.Marshal(v)
	if err != nil {
		return &models.InvalidFile{Path: path, Cause: err}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &models.InvalidFile{Path: path, Cause: err}
	}
	return nil
}

func (s *StudyStore) readJSON(studyID int64, name string, out interface{}) error {
	path := filepath.Join(s.StudyDir(studyID), name)
	data, err := os.ReadFile(path)
	if err != nil {
		return &models.InvalidFile{Path: path, Cause: err}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &models.InvalidFile{Path: path, Cause: err}
	}
	return nil
}

// RawLogPath returns the path of the raw stdout/stderr execution log
func (s *StudyStore) RawLogPath(studyID int64) string {
	return filepath.Join(s.StudyDir(studyID), RawLogFile)
}

// OpenRawLog opens the raw execution log for appending, creating it if needed
func (s *StudyStore) OpenRawLog(studyID int64) (*os.File, error) {
	if _, err := s.EnsureStudyDir(studyID); err != nil {
		return nil, err
	}
	path := s.RawLogPath(studyID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, &models.InvalidFile{Path: path, Cause: err}
	}
	return f, nil
}

// TruncateRawLog empties the raw execution log before a new execution
func (s *StudyStore) TruncateRawLog(studyID int64) error {
	if _, err := s.EnsureStudyDir(studyID); err != nil {
		return err
	}
	path := s.RawLogPath(studyID)
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return &models.InvalidFile{Path: path, Cause: err}
	}
	return nil
}

// studyFiles are the files carried by backup, restore and copy
var studyFiles = []string{DataManagerFile, DisciplinesStatusFile, RawLogFile}

// Backup copies the study blobs and raw log aside so a reload can restore them
func (s *StudyStore) Backup(studyID int64) error {
	dir := s.StudyDir(studyID)
	for _, name := range studyFiles {
		src := filepath.Join(dir, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := copyFile(src, src+backupSuffix); err != nil {
			return err
		}
	}
	return nil
}

// RestoreBackup re-materializes the backed up blobs over the current ones
func (s *StudyStore) RestoreBackup(studyID int64) error {
	dir := s.StudyDir(studyID)
	for _, name := range studyFiles {
		bak := filepath.Join(dir, name+backupSuffix)
		if _, err := os.Stat(bak); err != nil {
			continue
		}
		if err := copyFile(bak, filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// CopyStudy copies the persisted study files from a source study directory
// to a target study directory, byte for byte
func (s *StudyStore) CopyStudy(sourceID, targetID int64) error {
	if _, err := s.EnsureStudyDir(targetID); err != nil {
		return err
	}
	srcDir := s.StudyDir(sourceID)
	dstDir := s.StudyDir(targetID)
	for _, name := range studyFiles {
		src := filepath.Join(srcDir, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := copyFile(src, filepath.Join(dstDir, name)); err != nil {
			return err
		}
	}
	return nil
}

// DeleteStudyDir removes a study's directory and all serialized state
func (s *StudyStore) DeleteStudyDir(studyID int64) error {
	return os.RemoveAll(s.StudyDir(studyID))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return &models.InvalidFile{Path: src, Cause: err}
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return &models.InvalidFile{Path: dst, Cause: err}
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return &models.InvalidFile{Path: dst, Cause: err}
	}
	return out.Sync()
}
