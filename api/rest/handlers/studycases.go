package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"study-orchestrator/core/coedition"
	"study-orchestrator/core/models"
	"study-orchestrator/core/orchestrator"
	"study-orchestrator/core/repository"
	"study-orchestrator/core/studycase"

	log "github.com/sirupsen/logrus"
)

// StudyCaseHandler handles study case lifecycle HTTP requests
type StudyCaseHandler struct {
	orchestrator *orchestrator.Orchestrator
	cache        *studycase.Cache
	studies      repository.StudyCaseRepository
	tracker      *coedition.Tracker
}

// NewStudyCaseHandler creates a new study case handler
func NewStudyCaseHandler(
	orch *orchestrator.Orchestrator,
	cache *studycase.Cache,
	studies repository.StudyCaseRepository,
	tracker *coedition.Tracker,
) *StudyCaseHandler {
	return &StudyCaseHandler{
		orchestrator: orch,
		cache:        cache,
		studies:      studies,
		tracker:      tracker,
	}
}

// CreateStudyCaseRequest represents the request to create a study case
type CreateStudyCaseRequest struct {
	Name               string `json:"name"`
	GroupID            int64  `json:"group_id"`
	Process            string `json:"process"`
	Repository         string `json:"repository"`
	FromType           string `json:"from_type"`
	Reference          string `json:"reference"`
	StudyPodFlavor     string `json:"study_pod_flavor"`
	ExecutionPodFlavor string `json:"execution_pod_flavor"`
}

// CreateStudyCase handles POST /v1/study-cases
func (h *StudyCaseHandler) CreateStudyCase(w http.ResponseWriter, r *http.Request) {
	var req CreateStudyCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Process == "" || req.Repository == "" {
		http.Error(w, "name, process and repository are required", http.StatusBadRequest)
		return
	}

	sc := &models.StudyCase{
		Name:               req.Name,
		GroupID:            req.GroupID,
		Process:            req.Process,
		Repository:         req.Repository,
		FromType:           models.StudyFromType(req.FromType),
		Reference:          req.Reference,
		StudyPodFlavor:     req.StudyPodFlavor,
		ExecutionPodFlavor: req.ExecutionPodFlavor,
	}
	if sc.FromType == "" {
		sc.FromType = models.StudyFromReference
	}

	if _, err := h.orchestrator.Create(sc); err != nil {
		writeError(w, err)
		return
	}
	log.Infof("study case %d created by %s", sc.ID, requestUser(r))
	writeJSON(w, http.StatusCreated, sc)
}

// CopyStudyCaseRequest represents the request to copy a study case
type CopyStudyCaseRequest struct {
	Name    string `json:"name"`
	GroupID int64  `json:"group_id"`
}

// CopyStudyCase handles POST /v1/study-cases/{id}/copy
func (h *StudyCaseHandler) CopyStudyCase(w http.ResponseWriter, r *http.Request) {
	sourceID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid study case id", http.StatusBadRequest)
		return
	}
	var req CopyStudyCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sc, _, err := h.orchestrator.Copy(sourceID, req.Name, req.GroupID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

// GetStudyCase handles GET /v1/study-cases/{id}
func (h *StudyCaseHandler) GetStudyCase(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid study case id", http.StatusBadRequest)
		return
	}
	readOnly, _ := strconv.ParseBool(r.URL.Query().Get("read_only"))

	resp, err := h.orchestrator.GetStudyCase(id, requestRight(r), readOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ReloadStudyCase handles POST /v1/study-cases/{id}/reload
func (h *StudyCaseHandler) ReloadStudyCase(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid study case id", http.StatusBadRequest)
		return
	}

	task, err := h.orchestrator.Load(id, true)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := task.Wait(h.orchestrator.LoadTimeout()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// UpdateParametersRequest represents a batch of parameter updates
type UpdateParametersRequest struct {
	UserID  int64                          `json:"user_id"`
	Changes []orchestrator.ParameterChange `json:"changes"`
}

// UpdateParameters handles POST /v1/study-cases/{id}/parameters
func (h *StudyCaseHandler) UpdateParameters(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid study case id", http.StatusBadRequest)
		return
	}
	if !requestRight(r).CanEdit() {
		http.Error(w, "insufficient rights to edit the study case", http.StatusForbidden)
		return
	}
	var req UpdateParametersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// the save is recorded first so the applied changes attach to it; an
	// edit that ends up changing nothing leaves the notification vacuous
	// and it is pruned on the next read
	notificationID, err := h.tracker.AddNotification(id, req.UserID, models.CoeditionSave, "saved study case parameters")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.orchestrator.SaveParameters(id, req.Changes, notificationID, requestUser(r), h.tracker); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "saved", "notification_id": notificationID})
}

// DeleteStudyCase handles DELETE /v1/study-cases/{id}. The study is
// disabled and evicted; its rows and files are purged later by the sweeper.
func (h *StudyCaseHandler) DeleteStudyCase(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid study case id", http.StatusBadRequest)
		return
	}
	if !requestRight(r).CanEdit() {
		http.Error(w, "insufficient rights to delete the study case", http.StatusForbidden)
		return
	}

	if err := h.studies.SoftDelete(id); err != nil {
		writeError(w, err)
		return
	}
	if err := h.cache.Delete(id); err != nil {
		log.Warnf("failed to evict study case %d after delete: %v", id, err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListStudyCases handles GET /v1/study-cases
func (h *StudyCaseHandler) ListStudyCases(w http.ResponseWriter, r *http.Request) {
	studies, err := h.studies.ListActive()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, studies)
}

// StudyCaseStatus handles GET /v1/study-cases/{id}/load-status
func (h *StudyCaseHandler) StudyCaseStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid study case id", http.StatusBadRequest)
		return
	}
	sc, err := h.studies.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	loadStatus := models.LoadStatusNone
	errorMessage := ""
	if h.cache.IsCached(id) {
		if m, err := h.cache.Get(id, false); err == nil {
			loadStatus = m.LoadStatus()
			errorMessage = m.Error()
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"study_case_id":   id,
		"creation_status": sc.CreationStatus,
		"load_status":     loadStatus,
		"error":           errorMessage,
	})
}
