package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"study-orchestrator/core/models"

	"github.com/gorilla/mux"
)

// writeJSON encodes the payload with the given status code
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError maps domain errors to HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	var invalidStudy *models.InvalidStudy
	var calcErr *models.CalculationError
	var execErr *models.InvalidStudyExecution
	var studyErr *models.StudyCaseError
	switch {
	case errors.As(err, &invalidStudy):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &calcErr), errors.As(err, &execErr), errors.As(err, &studyErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// pathID extracts a numeric path variable
func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}

// requestUser resolves the authenticated user forwarded by the gateway
func requestUser(r *http.Request) string {
	if user := r.Header.Get("X-User"); user != "" {
		return user
	}
	return "anonymous"
}

// requestRight resolves the caller's access right on the study
func requestRight(r *http.Request) models.AccessRight {
	if right := r.Header.Get("X-Access-Right"); right != "" {
		return models.AccessRight(right)
	}
	return models.AccessManager
}
