package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/CodeBTHS/app/logging"
	"github.com/CodeBTHS/app/models"

	"github.com/sirupsen/logrus"
)

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"description"`
}

// errorStatus maps service errors onto an HTTP status and a stable error code.
func errorStatus(err error) (int, errorResponse) {
	var refErr *models.ReferenceError
	switch {
	case errors.As(err, &refErr):
		return http.StatusUnprocessableEntity, errorResponse{Error: refErr.Code, Description: refErr.Description}
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, errorResponse{Error: "INVALID_REQUEST", Description: err.Error()}
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Description: err.Error()}
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict, errorResponse{Error: "CONFLICT", Description: err.Error()}
	case errors.Is(err, models.ErrTreeTooDeep):
		return http.StatusUnprocessableEntity, errorResponse{Error: "TREE_TOO_DEEP", Description: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorResponse{Error: "TIMEOUT", Description: "request timed out"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "INTERNAL", Description: "internal server error"}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorStatus(err)

	entry := logging.Logger.WithFields(logrus.Fields{
		logging.EventField: "REQUEST_FAILED",
		"method":           r.Method,
		"path":             r.URL.Path,
		"status":           status,
	})
	if status >= http.StatusInternalServerError {
		entry.Errorf("request failed: %v", err)
	} else {
		entry.Infof("request rejected: %v", err)
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Logger.WithField(logging.EventField, "RESPONSE_ENCODE_FAILED").Errorf("encode response: %v", err)
	}
}
