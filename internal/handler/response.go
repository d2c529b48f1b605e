package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/devrev/otree/internal/errors"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Status    string                 `json:"status"`
	ErrorCode string                 `json:"error_code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeError maps err to a status code. Errors outside the index error
// taxonomy are reported as internal without leaking their text.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	requestID := r.Header.Get("X-Request-ID")
	resp := ErrorResponse{Status: "error", RequestID: requestID}
	statusCode := http.StatusInternalServerError

	if ie, ok := errors.AsIndexError(err); ok {
		statusCode = ie.HTTPStatus()
		resp.ErrorCode = ie.Code.String()
		resp.Message = ie.Error()
		resp.Details = ie.Details
	} else {
		resp.ErrorCode = errors.ErrCodeInternal.String()
		resp.Message = "internal server error"
	}

	if statusCode >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID),
			zap.Error(err))
	} else {
		logger.Debug("Request rejected",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID),
			zap.String("error_code", resp.ErrorCode),
			zap.Error(err))
	}
	writeJSON(w, statusCode, resp)
}
