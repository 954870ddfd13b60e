package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"commerce-pipeline/internal/core"
)

type errorResponse struct {
	Error          string `json:"error"`
	Code           string `json:"code"`
	DocumentID     int    `json:"document_id,omitempty"`
	Status         string `json:"status,omitempty"`
	ExpectedStatus string `json:"expected_status,omitempty"`
	SuccessorID    *int   `json:"successor_id,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	writeErrorBody(w, status, errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	})
}

// statusForKind maps core.ErrorKind codes to HTTP statuses.
var statusForKind = map[string]int{
	"NOT_FOUND":         http.StatusNotFound,
	"INVALID_STATE":     http.StatusConflict,
	"ALREADY_CONVERTED": http.StatusConflict,
	"STORAGE_CONFLICT":  http.StatusConflict,
	"INVALID_LINE_ITEM": http.StatusUnprocessableEntity,
	"FORBIDDEN":         http.StatusForbidden,
	"INVALID_INPUT":     http.StatusBadRequest,
}

// writeServiceError maps an ApplicationService error to a response. Unknown
// errors are logged and reported as a bare 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := core.ErrorKind(err)
	status, ok := statusForKind[kind]
	if !ok {
		h.log.Error("request failed",
			zap.String("request_id", requestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	resp := errorResponse{
		Error:     err.Error(),
		Code:      kind,
		RequestID: requestIDFromContext(r.Context()),
	}
	var ce *core.ConversionError
	if errors.As(err, &ce) {
		resp.DocumentID = ce.DocumentID
		resp.Status = string(ce.Status)
		resp.ExpectedStatus = string(ce.Expected)
		resp.SuccessorID = ce.SuccessorID
	}
	writeErrorBody(w, status, resp)
}

func writeErrorBody(w http.ResponseWriter, status int, resp errorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
