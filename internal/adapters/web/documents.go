package web

import (
	"net/http"
	"strconv"

	"commerce-pipeline/internal/app"
)

// apiCreateQuotation handles POST /api/companies/{code}/quotations.
func (h *Handler) apiCreateQuotation(w http.ResponseWriter, r *http.Request) {
	var req app.CreateQuotationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.CompanyCode = companyCode(r)

	result, err := h.svc.CreateQuotation(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// apiListDocuments handles GET /api/companies/{code}/documents?side=&stage=&status=&limit=.
func (h *Handler) apiListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := app.ListDocumentsRequest{
		CompanyCode: companyCode(r),
		Side:        q.Get("side"),
		Stage:       q.Get("stage"),
		Status:      q.Get("status"),
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			writeError(w, r, "limit must be a non-negative integer", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		req.Limit = limit
	}

	result, err := h.svc.ListDocuments(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiGetDocument handles GET /api/companies/{code}/documents/{id}.
func (h *Handler) apiGetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.GetDocument(r.Context(), companyCode(r), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiTransitionDocument handles POST /api/companies/{code}/documents/{id}/status.
func (h *Handler) apiTransitionDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.svc.TransitionDocument(r.Context(), companyCode(r), id, req.Status)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}
