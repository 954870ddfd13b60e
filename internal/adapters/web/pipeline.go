package web

import (
	"net/http"

	"commerce-pipeline/internal/app"
)

// ── Conversions ───────────────────────────────────────────────────────────────

// apiConvertQuotation handles POST /api/companies/{code}/quotations/{id}/convert.
func (h *Handler) apiConvertQuotation(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	var req app.ConvertRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	req.CompanyCode, req.DocumentID = companyCode(r), id

	result, err := h.svc.ConvertQuotationToOrder(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// apiInvoiceOrder handles POST /api/companies/{code}/orders/{id}/invoice.
func (h *Handler) apiInvoiceOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	var req app.ConvertRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	req.CompanyCode, req.DocumentID = companyCode(r), id

	result, err := h.svc.ConvertOrderToInvoice(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// apiReceiveOrder handles POST /api/companies/{code}/orders/{id}/receipt.
// A failed inventory sync still answers 201; the body carries sync_error.
func (h *Handler) apiReceiveOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	var req app.ReceiptRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	req.CompanyCode, req.DocumentID = companyCode(r), id

	result, err := h.svc.ConvertOrderToReceipt(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// apiRunPipeline handles POST /api/companies/{code}/quotations/{id}/pipeline.
// A run that stops after the order was created answers 200 with partial=true.
func (h *Handler) apiRunPipeline(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	var req app.PipelineRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	req.CompanyCode, req.QuotationID = companyCode(r), id

	run, err := h.svc.RunFullPipeline(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, run)
}

// ── Analytics ─────────────────────────────────────────────────────────────────

func analyticsRequest(r *http.Request) app.AnalyticsRequest {
	q := r.URL.Query()
	return app.AnalyticsRequest{
		CompanyCode: companyCode(r),
		Side:        q.Get("side"),
		From:        q.Get("from"),
		To:          q.Get("to"),
	}
}

// apiPipelineStats handles GET /api/companies/{code}/pipeline/stats?from=&to=&side=.
func (h *Handler) apiPipelineStats(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.GetPipelineStats(r.Context(), analyticsRequest(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiFunnel handles GET /api/companies/{code}/pipeline/funnel?from=&to=&side=.
func (h *Handler) apiFunnel(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.GetFunnel(r.Context(), analyticsRequest(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiBottlenecks handles GET /api/companies/{code}/pipeline/bottlenecks.
func (h *Handler) apiBottlenecks(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.GetBottlenecks(r.Context(), companyCode(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}
