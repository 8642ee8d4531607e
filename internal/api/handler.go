package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/rs/zerolog/log"

	"campaign-preview-engine/internal/observability"
	"campaign-preview-engine/internal/preview"
	tpl "campaign-preview-engine/internal/render"
	"campaign-preview-engine/internal/storage"
)

type PreviewHandler struct {
	Svc *preview.Service
}

func NewPreviewHandler(svc *preview.Service) *PreviewHandler {
	return &PreviewHandler{Svc: svc}
}

type errorResponse struct {
	Error string `json:"error"`
}

type previewResponse struct {
	Preview *preview.Preview `json:"preview"`
}

type variablesResponse struct {
	TemplateID string   `json:"templateId"`
	Subject    []string `json:"subject"`
	Content    []string `json:"content"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

// fail maps service errors onto status codes. Anything unexpected is
// logged and reported as a bare 500.
func fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	var (
		status = http.StatusInternalServerError
		kind   = "internal"
		msg    = "internal server error"
	)
	switch {
	case errors.Is(err, preview.ErrInvalidRequest):
		status, kind, msg = http.StatusBadRequest, "bad_request", err.Error()
	case errors.Is(err, storage.ErrNotFound):
		status, kind, msg = http.StatusNotFound, "not_found", err.Error()
	default:
		log.Error().Err(err).Str("op", op).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request failed")
	}
	observability.RequestErrors.WithLabelValues(kind).Inc()
	writeJSON(w, r, status, errorResponse{Error: msg})
}

func (h *PreviewHandler) Preview(w http.ResponseWriter, r *http.Request) {
	const op = "api.Preview"

	var req preview.SingleRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, op, errors.Join(preview.ErrInvalidRequest, err))
		return
	}

	p, err := h.Svc.Preview(r.Context(), req)
	if err != nil {
		fail(w, r, op, err)
		return
	}
	writeJSON(w, r, http.StatusOK, previewResponse{Preview: p})
}

func (h *PreviewHandler) Batch(w http.ResponseWriter, r *http.Request) {
	const op = "api.Batch"

	var req preview.BatchRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, op, errors.Join(preview.ErrInvalidRequest, err))
		return
	}

	res, err := h.Svc.PreviewBatch(r.Context(), req)
	if err != nil {
		fail(w, r, op, err)
		return
	}
	if res.ProcessedCount < res.TotalCount {
		log.Info().Str("template_id", req.TemplateID).
			Int("processed", res.ProcessedCount).Int("total", res.TotalCount).
			Msg("batch preview partially rendered")
	}
	writeJSON(w, r, http.StatusOK, res)
}

// TemplateVariables lists the placeholders a stored template uses.
func (h *PreviewHandler) TemplateVariables(w http.ResponseWriter, r *http.Request) {
	const op = "api.TemplateVariables"

	id := chi.URLParam(r, "id")
	t, err := h.Svc.Template(r.Context(), id, r.URL.Query().Get("userId"))
	if err != nil {
		fail(w, r, op, err)
		return
	}
	writeJSON(w, r, http.StatusOK, variablesResponse{
		TemplateID: t.ID,
		Subject:    nonNil(tpl.Placeholders(t.Subject)),
		Content:    nonNil(tpl.Placeholders(t.Content)),
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
