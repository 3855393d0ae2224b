package feeplan

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/campusledger/campusledger/internal/platform/httpx"
)

// Handler wires fee template endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers fee template routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.createTemplate)
	r.Get("/terms/{termID}", h.listByTerm)
	r.Get("/terms/{termID}/resolve", h.resolveTemplate)
	r.Delete("/{templateID}", h.deleteTemplate)
}

type createTemplateRequest struct {
	TermID      int64           `json:"termId"`
	GradeLabel  string          `json:"gradeLabel"`
	Tuition     decimal.Decimal `json:"tuition"`
	Basic       decimal.Decimal `json:"basic"`
	Examination decimal.Decimal `json:"examination"`
	Transport   decimal.Decimal `json:"transport"`
	Library     decimal.Decimal `json:"library"`
	Sports      decimal.Decimal `json:"sports"`
	Activity    decimal.Decimal `json:"activity"`
	Hostel      decimal.Decimal `json:"hostel"`
	Uniform     decimal.Decimal `json:"uniform"`
	Book        decimal.Decimal `json:"book"`
	Other       decimal.Decimal `json:"other"`
}

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	created, err := h.service.Create(r.Context(), CreateTemplateInput{
		TermID:      req.TermID,
		GradeLabel:  req.GradeLabel,
		Tuition:     req.Tuition,
		Basic:       req.Basic,
		Examination: req.Examination,
		Transport:   req.Transport,
		Library:     req.Library,
		Sports:      req.Sports,
		Activity:    req.Activity,
		Hostel:      req.Hostel,
		Uniform:     req.Uniform,
		Book:        req.Book,
		Other:       req.Other,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) listByTerm(w http.ResponseWriter, r *http.Request) {
	termID, err := strconv.ParseInt(chi.URLParam(r, "termID"), 10, 64)
	if err != nil || termID <= 0 {
		httpx.RespondError(w, httpx.ErrBadPathParam("termID"))
		return
	}
	templates, err := h.service.ListByTerm(r.Context(), termID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if templates == nil {
		templates = []Template{}
	}
	httpx.JSON(w, http.StatusOK, templates)
}

// resolveTemplate answers which template a grade label binds to, useful for
// previewing fuzzy grade matches before a billing run.
func (h *Handler) resolveTemplate(w http.ResponseWriter, r *http.Request) {
	termID, err := strconv.ParseInt(chi.URLParam(r, "termID"), 10, 64)
	if err != nil || termID <= 0 {
		httpx.RespondError(w, httpx.ErrBadPathParam("termID"))
		return
	}
	gradeLabel := r.URL.Query().Get("grade")
	if gradeLabel == "" {
		httpx.RespondError(w, httpx.ErrBadPathParam("grade"))
		return
	}

	tpl, err := h.service.Resolve(r.Context(), termID, gradeLabel)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tpl)
}

func (h *Handler) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "templateID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, httpx.ErrBadPathParam("templateID"))
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.logger.Error("template delete failed", slog.Int64("template_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
