package term

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/campusledger/campusledger/internal/platform/httpx"
)

// Handler wires academic term endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers term routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listTerms)
	r.Post("/", h.createTerm)
	r.Get("/current", h.currentTerm)
	r.Get("/{termID}", h.getTerm)
	r.Post("/{termID}/promote", h.promoteTerm)
}

type createTermRequest struct {
	Name         string `json:"name"`
	AcademicYear string `json:"academicYear"`
	StartDate    string `json:"startDate"`
	EndDate      string `json:"endDate"`
	FeeDueDate   string `json:"feeDueDate"`
}

func (h *Handler) createTerm(w http.ResponseWriter, r *http.Request) {
	var req createTermRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	input := CreateTermInput{Name: req.Name, AcademicYear: req.AcademicYear}
	var err error
	if input.StartDate, err = parseDate(req.StartDate); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "startDate must be YYYY-MM-DD")
		return
	}
	if input.EndDate, err = parseDate(req.EndDate); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "endDate must be YYYY-MM-DD")
		return
	}
	if req.FeeDueDate != "" {
		due, err := parseDate(req.FeeDueDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "feeDueDate must be YYYY-MM-DD")
			return
		}
		input.FeeDueDate = &due
	}

	created, err := h.service.Create(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, termResponse(created))
}

func (h *Handler) listTerms(w http.ResponseWriter, r *http.Request) {
	terms, err := h.service.List(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]termView, 0, len(terms))
	for i := range terms {
		out = append(out, termResponse(&terms[i]))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) currentTerm(w http.ResponseWriter, r *http.Request) {
	current, err := h.service.Current(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, termResponse(current))
}

func (h *Handler) getTerm(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "termID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, httpx.ErrBadPathParam("termID"))
		return
	}
	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, termResponse(t))
}

func (h *Handler) promoteTerm(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "termID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, httpx.ErrBadPathParam("termID"))
		return
	}
	if err := h.service.PromoteCurrent(r.Context(), id); err != nil {
		h.logger.Error("term promotion failed", slog.Int64("term_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseDate(v string) (time.Time, error) {
	return time.Parse("2006-01-02", v)
}

type termView struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	AcademicYear string `json:"academicYear"`
	StartDate    string `json:"startDate"`
	EndDate      string `json:"endDate"`
	FeeDueDate   string `json:"feeDueDate,omitempty"`
	IsCurrent    bool   `json:"isCurrent"`
	Status       string `json:"status"`
}

func termResponse(t *Term) termView {
	view := termView{
		ID:           t.ID,
		Name:         t.Name,
		AcademicYear: t.AcademicYear,
		StartDate:    t.StartDate.Format("2006-01-02"),
		EndDate:      t.EndDate.Format("2006-01-02"),
		IsCurrent:    t.IsCurrent,
		Status:       string(t.Status),
	}
	if t.FeeDueDate != nil {
		view.FeeDueDate = t.FeeDueDate.Format("2006-01-02")
	}
	return view
}
