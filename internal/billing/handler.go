package billing

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/campusledger/campusledger/internal/ledger"
	"github.com/campusledger/campusledger/internal/platform/httpx"
)

// Handler wires billing endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers billing routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/terms/{termID}/run", h.runTerm)
	r.Get("/terms/{termID}/statistics", h.termStatistics)
	r.Post("/students/{studentID}/terms/{termID}", h.billStudent)
	r.Post("/students/{studentID}/terms/{termID}/regenerate", h.regenerateBill)
	r.Post("/students/{studentID}/terms/{termID}/items", h.addManualItem)
	r.Delete("/items/{itemID}", h.removeManualItem)
}

func (h *Handler) runTerm(w http.ResponseWriter, r *http.Request) {
	termID, err := pathID(r, "termID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	result, err := h.service.BillTerm(r.Context(), termID)
	if err != nil {
		h.logger.Error("term billing run failed", slog.Int64("term_id", termID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) termStatistics(w http.ResponseWriter, r *http.Request) {
	termID, err := pathID(r, "termID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	stats, err := h.service.TermStatistics(r.Context(), termID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) billStudent(w http.ResponseWriter, r *http.Request) {
	studentID, err := pathID(r, "studentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	termID, err := pathID(r, "termID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	assignment, err := h.service.BillStudent(r.Context(), studentID, termID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, assignmentResponse(assignment))
}

func (h *Handler) regenerateBill(w http.ResponseWriter, r *http.Request) {
	studentID, err := pathID(r, "studentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	termID, err := pathID(r, "termID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actorID, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)

	assignment, err := h.service.RegenerateBill(r.Context(), studentID, termID, actorID)
	if err != nil {
		h.logger.Error("bill regeneration failed",
			slog.Int64("student_id", studentID),
			slog.Int64("term_id", termID),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, assignmentResponse(assignment))
}

type manualItemRequest struct {
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Mandatory bool            `json:"mandatory"`
}

func (h *Handler) addManualItem(w http.ResponseWriter, r *http.Request) {
	studentID, err := pathID(r, "studentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	termID, err := pathID(r, "termID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req manualItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actorID, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)

	item, err := h.service.AddManualItem(r.Context(), ManualItemInput{
		StudentID: studentID,
		TermID:    termID,
		Name:      req.Name,
		Type:      ledger.FeeType(req.Type),
		Amount:    req.Amount,
		Mandatory: req.Mandatory,
		ActorID:   actorID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, itemResponse(*item))
}

func (h *Handler) removeManualItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathID(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.RemoveManualItem(r.Context(), itemID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, httpx.ErrBadPathParam(name)
	}
	return id, nil
}

type itemView struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Original  decimal.Decimal `json:"original"`
	Paid      decimal.Decimal `json:"paid"`
	Pending   decimal.Decimal `json:"pending"`
	DueDate   string          `json:"dueDate"`
	Mandatory bool            `json:"mandatory"`
	Status    string          `json:"status"`
}

type assignmentView struct {
	ID            int64           `json:"id"`
	StudentID     int64           `json:"studentId"`
	TermID        int64           `json:"termId"`
	AcademicYear  string          `json:"academicYear"`
	TotalFee      decimal.Decimal `json:"totalFee"`
	PaidAmount    decimal.Decimal `json:"paidAmount"`
	PendingAmount decimal.Decimal `json:"pendingAmount"`
	Status        string          `json:"status"`
	DueDate       string          `json:"dueDate"`
	Items         []itemView      `json:"items"`
}

func itemResponse(item ledger.FeeLineItem) itemView {
	return itemView{
		ID:        item.ID,
		Name:      item.Name,
		Type:      string(item.Type),
		Original:  item.Original,
		Paid:      item.Paid,
		Pending:   item.Pending,
		DueDate:   item.DueDate.Format("2006-01-02"),
		Mandatory: item.Mandatory,
		Status:    string(item.Status),
	}
}

func assignmentResponse(a *ledger.TermAssignment) assignmentView {
	view := assignmentView{
		ID:            a.ID,
		StudentID:     a.StudentID,
		TermID:        a.TermID,
		AcademicYear:  a.AcademicYear,
		TotalFee:      a.TotalFee,
		PaidAmount:    a.PaidAmount,
		PendingAmount: a.PendingAmount,
		Status:        string(a.Status),
		DueDate:       a.DueDate.Format("2006-01-02"),
		Items:         make([]itemView, 0, len(a.Items)),
	}
	for _, item := range a.Items {
		view.Items = append(view.Items, itemResponse(item))
	}
	return view
}
