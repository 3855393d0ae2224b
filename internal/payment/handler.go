package payment

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/campusledger/campusledger/internal/platform/httpx"
	"github.com/campusledger/campusledger/internal/shared"
)

// Handler wires payment endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers payment routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.applyPayment)
	r.Get("/students/{studentID}/unpaid", h.listUnpaid)
}

// applyRequest is the payment application payload. ApplyToFutureTerms is a
// pointer so an omitted field is rejected rather than silently defaulting.
type applyRequest struct {
	StudentID          int64           `json:"studentId" validate:"required,gt=0"`
	Amount             decimal.Decimal `json:"amount" validate:"required"`
	Method             string          `json:"method" validate:"required,oneof=CASH CARD BANK_TRANSFER CHEQUE ONLINE"`
	Note               string          `json:"note"`
	ReceivedAt         string          `json:"receivedAt"`
	ApplyToFutureTerms *bool           `json:"applyToFutureTerms" validate:"required"`
}

func (h *Handler) applyPayment(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}

	var receivedAt time.Time
	if req.ReceivedAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.ReceivedAt)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "receivedAt must be RFC3339")
			return
		}
		receivedAt = parsed
	}

	result, err := h.service.Apply(r.Context(), ApplyInput{
		StudentID:          req.StudentID,
		Amount:             req.Amount,
		Method:             req.Method,
		Note:               req.Note,
		ReceivedAt:         receivedAt,
		ApplyToFutureTerms: *req.ApplyToFutureTerms,
	})
	if err != nil {
		h.logger.Error("payment application failed",
			slog.Int64("student_id", req.StudentID),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) listUnpaid(w http.ResponseWriter, r *http.Request) {
	studentID, err := strconv.ParseInt(chi.URLParam(r, "studentID"), 10, 64)
	if err != nil || studentID <= 0 {
		httpx.RespondError(w, httpx.ErrBadPathParam("studentID"))
		return
	}

	items, err := h.service.UnpaidItems(r.Context(), studentID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if items == nil {
		items = []UnpaidItem{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"studentId": studentID,
		"items":     items,
	})
}

func validationDetail(err error) string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok || len(errs) == 0 {
		return shared.UserSafeMessage(err)
	}
	return "invalid field: " + errs[0].Field()
}
