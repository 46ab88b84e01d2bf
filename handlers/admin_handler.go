package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticket-engine/internal/status"
	"ticket-engine/models"
)

// TransactionChecker asks the payment gateway for its record of a captured
// transaction. Nil when the gateway client is not configured.
type TransactionChecker interface {
	CheckTransaction(ctx context.Context, transactionID string) (*models.GatewayTransaction, error)
}

// StockReader reports an event's live remaining-capacity counter.
type StockReader interface {
	Remaining(ctx context.Context, eventID string) (int64, error)
}

type AdminHandler struct {
	checker TransactionChecker
	stock   StockReader
}

func NewAdminHandler(checker TransactionChecker, stock StockReader) *AdminHandler {
	return &AdminHandler{
		checker: checker,
		stock:   stock,
	}
}

// CheckTransaction - reconciliation lookup for a captured payment that
// could not be issued.
func (h *AdminHandler) CheckTransaction(e *core.RequestEvent) error {
	if !e.HasSuperuserAuth() {
		return apis.NewUnauthorizedError("Admin access required", nil)
	}

	if h.checker == nil {
		return e.JSON(http.StatusServiceUnavailable, map[string]any{
			"error": "gateway client not configured",
		})
	}

	txnID := e.Request.PathValue("txnId")
	if txnID == "" {
		return apis.NewBadRequestError("Missing transaction id", nil)
	}

	txn, err := h.checker.CheckTransaction(e.Request.Context(), txnID)
	if err != nil {
		slog.Error("gateway transaction check failed", "transaction_id", txnID, "error", err)
		return apis.NewInternalServerError("gateway check failed", nil)
	}

	return e.JSON(http.StatusOK, map[string]any{"transaction": txn})
}

// EventStock - live remaining-capacity counter for an event, for judging
// whether a captured-but-unissued payment can be retried.
func (h *AdminHandler) EventStock(e *core.RequestEvent) error {
	if !e.HasSuperuserAuth() {
		return apis.NewUnauthorizedError("Admin access required", nil)
	}

	eventID := e.Request.PathValue("eventId")
	if eventID == "" {
		return apis.NewBadRequestError("Missing event id", nil)
	}

	remaining, err := h.stock.Remaining(e.Request.Context(), eventID)
	switch {
	case err == nil:
		return e.JSON(http.StatusOK, map[string]any{
			"event_id":  eventID,
			"remaining": remaining,
		})

	case errors.Is(err, status.ErrOutOfStock):
		return apis.NewNotFoundError("No stock counter for this event", nil)

	default:
		slog.Error("stock lookup failed", "event_id", eventID, "error", err)
		return apis.NewInternalServerError("internal error", nil)
	}
}
