package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticket-engine/internal/status"
	"ticket-engine/internal/validation"
	"ticket-engine/models"
)

type ValidationHandler struct {
	machine *validation.Machine
}

func NewValidationHandler(machine *validation.Machine) *ValidationHandler {
	return &ValidationHandler{machine: machine}
}

type validateReq struct {
	// Payload is the scanned QR content.
	Payload string `json:"payload"`

	// Manual fallback for a damaged or unreadable code.
	PrimaryKey   string `json:"primary_key"`
	SecondaryKey string `json:"secondary_key"`
	Signature    string `json:"signature"`
}

// ValidateTicket - gate scan endpoint. Accepts either a scanned payload or
// the manually keyed fields; both run the same admission contract.
func (h *ValidationHandler) ValidateTicket(e *core.RequestEvent) error {
	var req validateReq
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	ctx := e.Request.Context()

	var result *models.ValidationResult
	var err error
	switch {
	case req.Payload != "":
		result, err = h.machine.ValidatePayload(ctx, req.Payload)

	case req.PrimaryKey != "" && req.SecondaryKey != "" && req.Signature != "":
		result, err = h.machine.ValidateManual(ctx, req.PrimaryKey, req.SecondaryKey, req.Signature)

	default:
		return apis.NewBadRequestError("Provide payload or primary_key/secondary_key/signature", nil)
	}

	switch {
	case err == nil:
		return e.JSON(http.StatusOK, map[string]any{
			"status": "admitted",
			"result": result,
		})

	case errors.Is(err, status.ErrSignatureMismatch):
		return e.JSON(http.StatusForbidden, map[string]any{
			"status": "rejected",
			"error":  "invalid ticket signature",
		})

	case errors.Is(err, status.ErrTicketNotFound):
		return e.JSON(http.StatusNotFound, map[string]any{
			"status": "rejected",
			"error":  "ticket not found",
		})

	case errors.Is(err, status.ErrAlreadyUsed):
		return e.JSON(http.StatusConflict, map[string]any{
			"status": "rejected",
			"error":  "ticket already used",
		})

	default:
		slog.Error("validation failed", "error", err)
		return apis.NewInternalServerError("internal error", nil)
	}
}
