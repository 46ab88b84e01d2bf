package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticket-engine/internal/status"
	"ticket-engine/internal/validation"
)

type TicketHandler struct {
	machine *validation.Machine
}

func NewTicketHandler(machine *validation.Machine) *TicketHandler {
	return &TicketHandler{machine: machine}
}

// CancelTicket - void an unused ticket and return its quantity to the
// event's pool. Only the ticket's owner may cancel it.
func (h *TicketHandler) CancelTicket(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	ticketID := e.Request.PathValue("ticketId")
	if ticketID == "" {
		return apis.NewBadRequestError("Missing ticket id", nil)
	}

	err := h.machine.Cancel(e.Request.Context(), ticketID, e.Auth.Id)
	switch {
	case err == nil:
		return e.JSON(http.StatusOK, map[string]any{"message": "Ticket cancelled"})

	case errors.Is(err, status.ErrTicketNotFound):
		return apis.NewNotFoundError("Ticket not found", nil)

	case errors.Is(err, status.ErrAlreadyUsed):
		return e.JSON(http.StatusConflict, map[string]any{
			"error": "ticket already used",
		})

	default:
		slog.Error("ticket cancellation failed", "ticket_id", ticketID, "error", err)
		return apis.NewInternalServerError("internal error", nil)
	}
}
