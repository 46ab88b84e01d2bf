package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ticket-engine/internal/keys"
	"ticket-engine/internal/proof"
	"ticket-engine/internal/status"
	"ticket-engine/internal/store"
	"ticket-engine/models"
	"ticket-engine/monitoring"
)

// Inventory is the capacity guard cancellations release back into.
type Inventory interface {
	Release(ctx context.Context, eventID string, quantity int) error
}

// Machine runs the gate check: verify the proof, look the ticket up and
// transition it issued -> used. The transition itself is the store's
// compare-and-swap, so two near-simultaneous scans of the same ticket
// resolve to one admission and one rejection.
type Machine struct {
	store     store.TicketStore
	inventory Inventory
	keys      *keys.Engine
	encoder   *proof.Encoder
	monitor   *monitoring.Monitor
}

func NewMachine(
	ticketStore store.TicketStore,
	inventory Inventory,
	keyEngine *keys.Engine,
	encoder *proof.Encoder,
	monitor *monitoring.Monitor,
) *Machine {
	return &Machine{
		store:     ticketStore,
		inventory: inventory,
		keys:      keyEngine,
		encoder:   encoder,
		monitor:   monitor,
	}
}

// ValidatePayload handles a QR scan: split the payload and run the
// canonical contract.
func (m *Machine) ValidatePayload(ctx context.Context, payload string) (*models.ValidationResult, error) {
	hashedKey, signature, err := m.encoder.Split(payload)
	if err != nil {
		m.monitor.TrackValidation("invalid_signature")
		return nil, err
	}
	return m.Validate(ctx, hashedKey, signature)
}

// ValidateManual handles keyed-in fallback entry. The three fields are
// recombined into the hashed key and then run through the identical
// contract as a scanned payload; the two entry paths cannot diverge.
func (m *Machine) ValidateManual(ctx context.Context, primaryKey, secondaryKey, signature string) (*models.ValidationResult, error) {
	hashedKey, err := m.keys.BindKeys(primaryKey, secondaryKey)
	if err != nil {
		m.monitor.TrackValidation("invalid_signature")
		return nil, fmt.Errorf("%w: malformed manual entry", status.ErrSignatureMismatch)
	}
	return m.Validate(ctx, hashedKey, signature)
}

// Validate is the canonical contract: recompute the signature, look up by
// hashed key, reject used tickets, transition the rest. Rejections never
// mutate anything.
func (m *Machine) Validate(ctx context.Context, hashedKey, signature string) (*models.ValidationResult, error) {
	if !m.keys.Verify(hashedKey, signature) {
		m.monitor.TrackValidation("invalid_signature")
		return nil, status.ErrSignatureMismatch
	}

	ticket, err := m.store.FindByHashedKey(ctx, hashedKey)
	if err != nil {
		if errors.Is(err, status.ErrTicketNotFound) {
			m.monitor.TrackValidation("not_found")
		}
		return nil, err
	}

	if ticket.Used {
		m.monitor.TrackValidation("already_used")
		return nil, status.ErrAlreadyUsed
	}

	usedAt := time.Now().UTC()
	admitted, err := m.store.MarkUsed(ctx, hashedKey, usedAt)
	if err != nil {
		return nil, err
	}
	if !admitted {
		// Lost the transition to a concurrent scan of the same ticket.
		m.monitor.TrackValidation("already_used")
		return nil, status.ErrAlreadyUsed
	}

	eventTitle, err := m.store.EventTitle(ctx, ticket.EventID)
	if err != nil {
		// Admission already happened; a missing catalog entry only costs
		// the display title.
		slog.Error("event title lookup failed", "event_id", ticket.EventID, "error", err)
		eventTitle = ""
	}

	m.monitor.TrackValidation("admitted")
	slog.Info("ticket admitted", "ticket_number", ticket.TicketNumber, "event_id", ticket.EventID)

	return &models.ValidationResult{
		TicketNumber: ticket.TicketNumber,
		EventTitle:   eventTitle,
		Quantity:     ticket.Quantity,
		UsedAt:       usedAt,
	}, nil
}

// Cancel voids an unused ticket at its owner's request: the reserved
// quantity flows back to the event and the ticket lands in the same
// terminal used state as an admission, so no later scan can succeed.
func (m *Machine) Cancel(ctx context.Context, ticketID, userID string) error {
	ticket, err := m.store.FindByID(ctx, ticketID)
	if err != nil {
		return err
	}
	if ticket.UserID != userID {
		// Do not reveal other users' tickets.
		return status.ErrTicketNotFound
	}
	if ticket.Used {
		return status.ErrAlreadyUsed
	}

	cancelled, err := m.store.MarkUsed(ctx, ticket.HashedKey, time.Now().UTC())
	if err != nil {
		return err
	}
	if !cancelled {
		return status.ErrAlreadyUsed
	}

	if err := m.inventory.Release(ctx, ticket.EventID, ticket.Quantity); err != nil {
		slog.Error("failed to release stock for cancelled ticket",
			"ticket_number", ticket.TicketNumber, "event_id", ticket.EventID, "error", err)
		// Hand the claim back so the owner can retry the cancellation.
		if _, rerr := m.store.Reopen(ctx, ticket.HashedKey); rerr != nil {
			slog.Error("failed to reopen ticket after release failure",
				"ticket_number", ticket.TicketNumber, "error", rerr)
		}
		return err
	}

	slog.Info("ticket cancelled", "ticket_number", ticket.TicketNumber, "event_id", ticket.EventID)
	return nil
}
