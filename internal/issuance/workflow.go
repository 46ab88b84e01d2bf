package issuance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"ticket-engine/internal/keys"
	"ticket-engine/internal/proof"
	"ticket-engine/internal/status"
	"ticket-engine/internal/store"
	"ticket-engine/models"
	"ticket-engine/monitoring"
	"ticket-engine/utils"
)

// Inventory is the capacity guard the workflow reserves against.
type Inventory interface {
	Reserve(ctx context.Context, eventID string, quantity int) error
	Release(ctx context.Context, eventID string, quantity int) error
}

// Notifier delivers an issued ticket to the buyer. Delivery is best-effort:
// the persisted ticket is the authoritative grant of admission.
type Notifier interface {
	Deliver(ctx context.Context, ticket *models.Ticket, email string, qrPNG []byte) error
}

// ArtifactStore persists rendered proof images and returns their public
// reference.
type ArtifactStore interface {
	Save(ticketNumber string, png []byte) (string, error)
}

// Workflow turns one confirmed payment into exactly one ticket, exactly
// once. Inventory is reserved only after metadata validates, and every
// failure past the reservation releases it before returning.
type Workflow struct {
	store     store.TicketStore
	inventory Inventory
	keys      *keys.Engine
	encoder   *proof.Encoder
	artifacts ArtifactStore
	notifier  Notifier
	monitor   *monitoring.Monitor
}

func NewWorkflow(
	ticketStore store.TicketStore,
	inventory Inventory,
	keyEngine *keys.Engine,
	encoder *proof.Encoder,
	artifacts ArtifactStore,
	notifier Notifier,
	monitor *monitoring.Monitor,
) *Workflow {
	return &Workflow{
		store:     ticketStore,
		inventory: inventory,
		keys:      keyEngine,
		encoder:   encoder,
		artifacts: artifacts,
		notifier:  notifier,
		monitor:   monitor,
	}
}

type confirmationMeta struct {
	UserID      string
	EventID     string
	OfferTypeID string
	Quantity    int
}

// Issue processes one payment confirmation. Redelivered confirmations
// resolve to the already-issued ticket with no side effects.
func (w *Workflow) Issue(ctx context.Context, conf *models.PaymentConfirmation) (*models.Ticket, error) {
	started := time.Now()

	ticket, err := w.issue(ctx, conf)
	if err == nil {
		w.monitor.ObserveIssuanceDuration(time.Since(started))
	}
	return ticket, err
}

func (w *Workflow) issue(ctx context.Context, conf *models.PaymentConfirmation) (*models.Ticket, error) {
	// Step 1: idempotency gate.
	primaryKey, err := w.keys.DerivePrimaryKey(conf.TransactionID, conf.SessionID)
	if err != nil {
		w.monitor.TrackIssuance("invalid_metadata")
		return nil, err
	}

	existing, err := w.store.FindByPrimaryKey(ctx, primaryKey)
	if err == nil {
		slog.Info("duplicate confirmation delivery, returning existing ticket",
			"primary_key", primaryKey, "ticket_number", existing.TicketNumber)
		w.monitor.TrackIssuance("duplicate")
		return existing, nil
	}
	if !errors.Is(err, status.ErrTicketNotFound) {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}

	// Step 2: metadata extraction, before anything is reserved.
	meta, err := extractMetadata(conf.Metadata)
	if err != nil {
		w.monitor.TrackIssuance("invalid_metadata")
		return nil, err
	}

	// Step 3: inventory reservation.
	if err := w.inventory.Reserve(ctx, meta.EventID, meta.Quantity); err != nil {
		if errors.Is(err, status.ErrOutOfStock) {
			// The payment is already captured; this needs a human.
			slog.Error("captured payment cannot be issued: out of stock",
				"primary_key", primaryKey, "event_id", meta.EventID, "quantity", meta.Quantity)
			w.monitor.TrackIssuance("out_of_stock")
		}
		return nil, err
	}

	ticket, png, err := w.buildTicket(ctx, primaryKey, conf, meta)
	if err != nil {
		// Compensating release: nothing below the reservation may strand
		// capacity on failure.
		if rerr := w.inventory.Release(ctx, meta.EventID, meta.Quantity); rerr != nil {
			slog.Error("failed to release reservation after issuance failure",
				"event_id", meta.EventID, "quantity", meta.Quantity, "error", rerr)
		}

		// A lost insert race is not a failure: the concurrent delivery's
		// ticket is the one true ticket, and our reservation was redundant.
		var dup duplicateWon
		if errors.As(err, &dup) {
			return dup.ticket, nil
		}
		return nil, err
	}

	w.monitor.TrackIssuance("issued")
	slog.Info("ticket issued",
		"ticket_number", ticket.TicketNumber, "event_id", ticket.EventID, "quantity", ticket.Quantity)

	// Step 7: notification is fire-and-forget with a logged outcome.
	if err := w.notifier.Deliver(ctx, ticket, conf.PayerEmail, png); err != nil {
		slog.Error("ticket notification failed", "ticket_number", ticket.TicketNumber, "error", err)
	}

	return ticket, nil
}

// buildTicket runs steps 4-6: key derivation, proof rendering and
// persistence. The caller owns the reservation rollback.
func (w *Workflow) buildTicket(ctx context.Context, primaryKey string, conf *models.PaymentConfirmation, meta *confirmationMeta) (*models.Ticket, []byte, error) {
	// Step 4: key derivation.
	secondaryKey, err := w.keys.GenerateSecondaryKey()
	if err != nil {
		w.monitor.TrackIssuance("error")
		return nil, nil, fmt.Errorf("generate secondary key: %w", err)
	}

	hashedKey, err := w.keys.BindKeys(primaryKey, secondaryKey)
	if err != nil {
		w.monitor.TrackIssuance("invalid_metadata")
		return nil, nil, err
	}
	signature := w.keys.Sign(hashedKey)

	ticketNumber, err := w.generateTicketNumber(ctx)
	if err != nil {
		w.monitor.TrackIssuance("error")
		return nil, nil, err
	}

	// Step 5: proof rendering.
	payload, err := w.encoder.Encode(hashedKey, signature)
	if err != nil {
		w.monitor.TrackIssuance("render_failure")
		return nil, nil, err
	}
	png, err := w.encoder.Render(payload)
	if err != nil {
		w.monitor.TrackIssuance("render_failure")
		return nil, nil, err
	}
	qrURL, err := w.artifacts.Save(ticketNumber, png)
	if err != nil {
		w.monitor.TrackIssuance("render_failure")
		return nil, nil, err
	}

	// Step 6: persistence.
	ticket := &models.Ticket{
		TicketNumber: ticketNumber,
		EventID:      meta.EventID,
		UserID:       meta.UserID,
		OfferTypeID:  meta.OfferTypeID,
		Quantity:     meta.Quantity,
		Price:        conf.Amount,
		PrimaryKey:   primaryKey,
		SecondaryKey: secondaryKey,
		HashedKey:    hashedKey,
		Signature:    signature,
		QRCodeURL:    qrURL,
		Validated:    true,
		Used:         false,
		PurchaseDate: time.Now().UTC(),
	}

	if err := w.store.Create(ctx, ticket); err != nil {
		// A concurrent delivery may have won the insert on the unique
		// primary_key index; resolve to the winner's ticket.
		if winner, ferr := w.store.FindByPrimaryKey(ctx, primaryKey); ferr == nil {
			slog.Info("lost issuance race to concurrent delivery", "primary_key", primaryKey)
			w.monitor.TrackIssuance("duplicate")
			return nil, nil, duplicateWon{winner}
		}
		w.monitor.TrackIssuance("error")
		return nil, nil, fmt.Errorf("persist ticket: %w", err)
	}

	return ticket, png, nil
}

// duplicateWon carries the winner of a lost insert race through the rollback
// path so the redundant reservation is released before it is unwrapped.
type duplicateWon struct {
	ticket *models.Ticket
}

func (duplicateWon) Error() string { return "duplicate delivery won the insert race" }

func extractMetadata(metadata map[string]string) (*confirmationMeta, error) {
	required := []string{"user_id", "event_id", "offer_type_id", "quantity"}
	for _, field := range required {
		value, ok := metadata[field]
		if !ok || value == "" {
			return nil, fmt.Errorf("%w: missing %s", status.ErrInvalidMetadata, field)
		}
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			return nil, fmt.Errorf("%w: %s is not numeric: %q", status.ErrInvalidMetadata, field, value)
		}
	}

	quantity, _ := strconv.Atoi(metadata["quantity"])
	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1, got %d", status.ErrInvalidMetadata, quantity)
	}

	return &confirmationMeta{
		UserID:      metadata["user_id"],
		EventID:     metadata["event_id"],
		OfferTypeID: metadata["offer_type_id"],
		Quantity:    quantity,
	}, nil
}

// maxNumberAttempts bounds retries on ticket-number collisions; at 32 bits
// of randomness per attempt, exhaustion means the RNG is broken.
const maxNumberAttempts = 5

func (w *Workflow) generateTicketNumber(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		code, err := utils.GenerateCode(4)
		if err != nil {
			return "", fmt.Errorf("generate ticket number: %w", err)
		}

		number := fmt.Sprintf("TKT-%s-%s", time.Now().UTC().Format("20060102"), code)
		exists, err := w.store.TicketNumberExists(ctx, number)
		if err != nil {
			return "", fmt.Errorf("ticket number check: %w", err)
		}
		if !exists {
			return number, nil
		}
	}
	return "", errors.New("ticket number space exhausted")
}
