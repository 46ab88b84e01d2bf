package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"

	"ticket-engine/internal/status"
	"ticket-engine/models"
)

// TicketStore is the persistence contract the issuance workflow and the
// validation state machine run against. The compare-and-swap MarkUsed is the
// single linearization point per ticket: gate validation, cancellation and
// the expiry sweep all transition through it.
type TicketStore interface {
	FindByPrimaryKey(ctx context.Context, primaryKey string) (*models.Ticket, error)
	FindByHashedKey(ctx context.Context, hashedKey string) (*models.Ticket, error)
	FindByID(ctx context.Context, id string) (*models.Ticket, error)
	Create(ctx context.Context, ticket *models.Ticket) error
	// MarkUsed flips used=false to used=true for the ticket with the given
	// hashed key. Returns false when the ticket was already used (or gone),
	// without touching the row.
	MarkUsed(ctx context.Context, hashedKey string, usedAt time.Time) (bool, error)
	// Reopen reverts a MarkUsed claim whose follow-up work failed, so the
	// ticket becomes visible to retries again. Returns false when the
	// ticket is not in the used state.
	Reopen(ctx context.Context, hashedKey string) (bool, error)
	FindExpired(ctx context.Context, before time.Time, limit int) ([]*models.Ticket, error)
	Delete(ctx context.Context, id string) error
	TicketNumberExists(ctx context.Context, number string) (bool, error)
	EventTitle(ctx context.Context, eventID string) (string, error)
}

// PBStore implements TicketStore on the PocketBase record store, with raw
// dbx SQL where record saves cannot express an atomic transition.
type PBStore struct {
	app core.App
}

func NewPBStore(app core.App) *PBStore {
	return &PBStore{app: app}
}

func (s *PBStore) FindByPrimaryKey(_ context.Context, primaryKey string) (*models.Ticket, error) {
	record, err := s.app.FindFirstRecordByFilter(
		"tickets",
		"primary_key = {:pk}",
		dbx.Params{"pk": primaryKey},
	)
	if err != nil {
		return nil, notFoundOr(err)
	}
	return recordToTicket(record), nil
}

func (s *PBStore) FindByHashedKey(_ context.Context, hashedKey string) (*models.Ticket, error) {
	record, err := s.app.FindFirstRecordByFilter(
		"tickets",
		"hashed_key = {:hk}",
		dbx.Params{"hk": hashedKey},
	)
	if err != nil {
		return nil, notFoundOr(err)
	}
	return recordToTicket(record), nil
}

func (s *PBStore) FindByID(_ context.Context, id string) (*models.Ticket, error) {
	record, err := s.app.FindRecordById("tickets", id)
	if err != nil {
		return nil, notFoundOr(err)
	}
	return recordToTicket(record), nil
}

func (s *PBStore) Create(_ context.Context, ticket *models.Ticket) error {
	collection, err := s.app.FindCollectionByNameOrId("tickets")
	if err != nil {
		return err
	}

	record := core.NewRecord(collection)
	record.Set("ticket_number", ticket.TicketNumber)
	record.Set("event_id", ticket.EventID)
	record.Set("user_id", ticket.UserID)
	record.Set("offer_type_id", ticket.OfferTypeID)
	record.Set("quantity", ticket.Quantity)
	// Stored as the decimal's string form; a float column would not
	// round-trip monetary amounts losslessly.
	record.Set("price", ticket.Price.String())
	record.Set("primary_key", ticket.PrimaryKey)
	record.Set("secondary_key", ticket.SecondaryKey)
	record.Set("hashed_key", ticket.HashedKey)
	record.Set("signature", ticket.Signature)
	record.Set("qr_code_url", ticket.QRCodeURL)
	record.Set("validated", ticket.Validated)
	record.Set("used", ticket.Used)
	record.Set("purchase_date", ticket.PurchaseDate)

	if err := s.app.Save(record); err != nil {
		return err
	}

	ticket.ID = record.Id
	return nil
}

func (s *PBStore) MarkUsed(_ context.Context, hashedKey string, usedAt time.Time) (bool, error) {
	now := usedAt.UTC().Format(types.DefaultDateLayout)

	result, err := s.app.DB().NewQuery(
		`UPDATE tickets
		 SET used = TRUE, used_at = {:now}, updated = {:now}
		 WHERE hashed_key = {:hk} AND used = FALSE`,
	).Bind(dbx.Params{"now": now, "hk": hashedKey}).Execute()
	if err != nil {
		return false, fmt.Errorf("mark used: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark used: %w", err)
	}
	return affected == 1, nil
}

func (s *PBStore) Reopen(_ context.Context, hashedKey string) (bool, error) {
	now := time.Now().UTC().Format(types.DefaultDateLayout)

	result, err := s.app.DB().NewQuery(
		`UPDATE tickets
		 SET used = FALSE, used_at = '', updated = {:now}
		 WHERE hashed_key = {:hk} AND used = TRUE`,
	).Bind(dbx.Params{"now": now, "hk": hashedKey}).Execute()
	if err != nil {
		return false, fmt.Errorf("reopen: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reopen: %w", err)
	}
	return affected == 1, nil
}

func (s *PBStore) FindExpired(_ context.Context, before time.Time, limit int) ([]*models.Ticket, error) {
	records, err := s.app.FindRecordsByFilter(
		"tickets",
		"used = false && purchase_date < {:before}",
		"created",
		limit,
		0,
		dbx.Params{"before": before.UTC().Format(types.DefaultDateLayout)},
	)
	if err != nil {
		return nil, err
	}

	tickets := make([]*models.Ticket, 0, len(records))
	for _, record := range records {
		tickets = append(tickets, recordToTicket(record))
	}
	return tickets, nil
}

func (s *PBStore) Delete(_ context.Context, id string) error {
	record, err := s.app.FindRecordById("tickets", id)
	if err != nil {
		return notFoundOr(err)
	}
	return s.app.Delete(record)
}

func (s *PBStore) TicketNumberExists(_ context.Context, number string) (bool, error) {
	_, err := s.app.FindFirstRecordByFilter(
		"tickets",
		"ticket_number = {:num}",
		dbx.Params{"num": number},
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *PBStore) EventTitle(_ context.Context, eventID string) (string, error) {
	record, err := s.app.FindRecordById("events", eventID)
	if err != nil {
		return "", notFoundOr(err)
	}
	return record.GetString("title"), nil
}

func notFoundOr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return status.ErrTicketNotFound
	}
	return err
}

func recordToTicket(record *core.Record) *models.Ticket {
	price, err := decimal.NewFromString(record.GetString("price"))
	if err != nil {
		price = decimal.Zero
	}

	ticket := &models.Ticket{
		ID:           record.Id,
		TicketNumber: record.GetString("ticket_number"),
		EventID:      record.GetString("event_id"),
		UserID:       record.GetString("user_id"),
		OfferTypeID:  record.GetString("offer_type_id"),
		Quantity:     record.GetInt("quantity"),
		Price:        price,
		PrimaryKey:   record.GetString("primary_key"),
		SecondaryKey: record.GetString("secondary_key"),
		HashedKey:    record.GetString("hashed_key"),
		Signature:    record.GetString("signature"),
		QRCodeURL:    record.GetString("qr_code_url"),
		Validated:    record.GetBool("validated"),
		Used:         record.GetBool("used"),
		PurchaseDate: record.GetDateTime("purchase_date").Time(),
		CreatedAt:    record.GetDateTime("created").Time(),
		UpdatedAt:    record.GetDateTime("updated").Time(),
	}

	if usedAt := record.GetDateTime("used_at"); !usedAt.IsZero() {
		t := usedAt.Time()
		ticket.UsedAt = &t
	}

	return ticket
}
