package issuance

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-engine/internal/keys"
	"ticket-engine/internal/proof"
	"ticket-engine/internal/status"
	"ticket-engine/models"
	"ticket-engine/monitoring"
)

type memStore struct {
	mu      sync.Mutex
	tickets map[string]*models.Ticket // by primary key
	nextID  int

	createErr error
}

func newMemStore() *memStore {
	return &memStore{tickets: map[string]*models.Ticket{}}
}

func (s *memStore) FindByPrimaryKey(_ context.Context, primaryKey string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tickets[primaryKey]; ok {
		return t, nil
	}
	return nil, status.ErrTicketNotFound
}

func (s *memStore) FindByHashedKey(_ context.Context, hashedKey string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickets {
		if t.HashedKey == hashedKey {
			return t, nil
		}
	}
	return nil, status.ErrTicketNotFound
}

func (s *memStore) FindByID(_ context.Context, id string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickets {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, status.ErrTicketNotFound
}

func (s *memStore) Create(_ context.Context, ticket *models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.tickets[ticket.PrimaryKey]; ok {
		return errors.New("UNIQUE constraint failed: tickets.primary_key")
	}
	s.nextID++
	ticket.ID = strings.Repeat("0", 10) + string(rune('a'+s.nextID))
	s.tickets[ticket.PrimaryKey] = ticket
	return nil
}

func (s *memStore) MarkUsed(_ context.Context, hashedKey string, usedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickets {
		if t.HashedKey == hashedKey {
			if t.Used {
				return false, nil
			}
			t.Used = true
			at := usedAt
			t.UsedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) Reopen(_ context.Context, hashedKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickets {
		if t.HashedKey == hashedKey && t.Used {
			t.Used = false
			t.UsedAt = nil
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) FindExpired(_ context.Context, before time.Time, limit int) ([]*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Ticket
	for _, t := range s.tickets {
		if !t.Used && t.PurchaseDate.Before(before) && len(out) < limit {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pk, t := range s.tickets {
		if t.ID == id {
			delete(s.tickets, pk)
			return nil
		}
	}
	return status.ErrTicketNotFound
}

func (s *memStore) TicketNumberExists(_ context.Context, number string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickets {
		if t.TicketNumber == number {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) EventTitle(_ context.Context, eventID string) (string, error) {
	return "Test Event", nil
}

type fakeInventory struct {
	mu       sync.Mutex
	reserves int
	releases int

	reserveErr error
}

func (f *fakeInventory) Reserve(_ context.Context, eventID string, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reserveErr != nil {
		return f.reserveErr
	}
	f.reserves++
	return nil
}

func (f *fakeInventory) Release(_ context.Context, eventID string, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	return nil
}

type fakeNotifier struct {
	mu         sync.Mutex
	deliveries int
	err        error
}

func (f *fakeNotifier) Deliver(_ context.Context, _ *models.Ticket, _ string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries++
	return f.err
}

type fakeArtifacts struct {
	err error
}

func (f *fakeArtifacts) Save(ticketNumber string, _ []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "/qr/" + ticketNumber + ".png", nil
}

func testConfirmation() *models.PaymentConfirmation {
	return &models.PaymentConfirmation{
		TransactionID: "txn-1001",
		SessionID:     "sess-2002",
		PayerEmail:    "buyer@example.com",
		Amount:        decimal.NewFromInt(150),
		Metadata: map[string]string{
			"user_id":       "42",
			"event_id":      "7",
			"offer_type_id": "3",
			"quantity":      "2",
		},
	}
}

func newTestWorkflow(store *memStore, inv *fakeInventory, artifacts *fakeArtifacts, notifier *fakeNotifier) *Workflow {
	return NewWorkflow(
		store,
		inv,
		keys.New([]byte("0123456789abcdef0123456789abcdef")),
		proof.NewEncoder(256),
		artifacts,
		notifier,
		monitoring.NewMonitor(nil),
	)
}

func TestIssueHappyPath(t *testing.T) {
	store := newMemStore()
	inv := &fakeInventory{}
	notifier := &fakeNotifier{}
	w := newTestWorkflow(store, inv, &fakeArtifacts{}, notifier)

	ticket, err := w.Issue(context.Background(), testConfirmation())
	require.NoError(t, err)
	require.NotNil(t, ticket)

	assert.True(t, strings.HasPrefix(ticket.TicketNumber, "TKT-"), "ticket number %q", ticket.TicketNumber)
	assert.Equal(t, "txn-1001", ticket.PrimaryKey)
	assert.Equal(t, ticket.PrimaryKey+":"+ticket.SecondaryKey, ticket.HashedKey)
	assert.Len(t, ticket.SecondaryKey, 32)
	assert.True(t, keys.New([]byte("0123456789abcdef0123456789abcdef")).Verify(ticket.HashedKey, ticket.Signature))
	assert.Equal(t, "/qr/"+ticket.TicketNumber+".png", ticket.QRCodeURL)
	assert.True(t, ticket.Validated)
	assert.False(t, ticket.Used)

	assert.Equal(t, 1, inv.reserves)
	assert.Equal(t, 0, inv.releases)
	assert.Equal(t, 1, notifier.deliveries)
}

func TestIssueFallsBackToSessionID(t *testing.T) {
	store := newMemStore()
	w := newTestWorkflow(store, &fakeInventory{}, &fakeArtifacts{}, &fakeNotifier{})

	conf := testConfirmation()
	conf.TransactionID = ""

	ticket, err := w.Issue(context.Background(), conf)
	require.NoError(t, err)
	assert.Equal(t, "sess-2002", ticket.PrimaryKey)
}

func TestIssueRedeliveryReturnsExistingTicket(t *testing.T) {
	store := newMemStore()
	inv := &fakeInventory{}
	notifier := &fakeNotifier{}
	w := newTestWorkflow(store, inv, &fakeArtifacts{}, notifier)

	first, err := w.Issue(context.Background(), testConfirmation())
	require.NoError(t, err)

	second, err := w.Issue(context.Background(), testConfirmation())
	require.NoError(t, err)

	assert.Equal(t, first.TicketNumber, second.TicketNumber)
	assert.Equal(t, 1, inv.reserves, "redelivery must not reserve again")
	assert.Equal(t, 1, notifier.deliveries, "redelivery must not renotify")
}

func TestIssueMissingIdentity(t *testing.T) {
	w := newTestWorkflow(newMemStore(), &fakeInventory{}, &fakeArtifacts{}, &fakeNotifier{})

	conf := testConfirmation()
	conf.TransactionID = ""
	conf.SessionID = ""

	_, err := w.Issue(context.Background(), conf)
	assert.ErrorIs(t, err, status.ErrInvalidMetadata)
}

func TestIssueInvalidMetadata(t *testing.T) {
	cases := map[string]map[string]string{
		"missing user":  {"event_id": "7", "offer_type_id": "3", "quantity": "2"},
		"missing event": {"user_id": "42", "offer_type_id": "3", "quantity": "2"},
		"missing offer": {"user_id": "42", "event_id": "7", "quantity": "2"},
		"missing qty":   {"user_id": "42", "event_id": "7", "offer_type_id": "3"},
		"non-numeric":   {"user_id": "42", "event_id": "abc", "offer_type_id": "3", "quantity": "2"},
		"zero quantity": {"user_id": "42", "event_id": "7", "offer_type_id": "3", "quantity": "0"},
		"empty value":   {"user_id": "", "event_id": "7", "offer_type_id": "3", "quantity": "2"},
	}

	for name, metadata := range cases {
		t.Run(name, func(t *testing.T) {
			inv := &fakeInventory{}
			w := newTestWorkflow(newMemStore(), inv, &fakeArtifacts{}, &fakeNotifier{})

			conf := testConfirmation()
			conf.Metadata = metadata

			_, err := w.Issue(context.Background(), conf)
			assert.ErrorIs(t, err, status.ErrInvalidMetadata)
			assert.Equal(t, 0, inv.reserves, "bad metadata must never reach the inventory")
		})
	}
}

func TestIssueOutOfStock(t *testing.T) {
	inv := &fakeInventory{reserveErr: status.ErrOutOfStock}
	store := newMemStore()
	w := newTestWorkflow(store, inv, &fakeArtifacts{}, &fakeNotifier{})

	_, err := w.Issue(context.Background(), testConfirmation())
	assert.ErrorIs(t, err, status.ErrOutOfStock)
	assert.Empty(t, store.tickets, "no ticket may exist without stock")
}

func TestIssueRenderFailureReleasesReservation(t *testing.T) {
	inv := &fakeInventory{}
	store := newMemStore()
	notifier := &fakeNotifier{}
	artifacts := &fakeArtifacts{err: errors.New("disk full")}
	w := newTestWorkflow(store, inv, artifacts, notifier)

	_, err := w.Issue(context.Background(), testConfirmation())
	require.Error(t, err)

	assert.Equal(t, 1, inv.reserves)
	assert.Equal(t, 1, inv.releases, "failed issuance must hand the reservation back")
	assert.Empty(t, store.tickets)
	assert.Equal(t, 0, notifier.deliveries)
}

func TestIssuePersistFailureReleasesReservation(t *testing.T) {
	inv := &fakeInventory{}
	store := newMemStore()
	store.createErr = errors.New("database is locked")
	w := newTestWorkflow(store, inv, &fakeArtifacts{}, &fakeNotifier{})

	_, err := w.Issue(context.Background(), testConfirmation())
	require.Error(t, err)
	assert.Equal(t, inv.reserves, inv.releases)
}

func TestIssueNotificationFailureDoesNotFailIssuance(t *testing.T) {
	store := newMemStore()
	notifier := &fakeNotifier{err: errors.New("smtp down")}
	w := newTestWorkflow(store, &fakeInventory{}, &fakeArtifacts{}, notifier)

	ticket, err := w.Issue(context.Background(), testConfirmation())
	require.NoError(t, err)
	assert.NotNil(t, ticket)
	assert.Len(t, store.tickets, 1)
}

func TestIssueConcurrentDeliveriesProduceOneTicket(t *testing.T) {
	store := newMemStore()
	inv := &fakeInventory{}
	w := newTestWorkflow(store, inv, &fakeArtifacts{}, &fakeNotifier{})

	const deliveries = 8
	results := make([]*models.Ticket, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ticket, err := w.Issue(context.Background(), testConfirmation())
			assert.NoError(t, err)
			results[i] = ticket
		}(i)
	}
	wg.Wait()

	assert.Len(t, store.tickets, 1)
	for _, ticket := range results {
		require.NotNil(t, ticket)
		assert.Equal(t, results[0].TicketNumber, ticket.TicketNumber)
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()
	assert.Equal(t, inv.reserves-1, inv.releases, "every lost race must release its reservation")
}
