package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-engine/internal/keys"
	"ticket-engine/internal/proof"
	"ticket-engine/internal/status"
	"ticket-engine/monitoring"
)

func TestSweepReclaimsExpiredTickets(t *testing.T) {
	engine := keys.New(testSecret)
	store := &stubStore{}
	inv := &releaseRecorder{}

	stale := issuedTicket(engine, "SWP00001", "txn-s1")
	stale.PurchaseDate = time.Now().UTC().Add(-48 * time.Hour)
	fresh := issuedTicket(engine, "SWP00002", "txn-s2")
	store.Create(context.Background(), stale)
	store.Create(context.Background(), fresh)

	sweeper := NewSweeper(store, inv, 24*time.Hour, time.Hour)
	sweeper.Sweep(context.Background())

	assert.Nil(t, store.get("SWP00001"), "expired ticket must be deleted")
	assert.NotNil(t, store.get("SWP00002"), "ticket inside the retention window must survive")
	assert.Equal(t, 2, inv.releases["7"], "reclaimed quantity flows back to the event")
}

func TestSweepSkipsUsedTickets(t *testing.T) {
	engine := keys.New(testSecret)
	store := &stubStore{}
	inv := &releaseRecorder{}

	admitted := issuedTicket(engine, "SWP00003", "txn-s3")
	admitted.PurchaseDate = time.Now().UTC().Add(-48 * time.Hour)
	store.Create(context.Background(), admitted)

	ok, err := store.MarkUsed(context.Background(), admitted.HashedKey, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, ok)

	sweeper := NewSweeper(store, inv, 24*time.Hour, time.Hour)
	sweeper.Sweep(context.Background())

	assert.NotNil(t, store.get("SWP00003"), "admitted tickets are never reclaimed")
	assert.Empty(t, inv.releases)
}

func TestSweepLosesRaceToGateScan(t *testing.T) {
	engine := keys.New(testSecret)
	store := &stubStore{}
	inv := &releaseRecorder{}
	machine := NewMachine(store, inv, engine, proof.NewEncoder(256), monitoring.NewMonitor(nil))

	stale := issuedTicket(engine, "SWP00004", "txn-s4")
	stale.PurchaseDate = time.Now().UTC().Add(-48 * time.Hour)
	store.Create(context.Background(), stale)

	// The gate scan lands between the sweep query and the claim.
	_, err := machine.Validate(context.Background(), stale.HashedKey, stale.Signature)
	require.NoError(t, err)

	sweeper := NewSweeper(store, inv, 24*time.Hour, time.Hour)
	sweeper.Sweep(context.Background())

	assert.NotNil(t, store.get("SWP00004"), "a scanned ticket must not be deleted by the sweep")
	assert.Empty(t, inv.releases)
}

func TestSweepRetriesAfterReleaseFailure(t *testing.T) {
	engine := keys.New(testSecret)
	store := &stubStore{}
	inv := &releaseRecorder{}

	stale := issuedTicket(engine, "SWP00006", "txn-s6")
	stale.PurchaseDate = time.Now().UTC().Add(-48 * time.Hour)
	store.Create(context.Background(), stale)

	sweeper := NewSweeper(store, inv, 24*time.Hour, time.Hour)

	inv.fail(errors.New("redis down"))
	sweeper.Sweep(context.Background())

	// The claim is handed back so the next pass can retry; nothing is
	// deleted while the stock is still unreleased.
	require.NotNil(t, store.get("SWP00006"))
	assert.False(t, store.get("SWP00006").Used)

	inv.fail(nil)
	sweeper.Sweep(context.Background())

	assert.Nil(t, store.get("SWP00006"))
	assert.Equal(t, 2, inv.releases["7"])
}

func TestSweepIdempotent(t *testing.T) {
	engine := keys.New(testSecret)
	store := &stubStore{}
	inv := &releaseRecorder{}

	stale := issuedTicket(engine, "SWP00005", "txn-s5")
	stale.PurchaseDate = time.Now().UTC().Add(-48 * time.Hour)
	store.Create(context.Background(), stale)

	sweeper := NewSweeper(store, inv, 24*time.Hour, time.Hour)
	sweeper.Sweep(context.Background())
	sweeper.Sweep(context.Background())

	assert.Equal(t, 2, inv.releases["7"], "a second pass must find nothing to reclaim")
	assert.ErrorIs(t, errNotFound(store, "SWP00005"), status.ErrTicketNotFound)
}

func errNotFound(store *stubStore, id string) error {
	_, err := store.FindByID(context.Background(), id)
	return err
}
