package validation

import (
	"context"
	"log/slog"
	"time"

	"ticket-engine/internal/store"
)

// sweepBatchSize caps how many tickets one sweep pass touches.
const sweepBatchSize = 100

// Sweeper periodically reclaims tickets left unused past the retention
// window: their quantity is released back to the event and the record is
// deleted. The same MarkUsed compare-and-swap that guards gate scans guards
// the sweep, so an in-flight validation of the same ticket cannot race it.
type Sweeper struct {
	store     store.TicketStore
	inventory Inventory
	retention time.Duration
	interval  time.Duration
}

func NewSweeper(ticketStore store.TicketStore, inventory Inventory, retention, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:     ticketStore,
		inventory: inventory,
		retention: retention,
		interval:  interval,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one reclamation pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.retention)

	expired, err := s.store.FindExpired(ctx, cutoff, sweepBatchSize)
	if err != nil {
		slog.Error("expiry sweep query failed", "error", err)
		return
	}

	swept := 0
	for _, ticket := range expired {
		// Claim the terminal state first; a ticket scanned at the gate
		// between the query and here is skipped.
		claimed, err := s.store.MarkUsed(ctx, ticket.HashedKey, time.Now().UTC())
		if err != nil {
			slog.Error("expiry sweep claim failed", "ticket_number", ticket.TicketNumber, "error", err)
			continue
		}
		if !claimed {
			continue
		}

		if err := s.inventory.Release(ctx, ticket.EventID, ticket.Quantity); err != nil {
			slog.Error("expiry sweep release failed",
				"ticket_number", ticket.TicketNumber, "event_id", ticket.EventID, "error", err)
			// Hand the claim back; a terminal ticket with stranded stock
			// would never be revisited.
			if _, rerr := s.store.Reopen(ctx, ticket.HashedKey); rerr != nil {
				slog.Error("expiry sweep reopen failed", "ticket_number", ticket.TicketNumber, "error", rerr)
			}
			continue
		}

		if err := s.store.Delete(ctx, ticket.ID); err != nil {
			slog.Error("expiry sweep delete failed", "ticket_number", ticket.TicketNumber, "error", err)
			continue
		}
		swept++
	}

	if swept > 0 {
		slog.Info("expired tickets reclaimed", "count", swept, "cutoff", cutoff)
	}
}
