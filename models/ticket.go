package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticket is the unit of admission. One confirmed payment yields exactly one
// ticket; the proof fields make it verifiable at the gate without trusting
// the scanner.
type Ticket struct {
	ID           string          `json:"id"`
	TicketNumber string          `json:"ticket_number"`
	EventID      string          `json:"event_id"`
	UserID       string          `json:"user_id"`
	OfferTypeID  string          `json:"offer_type_id"`
	Quantity     int             `json:"quantity"`
	Price        decimal.Decimal `json:"price"`

	// Proof material. PrimaryKey doubles as the issuance idempotency key,
	// SecondaryKey is disclosed only to the buyer, HashedKey is the indexed
	// lookup handle and Signature the HMAC tag over it.
	PrimaryKey   string `json:"primary_key"`
	SecondaryKey string `json:"-"`
	HashedKey    string `json:"-"`
	Signature    string `json:"-"`
	QRCodeURL    string `json:"qr_code_url"`

	Validated bool `json:"validated"`
	Used      bool `json:"used"`

	PurchaseDate time.Time  `json:"purchase_date"`
	UsedAt       *time.Time `json:"used_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ValidationResult is returned to the gate client on a successful admission.
type ValidationResult struct {
	TicketNumber string    `json:"ticket_number"`
	EventTitle   string    `json:"event_title"`
	Quantity     int       `json:"quantity"`
	UsedAt       time.Time `json:"used_at"`
}
