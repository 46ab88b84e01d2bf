package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentConfirmation is the gateway's confirmed-payment event, delivered at
// least once over the webhook or the notification channel. Metadata carries
// the checkout fields (user_id, event_id, offer_type_id, quantity) as
// numeric strings.
type PaymentConfirmation struct {
	TransactionID string            `json:"transaction_id"`
	SessionID     string            `json:"session_id"`
	PayerEmail    string            `json:"payer_email"`
	Amount        decimal.Decimal   `json:"amount"`
	Metadata      map[string]string `json:"metadata"`
}

// GatewayTransaction is the gateway's own record of a captured payment, as
// returned by the transaction re-check API during reconciliation.
type GatewayTransaction struct {
	TransactionID string          `json:"transaction_id"`
	SessionID     string          `json:"session_id"`
	Payer         string          `json:"payer"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}
