package handlers

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"

	"ticket-engine/internal/issuance"
	"ticket-engine/internal/keys"
	"ticket-engine/internal/status"
	"ticket-engine/models"
)

type WebhookHandler struct {
	workflow *issuance.Workflow
	hmacKey  []byte
}

func NewWebhookHandler(workflow *issuance.Workflow, hmacKey []byte) *WebhookHandler {
	return &WebhookHandler{
		workflow: workflow,
		hmacKey:  hmacKey,
	}
}

type webhookReq struct {
	TransactionID string            `json:"transaction_id"`
	SessionID     string            `json:"session_id"`
	PayerEmail    string            `json:"payer_email"`
	Amount        decimal.Decimal   `json:"amount"`
	Metadata      map[string]string `json:"metadata"`
}

// ConfirmPayment - payment gateway webhook. The body signature is checked
// before anything is decoded; redelivered confirmations return the ticket
// issued the first time.
func (h *WebhookHandler) ConfirmPayment(e *core.RequestEvent) error {
	r := e.Request

	var b bytes.Buffer
	if _, err := b.ReadFrom(r.Body); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	r.Body = io.NopCloser(&b)

	if !keys.VerifySignedBody(b.Bytes(), h.hmacKey, r.Header.Get("X-Signed-Hash")) {
		slog.Error("webhook rejected: bad body signature", "remote", e.RealIP())
		return apis.NewUnauthorizedError("Invalid signature", nil)
	}

	var req webhookReq
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	conf := &models.PaymentConfirmation{
		TransactionID: req.TransactionID,
		SessionID:     req.SessionID,
		PayerEmail:    req.PayerEmail,
		Amount:        req.Amount,
		Metadata:      req.Metadata,
	}

	ticket, err := h.workflow.Issue(r.Context(), conf)
	switch {
	case err == nil:
		return e.JSON(http.StatusOK, map[string]any{
			"status": "success",
			"ticket": ticket,
		})

	case errors.Is(err, status.ErrInvalidMetadata):
		return e.JSON(http.StatusUnprocessableEntity, map[string]any{
			"status": "error",
			"error":  err.Error(),
		})

	case errors.Is(err, status.ErrOutOfStock):
		return e.JSON(http.StatusConflict, map[string]any{
			"status": "error",
			"error":  "event is sold out",
		})

	default:
		slog.Error("webhook issuance failed", "transaction_id", req.TransactionID, "error", err)
		return apis.NewInternalServerError("internal error", nil)
	}
}
