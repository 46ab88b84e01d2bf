package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	pubnub "github.com/pubnub/go/v7"
	"github.com/shopspring/decimal"

	"ticket-engine/models"
)

// ListenerConfig carries the gateway's notification-channel credentials.
type ListenerConfig struct {
	SubscribeKey string `json:"subscribeKey" mapstructure:"subscribe_key"`
	SecretKey    string `json:"secretKey" mapstructure:"secret_key"`
	CipherKey    string `json:"cipherKey" mapstructure:"cipher_key"`
	UUID         string `json:"uuid" mapstructure:"uuid"`
	Channel      string `json:"channel" mapstructure:"channel"`
}

// Listener subscribes to the payment gateway's notification channel and
// turns its messages into PaymentConfirmations. The webhook endpoint and
// this channel are redundant delivery paths for the same events; the
// issuance idempotency gate absorbs the overlap.
type Listener struct {
	pn       *pubnub.PubNub
	listener *pubnub.Listener
	channels []string
	ch       chan *models.PaymentConfirmation
}

func NewListener(cfg *ListenerConfig) *Listener {
	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.UUID))
	pnCfg.SubscribeKey = cfg.SubscribeKey
	pnCfg.SecretKey = cfg.SecretKey
	pnCfg.CipherKey = cfg.CipherKey

	return &Listener{
		pn:       pubnub.NewPubNub(pnCfg),
		listener: pubnub.NewListener(),
		channels: []string{cfg.Channel},
		ch:       make(chan *models.PaymentConfirmation, 16),
	}
}

// Confirmations is drained by the composition root into the issuance
// workflow.
func (l *Listener) Confirmations() <-chan *models.PaymentConfirmation {
	return l.ch
}

// Run subscribes and pumps messages until the context is cancelled.
func (l *Listener) Run(ctx context.Context) {
	l.pn.AddListener(l.listener)
	l.pn.Subscribe().Channels(l.channels).Execute()

	for {
		select {
		case st := <-l.listener.Status:
			switch st.Category {
			case pubnub.PNConnectedCategory:
				log.Println("connected to gateway notification channel")

			case pubnub.PNReconnectedCategory:
				log.Println("reconnected to gateway notification channel")

			case pubnub.PNDisconnectedCategory:
				log.Println("disconnected from gateway notification channel")

			case pubnub.PNAccessDeniedCategory:
				log.Println("access denied on gateway notification channel")

			case pubnub.PNReconnectionAttemptsExhausted:
				log.Println("gateway notification reconnection attempts exhausted")

			default:
				log.Printf("gateway notification channel status: %v", st.Category)
			}

		case message := <-l.listener.Message:
			conf, err := decodeConfirmation(message.Message)
			if err != nil {
				log.Printf("gateway notification decode failed: %v", err)
				continue
			}
			l.ch <- conf

		case <-ctx.Done():
			l.pn.Unsubscribe().Channels(l.channels).Execute()
			log.Println("gateway notification subscription closed")
			return
		}
	}
}

// notificationPayload is the gateway's wire shape on the channel.
type notificationPayload struct {
	TransactionID string            `json:"transaction_id"`
	SessionID     string            `json:"session_id"`
	PayerEmail    string            `json:"payer_email"`
	Amount        decimal.Decimal   `json:"amount"`
	Metadata      map[string]string `json:"metadata"`
}

func decodeConfirmation(raw any) (*models.PaymentConfirmation, error) {
	var p notificationPayload

	switch msg := raw.(type) {
	case string:
		dec := json.NewDecoder(strings.NewReader(msg))
		if err := dec.Decode(&p); err != nil {
			return nil, err
		}
	default:
		// The SDK hands structured messages over as decoded maps.
		data, err := json.Marshal(msg)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
	}

	if p.TransactionID == "" && p.SessionID == "" {
		return nil, fmt.Errorf("notification carries no transaction identity")
	}

	return &models.PaymentConfirmation{
		TransactionID: p.TransactionID,
		SessionID:     p.SessionID,
		PayerEmail:    p.PayerEmail,
		Amount:        p.Amount,
		Metadata:      p.Metadata,
	}, nil
}
