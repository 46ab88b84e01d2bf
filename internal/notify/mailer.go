package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/mail"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/mailer"

	"ticket-engine/models"
	"ticket-engine/utils"
)

// Mailer delivers issued tickets to buyers through the app's configured
// mail client. Sends run behind a circuit breaker so a dead relay degrades
// to logged failures instead of piling up timeouts inside the webhook path.
type Mailer struct {
	app     core.App
	breaker *utils.CircuitBreaker
}

func NewMailer(app core.App) *Mailer {
	return &Mailer{
		app:     app,
		breaker: utils.NewCircuitBreaker("ticket-mail"),
	}
}

// Deliver emails the ticket with its QR image attached.
func (m *Mailer) Deliver(ctx context.Context, ticket *models.Ticket, email string, qrPNG []byte) error {
	if email == "" {
		return fmt.Errorf("deliver %s: no destination address", ticket.TicketNumber)
	}

	return m.breaker.Execute(ctx, func() error {
		message := &mailer.Message{
			From: mail.Address{
				Name:    m.app.Settings().Meta.SenderName,
				Address: m.app.Settings().Meta.SenderAddress,
			},
			To:      []mail.Address{{Address: email}},
			Subject: fmt.Sprintf("Your ticket %s", ticket.TicketNumber),
			HTML: fmt.Sprintf(
				`<p>Thank you for your purchase.</p>
<p>Ticket <strong>%s</strong> covers %d admission(s). Present the attached QR code at the gate.</p>
<p>If the code cannot be scanned, gate staff can enter it manually:</p>
<ul>
<li>Reference: <code>%s</code></li>
<li>Access code: <code>%s</code></li>
<li>Signature: <code>%s</code></li>
</ul>`,
				ticket.TicketNumber, ticket.Quantity,
				ticket.PrimaryKey, ticket.SecondaryKey, ticket.Signature,
			),
			Attachments: map[string]io.Reader{
				"ticket-qr.png": bytes.NewReader(qrPNG),
			},
		}

		return m.app.NewMailClient().Send(message)
	})
}
