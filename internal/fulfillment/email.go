package fulfillment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
)

var ErrNoRecipient = errors.New("booking has no contact email")

// Message is a rendered email ready for a Mailer.
type Message struct {
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
}

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Mailer sends one message.
type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// Subject returns "Your Ticket: <title>", suffixed for resends.
func Subject(t Ticket) string {
	s := "Your Ticket: " + orDefault(t.Event.Title, "Event")
	if t.Resend {
		s += " (Resent)"
	}
	return s
}

var ticketEmail = template.Must(template.New("ticket").Funcs(template.FuncMap{
	"upper":    strings.ToUpper,
	"amount":   FormatAmount,
	"date":     dateLabel,
	"time":     timeLabel,
	"fallback": orDefault,
}).Parse(`<div style="font-family: system-ui, -apple-system, Segoe UI, Roboto, Helvetica, Arial, sans-serif; color:#111; line-height:1.6">
  <h2 style="margin:0 0 12px; color:#0b7253;">Your Ticket is Confirmed</h2>
  <p>Hi {{fallback .Booking.Contact.Name "there"}},</p>
  <p>Thanks for your purchase! Your ticket is attached as a PDF. Show it (or the QR code within it) at the entrance.</p>
  <div style="border:1px solid #eee; padding:12px 16px; border-radius:6px; background:#fafafa; margin:16px 0;">
    <h3 style="margin:0 0 8px;">{{fallback .Event.Title "Event"}}</h3>
    <p style="margin:0;"><strong>Date:</strong> {{date .Event.StartsAt}}</p>
    <p style="margin:0;"><strong>Time:</strong> {{time .Event.StartsAt}}</p>
    <p style="margin:0;"><strong>Venue:</strong> {{fallback .Event.Venue "TBA"}}</p>
  </div>
  <div style="margin-top:12px;">
    <p style="margin:0;"><strong>Ticket Type:</strong> {{upper (print .Booking.TicketClass)}}</p>
    <p style="margin:0;"><strong>Quantity:</strong> {{.Booking.Quantity}}</p>
    <p style="margin:0;"><strong>Amount Paid:</strong> {{amount .Booking.Amount}}</p>
    <p style="margin:0;"><strong>Booking ID:</strong> {{.Booking.ID}}</p>
    <p style="margin:0;"><strong>Ticket ID:</strong> {{.Booking.TicketID}}</p>
  </div>
  <p style="margin-top:16px; color:#666;">If you have any questions, just reply to this email.</p>
</div>
`))

// RenderEmailHTML renders the confirmation body. Contact fields are
// escaped.
func RenderEmailHTML(t Ticket) (string, error) {
	var buf bytes.Buffer
	if err := ticketEmail.Execute(&buf, &t); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// EmailSink renders the PDF ticket and mails it to the booking contact.
type EmailSink struct {
	renderer *Renderer
	mailer   Mailer
}

func NewEmailSink(renderer *Renderer, mailer Mailer) *EmailSink {
	return &EmailSink{renderer: renderer, mailer: mailer}
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Deliver(ctx context.Context, t Ticket) error {
	const op = "fulfillment.EmailSink.Deliver"

	to := strings.TrimSpace(t.Booking.Contact.Email)
	if to == "" {
		return fmt.Errorf("%s:%w", op, ErrNoRecipient)
	}

	pdf, err := s.renderer.RenderPDF(t)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	html, err := RenderEmailHTML(t)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	err = s.mailer.Send(ctx, Message{
		To:      to,
		Subject: Subject(t),
		HTML:    html,
		Attachments: []Attachment{{
			Filename:    t.Filename(),
			ContentType: "application/pdf",
			Data:        pdf,
		}},
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}
