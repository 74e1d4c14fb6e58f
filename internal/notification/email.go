package notification

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
)

// DefaultFromEmail is Resend's shared sender for unverified domains.
const DefaultFromEmail = "onboarding@resend.dev"

type emailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendRelay renders templates locally and delivers through Resend.
type ResendRelay struct {
	emails     emailSender
	fromEmail  string
	redirectTo string
}

// NewResendRelay creates a relay. A non-empty redirectTo sends every message
// to that address instead, for development.
func NewResendRelay(apiKey, fromEmail, redirectTo string) *ResendRelay {
	return newResendRelay(resend.NewClient(apiKey).Emails, fromEmail, redirectTo)
}

func newResendRelay(emails emailSender, fromEmail, redirectTo string) *ResendRelay {
	if fromEmail == "" {
		fromEmail = DefaultFromEmail
	}
	return &ResendRelay{emails: emails, fromEmail: fromEmail, redirectTo: redirectTo}
}

func (s *ResendRelay) Send(ctx context.Context, msg Message) (RelayResponse, error) {
	to := msg.Params["to_email"]
	if to == "" {
		return RelayResponse{}, ErrNoRecipient
	}

	html, err := RenderEmailTemplate(msg.Kind, msg.Params)
	if err != nil {
		return RelayResponse{}, err
	}
	text, err := RenderTemplate(msg.Kind, msg.Params)
	if err != nil {
		return RelayResponse{}, err
	}
	subject := GetEmailSubject(msg.Kind, msg.Params)

	recipient := to
	if s.redirectTo != "" {
		recipient = s.redirectTo
		subject = fmt.Sprintf("[DEV-REDIRECT] %s (Original: %s)", subject, to)
	}

	sent, err := s.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.fromEmail,
		To:      []string{recipient},
		Subject: subject,
		Html:    html,
		Text:    text,
		Tags:    []resend.Tag{{Name: "kind", Value: string(msg.Kind)}},
	})
	if err != nil {
		return RelayResponse{}, fmt.Errorf("failed to send email via Resend: %w", err)
	}

	return RelayResponse{ID: sent.Id, Status: 200, Text: "OK"}, nil
}
