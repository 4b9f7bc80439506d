package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// EmailNotifier sends plain-text mail over unauthenticated SMTP
// (Mailpit-compatible).
type EmailNotifier struct {
	addr string
	from string
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailNotifier(host, port, from string) *EmailNotifier {
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@bookwell.local"
	}
	return &EmailNotifier{
		addr: fmt.Sprintf("%s:%s", strings.TrimSpace(host), strings.TrimSpace(port)),
		from: from,
		send: smtp.SendMail,
	}
}

func (s *EmailNotifier) Notify(ctx context.Context, to Contact, msg Message) (DeliveryResult, error) {
	if to.Email == "" {
		return DeliveryResult{}, ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return DeliveryResult{}, &DeliveryError{Channel: "email", Recipient: to.Email, Err: err}
	}
	body := buildMessage(s.from, to.Email, msg.Subject, msg.Body)
	if err := s.send(s.addr, nil, s.from, []string{to.Email}, []byte(body)); err != nil {
		return DeliveryResult{}, &DeliveryError{Channel: "email", Recipient: to.Email, Err: err}
	}
	return DeliveryResult{Channel: "email", ProviderID: "smtp"}, nil
}

func buildMessage(from, to, subject, body string) string {
	return fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from, to, subject, body,
	)
}
