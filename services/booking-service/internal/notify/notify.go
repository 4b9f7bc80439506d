// Package notify delivers appointment lifecycle notifications. Delivery is
// always asynchronous from the booking transaction and failures are logged,
// never returned to the caller that changed the appointment.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/throttle"
)

var (
	ErrNoRecipient = errors.New("no recipient for channel")
	ErrThrottled   = errors.New("recipient throttled")
)

type Contact struct {
	TenantID   string
	CustomerID string
	Name       string
	Phone      string
	Email      string
}

type Message struct {
	Kind          model.EventKind
	TenantID      string
	AppointmentID string
	Subject       string
	Body          string
	Data          map[string]string
	OccurredAt    time.Time
}

type DeliveryResult struct {
	Channel    string
	ProviderID string
}

type Notifier interface {
	Notify(ctx context.Context, to Contact, msg Message) (DeliveryResult, error)
}

// DeliveryError is a failed delivery on one channel.
type DeliveryError struct {
	Channel   string
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery to %s failed: %v", e.Channel, e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Noop accepts every message.
type Noop struct{}

func (Noop) Notify(context.Context, Contact, Message) (DeliveryResult, error) {
	return DeliveryResult{Channel: "noop", ProviderID: "noop"}, nil
}

// Multi fans a message out to every notifier. Channels without a recipient
// are skipped; remaining failures are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, to Contact, msg Message) (DeliveryResult, error) {
	var channels, providers []string
	var errs []error
	for _, n := range m {
		res, err := n.Notify(ctx, to, msg)
		if errors.Is(err, ErrNoRecipient) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		channels = append(channels, res.Channel)
		providers = append(providers, res.ProviderID)
	}
	res := DeliveryResult{Channel: strings.Join(channels, ","), ProviderID: strings.Join(providers, ",")}
	return res, errors.Join(errs...)
}

type throttled struct {
	next    Notifier
	limiter throttle.Limiter
	key     func(Contact) string
}

// WithThrottle limits next per recipient. Limiter errors fail open.
func WithThrottle(next Notifier, limiter throttle.Limiter) Notifier {
	return &throttled{next: next, limiter: limiter, key: recipientKey}
}

func (t *throttled) Notify(ctx context.Context, to Contact, msg Message) (DeliveryResult, error) {
	key := t.key(to)
	if key != "" {
		ok, err := t.limiter.Allow(ctx, key)
		if err == nil && !ok {
			return DeliveryResult{}, ErrThrottled
		}
	}
	return t.next.Notify(ctx, to, msg)
}

func recipientKey(c Contact) string {
	switch {
	case c.Phone != "":
		return c.TenantID + ":" + c.Phone
	case c.Email != "":
		return c.TenantID + ":" + strings.ToLower(c.Email)
	case c.CustomerID != "":
		return c.TenantID + ":" + c.CustomerID
	}
	return ""
}
