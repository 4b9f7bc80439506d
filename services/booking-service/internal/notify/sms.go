package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// SMSNotifier posts messages to an SMS provider webhook. Outbound requests
// are paced so a burst of bookings cannot exceed the provider's rate.
type SMSNotifier struct {
	url     string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

func NewSMSNotifier(url, token string, perSecond float64) *SMSNotifier {
	if perSecond <= 0 {
		perSecond = 5
	}
	return &SMSNotifier{
		url:     strings.TrimSpace(url),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 5 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

func (s *SMSNotifier) Notify(ctx context.Context, to Contact, msg Message) (DeliveryResult, error) {
	if to.Phone == "" {
		return DeliveryResult{}, ErrNoRecipient
	}
	fail := func(err error) (DeliveryResult, error) {
		return DeliveryResult{}, &DeliveryError{Channel: "sms", Recipient: to.Phone, Err: err}
	}
	if s.url == "" {
		return fail(fmt.Errorf("sms webhook url not configured"))
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fail(err)
	}

	raw, err := json.Marshal(map[string]string{
		"to":             to.Phone,
		"body":           msg.Body,
		"tenant_id":      msg.TenantID,
		"appointment_id": msg.AppointmentID,
	})
	if err != nil {
		return fail(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(fmt.Errorf("sms webhook returned %d", resp.StatusCode))
	}
	return DeliveryResult{Channel: "sms", ProviderID: "sms-webhook"}, nil
}
