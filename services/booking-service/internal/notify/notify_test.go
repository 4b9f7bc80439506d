package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/bookwell/libs/kafkax"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/throttle"
	"github.com/segmentio/kafka-go"
)

func sampleEvent(kind model.EventKind) model.AppointmentEvent {
	appt := model.Appointment{
		ID:              "a-1",
		TenantID:        "t1",
		ResourceID:      "staff-1",
		Customer:        model.Customer{Name: "Ada", Phone: "+15550100", Email: "ada@example.com"},
		Date:            civil.Date{Year: 2026, Month: time.February, Day: 3},
		StartMinute:     600,
		DurationMinutes: 30,
		Status:          model.StatusScheduled,
	}
	ev := model.AppointmentEvent{Kind: kind, Appointment: appt}
	if kind == model.EventRescheduled {
		prev := appt
		prev.StartMinute = 540
		ev.Previous = &prev
	}
	return ev
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRender(t *testing.T) {
	contact, msg, err := Render(sampleEvent(model.EventRescheduled), time.Now())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if contact.Phone != "+15550100" || contact.TenantID != "t1" {
		t.Fatalf("unexpected contact: %+v", contact)
	}
	if msg.Subject != "Appointment rescheduled" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	want := "Hi Ada, your appointment on 2026-02-03 at 09:00 moved to 2026-02-03 at 10:00."
	if msg.Body != want {
		t.Fatalf("unexpected body:\n got %q\nwant %q", msg.Body, want)
	}
	if msg.Data["end"] != "10:30" {
		t.Fatalf("expected end in data, got %v", msg.Data)
	}
	if _, _, err := Render(model.AppointmentEvent{Kind: "unknown"}, time.Now()); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestSMSNotifier(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	contact, msg, _ := Render(sampleEvent(model.EventBooked), time.Now())
	s := NewSMSNotifier(srv.URL, "secret", 100)
	res, err := s.Notify(context.Background(), contact, msg)
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if res.Channel != "sms" || got["to"] != "+15550100" || !strings.Contains(got["body"], "confirmed") {
		t.Fatalf("unexpected delivery %+v payload %v", res, got)
	}

	bad := NewSMSNotifier(srv.URL, "wrong", 100)
	_, err = bad.Notify(context.Background(), contact, msg)
	var derr *DeliveryError
	if !errors.As(err, &derr) || derr.Channel != "sms" {
		t.Fatalf("expected sms delivery error, got %v", err)
	}

	if _, err := s.Notify(context.Background(), Contact{}, msg); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected no recipient, got %v", err)
	}
}

func TestEmailNotifier(t *testing.T) {
	e := NewEmailNotifier("localhost", "1025", "")
	var sentTo []string
	var sent string
	e.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		if addr != "localhost:1025" || from != "no-reply@bookwell.local" {
			t.Fatalf("unexpected addr/from %s %s", addr, from)
		}
		sentTo = to
		sent = string(msg)
		return nil
	}
	contact, msg, _ := Render(sampleEvent(model.EventCancelled), time.Now())
	if _, err := e.Notify(context.Background(), contact, msg); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(sentTo) != 1 || sentTo[0] != "ada@example.com" || !strings.Contains(sent, "Subject: Appointment cancelled\r\n") {
		t.Fatalf("unexpected mail to %v:\n%s", sentTo, sent)
	}

	e.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("relay down") }
	var derr *DeliveryError
	if _, err := e.Notify(context.Background(), contact, msg); !errors.As(err, &derr) || derr.Recipient != "ada@example.com" {
		t.Fatalf("expected email delivery error, got %v", err)
	}
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{topic: "events", writer: w}
	contact, msg, _ := Render(sampleEvent(model.EventBooked), time.Now())
	res, err := p.Notify(context.Background(), contact, msg)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	m := w.msgs[0]
	if string(m.Key) != "a-1" {
		t.Fatalf("expected appointment id key, got %q", m.Key)
	}
	if kafkax.HeaderValue(m.Headers, kafkax.HeaderEventType) != "booking.appointment.booked.v1" {
		t.Fatalf("unexpected headers %v", m.Headers)
	}
	if kafkax.HeaderValue(m.Headers, kafkax.HeaderEventID) != res.ProviderID {
		t.Fatal("expected event id header to match result")
	}
	var env eventEnvelope
	if err := json.Unmarshal(m.Value, &env); err != nil || env.Data["start"] != "10:00" || env.TenantID != "t1" {
		t.Fatalf("unexpected envelope %+v (%v)", env, err)
	}
}

type stubNotifier struct {
	mu    sync.Mutex
	calls int
	err   error
	block chan struct{}
}

func (s *stubNotifier) Notify(ctx context.Context, _ Contact, _ Message) (DeliveryResult, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return DeliveryResult{Channel: "stub"}, s.err
}

func (s *stubNotifier) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestMulti_SkipsMissingRecipientsAndJoinsErrors(t *testing.T) {
	failing := &stubNotifier{err: &DeliveryError{Channel: "stub", Err: errors.New("down")}}
	ok := &stubNotifier{}
	m := Multi{NewSMSNotifier("http://unused", "", 1), failing, ok}

	res, err := m.Notify(context.Background(), Contact{Email: "x@example.com"}, Message{})
	var derr *DeliveryError
	if !errors.As(err, &derr) {
		t.Fatalf("expected joined delivery error, got %v", err)
	}
	if ok.count() != 1 || res.Channel != "stub" {
		t.Fatalf("expected healthy channel to still deliver, got %+v", res)
	}
}

func TestWithThrottle(t *testing.T) {
	next := &stubNotifier{}
	n := WithThrottle(next, throttle.NewMemoryLimiter(1, time.Hour))
	to := Contact{TenantID: "t1", Phone: "+1555"}
	if _, err := n.Notify(context.Background(), to, Message{}); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := n.Notify(context.Background(), to, Message{}); !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected throttled, got %v", err)
	}
	if next.count() != 1 {
		t.Fatalf("throttled message must not reach sender, got %d", next.count())
	}
}

func TestDispatcher_DeliversAndDrains(t *testing.T) {
	stub := &stubNotifier{}
	d := NewDispatcher(stub, discardLogger(), DispatcherConfig{Workers: 2, QueueSize: 8})
	for i := 0; i < 5; i++ {
		d.Publish(context.Background(), sampleEvent(model.EventBooked))
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if stub.count() != 5 {
		t.Fatalf("expected 5 deliveries after drain, got %d", stub.count())
	}
	d.Publish(context.Background(), sampleEvent(model.EventBooked))
	if stub.count() != 5 {
		t.Fatal("publish after close must be dropped")
	}
}

func TestDispatcher_FailureIsContained(t *testing.T) {
	stub := &stubNotifier{err: errors.New("provider exploded")}
	d := NewDispatcher(stub, discardLogger(), DispatcherConfig{Workers: 1})
	d.Publish(context.Background(), sampleEvent(model.EventCancelled))
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if stub.count() != 1 {
		t.Fatalf("expected one attempt, got %d", stub.count())
	}
}

func TestDispatcher_PublishNeverBlocks(t *testing.T) {
	stub := &stubNotifier{block: make(chan struct{})}
	d := NewDispatcher(stub, discardLogger(), DispatcherConfig{Workers: 1, QueueSize: 1})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Publish(context.Background(), sampleEvent(model.EventBooked))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full queue")
	}
	close(stub.block)
	_ = d.Close(context.Background())
	if got := stub.count(); got < 1 || got > 2 {
		t.Fatalf("expected overflow to be dropped, got %d deliveries", got)
	}
}

func TestDispatcher_ThrottleDoesNotHideFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	failing := &stubNotifier{err: &DeliveryError{Channel: "kafka", Recipient: "booking.appointment.events.v1", Err: errors.New("broker down")}}
	throttledSender := &stubNotifier{err: ErrThrottled}
	d := NewDispatcher(Multi{throttledSender, failing}, logger, DispatcherConfig{Workers: 1})
	d.Publish(context.Background(), sampleEvent(model.EventBooked))
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"msg":"notification throttled"`) {
		t.Fatalf("expected throttle line, got %s", out)
	}
	if !strings.Contains(out, `"level":"ERROR","msg":"notification delivery failed"`) || !strings.Contains(out, "broker down") {
		t.Fatalf("expected kafka failure at error level, got %s", out)
	}
}

func TestDeliveryFailures(t *testing.T) {
	if got := deliveryFailures(errors.Join(ErrThrottled, ErrNoRecipient)); got != nil {
		t.Fatalf("expected no failures, got %v", got)
	}
	var derr *DeliveryError
	if got := deliveryFailures(errors.New("boom")); !errors.As(got, &derr) || derr.Channel != "unknown" {
		t.Fatalf("expected wrapped unknown failure, got %v", got)
	}
}
