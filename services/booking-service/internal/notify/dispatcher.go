package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	otelx "github.com/md-rashed-zaman/bookwell/libs/otel"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type DispatcherConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// Dispatcher delivers notifications on its own worker goroutines. Publish
// never blocks: when the queue is full the notification is dropped.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

type job struct {
	contact Contact
	msg     Message
	trace   otelx.TraceContext
}

func NewDispatcher(n Notifier, logger *slog.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		notifier: n,
		logger:   logger,
		timeout:  cfg.Timeout,
		now:      time.Now,
		queue:    make(chan job, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

func (d *Dispatcher) Publish(ctx context.Context, ev model.AppointmentEvent) {
	contact, msg, err := Render(ev, d.now())
	if err != nil {
		d.logger.Error("notification render failed", "err", err, "appointment_id", ev.Appointment.ID)
		return
	}
	j := job{contact: contact, msg: msg, trace: otelx.CaptureTraceContext(ctx)}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("notification dropped after shutdown", "appointment_id", msg.AppointmentID, "kind", msg.Kind)
		return
	}
	select {
	case d.queue <- j:
	default:
		d.logger.Warn("notification queue full, dropping", "appointment_id", msg.AppointmentID, "kind", msg.Kind)
	}
}

// Close stops accepting work and waits for queued deliveries to drain.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for j := range d.queue {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx := j.trace.Into(context.Background())
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	ctx, span := otel.Tracer("notify").Start(ctx, "notify.deliver", trace.WithAttributes(
		attribute.String("notify.kind", string(j.msg.Kind)),
		attribute.String("notify.appointment_id", j.msg.AppointmentID),
	))
	defer span.End()

	res, err := d.notifier.Notify(ctx, j.contact, j.msg)
	if err == nil {
		d.logger.Info("notification delivered", "appointment_id", j.msg.AppointmentID, "kind", j.msg.Kind, "channel", res.Channel)
		return
	}
	if errors.Is(err, ErrThrottled) {
		d.logger.Info("notification throttled", "tenant_id", j.msg.TenantID, "appointment_id", j.msg.AppointmentID)
	}
	if errors.Is(err, ErrNoRecipient) {
		d.logger.Info("notification skipped, no recipient", "appointment_id", j.msg.AppointmentID)
	}
	if failed := deliveryFailures(err); failed != nil {
		span.RecordError(failed)
		d.logger.Error("notification delivery failed", "err", failed, "appointment_id", j.msg.AppointmentID, "kind", j.msg.Kind)
	}
}

// deliveryFailures drops the throttled and no-recipient outcomes from a
// possibly joined error and returns what is left as DeliveryErrors.
func deliveryFailures(err error) error {
	var parts []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		parts = joined.Unwrap()
	} else {
		parts = []error{err}
	}
	var out []error
	for _, e := range parts {
		if e == nil || errors.Is(e, ErrThrottled) || errors.Is(e, ErrNoRecipient) {
			continue
		}
		var derr *DeliveryError
		if !errors.As(e, &derr) {
			e = &DeliveryError{Channel: "unknown", Err: e}
		}
		out = append(out, e)
	}
	return errors.Join(out...)
}
