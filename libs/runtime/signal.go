package runtime

import (
	"context"
	"os/signal"
	"syscall"
	"time"
)

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// ShutdownContext returns a deadline for draining after ctx is done. It is
// detached from ctx so that the drain is not cut short by the signal itself.
func ShutdownContext(ctx context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	if grace <= 0 {
		grace = 10 * time.Second
	}
	return context.WithTimeout(context.WithoutCancel(ctx), grace)
}
