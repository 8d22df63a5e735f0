package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"streamhost/internal/logging"
	"streamhost/internal/stream"
)

// DeliveryTimeout bounds one asynchronous alert.
const DeliveryTimeout = 15 * time.Second

// Dispatcher forwards supervisor events to a Service in the background.
type Dispatcher struct {
	svc    Service
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewDispatcher returns a stream.Observer that alerts through svc.
func NewDispatcher(svc Service, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{svc: svc, logger: logging.NewComponentLogger(logger, "notifications")}
}

// OnEvent implements stream.Observer.
func (d *Dispatcher) OnEvent(ctx context.Context, event stream.Event) {
	if d == nil || d.svc == nil || !d.svc.Enabled() {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DeliveryTimeout)
		defer cancel()
		if err := d.svc.Notify(sendCtx, event); err != nil {
			logging.WarnWithContext(d.logger, "notification failed", "notification_failed",
				logging.String(logging.FieldSessionID, event.SessionID),
				logging.String("stream_event", string(event.Type)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "operator was not alerted"),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
			)
		}
	}()
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	if d != nil {
		d.wg.Wait()
	}
}
