package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hostelhub/notifyrouter/internal/shared/metrics"
	"github.com/hostelhub/notifyrouter/internal/shared/types"
)

// Dispatcher is the outbound delivery collaborator. It fans a delivery out
// per channel, throttles calls into the transport and retries failed sends.
// Delivery outcome never feeds back into routing decisions.
type Dispatcher struct {
	transport Transport
	limiter   *rate.Limiter
	timeout   time.Duration
	retry     RetryConfig
	clock     types.Clock
	log       *zap.SugaredLogger
}

// DispatcherConfig holds dispatcher settings
type DispatcherConfig struct {
	// Timeout bounds a single transport call
	Timeout time.Duration
	Retry   RetryConfig
	// RatePerSecond limits transport calls (0 disables throttling)
	RatePerSecond float64
	RateBurst     int
}

// NewDispatcher creates a dispatcher over a transport
func NewDispatcher(transport Transport, cfg DispatcherConfig, clock types.Clock, log *zap.SugaredLogger) *Dispatcher {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &Dispatcher{
		transport: transport,
		limiter:   limiter,
		timeout:   cfg.Timeout,
		retry:     cfg.Retry,
		clock:     clock.OrSystem(),
		log:       log,
	}
}

// Deliver sends the delivery on every channel. Channels are attempted
// independently; the returned error joins every channel failure.
func (d *Dispatcher) Deliver(ctx context.Context, delivery Delivery) error {
	if len(delivery.Recipients) == 0 && len(delivery.CC) == 0 {
		d.log.Debugw("skipping delivery without recipients", "notification_id", delivery.NotificationID)
		return nil
	}

	var errs []error
	for _, channel := range delivery.Channels {
		msg := Message{
			NotificationID: delivery.NotificationID,
			Channel:        channel,
			Recipients:     delivery.Recipients,
			CC:             delivery.CC,
			TemplateCode:   delivery.TemplateCode,
			Level:          delivery.Level,
			Metadata:       delivery.Metadata,
			QueuedAt:       d.clock(),
		}

		err := withRetry(ctx, d.retry, d.log, func(ctx context.Context) error {
			if err := d.limiter.Wait(ctx); err != nil {
				return err
			}
			attemptCtx := ctx
			if d.timeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(ctx, d.timeout)
				defer cancel()
			}
			err := d.transport.Send(attemptCtx, msg)
			metrics.RecordDeliveryAttempt(channel, err == nil)
			return err
		})
		if err != nil {
			d.log.Warnw("delivery failed",
				"notification_id", delivery.NotificationID,
				"channel", channel,
				"level", delivery.Level,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("channel %s: %w", channel, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes the underlying transport
func (d *Dispatcher) Close() error {
	return d.transport.Close()
}
