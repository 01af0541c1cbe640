// Package notifier delivers alert notifications to external channels.
package notifier

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/time/rate"

	"github.com/cinderlog/cinder/internal/metrics"
	"github.com/cinderlog/cinder/internal/models"
)

// Notifier is the interface for all notification channels.
type Notifier interface {
	// Name returns the channel name (e.g., "webhook", "log").
	Name() string
	// Send delivers one alert notification.
	Send(ctx context.Context, alert *models.Alert) error
	// Close releases any resources.
	Close() error
}

// DispatcherConfig holds dispatcher configuration.
type DispatcherConfig struct {
	// RatePerSecond is the sustained notification rate across all
	// channels (default: 1/s).
	RatePerSecond float64

	// Burst is the token bucket size (default: 10).
	Burst int

	// MinSeverity drops alerts below this severity (default: low,
	// which lets everything through).
	MinSeverity models.Severity
}

// Dispatcher fans alerts out to registered channels. Delivery is best
// effort: failures are logged and counted but never surface to alert
// evaluation, and a token bucket caps how fast notifications go out.
type Dispatcher struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier

	limiter     *rate.Limiter
	minSeverity models.Severity
}

// NewDispatcher creates a dispatcher with the given limits.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = 1
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}
	if config.MinSeverity == "" {
		config.MinSeverity = models.SeverityLow
	}

	return &Dispatcher{
		notifiers:   make(map[string]Notifier),
		limiter:     rate.NewLimiter(rate.Limit(config.RatePerSecond), config.Burst),
		minSeverity: config.MinSeverity,
	}
}

// Register adds a notifier to the dispatcher.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers[n.Name()] = n
}

// Unregister removes a notifier from the dispatcher.
func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.notifiers, name)
}

// Get returns a notifier by name.
func (d *Dispatcher) Get(name string) (Notifier, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.notifiers[name]
	return n, ok
}

// Len returns the number of registered notifiers.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.notifiers)
}

// Notify sends the alert to every registered channel. It satisfies the
// evaluator's notification hook and never blocks alerting: alerts below
// the severity floor are skipped, rate-limited alerts are dropped and
// counted, and per-channel send failures only log.
func (d *Dispatcher) Notify(ctx context.Context, alert *models.Alert) {
	if alert == nil {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(d.notifiers) == 0 {
		return
	}
	if !alert.Severity.AtLeast(d.minSeverity) {
		return
	}

	if d.limiter != nil && !d.limiter.Allow() {
		for name := range d.notifiers {
			metrics.NotificationsTotal.WithLabelValues(name, "dropped").Inc()
		}
		log.Printf("notification for alert %s dropped by rate limit", alert.RuleKey)
		return
	}

	for name, n := range d.notifiers {
		if err := n.Send(ctx, alert); err != nil {
			metrics.NotificationsTotal.WithLabelValues(name, "error").Inc()
			log.Printf("notifier %s: %v", name, err)
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(name, "ok").Inc()
	}
}

// Close closes all registered notifiers.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for name, n := range d.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	d.notifiers = make(map[string]Notifier)

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
