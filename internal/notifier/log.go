package notifier

import (
	"context"
	"log"
	"strings"

	"github.com/cinderlog/cinder/internal/models"
)

// LogNotifier writes alerts to the process log. It is the default
// channel when no webhook is configured.
type LogNotifier struct{}

// NewLogNotifier creates a log notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// Name returns "log".
func (l *LogNotifier) Name() string {
	return "log"
}

// Send writes one line per alert.
func (l *LogNotifier) Send(_ context.Context, alert *models.Alert) error {
	log.Printf("ALERT [%s] %s: %s",
		strings.ToUpper(string(alert.Severity)), alert.Title, alert.Description)
	return nil
}

// Close is a no-op for the log notifier.
func (l *LogNotifier) Close() error {
	return nil
}
