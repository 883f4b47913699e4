package notification

import (
	"context"

	"go.uber.org/zap"
)

// LogTransport writes deliveries to the structured log. Used in development
// and when no broker is configured.
type LogTransport struct {
	log *zap.SugaredLogger
}

// NewLogTransport creates a log transport
func NewLogTransport(log *zap.SugaredLogger) *LogTransport {
	return &LogTransport{log: log}
}

func (t *LogTransport) Send(ctx context.Context, msg Message) error {
	t.log.Infow("delivery",
		"notification_id", msg.NotificationID,
		"channel", msg.Channel,
		"recipients", msg.Recipients,
		"cc", msg.CC,
		"template", msg.TemplateCode,
		"level", msg.Level,
	)
	return nil
}

func (t *LogTransport) Close() error {
	return nil
}
