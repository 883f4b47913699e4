package notification

import (
	"context"
	"fmt"
	"html"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/hostelhub/notifyrouter/internal/shared/config"
)

// Triage queues notifications for manual operator routing
type Triage interface {
	Enqueue(ctx context.Context, item TriageItem) error
}

// mailDialer is the subset of gomail.Dialer used for sending
type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// MailTriage emails operators about notifications that could not be routed
type MailTriage struct {
	dialer        mailDialer
	senderAddress string
	senderName    string
	operators     []string
	retry         RetryConfig
	log           *zap.SugaredLogger
}

// NewMailTriage creates a triage sink that mails cfg.Operators
func NewMailTriage(cfg config.MailConfig, log *zap.SugaredLogger) *MailTriage {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	log.Infow("initializing triage mail sender",
		"host", cfg.Host,
		"port", cfg.Port,
		"operators", len(cfg.Operators),
	)
	return &MailTriage{
		dialer:        d,
		senderAddress: cfg.SenderAddress,
		senderName:    cfg.SenderName,
		operators:     cfg.Operators,
		retry:         DefaultRetryConfig(),
		log:           log,
	}
}

func (m *MailTriage) Enqueue(ctx context.Context, item TriageItem) error {
	if len(m.operators) == 0 {
		m.log.Warnw("no triage operators configured, dropping triage mail",
			"notification_id", item.NotificationID)
		return nil
	}

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.senderAddress, m.senderName)
	msg.SetHeader("Bcc", m.operators...)
	msg.SetHeader("Subject", fmt.Sprintf("[triage] %s needs manual routing", item.EventType))
	msg.SetBody("text/html", triageBody(item))

	err := withRetry(ctx, m.retry, m.log, func(ctx context.Context) error {
		return m.dialer.DialAndSend(msg)
	})
	if err != nil {
		return fmt.Errorf("failed to send triage mail: %w", err)
	}
	m.log.Infow("triage mail sent",
		"notification_id", item.NotificationID,
		"operators", len(m.operators),
	)
	return nil
}

func triageBody(item TriageItem) string {
	return fmt.Sprintf(
		"<p>Notification <b>%s</b> could not be routed automatically.</p>"+
			"<ul><li>Event type: %s</li><li>Category: %s</li><li>Hostel: %s</li>"+
			"<li>Occurred at: %s</li><li>Reason: %s</li></ul>",
		html.EscapeString(item.NotificationID),
		html.EscapeString(item.EventType),
		html.EscapeString(item.Category),
		html.EscapeString(item.HostelID),
		item.OccurredAt.UTC().Format(time.RFC3339),
		html.EscapeString(item.Reason),
	)
}

// LogTriage records triage items in the log when mail is disabled
type LogTriage struct {
	log *zap.SugaredLogger
}

// NewLogTriage creates a log-only triage sink
func NewLogTriage(log *zap.SugaredLogger) *LogTriage {
	return &LogTriage{log: log}
}

func (t *LogTriage) Enqueue(ctx context.Context, item TriageItem) error {
	t.log.Errorw("notification requires manual triage",
		"notification_id", item.NotificationID,
		"event_type", item.EventType,
		"hostel_id", item.HostelID,
		"reason", item.Reason,
	)
	return nil
}
