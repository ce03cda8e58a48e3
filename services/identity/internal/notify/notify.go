// Package notify hands user-facing messages to whatever delivers them.
// Rendering and delivery happen downstream; a Message only names a template
// and carries the values it needs.
package notify

import (
	"context"
	"log/slog"
)

const (
	TemplateWelcomeVerify = "welcome-verify"
	TemplateOTP           = "otp"
	TemplateNotification  = "notification"
)

type Message struct {
	Template string            `json:"template"`
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	Data     map[string]string `json:"data,omitempty"`
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the log instead of delivering them. Data
// values are logged too, so it is only wired when no broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	attrs := []any{"template", msg.Template, "to", msg.To, "subject", msg.Subject}
	for k, v := range msg.Data {
		attrs = append(attrs, "data."+k, v)
	}
	n.logger.InfoContext(ctx, "notification", attrs...)
	return nil
}
