// Package notification turns domain events into patient and staff
// notifications.
package notification

import (
	"context"

	"github.com/clinicaec/hospital-backend/pkg/logger"
)

// Notification is one rendered message ready for delivery
type Notification struct {
	Template  string
	Recipient string
	Subject   string
	Body      string
	// Reference is the id of the appointment or medication the message is about.
	Reference string
}

// Notifier delivers rendered notifications
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// LogNotifier writes each notification to the log instead of delivering it.
// It is the default until a mail transport is configured.
type LogNotifier struct {
	logger *logger.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log.WithComponent("log-notifier")}
}

// Send logs the notification
func (n *LogNotifier) Send(ctx context.Context, msg Notification) error {
	n.logger.Info().
		Str("template", msg.Template).
		Str("recipient", msg.Recipient).
		Str("reference", msg.Reference).
		Str("subject", msg.Subject).
		Msg("notification delivered")
	return nil
}
