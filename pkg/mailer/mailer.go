package mailer

import (
	"go.uber.org/zap"

	"github.com/ilyes-bd/presence-api/pkg/config"
)

// Message is a single outbound email.
type Message struct {
	ToName  string
	ToEmail string
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers messages. Implementations log delivery failures and
// never surface them: mail must not break the calling flow.
type Mailer interface {
	Send(msg Message)
}

// New selects the backend for the given configuration: SendGrid when
// mail is enabled and an API key is present, console otherwise.
func New(cfg config.MailConfig, logger *zap.Logger) Mailer {
	if cfg.Enabled && cfg.SendgridAPIKey != "" {
		return NewSendgridMailer(cfg.SendgridAPIKey, cfg.FromName, cfg.FromAddress, logger)
	}
	return NewConsoleMailer(logger)
}
