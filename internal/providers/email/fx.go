package email

import (
	"github.com/smallbiznis/ecopoints/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
)

const senderName = "EcoQuest"

// NewFromConfig builds the SMTP provider, or a NoOpProvider when SMTP
// settings are incomplete.
func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	if !cfg.Email.Configured() {
		log.Named("providers.email").Warn("email.transport.not_configured")
		return &NoOpProvider{}
	}
	return NewSMTP(Config{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.SMTPFrom,
		FromName: senderName,
	})
}
