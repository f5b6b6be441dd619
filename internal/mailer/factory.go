package mailer

import (
	"errors"
	"time"

	"coursemail/pkg/circuitbreaker"
	"coursemail/pkg/config"

	"go.uber.org/zap"
)

// ErrSMTPNotConfigured is returned when neither an SMTP host nor log-only mode is set.
var ErrSMTPNotConfigured = errors.New("smtp host not configured and smtp.log_only is off")

// NewSender returns an SMTP sender behind a circuit breaker. A LogSender is
// only returned when cfg.LogOnly is set explicitly.
func NewSender(cfg config.SMTPConfig, failureThreshold int, openFor time.Duration, logger *zap.Logger) (Sender, error) {
	if cfg.LogOnly {
		logger.Warn("SMTP log-only mode, emails will be logged and not delivered")
		return NewLogSender(logger), nil
	}
	if cfg.Host == "" {
		return nil, ErrSMTPNotConfigured
	}

	breakerCfg := circuitbreaker.DefaultConfig()
	if failureThreshold > 0 {
		breakerCfg.FailureThreshold = failureThreshold
	}
	if openFor > 0 {
		breakerCfg.Timeout = openFor
	}
	return NewBreakerSender(NewSMTPSender(cfg, logger), breakerCfg, logger), nil
}
