package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"coursemail/internal/model"
	"coursemail/pkg/config"
	"coursemail/pkg/metrics"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

var errNotConfigured = errors.New("smtp sender is not configured")

// dialer is the part of *gomail.Dialer the sender uses.
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPSender struct {
	dialer   dialer
	from     string
	fromName string
	logger   *zap.Logger
}

func NewSMTPSender(cfg config.SMTPConfig, logger *zap.Logger) *SMTPSender {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	if cfg.InsecureSkipVerify {
		logger.Warn("SMTP TLS verification disabled", zap.String("host", cfg.Host))
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	logger.Info("SMTP sender initialized",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("from", cfg.FromEmail),
	)
	return &SMTPSender{
		dialer:   d,
		from:     cfg.FromEmail,
		fromName: cfg.FromName,
		logger:   logger,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return &model.TransportError{Err: err}
	}
	if s.from == "" {
		return &model.TransportError{Err: errNotConfigured}
	}
	if msg.To == "" {
		return &model.TransportError{Err: errors.New("empty recipient")}
	}

	m := gomail.NewMessage()
	if s.fromName != "" {
		m.SetAddressHeader("From", s.from, s.fromName)
	} else {
		m.SetHeader("From", s.from)
	}
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)

	start := time.Now()
	if err := s.dialer.DialAndSend(m); err != nil {
		metrics.RecordMailSendLatency("error", time.Since(start))
		return &model.TransportError{Err: fmt.Errorf("send email: %w", err)}
	}
	metrics.RecordMailSendLatency("ok", time.Since(start))

	s.logger.Debug("Email sent",
		zap.String("job_id", msg.JobID),
		zap.String("to", msg.To),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}
