package mailer

import (
	"context"

	"coursemail/internal/model"

	"go.uber.org/zap"
)

// Message is one rendered email ready for the transport.
type Message struct {
	JobID   string
	Type    model.EmailType
	To      string
	Subject string
	HTML    string
}

// Sender delivers a message. Failures are returned as *model.TransportError.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of delivering them. Used when no SMTP host is configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return &model.TransportError{Err: err}
	}
	s.logger.Info("Email delivery simulated",
		zap.String("job_id", msg.JobID),
		zap.String("type", string(msg.Type)),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}
