package service

import (
	"context"
	"errors"
	"fmt"

	"coursemail/internal/mailer"
	"coursemail/internal/model"
)

var errNoRenderer = errors.New("email templates are not configured")

// Recipient is the user an email is addressed to and charged against.
type Recipient struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}

func (s *EmailService) enqueueRendered(ctx context.Context, to Recipient, typ model.EmailType, data any) (string, error) {
	if s.renderer == nil {
		return "", errNoRenderer
	}
	subject, html, err := s.renderer.Render(typ, data)
	if err != nil {
		return "", fmt.Errorf("render %s email: %w", typ, err)
	}
	return s.Enqueue(ctx, model.JobSpec{
		Type:    typ,
		UserID:  to.UserID,
		Email:   to.Email,
		Subject: subject,
		HTML:    html,
		IsAdmin: to.IsAdmin,
	})
}

func (s *EmailService) SendVerification(ctx context.Context, to Recipient, data mailer.VerificationData, resend bool) (string, error) {
	typ := model.EmailTypeVerification
	if resend {
		typ = model.EmailTypeVerificationResend
	}
	return s.enqueueRendered(ctx, to, typ, data)
}

func (s *EmailService) SendPasswordReset(ctx context.Context, to Recipient, data mailer.PasswordResetData) (string, error) {
	return s.enqueueRendered(ctx, to, model.EmailTypePasswordReset, data)
}

func (s *EmailService) SendPaymentNotification(ctx context.Context, to Recipient, data mailer.PaymentData) (string, error) {
	return s.enqueueRendered(ctx, to, model.EmailTypePaymentNotification, data)
}

func (s *EmailService) SendEnrollmentConfirmation(ctx context.Context, to Recipient, data mailer.EnrollmentData) (string, error) {
	return s.enqueueRendered(ctx, to, model.EmailTypeEnrollmentConfirmation, data)
}
