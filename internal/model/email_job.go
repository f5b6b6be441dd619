package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusSent       JobStatus = "SENT"
	JobStatusFailed     JobStatus = "FAILED"
)

// EmailType selects the template and is carried through to logs and statistics.
type EmailType string

const (
	EmailTypeVerification           EmailType = "VERIFICATION"
	EmailTypeVerificationResend     EmailType = "VERIFICATION_RESEND"
	EmailTypePasswordReset          EmailType = "PASSWORD_RESET"
	EmailTypePaymentNotification    EmailType = "PAYMENT_NOTIFICATION"
	EmailTypeEnrollmentConfirmation EmailType = "ENROLLMENT_CONFIRMATION"
	EmailTypeBatchAnnouncement      EmailType = "BATCH_ANNOUNCEMENT"
	EmailTypeGeneric                EmailType = "GENERIC"
)

var knownEmailTypes = map[EmailType]struct{}{
	EmailTypeVerification:           {},
	EmailTypeVerificationResend:     {},
	EmailTypePasswordReset:          {},
	EmailTypePaymentNotification:    {},
	EmailTypeEnrollmentConfirmation: {},
	EmailTypeBatchAnnouncement:      {},
	EmailTypeGeneric:                {},
}

func (t EmailType) Valid() bool {
	_, ok := knownEmailTypes[t]
	return ok
}

const DefaultMaxAttempts = 3

// EmailJob is one row of the email_jobs queue table.
type EmailJob struct {
	ID          string    `json:"id"`
	Type        EmailType `json:"type"`
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	Subject     string    `json:"subject"`
	HTML        string    `json:"html"`
	IsAdmin     bool      `json:"is_admin"`
	Status      JobStatus `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	NextRunAt   time.Time `json:"next_run_at"`
	LastError   *string   `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasOwner reports whether the job can be charged against a user quota.
func (j *EmailJob) HasOwner() bool {
	return strings.TrimSpace(j.UserID) != ""
}

// JobSpec is the enqueue request accepted from collaborators.
type JobSpec struct {
	Type        EmailType `json:"type"`
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	Subject     string    `json:"subject"`
	HTML        string    `json:"html"`
	IsAdmin     bool      `json:"is_admin"`
	MaxAttempts int       `json:"max_attempts,omitempty"`
}

func (s JobSpec) Validate() error {
	if strings.TrimSpace(s.UserID) == "" {
		return &ValidationError{Field: "user_id", Message: "user id is required"}
	}
	if strings.TrimSpace(s.Email) == "" {
		return &ValidationError{Field: "email", Message: "recipient email is required"}
	}
	if s.Type != "" && !s.Type.Valid() {
		return &ValidationError{Field: "type", Message: "unknown email type " + string(s.Type)}
	}
	if s.MaxAttempts < 0 {
		return &ValidationError{Field: "max_attempts", Message: "max attempts must not be negative"}
	}
	return nil
}

// NewEmailJob builds a QUEUED job that is eligible immediately. The JobSpec must
// already be validated.
func NewEmailJob(spec JobSpec, now time.Time) *EmailJob {
	typ := spec.Type
	if typ == "" {
		typ = EmailTypeGeneric
	}
	maxAttempts := spec.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	now = now.UTC()
	return &EmailJob{
		ID:          uuid.NewString(),
		Type:        typ,
		UserID:      strings.TrimSpace(spec.UserID),
		Email:       strings.TrimSpace(spec.Email),
		Subject:     spec.Subject,
		HTML:        spec.HTML,
		IsAdmin:     spec.IsAdmin,
		Status:      JobStatusQueued,
		Attempts:    0,
		MaxAttempts: maxAttempts,
		NextRunAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
