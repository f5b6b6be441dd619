package model

import (
	"errors"
	"fmt"
)

var (
	ErrMissingOwner   = errors.New("email job has no owning user")
	ErrQuotaOvershoot = errors.New("quota exceeded after the email was sent")
	ErrJobNotFound    = errors.New("email job not found")
	ErrJobNotFailed   = errors.New("email job is not in FAILED state")
)

// ValidationError rejects an enqueue request before anything is persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// QuotaExceededError means the daily counter for Scope has reached Limit.
type QuotaExceededError struct {
	Scope QuotaScope
	Limit int
	Count int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s daily email quota exceeded (%d/%d)", e.Scope, e.Count, e.Limit)
}

// CooldownError means the user sent an email less than the cooldown window ago.
type CooldownError struct {
	SecondsLeft int
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("email cooldown active, retry in %ds", e.SecondsLeft)
}

// TransportError wraps a failure of the mail transport itself.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "mail transport: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
