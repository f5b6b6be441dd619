package retry

import (
	"errors"

	"coursemail/internal/model"
)

// Class groups failures by how the job must be rescheduled.
type Class int

const (
	// ClassTransport covers transport and unknown failures. Consumes an attempt.
	ClassTransport Class = iota
	// ClassCapacity covers quota and cooldown rejections. Never consumes an attempt.
	ClassCapacity
	// ClassPermanent fails the job immediately.
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassCapacity:
		return "capacity"
	case ClassPermanent:
		return "permanent"
	default:
		return "transport"
	}
}

// Classify maps a dispatch error onto a retry class.
func Classify(err error) Class {
	if err == nil {
		return ClassTransport
	}
	if errors.Is(err, model.ErrMissingOwner) {
		return ClassPermanent
	}
	var quotaErr *model.QuotaExceededError
	if errors.As(err, &quotaErr) {
		return ClassCapacity
	}
	var cooldownErr *model.CooldownError
	if errors.As(err, &cooldownErr) {
		return ClassCapacity
	}
	return ClassTransport
}
