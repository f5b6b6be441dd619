package retry

import (
	"time"

	"coursemail/internal/model"
)

// Policy decides what happens to a job after a failed dispatch.
type Policy struct {
	// BaseDelay is the first transport backoff, doubled per consumed attempt.
	BaseDelay time.Duration
	// MaxDelay caps the transport backoff.
	MaxDelay time.Duration
	// CapacityDelay is the fixed delay after a quota or cooldown rejection.
	CapacityDelay time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:     2 * time.Second,
		MaxDelay:      time.Hour,
		CapacityDelay: 60 * time.Second,
	}
}

// Decision is the next persisted state of a job.
type Decision struct {
	Status    model.JobStatus
	Attempts  int
	NextRunAt time.Time
	LastError string
	Class     Class
}

// Backoff returns BaseDelay * 2^attempts, where attempts is the count before the
// current failure: 2s, 4s, 8s, ... for the default policy.
func (p Policy) Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempts; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Decide computes the job's next state for err observed at now.
func (p Policy) Decide(job *model.EmailJob, err error, now time.Time) Decision {
	class := Classify(err)
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}

	switch class {
	case ClassCapacity:
		return Decision{
			Status:    model.JobStatusQueued,
			Attempts:  job.Attempts,
			NextRunAt: now.Add(p.CapacityDelay),
			LastError: msg,
			Class:     class,
		}
	case ClassPermanent:
		return Decision{
			Status:    model.JobStatusFailed,
			Attempts:  job.Attempts,
			NextRunAt: now,
			LastError: msg,
			Class:     class,
		}
	}

	attempts := job.Attempts + 1
	if attempts >= job.MaxAttempts {
		return Decision{
			Status:    model.JobStatusFailed,
			Attempts:  attempts,
			NextRunAt: now,
			LastError: msg,
			Class:     class,
		}
	}
	return Decision{
		Status:    model.JobStatusQueued,
		Attempts:  attempts,
		NextRunAt: now.Add(p.Backoff(job.Attempts)),
		LastError: msg,
		Class:     class,
	}
}
