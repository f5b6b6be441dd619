package mq

// RoutingKeyEmailJobEnqueued is published once per committed email job.
const RoutingKeyEmailJobEnqueued = "email.job.enqueued"

// EmailJobEnqueuedPayload asks a worker to dispatch one job. The job row is the
// source of truth; the message only carries its id.
type EmailJobEnqueuedPayload struct {
	JobID string `json:"job_id"`
}
