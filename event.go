package queue

// Event names a point in the life of a job that listeners can subscribe to.
type Event string

const (
	// AfterSuccess triggers once a job has been performed and deleted from the queue.
	AfterSuccess Event = "afterSuccess"
	// BeforeRetry triggers when a failed job still has attempts left and is
	// about to be rescheduled. MaxAttempts is 1 for SQS jobs, so in practice it
	// only fires for custom workers.
	BeforeRetry Event = "beforeRetry"
	// BeforeAbort triggers when a failed job is given up on.
	BeforeAbort Event = "beforeAbort"
)

// AfterSuccessPayload is the payload of AfterSuccess.
type AfterSuccessPayload struct {
	Job *Job
}

// BeforeRetryPayload is the payload of BeforeRetry.
type BeforeRetryPayload struct {
	Err error
	Job *Job
}

// BeforeAbortPayload is the payload of BeforeAbort.
type BeforeAbortPayload struct {
	Err error
	Job *Job
}
