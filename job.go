package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
)

// Job is one job bound to at most one SQS message. A Job is either built
// locally by Backend.NewJob and not yet sent, or reconstructed from a received
// message by Backend.JobFromMessage.
//
// A Job is not safe for concurrent use.
type Job struct {
	// ID is the SQS message id. It is empty until the job is sent and never
	// changes afterwards.
	ID string
	// RequestID is the SQS request id of the send call. Diagnostic only.
	RequestID string
	// Queue is the queue name. QueueURL, when set, takes precedence.
	Queue    string
	QueueURL string
	// Attempts is the approximate receive count reported by SQS. It is not exact.
	Attempts int
	// Handler is the serialized payload and the body of the message.
	Handler string
	// DelaySeconds is the initial invisibility requested on send.
	DelaySeconds int32

	// The fields below are not supported by SQS. They exist to keep the shape
	// of a job and are never read from or written to the queue.
	Priority  int
	RunAt     time.Time
	LockedAt  time.Time
	LockedBy  string
	FailedAt  time.Time
	LastError string

	backend     *Backend
	message     *types.Message
	resolvedURL string
	payload     Payload
}

// JobParams are the parameters of a locally built job.
type JobParams struct {
	// Queue is the target queue name. Defaults to the payload's QueueName, then
	// to the backend's default queue name.
	Queue string
	// QueueURL overrides Queue.
	QueueURL string
	// DelaySeconds is the initial invisibility window, 0 to 900.
	DelaySeconds int32
	// Handler is a pre-serialized payload. It wins over Payload.
	Handler string
	// Payload is serialized into Handler when Handler is empty.
	Payload Payload
	// Priority is kept on the job but has no effect on SQS.
	Priority int
}

// JobOption tunes the JobParams built by Backend.Enqueue.
type JobOption func(params *JobParams)

// OnQueue sends the job to the named queue.
func OnQueue(name string) JobOption {
	return func(params *JobParams) {
		params.Queue = name
	}
}

// ToQueueURL sends the job to the queue at url, bypassing name lookup.
func ToQueueURL(url string) JobOption {
	return func(params *JobParams) {
		params.QueueURL = url
	}
}

// Defer hides the message for the given duration after it is sent. SQS
// supports whole seconds up to 15 minutes.
func Defer(duration time.Duration) JobOption {
	return func(params *JobParams) {
		params.DelaySeconds = int32(duration / time.Second)
	}
}

// WithPriority records a priority on the job. SQS ignores it.
func WithPriority(priority int) JobOption {
	return func(params *JobParams) {
		params.Priority = priority
	}
}

// Save sends the job as a new message. Save is one-shot: calling it on a job
// that already has an ID returns ErrJobExists and sends nothing.
func (j *Job) Save(ctx context.Context) error {
	if j.ID != "" {
		return errors.Wrapf(ErrJobExists, "job %s", j.ID)
	}
	if j.Handler == "" {
		return ErrInvalidJob
	}
	url, err := j.queueURL(ctx)
	if err != nil {
		return err
	}
	out, err := j.backend.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(url),
		MessageBody:  aws.String(j.Handler),
		DelaySeconds: j.DelaySeconds,
	})
	if err != nil {
		return errors.Wrapf(err, "send job to %s failed", url)
	}
	j.ID = aws.ToString(out.MessageId)
	j.RequestID, _ = awsmiddleware.GetRequestIDMetadata(out.ResultMetadata)
	_ = level.Debug(j.backend.logger).Log("msg", "job sent", "id", j.ID, "queue", url)
	return nil
}

// Destroy deletes the received message so that it is not delivered again.
// It does nothing for a job that was never received, and nothing on a second
// call.
func (j *Job) Destroy(ctx context.Context) error {
	if j.message == nil {
		return nil
	}
	_, err := j.backend.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(j.resolvedURL),
		ReceiptHandle: j.message.ReceiptHandle,
	})
	if err != nil {
		return errors.Wrapf(err, "delete job %s failed", j.ID)
	}
	j.message = nil
	return nil
}

// Reload drops the decoded payload so that the next call to PayloadObject
// decodes the handler again. SQS has no read by id, so nothing is fetched.
func (j *Job) Reload() *Job {
	j.payload = nil
	return j
}

// PayloadObject decodes the handler. The result is cached until Reload.
func (j *Job) PayloadObject() (Payload, error) {
	if j.payload != nil {
		return j.payload, nil
	}
	p, err := j.backend.unmarshalHandler(j.Handler)
	if err != nil {
		return nil, err
	}
	j.payload = p
	return p, nil
}

// Invoke decodes the payload and performs it, calling any hooks the payload
// implements.
func (j *Job) Invoke(ctx context.Context) (err error) {
	p, err := j.PayloadObject()
	if err != nil {
		return err
	}
	if h, ok := p.(AfterHook); ok {
		defer h.After(ctx, j)
	}
	defer func() {
		if err == nil {
			if h, ok := p.(SuccessHook); ok {
				h.Success(ctx, j)
			}
			return
		}
		if h, ok := p.(ErrorHook); ok {
			h.Error(ctx, j, err)
		}
	}()
	if h, ok := p.(BeforeHook); ok {
		if err := h.Before(ctx, j); err != nil {
			return err
		}
	}
	return p.Perform(ctx)
}

// Name is the payload's DisplayName if it has one, otherwise its type name.
func (j *Job) Name() string {
	p, err := j.PayloadObject()
	if err != nil {
		return ""
	}
	if n, ok := p.(Namer); ok {
		return n.DisplayName()
	}
	return TypeName(p)
}

// MaxAttempts is always 1. Redelivery is left to SQS, so a job that fails once
// is exhausted as far as the worker is concerned.
func (j *Job) MaxAttempts() int {
	return 1
}

// MaxRunTime returns the payload's MaxRunTime, or 0 if it does not define one.
func (j *Job) MaxRunTime() time.Duration {
	p, err := j.PayloadObject()
	if err != nil {
		return 0
	}
	if m, ok := p.(MaxRunTimer); ok {
		return m.MaxRunTime()
	}
	return 0
}

// RescheduleAt always fails: a sent message cannot be moved to a new time.
// Let the message become visible again, or enqueue a new job with a delay.
func (j *Job) RescheduleAt(time.Time) error {
	return unsupported("reschedule_at", "sent messages cannot be moved in time")
}

// MarkFailed records the failure on the job. Nothing is written to SQS.
func (j *Job) MarkFailed(err error) {
	j.FailedAt = j.backend.DBTimeNow()
	if err != nil {
		j.LastError = err.Error()
	}
}

// Failed reports whether MarkFailed was called.
func (j *Job) Failed() bool {
	return !j.FailedAt.IsZero()
}

// Received reports whether the job is bound to a received message.
func (j *Job) Received() bool {
	return j.message != nil
}

func (j *Job) queueURL(ctx context.Context) (string, error) {
	if j.resolvedURL != "" {
		return j.resolvedURL, nil
	}
	var (
		url string
		err error
	)
	if j.QueueURL != "" || j.Queue != "" {
		url, err = j.backend.resolver.Resolve(ctx, j.QueueURL, j.Queue)
	} else {
		url, err = j.backend.workerQueueURL(ctx)
	}
	if err != nil {
		return "", err
	}
	j.resolvedURL = url
	return url, nil
}

func receiveCount(msg types.Message) (int, bool) {
	v, ok := msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]
	if !ok {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
