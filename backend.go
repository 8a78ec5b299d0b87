package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/DoNewsCode/core/contract"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
)

// Backend adapts the job contract onto a single SQS queue. Queue-wide
// operations (create, count, reserve, clear locks, time) live here; per-job
// operations live on Job.
//
// SQS provides the only locking there is: a received message stays invisible
// to other receivers for the visibility timeout, and becomes visible again if
// it is not deleted in time.
type Backend struct {
	client            SQSAPI
	resolver          *Resolver
	registry          *Registry
	codec             contract.Codec
	logger            log.Logger
	defaultQueueName  string
	queues            []string
	queueURL          string
	waitTime          time.Duration
	visibilityTimeout time.Duration
	now               func() time.Time
}

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithQueueURL pins the worker queue to a URL. It takes precedence over WithQueues.
func WithQueueURL(url string) BackendOption {
	return func(b *Backend) {
		b.queueURL = url
	}
}

// WithQueues sets the queue names the worker pool serves. The first one is
// reserved from and counted.
func WithQueues(names ...string) BackendOption {
	return func(b *Backend) {
		b.queues = names
	}
}

// WithDefaultQueueName sets the queue new jobs go to when they name none.
func WithDefaultQueueName(name string) BackendOption {
	return func(b *Backend) {
		b.defaultQueueName = name
	}
}

// WithResolver shares a Resolver between backends.
func WithResolver(resolver *Resolver) BackendOption {
	return func(b *Backend) {
		b.resolver = resolver
	}
}

// WithRegistry shares a payload Registry between backends.
func WithRegistry(registry *Registry) BackendOption {
	return func(b *Backend) {
		b.registry = registry
	}
}

// WithCodec replaces the default gob codec used to serialize payloads.
func WithCodec(codec contract.Codec) BackendOption {
	return func(b *Backend) {
		b.codec = codec
	}
}

// WithLogger sets the logger of the backend.
func WithLogger(logger log.Logger) BackendOption {
	return func(b *Backend) {
		b.logger = logger
	}
}

// WithWaitTime enables long polling on Reserve. Zero means short polling.
func WithWaitTime(wait time.Duration) BackendOption {
	return func(b *Backend) {
		b.waitTime = wait
	}
}

// WithVisibilityTimeout overrides the queue's visibility timeout for reserved
// messages. Zero keeps the queue default.
func WithVisibilityTimeout(timeout time.Duration) BackendOption {
	return func(b *Backend) {
		b.visibilityTimeout = timeout
	}
}

// WithClock replaces time.Now. Used in tests.
func WithClock(now func() time.Time) BackendOption {
	return func(b *Backend) {
		b.now = now
	}
}

// NewBackend creates a Backend on top of an SQS client.
func NewBackend(client SQSAPI, opts ...BackendOption) *Backend {
	b := Backend{
		client:           client,
		codec:            gobCodec{},
		logger:           log.NewNopLogger(),
		defaultQueueName: "default",
		now:              time.Now,
	}
	for _, f := range opts {
		f(&b)
	}
	if b.resolver == nil {
		b.resolver = NewResolver(client)
	}
	if b.registry == nil {
		b.registry = NewRegistry()
	}
	return &b
}

// Register makes payload types known to the backend so that received
// handlers can be decoded.
func (b *Backend) Register(prototypes ...Payload) {
	b.registry.Register(prototypes...)
}

// Resolver returns the resolver of the backend.
func (b *Backend) Resolver() *Resolver {
	return b.resolver
}

// DefaultQueueName is the queue new jobs go to when they name none.
func (b *Backend) DefaultQueueName() string {
	return b.defaultQueueName
}

// NewJob builds a job that has not been sent yet.
func (b *Backend) NewJob(params JobParams) (*Job, error) {
	job := &Job{
		Queue:        params.Queue,
		QueueURL:     params.QueueURL,
		DelaySeconds: params.DelaySeconds,
		Handler:      params.Handler,
		Priority:     params.Priority,
		RunAt:        b.DBTimeNow(),
		backend:      b,
	}
	if job.Handler == "" {
		if params.Payload == nil {
			return nil, ErrInvalidJob
		}
		handler, err := b.marshalHandler(params.Payload)
		if err != nil {
			return nil, err
		}
		job.Handler = handler
		job.payload = params.Payload
	}
	if job.Queue == "" {
		if n, ok := params.Payload.(QueueNamer); ok {
			job.Queue = n.QueueName()
		}
	}
	if job.Queue == "" {
		job.Queue = b.defaultQueueName
	}
	return job, nil
}

// JobFromMessage reconstructs a job from a message received from the queue
// at queueURL.
func (b *Backend) JobFromMessage(queueURL string, msg types.Message) *Job {
	attempts, ok := receiveCount(msg)
	if !ok {
		_ = level.Warn(b.logger).Log("msg", "malformed approximate receive count", "id", aws.ToString(msg.MessageId))
	}
	m := msg
	return &Job{
		ID:          aws.ToString(msg.MessageId),
		QueueURL:    queueURL,
		Attempts:    attempts,
		Handler:     aws.ToString(msg.Body),
		backend:     b,
		message:     &m,
		resolvedURL: queueURL,
	}
}

// Create builds a job and sends it. It is the enqueue operation.
func (b *Backend) Create(ctx context.Context, params JobParams) (*Job, error) {
	job, err := b.NewJob(params)
	if err != nil {
		return nil, err
	}
	if err := job.Save(ctx); err != nil {
		return nil, err
	}
	return job, nil
}

// Enqueue sends a payload as a new job.
func (b *Backend) Enqueue(ctx context.Context, payload Payload, opts ...JobOption) (*Job, error) {
	params := JobParams{Payload: payload}
	for _, f := range opts {
		f(&params)
	}
	return b.Create(ctx, params)
}

// Reserve receives at most one message from the worker queue. When the queue
// is empty it returns a nil job and a nil error. The job's RequestID is the
// id of the receive call.
func (b *Backend) Reserve(ctx context.Context) (*Job, error) {
	url, err := b.workerQueueURL(ctx)
	if err != nil {
		return nil, err
	}
	out, err := b.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(url),
		MaxNumberOfMessages:         1,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameAll},
		WaitTimeSeconds:             int32(b.waitTime / time.Second),
		VisibilityTimeout:           int32(b.visibilityTimeout / time.Second),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "receive from %s failed", url)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}
	job := b.JobFromMessage(url, out.Messages[0])
	job.RequestID, _ = awsmiddleware.GetRequestIDMetadata(out.ResultMetadata)
	if len(b.queues) > 0 && b.queueURL == "" {
		job.Queue = b.queues[0]
	}
	return job, nil
}

// Count returns the approximate number of visible messages in the worker
// queue, or 0 if SQS does not report it. Treat it as an estimate.
func (b *Backend) Count(ctx context.Context) (int64, error) {
	url, err := b.workerQueueURL(ctx)
	if err != nil {
		return 0, err
	}
	name := types.QueueAttributeNameApproximateNumberOfMessages
	out, err := b.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(url),
		AttributeNames: []types.QueueAttributeName{name},
	})
	if err != nil {
		return 0, errors.Wrapf(err, "count %s failed", url)
	}
	v, ok := out.Attributes[string(name)]
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "malformed %s %q", name, v)
	}
	return n, nil
}

// ClearLocks always succeeds. Locks are visibility timeouts held by SQS, and
// there is nothing for the backend to clear.
func (b *Backend) ClearLocks(workerName string) error {
	return nil
}

// DBTimeNow returns the current time in UTC.
func (b *Backend) DBTimeNow() time.Time {
	return b.now().UTC()
}

// DeleteAll always fails. SQS has no way to delete all jobs atomically;
// draining the queue or recreating it is left to the caller.
func (b *Backend) DeleteAll(ctx context.Context) error {
	return unsupported("delete_all", "drain the queue or recreate it instead")
}

// workerQueueURL resolves the queue the worker pool serves: the configured
// URL, else the first configured queue name, else the default queue name.
func (b *Backend) workerQueueURL(ctx context.Context) (string, error) {
	name := b.defaultQueueName
	if len(b.queues) > 0 {
		name = b.queues[0]
	}
	return b.resolver.Resolve(ctx, b.queueURL, name)
}
