// Package memsqs is an in-process stand-in for Amazon SQS. It keeps messages in
// memory and honors delays, visibility timeouts and receive counts, which is
// what the queue package relies on. It is meant for local runs and tests.
package memsqs

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go/middleware"
	"github.com/google/uuid"
)

// DefaultVisibilityTimeout is the visibility timeout of queues created by CreateQueue.
const DefaultVisibilityTimeout = 30 * time.Second

const baseURL = "https://sqs.memsqs.local/000000000000/"

type message struct {
	id            string
	body          string
	receiptHandle string
	sentAt        time.Time
	visibleAt     time.Time
	firstReceive  time.Time
	receiveCount  int
}

type queue struct {
	name              string
	visibilityTimeout time.Duration
	messages          []*message
}

// Service is an in-memory SQS. The zero value is not usable; call New.
type Service struct {
	mu     sync.Mutex
	queues map[string]*queue
	now    func() time.Time
	calls  map[string]int
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now, so tests can move past visibility timeouts.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a Service with the named queues already created.
func New(queueNames []string, opts ...Option) *Service {
	s := &Service{
		queues: make(map[string]*queue),
		now:    time.Now,
		calls:  make(map[string]int),
	}
	for _, f := range opts {
		f(s)
	}
	for _, name := range queueNames {
		s.CreateQueue(name)
	}
	return s
}

// CreateQueue creates a queue if it does not exist and returns its URL.
func (s *Service) CreateQueue(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	url := baseURL + name
	if _, ok := s.queues[url]; !ok {
		s.queues[url] = &queue{name: name, visibilityTimeout: DefaultVisibilityTimeout}
	}
	return url
}

// URL returns the URL a queue of that name has, whether or not it exists.
func URL(name string) string {
	return baseURL + name
}

// Calls returns how many times the named operation was called, for example
// "SendMessage".
func (s *Service) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[op]
}

// Len returns the number of messages in the queue, visible or not.
func (s *Service) Len(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[url]
	if !ok {
		return 0
	}
	return len(q.messages)
}

// GetQueueUrl implements queue.QueueLocator.
func (s *Service) GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["GetQueueUrl"]++

	url := baseURL + aws.ToString(params.QueueName)
	if _, ok := s.queues[url]; !ok {
		return nil, &types.QueueDoesNotExist{Message: aws.String(fmt.Sprintf("queue %s does not exist", aws.ToString(params.QueueName)))}
	}
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String(url), ResultMetadata: s.metadata()}, nil
}

// SendMessage implements queue.SQSAPI.
func (s *Service) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["SendMessage"]++

	q, err := s.queue(params.QueueUrl)
	if err != nil {
		return nil, err
	}
	if params.DelaySeconds < 0 || params.DelaySeconds > 900 {
		return nil, fmt.Errorf("DelaySeconds must be between 0 and 900, got %d", params.DelaySeconds)
	}
	now := s.now()
	msg := &message{
		id:        uuid.NewString(),
		body:      aws.ToString(params.MessageBody),
		sentAt:    now,
		visibleAt: now.Add(time.Duration(params.DelaySeconds) * time.Second),
	}
	q.messages = append(q.messages, msg)
	return &sqs.SendMessageOutput{MessageId: aws.String(msg.id), ResultMetadata: s.metadata()}, nil
}

// ReceiveMessage implements queue.SQSAPI. It never waits: WaitTimeSeconds is ignored.
func (s *Service) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["ReceiveMessage"]++

	q, err := s.queue(params.QueueUrl)
	if err != nil {
		return nil, err
	}
	limit := int(params.MaxNumberOfMessages)
	if limit <= 0 {
		limit = 1
	}
	timeout := q.visibilityTimeout
	if params.VisibilityTimeout > 0 {
		timeout = time.Duration(params.VisibilityTimeout) * time.Second
	}
	withAttributes := wantsAttributes(params)

	now := s.now()
	out := &sqs.ReceiveMessageOutput{ResultMetadata: s.metadata()}
	for _, msg := range q.messages {
		if len(out.Messages) == limit {
			break
		}
		if now.Before(msg.visibleAt) {
			continue
		}
		msg.receiveCount++
		if msg.firstReceive.IsZero() {
			msg.firstReceive = now
		}
		msg.receiptHandle = uuid.NewString()
		msg.visibleAt = now.Add(timeout)

		received := types.Message{
			MessageId:     aws.String(msg.id),
			Body:          aws.String(msg.body),
			ReceiptHandle: aws.String(msg.receiptHandle),
		}
		if withAttributes {
			received.Attributes = map[string]string{
				string(types.MessageSystemAttributeNameApproximateReceiveCount):          strconv.Itoa(msg.receiveCount),
				string(types.MessageSystemAttributeNameSentTimestamp):                    strconv.FormatInt(msg.sentAt.UnixMilli(), 10),
				string(types.MessageSystemAttributeNameApproximateFirstReceiveTimestamp): strconv.FormatInt(msg.firstReceive.UnixMilli(), 10),
			}
		}
		out.Messages = append(out.Messages, received)
	}
	return out, nil
}

// DeleteMessage implements queue.SQSAPI.
func (s *Service) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["DeleteMessage"]++

	q, err := s.queue(params.QueueUrl)
	if err != nil {
		return nil, err
	}
	handle := aws.ToString(params.ReceiptHandle)
	for i, msg := range q.messages {
		if msg.receiptHandle != "" && msg.receiptHandle == handle {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			return &sqs.DeleteMessageOutput{ResultMetadata: s.metadata()}, nil
		}
	}
	return nil, &types.ReceiptHandleIsInvalid{Message: aws.String("receipt handle is invalid")}
}

// GetQueueAttributes implements queue.SQSAPI. Only the approximate counters
// are reported.
func (s *Service) GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["GetQueueAttributes"]++

	q, err := s.queue(params.QueueUrl)
	if err != nil {
		return nil, err
	}
	var visible, inFlight, delayed int
	now := s.now()
	for _, msg := range q.messages {
		switch {
		case !now.Before(msg.visibleAt):
			visible++
		case msg.receiveCount > 0:
			inFlight++
		default:
			delayed++
		}
	}
	all := map[types.QueueAttributeName]string{
		types.QueueAttributeNameApproximateNumberOfMessages:           strconv.Itoa(visible),
		types.QueueAttributeNameApproximateNumberOfMessagesNotVisible: strconv.Itoa(inFlight),
		types.QueueAttributeNameApproximateNumberOfMessagesDelayed:    strconv.Itoa(delayed),
		types.QueueAttributeNameVisibilityTimeout:                     strconv.Itoa(int(q.visibilityTimeout / time.Second)),
	}
	attrs := make(map[string]string)
	for _, name := range params.AttributeNames {
		if name == types.QueueAttributeNameAll {
			for k, v := range all {
				attrs[string(k)] = v
			}
			continue
		}
		if v, ok := all[name]; ok {
			attrs[string(name)] = v
		}
	}
	return &sqs.GetQueueAttributesOutput{Attributes: attrs, ResultMetadata: s.metadata()}, nil
}

func (s *Service) queue(url *string) (*queue, error) {
	q, ok := s.queues[aws.ToString(url)]
	if !ok {
		return nil, &types.QueueDoesNotExist{Message: aws.String(fmt.Sprintf("queue %s does not exist", aws.ToString(url)))}
	}
	return q, nil
}

func (s *Service) metadata() middleware.Metadata {
	var md middleware.Metadata
	awsmiddleware.SetRequestIDMetadata(&md, uuid.NewString())
	return md
}

func wantsAttributes(params *sqs.ReceiveMessageInput) bool {
	for _, name := range params.MessageSystemAttributeNames {
		if name == types.MessageSystemAttributeNameAll || name == types.MessageSystemAttributeNameApproximateReceiveCount {
			return true
		}
	}
	return false
}
