package queue

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DoNewsCode/core-queue-sqs/memsqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-kit/kit/metrics"
)

var simpleRuns int32

type SimpleJob struct {
	Value string
}

func (s SimpleJob) Perform(ctx context.Context) error {
	atomic.AddInt32(&simpleRuns, 1)
	return nil
}

func simpleRunsNow() int32 {
	return atomic.LoadInt32(&simpleRuns)
}

type PointerJob struct {
	Value string
}

func (p *PointerJob) Perform(ctx context.Context) error {
	return nil
}

type NamedQueueJob struct {
	Value string
}

func (n NamedQueueJob) Perform(ctx context.Context) error {
	return nil
}

func (n NamedQueueJob) QueueName() string {
	return "other_test"
}

type NamedJob struct {
	Value string
}

func (n NamedJob) Perform(ctx context.Context) error {
	return nil
}

func (n NamedJob) DisplayName() string {
	return "named_job"
}

type MaxAttemptsJob struct {
	MaxAttempts int
}

func (m MaxAttemptsJob) Perform(ctx context.Context) error {
	return nil
}

type ErrorJob struct {
	Value string
}

func (e ErrorJob) Perform(ctx context.Context) error {
	return errors.New("did not work")
}

var failureCalls int32

type OnPermanentFailureJob struct {
	RaiseError bool
}

func (o OnPermanentFailureJob) Perform(ctx context.Context) error {
	return errors.New("did not work")
}

func (o OnPermanentFailureJob) Failure(ctx context.Context, job *Job) error {
	atomic.AddInt32(&failureCalls, 1)
	if o.RaiseError {
		return errors.New("hook failed")
	}
	return nil
}

type LongRunningJob struct {
	Sleep time.Duration
}

func (l LongRunningJob) Perform(ctx context.Context) error {
	select {
	case <-time.After(l.Sleep):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type MaxRunTimeJob struct {
	Limit time.Duration
}

func (m MaxRunTimeJob) Perform(ctx context.Context) error {
	return nil
}

func (m MaxRunTimeJob) MaxRunTime() time.Duration {
	return m.Limit
}

var (
	callbackMu       sync.Mutex
	callbackMessages []string
)

func callback(msg string) {
	callbackMu.Lock()
	defer callbackMu.Unlock()
	callbackMessages = append(callbackMessages, msg)
}

func resetCallbacks() {
	callbackMu.Lock()
	defer callbackMu.Unlock()
	callbackMessages = nil
}

func callbacks() []string {
	callbackMu.Lock()
	defer callbackMu.Unlock()
	return append([]string(nil), callbackMessages...)
}

type CallbackJob struct {
	FailBefore  bool
	FailPerform bool
}

func (c CallbackJob) Before(ctx context.Context, job *Job) error {
	if c.FailBefore {
		return errors.New("before failed")
	}
	callback("before")
	return nil
}

func (c CallbackJob) Perform(ctx context.Context) error {
	if c.FailPerform {
		return errors.New("perform failed")
	}
	callback("perform")
	return nil
}

func (c CallbackJob) Success(ctx context.Context, job *Job) {
	callback("success")
}

func (c CallbackJob) Error(ctx context.Context, job *Job, err error) {
	callback("error: " + err.Error())
}

func (c CallbackJob) After(ctx context.Context, job *Job) {
	callback("after")
}

func setUp(t *testing.T, opts ...BackendOption) (*Backend, *memsqs.Service) {
	t.Helper()
	svc := memsqs.New([]string{"test", "other_test"})
	defaults := []BackendOption{WithDefaultQueueName("test"), WithQueues("test")}
	backend := NewBackend(svc, append(defaults, opts...)...)
	backend.Register(
		SimpleJob{},
		&PointerJob{},
		NamedQueueJob{},
		NamedJob{},
		MaxAttemptsJob{},
		ErrorJob{},
		OnPermanentFailureJob{},
		LongRunningJob{},
		MaxRunTimeJob{},
		CallbackJob{},
	)
	return backend, svc
}

// stubClient overrides single operations of an in-memory SQS.
type stubClient struct {
	*memsqs.Service
	receiveErr error
	sendErr    error
	attributes map[string]string
}

func (s *stubClient) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if s.receiveErr != nil {
		return nil, s.receiveErr
	}
	return s.Service.ReceiveMessage(ctx, params, optFns...)
}

func (s *stubClient) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	return s.Service.SendMessage(ctx, params, optFns...)
}

func (s *stubClient) GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	if s.attributes != nil {
		return &sqs.GetQueueAttributesOutput{Attributes: s.attributes}, nil
	}
	return s.Service.GetQueueAttributes(ctx, params, optFns...)
}

func totalCalls(svc *memsqs.Service) int {
	var n int
	for _, op := range []string{"GetQueueUrl", "SendMessage", "ReceiveMessage", "DeleteMessage", "GetQueueAttributes"} {
		n += svc.Calls(op)
	}
	return n
}

type memLedger struct {
	mu      sync.Mutex
	records []FailedRecord
}

func (m *memLedger) Record(ctx context.Context, record FailedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func (m *memLedger) Pop(ctx context.Context) (FailedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 {
		return FailedRecord{}, ErrEmpty
	}
	record := m.records[0]
	m.records = m.records[1:]
	return record, nil
}

func (m *memLedger) Len(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.records)), nil
}

type recordingGauge struct {
	mu     sync.Mutex
	lvs    []string
	values map[string]float64
}

func newRecordingGauge() *recordingGauge {
	return &recordingGauge{values: make(map[string]float64)}
}

func (r *recordingGauge) With(labelValues ...string) metrics.Gauge {
	return &recordingGaugeChild{parent: r, lvs: append(append([]string(nil), r.lvs...), labelValues...)}
}

func (r *recordingGauge) Set(value float64) {
	r.set(r.lvs, value)
}

func (r *recordingGauge) Add(delta float64) {
	r.add(r.lvs, delta)
}

func (r *recordingGauge) set(lvs []string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[strings.Join(lvs, ",")] = value
}

func (r *recordingGauge) add(lvs []string, delta float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[strings.Join(lvs, ",")] += delta
}

func (r *recordingGauge) value(lvs ...string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[strings.Join(lvs, ",")]
	return v, ok
}

type recordingGaugeChild struct {
	parent *recordingGauge
	lvs    []string
}

func (c *recordingGaugeChild) With(labelValues ...string) metrics.Gauge {
	return &recordingGaugeChild{parent: c.parent, lvs: append(append([]string(nil), c.lvs...), labelValues...)}
}

func (c *recordingGaugeChild) Set(value float64) {
	c.parent.set(c.lvs, value)
}

func (c *recordingGaugeChild) Add(delta float64) {
	c.parent.add(c.lvs, delta)
}

type recordingCounter struct {
	gauge *recordingGauge
	lvs   []string
}

func (r recordingCounter) With(labelValues ...string) metrics.Counter {
	return recordingCounter{gauge: r.gauge, lvs: append(append([]string(nil), r.lvs...), labelValues...)}
}

func (r recordingCounter) Add(delta float64) {
	r.gauge.add(r.lvs, delta)
}

func getDefaultRedisAddrs() ([]string, bool) {
	addrs := os.Getenv("REDIS_ADDR")
	if addrs == "" {
		return []string{"127.0.0.1:6379"}, false
	}
	return strings.Split(addrs, ","), true
}
