// Package queue runs delayed jobs on top of Amazon SQS.
//
// Introduction
//
// A generic job queue expects to enqueue jobs, reserve them, record attempts
// and failures, reschedule and destroy them. SQS offers less: there is no read
// by id, no scheduling, no priority, no failure metadata, and counters are
// approximate. This package maps each operation onto SQS where it can be done
// faithfully, and fails loudly with ErrNotImplemented where it cannot.
//
//  enqueue         SendMessage, once per job (Save refuses a job that has an ID)
//  reserve         ReceiveMessage with a limit of 1
//  destroy         DeleteMessage by receipt handle
//  count           ApproximateNumberOfMessages, an estimate
//  attempts        ApproximateReceiveCount, an estimate
//  locks           the visibility timeout; ClearLocks has nothing to do
//  reschedule_at   not implemented
//  delete_all      not implemented
//
// Simple Usage
//
// A job carries a Payload, any type with a Perform method. Payload types are
// registered so that received messages can be decoded back into them.
//
//  type SendEmail struct {
//    To string
//  }
//
//  func (s SendEmail) Perform(ctx context.Context) error { ... }
//
//  backend := queue.NewBackend(sqs.NewFromConfig(cfg), queue.WithQueues("mailer"))
//  backend.Register(SendEmail{})
//  job, err := backend.Enqueue(ctx, SendEmail{To: "a@example.com"}, queue.OnQueue("mailer"))
//
// A Worker reserves jobs and performs them:
//
//  worker := queue.NewWorker(backend)
//  go worker.Consume(ctx)
//
// Failures
//
// MaxAttempts is always 1. SQS redelivers a message whose visibility timeout
// ran out, and that is the only retry mechanism. When a job fails, the worker
// calls the payload's Failure hook if it has one, and leaves the message in
// place unless destroyFailedJobs is set. The failure itself can be recorded in
// a FailedLedger, for example a RedisLedger, and sent again later with Requeue.
//
// Integrate
//
// The queue package exports configuration in this format:
//
//  queue:
//    default:
//      queueName: default
//      queues: [default]
//      parallelism: 3
//      sleepDelaySecond: 5
//      checkQueueLengthIntervalSecond: 15
//
// Using the bundled dependency provider, the life cycle of the consumer
// goroutines is managed by the core.
//
//  var c *core.C
//  c.Provide(queue.Providers())
//
// A module is also bundled, providing the queue command (count, work-off,
// drain and retry-failed).
//
//  c.AddModuleFunc(queue.New)
//
// Metrics
//
// To gain visibility on the length of the queue, inject a gauge into the core
// and alias it to queue.Gauge. The approximate length of every queue will be
// periodically reported with a "queue" label. queue.Counter counts processed
// jobs by "queue" and "status".
package queue
