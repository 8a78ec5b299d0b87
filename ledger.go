package queue

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// FailedRecord is what is remembered about a job that was given up on. SQS
// keeps no failure metadata, so a FailedLedger is the only place it lives.
type FailedRecord struct {
	ID       string    `json:"id"`
	Queue    string    `json:"queue"`
	QueueURL string    `json:"queueURL"`
	Handler  string    `json:"handler"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failedAt"`
}

// FailedLedger stores records of failed jobs.
type FailedLedger interface {
	// Record appends a record.
	Record(ctx context.Context, record FailedRecord) error
	// Pop removes and returns the oldest record, or ErrEmpty.
	Pop(ctx context.Context) (FailedRecord, error)
	// Len returns the number of records.
	Len(ctx context.Context) (int64, error)
}

func recordOf(job *Job) FailedRecord {
	return FailedRecord{
		ID:       job.ID,
		Queue:    job.Queue,
		QueueURL: job.QueueURL,
		Handler:  job.Handler,
		Attempts: job.Attempts,
		Error:    job.LastError,
		FailedAt: job.FailedAt,
	}
}

// Requeue sends up to limit recorded handlers back to their queue as new
// jobs and returns how many were sent. A negative limit means all of them.
// A record that cannot be sent is put back into the ledger.
func Requeue(ctx context.Context, backend *Backend, ledger FailedLedger, limit int) (int, error) {
	var sent int
	for limit < 0 || sent < limit {
		record, err := ledger.Pop(ctx)
		if errors.Is(err, ErrEmpty) {
			return sent, nil
		}
		if err != nil {
			return sent, err
		}
		_, err = backend.Create(ctx, JobParams{
			Queue:    record.Queue,
			QueueURL: record.QueueURL,
			Handler:  record.Handler,
		})
		if err != nil {
			if rerr := ledger.Record(ctx, record); rerr != nil {
				return sent, errors.Wrapf(rerr, "restore failed record %s after %s", record.ID, err)
			}
			return sent, err
		}
		sent++
	}
	return sent, nil
}
