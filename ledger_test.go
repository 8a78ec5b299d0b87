package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/DoNewsCode/core-queue-sqs/memsqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failedRecords(t *testing.T, backend *Backend, n int) *memLedger {
	t.Helper()
	ledger := &memLedger{}
	worker := NewWorker(backend, UseFailedLedger(ledger), UseDestroyFailedJobs(true))
	for i := 0; i < n; i++ {
		assert.False(t, worker.Run(context.Background(), reserveOne(t, backend, ErrorJob{})))
	}
	require.Len(t, ledger.records, n)
	return ledger
}

func TestRequeue(t *testing.T) {
	ctx := context.Background()

	t.Run("sends every record back", func(t *testing.T) {
		backend, svc := setUp(t)
		ledger := failedRecords(t, backend, 3)
		assert.Equal(t, 0, svc.Len(memsqs.URL("test")))

		n, err := Requeue(ctx, backend, ledger, -1)
		assert.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, 3, svc.Len(memsqs.URL("test")))
		length, _ := ledger.Len(ctx)
		assert.Equal(t, int64(0), length)

		job, err := backend.Reserve(ctx)
		require.NoError(t, err)
		payload, err := job.PayloadObject()
		require.NoError(t, err)
		assert.Equal(t, ErrorJob{}, payload)
	})

	t.Run("stops at the limit", func(t *testing.T) {
		backend, svc := setUp(t)
		ledger := failedRecords(t, backend, 3)

		n, err := Requeue(ctx, backend, ledger, 2)
		assert.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, 2, svc.Len(memsqs.URL("test")))
		length, _ := ledger.Len(ctx)
		assert.Equal(t, int64(1), length)
	})

	t.Run("restores a record that cannot be sent", func(t *testing.T) {
		unavailable := errors.New("service unavailable")
		client := &stubClient{Service: memsqs.New([]string{"test"}), sendErr: unavailable}
		backend := NewBackend(client, WithQueues("test"), WithDefaultQueueName("test"))
		ledger := &memLedger{}
		require.NoError(t, ledger.Record(ctx, FailedRecord{ID: "1", Queue: "test", Handler: "handler"}))

		n, err := Requeue(ctx, backend, ledger, -1)
		assert.ErrorIs(t, err, unavailable)
		assert.Equal(t, 0, n)
		require.Len(t, ledger.records, 1)
		assert.Equal(t, "1", ledger.records[0].ID)
	})

	t.Run("does nothing on an empty ledger", func(t *testing.T) {
		backend, svc := setUp(t)
		n, err := Requeue(ctx, backend, &memLedger{}, -1)
		assert.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Equal(t, 0, svc.Calls("SendMessage"))
	})
}
