package queue

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// RedisLedger is a FailedLedger kept in a redis list. New records are pushed
// to the head and popped from the tail.
type RedisLedger struct {
	RedisClient redis.UniversalClient
	// Key is the redis key of the list.
	Key string
	// MaxLen caps the list. Older records are trimmed. Zero means no cap.
	MaxLen int64
}

// Record implements FailedLedger.
func (r *RedisLedger) Record(ctx context.Context, record FailedRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "failed to marshal failed record")
	}
	_, err = r.RedisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, r.Key, data)
		if r.MaxLen > 0 {
			pipe.LTrim(ctx, r.Key, 0, r.MaxLen-1)
		}
		return nil
	})
	return errors.Wrapf(err, "failed to record job %s", record.ID)
}

// Pop implements FailedLedger.
func (r *RedisLedger) Pop(ctx context.Context) (FailedRecord, error) {
	var record FailedRecord
	data, err := r.RedisClient.RPop(ctx, r.Key).Bytes()
	if err == redis.Nil {
		return record, ErrEmpty
	}
	if err != nil {
		return record, errors.Wrap(err, "failed to pop failed record")
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return record, errors.Wrap(err, "failed to unmarshal failed record")
	}
	return record, nil
}

// Len implements FailedLedger.
func (r *RedisLedger) Len(ctx context.Context) (int64, error) {
	n, err := r.RedisClient.LLen(ctx, r.Key).Result()
	return n, errors.Wrap(err, "failed to count failed records")
}
