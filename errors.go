package queue

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNoQueue is returned when neither a queue URL nor a resolvable queue
	// name is available. It is a configuration error and is never retried.
	ErrNoQueue = errors.New("no resolvable queue")
	// ErrJobExists is returned when Save is called on a job that already has an
	// ID. SQS cannot update a message in place, so saving again would only
	// create a duplicate.
	ErrJobExists = errors.New("cannot update existing job")
	// ErrInvalidJob is returned when a job carries neither a handler nor a payload.
	ErrInvalidJob = errors.New("job has no handler")
	// ErrDeserialization is returned when a handler cannot be decoded back into a Payload.
	ErrDeserialization = errors.New("unable to deserialize handler")
	// ErrNotImplemented marks operations that have no correct mapping onto SQS.
	// Use IsUnsupported or errors.Is to detect it.
	ErrNotImplemented = errors.New("not implemented")
	// ErrEmpty is returned by a FailedLedger when there is nothing to pop.
	ErrEmpty = errors.New("empty")
)

// UnsupportedError describes an operation of the job contract that SQS cannot
// honor. It matches ErrNotImplemented under errors.Is.
type UnsupportedError struct {
	Op     string
	Reason string
}

func (e *UnsupportedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("sqs queue: %s: %s", e.Op, ErrNotImplemented)
	}
	return fmt.Sprintf("sqs queue: %s: %s (%s)", e.Op, ErrNotImplemented, e.Reason)
}

// Is reports whether target is ErrNotImplemented.
func (e *UnsupportedError) Is(target error) bool {
	return target == ErrNotImplemented
}

// IsUnsupported reports whether err signals an operation SQS cannot support,
// as opposed to a transient service failure.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrNotImplemented)
}

func unsupported(op, reason string) error {
	return &UnsupportedError{Op: op, Reason: reason}
}
