package queue

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"
)

// Payload is the unit of work carried by a job. It is serialized into the
// job's handler on enqueue and decoded back before it is performed.
type Payload interface {
	Perform(ctx context.Context) error
}

// BeforeHook is implemented by payloads that want to run code before Perform.
type BeforeHook interface {
	Before(ctx context.Context, job *Job) error
}

// AfterHook runs after Perform, whether it succeeded or not.
type AfterHook interface {
	After(ctx context.Context, job *Job)
}

// SuccessHook runs when Perform returns nil.
type SuccessHook interface {
	Success(ctx context.Context, job *Job)
}

// ErrorHook runs when Before or Perform returns an error.
type ErrorHook interface {
	Error(ctx context.Context, job *Job, err error)
}

// FailureHook runs once a job is given up on. Errors returned by the hook are
// logged by the worker and otherwise ignored.
type FailureHook interface {
	Failure(ctx context.Context, job *Job) error
}

// MaxRunTimer lets a payload ask for a shorter run time than the worker default.
type MaxRunTimer interface {
	MaxRunTime() time.Duration
}

// QueueNamer lets a payload choose the queue it is enqueued on when the caller
// does not name one.
type QueueNamer interface {
	QueueName() string
}

// Namer overrides the display name of a job.
type Namer interface {
	DisplayName() string
}

// TypeName returns the name a payload is registered under: the package path
// and the type name of the underlying (non-pointer) type.
func TypeName(p interface{}) string {
	t := reflect.TypeOf(p)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return fmt.Sprintf("%s.%s", t.PkgPath(), t.Name())
}

type registration struct {
	rType   reflect.Type
	pointer bool
}

// Registry maps payload type names to Go types so that handlers can be
// decoded into the right payload. Registry is safe for concurrent use.
type Registry struct {
	rwLock sync.RWMutex
	types  map[string]registration
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]registration)}
}

// Register records the type of the given payload. Registering the same type
// twice is harmless. Pointer payloads are decoded back into pointers.
func (r *Registry) Register(prototypes ...Payload) {
	r.rwLock.Lock()
	defer r.rwLock.Unlock()

	for _, p := range prototypes {
		t := reflect.TypeOf(p)
		reg := registration{rType: t}
		if t.Kind() == reflect.Ptr {
			reg = registration{rType: t.Elem(), pointer: true}
		}
		r.types[TypeName(p)] = reg
	}
}

func (r *Registry) lookup(name string) (registration, bool) {
	r.rwLock.RLock()
	defer r.rwLock.RUnlock()

	reg, ok := r.types[name]
	return reg, ok
}
