package queue

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

type queueKey struct {
	address string
	name    string
}

// Resolver turns a queue URL or a queue name into a queue URL, caching name
// lookups so that GetQueueUrl is called once per name. A Resolver is safe for
// concurrent use.
type Resolver struct {
	locator QueueLocator
	group   singleflight.Group

	rwLock sync.RWMutex
	cache  map[queueKey]string
}

// NewResolver creates a Resolver backed by the given locator.
func NewResolver(locator QueueLocator) *Resolver {
	return &Resolver{
		locator: locator,
		cache:   make(map[queueKey]string),
	}
}

// Resolve returns the URL of the queue. An explicit address always wins over
// the name and never costs a round trip. If both are empty, ErrNoQueue is
// returned.
func (r *Resolver) Resolve(ctx context.Context, address, name string) (string, error) {
	if address != "" {
		return address, nil
	}
	if name == "" {
		return "", errors.Wrap(ErrNoQueue, "neither queue url nor queue name is configured")
	}
	key := queueKey{address: address, name: name}

	r.rwLock.RLock()
	url, ok := r.cache[key]
	r.rwLock.RUnlock()
	if ok {
		return url, nil
	}

	// The lookup is shared, so it must outlive the caller that started it.
	lookupCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(name, func() (interface{}, error) {
		out, err := r.locator.GetQueueUrl(lookupCtx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
		if err != nil {
			var notFound *types.QueueDoesNotExist
			if errors.As(err, &notFound) {
				return "", errors.Wrapf(ErrNoQueue, "queue %s does not exist: %s", name, err)
			}
			return "", err
		}
		url := aws.ToString(out.QueueUrl)
		if url == "" {
			return "", errors.Wrapf(ErrNoQueue, "queue %s resolved to an empty url", name)
		}
		r.rwLock.Lock()
		r.cache[key] = url
		r.rwLock.Unlock()
		return url, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Reset forgets every resolved queue.
func (r *Resolver) Reset() {
	r.rwLock.Lock()
	defer r.rwLock.Unlock()

	r.cache = make(map[queueKey]string)
}
