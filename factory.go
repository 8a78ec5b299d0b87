package queue

import "github.com/DoNewsCode/core/di"

// WorkerFactory is a factory for *Worker, one per configured queue. Note
// WorkerFactory doesn't contain the factory method itself. Users can build
// their own, for example on top of an in-memory SQS:
//
//		factory := di.NewFactory(func(name string) (di.Pair, error) {
//			backend := queue.NewBackend(memsqs.New([]string{name}), queue.WithQueues(name))
//			return di.Pair{Conn: queue.NewWorker(backend)}, nil
//		})
//		workerFactory := WorkerFactory{Factory: factory}
//
type WorkerFactory struct {
	*di.Factory
}

// Make returns a Worker by the given name. If it has already been created under the same name,
// the that one will be returned.
func (s WorkerFactory) Make(name string) (*Worker, error) {
	client, err := s.Factory.Make(name)
	if err != nil {
		return nil, err
	}
	return client.(*Worker), nil
}

// WorkerMaker is the key of WorkerFactory in the dependencies graph. Used as a type hint for injection.
type WorkerMaker interface {
	Make(string) (*Worker, error)
}
