package queue

import (
	"context"
	"testing"
	"time"

	"github.com/DoNewsCode/core-queue-sqs/memsqs"
	"github.com/DoNewsCode/core/config"
	"github.com/DoNewsCode/core/di"
	"github.com/go-kit/kit/log"
	"github.com/oklog/run"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMakerIn(confs map[string]Configuration) makerIn {
	return makerIn{
		Conf:       config.WithAccessor(config.MapAdapter{"queue": confs}),
		Dispatcher: &SyncDispatcher{},
		Logger:     log.NewNopLogger(),
		AppName:    config.AppName("test"),
		Env:        config.EnvTesting,
	}
}

func TestProvideWorkerFactory(t *testing.T) {
	svc := memsqs.New([]string{"default", "alternative"})
	out, err := provideWorkerFactory(&providersOption{client: svc})(testMakerIn(map[string]Configuration{
		"default": {
			QueueName:   "default",
			Parallelism: 1,
		},
		"alternative": {
			QueueName:         "alternative",
			Parallelism:       3,
			DestroyFailedJobs: true,
		},
	}))
	require.NoError(t, err)
	assert.NotNil(t, out.WorkerFactory)
	assert.Implements(t, (*di.Modular)(nil), out)

	worker, err := out.WorkerFactory.Make("alternative")
	require.NoError(t, err)
	assert.Equal(t, "alternative", worker.Name())
	assert.Equal(t, 3, worker.parallelism)
	assert.True(t, worker.destroyFailedJobs)
	assert.Equal(t, "alternative", worker.Backend().DefaultQueueName())

	def, err := out.WorkerFactory.Make("default")
	require.NoError(t, err)
	assert.Same(t, worker.Backend().Resolver(), def.Backend().Resolver())

	_, err = out.WorkerFactory.Make("missing")
	assert.Error(t, err)
}

func TestProvideWorkerFactory_defaultWithoutConfig(t *testing.T) {
	out, err := provideWorkerFactory(&providersOption{client: memsqs.New([]string{"default"})})(testMakerIn(nil))
	require.NoError(t, err)

	worker, err := out.WorkerFactory.Make("default")
	require.NoError(t, err)
	assert.Equal(t, "default", worker.Backend().DefaultQueueName())
	assert.Equal(t, DefaultMaxRunTime, worker.maxRunTime)
}

func TestProvideWorkerFactory_clientConstructor(t *testing.T) {
	var names []string
	constructor := func(args ClientConstructorArgs) (SQSAPI, error) {
		names = append(names, args.Name)
		assert.Equal(t, []string{"custom"}, args.Conf.Queues)
		return memsqs.New([]string{"custom"}), nil
	}
	out, err := provideWorkerFactory(&providersOption{clientConstructor: constructor})(testMakerIn(map[string]Configuration{
		"custom": {QueueName: "custom"},
	}))
	require.NoError(t, err)

	_, err = out.WorkerFactory.Make("custom")
	require.NoError(t, err)
	assert.Equal(t, []string{"custom"}, names)
}

func TestProvideWorkerFactory_ledgerWithoutPopulator(t *testing.T) {
	out, err := provideWorkerFactory(&providersOption{client: memsqs.New([]string{"default"})})(testMakerIn(map[string]Configuration{
		"default": {QueueName: "default", RedisName: "default"},
	}))
	require.NoError(t, err)

	_, err = out.WorkerFactory.Make("default")
	assert.Error(t, err)
}

func TestProvideRunGroup(t *testing.T) {
	svc := memsqs.New([]string{"default"})
	option := &providersOption{client: svc}
	WithPayloads(SimpleJob{})(option)
	out, err := provideWorkerFactory(option)(testMakerIn(map[string]Configuration{
		"default": {QueueName: "default", Parallelism: 1, SleepDelaySecond: 1},
	}))
	require.NoError(t, err)

	worker, err := out.WorkerFactory.Make("default")
	require.NoError(t, err)
	done := make(chan struct{}, 1)
	worker.Subscribe(Listen([]Event{AfterSuccess}, func(ctx context.Context, event Event, payload interface{}) error {
		done <- struct{}{}
		return nil
	}))
	_, err = worker.Backend().Enqueue(context.Background(), SimpleJob{Value: "hello"})
	require.NoError(t, err)

	var g run.Group
	out.ProvideRunGroup(&g)
	g.Add(func() error {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("job was not consumed")
		}
		return nil
	}, func(err error) {})
	assert.NoError(t, g.Run())
	assert.Equal(t, 0, svc.Len(memsqs.URL("default")))
}

func TestProvideWorker(t *testing.T) {
	out, err := provideWorkerFactory(&providersOption{client: memsqs.New([]string{"default"})})(testMakerIn(nil))
	require.NoError(t, err)
	w, err := provideWorker(out.WorkerFactory)
	require.NoError(t, err)
	assert.Equal(t, "default", w.Worker.Name())
}

func TestProvideConfigs(t *testing.T) {
	c := provideConfig()
	require.Len(t, c.Config, 1)
	assert.Equal(t, "queue", c.Config[0].Owner)
	assert.Contains(t, c.Config[0].Data, "queue")
}
