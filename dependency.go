package queue

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/DoNewsCode/core/config"
	"github.com/DoNewsCode/core/contract"
	"github.com/DoNewsCode/core/di"
	"github.com/DoNewsCode/core/otredis"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics"
	"github.com/oklog/run"
	"github.com/pkg/errors"
)

/*
Providers returns a set of dependencies related to the SQS queue. It includes
the WorkerMaker, the default *Worker and the exported configs.
	Depends On:
		contract.ConfigAccessor
		log.Logger
		contract.AppName
		contract.Env
		Dispatcher           `optional:"true"`
		Gauge                `optional:"true"`
		Counter              `optional:"true"`
		contract.DIPopulator `optional:"true"`
	Provides:
		WorkerFactory
		WorkerMaker
		*Worker
*/
func Providers(optionFunc ...ProvidersOptionFunc) di.Deps {
	option := &providersOption{}
	for _, f := range optionFunc {
		f(option)
	}
	return []interface{}{
		provideWorkerFactory(option),
		provideConfig,
		provideWorker,
		di.Bind(new(WorkerFactory), new(WorkerMaker)),
	}
}

// Gauge is an alias used for dependency injection
type Gauge metrics.Gauge

// Counter is an alias used for dependency injection
type Counter metrics.Counter

// Configuration is the struct for queue configs.
type Configuration struct {
	// QueueName is where jobs go when they name no queue.
	QueueName string `yaml:"queueName" json:"queueName"`
	// Queues are the queue names the worker serves. The first one is reserved from.
	Queues []string `yaml:"queues" json:"queues"`
	// QueueURL, when set, replaces the lookup of Queues by name.
	QueueURL                       string `yaml:"queueURL" json:"queueURL"`
	Region                         string `yaml:"region" json:"region"`
	Endpoint                       string `yaml:"endpoint" json:"endpoint"`
	Parallelism                    int    `yaml:"parallelism" json:"parallelism"`
	SleepDelaySecond               int    `yaml:"sleepDelaySecond" json:"sleepDelaySecond"`
	MaxRunTimeSecond               int    `yaml:"maxRunTimeSecond" json:"maxRunTimeSecond"`
	WaitTimeSecond                 int    `yaml:"waitTimeSecond" json:"waitTimeSecond"`
	VisibilityTimeoutSecond        int    `yaml:"visibilityTimeoutSecond" json:"visibilityTimeoutSecond"`
	DestroyFailedJobs              bool   `yaml:"destroyFailedJobs" json:"destroyFailedJobs"`
	CheckQueueLengthIntervalSecond int    `yaml:"checkQueueLengthIntervalSecond" json:"checkQueueLengthIntervalSecond"`
	// RedisName names the redis client that keeps the failed ledger. Empty disables the ledger.
	RedisName string `yaml:"redisName" json:"redisName"`
}

func (c Configuration) withDefaults(name string) Configuration {
	if c.QueueName == "" {
		c.QueueName = name
	}
	if len(c.Queues) == 0 {
		c.Queues = []string{c.QueueName}
	}
	if c.Parallelism <= 0 {
		c.Parallelism = runtime.NumCPU()
	}
	if c.SleepDelaySecond <= 0 {
		c.SleepDelaySecond = 5
	}
	if c.MaxRunTimeSecond <= 0 {
		c.MaxRunTimeSecond = int(DefaultMaxRunTime / time.Second)
	}
	return c
}

// makerIn is the injection parameters for provideWorkerFactory
type makerIn struct {
	di.In

	Conf       contract.ConfigAccessor
	Dispatcher Dispatcher `optional:"true"`
	Logger     log.Logger
	AppName    contract.AppName
	Env        contract.Env
	Gauge      Gauge                `optional:"true"`
	Counter    Counter              `optional:"true"`
	Populator  contract.DIPopulator `optional:"true"`
}

// makerOut is the di output of provideWorkerFactory
type makerOut struct {
	di.Out
	WorkerFactory WorkerFactory
}

func (m makerOut) ModuleSentinel() {}

func (m makerOut) Module() interface{} { return m }

// provideWorkerFactory is a provider for WorkerFactory. Workers of the same
// client share one Resolver.
func provideWorkerFactory(option *providersOption) func(p makerIn) (makerOut, error) {
	if option.clientConstructor == nil {
		option.clientConstructor = newDefaultClient
	}
	if option.registry == nil {
		option.registry = NewRegistry()
	}
	var sharedResolver *Resolver
	if option.client != nil {
		sharedResolver = NewResolver(option.client)
	}
	return func(p makerIn) (makerOut, error) {
		var (
			err        error
			queueConfs map[string]Configuration
		)
		err = p.Conf.Unmarshal("queue", &queueConfs)
		if err != nil {
			level.Warn(p.Logger).Log("err", err)
		}
		factory := di.NewFactory(func(name string) (di.Pair, error) {
			var (
				ok   bool
				err  error
				conf Configuration
			)
			if conf, ok = queueConfs[name]; !ok {
				if name != "default" {
					return di.Pair{}, fmt.Errorf("queue configuration %s not found", name)
				}
			}
			conf = conf.withDefaults(name)

			client, resolver := option.client, sharedResolver
			if client == nil {
				client, err = option.clientConstructor(ClientConstructorArgs{
					Name:    name,
					Conf:    conf,
					Logger:  p.Logger,
					AppName: p.AppName,
					Env:     p.Env,
				})
				if err != nil {
					return di.Pair{}, err
				}
				resolver = NewResolver(client)
			}

			backend := NewBackend(
				client,
				WithQueueURL(conf.QueueURL),
				WithQueues(conf.Queues...),
				WithDefaultQueueName(conf.QueueName),
				WithResolver(resolver),
				WithRegistry(option.registry),
				WithLogger(log.With(p.Logger, "queue", name)),
				WithWaitTime(time.Duration(conf.WaitTimeSecond)*time.Second),
				WithVisibilityTimeout(time.Duration(conf.VisibilityTimeoutSecond)*time.Second),
			)

			opts := []func(*Worker){
				UseName(name),
				UseLogger(p.Logger),
				UseParallelism(conf.Parallelism),
				UseSleepDelay(time.Duration(conf.SleepDelaySecond) * time.Second),
				UseMaxRunTime(time.Duration(conf.MaxRunTimeSecond) * time.Second),
				UseDestroyFailedJobs(conf.DestroyFailedJobs),
			}
			if p.Dispatcher != nil {
				opts = append(opts, UseDispatcher(p.Dispatcher))
			}
			if p.Gauge != nil {
				opts = append(opts, UseGauge(p.Gauge, time.Duration(conf.CheckQueueLengthIntervalSecond)*time.Second))
			}
			if p.Counter != nil {
				opts = append(opts, UseCounter(p.Counter))
			}
			if conf.RedisName != "" {
				ledger, err := newRedisLedger(p, name, conf.RedisName)
				if err != nil {
					return di.Pair{}, err
				}
				opts = append(opts, UseFailedLedger(ledger))
			}
			return di.Pair{
				Closer: nil,
				Conn:   NewWorker(backend, opts...),
			}, nil
		})

		// Workers must be created eagerly, so that the consumer goroutines can start on boot up.
		for name := range queueConfs {
			factory.Make(name)
		}

		return makerOut{
			WorkerFactory: WorkerFactory{Factory: factory},
		}, nil
	}
}

// ProvideRunGroup implements container.RunProvider.
func (m makerOut) ProvideRunGroup(group *run.Group) {
	for name := range m.WorkerFactory.List() {
		queueName := name
		ctx, cancel := context.WithCancel(context.Background())
		group.Add(func() error {
			worker, err := m.WorkerFactory.Make(queueName)
			if err != nil {
				return err
			}
			return worker.Consume(ctx)
		}, func(err error) {
			cancel()
		})
	}
}

func newDefaultClient(args ClientConstructorArgs) (SQSAPI, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if args.Conf.Region != "" {
		opts = append(opts, awsconfig.WithRegion(args.Conf.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load aws config for queue %s", args.Name)
	}
	return sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if args.Conf.Endpoint != "" {
			o.BaseEndpoint = aws.String(args.Conf.Endpoint)
		}
	}), nil
}

func newRedisLedger(p makerIn, name, redisName string) (*RedisLedger, error) {
	var maker otredis.Maker
	if p.Populator == nil {
		return nil, errors.New("the failed ledger requires setting the populator in DI container")
	}
	if err := p.Populator.Populate(&maker); err != nil {
		return nil, fmt.Errorf("the failed ledger requires an otredis.Maker in DI container: %w", err)
	}
	client, err := maker.Make(redisName)
	if err != nil {
		return nil, fmt.Errorf("the failed ledger requires the redis client called %s: %w", redisName, err)
	}
	return &RedisLedger{
		RedisClient: client,
		Key:         fmt.Sprintf("{%s:%s:%s}:failed", p.AppName.String(), p.Env.String(), name),
		MaxLen:      10000,
	}, nil
}

type workerOut struct {
	di.Out

	Worker *Worker
}

func provideWorker(maker WorkerMaker) (workerOut, error) {
	worker, err := maker.Make("default")
	return workerOut{
		Worker: worker,
	}, err
}

type configOut struct {
	di.Out

	Config []config.ExportedConfig `group:"config,flatten"`
}

func provideConfig() configOut {
	configs := []config.ExportedConfig{{
		Owner: "queue",
		Data: map[string]interface{}{
			"queue": map[string]Configuration{
				"default": {
					QueueName:                      "default",
					Queues:                         []string{"default"},
					Parallelism:                    runtime.NumCPU(),
					SleepDelaySecond:               5,
					MaxRunTimeSecond:               int(DefaultMaxRunTime / time.Second),
					CheckQueueLengthIntervalSecond: 15,
				},
			},
		},
	}}
	return configOut{Config: configs}
}
