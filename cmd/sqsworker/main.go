// Command sqsworker runs the SQS job workers configured under the "queue" key.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"syscall"

	"github.com/DoNewsCode/core"
	"github.com/DoNewsCode/core/contract"
	"github.com/DoNewsCode/core/di"
	"github.com/DoNewsCode/core/otredis"
	queue "github.com/DoNewsCode/core-queue-sqs"
	"github.com/DoNewsCode/core-queue-sqs/memsqs"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics/prometheus"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/oklog/run"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func main() {
	var (
		cfgPath     string
		memory      []string
		metricsAddr string
	)
	rootCmd := &cobra.Command{
		Use:          "sqsworker",
		Short:        "run delayed jobs on amazon sqs",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "the configuration file")
	rootCmd.PersistentFlags().StringSliceVar(&memory, "memory", nil, "serve these queue names from memory instead of sqs")
	rootCmd.FParseErrWhitelist.UnknownFlags = true
	_ = rootCmd.ParseFlags(os.Args[1:])

	var opts []queue.ProvidersOptionFunc
	if len(memory) > 0 {
		opts = append(opts, queue.WithClient(memsqs.New(memory)))
	}

	c := core.New(core.WithConfigStack(file.Provider(cfgPath), yaml.Parser()))
	c.ProvideEssentials()
	c.Provide(otredis.Providers())
	c.Provide(queue.Providers(opts...))
	c.Provide(di.Deps{
		func(appName contract.AppName, env contract.Env) queue.Gauge {
			return prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
				Namespace: appName.String(),
				Subsystem: env.String(),
				Name:      "queue_length",
				Help:      "The approximate number of visible jobs in the queue",
			}, []string{"queue"})
		},
		func(appName contract.AppName, env contract.Env) queue.Counter {
			return prometheus.NewCounterFrom(stdprometheus.CounterOpts{
				Namespace: appName.String(),
				Subsystem: env.String(),
				Name:      "jobs_processed_total",
				Help:      "The number of jobs processed by status",
			}, []string{"queue", "status"})
		},
	})
	c.AddModuleFunc(queue.New)

	workCmd := &cobra.Command{
		Use:   "work",
		Short: "consume every configured queue until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			var g run.Group
			c.ApplyRunGroup(&g)

			g.Add(run.SignalHandler(cmd.Context(), os.Interrupt, syscall.SIGTERM))

			if metricsAddr != "" {
				ln, err := net.Listen("tcp", metricsAddr)
				if err != nil {
					return err
				}
				srv := &http.Server{Handler: promhttp.Handler()}
				g.Add(func() error {
					return srv.Serve(ln)
				}, func(err error) {
					_ = srv.Shutdown(context.Background())
				})
			}
			err := g.Run()
			if errors.As(err, &run.SignalError{}) {
				return nil
			}
			return err
		},
	}
	workCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "serve prometheus metrics on this address, empty to disable")
	rootCmd.AddCommand(workCmd)

	c.ApplyRootCommand(rootCmd)
	c.Invoke(func(logger log.Logger) {
		if err := rootCmd.Execute(); err != nil {
			_ = level.Error(logger).Log("err", err)
			os.Exit(1)
		}
	})
}
