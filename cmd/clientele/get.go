package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/phalt/clientele-sub001/cache"
	"github.com/phalt/clientele-sub001/client"
	"github.com/phalt/clientele-sub001/config"
	"github.com/phalt/clientele-sub001/env"
	"github.com/phalt/clientele-sub001/logger"
	"github.com/phalt/clientele-sub001/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
)

// countingOperation reports whether the last call reached the API.
type countingOperation struct {
	*client.Operation[any]
	calls int
}

func (o *countingOperation) Invoke(ctx context.Context, call cache.Call) (any, error) {
	o.calls++
	return o.Operation.Invoke(ctx, call)
}

func loadConfig(fn string) (*config.Config, error) {
	c := config.Default()
	if fn != "" {
		var err error
		if c, err = config.Load(fn); err != nil {
			return nil, err
		}
	}
	if err := c.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func getCmd() *cobra.Command {
	var (
		configFile string
		path       string
		repeat     int
		stats      bool
	)
	cmd := &cobra.Command{
		Use:   "get [name=value...]",
		Short: "Issue a memoized GET request",
		Long: `Issue a memoized GET request against the configured API.

Parameters that match a placeholder of --path fill the path, the rest are sent
as query parameters. With --repeat the call is made several times and each
attempt reports whether it was served from the cache.`,
		Example: `  clientele get --config clientele.yaml --path '/pokemon/{id}' --repeat 2 id=25`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := env.NewLogger(cmd)
			if path == "" {
				return fmt.Errorf("--path is required")
			}
			params, err := parseParams(args)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			registry := prometheus.NewRegistry()
			metrics := cache.NewMetrics(registry, "clientele")
			backend, closer, err := cfg.Backend(ctx, cache.WithOnEvict(metrics.Evicted))
			if err != nil {
				return err
			}
			defer closer()

			var tp trace.TracerProvider
			if endpoint := env.FlagOrEnv(cmd, "otlp-endpoint", telemetry.EnvEndpoint, ""); endpoint != "" {
				token := os.Getenv("OTEL_EXPORTER_OTLP_TOKEN")
				provider, shutdownTraces, err := telemetry.New(ctx, endpoint, token, "clientele")
				if err != nil {
					return err
				}
				defer shutdownTraces()
				otelLog, shutdownLogs, err := telemetry.NewLogger(ctx, endpoint, token, "clientele", env.LogLevel(cmd))
				if err != nil {
					return err
				}
				defer shutdownLogs()
				tp = provider
				log = logger.NewMultiLogger(log, otelLog)
			}

			clientCfg := cfg.Client(backend, log)
			clientCfg.TracerProvider = tp
			c := client.New(clientCfg)
			op := &countingOperation{Operation: client.Get[any](c, path, signatureFor(path, params))}
			opts := append(cfg.MemoizeOptions(), cache.WithLogger(log), cache.WithMetrics(metrics))
			get := cache.Memoize[any](op, opts...)

			out := cmd.OutOrStdout()
			for i := 1; i <= repeat; i++ {
				before := op.calls
				started := time.Now()
				result, err := get(ctx, cache.Kwargs(params))
				if err != nil {
					return err
				}
				source := "cache"
				if op.calls > before {
					source = "api"
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "attempt %d: %s (%s)\n", i, source, time.Since(started).Round(time.Microsecond))
				if i == 1 || i == repeat {
					buf, err := json.MarshalIndent(result, "", "  ")
					if err != nil {
						return err
					}
					fmt.Fprintln(out, string(buf))
				}
			}
			if stats {
				return printStats(cmd, registry)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "path to a clientele YAML config file")
	cmd.Flags().StringVar(&path, "path", "", "path template, e.g. /pokemon/{id}")
	cmd.Flags().IntVar(&repeat, "repeat", 1, "number of times to make the call")
	cmd.Flags().BoolVar(&stats, "stats", false, "print cache counters when done")
	cmd.Flags().String("otlp-endpoint", "", "export request spans and logs to this OTLP/HTTP collector")
	return cmd
}

func printStats(cmd *cobra.Command, registry *prometheus.Registry) error {
	families, err := registry.Gather()
	if err != nil {
		return err
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })
	for _, mf := range families {
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %g\n", mf.GetName(), total)
	}
	return nil
}
