// Package telemetry exports the client's request spans and logs to an OTLP
// collector.
package telemetry

import (
	"context"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/phalt/clientele-sub001/logger"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

// EnvEndpoint is read by the CLI when --otlp-endpoint is not given.
const EnvEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"

type ShutdownFunc func()

// endpoint returns the collector URL for signal ("traces" or "logs").
func endpoint(serverURL, signal string) (*url.URL, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing otlp endpoint")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Newf("invalid otlp endpoint %q: scheme must be http or https", serverURL)
	}
	u.Path = "/v1/" + signal
	return u, nil
}

func newResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	res, err := resource.New(
		ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil && !errors.Is(err, resource.ErrPartialResource) && !errors.Is(err, resource.ErrSchemaURLConflict) {
		return nil, errors.Wrap(err, "error creating resource")
	}
	return res, nil
}

func authHeaders(authToken string) map[string]string {
	headers := make(map[string]string)
	if authToken != "" {
		headers["Authorization"] = "Bearer " + authToken
	}
	return headers
}

func shutdownWithTimeout(fn func(context.Context) error) ShutdownFunc {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		fn(ctx)
	}
}

// New returns a tracer provider that batches spans to the OTLP/HTTP collector
// at serverURL. A non-empty authToken is sent as a bearer token. The shutdown
// function flushes pending spans.
func New(ctx context.Context, serverURL string, authToken string, serviceName string) (*sdktrace.TracerProvider, ShutdownFunc, error) {
	u, err := endpoint(serverURL, "traces")
	if err != nil {
		return nil, nil, err
	}
	res, err := newResource(ctx, serviceName)
	if err != nil {
		return nil, nil, err
	}
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpointURL(u.String()),
		otlptracehttp.WithHeaders(authHeaders(authToken)),
		otlptracehttp.WithTimeout(time.Second * 10),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
	}
	if u.Scheme == "http" {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "error creating trace exporter")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	return tp, shutdownWithTimeout(tp.Shutdown), nil
}

// NewLogger returns a Logger that batches records at or above level to the
// OTLP/HTTP collector at serverURL. The shutdown function flushes pending
// records.
func NewLogger(ctx context.Context, serverURL string, authToken string, serviceName string, level logger.LogLevel) (logger.Logger, ShutdownFunc, error) {
	u, err := endpoint(serverURL, "logs")
	if err != nil {
		return nil, nil, err
	}
	res, err := newResource(ctx, serviceName)
	if err != nil {
		return nil, nil, err
	}
	opts := []otlploghttp.Option{
		otlploghttp.WithEndpointURL(u.String()),
		otlploghttp.WithHeaders(authHeaders(authToken)),
		otlploghttp.WithTimeout(time.Second * 10),
		otlploghttp.WithCompression(otlploghttp.GzipCompression),
	}
	if u.Scheme == "http" {
		opts = append(opts, otlploghttp.WithInsecure())
	}
	exporter, err := otlploghttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "error creating log exporter")
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)
	return logger.NewOtelLogger(provider.Logger(serviceName), level), shutdownWithTimeout(provider.Shutdown), nil
}
