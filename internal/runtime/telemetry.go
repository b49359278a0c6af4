package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

// Version is reported as service.version on traces and metrics.
var Version = "dev"

// telemetry owns the providers installed for the daemon's lifetime.
type telemetry struct {
	shutdowns []func(context.Context) error
	metrics   http.Handler
}

func (t *telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(t.shutdowns) - 1; i >= 0; i-- {
		if err := t.shutdowns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// setupTelemetry installs the global tracer and meter providers. The returned
// handler serves Prometheus metrics and may be nil.
func setupTelemetry(cfg config.Config, logger *slog.Logger) (func(context.Context) error, http.Handler, error) {
	log := logger.With(slog.String("component", "telemetry"))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Warn("telemetry export failed", slog.String("error", err.Error()))
	}))
	otel.SetTextMapPropagator(propagation.TraceContext{})

	res, err := voiceResource(context.Background(), cfg)
	if err != nil {
		return nil, nil, err
	}

	t := &telemetry{}
	tp, err := newTracerProvider(context.Background(), cfg.Telemetry, res, log)
	if err != nil {
		return nil, nil, err
	}
	otel.SetTracerProvider(tp)
	t.shutdowns = append(t.shutdowns, tp.Shutdown)

	mp, handler := newMeterProvider(res, log)
	otel.SetMeterProvider(mp)
	t.shutdowns = append(t.shutdowns, mp.Shutdown)
	t.metrics = handler

	return t.Shutdown, t.metrics, nil
}

// voiceResource describes this daemon: which node it runs on and which
// recognizer it drives.
func voiceResource(ctx context.Context, cfg config.Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.RuntimeName),
		semconv.ServiceVersion(Version),
		attribute.String("deployment.environment", cfg.Environment),
		attribute.Bool("loqa.voice.enabled", cfg.Voice.Enabled),
	}
	if cfg.Voice.Enabled {
		attrs = append(attrs,
			attribute.String("loqa.voice.engine", cfg.Voice.Engine),
			attribute.String("loqa.voice.locale", cfg.Voice.Locale),
		)
		if cfg.Voice.Device != "" {
			attrs = append(attrs, attribute.String("loqa.voice.device", cfg.Voice.Device))
		}
	}
	res, err := resource.New(ctx, resource.WithHost(), resource.WithAttributes(attrs...))
	if err != nil && !errors.Is(err, resource.ErrPartialResource) {
		return nil, err
	}
	return res, nil
}

func traceExporterKind(cfg config.TelemetryConfig) string {
	kind := strings.ToLower(strings.TrimSpace(cfg.TraceExporter))
	if kind == "" || kind == "auto" {
		if strings.TrimSpace(cfg.OTLPEndpoint) != "" {
			return "otlp"
		}
		return "stdout"
	}
	return kind
}

func newTracerProvider(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, log *slog.Logger) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TraceSampleRatio))),
	}

	kind := traceExporterKind(cfg)
	switch kind {
	case "otlp":
		endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
		clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, clientOpts...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
		log.Info("tracing enabled", slog.String("exporter", kind), slog.String("endpoint", endpoint))
	case "stdout":
		// stdout carries the JSON log stream.
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
		log.Info("tracing enabled", slog.String("exporter", kind))
	default:
		log.Info("tracing disabled")
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

// newMeterProvider exports metrics on a private registry that also carries
// the Go runtime and process collectors. A nil handler means metrics are
// recorded but not served.
func newMeterProvider(res *resource.Resource, log *slog.Logger) (*sdkmetric.MeterProvider, http.Handler) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		log.Warn("prometheus exporter unavailable", slog.String("error", err.Error()))
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	return mp, promhttp.HandlerFor(registry, promhttp.HandlerOpts{ErrorLog: slog.NewLogLogger(log.Handler(), slog.LevelWarn)})
}
