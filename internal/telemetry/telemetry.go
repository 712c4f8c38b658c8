// Package telemetry wires OpenTelemetry trace export for the daemon.
//
// Export stays off unless observability.endpoint is set in the config.
// When set, spans are batched and shipped to an OTLP collector (Jaeger,
// Tempo, a hosted backend) over gRPC or HTTP.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/nextlevelbuilder/hive/internal/config"
)

const defaultServiceName = "hive"

// Setup installs the global tracer provider from cfg and returns a shutdown
// function that flushes pending spans. When no endpoint is configured the
// returned shutdown is a no-op and span creation stays on the default
// no-op provider.
func Setup(ctx context.Context, cfg config.ObservabilityConfig) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	res := resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(name))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	slog.Info("telemetry: OTLP trace export enabled",
		"endpoint", cfg.Endpoint, "protocol", protocol(cfg), "service", name)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg config.ObservabilityConfig) (*otlptrace.Exporter, error) {
	switch protocol(cfg) {
	case "grpc":
		opts := []otlptracegrpc.Option{endpointOptGRPC(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		return otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{endpointOptHTTP(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown OTLP protocol %q (want \"grpc\" or \"http\")", cfg.Protocol)
	}
}

// Endpoints may be bare host:port ("localhost:4317") or a full URL
// ("https://otel.example.com:4318/v1/traces"); the option differs.

func endpointOptGRPC(endpoint string) otlptracegrpc.Option {
	if strings.Contains(endpoint, "://") {
		return otlptracegrpc.WithEndpointURL(endpoint)
	}
	return otlptracegrpc.WithEndpoint(endpoint)
}

func endpointOptHTTP(endpoint string) otlptracehttp.Option {
	if strings.Contains(endpoint, "://") {
		return otlptracehttp.WithEndpointURL(endpoint)
	}
	return otlptracehttp.WithEndpoint(endpoint)
}

func protocol(cfg config.ObservabilityConfig) string {
	if cfg.Protocol == "" {
		return "grpc"
	}
	return cfg.Protocol
}
