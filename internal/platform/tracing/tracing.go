// Package tracing installs the OpenTelemetry tracer provider used by the services.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"LIBRIS-backend/internal/platform/config"
)

const serviceName = "libris-backend"

// Provider は停止時に Shutdown でバッファ中のスパンを書き出す
type Provider struct {
	trace.TracerProvider
	shutdown func(context.Context) error
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// New は設定に応じた Provider を作り、グローバルにも登録する。
// exporter が none なら何も記録しない noop を返す。
func New(cfg *config.Config, w io.Writer) (*Provider, error) {
	if cfg.Tracing.Exporter != "stdout" {
		p := &Provider{TracerProvider: noop.NewTracerProvider()}
		otel.SetTracerProvider(p)
		return p, nil
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	tp := newSDKProvider(cfg, sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return &Provider{TracerProvider: tp, shutdown: tp.Shutdown}, nil
}

func newSDKProvider(cfg *config.Config, opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", cfg.Version),
		attribute.String("deployment.environment", cfg.Mode),
	)
	opts = append(opts,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Tracing.SampleRatio))),
	)
	return sdktrace.NewTracerProvider(opts...)
}
