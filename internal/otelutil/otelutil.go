// Package otelutil installs the process-wide OpenTelemetry tracer provider.
package otelutil

import (
	"context"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// ServiceName is reported as service.name on every span.
const ServiceName = "toy-voice-chat"

// Options select the exporter.
type Options struct {
	// Stdout prints finished spans as JSON. When false Init leaves the
	// global no-op provider in place.
	Stdout bool
	// Writer receives stdout spans, os.Stdout when nil.
	Writer io.Writer
	// PrettyPrint indents the JSON output.
	PrettyPrint bool
}

// Shutdown flushes pending spans and stops the provider.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Init installs a tracer provider according to opts and returns its
// shutdown function. The returned function is never nil.
func Init(ctx context.Context, opts Options) (Shutdown, error) {
	if !opts.Stdout {
		return noop, nil
	}

	res, err := sdkresource.New(ctx, sdkresource.WithAttributes(
		semconv.ServiceNameKey.String(ServiceName),
	))
	if err != nil {
		return noop, err
	}

	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	exporterOpts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if opts.PrettyPrint {
		exporterOpts = append(exporterOpts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(exporterOpts...)
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp.Shutdown, nil
}

// Flush runs shutdown with a bounded timeout. It is safe to call with a nil
// function.
func Flush(shutdown Shutdown) error {
	if shutdown == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return shutdown(ctx)
}
