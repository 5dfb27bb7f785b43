package otelutil

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if shutdown == nil {
		t.Fatal("shutdown must not be nil")
	}
	if err := Flush(shutdown); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
}

func TestInit_StdoutExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), Options{Stdout: true, Writer: &buf})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	_, span := otel.Tracer("otelutil-test").Start(context.Background(), "chat.login")
	span.End()

	if err := Flush(shutdown); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "chat.login") {
		t.Errorf("expected span name in output, got %q", out)
	}
	if !strings.Contains(out, ServiceName) {
		t.Errorf("expected service name in output, got %q", out)
	}
}

func TestFlush_Nil(t *testing.T) {
	if err := Flush(nil); err != nil {
		t.Fatalf("Flush(nil) = %v", err)
	}
}
