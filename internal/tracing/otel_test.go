package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEndpointHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://collector:4318", "collector:4318"},
		{"https://otel.example.com/", "otel.example.com"},
		{"collector:4318", "collector:4318"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, endpointHost(tt.in))
		})
	}
}

func TestNoopSpans(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	ctx, span := TraceRun(context.Background(), "th", "run")
	_, toolSpan := TraceToolCall(ctx, "t1", "Read", "")
	EndWithError(toolSpan, errors.New("boom"))
	TraceRunResult(span, 2, 0.1, false)
	EndWithError(span, nil)

	_, ok := TraceID(ctx)
	assert.False(t, ok, "no-op spans must not report a trace id")
}
