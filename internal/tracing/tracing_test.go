package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInit_EmptyEndpoint_ReturnsNoOpProvider(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "test-svc", Insecure: true})
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	err = shutdown(context.Background())
	assert.NoError(t, err)
}

func TestTracer_ReturnsNonNil(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "test-svc"})
	require.NoError(t, err)
	defer shutdown(context.Background())

	tracer := Tracer("test-tracer")
	assert.NotNil(t, tracer)

	_, span := tracer.Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsSampled())
	span.End()
}

func TestInit_ShutdownIdempotent(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "test-svc"})
	require.NoError(t, err)

	assert.NoError(t, shutdown(context.Background()))
	assert.NoError(t, shutdown(context.Background()))
}

func TestConfigSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, sdktrace.ParentBased(sdktrace.AlwaysSample()).Description()},
		{1, sdktrace.ParentBased(sdktrace.AlwaysSample()).Description()},
		{0.25, sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.25)).Description()},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Config{SampleRatio: tt.ratio}.sampler().Description())
	}
}
