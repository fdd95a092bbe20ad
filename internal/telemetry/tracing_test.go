package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracerProviderExportsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp, err := initTracerProvider(context.Background(), Config{ServiceName: "adcrawler-test"}, exporter)
	require.NoError(t, err)

	ctx, span := Tracer().Start(context.Background(), "worker.process")
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	span.End()

	require.NoError(t, tp.ForceFlush(context.Background()))
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "worker.process", spans[0].Name)
	assert.NotEmpty(t, carrier.Get("traceparent"))

	require.NoError(t, tp.Shutdown(context.Background()))
}

func TestInitTracerProviderWithoutExporter(t *testing.T) {
	tp, err := InitTracerProvider(context.Background(), Config{})
	require.NoError(t, err)
	require.NoError(t, tp.Shutdown(context.Background()))
}

func TestRatio(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want float64
	}{
		{in: 0, want: 1},
		{in: -2, want: 1},
		{in: 0.25, want: 0.25},
		{in: 3, want: 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ratio(tt.in))
	}
}
