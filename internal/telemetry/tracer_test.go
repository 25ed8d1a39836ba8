package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/jamesprial/storegate/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracer(t *testing.T) {
	var out bytes.Buffer
	shutdown, err := InitTracer("storegate-test", logging.NewNoOpLogger(), WithWriter(&out))
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "forward")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, out.String(), `"Name":"forward"`)
	assert.Contains(t, out.String(), "storegate-test")

	fields := otel.GetTextMapPropagator().Fields()
	assert.Contains(t, fields, "traceparent")
}
