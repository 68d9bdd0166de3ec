package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), Settings{ServiceName: "warecell", Version: "test"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestGlobalInstrumentsUsableBeforeInit(t *testing.T) {
	counter, err := Meter("warecell/test").Int64Counter("warecell.test.count")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	_, span := Tracer("warecell/test").Start(context.Background(), "noop")
	span.End()
}
