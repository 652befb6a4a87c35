package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/tidepool/internal/config"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	cases := []config.TracingConfig{
		{Enabled: false, Endpoint: "http://collector:4318"},
		{Enabled: true, Endpoint: ""},
	}
	for _, cfg := range cases {
		shutdown, err := Setup(context.Background(), cfg)
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
	}
}

func TestSetupEnabledReturnsProviderShutdown(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracingConfig{
		Enabled:     true,
		Endpoint:    "http://127.0.0.1:4318",
		ServiceName: "tidepool-test",
	})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	// No spans were recorded, so shutdown has nothing to export.
	assert.NoError(t, shutdown(context.Background()))
}
