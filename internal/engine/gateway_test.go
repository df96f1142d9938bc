package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forestbridge/internal/engine"
	"forestbridge/internal/engine/enginetest"
)

func TestSharedBridgeReusesConnection(t *testing.T) {
	fake := enginetest.New()
	defer fake.Close()
	defer engine.ShutdownShared()

	first, err := engine.SharedBridge(engine.GatewayConfig{Address: fake.URL()})
	require.NoError(t, err)

	// Second call must hand back the same client even with a different config.
	second, err := engine.SharedBridge(engine.GatewayConfig{Address: "http://127.0.0.1:1"})
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestSharedBridgeUnreachableNoLaunch(t *testing.T) {
	defer engine.ShutdownShared()

	_, err := engine.SharedBridge(engine.GatewayConfig{Address: "http://127.0.0.1:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
}

func TestSharedBridgeRequiresAddress(t *testing.T) {
	defer engine.ShutdownShared()

	_, err := engine.SharedBridge(engine.GatewayConfig{})
	require.Error(t, err)
}

func TestShutdownSharedAllowsReconnect(t *testing.T) {
	fake := enginetest.New()
	defer fake.Close()
	defer engine.ShutdownShared()

	first, err := engine.SharedBridge(engine.GatewayConfig{Address: fake.URL()})
	require.NoError(t, err)

	engine.ShutdownShared()

	second, err := engine.SharedBridge(engine.GatewayConfig{Address: fake.URL()})
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}
