package engine

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// GatewayConfig describes how to reach (or start) the shared engine instance.
type GatewayConfig struct {
	// Address is the engine's base URL, e.g. "http://127.0.0.1:4840".
	Address string
	// Launch, when non-empty, is the command to start the engine process if
	// one is not already listening on Address.
	Launch []string
	// StartupTimeout bounds the wait for a launched engine to become healthy.
	StartupTimeout time.Duration
	// RequestTimeout bounds individual bridge calls.
	RequestTimeout time.Duration
	// Metrics, when set, receives bridge call metrics.
	Metrics MetricsInterface
}

// One engine instance is shared by every facade in the process. The gateway
// is initialized on first use and torn down explicitly; facades never own it.
var gateway struct {
	mu     sync.Mutex
	client *Client
	proc   *exec.Cmd
	cancel context.CancelFunc
}

// SharedBridge returns the process-wide bridge client, dialing or launching
// the engine on first call. Later calls reuse the existing connection and
// ignore the config. Safe for concurrent callers.
func SharedBridge(gc GatewayConfig) (*Client, error) {
	gateway.mu.Lock()
	defer gateway.mu.Unlock()

	if gateway.client != nil {
		return gateway.client, nil
	}
	if gc.Address == "" {
		return nil, fmt.Errorf("engine: no engine address configured")
	}

	client := NewClientWithMetrics(gc.Address, gc.Metrics, gc.RequestTimeout)

	// Already listening? Then someone else manages the process.
	probe, probeCancel := context.WithTimeout(context.Background(), 2*time.Second)
	err := client.Health(probe)
	probeCancel()
	if err == nil {
		log.Info().Str("addr", gc.Address).Msg("connected to running engine")
		gateway.client = client
		return client, nil
	}

	if len(gc.Launch) == 0 {
		return nil, fmt.Errorf("engine: engine at %s is not reachable and no launch command configured: %w", gc.Address, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, gc.Launch[0], gc.Launch[1:]...)
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("engine: launch %q: %w", gc.Launch[0], err)
	}
	log.Info().Str("cmd", gc.Launch[0]).Int("pid", cmd.Process.Pid).Msg("engine process launched")

	if err := waitHealthy(client, gc.StartupTimeout); err != nil {
		cancel()
		_ = cmd.Wait()
		return nil, err
	}

	gateway.client = client
	gateway.proc = cmd
	gateway.cancel = cancel
	return client, nil
}

// ShutdownShared tears down the shared connection and stops the engine
// process if this gateway launched it. The next SharedBridge call starts
// fresh.
func ShutdownShared() {
	gateway.mu.Lock()
	defer gateway.mu.Unlock()

	if gateway.cancel != nil {
		gateway.cancel()
		_ = gateway.proc.Wait()
		log.Info().Msg("engine process stopped")
	}
	gateway.client = nil
	gateway.proc = nil
	gateway.cancel = nil
}

func waitHealthy(client *Client, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := client.Health(ctx)
		cancel()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("engine: not healthy after %s: %w", timeout, err)
		}
		time.Sleep(250 * time.Millisecond)
	}
}
