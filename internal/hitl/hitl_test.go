package hitl

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/example/pacts/internal/config"
)

// TestMain verifies the polling loop in Wait leaves no goroutine behind once
// it returns, whether by resolution, timeout, or context cancellation —
// the three exits spec §4.7's bridge must clean up after.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestBridge(t *testing.T) (*Bridge, string) {
	t.Helper()
	ws := t.TempDir()
	cfg := config.Default()
	cfg.HITLPollIntervalMS = 10
	cfg.HITLTimeoutMS = 200
	require.NoError(t, os.MkdirAll(filepath.Join(ws, ".pacts", "hitl"), 0o755))
	return New(cfg, ws), ws
}

func TestWaitResolvesFromEnvVar(t *testing.T) {
	b, _ := newTestBridge(t)
	t.Setenv(b.cfg.HITLEnvVar, "123456")

	res, resolved, err := b.Wait(context.Background(), "req-1")
	require.NoError(t, err)
	assert.True(t, resolved)
	assert.Equal(t, "123456", res.Answer)
}

func TestWaitResolvesFromInputFile(t *testing.T) {
	b, ws := newTestBridge(t)
	inputPath := filepath.Join(ws, ".pacts", b.cfg.HITLInputFile)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = os.WriteFile(inputPath, []byte("654321\n"), 0o644)
	}()

	res, resolved, err := b.Wait(context.Background(), "req-2")
	require.NoError(t, err)
	assert.True(t, resolved)
	assert.Equal(t, "654321", res.Answer)

	_, statErr := os.Stat(inputPath)
	assert.True(t, os.IsNotExist(statErr), "input file should be consumed after read")
}

func TestWaitResolvesFromPresenceFile(t *testing.T) {
	b, ws := newTestBridge(t)
	presencePath := filepath.Join(ws, ".pacts", b.cfg.HITLPresenceFile)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = os.WriteFile(presencePath, []byte{}, 0o644)
	}()

	res, resolved, err := b.Wait(context.Background(), "req-3")
	require.NoError(t, err)
	assert.True(t, resolved)
	assert.Empty(t, res.Answer)
}

func TestWaitTimesOut(t *testing.T) {
	b, _ := newTestBridge(t)
	_, resolved, err := b.Wait(context.Background(), "req-4")
	require.NoError(t, err)
	assert.False(t, resolved)
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	b, _ := newTestBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := b.Wait(ctx, "req-5")
	assert.Error(t, err)
}
