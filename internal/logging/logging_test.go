package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetState() {
	initMu.Lock()
	initialized = false
	debugMode = false
	jsonFormat = false
	logsDir = ""
	initMu.Unlock()

	loggersMu.Lock()
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()
}

func TestCategoryTags(t *testing.T) {
	cases := map[Category]string{
		CategoryDiscovery: "[DISCOVERY]",
		CategoryGate:      "[GATE]",
		CategoryExec:      "[EXEC]",
		CategoryHeal:      "[HEAL]",
		CategoryCache:     "[CACHE]",
		CategoryHITL:      "[HITL]",
		CategoryRouter:    "[ROUTER]",
		CategoryBoot:      "[BOOT]",
	}
	for cat, want := range cases {
		assert.Equal(t, want, cat.tag())
	}
}

func TestInitializeSilentWhenDebugDisabled(t *testing.T) {
	resetState()
	defer resetState()

	ws := t.TempDir()
	require.NoError(t, Initialize(ws, false, false))
	assert.False(t, IsDebugMode())

	_, err := os.Stat(filepath.Join(ws, ".pacts", "logs"))
	assert.True(t, os.IsNotExist(err), "logs dir should not be created outside debug mode")
}

func TestInitializeCreatesLogsDirInDebugMode(t *testing.T) {
	resetState()
	defer resetState()

	ws := t.TempDir()
	require.NoError(t, Initialize(ws, true, false))
	assert.True(t, IsDebugMode())

	info, err := os.Stat(filepath.Join(ws, ".pacts", "logs"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = os.Stat(filepath.Join(ws, ".pacts", "logs", "boot.log"))
	assert.NoError(t, err)
}

func TestTimerStopReturnsNonNegativeDuration(t *testing.T) {
	resetState()
	defer resetState()
	require.NoError(t, Initialize(t.TempDir(), true, false))

	timer := StartTimer(CategoryExec, "test-op")
	d := timer.Stop()
	assert.GreaterOrEqual(t, d.Nanoseconds(), int64(0))
}
