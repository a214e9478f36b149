// Package hitl implements the Human-in-the-Loop Bridge (spec C7): a zero-TTY
// polling handshake the engine uses to ask an operator for input (e.g. a 2FA
// code) without a terminal attached. Three channels are checked in order
// every poll interval: an environment variable, a file whose content is the
// answer, and a file whose mere presence means "continue" (spec §4.7).
//
// Grounded on cmd_browser.go's control-file handshake
// (os.WriteFile/os.ReadFile against a well-known path for cross-process
// signaling), generalized here from a one-shot handshake into a poll loop.
package hitl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/example/pacts/internal/config"
	"github.com/example/pacts/internal/logging"
)

// Bridge polls for human input using the three-channel protocol.
type Bridge struct {
	cfg       *config.Config
	workspace string
}

// New constructs a Bridge rooted at workspace (HITL files live under
// workspace/.pacts/<hitl paths from config>).
func New(cfg *config.Config, workspace string) *Bridge {
	return &Bridge{cfg: cfg, workspace: workspace}
}

// Result is what the bridge observed: either an answer string (env var or
// file-content channel) or a bare continuation signal (file-presence
// channel) with no payload.
type Result struct {
	Answer   string
	Resolved bool
}

// Wait polls env -> input-file -> presence-file in order, every
// HITLPollIntervalMS, until one resolves or HITLTimeoutMS elapses (spec
// §4.7). Returns FailureWaitForHuman-equivalent via the bool return when the
// timeout is reached; callers map that to model.FailureWaitForHuman.
func (b *Bridge) Wait(ctx context.Context, reqID string) (Result, bool, error) {
	logging.Get(logging.CategoryHITL).Info("req=%s waiting for human input, timeout=%s", reqID, b.cfg.HITLTimeout())

	deadline := time.Now().Add(b.cfg.HITLTimeout())
	ticker := time.NewTicker(b.cfg.HITLPollInterval())
	defer ticker.Stop()

	for {
		if res, ok, err := b.poll(); err != nil {
			return Result{}, false, err
		} else if ok {
			logging.Get(logging.CategoryHITL).Info("req=%s human input received", reqID)
			return res, true, nil
		}

		if time.Now().After(deadline) {
			logging.Get(logging.CategoryHITL).Warn("req=%s human input timed out", reqID)
			return Result{}, false, nil
		}

		select {
		case <-ctx.Done():
			return Result{}, false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// poll checks all three channels once, in priority order.
func (b *Bridge) poll() (Result, bool, error) {
	if v := os.Getenv(b.cfg.HITLEnvVar); v != "" {
		return Result{Answer: v, Resolved: true}, true, nil
	}

	inputPath := filepath.Join(b.workspace, ".pacts", b.cfg.HITLInputFile)
	if data, err := os.ReadFile(inputPath); err == nil {
		content := trimNewline(string(data))
		if content != "" {
			_ = os.Remove(inputPath) // consume, so a stale answer isn't replayed next run
			return Result{Answer: content, Resolved: true}, true, nil
		}
	} else if !os.IsNotExist(err) {
		return Result{}, false, fmt.Errorf("read hitl input file: %w", err)
	}

	presencePath := filepath.Join(b.workspace, ".pacts", b.cfg.HITLPresenceFile)
	if _, err := os.Stat(presencePath); err == nil {
		_ = os.Remove(presencePath)
		return Result{Resolved: true}, true, nil
	} else if !os.IsNotExist(err) {
		return Result{}, false, fmt.Errorf("stat hitl presence file: %w", err)
	}

	return Result{}, false, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
