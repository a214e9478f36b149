// Package detect implements the blocked-page/anti-bot signature registry
// (spec §7, §9 open question): a small extensible list of (Driver) -> bool
// checks, each naming the signature it looks for. Grounded on honeypot.go's
// named-check-list shape, re-expressed as plain Go predicates rather than
// Datalog facts/rules — see DESIGN.md for why the Mangle engine was dropped
// for this concern.
package detect

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/pacts/internal/driver"
	"github.com/example/pacts/internal/logging"
)

// Signature names one known anti-bot/challenge-page pattern.
type Signature struct {
	Name  string
	Check func(ctx context.Context, drv *driver.Driver, currentURL string) (bool, error)
}

// Registry is an ordered list of signatures, checked in order; the first
// match wins (spec §8 scenario 5: detection should be cheap and early).
type Registry struct {
	signatures []Signature
}

// Default returns a registry seeded with the two signatures spec §8's
// blocked-page scenario names.
func Default() *Registry {
	r := &Registry{}
	r.Register(Signature{
		Name: "challenge_url_param",
		Check: func(ctx context.Context, drv *driver.Driver, currentURL string) (bool, error) {
			return strings.Contains(currentURL, "chal_t="), nil
		},
	})
	r.Register(Signature{
		Name: "recaptcha_widget",
		Check: func(ctx context.Context, drv *driver.Driver, currentURL string) (bool, error) {
			els, err := drv.Elements(ctx, ".g-recaptcha")
			if err != nil {
				return false, err
			}
			return len(els) > 0, nil
		},
	})
	return r
}

// Register appends a signature to the registry, allowing a host application
// to extend the fixed set (spec §9: "extensible by the host application").
func (r *Registry) Register(sig Signature) {
	r.signatures = append(r.signatures, sig)
}

// Detect runs every registered signature in order and returns the first
// match's name, or "" if none matched.
func (r *Registry) Detect(ctx context.Context, drv *driver.Driver) (string, error) {
	currentURL, err := drv.CurrentURL()
	if err != nil {
		return "", fmt.Errorf("read current url: %w", err)
	}

	for _, sig := range r.signatures {
		matched, err := sig.Check(ctx, drv, currentURL)
		if err != nil {
			logging.Get(logging.CategoryExec).Warn("detect signature %s errored: %v", sig.Name, err)
			continue
		}
		if matched {
			logging.Get(logging.CategoryExec).Info("blocked signature matched: %s url=%s", sig.Name, currentURL)
			return sig.Name, nil
		}
	}
	return "", nil
}
