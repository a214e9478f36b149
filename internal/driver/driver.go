// Package driver wraps go-rod to give the rest of the engine a narrow
// capability surface over a real browser: launch/connect, navigate, query,
// click/fill, screenshot, and cookie/storage snapshot for session-state
// persistence. Adapted from codeNERD's internal/browser/session_manager.go
// (SessionManager), narrowed from a multi-session manager to the single
// active page pacts drives per run.
package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/example/pacts/internal/config"
	"github.com/example/pacts/internal/logging"
)

// Driver is the Browser Driver (spec C1): one browser, one active page.
type Driver struct {
	cfg *config.Config

	mu      sync.Mutex
	browser *rod.Browser
	page    *rod.Page
	launch  *launcher.Launcher
}

// New constructs an unstarted Driver.
func New(cfg *config.Config) *Driver {
	return &Driver{cfg: cfg}
}

// Start launches a local Chrome via launcher.Launcher, connects to it, and
// opens a blank page, mirroring session_manager.go's Start. There is no
// option to attach to an already running browser.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	timer := logging.StartTimer(logging.CategoryBoot, "driver.Start")
	defer timer.Stop()

	l := launcher.New().
		Headless(d.cfg.Headless).
		Set("window-size", fmt.Sprintf("%d,%d", d.cfg.ViewportWidth, d.cfg.ViewportHeight))

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	d.launch = l

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to browser: %w", err)
	}
	d.browser = browser

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  d.cfg.ViewportWidth,
		Height: d.cfg.ViewportHeight,
	}); err != nil {
		logging.Get(logging.CategoryBoot).Warn("set viewport failed: %v", err)
	}
	d.page = page
	return nil
}

// Shutdown closes the page and browser and kills any locally launched
// process, mirroring session_manager.go's Shutdown.
func (d *Driver) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browser != nil {
		if err := d.browser.Context(ctx).Close(); err != nil {
			logging.Get(logging.CategoryBoot).Warn("browser close: %v", err)
		}
	}
	if d.launch != nil {
		d.launch.Kill()
		d.launch.Cleanup()
	}
	return nil
}

// Page returns the single active page this driver drives.
func (d *Driver) Page() *rod.Page {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.page
}

// Navigate loads url on the active page and waits for the load event.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	timer := logging.StartTimer(logging.CategoryExec, "driver.Navigate")
	defer timer.Stop()

	page := d.Page().Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

// CurrentURL returns the active page's current URL.
func (d *Driver) CurrentURL() (string, error) {
	info, err := d.Page().Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

// Elements finds every element on the active page matching a CSS selector.
// Discovery and the gate both need "how many match" to evaluate uniqueness
// (spec §4.2), so this returns the full slice rather than a single element.
func (d *Driver) Elements(ctx context.Context, selector string) (rod.Elements, error) {
	page := d.Page().Context(ctx)
	els, err := page.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	return els, nil
}

// Click performs a real mouse click at the element's center, matching
// session_manager.go's Click (proto.InputMouseButtonLeft via el.Click).
func (d *Driver) Click(ctx context.Context, el *rod.Element) error {
	return el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

// Fill clears an input/textarea and types value, matching
// automation_tools.go's clear-then-Input pattern for the "type" action.
func (d *Driver) Fill(ctx context.Context, el *rod.Element, value string) error {
	el = el.Context(ctx)
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("select existing text: %w", err)
	}
	if err := el.Input(""); err != nil {
		return fmt.Errorf("clear input: %w", err)
	}
	return el.Input(value)
}

// Press sends a single key to the focused element, e.g. Enter or Tab.
func (d *Driver) Press(ctx context.Context, el *rod.Element, key input.Key) error {
	return el.Context(ctx).Type(key)
}

// Hover moves the mouse over the element's center.
func (d *Driver) Hover(ctx context.Context, el *rod.Element) error {
	return el.Context(ctx).Hover()
}

// Focus focuses the element without clicking.
func (d *Driver) Focus(ctx context.Context, el *rod.Element) error {
	return el.Context(ctx).Focus()
}

// Screenshot captures the full active page as PNG bytes, matching
// session_manager.go's Screenshot.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	return d.Page().Context(ctx).Screenshot(true, nil)
}

// BringToFront activates the driven page's tab, the first step of the
// healer's reveal phase (spec §4.6.A): a backgrounded tab can report stale
// visibility/layout until it is the active target.
func (d *Driver) BringToFront(ctx context.Context) error {
	return d.Page().Context(ctx).Activate()
}

// ScrollIntoView scrolls the first element matching selector into the
// viewport. Used by the healer's reveal phase against the step's
// last-known-good selector, which may still resolve even though it no
// longer passes the gate.
func (d *Driver) ScrollIntoView(ctx context.Context, selector string) error {
	els, err := d.Elements(ctx, selector)
	if err != nil {
		return fmt.Errorf("scroll into view %q: %w", selector, err)
	}
	if len(els) == 0 {
		return nil
	}
	return els[0].Context(ctx).ScrollIntoView()
}

// closeButtonPatterns are the aria-label/text fragments checked by
// DismissOverlays, case-insensitively, against common cookie-banner/modal
// close controls.
var closeButtonPatterns = []string{"close", "dismiss", "got it", "accept", "no thanks", "×"}

// DismissOverlays presses Escape, clicks the first visible element matching
// a known close-button pattern, and strips fixed/sticky full-viewport
// backdrop elements left behind by a dismissed modal (spec §4.6.A). Best
// effort: failures to find anything to dismiss are not errors.
func (d *Driver) DismissOverlays(ctx context.Context) error {
	page := d.Page().Context(ctx)
	if err := page.Keyboard.Press(input.Escape); err != nil {
		return fmt.Errorf("dismiss overlays: escape: %w", err)
	}

	var dismissed bool
	err := d.Eval(ctx, fmt.Sprintf(`() => {
		const patterns = %s;
		const candidates = Array.from(document.querySelectorAll('button,a,[role="button"]'));
		for (const el of candidates) {
			const label = ((el.getAttribute('aria-label') || '') + ' ' + (el.textContent || '')).trim().toLowerCase();
			if (patterns.some(p => label.includes(p))) {
				const rect = el.getBoundingClientRect();
				if (rect.width > 0 && rect.height > 0) {
					el.click();
					return true;
				}
			}
		}
		return false;
	}`, toJSArray(closeButtonPatterns)), &dismissed)
	if err != nil {
		return fmt.Errorf("dismiss overlays: click: %w", err)
	}

	return d.Eval(ctx, `() => {
		document.querySelectorAll('body *').forEach(el => {
			const style = window.getComputedStyle(el);
			if ((style.position === 'fixed' || style.position === 'sticky') &&
				parseFloat(style.zIndex || '0') > 1000 &&
				el.getBoundingClientRect().width >= window.innerWidth * 0.9) {
				el.remove();
			}
		});
	}`, nil)
}

// WaitForNetworkIdle blocks until no network request has been outstanding
// for idleFor (spec §4.6.A wait_for_network_idle). The wait has no upper
// bound of its own; only ctx ends it early.
func (d *Driver) WaitForNetworkIdle(ctx context.Context, idleFor time.Duration) error {
	wait := d.Page().Context(ctx).WaitRequestIdle(idleFor, nil, nil, nil)
	wait()
	return nil
}

// ActivateHiddenSibling attempts to reveal el by clicking a nearby
// toggle/disclosure control: up to three preceding siblings, then the
// nearest toggle-group/fieldset/section/div ancestor's first unexpanded toggle
// button (spec §4.1 hidden-input edge case). Shared by the executor's
// deferred-visibility fill path and the healer's fill-specific
// identical-selector recovery (spec §4.6).
func (d *Driver) ActivateHiddenSibling(ctx context.Context, el *rod.Element) (bool, error) {
	res, err := el.Context(ctx).Eval(`() => {
		let node = this.previousElementSibling;
		for (let hop = 0; hop < 3 && node; hop++, node = node.previousElementSibling) {
			if (node.matches && (node.matches('button,[role="button"]') || node.hasAttribute('aria-expanded') || node.hasAttribute('data-toggle'))) {
				node.click();
				return true;
			}
		}
		const group = this.closest('[data-toggle-group],fieldset,section,div');
		if (group) {
			const btn = group.querySelector('button[aria-expanded="false"], [data-toggle]');
			if (btn) {
				btn.click();
				return true;
			}
		}
		return false;
	}`)
	if err != nil {
		return false, fmt.Errorf("activate hidden sibling: %w", err)
	}
	var activated bool
	if err := res.Value.Unmarshal(&activated); err != nil {
		return false, fmt.Errorf("activate hidden sibling: decode result: %w", err)
	}
	return activated, nil
}

func toJSArray(ss []string) string {
	out := "["
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%q", s)
	}
	return out + "]"
}

// Eval runs a JS expression against the active page's document and decodes
// the result into out.
func (d *Driver) Eval(ctx context.Context, js string, out interface{}) error {
	res, err := d.Page().Context(ctx).Eval(js)
	if err != nil {
		return fmt.Errorf("eval: %w", err)
	}
	if out == nil {
		return nil
	}
	return res.Value.Unmarshal(out)
}

// SessionState is a serializable snapshot of cookies + localStorage, taken
// by the coordinator once per run after a successful HITL resumption (spec
// §4.7). Grounded on session_manager.go's
// ForkSession cookie/storage snapshot, repurposed from context-cloning to
// save/restore.
type SessionState struct {
	URL          string                 `json:"url"`
	Cookies      []*proto.NetworkCookie `json:"cookies"`
	LocalStorage map[string]string      `json:"local_storage"`
}

// CaptureSessionState snapshots cookies and localStorage for the active
// page's origin.
func (d *Driver) CaptureSessionState(ctx context.Context) (*SessionState, error) {
	page := d.Page().Context(ctx)

	cookies, err := page.Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}

	var storage map[string]string
	if err := d.Eval(ctx, `() => {
		const out = {};
		for (let i = 0; i < localStorage.length; i++) {
			const k = localStorage.key(i);
			out[k] = localStorage.getItem(k);
		}
		return out;
	}`, &storage); err != nil {
		return nil, fmt.Errorf("snapshot storage: %w", err)
	}

	info, err := page.Info()
	if err != nil {
		return nil, fmt.Errorf("page info: %w", err)
	}

	return &SessionState{URL: info.URL, Cookies: cookies, LocalStorage: storage}, nil
}

// RestoreSessionState re-applies a previously captured cookie + localStorage
// snapshot to the active page.
func (d *Driver) RestoreSessionState(ctx context.Context, state *SessionState) error {
	if state == nil {
		return nil
	}
	page := d.Page().Context(ctx)

	params := make([]*proto.NetworkCookieParam, 0, len(state.Cookies))
	for _, c := range state.Cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}
	if len(params) > 0 {
		if err := page.SetCookies(params); err != nil {
			return fmt.Errorf("restore cookies: %w", err)
		}
	}

	for k, v := range state.LocalStorage {
		if err := d.Eval(ctx, fmt.Sprintf(`() => localStorage.setItem(%q, %q)`, k, v), nil); err != nil {
			return fmt.Errorf("restore storage key %s: %w", k, err)
		}
	}
	return nil
}

// WaitStable samples el's bounding box every 50ms and returns true once
// `samples` consecutive samples each stay within tolerancePX of the previous
// one, or false when timeout elapses first. Used by internal/gate for the "stable"
// predicate; implemented here because only the driver can observe raw layout.
func (d *Driver) WaitStable(ctx context.Context, el *rod.Element, samples int, tolerancePX float64, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	var prev *rect
	stableCount := 0

	for time.Now().Before(deadline) {
		shape, err := el.Context(ctx).Shape()
		if err != nil {
			return false, nil // element gone; let caller reprobe
		}
		box := shape.Box()
		if box == nil {
			return false, nil
		}
		cur := &rect{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}

		if prev != nil && within(prev, cur, tolerancePX) {
			stableCount++
			if stableCount >= samples {
				return true, nil
			}
		} else {
			stableCount = 0
		}
		prev = cur

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return false, nil
}

type rect struct{ X, Y, Width, Height float64 }

func within(a, b *rect, tolerance float64) bool {
	return absF(a.X-b.X) <= tolerance && absF(a.Y-b.Y) <= tolerance &&
		absF(a.Width-b.Width) <= tolerance && absF(a.Height-b.Height) <= tolerance
}

func absF(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
