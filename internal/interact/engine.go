// Package interact implements the humanized interaction layer: clicking,
// typing, hovering and scrolling with randomized timing drawn from the
// session's identity, plus the bounded selector waits the rest of the system
// builds on.
package interact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/veylan/mimic/api/schemas"
	"github.com/veylan/mimic/internal/browser"
	"github.com/veylan/mimic/internal/config"
	"github.com/veylan/mimic/internal/driver"
)

const defaultNavigationTimeout = 30 * time.Second

// ClickOptions tunes a single click dispatch.
type ClickOptions struct {
	// TopRight aims at the top-right corner of the element instead of its
	// center. Some overlay close buttons only react there.
	TopRight bool
	// Tap dispatches a touch tap instead of mouse events.
	Tap bool
	// Delay inserts a randomized pause between press and release.
	Delay bool
	// DoTrigger downgrades a dispatch failure into a script-invoked click on
	// the element instead of surfacing the error.
	DoTrigger bool
}

// Engine performs DOM interactions against one session. It is not safe for
// concurrent use; the only sanctioned concurrency is the internal click plus
// navigation-wait pairing in ClickAndWait.
type Engine struct {
	session    *browser.Session
	cfg        config.InteractConfig
	shots      config.BrowserConfig
	navTimeout time.Duration
	logger     *zap.Logger
}

// NewEngine builds an interaction engine over a Ready session.
func NewEngine(session *browser.Session, cfg config.InteractConfig, shots config.BrowserConfig) *Engine {
	navTimeout := shots.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = defaultNavigationTimeout
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 10 * time.Second
	}
	if cfg.WaitPollInterval <= 0 {
		cfg.WaitPollInterval = 250 * time.Millisecond
	}
	if cfg.ScrollMinKeys <= 0 {
		cfg.ScrollMinKeys = 11
	}
	if cfg.ScrollMaxKeys < cfg.ScrollMinKeys {
		cfg.ScrollMaxKeys = cfg.ScrollMinKeys + 4
	}
	if cfg.ScrollMaxRounds <= 0 {
		cfg.ScrollMaxRounds = 10
	}
	return &Engine{
		session:    session,
		cfg:        cfg,
		shots:      shots,
		navTimeout: navTimeout,
		logger:     session.Logger().Named("interact"),
	}
}

// Click resolves the element, applies jitter within its box and dispatches a
// press/release pair (or a touch tap). Every attempt records a screenshot
// artifact for audit regardless of outcome.
func (e *Engine) Click(ctx context.Context, selector string, opts ClickOptions) error {
	return e.click(ctx, selector, nil, opts)
}

// ClickFrame is Click scoped to the focused frame handle.
func (e *Engine) ClickFrame(ctx context.Context, selector string, opts ClickOptions) error {
	scope, err := e.session.FrameScope()
	if err != nil {
		return err
	}
	return e.click(ctx, selector, scope, opts)
}

func (e *Engine) click(ctx context.Context, selector string, scope *driver.Frame, opts ClickOptions) (err error) {
	drv, err := e.session.Driver()
	if err != nil {
		return err
	}
	defer func() {
		artifact := e.captureArtifact(ctx, drv, "click")
		e.record("click", selector, artifact, err)
	}()

	box, err := drv.Geometry(ctx, selector, scope)
	if err != nil {
		return asElementNotFound(selector, err)
	}

	x, y := e.aimPoint(box, opts.TopRight)
	if err = e.dispatch(ctx, drv, x, y, opts); err != nil && opts.DoTrigger && scope == nil {
		e.logger.Debug("Click dispatch failed, falling back to script trigger.",
			zap.String("selector", selector), zap.Error(err))
		err = e.triggerClick(ctx, drv, selector)
	}
	return err
}

// aimPoint picks the nominal target point and perturbs it within the
// identity's jitter radius, clamped so the point stays inside the box.
func (e *Engine) aimPoint(box *driver.Box, topRight bool) (float64, float64) {
	var x, y float64
	if topRight {
		x, y = box.TopRight()
	} else {
		x, y = box.Center()
	}
	dx, dy := e.session.Rand().Offset(e.session.Identity().ClickJitterRadius)
	x = clamp(x+dx, box.X, box.X+box.Width-1)
	y = clamp(y+dy, box.Y, box.Y+box.Height-1)
	return x, y
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (e *Engine) dispatch(ctx context.Context, drv driver.Driver, x, y float64, opts ClickOptions) error {
	if opts.Tap {
		return drv.DispatchTouch(ctx, x, y)
	}
	if err := drv.DispatchMouse(ctx, driver.MouseEvent{
		Type: driver.MouseMove, X: x, Y: y, Button: driver.ButtonNone,
	}); err != nil {
		return err
	}
	if err := drv.DispatchMouse(ctx, driver.MouseEvent{
		Type: driver.MousePress, X: x, Y: y, Button: driver.ButtonLeft, ClickCount: 1,
	}); err != nil {
		return err
	}
	if opts.Delay {
		if err := drv.Sleep(ctx, e.session.Rand().Duration(80, 50)); err != nil {
			return err
		}
	}
	return drv.DispatchMouse(ctx, driver.MouseEvent{
		Type: driver.MouseRelease, X: x, Y: y, Button: driver.ButtonLeft, ClickCount: 1,
	})
}

// triggerClick invokes the element's click behavior via script, the fallback
// for a dispatch that raced against a DOM mutation.
func (e *Engine) triggerClick(ctx context.Context, drv driver.Driver, selector string) error {
	var clicked bool
	expr := fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); if (!el) return false; el.click(); return true; })()`,
		selector)
	if err := drv.Evaluate(ctx, expr, &clicked); err != nil {
		return fmt.Errorf("trigger click %q: %w", selector, err)
	}
	if !clicked {
		return fmt.Errorf("%w: %s", schemas.ErrElementNotFound, selector)
	}
	return nil
}

// ClickAndWait issues the click and a navigation wait concurrently and
// returns once both have completed. The wait is armed before the click is
// dispatched so a navigation starting mid-dispatch is not missed.
func (e *Engine) ClickAndWait(ctx context.Context, selector string, opts ClickOptions) error {
	drv, err := e.session.Driver()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	wait, err := drv.ArmNavigation(gctx)
	if err != nil {
		return fmt.Errorf("arm navigation: %w", err)
	}
	g.Go(func() error {
		if err := wait(e.navTimeout); err != nil {
			return fmt.Errorf("await navigation: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return e.click(gctx, selector, nil, opts)
	})
	return g.Wait()
}

// Hover moves the pointer to the element's center. No jitter; hover targets
// rarely warrant it.
func (e *Engine) Hover(ctx context.Context, selector string) error {
	drv, err := e.session.Driver()
	if err != nil {
		return err
	}
	box, err := drv.Geometry(ctx, selector, nil)
	if err != nil {
		return asElementNotFound(selector, err)
	}
	x, y := box.Center()
	return drv.DispatchMouse(ctx, driver.MouseEvent{
		Type: driver.MouseMove, X: x, Y: y, Button: driver.ButtonNone,
	})
}

// Select assigns value to the matching select element, delegating straight to
// the driver.
func (e *Engine) Select(ctx context.Context, selector, value string) error {
	return e.selectValue(ctx, selector, value, nil)
}

// SelectFrame is Select scoped to the focused frame handle.
func (e *Engine) SelectFrame(ctx context.Context, selector, value string) error {
	scope, err := e.session.FrameScope()
	if err != nil {
		return err
	}
	return e.selectValue(ctx, selector, value, scope)
}

func (e *Engine) selectValue(ctx context.Context, selector, value string, scope *driver.Frame) error {
	drv, err := e.session.Driver()
	if err != nil {
		return err
	}
	if _, err := drv.Geometry(ctx, selector, scope); err != nil {
		return asElementNotFound(selector, err)
	}
	return drv.SetValue(ctx, selector, value, scope)
}

// SetValue assigns a DOM value directly, for elements where simulated typing
// is unsuitable.
func (e *Engine) SetValue(ctx context.Context, selector, value string) error {
	drv, err := e.session.Driver()
	if err != nil {
		return err
	}
	return drv.SetValue(ctx, selector, value, nil)
}

// GetHref reads the resolved link target of an anchor.
func (e *Engine) GetHref(ctx context.Context, selector string) (string, error) {
	drv, err := e.session.Driver()
	if err != nil {
		return "", err
	}
	href, err := drv.Href(ctx, selector, nil)
	if err != nil {
		return "", asElementNotFound(selector, err)
	}
	return href, nil
}

// DeactivateLink suppresses the default navigation of a link so its click can
// be observed without leaving the page.
func (e *Engine) DeactivateLink(ctx context.Context, selector string) error {
	drv, err := e.session.Driver()
	if err != nil {
		return err
	}
	var found bool
	expr := fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); if (!el) return false; el.addEventListener('click', ev => ev.preventDefault()); return true; })()`,
		selector)
	if err := drv.Evaluate(ctx, expr, &found); err != nil {
		return fmt.Errorf("deactivate link %q: %w", selector, err)
	}
	if !found {
		return fmt.Errorf("%w: %s", schemas.ErrElementNotFound, selector)
	}
	return nil
}

// WaitForSelector polls for element presence up to the configured timeout.
// With doThrow the timeout surfaces as schemas.ErrElementNotFound; without it
// the timeout is swallowed and the call reports false.
func (e *Engine) WaitForSelector(ctx context.Context, selector string, doThrow bool) (bool, error) {
	drv, err := e.session.Driver()
	if err != nil {
		return false, err
	}

	deadline := time.Now().Add(e.cfg.WaitTimeout)
	for {
		found, err := drv.Exists(ctx, selector, nil)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
		if time.Now().After(deadline) {
			break
		}
		if err := drv.Sleep(ctx, e.cfg.WaitPollInterval); err != nil {
			return false, err
		}
	}
	if doThrow {
		return false, fmt.Errorf("%w: %s not present after %s",
			schemas.ErrElementNotFound, selector, e.cfg.WaitTimeout)
	}
	return false, nil
}

// IsSelectorVisible is a one-shot viewport visibility check, no waiting.
func (e *Engine) IsSelectorVisible(ctx context.Context, selector string) (bool, error) {
	drv, err := e.session.Driver()
	if err != nil {
		return false, err
	}
	return drv.IsVisible(ctx, selector, nil)
}

// captureArtifact snapshots the viewport into the artifacts directory and
// returns the stored path. Capture failures are logged, never propagated; the
// artifact is an audit aid, not part of the interaction contract.
func (e *Engine) captureArtifact(ctx context.Context, drv driver.Driver, action string) string {
	if e.shots.ArtifactsDir == "" {
		return ""
	}
	format := schemas.ScreenshotFormat(e.shots.ScreenshotFormat)
	if format == "" {
		format = schemas.ScreenshotPNG
	}
	buf, err := drv.Screenshot(ctx, format, e.shots.ScreenshotQuality)
	if err != nil {
		e.logger.Debug("Artifact capture failed.", zap.String("action", action), zap.Error(err))
		return ""
	}
	if err := os.MkdirAll(e.shots.ArtifactsDir, 0o755); err != nil {
		e.logger.Debug("Artifact directory unavailable.", zap.Error(err))
		return ""
	}
	name := fmt.Sprintf("%s-%s.%s", action, uuid.New().String(), format)
	path := filepath.Join(e.shots.ArtifactsDir, name)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		e.logger.Debug("Artifact write failed.", zap.String("path", path), zap.Error(err))
		return ""
	}
	return path
}

// record logs the outcome of one interaction attempt.
func (e *Engine) record(action, selector, artifact string, err error) {
	out := schemas.Outcome{
		Action:    action,
		Selector:  selector,
		OK:        err == nil,
		Artifact:  artifact,
		Timestamp: time.Now(),
	}
	fields := []zap.Field{
		zap.String("action", out.Action),
		zap.String("selector", out.Selector),
		zap.Bool("ok", out.OK),
	}
	if out.Artifact != "" {
		fields = append(fields, zap.String("artifact", out.Artifact))
	}
	if err != nil {
		out.Error = err.Error()
		fields = append(fields, zap.Error(err))
		e.logger.Warn("Interaction failed.", fields...)
		return
	}
	e.logger.Debug("Interaction completed.", fields...)
}

// asElementNotFound folds a driver-side resolution failure into the element
// taxonomy, letting caller cancellation through untouched.
func asElementNotFound(selector string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, schemas.ErrElementNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", schemas.ErrElementNotFound, selector, err)
}
