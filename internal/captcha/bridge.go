package captcha

import (
	"context"
	"fmt"
	"net/url"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/veylan/mimic/api/schemas"
	"github.com/veylan/mimic/internal/browser"
)

// BridgeState tracks the last solve attempt.
type BridgeState int32

const (
	StateIdle BridgeState = iota
	StateRequesting
	StateSolved
	StateFailed
)

func (s BridgeState) String() string {
	switch s {
	case StateRequesting:
		return "requesting"
	case StateSolved:
		return "solved"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Bridge extracts challenge material from the page and delegates solving to
// the remote service. It returns tokens; injecting them into the page remains
// the caller's responsibility.
type Bridge struct {
	session *browser.Session
	solver  Solver
	state   atomic.Int32
	logger  *zap.Logger
}

// NewBridge wires a bridge over a session and a solving service.
func NewBridge(session *browser.Session, solver Solver) *Bridge {
	return &Bridge{
		session: session,
		solver:  solver,
		logger:  session.Logger().Named("captcha"),
	}
}

// State returns the state of the last solve attempt.
func (b *Bridge) State() BridgeState {
	return BridgeState(b.state.Load())
}

// SolveImageCaptcha screenshots the captcha image under selector, submits it
// and returns the recognized text. An absent selector fails fast with
// schemas.ErrElementNotFound instead of submitting an empty capture.
func (b *Bridge) SolveImageCaptcha(ctx context.Context, selector string) (string, error) {
	drv, err := b.session.Driver()
	if err != nil {
		return "", err
	}
	exists, err := drv.Exists(ctx, selector, nil)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%w: %s", schemas.ErrElementNotFound, selector)
	}

	b.state.Store(int32(StateRequesting))
	image, err := drv.ScreenshotElement(ctx, selector)
	if err != nil {
		b.state.Store(int32(StateFailed))
		return "", fmt.Errorf("capture captcha image: %w", err)
	}
	token, err := b.solver.SolveImage(ctx, image)
	return b.finish(token, err)
}

// SolveRecaptcha extracts the site key from the frame whose source matches
// selector, submits a site-key solve request and returns the response token
// for injection into the form's hidden field.
func (b *Bridge) SolveRecaptcha(ctx context.Context, selector string) (string, error) {
	drv, err := b.session.Driver()
	if err != nil {
		return "", err
	}
	frame, err := drv.ContentFrame(ctx, selector)
	if err != nil {
		return "", err
	}
	if frame == nil {
		return "", fmt.Errorf("%w: %s", schemas.ErrElementNotFound, selector)
	}
	siteKey, err := siteKeyFromFrameURL(frame.Info.URL)
	if err != nil {
		return "", err
	}

	var pageURL string
	if err := drv.Evaluate(ctx, "window.location.href", &pageURL); err != nil {
		return "", fmt.Errorf("read page url: %w", err)
	}

	b.state.Store(int32(StateRequesting))
	token, err := b.solver.SolveRecaptcha(ctx, siteKey, pageURL)
	return b.finish(token, err)
}

func (b *Bridge) finish(token string, err error) (string, error) {
	if err != nil {
		b.state.Store(int32(StateFailed))
		b.logger.Warn("Captcha solve failed.", zap.Error(err))
		return "", err
	}
	b.state.Store(int32(StateSolved))
	b.logger.Info("Captcha solved.")
	return token, nil
}

// siteKeyFromFrameURL pulls the site key from a reCAPTCHA frame source, the
// "k" query parameter on anchor and bframe URLs.
func siteKeyFromFrameURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse captcha frame url %q: %w", raw, err)
	}
	key := u.Query().Get("k")
	if key == "" {
		return "", fmt.Errorf("%w: frame url %q carries no site key", schemas.ErrCaptchaService, raw)
	}
	return key, nil
}
