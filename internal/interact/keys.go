package interact

import (
	"context"
	"unicode"

	"github.com/chromedp/chromedp/kb"

	"github.com/veylan/mimic/internal/driver"
)

// Type emits text character by character with a per-character delay drawn
// from the identity's typing distribution. An empty selector types into
// whatever element currently has focus; otherwise the element is resolved and
// focused first.
func (e *Engine) Type(ctx context.Context, selector, text string) error {
	return e.typeText(ctx, selector, text, nil)
}

// TypeFrame is Type scoped to the focused frame handle.
func (e *Engine) TypeFrame(ctx context.Context, selector, text string) error {
	scope, err := e.session.FrameScope()
	if err != nil {
		return err
	}
	return e.typeText(ctx, selector, text, scope)
}

func (e *Engine) typeText(ctx context.Context, selector, text string, scope *driver.Frame) error {
	drv, err := e.session.Driver()
	if err != nil {
		return err
	}
	if selector != "" {
		if _, err := drv.Geometry(ctx, selector, scope); err != nil {
			return asElementNotFound(selector, err)
		}
		if err := drv.Focus(ctx, selector, scope); err != nil {
			return asElementNotFound(selector, err)
		}
	}

	identity := e.session.Identity()
	rand := e.session.Rand()
	var prev rune
	for _, r := range text {
		if err := drv.SendText(ctx, string(r)); err != nil {
			return err
		}
		delay := rand.Duration(identity.TypingDelayMean, identity.TypingDelaySpread)
		// Word boundaries and hand alternation breaks read slower than
		// runs of letters.
		if unicode.IsSpace(r) || (prev != 0 && unicode.IsLetter(prev) != unicode.IsLetter(r)) {
			delay += rand.Duration(identity.TypingDelayMean/2, identity.TypingDelaySpread/2)
		}
		if err := drv.Sleep(ctx, delay); err != nil {
			return err
		}
		prev = r
	}
	return nil
}

// TypeEnter emits a single Enter key with a randomized dwell.
func (e *Engine) TypeEnter(ctx context.Context) error {
	return e.sendKey(ctx, kb.Enter)
}

// TypeTab emits a single Tab key with a randomized dwell.
func (e *Engine) TypeTab(ctx context.Context) error {
	return e.sendKey(ctx, kb.Tab)
}

// TypeEsc emits a single Escape key with a randomized dwell.
func (e *Engine) TypeEsc(ctx context.Context) error {
	return e.sendKey(ctx, kb.Escape)
}

func (e *Engine) sendKey(ctx context.Context, key string) error {
	drv, err := e.session.Driver()
	if err != nil {
		return err
	}
	return drv.SendKey(ctx, key, e.session.Rand().Duration(70, 40))
}
