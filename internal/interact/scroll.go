package interact

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/veylan/mimic/api/schemas"
	"github.com/veylan/mimic/internal/driver"
)

// ScrollStrategy selects how scroll input is produced.
type ScrollStrategy int

const (
	// ScrollKeyPress issues a random burst of discrete arrow key events.
	ScrollKeyPress ScrollStrategy = iota
	// ScrollLongPress issues a single page key with a long dwell.
	ScrollLongPress
)

// ScrollOptions tunes one scroll operation.
type ScrollOptions struct {
	Strategy ScrollStrategy
	// Up reverses the scroll direction.
	Up bool
	// Wait inserts a reading pause midway through a key-press burst.
	Wait bool
	// MinIterations forces at least this many scroll rounds even when the
	// stop selector becomes visible earlier. Humans overshoot.
	MinIterations int
}

// ScrollToSelector scrolls in rounds until stopSelector is visible inside the
// viewport. Each round issues scroll input per the strategy and re-checks
// visibility. At least MinIterations rounds run regardless of early
// visibility; if the selector never shows within the bounded round count the
// call fails with schemas.ErrElementNotFound.
func (e *Engine) ScrollToSelector(ctx context.Context, stopSelector string, opts ScrollOptions) error {
	if stopSelector == "" {
		return fmt.Errorf("scroll: stop selector is required")
	}
	drv, err := e.session.Driver()
	if err != nil {
		return err
	}

	maxRounds := e.cfg.ScrollMaxRounds
	if opts.MinIterations > maxRounds {
		maxRounds = opts.MinIterations
	}
	for round := 1; round <= maxRounds; round++ {
		if err := e.scrollRound(ctx, drv, opts); err != nil {
			return err
		}
		visible, err := drv.IsVisible(ctx, stopSelector, nil)
		if err != nil {
			return err
		}
		if visible && round >= opts.MinIterations {
			e.logger.Debug("Scroll target reached.",
				zap.String("selector", stopSelector), zap.Int("rounds", round))
			return nil
		}
	}
	return fmt.Errorf("%w: %s not visible after %d scroll rounds",
		schemas.ErrElementNotFound, stopSelector, maxRounds)
}

// ScrollToBottom derives a selector for the document's last element and
// scrolls to it with the key-press strategy.
func (e *Engine) ScrollToBottom(ctx context.Context) error {
	drv, err := e.session.Driver()
	if err != nil {
		return err
	}
	var tag string
	expr := `(() => { const el = document.body && document.body.lastElementChild; return el ? el.tagName.toLowerCase() : ""; })()`
	if err := drv.Evaluate(ctx, expr, &tag); err != nil {
		return fmt.Errorf("derive last element: %w", err)
	}
	if tag == "" {
		return fmt.Errorf("%w: document has no body elements", schemas.ErrElementNotFound)
	}
	selector := fmt.Sprintf("body > %s:last-of-type", tag)
	return e.ScrollToSelector(ctx, selector, ScrollOptions{Strategy: ScrollKeyPress})
}

// scrollRound emits one round of scroll input.
func (e *Engine) scrollRound(ctx context.Context, drv driver.Driver, opts ScrollOptions) error {
	rand := e.session.Rand()

	if opts.Strategy == ScrollLongPress {
		key := kb.PageDown
		if opts.Up {
			key = kb.PageUp
		}
		return drv.SendKey(ctx, key, rand.Duration(900, 400))
	}

	key := kb.ArrowDown
	if opts.Up {
		key = kb.ArrowUp
	}
	count := rand.IntBetween(e.cfg.ScrollMinKeys, e.cfg.ScrollMaxKeys)
	pauseAt := -1
	if opts.Wait {
		pauseAt = count / 2
	}
	for i := 0; i < count; i++ {
		if err := drv.SendKey(ctx, key, rand.Duration(40, 25)); err != nil {
			return err
		}
		if err := drv.Sleep(ctx, rand.Duration(120, 80)); err != nil {
			return err
		}
		if i == pauseAt {
			// Reading pause.
			if err := drv.Sleep(ctx, rand.Duration(1800, 900)); err != nil {
				return err
			}
		}
	}
	return nil
}
