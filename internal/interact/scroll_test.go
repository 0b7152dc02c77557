package interact

import (
	"context"
	"testing"

	"github.com/chromedp/chromedp/kb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veylan/mimic/api/schemas"
	"github.com/veylan/mimic/internal/config"
	"github.com/veylan/mimic/internal/driver/drivertest"
)

func TestScrollToSelectorStopsWhenVisible(t *testing.T) {
	fake := drivertest.New().AddElement("#footer", drivertest.Element{VisibleAfterScrolls: 1})
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	require.NoError(t, e.ScrollToSelector(context.Background(), "#footer", ScrollOptions{}))

	// One key-press round at most: between 11 and 15 discrete presses.
	assert.GreaterOrEqual(t, fake.ScrollKeys, 11)
	assert.LessOrEqual(t, fake.ScrollKeys, 15)
}

func TestScrollToSelectorHonorsMinIterations(t *testing.T) {
	// Visible from the start; the engine must still overshoot.
	fake := drivertest.New().AddElement("#footer", drivertest.Element{})
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	err := e.ScrollToSelector(context.Background(), "#footer", ScrollOptions{MinIterations: 3})
	require.NoError(t, err)

	// At least 3 full rounds of 11+ presses each.
	assert.GreaterOrEqual(t, fake.ScrollKeys, 33)
}

func TestScrollToSelectorBoundedRounds(t *testing.T) {
	fake := drivertest.New().AddElement("#footer", drivertest.Element{VisibleAfterScrolls: 10_000})
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	err := e.ScrollToSelector(context.Background(), "#footer", ScrollOptions{})
	require.ErrorIs(t, err, schemas.ErrElementNotFound)

	// ScrollMaxRounds is 4 in the test config; 4 rounds of at most 15 presses.
	assert.LessOrEqual(t, fake.ScrollKeys, 60)
}

func TestScrollToSelectorRequiresStopSelector(t *testing.T) {
	e, _ := newTestEngine(t, drivertest.New(), config.BrowserConfig{})

	err := e.ScrollToSelector(context.Background(), "", ScrollOptions{})
	assert.Error(t, err)
}

func TestScrollKeyPressDirection(t *testing.T) {
	fake := drivertest.New().AddElement("#top", drivertest.Element{VisibleAfterScrolls: 1})
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	require.NoError(t, e.ScrollToSelector(context.Background(), "#top", ScrollOptions{Up: true}))

	require.NotEmpty(t, fake.KeysSent)
	for _, key := range fake.KeysSent {
		assert.Equal(t, kb.ArrowUp, key)
	}
}

func TestScrollLongPressIssuesSingleKey(t *testing.T) {
	fake := drivertest.New().AddElement("#footer", drivertest.Element{VisibleAfterScrolls: 1})
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	err := e.ScrollToSelector(context.Background(), "#footer", ScrollOptions{Strategy: ScrollLongPress})
	require.NoError(t, err)

	assert.Equal(t, []string{kb.PageDown}, fake.KeysSent)
}

func TestScrollWaitInsertsReadingPause(t *testing.T) {
	fake := drivertest.New().AddElement("#footer", drivertest.Element{VisibleAfterScrolls: 1})
	plain := drivertest.New().AddElement("#footer", drivertest.Element{VisibleAfterScrolls: 1})

	e, _ := newTestEngine(t, fake, config.BrowserConfig{})
	require.NoError(t, e.ScrollToSelector(context.Background(), "#footer", ScrollOptions{Wait: true}))

	e2, _ := newTestEngine(t, plain, config.BrowserConfig{})
	require.NoError(t, e2.ScrollToSelector(context.Background(), "#footer", ScrollOptions{}))

	// The reading pause dominates the per-key pacing.
	assert.Greater(t, fake.SleptTotal, plain.SleptTotal)
}

func TestScrollToBottomDerivesLastElementSelector(t *testing.T) {
	fake := drivertest.New().AddElement("body > div:last-of-type", drivertest.Element{VisibleAfterScrolls: 1})
	fake.EvalFunc = func(expr string, out any) error {
		if s, ok := out.(*string); ok {
			*s = "div"
		}
		return nil
	}
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	require.NoError(t, e.ScrollToBottom(context.Background()))
	assert.NotEmpty(t, fake.KeysSent)
}

func TestScrollToBottomEmptyDocument(t *testing.T) {
	fake := drivertest.New()
	fake.EvalFunc = func(expr string, out any) error { return nil }
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	err := e.ScrollToBottom(context.Background())
	assert.ErrorIs(t, err, schemas.ErrElementNotFound)
}
