package interact

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/chromedp/kb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veylan/mimic/api/schemas"
	"github.com/veylan/mimic/internal/browser"
	"github.com/veylan/mimic/internal/config"
	"github.com/veylan/mimic/internal/driver"
	"github.com/veylan/mimic/internal/driver/drivertest"
)

var testIdentity = schemas.Identity{
	TypingDelayMean:   50,
	TypingDelaySpread: 20,
	ClickJitterRadius: 3,
	Viewport:          schemas.Viewport{Width: 1280, Height: 720},
	RNGSeed:           42,
}

func newTestEngine(t *testing.T, fake *drivertest.Fake, shots config.BrowserConfig) (*Engine, *browser.Session) {
	t.Helper()
	session := browser.NewFromDriver(fake, testIdentity, zap.NewNop())
	cfg := config.InteractConfig{
		WaitTimeout:      30 * time.Millisecond,
		WaitPollInterval: time.Millisecond,
		ScrollMinKeys:    11,
		ScrollMaxKeys:    15,
		ScrollMaxRounds:  4,
	}
	return NewEngine(session, cfg, shots), session
}

func buttonElement() drivertest.Element {
	return drivertest.Element{Box: driver.Box{X: 100, Y: 200, Width: 80, Height: 30}}
}

func TestClickDispatchesMoveAndPressRelease(t *testing.T) {
	fake := drivertest.New().AddElement("#go", buttonElement())
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	require.NoError(t, e.Click(context.Background(), "#go", ClickOptions{}))

	require.Len(t, fake.MouseEvents, 3)
	assert.Equal(t, driver.MouseMove, fake.MouseEvents[0].Type)
	assert.Equal(t, driver.MousePress, fake.MouseEvents[1].Type)
	assert.Equal(t, driver.MouseRelease, fake.MouseEvents[2].Type)

	// Jittered, but always inside the element's box.
	for _, ev := range fake.MouseEvents {
		assert.GreaterOrEqual(t, ev.X, 100.0)
		assert.Less(t, ev.X, 180.0)
		assert.GreaterOrEqual(t, ev.Y, 200.0)
		assert.Less(t, ev.Y, 230.0)
	}
}

func TestClickTopRightAimsNearCorner(t *testing.T) {
	fake := drivertest.New().AddElement("#close", buttonElement())
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	require.NoError(t, e.Click(context.Background(), "#close", ClickOptions{TopRight: true}))

	require.NotEmpty(t, fake.MouseEvents)
	ev := fake.MouseEvents[0]
	// Corner is (179, 201); jitter radius is 3.
	assert.InDelta(t, 179, ev.X, 3.5)
	assert.InDelta(t, 201, ev.Y, 3.5)
}

func TestClickTapDispatchesTouch(t *testing.T) {
	fake := drivertest.New().AddElement("#go", buttonElement())
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	require.NoError(t, e.Click(context.Background(), "#go", ClickOptions{Tap: true}))

	assert.Equal(t, 1, fake.TouchTaps)
	assert.Empty(t, fake.MouseEvents)
}

func TestClickDelayInsertsPressReleasePause(t *testing.T) {
	fake := drivertest.New().AddElement("#go", buttonElement())
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	require.NoError(t, e.Click(context.Background(), "#go", ClickOptions{Delay: true}))

	assert.Greater(t, fake.SleptTotal, time.Duration(0))
}

func TestClickMissingElement(t *testing.T) {
	fake := drivertest.New()
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	err := e.Click(context.Background(), "#missing", ClickOptions{})
	assert.ErrorIs(t, err, schemas.ErrElementNotFound)
}

func TestClickFallsBackToScriptTrigger(t *testing.T) {
	fake := drivertest.New().AddElement("#go", buttonElement())
	fake.MouseErr = errors.New("node detached")
	fake.EvalFunc = func(expr string, out any) error {
		if b, ok := out.(*bool); ok {
			*b = true
		}
		return nil
	}
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	require.NoError(t, e.Click(context.Background(), "#go", ClickOptions{DoTrigger: true}))

	require.NotEmpty(t, fake.Evaluated)
	assert.Contains(t, fake.Evaluated[0], `querySelector("#go")`)
	assert.Contains(t, fake.Evaluated[0], ".click()")
}

func TestClickDispatchFailureWithoutTriggerPropagates(t *testing.T) {
	fake := drivertest.New().AddElement("#go", buttonElement())
	fake.MouseErr = errors.New("node detached")
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	err := e.Click(context.Background(), "#go", ClickOptions{})
	require.Error(t, err)
	assert.Empty(t, fake.Evaluated)
}

func TestClickRecordsArtifact(t *testing.T) {
	dir := t.TempDir()
	fake := drivertest.New().AddElement("#go", buttonElement())
	e, _ := newTestEngine(t, fake, config.BrowserConfig{
		ArtifactsDir:     dir,
		ScreenshotFormat: "png",
	})

	require.NoError(t, e.Click(context.Background(), "#go", ClickOptions{}))

	assert.Equal(t, 1, fake.Screenshots)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "click-"))
	assert.True(t, strings.HasSuffix(entries[0].Name(), ".png"))
}

func TestClickArtifactCapturedOnFailureToo(t *testing.T) {
	dir := t.TempDir()
	fake := drivertest.New()
	e, _ := newTestEngine(t, fake, config.BrowserConfig{
		ArtifactsDir:     dir,
		ScreenshotFormat: "png",
	})

	err := e.Click(context.Background(), "#missing", ClickOptions{})
	require.ErrorIs(t, err, schemas.ErrElementNotFound)

	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Len(t, entries, 1)
}

func TestClickFrameWithoutFocusedFrame(t *testing.T) {
	fake := drivertest.New().AddElement("#go", buttonElement())
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	err := e.ClickFrame(context.Background(), "#go", ClickOptions{})
	assert.ErrorIs(t, err, schemas.ErrFrameNotResolved)
}

func TestClickOnDisposedSession(t *testing.T) {
	fake := drivertest.New().AddElement("#go", buttonElement())
	e, session := newTestEngine(t, fake, config.BrowserConfig{})
	session.Dispose()

	err := e.Click(context.Background(), "#go", ClickOptions{})
	assert.ErrorIs(t, err, schemas.ErrDisposed)
}

func TestClickAndWaitResolvesAfterBoth(t *testing.T) {
	fake := drivertest.New().AddElement("#go", buttonElement())
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	done := make(chan error, 1)
	go func() {
		done <- e.ClickAndWait(context.Background(), "#go", ClickOptions{})
	}()

	select {
	case err := <-done:
		t.Fatalf("resolved before navigation completed: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	fake.FinishNavigation()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("did not resolve after navigation completed")
	}
	assert.Len(t, fake.MouseEvents, 3)
}

func TestClickAndWaitArmsBeforeDispatch(t *testing.T) {
	fake := drivertest.New().AddElement("#go", buttonElement())
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	// A navigation completing the instant the click lands must still be
	// observed, so the wait has to be armed before any mouse event.
	fake.FinishNavigation()
	require.NoError(t, e.ClickAndWait(context.Background(), "#go", ClickOptions{}))

	assert.Equal(t, 1, fake.NavArmed)
	assert.True(t, fake.ArmedBeforeMouse)
}

func TestClickAbsentSelectorBoundedWithoutDeadline(t *testing.T) {
	fake := drivertest.New()
	fake.WaitBound = 20 * time.Millisecond
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	// No deadline on the context: the driver's own wait bound must cap the
	// visibility wait and surface the miss instead of blocking.
	start := time.Now()
	err := e.Click(context.Background(), "#missing", ClickOptions{})

	assert.ErrorIs(t, err, schemas.ErrElementNotFound)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitForSelectorFound(t *testing.T) {
	fake := drivertest.New().AddElement("#go", buttonElement())
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	found, err := e.WaitForSelector(context.Background(), "#go", true)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestWaitForSelectorTimeoutSwallowed(t *testing.T) {
	fake := drivertest.New()
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	found, err := e.WaitForSelector(context.Background(), "#missing", false)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWaitForSelectorTimeoutThrows(t *testing.T) {
	fake := drivertest.New()
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	_, err := e.WaitForSelector(context.Background(), "#missing", true)
	assert.ErrorIs(t, err, schemas.ErrElementNotFound)
}

func TestIsSelectorVisible(t *testing.T) {
	fake := drivertest.New().
		AddElement("#visible", buttonElement()).
		AddElement("#below", drivertest.Element{VisibleAfterScrolls: 5})
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	visible, err := e.IsSelectorVisible(context.Background(), "#visible")
	require.NoError(t, err)
	assert.True(t, visible)

	visible, err = e.IsSelectorVisible(context.Background(), "#below")
	require.NoError(t, err)
	assert.False(t, visible)
}

func TestHoverMovesToCenter(t *testing.T) {
	fake := drivertest.New().AddElement("#menu", buttonElement())
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	require.NoError(t, e.Hover(context.Background(), "#menu"))

	require.Len(t, fake.MouseEvents, 1)
	ev := fake.MouseEvents[0]
	assert.Equal(t, driver.MouseMove, ev.Type)
	assert.Equal(t, 140.0, ev.X)
	assert.Equal(t, 215.0, ev.Y)
}

func TestSelectAssignsValue(t *testing.T) {
	fake := drivertest.New().AddElement("#country", buttonElement())
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	require.NoError(t, e.Select(context.Background(), "#country", "DE"))
	assert.Equal(t, "DE", fake.SetValues["#country"])
}

func TestSelectMissingElement(t *testing.T) {
	fake := drivertest.New()
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	err := e.Select(context.Background(), "#missing", "DE")
	assert.ErrorIs(t, err, schemas.ErrElementNotFound)
}

func TestSetValueBypassesTyping(t *testing.T) {
	fake := drivertest.New().AddElement("#editor", buttonElement())
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	require.NoError(t, e.SetValue(context.Background(), "#editor", "pasted text"))
	assert.Equal(t, "pasted text", fake.SetValues["#editor"])
	assert.Empty(t, fake.TextSent)
}

func TestGetHref(t *testing.T) {
	fake := drivertest.New().AddElement("a.next", drivertest.Element{Href: "https://example.com/page/2"})
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	href, err := e.GetHref(context.Background(), "a.next")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/page/2", href)
}

func TestDeactivateLink(t *testing.T) {
	fake := drivertest.New()
	fake.EvalFunc = func(expr string, out any) error {
		if b, ok := out.(*bool); ok {
			*b = strings.Contains(expr, `"a.tracked"`)
		}
		return nil
	}
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	require.NoError(t, e.DeactivateLink(context.Background(), "a.tracked"))
	require.NotEmpty(t, fake.Evaluated)
	assert.Contains(t, fake.Evaluated[0], "preventDefault")

	err := e.DeactivateLink(context.Background(), "a.other")
	assert.ErrorIs(t, err, schemas.ErrElementNotFound)
}

func TestTypeFocusesAndEmitsPerCharacter(t *testing.T) {
	fake := drivertest.New().AddElement("#search", buttonElement())
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	require.NoError(t, e.Type(context.Background(), "#search", "go tools"))

	assert.Equal(t, []string{"#search"}, fake.Focused)
	require.Len(t, fake.TextSent, len("go tools"))
	assert.Equal(t, "g", fake.TextSent[0])
	assert.Equal(t, " ", fake.TextSent[2])
	// Per-character pacing accumulates sleep between emissions.
	assert.Greater(t, fake.SleptTotal, time.Duration(0))
}

func TestTypeEmptySelectorUsesFocusedElement(t *testing.T) {
	fake := drivertest.New()
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	require.NoError(t, e.Type(context.Background(), "", "hi"))

	assert.Empty(t, fake.Focused)
	assert.Len(t, fake.TextSent, 2)
}

func TestTypeMissingElement(t *testing.T) {
	fake := drivertest.New()
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	err := e.Type(context.Background(), "#missing", "hi")
	assert.ErrorIs(t, err, schemas.ErrElementNotFound)
}

func TestTypeFrameRequiresFocusedFrame(t *testing.T) {
	fake := drivertest.New().AddElement("#in-frame", buttonElement())
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})

	err := e.TypeFrame(context.Background(), "#in-frame", "hi")
	assert.ErrorIs(t, err, schemas.ErrFrameNotResolved)
}

func TestTypeFrameAgainstFocusedFrame(t *testing.T) {
	fake := drivertest.New().
		AddElement("#captcha-frame", drivertest.Element{FrameID: "frame-1"}).
		AddElement("#answer", buttonElement())
	fake.AddFrame(schemas.FrameInfo{ID: "frame-1", URL: "https://captcha.example/challenge"})
	e, session := newTestEngine(t, fake, config.BrowserConfig{})

	require.True(t, session.FocusFrameByURLPrefix(context.Background(), "https://captcha.example"))

	require.NoError(t, e.TypeFrame(context.Background(), "#answer", "x7k"))
	assert.Equal(t, []string{"#answer"}, fake.Focused)
	assert.Len(t, fake.TextSent, 3)
}

func TestSingleKeyHelpers(t *testing.T) {
	fake := drivertest.New()
	e, _ := newTestEngine(t, fake, config.BrowserConfig{})
	ctx := context.Background()

	require.NoError(t, e.TypeEnter(ctx))
	require.NoError(t, e.TypeTab(ctx))
	require.NoError(t, e.TypeEsc(ctx))

	assert.Equal(t, []string{kb.Enter, kb.Tab, kb.Escape}, fake.KeysSent)
}
