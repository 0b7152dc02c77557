package driver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/veylan/mimic/api/schemas"
)

// defaultWaitBound caps how long a waiting query (Geometry, Focus,
// SetValue...) may block on a selector that never materializes when the
// caller's context carries no deadline of its own.
const defaultWaitBound = 10 * time.Second

// Chrome implements Driver on top of a chromedp tab context. All calls run
// under a context combining the tab lifetime with the caller's deadline, so
// either side can abort an in-flight command.
type Chrome struct {
	tab       context.Context
	logger    *zap.Logger
	waitBound time.Duration
}

var _ Driver = (*Chrome)(nil)

// NewChrome wraps an established chromedp tab context.
func NewChrome(tab context.Context, logger *zap.Logger) *Chrome {
	return &Chrome{tab: tab, logger: logger.Named("driver"), waitBound: defaultWaitBound}
}

// run executes chromedp actions respecting both the tab lifetime and the
// caller's context.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(c.tab, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// runBounded runs actions that wait on a selector under the driver's wait
// bound. Exceeding the bound without the caller's own context expiring maps
// to ErrElementNotFound.
func (c *Chrome) runBounded(ctx context.Context, selector string, actions ...chromedp.Action) error {
	waitCtx, cancel := context.WithTimeout(ctx, c.waitBound)
	defer cancel()
	err := c.run(waitCtx, actions...)
	if err != nil && waitCtx.Err() != nil && ctx.Err() == nil {
		return fmt.Errorf("%w: %s not visible within %s", schemas.ErrElementNotFound, selector, c.waitBound)
	}
	return err
}

// queryOpts builds the selector options for an optionally frame-scoped query.
func queryOpts(scope *Frame, extra ...chromedp.QueryOption) []chromedp.QueryOption {
	opts := []chromedp.QueryOption{chromedp.ByQuery}
	if scope != nil {
		if node, ok := scope.Ref().(*cdp.Node); ok && node != nil {
			opts = append(opts, chromedp.FromNode(node))
		}
	}
	return append(opts, extra...)
}

func (c *Chrome) Navigate(ctx context.Context, url string, opts NavigateOptions) error {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// WaitReady lets the DOM settle past the load event before the caller
	// starts querying selectors.
	if err := c.run(navCtx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		if navCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("navigate %s: %w", url, schemas.ErrNavigationTimeout)
		}
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (c *Chrome) ArmNavigation(ctx context.Context) (NavigationWait, error) {
	loaded := make(chan struct{}, 1)

	// The listener is registered before ArmNavigation returns, so a load
	// event fired by an action issued right after arming is never missed.
	listenCtx, cancel := context.WithCancel(c.tab)
	chromedp.ListenTarget(listenCtx, func(ev any) {
		if _, ok := ev.(*page.EventLoadEventFired); ok {
			select {
			case loaded <- struct{}{}:
			default:
			}
		}
	})

	wait := func(timeout time.Duration) error {
		defer cancel()
		select {
		case <-loaded:
			return nil
		case <-time.After(timeout):
			return schemas.ErrNavigationTimeout
		case <-ctx.Done():
			return ctx.Err()
		case <-c.tab.Done():
			return c.tab.Err()
		}
	}
	return wait, nil
}

func (c *Chrome) Exists(ctx context.Context, selector string, scope *Frame) (bool, error) {
	var nodes []*cdp.Node
	err := c.run(ctx, chromedp.Nodes(selector, &nodes, queryOpts(scope, chromedp.AtLeast(0))...))
	if err != nil {
		return false, fmt.Errorf("query %q: %w", selector, err)
	}
	return len(nodes) > 0, nil
}

func (c *Chrome) IsVisible(ctx context.Context, selector string, scope *Frame) (bool, error) {
	var nodes []*cdp.Node
	err := c.run(ctx, chromedp.Nodes(selector, &nodes, queryOpts(scope, chromedp.AtLeast(0))...))
	if err != nil {
		return false, fmt.Errorf("query %q: %w", selector, err)
	}
	if len(nodes) == 0 {
		return false, nil
	}

	var visible bool
	err = c.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		box, err := dom.GetBoxModel().WithNodeID(nodes[0].NodeID).Do(cctx)
		if err != nil || box == nil || len(box.Content) < 8 {
			// No box model means the element is not rendered.
			return nil
		}
		_, _, _, cssLayout, _, _, err := page.GetLayoutMetrics().Do(cctx)
		if err != nil || cssLayout == nil {
			return err
		}
		cx := (box.Content[0] + box.Content[4]) / 2
		cy := (box.Content[1] + box.Content[5]) / 2
		visible = box.Width > 0 && box.Height > 0 &&
			cx >= 0 && cy >= 0 &&
			cx <= float64(cssLayout.ClientWidth) && cy <= float64(cssLayout.ClientHeight)
		return nil
	}))
	if err != nil {
		return false, fmt.Errorf("visibility %q: %w", selector, err)
	}
	return visible, nil
}

func (c *Chrome) Geometry(ctx context.Context, selector string, scope *Frame) (*Box, error) {
	var nodes []*cdp.Node
	err := c.runBounded(ctx, selector,
		chromedp.WaitVisible(selector, queryOpts(scope)...),
		chromedp.Nodes(selector, &nodes, queryOpts(scope)...),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, schemas.ErrElementNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("locate %q: %w", selector, err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("selector %q matched no nodes", selector)
	}

	var box *Box
	err = c.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		model, err := boxModelWithRetry(cctx, nodes[0].NodeID)
		if err != nil {
			return err
		}
		box = contentBox(model)
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("geometry %q: %w", selector, err)
	}
	return box, nil
}

// boxModelWithRetry fetches the box model, retrying with backoff while the
// renderer settles (a freshly attached node often has no geometry yet).
func boxModelWithRetry(ctx context.Context, id cdp.NodeID) (*dom.BoxModel, error) {
	const maxRetries = 3
	var model *dom.BoxModel
	var err error
	for i := 0; i < maxRetries; i++ {
		model, err = dom.GetBoxModel().WithNodeID(id).Do(ctx)
		if err == nil && model != nil && len(model.Content) >= 8 && model.Width > 0 && model.Height > 0 {
			return model, nil
		}
		if err == nil {
			err = fmt.Errorf("element has no geometric representation")
		}
		backoff := time.Duration(50*math.Pow(2, float64(i))) * time.Millisecond
		if serr := chromedp.Sleep(backoff).Do(ctx); serr != nil {
			return nil, serr
		}
	}
	return nil, fmt.Errorf("box model after %d attempts: %w", maxRetries, err)
}

// contentBox converts a CDP box model to an axis-aligned Box using the
// content quad's extremes.
func contentBox(m *dom.BoxModel) *Box {
	minX, minY := m.Content[0], m.Content[1]
	maxX, maxY := minX, minY
	for i := 2; i+1 < len(m.Content); i += 2 {
		minX = math.Min(minX, m.Content[i])
		maxX = math.Max(maxX, m.Content[i])
		minY = math.Min(minY, m.Content[i+1])
		maxY = math.Max(maxY, m.Content[i+1])
	}
	return &Box{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

func (c *Chrome) Focus(ctx context.Context, selector string, scope *Frame) error {
	if err := c.runBounded(ctx, selector, chromedp.Focus(selector, queryOpts(scope)...)); err != nil {
		return fmt.Errorf("focus %q: %w", selector, err)
	}
	return nil
}

func (c *Chrome) DispatchMouse(ctx context.Context, ev MouseEvent) error {
	return c.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		p := input.DispatchMouseEvent(input.MouseType(ev.Type), ev.X, ev.Y)
		if ev.Button != "" && ev.Button != ButtonNone {
			p = p.WithButton(input.MouseButton(ev.Button))
		}
		if ev.ClickCount > 0 {
			p = p.WithClickCount(int64(ev.ClickCount))
		}
		return p.Do(cctx)
	}))
}

func (c *Chrome) DispatchTouch(ctx context.Context, x, y float64) error {
	return c.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		points := []*input.TouchPoint{{X: x, Y: y}}
		if err := input.DispatchTouchEvent(input.TouchStart, points).Do(cctx); err != nil {
			return err
		}
		return input.DispatchTouchEvent(input.TouchEnd, []*input.TouchPoint{}).Do(cctx)
	}))
}

func (c *Chrome) SendText(ctx context.Context, text string) error {
	// Target the focused element so callers control focus explicitly.
	return c.run(ctx, chromedp.SendKeys("document.activeElement", text, chromedp.ByJSPath))
}

func (c *Chrome) SendKey(ctx context.Context, key string, hold time.Duration) error {
	if err := c.run(ctx, chromedp.KeyEvent(key)); err != nil {
		return fmt.Errorf("key event: %w", err)
	}
	if hold > 0 {
		return c.Sleep(ctx, hold)
	}
	return nil
}

func (c *Chrome) SetValue(ctx context.Context, selector, value string, scope *Frame) error {
	if err := c.runBounded(ctx, selector, chromedp.SetValue(selector, value, queryOpts(scope)...)); err != nil {
		return fmt.Errorf("set value %q: %w", selector, err)
	}
	return nil
}

func (c *Chrome) Evaluate(ctx context.Context, expr string, out any) error {
	return c.run(ctx, chromedp.Evaluate(expr, out))
}

func (c *Chrome) Href(ctx context.Context, selector string, scope *Frame) (string, error) {
	var href string
	err := c.runBounded(ctx, selector, chromedp.JavascriptAttribute(selector, "href", &href, queryOpts(scope)...))
	if err != nil {
		return "", fmt.Errorf("href %q: %w", selector, err)
	}
	return href, nil
}

func (c *Chrome) Screenshot(ctx context.Context, format schemas.ScreenshotFormat, quality int) ([]byte, error) {
	var buf []byte
	err := c.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		p := page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormat(format))
		if format == schemas.ScreenshotJPEG && quality > 0 {
			p = p.WithQuality(int64(quality))
		}
		var err error
		buf, err = p.Do(cctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

func (c *Chrome) ScreenshotElement(ctx context.Context, selector string) ([]byte, error) {
	var buf []byte
	if err := c.runBounded(ctx, selector, chromedp.Screenshot(selector, &buf, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, schemas.ErrElementNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("element screenshot %q: %w", selector, err)
	}
	return buf, nil
}

func (c *Chrome) FrameTree(ctx context.Context) ([]schemas.FrameInfo, error) {
	var infos []schemas.FrameInfo
	err := c.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		tree, err := page.GetFrameTree().Do(cctx)
		if err != nil {
			return err
		}
		var walk func(t *page.FrameTree)
		walk = func(t *page.FrameTree) {
			if t == nil || t.Frame == nil {
				return
			}
			infos = append(infos, schemas.FrameInfo{ID: string(t.Frame.ID), URL: t.Frame.URL})
			for _, child := range t.ChildFrames {
				walk(child)
			}
		}
		walk(tree)
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("frame tree: %w", err)
	}
	return infos, nil
}

func (c *Chrome) FrameByID(ctx context.Context, id string) (*Frame, error) {
	var nodes []*cdp.Node
	err := c.run(ctx, chromedp.Nodes("iframe, frame", &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err != nil {
		return nil, fmt.Errorf("frame lookup: %w", err)
	}
	for _, n := range nodes {
		if string(n.FrameID) == id {
			return NewFrame(schemas.FrameInfo{ID: id, URL: frameURL(n)}, n), nil
		}
	}
	return nil, nil
}

func (c *Chrome) ContentFrame(ctx context.Context, selector string) (*Frame, error) {
	var nodes []*cdp.Node
	err := c.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0)))
	if err != nil {
		return nil, fmt.Errorf("content frame %q: %w", selector, err)
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	n := nodes[0]
	if n.FrameID == "" {
		return nil, nil
	}
	return NewFrame(schemas.FrameInfo{ID: string(n.FrameID), URL: frameURL(n)}, n), nil
}

// frameURL best-effort extracts the frame source from the owner element.
func frameURL(n *cdp.Node) string {
	return n.AttributeValue("src")
}

func (c *Chrome) Sleep(ctx context.Context, d time.Duration) error {
	runCtx, cancel := combineContext(c.tab, ctx)
	defer cancel()
	select {
	case <-time.After(d):
		return nil
	case <-runCtx.Done():
		return runCtx.Err()
	}
}

// combineContext derives a context cancelled when either input is done. The
// primary context's values (the CDP target) are inherited.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
