// Package drivertest provides a scriptable in-memory Driver used by unit
// tests. Elements, frames and failures are declared up front; the fake
// records every dispatched event so tests can assert on interaction shape
// without a real browser.
package drivertest

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/chromedp/kb"

	"github.com/veylan/mimic/api/schemas"
	"github.com/veylan/mimic/internal/driver"
)

// Element scripts the behavior of one selector.
type Element struct {
	Box  driver.Box
	Href string

	// VisibleAfterScrolls hides the element until that many scroll key
	// presses have been recorded. Zero means visible immediately.
	VisibleAfterScrolls int

	// FrameID, when set, marks the element as an iframe hosting that frame.
	FrameID string
}

// Fake is a deterministic Driver double.
type Fake struct {
	mu sync.Mutex

	elements map[string]*Element
	frames   []schemas.FrameInfo

	// Event records.
	MouseEvents []driver.MouseEvent
	TouchTaps   int
	TextSent    []string
	KeysSent    []string
	Focused     []string
	SetValues   map[string]string
	Evaluated   []string
	Screenshots int
	SleptTotal  time.Duration
	ScrollKeys  int

	// Failure injection.
	MouseErr error
	FocusErr error

	// EvalFunc, when set, intercepts Evaluate calls.
	EvalFunc func(expr string, out any) error

	// WaitBound, when set, makes Geometry on an unscripted selector block
	// for that long before failing, emulating a driver-side visibility
	// wait instead of the default immediate miss.
	WaitBound time.Duration

	// NavArmed counts ArmNavigation calls. ArmedBeforeMouse captures
	// whether a navigation wait was armed when the first mouse event
	// arrived.
	NavArmed         int
	ArmedBeforeMouse bool

	// navDone is closed by FinishNavigation.
	navDone chan struct{}
}

var _ driver.Driver = (*Fake)(nil)

// New creates an empty Fake.
func New() *Fake {
	return &Fake{
		elements:  make(map[string]*Element),
		SetValues: make(map[string]string),
		navDone:   make(chan struct{}),
	}
}

// AddElement scripts a selector.
func (f *Fake) AddElement(selector string, el Element) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.elements[selector] = &el
	return f
}

// AddFrame scripts a frame-tree entry.
func (f *Fake) AddFrame(info schemas.FrameInfo) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, info)
	return f
}

// FinishNavigation unblocks a pending navigation wait.
func (f *Fake) FinishNavigation() {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.navDone:
	default:
		close(f.navDone)
	}
}

func (f *Fake) lookup(selector string) *Element {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.elements[selector]
}

func (f *Fake) Navigate(ctx context.Context, url string, opts driver.NavigateOptions) error {
	return ctx.Err()
}

func (f *Fake) ArmNavigation(ctx context.Context) (driver.NavigationWait, error) {
	f.mu.Lock()
	f.NavArmed++
	done := f.navDone
	f.mu.Unlock()
	return func(timeout time.Duration) error {
		select {
		case <-done:
			return nil
		case <-time.After(timeout):
			return schemas.ErrNavigationTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}, nil
}

func (f *Fake) Exists(ctx context.Context, selector string, scope *driver.Frame) (bool, error) {
	return f.lookup(selector) != nil, nil
}

func (f *Fake) IsVisible(ctx context.Context, selector string, scope *driver.Frame) (bool, error) {
	el := f.lookup(selector)
	if el == nil {
		return false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ScrollKeys >= el.VisibleAfterScrolls, nil
}

func (f *Fake) Geometry(ctx context.Context, selector string, scope *driver.Frame) (*driver.Box, error) {
	el := f.lookup(selector)
	if el == nil {
		f.mu.Lock()
		bound := f.WaitBound
		f.mu.Unlock()
		if bound > 0 {
			select {
			case <-time.After(bound):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return nil, schemas.ErrElementNotFound
	}
	box := el.Box
	return &box, nil
}

func (f *Fake) Focus(ctx context.Context, selector string, scope *driver.Frame) error {
	if f.FocusErr != nil {
		return f.FocusErr
	}
	if f.lookup(selector) == nil {
		return schemas.ErrElementNotFound
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Focused = append(f.Focused, selector)
	return nil
}

func (f *Fake) DispatchMouse(ctx context.Context, ev driver.MouseEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MouseErr != nil {
		return f.MouseErr
	}
	if len(f.MouseEvents) == 0 {
		f.ArmedBeforeMouse = f.NavArmed > 0
	}
	f.MouseEvents = append(f.MouseEvents, ev)
	return nil
}

func (f *Fake) DispatchTouch(ctx context.Context, x, y float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TouchTaps++
	return nil
}

func (f *Fake) SendText(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TextSent = append(f.TextSent, text)
	return nil
}

func (f *Fake) SendKey(ctx context.Context, key string, hold time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.KeysSent = append(f.KeysSent, key)
	// Page navigation keys advance the scripted scroll position.
	switch key {
	case kb.PageDown, kb.PageUp, kb.ArrowDown, kb.ArrowUp, kb.End:
		f.ScrollKeys++
	}
	return nil
}

func (f *Fake) SetValue(ctx context.Context, selector, value string, scope *driver.Frame) error {
	if f.lookup(selector) == nil {
		return schemas.ErrElementNotFound
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SetValues[selector] = value
	return nil
}

func (f *Fake) Evaluate(ctx context.Context, expr string, out any) error {
	f.mu.Lock()
	f.Evaluated = append(f.Evaluated, expr)
	fn := f.EvalFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(expr, out)
	}
	return nil
}

func (f *Fake) Href(ctx context.Context, selector string, scope *driver.Frame) (string, error) {
	el := f.lookup(selector)
	if el == nil {
		return "", schemas.ErrElementNotFound
	}
	return el.Href, nil
}

func (f *Fake) Screenshot(ctx context.Context, format schemas.ScreenshotFormat, quality int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Screenshots++
	return []byte("fake-screenshot"), nil
}

func (f *Fake) ScreenshotElement(ctx context.Context, selector string) ([]byte, error) {
	if f.lookup(selector) == nil {
		return nil, schemas.ErrElementNotFound
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Screenshots++
	return []byte("fake-element-shot"), nil
}

func (f *Fake) FrameTree(ctx context.Context) ([]schemas.FrameInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]schemas.FrameInfo(nil), f.frames...), nil
}

func (f *Fake) FrameByID(ctx context.Context, id string) (*driver.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, info := range f.frames {
		if info.ID == id {
			return driver.NewFrame(info, id), nil
		}
	}
	return nil, nil
}

func (f *Fake) ContentFrame(ctx context.Context, selector string) (*driver.Frame, error) {
	el := f.lookup(selector)
	if el == nil || el.FrameID == "" {
		return nil, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, info := range f.frames {
		if info.ID == el.FrameID {
			return driver.NewFrame(info, el.FrameID), nil
		}
	}
	return driver.NewFrame(schemas.FrameInfo{ID: el.FrameID}, el.FrameID), nil
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.SleptTotal += d
	f.mu.Unlock()
	// Sleeps are recorded, not performed, keeping tests fast.
	return ctx.Err()
}
