// Package driver defines the capability surface the interaction layer needs
// from a browser automation backend, together with the chromedp-backed
// implementation. Components above this package depend only on the Driver
// interface, which keeps them agnostic of the underlying protocol and lets
// tests substitute a deterministic double (see drivertest).
package driver

import (
	"context"
	"time"

	"github.com/veylan/mimic/api/schemas"
)

// MouseEventType mirrors the standard DOM mouse event kinds.
type MouseEventType string

const (
	MouseMove    MouseEventType = "mouseMoved"
	MousePress   MouseEventType = "mousePressed"
	MouseRelease MouseEventType = "mouseReleased"
)

// MouseButton identifies the button for press and release events.
type MouseButton string

const (
	ButtonNone MouseButton = "none"
	ButtonLeft MouseButton = "left"
)

// MouseEvent holds the data for a single dispatched mouse event.
type MouseEvent struct {
	Type       MouseEventType
	X, Y       float64
	Button     MouseButton
	ClickCount int
}

// Box is the rendered geometry of an element, in viewport coordinates.
type Box struct {
	X, Y          float64
	Width, Height float64
}

// Center returns the geometric center of the box.
func (b Box) Center() (x, y float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// TopRight returns a point just inside the top-right corner of the box.
func (b Box) TopRight() (x, y float64) {
	return b.X + b.Width - 1, b.Y + 1
}

// Frame is an opaque reference to an embedded document context. The ref field
// is private to the implementation that produced it; callers treat a Frame as
// a token passed back into frame-scoped operations.
type Frame struct {
	Info schemas.FrameInfo
	ref  any
}

// NavigateOptions tunes a navigation and its completion wait.
type NavigateOptions struct {
	Timeout time.Duration
}

// NavigationWait blocks until a previously armed navigation completes,
// bounded by timeout. Calling it more than once is undefined.
type NavigationWait func(timeout time.Duration) error

// Driver is the capability surface consumed by the session, interaction,
// scroll and captcha components. Implementations must honor context
// cancellation on every blocking call.
type Driver interface {
	// Navigate loads the URL and waits for the load event, bounded by
	// opts.Timeout.
	Navigate(ctx context.Context, url string, opts NavigateOptions) error

	// ArmNavigation subscribes to the next top-level navigation before
	// returning, so an action issued after arming cannot slip past the
	// listener. The returned wait blocks until that navigation completes,
	// or fails with schemas.ErrNavigationTimeout.
	ArmNavigation(ctx context.Context) (NavigationWait, error)

	// Exists reports one-shot presence of a selector, without waiting.
	Exists(ctx context.Context, selector string, scope *Frame) (bool, error)

	// IsVisible reports whether the first match is rendered inside the
	// viewport, without waiting.
	IsVisible(ctx context.Context, selector string, scope *Frame) (bool, error)

	// Geometry waits for the first match to become visible and returns its
	// rendered box. Absence past the driver's own bound reports
	// schemas.ErrElementNotFound even when ctx carries no deadline.
	Geometry(ctx context.Context, selector string, scope *Frame) (*Box, error)

	// Focus gives keyboard focus to the first match.
	Focus(ctx context.Context, selector string, scope *Frame) error

	// DispatchMouse emits one raw mouse event at viewport coordinates.
	DispatchMouse(ctx context.Context, ev MouseEvent) error

	// DispatchTouch emits a tap (touch start + end) at viewport coordinates.
	DispatchTouch(ctx context.Context, x, y float64) error

	// SendText emits text into the focused element character events included.
	SendText(ctx context.Context, text string) error

	// SendKey emits a named key (Enter, Tab, Escape, Page Down...) and then
	// dwells for hold before returning, pacing successive keystrokes.
	SendKey(ctx context.Context, key string, hold time.Duration) error

	// SetValue assigns a DOM value directly, bypassing key emulation.
	SetValue(ctx context.Context, selector, value string, scope *Frame) error

	// Evaluate runs a JavaScript expression in the main document and
	// unmarshals its result into out (out may be nil).
	Evaluate(ctx context.Context, expr string, out any) error

	// Href resolves the absolute link target of the first matching anchor.
	Href(ctx context.Context, selector string, scope *Frame) (string, error)

	// Screenshot captures the viewport in the given format.
	Screenshot(ctx context.Context, format schemas.ScreenshotFormat, quality int) ([]byte, error)

	// ScreenshotElement captures only the region covered by the first match.
	ScreenshotElement(ctx context.Context, selector string) ([]byte, error)

	// FrameTree snapshots the page's current frame tree, including the top
	// document.
	FrameTree(ctx context.Context) ([]schemas.FrameInfo, error)

	// FrameByID resolves a frame-tree entry into a scoped Frame reference,
	// or nil if the frame no longer exists.
	FrameByID(ctx context.Context, id string) (*Frame, error)

	// ContentFrame resolves the embedded document of the iframe element
	// matching selector, or nil if the element is absent or hosts none.
	ContentFrame(ctx context.Context, selector string) (*Frame, error)

	// Sleep pauses for d, respecting cancellation.
	Sleep(ctx context.Context, d time.Duration) error
}

// NewFrame builds a Frame from an implementation-private reference. It exists
// for Driver implementations (including test doubles) living outside this
// package's file set.
func NewFrame(info schemas.FrameInfo, ref any) *Frame {
	return &Frame{Info: info, ref: ref}
}

// Ref exposes the private reference to implementations.
func (f *Frame) Ref() any {
	if f == nil {
		return nil
	}
	return f.ref
}
