package schemas

import "errors"

// Error taxonomy shared by every component. Callers match with errors.Is;
// components wrap these with fmt.Errorf("...: %w", ...) to add context.
var (
	// ErrInitialization reports that the browser driver could not be
	// launched or attached, or that an operation ran before Initialize.
	ErrInitialization = errors.New("session not initialized")

	// ErrDisposed reports an operation issued after Dispose.
	ErrDisposed = errors.New("session disposed")

	// ErrElementNotFound reports a selector that stayed absent (or never
	// became visible) past the bounded wait.
	ErrElementNotFound = errors.New("element not found")

	// ErrNavigationTimeout reports a navigation wait that did not complete
	// within its deadline.
	ErrNavigationTimeout = errors.New("navigation timed out")

	// ErrFrameNotResolved reports a frame-scoped operation with no focused
	// frame, or a focused frame whose resolution epoch no longer matches
	// the page (the page navigated since the frame was resolved).
	ErrFrameNotResolved = errors.New("frame not resolved")

	// ErrCaptchaService reports a remote solve failure or timeout.
	ErrCaptchaService = errors.New("captcha service failure")
)
