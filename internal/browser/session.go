// Package browser owns the lifecycle of one automated browser session: the
// driver connection, the primary page, the navigation epoch and the focused
// frame handle. It is the composition root the interaction and captcha
// components hang off.
package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veylan/mimic/api/schemas"
	"github.com/veylan/mimic/internal/config"
	"github.com/veylan/mimic/internal/driver"
	"github.com/veylan/mimic/internal/jitter"
)

// State is the session lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateDisposed:
		return "disposed"
	default:
		return "uninitialized"
	}
}

// frameHandle pairs a resolved frame reference with the navigation epoch it
// was resolved under. A handle whose epoch no longer matches the page is
// stale and must never be used.
type frameHandle struct {
	frame *driver.Frame
	epoch int64
}

// Session is the exclusive owner of one browser connection, its primary page
// and at most one focused frame handle. Callers must not issue two
// interaction calls against the same Session concurrently; the sole
// sanctioned pairing is the click plus navigation-wait inside
// Engine.ClickAndWait.
type Session struct {
	id       string
	cfg      config.BrowserConfig
	identity schemas.Identity
	logger   *zap.Logger
	rand     *jitter.Source

	allocCancel context.CancelFunc
	tab         context.Context
	tabCancel   context.CancelFunc

	drv driver.Driver

	state atomic.Int32
	epoch atomic.Int64

	mu    sync.Mutex
	frame *frameHandle
}

// NewSession creates an uninitialized Session. Initialize must be called
// before any interaction.
func NewSession(cfg config.BrowserConfig, identity schemas.Identity, logger *zap.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:       id,
		cfg:      cfg,
		identity: identity,
		logger:   logger.Named("session").With(zap.String("session_id", id)),
		rand:     jitter.NewSource(identity.RNGSeed),
	}
}

// NewFromDriver builds a Ready session over an already established driver.
// Used by tests and by callers embedding mimic into an existing browser
// connection.
func NewFromDriver(drv driver.Driver, identity schemas.Identity, logger *zap.Logger) *Session {
	s := NewSession(config.BrowserConfig{}, identity, logger)
	s.drv = drv
	s.state.Store(int32(StateReady))
	return s
}

// Initialize launches (or attaches to) a browser, opens the primary page and
// applies the identity's user agent and viewport. The session transitions to
// Ready; any failure surfaces as schemas.ErrInitialization.
func (s *Session) Initialize(ctx context.Context) error {
	switch s.State() {
	case StateDisposed:
		return schemas.ErrDisposed
	case StateReady:
		return nil
	}

	var allocCtx context.Context
	if s.cfg.Endpoint != "" {
		allocCtx, s.allocCancel = chromedp.NewRemoteAllocator(context.Background(), s.cfg.Endpoint)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", s.cfg.Headless),
			chromedp.Flag("disable-gpu", true),
		)
		if s.cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(s.cfg.ExecPath))
		}
		for _, arg := range s.cfg.Args {
			opts = append(opts, chromedp.Flag(arg, true))
		}
		allocCtx, s.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	s.tab, s.tabCancel = chromedp.NewContext(allocCtx)

	// Establish the target connection and apply the identity.
	initCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(s.identity.Viewport.Width), int64(s.identity.Viewport.Height)),
	}
	if s.identity.UserAgent != "" {
		tasks = append(tasks, chromedp.ActionFunc(func(cctx context.Context) error {
			return emulation.SetUserAgentOverride(s.identity.UserAgent).Do(cctx)
		}))
	}
	if err := chromedp.Run(mergeDeadline(s.tab, initCtx), tasks); err != nil {
		s.teardown()
		return fmt.Errorf("%w: %v", schemas.ErrInitialization, err)
	}

	// Every top-level navigation advances the epoch, invalidating any frame
	// handle resolved before it.
	chromedp.ListenTarget(s.tab, func(ev any) {
		if nav, ok := ev.(*page.EventFrameNavigated); ok && nav.Frame != nil && nav.Frame.ParentID == "" {
			s.epoch.Add(1)
		}
	})

	s.drv = driver.NewChrome(s.tab, s.logger)
	s.state.Store(int32(StateReady))
	s.logger.Info("Session initialized.",
		zap.String("user_agent", s.identity.UserAgent),
		zap.Int("viewport_width", s.identity.Viewport.Width),
		zap.Int("viewport_height", s.identity.Viewport.Height))
	return nil
}

// mergeDeadline applies the deadline of bound to the chromedp context tab
// without losing the target values carried by tab.
func mergeDeadline(tab, bound context.Context) context.Context {
	if deadline, ok := bound.Deadline(); ok {
		merged, cancel := context.WithDeadline(tab, deadline)
		go func() {
			<-merged.Done()
			cancel()
		}()
		return merged
	}
	return tab
}

// Dispose releases the browser connection. It is idempotent; all subsequent
// operations fail with schemas.ErrDisposed.
func (s *Session) Dispose() {
	prev := State(s.state.Swap(int32(StateDisposed)))
	if prev == StateDisposed {
		return
	}
	s.teardown()
	s.logger.Info("Session disposed.")
}

func (s *Session) teardown() {
	if s.tabCancel != nil {
		s.tabCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// requireReady gates every operation on the state machine.
func (s *Session) requireReady() error {
	switch s.State() {
	case StateReady:
		return nil
	case StateDisposed:
		return schemas.ErrDisposed
	default:
		return schemas.ErrInitialization
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Identity returns the behavioral profile, shared read-only.
func (s *Session) Identity() schemas.Identity { return s.identity }

// Rand returns the session's randomization source.
func (s *Session) Rand() *jitter.Source { return s.rand }

// Logger returns the session-scoped logger.
func (s *Session) Logger() *zap.Logger { return s.logger }

// Driver returns the capability surface, or an error reflecting the session
// state.
func (s *Session) Driver() (driver.Driver, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	return s.drv, nil
}

// Epoch returns the current navigation epoch of the primary page.
func (s *Session) Epoch() int64 { return s.epoch.Load() }

// Navigate loads the URL on the primary page and advances the epoch.
func (s *Session) Navigate(ctx context.Context, url string) error {
	drv, err := s.Driver()
	if err != nil {
		return err
	}
	if err := drv.Navigate(ctx, url, driver.NavigateOptions{Timeout: s.cfg.NavigationTimeout}); err != nil {
		return err
	}
	s.epoch.Add(1)
	s.logger.Debug("Navigated.", zap.String("url", url), zap.Int64("epoch", s.Epoch()))
	return nil
}

// Pages lists the identifiers of the open pages attached to this session's
// browser. A freshly initialized session has exactly one.
func (s *Session) Pages(ctx context.Context) ([]string, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	if s.tab == nil {
		// Driver-injected sessions own a single synthetic page.
		return []string{s.id}, nil
	}
	infos, err := chromedp.Targets(s.tab)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	var pages []string
	for _, info := range infos {
		if info.Type == "page" {
			pages = append(pages, string(info.TargetID))
		}
	}
	return pages, nil
}
