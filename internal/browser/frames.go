package browser

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/veylan/mimic/api/schemas"
	"github.com/veylan/mimic/internal/driver"
)

// FocusFrameByURLPrefix scans the live frame tree and focuses the first frame
// whose URL starts with prefix. It reports whether a frame was focused; a
// failed lookup never propagates as an error, it only logs.
func (s *Session) FocusFrameByURLPrefix(ctx context.Context, prefix string) bool {
	drv, err := s.Driver()
	if err != nil {
		s.logger.Debug("Frame focus skipped.", zap.Error(err))
		return false
	}
	epoch := s.Epoch()
	tree, err := drv.FrameTree(ctx)
	if err != nil {
		s.logger.Debug("Frame tree snapshot failed.", zap.Error(err))
		return false
	}
	for _, info := range tree {
		if !strings.HasPrefix(info.URL, prefix) {
			continue
		}
		frame, err := drv.FrameByID(ctx, info.ID)
		if err != nil || frame == nil {
			// Frame tree can shift between the snapshot and the resolve.
			continue
		}
		s.setFrame(frame, epoch)
		s.logger.Debug("Frame focused.",
			zap.String("frame_url", info.URL),
			zap.Int64("epoch", epoch))
		return true
	}
	return false
}

// FocusFrameBySelector focuses the content document of the iframe element
// matching selector. It reports whether a frame was focused and never
// propagates lookup errors.
func (s *Session) FocusFrameBySelector(ctx context.Context, selector string) bool {
	drv, err := s.Driver()
	if err != nil {
		s.logger.Debug("Frame focus skipped.", zap.Error(err))
		return false
	}
	epoch := s.Epoch()
	frame, err := drv.ContentFrame(ctx, selector)
	if err != nil || frame == nil {
		if err != nil {
			s.logger.Debug("Content frame lookup failed.",
				zap.String("selector", selector), zap.Error(err))
		}
		return false
	}
	s.setFrame(frame, epoch)
	s.logger.Debug("Frame focused.",
		zap.String("selector", selector),
		zap.String("frame_url", frame.Info.URL),
		zap.Int64("epoch", epoch))
	return true
}

// ClearFrame drops the focused frame handle, returning scoped operations to
// the top document.
func (s *Session) ClearFrame() {
	s.mu.Lock()
	s.frame = nil
	s.mu.Unlock()
}

// FrameScope returns the focused frame for a frame-scoped operation. The
// handle is only valid under the epoch it was resolved under; after a
// top-level navigation the stored handle is stale and the call fails with
// schemas.ErrFrameNotResolved instead of touching a dead frame.
func (s *Session) FrameScope() (*driver.Frame, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	handle := s.frame
	s.mu.Unlock()
	if handle == nil {
		return nil, schemas.ErrFrameNotResolved
	}
	if handle.epoch != s.Epoch() {
		s.mu.Lock()
		if s.frame == handle {
			s.frame = nil
		}
		s.mu.Unlock()
		return nil, schemas.ErrFrameNotResolved
	}
	return handle.frame, nil
}

func (s *Session) setFrame(frame *driver.Frame, epoch int64) {
	s.mu.Lock()
	s.frame = &frameHandle{frame: frame, epoch: epoch}
	s.mu.Unlock()
}
