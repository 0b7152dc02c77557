package browser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veylan/mimic/api/schemas"
	"github.com/veylan/mimic/internal/config"
	"github.com/veylan/mimic/internal/driver/drivertest"
)

func TestSessionStartsUninitialized(t *testing.T) {
	s := NewSession(config.BrowserConfig{}, schemas.DefaultIdentity, zap.NewNop())

	assert.Equal(t, StateUninitialized, s.State())

	_, err := s.Driver()
	assert.ErrorIs(t, err, schemas.ErrInitialization)

	err = s.Navigate(context.Background(), "https://example.com")
	assert.ErrorIs(t, err, schemas.ErrInitialization)

	_, err = s.Pages(context.Background())
	assert.ErrorIs(t, err, schemas.ErrInitialization)
}

func TestSessionDisposeIsIdempotentAndTerminal(t *testing.T) {
	s := NewFromDriver(drivertest.New(), schemas.DefaultIdentity, zap.NewNop())
	require.Equal(t, StateReady, s.State())

	s.Dispose()
	s.Dispose()
	assert.Equal(t, StateDisposed, s.State())

	_, err := s.Driver()
	assert.ErrorIs(t, err, schemas.ErrDisposed)

	err = s.Navigate(context.Background(), "https://example.com")
	assert.ErrorIs(t, err, schemas.ErrDisposed)
}

func TestNewFromDriverIsReady(t *testing.T) {
	s := NewFromDriver(drivertest.New(), schemas.DefaultIdentity, zap.NewNop())

	assert.Equal(t, StateReady, s.State())
	assert.NotEmpty(t, s.ID())
	assert.NotNil(t, s.Rand())
	assert.Equal(t, schemas.DefaultIdentity, s.Identity())

	pages, err := s.Pages(context.Background())
	require.NoError(t, err)
	assert.Len(t, pages, 1)

	_, err = s.FrameScope()
	assert.ErrorIs(t, err, schemas.ErrFrameNotResolved)
}

func TestNavigateAdvancesEpoch(t *testing.T) {
	s := NewFromDriver(drivertest.New(), schemas.DefaultIdentity, zap.NewNop())

	before := s.Epoch()
	require.NoError(t, s.Navigate(context.Background(), "https://example.com"))
	assert.Greater(t, s.Epoch(), before)
}
