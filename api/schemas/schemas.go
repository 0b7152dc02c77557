package schemas

import (
	"time"
)

// -- Identity --

// Viewport describes the emulated browser window dimensions.
type Viewport struct {
	Width  int `mapstructure:"width" yaml:"width" json:"width"`
	Height int `mapstructure:"height" yaml:"height" json:"height"`
}

// Identity is a behavioral profile parameterizing all randomized behavior for
// one session: typing cadence, click jitter, spoofed user agent and viewport.
// An Identity is immutable once constructed and is shared read-only between
// the session controller, interaction engine and scroll engine.
type Identity struct {
	// TypingDelayMean and TypingDelaySpread parameterize the uniform
	// per-character delay distribution [mean-spread, mean+spread], in ms.
	TypingDelayMean   float64 `mapstructure:"typing_delay_mean" yaml:"typing_delay_mean" json:"typing_delay_mean"`
	TypingDelaySpread float64 `mapstructure:"typing_delay_spread" yaml:"typing_delay_spread" json:"typing_delay_spread"`

	// ClickJitterRadius bounds the randomized offset (in pixels) applied
	// around the nominal click point.
	ClickJitterRadius float64 `mapstructure:"click_jitter_radius" yaml:"click_jitter_radius" json:"click_jitter_radius"`

	UserAgent string   `mapstructure:"user_agent" yaml:"user_agent" json:"user_agent"`
	Viewport  Viewport `mapstructure:"viewport" yaml:"viewport" json:"viewport"`

	// RNGSeed, when non-zero, makes every randomized component of the
	// session deterministic. Zero selects process entropy.
	RNGSeed int64 `mapstructure:"rng_seed" yaml:"rng_seed" json:"rng_seed,omitempty"`
}

// DefaultIdentity is a reasonable desktop profile used when no identity is
// configured.
var DefaultIdentity = Identity{
	TypingDelayMean:   140,
	TypingDelaySpread: 90,
	ClickJitterRadius: 4,
	UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	Viewport:          Viewport{Width: 1366, Height: 768},
}

// -- Screenshots --

// ScreenshotFormat selects the image encoding for captured artifacts.
type ScreenshotFormat string

const (
	ScreenshotPNG  ScreenshotFormat = "png"
	ScreenshotJPEG ScreenshotFormat = "jpeg"
)

// -- Interaction outcomes --

// Outcome records the result of a single interaction attempt. Outcomes are
// transient: they exist for logging and audit, never as durable state.
type Outcome struct {
	Action    string    `json:"action"`
	Selector  string    `json:"selector,omitempty"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	Artifact  string    `json:"artifact,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// -- Frames --

// FrameInfo is a snapshot of one embedded document context discovered in the
// page's frame tree.
type FrameInfo struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}
