package quicbridge

import (
	"slices"
	"time"
)

// Defaults applied by Transport when the corresponding Config field is
// zero.
const (
	DefaultIdleTimeout        = 30 * time.Second
	DefaultMaxPeerBidiStreams = 100
	DefaultMaxPeerUniStreams  = 10
	DefaultRegistrationName   = "quicbridge"
)

// DefaultALPN is the application protocol list used when Config.ALPN is
// empty.
var DefaultALPN = []string{"quicbridge"}

// Config carries the session parameters a Transport bootstraps the engine
// with, plus the pipe thresholds applied to every stream. All fields are
// read once during bootstrap and must not be mutated afterwards.
type Config struct {
	// ALPN is the application protocol list offered during the
	// handshake.
	ALPN []string

	// IdleTimeout closes connections after this duration of silence.
	IdleTimeout time.Duration

	// MaxPeerBidiStreams and MaxPeerUniStreams limit how many concurrent
	// peer-initiated streams a connection accepts.
	MaxPeerBidiStreams int64
	MaxPeerUniStreams  int64

	// PipePauseThreshold and PipeResumeThreshold are the per-stream pipe
	// flow-control marks; zero selects the duplex package defaults.
	PipePauseThreshold  int
	PipeResumeThreshold int

	// RegistrationName names the engine registration.
	RegistrationName string
}

// Clone returns a copy of the config, deep-copying the ALPN list.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	clone := *c
	clone.ALPN = slices.Clone(c.ALPN)
	return &clone
}

func (c *Config) alpn() []string {
	if c != nil && len(c.ALPN) > 0 {
		return c.ALPN
	}
	return DefaultALPN
}

func (c *Config) idleTimeout() time.Duration {
	if c != nil && c.IdleTimeout > 0 {
		return c.IdleTimeout
	}
	return DefaultIdleTimeout
}

func (c *Config) maxPeerBidiStreams() int64 {
	if c != nil && c.MaxPeerBidiStreams > 0 {
		return c.MaxPeerBidiStreams
	}
	return DefaultMaxPeerBidiStreams
}

func (c *Config) maxPeerUniStreams() int64 {
	if c != nil && c.MaxPeerUniStreams > 0 {
		return c.MaxPeerUniStreams
	}
	return DefaultMaxPeerUniStreams
}

func (c *Config) pipePauseThreshold() int {
	if c != nil {
		return c.PipePauseThreshold
	}
	return 0
}

func (c *Config) pipeResumeThreshold() int {
	if c != nil {
		return c.PipeResumeThreshold
	}
	return 0
}

func (c *Config) registrationName() string {
	if c != nil && c.RegistrationName != "" {
		return c.RegistrationName
	}
	return DefaultRegistrationName
}
