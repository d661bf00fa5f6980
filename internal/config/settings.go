package config

import (
	"sync/atomic"
	"time"
)

// Settings exposes the hot-reloadable subset of the configuration. Handlers
// read it per request, so a config reload takes effect without a restart.
type Settings struct {
	keepaliveEnabled atomic.Bool
	interval         atomic.Int64 // heartbeat period in nanoseconds
}

// NewSettings creates a Settings holder seeded from cfg.
func NewSettings(cfg *Config) *Settings {
	s := &Settings{}
	s.Apply(cfg)
	return s
}

// Apply replaces the live values with those from cfg.
func (s *Settings) Apply(cfg *Config) {
	s.keepaliveEnabled.Store(cfg.Keepalive.IsEnabled())
	s.interval.Store(int64(time.Duration(cfg.Keepalive.IntervalSeconds) * time.Second))
}

// KeepaliveEnabled reports whether streaming requests are adapted.
func (s *Settings) KeepaliveEnabled() bool {
	return s.keepaliveEnabled.Load()
}

// HeartbeatInterval returns the period between synthetic heartbeat frames.
func (s *Settings) HeartbeatInterval() time.Duration {
	return time.Duration(s.interval.Load())
}
