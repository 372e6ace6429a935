// Waypost - Real-Time Visitor Presence and Ephemeral Messaging
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypost

// Package config loads and validates Waypost configuration using Koanf v2
// with layered sources: built-in defaults, an optional YAML file, and
// environment variables (highest priority).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Waypost server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Security SecurityConfig `koanf:"security"`
	Store    StoreConfig    `koanf:"store"`
	Presence PresenceConfig `koanf:"presence"`
	Chat     ChatConfig     `koanf:"chat"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// SecurityConfig holds the outward-facing protections for the HTTP and
// WebSocket surface. Visitor authentication is deliberately absent: pins are
// anonymous by design.
type SecurityConfig struct {
	// CORSOrigins lists allowed origins for both CORS preflight and the
	// WebSocket upgrade origin check. "*" allows any origin.
	CORSOrigins []string `koanf:"cors_origins"`

	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// StoreConfig holds durable pin-store settings.
type StoreConfig struct {
	// Path is the JSON document holding the pin registry.
	Path string `koanf:"path"`

	// Debounce is the window in which mutations are coalesced into one save.
	Debounce time.Duration `koanf:"debounce"`

	// Interval is the fallback save period; a failed save is retried on the
	// next interval tick.
	Interval time.Duration `koanf:"interval"`

	// Retention prunes pins whose lastSeen is older than this at load time.
	// Zero keeps pins forever.
	Retention time.Duration `koanf:"retention"`
}

// PresenceConfig holds liveness and pin-field limits.
type PresenceConfig struct {
	// HeartbeatInterval is the cadence clients are expected to emit
	// heartbeats (or any activity) at.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`

	// LivenessTimeout is how long a connection may stay silent before the
	// server forces a disconnect. Must exceed HeartbeatInterval.
	LivenessTimeout time.Duration `koanf:"liveness_timeout"`

	MaxNicknameLength int `koanf:"max_nickname_length"`
}

// ChatConfig holds speech-bubble message settings.
type ChatConfig struct {
	// TTL is how long a bubble stays visible; expiresAt = sentAt + TTL.
	TTL time.Duration `koanf:"ttl"`

	MaxTextLength int `koanf:"max_text_length"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks the configuration for values that cannot work at runtime.
// A failed validation is an unrecoverable startup error.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range (1-65535)", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %v", c.Server.Timeout)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Store.Debounce <= 0 {
		return fmt.Errorf("store.debounce must be positive, got %v", c.Store.Debounce)
	}
	if c.Store.Interval < c.Store.Debounce {
		return fmt.Errorf("store.interval %v must not be shorter than store.debounce %v",
			c.Store.Interval, c.Store.Debounce)
	}
	if c.Store.Retention < 0 {
		return fmt.Errorf("store.retention must not be negative, got %v", c.Store.Retention)
	}
	if c.Presence.HeartbeatInterval <= 0 {
		return fmt.Errorf("presence.heartbeat_interval must be positive, got %v",
			c.Presence.HeartbeatInterval)
	}
	if c.Presence.LivenessTimeout <= c.Presence.HeartbeatInterval {
		return fmt.Errorf("presence.liveness_timeout %v must exceed heartbeat_interval %v",
			c.Presence.LivenessTimeout, c.Presence.HeartbeatInterval)
	}
	if c.Presence.MaxNicknameLength < 1 {
		return fmt.Errorf("presence.max_nickname_length must be at least 1, got %d",
			c.Presence.MaxNicknameLength)
	}
	if c.Chat.TTL <= 0 {
		return fmt.Errorf("chat.ttl must be positive, got %v", c.Chat.TTL)
	}
	if c.Chat.MaxTextLength < 1 {
		return fmt.Errorf("chat.max_text_length must be at least 1, got %d", c.Chat.MaxTextLength)
	}
	if len(c.Security.CORSOrigins) == 0 {
		return fmt.Errorf("security.cors_origins must not be empty (use \"*\" to allow any origin)")
	}
	if !c.Security.RateLimitDisabled {
		if c.Security.RateLimitReqs < 1 {
			return fmt.Errorf("security.rate_limit_reqs must be at least 1, got %d",
				c.Security.RateLimitReqs)
		}
		if c.Security.RateLimitWindow <= 0 {
			return fmt.Errorf("security.rate_limit_window must be positive, got %v",
				c.Security.RateLimitWindow)
		}
	}
	return nil
}
