// Package config provides configuration constants and settings for PRONTO
package config

import "time"

// Call-event normalisation defaults
const (
	DefaultDebounceWindow = 500 * time.Millisecond
	DefaultUnknownGrace   = 1500 * time.Millisecond // wait for the real caller ID before committing "private number"
)

// Overlay lifetime defaults
const (
	DefaultAutoDismiss        = 60 * time.Second
	DefaultOverlayMaxLifetime = 75 * time.Second // hard ceiling owned by the overlay itself
	DefaultLivenessInterval   = 2 * time.Second
	LivenessProbeTimeout      = 3 * time.Second
)

// Action executor delays
const (
	DefaultChatCloseDelay   = 500 * time.Millisecond
	DefaultAnswerCloseDelay = 800 * time.Millisecond
	CallControlTimeout      = 5 * time.Second
)

// Dial target defaults (Italy)
const (
	DefaultCountryCode    = "39"
	DefaultNationalLength = 10
	DefaultOpenCommand    = "xdg-open"
)

// Server defaults
const (
	DefaultSIPPort   = 5060
	DefaultHTTPPort  = 8080
	DefaultUserAgent = "PRONTO/1.0"
	DefaultTimezone  = "Europe/Rome"
)

// Database paths
const (
	DefaultDataDir = "./data"
	DefaultDBFile  = "pronto.db"
	CertsDir       = "certs"
)

// Retry settings
const (
	TwilioMaxRetries = 3
	GotifyMaxRetries = 3
)
