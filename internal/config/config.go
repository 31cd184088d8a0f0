// Package config provides runtime configuration management for PRONTO
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the runtime configuration for PRONTO
type Config struct {
	// Server settings
	HTTPPort   int
	SIPPort    int
	SIPEnabled bool
	DataDir    string
	Timezone   string

	CORSOrigins []string

	// bcrypt hash of the bearer token accepted by the settings and intake endpoints
	AdminTokenHash string

	// Call-event normalisation
	DebounceWindow time.Duration
	UnknownGrace   time.Duration

	// Overlay lifetime
	AutoDismiss        time.Duration
	OverlayMaxLifetime time.Duration
	LivenessInterval   time.Duration

	// Action executor
	ChatCloseDelay   time.Duration
	AnswerCloseDelay time.Duration
	CountryCode      string
	NationalLength   int
	OpenCommand      string

	// Twilio credentials
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioAnswerURL  string
	TwilioForwardTo  string

	// Gotify push notifications
	GotifyURL   string
	GotifyToken string

	// Generic status webhook
	StatusWebhookURL string

	TLS *TLSConfig

	DebugMode bool
}

// TLSConfig holds certificate settings for the HTTP bridge and the SIP TLS listener
type TLSConfig struct {
	Enabled    bool
	SIPPort    int
	CertMode   string // "acme" or "manual"
	CertFile   string
	KeyFile    string
	CAFile     string
	MinVersion string

	ACMEEmail          string
	ACMEDomain         string
	ACMEDomains        []string
	ACMECA             string
	CloudflareAPIToken string
}

// Load creates a Config from environment variables with defaults.
// A .env file in the working directory is applied first when present.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg := &Config{
		HTTPPort:   getEnvInt("PRONTO_HTTP_PORT", DefaultHTTPPort),
		SIPPort:    getEnvInt("PRONTO_SIP_PORT", DefaultSIPPort),
		SIPEnabled: getEnvBool("PRONTO_SIP_ENABLED", true),
		DataDir:    getEnv("PRONTO_DATA_DIR", DefaultDataDir),
		Timezone:   getEnv("PRONTO_TIMEZONE", DefaultTimezone),

		CORSOrigins: getEnvStringSlice("PRONTO_CORS_ORIGINS", []string{
			"http://localhost:8080",
			"http://127.0.0.1:8080",
		}),

		AdminTokenHash: getEnv("PRONTO_ADMIN_TOKEN_HASH", ""),

		DebounceWindow: getEnvDuration("PRONTO_DEBOUNCE", DefaultDebounceWindow),
		UnknownGrace:   getEnvDuration("PRONTO_UNKNOWN_GRACE", DefaultUnknownGrace),

		AutoDismiss:        getEnvDuration("PRONTO_AUTO_DISMISS", DefaultAutoDismiss),
		OverlayMaxLifetime: getEnvDuration("PRONTO_OVERLAY_MAX_LIFETIME", DefaultOverlayMaxLifetime),
		LivenessInterval:   getEnvDuration("PRONTO_LIVENESS_INTERVAL", DefaultLivenessInterval),

		ChatCloseDelay:   getEnvDuration("PRONTO_CHAT_CLOSE_DELAY", DefaultChatCloseDelay),
		AnswerCloseDelay: getEnvDuration("PRONTO_ANSWER_CLOSE_DELAY", DefaultAnswerCloseDelay),
		CountryCode:      getEnv("PRONTO_COUNTRY_CODE", DefaultCountryCode),
		NationalLength:   getEnvInt("PRONTO_NATIONAL_LENGTH", DefaultNationalLength),
		OpenCommand:      getEnv("PRONTO_OPEN_COMMAND", DefaultOpenCommand),

		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioAnswerURL:  getEnv("TWILIO_ANSWER_URL", ""),
		TwilioForwardTo:  getEnv("TWILIO_FORWARD_TO", ""),

		GotifyURL:   getEnv("GOTIFY_URL", ""),
		GotifyToken: getEnv("GOTIFY_TOKEN", ""),

		StatusWebhookURL: getEnv("PRONTO_STATUS_WEBHOOK", ""),

		TLS: &TLSConfig{
			Enabled:            getEnvBool("PRONTO_TLS_ENABLED", false),
			SIPPort:            getEnvInt("PRONTO_TLS_SIP_PORT", 5061),
			CertMode:           getEnv("PRONTO_TLS_CERT_MODE", "acme"),
			CertFile:           getEnv("PRONTO_TLS_CERT_FILE", ""),
			KeyFile:            getEnv("PRONTO_TLS_KEY_FILE", ""),
			CAFile:             getEnv("PRONTO_TLS_CA_FILE", ""),
			MinVersion:         getEnv("PRONTO_TLS_MIN_VERSION", "1.2"),
			ACMEEmail:          getEnv("PRONTO_ACME_EMAIL", ""),
			ACMEDomain:         getEnv("PRONTO_ACME_DOMAIN", ""),
			ACMEDomains:        getEnvStringSlice("PRONTO_ACME_DOMAINS", nil),
			ACMECA:             getEnv("PRONTO_ACME_CA", "staging"),
			CloudflareAPIToken: getEnv("CLOUDFLARE_API_TOKEN", ""),
		},

		DebugMode: getEnvBool("PRONTO_DEBUG", false),
	}

	// The overlay's own ceiling must never undercut the controller's budget.
	if cfg.OverlayMaxLifetime < cfg.AutoDismiss+cfg.UnknownGrace {
		cfg.OverlayMaxLifetime = cfg.AutoDismiss + cfg.UnknownGrace
	}

	return cfg
}

// DBPath returns the full path to the SQLite database file
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, DefaultDBFile)
}

// CertsPath returns the path to the certificate storage directory
func (c *Config) CertsPath() string {
	return filepath.Join(c.DataDir, CertsDir)
}

// EnsureDirectories creates all required data directories
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.CertsPath(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("800ms") or bare milliseconds ("800")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var result []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
