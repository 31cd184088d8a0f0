// Package certs manages the TLS certificates served by the bridge endpoint
// and the SIP TLS listener
package certs

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/btafoya/pronto/internal/config"
	"github.com/caddyserver/certmagic"
	"github.com/libdns/cloudflare"
)

// Certificate modes
const (
	ModeACME   = "acme"
	ModeManual = "manual"
)

// Manager handles TLS certificate lifecycle management
type Manager struct {
	config    *config.TLSConfig
	certsPath string
	tlsConfig *tls.Config
	magic     *certmagic.Config
	mu        sync.RWMutex

	// Certificate info for status reporting
	certExpiry  time.Time
	certIssuer  string
	lastRenewal time.Time
}

// Status represents the current certificate status
type Status struct {
	Enabled     bool      `json:"enabled"`
	CertMode    string    `json:"cert_mode"`
	Domain      string    `json:"domain,omitempty"`
	Domains     []string  `json:"domains,omitempty"`
	CertExpiry  time.Time `json:"cert_expiry,omitempty"`
	CertIssuer  string    `json:"cert_issuer,omitempty"`
	AutoRenewal bool      `json:"auto_renewal"`
	LastRenewal time.Time `json:"last_renewal,omitempty"`
	NextRenewal time.Time `json:"next_renewal,omitempty"`
	Valid       bool      `json:"valid"`
}

// NewManager creates a new certificate manager. It returns nil when TLS is
// disabled.
func NewManager(cfg *config.TLSConfig, certsPath string) (*Manager, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	m := &Manager{
		config:    cfg,
		certsPath: certsPath,
	}

	var err error
	if cfg.CertMode == ModeManual {
		err = m.initManual()
	} else {
		err = m.initACME()
	}
	if err != nil {
		return nil, err
	}

	return m, nil
}

// initManual loads certificates from files
func (m *Manager) initManual() error {
	if m.config.CertFile == "" || m.config.KeyFile == "" {
		return fmt.Errorf("certificate and key file paths required for manual mode")
	}

	cert, err := tls.LoadX509KeyPair(m.config.CertFile, m.config.KeyFile)
	if err != nil {
		return fmt.Errorf("load certificate: %w", err)
	}

	var expiry time.Time
	var issuer string
	if len(cert.Certificate) > 0 {
		if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
			expiry = leaf.NotAfter
			issuer = leaf.Issuer.CommonName
		}
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   m.minVersion(),
	}

	if m.config.CAFile != "" {
		caCert, err := os.ReadFile(m.config.CAFile)
		if err != nil {
			return fmt.Errorf("load CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}

	m.mu.Lock()
	m.tlsConfig = tlsConfig
	m.certExpiry = expiry
	m.certIssuer = issuer
	m.lastRenewal = time.Now()
	m.mu.Unlock()

	slog.Info("TLS initialized with manual certificates",
		"cert_file", m.config.CertFile,
		"expiry", expiry.Format(time.RFC3339),
	)

	return nil
}

// initACME sets up automatic certificate management with Let's Encrypt
func (m *Manager) initACME() error {
	if m.config.ACMEEmail == "" {
		return fmt.Errorf("ACME email required for automatic certificate management")
	}
	if m.config.ACMEDomain == "" {
		return fmt.Errorf("ACME domain required for automatic certificate management")
	}

	if err := os.MkdirAll(m.certsPath, 0700); err != nil {
		return fmt.Errorf("create certs directory: %w", err)
	}

	certmagic.Default.Storage = &certmagic.FileStorage{Path: m.certsPath}

	// DNS-01 lets the bridge host stay off the public internet
	if m.config.CloudflareAPIToken != "" {
		certmagic.DefaultACME.DNS01Solver = &certmagic.DNS01Solver{
			DNSProvider: &cloudflare.Provider{APIToken: m.config.CloudflareAPIToken},
		}
		slog.Info("Configured Cloudflare DNS-01 challenge for ACME")
	}

	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = m.config.ACMEEmail

	if m.config.ACMECA == "production" {
		certmagic.DefaultACME.CA = certmagic.LetsEncryptProductionCA
	} else {
		certmagic.DefaultACME.CA = certmagic.LetsEncryptStagingCA
	}

	m.magic = certmagic.NewDefault()
	m.magic.OnEvent = func(ctx context.Context, event string, data map[string]any) error {
		switch event {
		case "cert_obtained", "cert_renewed":
			m.mu.Lock()
			m.lastRenewal = time.Now()
			m.mu.Unlock()
			slog.Info("Certificate obtained/renewed", "event", event, "data", data)
		case "cert_failed":
			slog.Error("Certificate operation failed", "event", event, "data", data)
		}
		return nil
	}

	// Obtain certificates asynchronously so startup does not block
	if err := m.magic.ManageAsync(context.Background(), m.domains()); err != nil {
		return fmt.Errorf("certmagic manage: %w", err)
	}

	tlsConfig := m.magic.TLSConfig()
	tlsConfig.MinVersion = m.minVersion()

	m.mu.Lock()
	m.tlsConfig = tlsConfig
	m.mu.Unlock()

	slog.Info("TLS initialized with ACME",
		"email", m.config.ACMEEmail,
		"domain", m.config.ACMEDomain,
		"ca", m.config.ACMECA,
	)

	return nil
}

func (m *Manager) domains() []string {
	domains := []string{m.config.ACMEDomain}
	return append(domains, m.config.ACMEDomains...)
}

func (m *Manager) minVersion() uint16 {
	switch m.config.MinVersion {
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}

// TLSConfig returns the current TLS configuration
func (m *Manager) TLSConfig() *tls.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tlsConfig
}

// Status returns the current certificate status
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := Status{
		Enabled:     m.config.Enabled,
		CertMode:    m.config.CertMode,
		Domain:      m.config.ACMEDomain,
		Domains:     m.config.ACMEDomains,
		CertExpiry:  m.certExpiry,
		CertIssuer:  m.certIssuer,
		AutoRenewal: m.config.CertMode != ModeManual,
		LastRenewal: m.lastRenewal,
	}

	// Renewal usually happens 30 days before expiry
	if !m.certExpiry.IsZero() {
		status.NextRenewal = m.certExpiry.Add(-30 * 24 * time.Hour)
		status.Valid = time.Now().Before(m.certExpiry)
	}

	return status
}

// ForceRenewal triggers immediate certificate renewal (ACME mode only)
func (m *Manager) ForceRenewal(ctx context.Context) error {
	if m.config.CertMode == ModeManual {
		return fmt.Errorf("force renewal only available in ACME mode")
	}
	if m.magic == nil {
		return fmt.Errorf("ACME not initialized")
	}

	if err := m.magic.ManageSync(ctx, m.domains()); err != nil {
		return fmt.Errorf("renewal failed: %w", err)
	}

	m.mu.Lock()
	m.lastRenewal = time.Now()
	m.mu.Unlock()

	slog.Info("Certificate renewal completed")
	return nil
}

// Reload reloads certificates from files (manual mode only)
func (m *Manager) Reload() error {
	if m.config.CertMode != ModeManual {
		return fmt.Errorf("reload only available in manual mode")
	}
	return m.initManual()
}
