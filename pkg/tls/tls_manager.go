// Package tls sets up HTTPS for the server: Let's Encrypt through autocert,
// certificate files, or a generated self-signed pair for development.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codekids/pyquest/pkg/configuration"
	"github.com/codekids/pyquest/pkg/logger"

	"golang.org/x/crypto/acme/autocert"
)

var (
	ErrMissingDomain = errors.New("domain is required when Let's Encrypt is enabled")
	ErrMissingEmail  = errors.New("letsencrypt_email is required when Let's Encrypt is enabled")
)

// selfSignedLifetime is the validity of generated development certificates.
const selfSignedLifetime = 365 * 24 * time.Hour

// Config holds the [TLS] settings.
type Config struct {
	Enabled            bool
	LetsEncrypt        bool
	Domain             string
	Email              string
	CacheDir           string
	ForceHTTPSRedirect bool
	CertFile           string
	KeyFile            string
	HTTPPort           string
	HTTPSPort          string
	GenerateSelfSigned bool
}

// ConfigFromSettings reads the [TLS] section.
func ConfigFromSettings() Config {
	return Config{
		Enabled:            configuration.GetBool("TLS", "enable_tls", false),
		LetsEncrypt:        configuration.GetBool("TLS", "enable_letsencrypt", false),
		Domain:             strings.TrimSpace(configuration.GetString("TLS", "domain", "")),
		Email:              strings.TrimSpace(configuration.GetString("TLS", "letsencrypt_email", "")),
		CacheDir:           configuration.GetString("TLS", "cert_cache_dir", "./certs"),
		ForceHTTPSRedirect: configuration.GetBool("TLS", "force_https_redirect", false),
		CertFile:           configuration.GetString("TLS", "cert_file", "./certs/server.crt"),
		KeyFile:            configuration.GetString("TLS", "key_file", "./certs/server.key"),
		HTTPPort:           configuration.GetString("TLS", "http_port", "8080"),
		HTTPSPort:          configuration.GetString("TLS", "https_port", "8443"),
		GenerateSelfSigned: configuration.GetBool("TLS", "generate_self_signed", false),
	}
}

// Validate checks the settings of the selected mode.
func (c Config) Validate() error {
	if !c.Enabled || !c.LetsEncrypt {
		return nil
	}
	if c.Domain == "" {
		return ErrMissingDomain
	}
	if c.Email == "" {
		return ErrMissingEmail
	}
	return nil
}

// Manager owns the server's certificate source.
type Manager struct {
	config      Config
	autocertMgr *autocert.Manager
	tlsConfig   *tls.Config
}

// NewManager validates config and prepares certificates when TLS is enabled.
func NewManager(config Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("TLS configuration validation failed: %w", err)
	}
	m := &Manager{config: config}
	if !config.Enabled {
		return m, nil
	}

	var err error
	if config.LetsEncrypt {
		err = m.initializeLetsEncrypt()
	} else {
		err = m.initializeFiles()
	}
	if err != nil {
		return nil, fmt.Errorf("TLS initialization failed: %w", err)
	}
	return m, nil
}

func (m *Manager) allowedHost(name string) bool {
	return name == m.config.Domain || name == "www."+m.config.Domain
}

func (m *Manager) initializeLetsEncrypt() error {
	logger.Info(logger.AreaSecurity, "Initializing Let's Encrypt for domain: %s", m.config.Domain)
	if err := os.MkdirAll(m.config.CacheDir, 0700); err != nil {
		return fmt.Errorf("failed to create certificate cache directory: %w", err)
	}

	m.autocertMgr = &autocert.Manager{
		Cache:      autocert.DirCache(m.config.CacheDir),
		Prompt:     autocert.AcceptTOS,
		Email:      m.config.Email,
		HostPolicy: autocert.HostWhitelist(m.config.Domain, "www."+m.config.Domain),
	}

	m.tlsConfig = &tls.Config{
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			if hello.ServerName == "" {
				hello.ServerName = m.config.Domain
			}
			if !m.allowedHost(hello.ServerName) {
				logger.SecurityWarn("TLS request for unauthorized domain: %s", hello.ServerName)
				return nil, fmt.Errorf("unauthorized domain: %s", hello.ServerName)
			}
			cert, err := m.autocertMgr.GetCertificate(hello)
			if err != nil {
				logger.SecurityWarn("Failed to get certificate for %s: %v", hello.ServerName, err)
				return nil, err
			}
			return cert, nil
		},
		NextProtos: []string{"h2", "http/1.1"},
		MinVersion: tls.VersionTLS12,
	}
	return nil
}

func (m *Manager) initializeFiles() error {
	if !fileExists(m.config.CertFile) || !fileExists(m.config.KeyFile) {
		if !m.config.GenerateSelfSigned {
			return fmt.Errorf("certificate %s or key %s not found", m.config.CertFile, m.config.KeyFile)
		}
		hosts := []string{"localhost", "127.0.0.1"}
		if m.config.Domain != "" {
			hosts = append(hosts, m.config.Domain)
		}
		if err := GenerateSelfSigned(m.config.CertFile, m.config.KeyFile, hosts, selfSignedLifetime); err != nil {
			return err
		}
		logger.SecurityWarn("Using a generated self-signed certificate - browsers will warn about it")
	}

	cert, err := tls.LoadX509KeyPair(m.config.CertFile, m.config.KeyFile)
	if err != nil {
		return fmt.Errorf("loading key pair: %w", err)
	}
	m.tlsConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h2", "http/1.1"},
		MinVersion:   tls.VersionTLS12,
	}
	logger.Info(logger.AreaSecurity, "TLS certificate loaded from %s", m.config.CertFile)
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Enabled reports whether the server should listen with TLS.
func (m *Manager) Enabled() bool {
	return m.config.Enabled
}

// TLSConfig is the server configuration, nil when TLS is off.
func (m *Manager) TLSConfig() *tls.Config {
	if !m.config.Enabled {
		return nil
	}
	return m.tlsConfig
}

// HTTPSAddr is the listen address of the TLS server.
func (m *Manager) HTTPSAddr() string {
	return ":" + m.config.HTTPSPort
}

// HTTPAddr is the listen address of the plain HTTP helper server.
func (m *Manager) HTTPAddr() string {
	return ":" + m.config.HTTPPort
}

// NeedsHTTPServer reports whether a plain HTTP listener is required for
// ACME challenges or redirects.
func (m *Manager) NeedsHTTPServer() bool {
	return m.config.Enabled && (m.config.LetsEncrypt || m.config.ForceHTTPSRedirect)
}

// HTTPHandler serves the plain HTTP listener: ACME challenges first, then
// the HTTPS redirect.
func (m *Manager) HTTPHandler() http.Handler {
	redirect := m.RedirectHandler()
	if m.autocertMgr != nil {
		return m.autocertMgr.HTTPHandler(redirect)
	}
	return redirect
}

// RedirectHandler sends every request to the HTTPS port.
func (m *Manager) RedirectHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		target := "https://" + host
		if m.config.HTTPSPort != "443" {
			target += ":" + m.config.HTTPSPort
		}
		target += r.URL.RequestURI()
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})
}

// GenerateSelfSigned writes a PEM certificate and ECDSA key valid for hosts.
func GenerateSelfSigned(certFile, keyFile string, hosts []string, validFor time.Duration) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generating key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generating serial: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"PyQuest development"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("creating certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("encoding key: %w", err)
	}

	if err := writePEM(certFile, "CERTIFICATE", der, 0644); err != nil {
		return err
	}
	return writePEM(keyFile, "EC PRIVATE KEY", keyDER, 0600)
}

func writePEM(path, blockType string, der []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
