package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

const (
	// ALPNProtocol is the ALPN identifier negotiated on TLS connections.
	ALPNProtocol = "liveconn/1"

	// DefaultPort is the default liveconn port.
	DefaultPort = 7420
)

// TLSConfig describes TLS material loaded from PEM files.
// Connections run over plain TCP when no TLSConfig is given.
type TLSConfig struct {
	// CertFile and KeyFile hold this endpoint's certificate and key.
	CertFile string
	KeyFile  string

	// CAFile holds trusted CA certificates. Servers that set it
	// require and verify client certificates.
	CAFile string

	// ServerName is the expected server name for client connections.
	ServerName string

	// InsecureSkipVerify disables server certificate verification.
	// Only for testing.
	InsecureSkipVerify bool
}

// NewServerTLSConfig builds a TLS 1.3 server configuration.
func NewServerTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, errors.New("TLSConfig is required")
	}
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, errors.New("server certificate and key are required")
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	tlsConfig := baseTLSConfig()
	tlsConfig.Certificates = []tls.Certificate{cert}
	tlsConfig.ClientAuth = tls.NoClientCert

	if cfg.CAFile != "" {
		pool, err := loadCertPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsConfig, nil
}

// NewClientTLSConfig builds a TLS 1.3 client configuration.
func NewClientTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, errors.New("TLSConfig is required")
	}

	tlsConfig := baseTLSConfig()
	tlsConfig.ServerName = cfg.ServerName
	tlsConfig.InsecureSkipVerify = cfg.InsecureSkipVerify

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	if cfg.CAFile != "" {
		pool, err := loadCertPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

func baseTLSConfig() *tls.Config {
	return &tls.Config{
		// TLS 1.3 only
		MinVersion: tls.VersionTLS13,
		MaxVersion: tls.VersionTLS13,
		NextProtos: []string{ALPNProtocol},
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		SessionTicketsDisabled: true,
	}
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

// VerifyConnection checks the negotiated TLS version and ALPN protocol.
func VerifyConnection(state tls.ConnectionState) error {
	if state.Version != tls.VersionTLS13 {
		return fmt.Errorf("TLS version %x is not TLS 1.3 (0x0304)", state.Version)
	}
	if state.NegotiatedProtocol != ALPNProtocol {
		return fmt.Errorf("ALPN protocol %q is not %q", state.NegotiatedProtocol, ALPNProtocol)
	}
	return nil
}
