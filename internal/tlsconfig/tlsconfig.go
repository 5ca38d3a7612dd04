// Package tlsconfig builds *tls.Config values for the bridge listener
// from static PEM files on disk, with optional mutual TLS from a client
// CA bundle.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Config names the PEM files used to build a *tls.Config for the
// bridge listener.
type Config struct {
	CertFile       string
	KeyFile        string
	ClientCAFile   string // optional; enables mutual TLS when set
	RequireClientCert bool
}

// Build loads the certificate/key pair (and, if configured, a client CA
// bundle for mutual TLS) and returns a ready-to-use server *tls.Config.
func Build(cfg Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if cfg.ClientCAFile != "" {
		pemBytes, err := os.ReadFile(cfg.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("read client CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemBytes) {
			return nil, fmt.Errorf("no certificates parsed from client CA file %s", cfg.ClientCAFile)
		}
		tlsCfg.ClientCAs = pool
		if cfg.RequireClientCert {
			tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
		} else {
			tlsCfg.ClientAuth = tls.VerifyClientCertIfGiven
		}
	}

	return tlsCfg, nil
}
