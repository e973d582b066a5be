// Package tls opens the gateway's HTTPS listener.
package tls

import (
	"crypto/tls"
	"fmt"
	"net"
	"path/filepath"

	"github.com/edgecomet/mediacache/internal/common/configtypes"
)

// Listen binds cfg.Listen and wraps it with the configured certificate.
// Relative cert and key paths are resolved against baseDir.
func Listen(cfg configtypes.TLSConfig, baseDir string) (net.Listener, error) {
	certPath := resolve(baseDir, cfg.CertFile)
	keyPath := resolve(baseDir, cfg.KeyFile)

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate %s: %w", certPath, err)
	}

	tcpListener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP listener %s: %w", cfg.Listen, err)
	}

	return tls.NewListener(tcpListener, &tls.Config{
		MinVersion:   minVersion(cfg.MinVersion),
		Certificates: []tls.Certificate{cert},
	}), nil
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func minVersion(v string) uint16 {
	if v == configtypes.TLSVersion12 {
		return tls.VersionTLS12
	}
	return tls.VersionTLS13
}
