// Package tls builds the TLS configurations of the console listener and of
// the interactive client.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
)

// LoadCertPool returns a pool holding the certificates of the PEM file at
// caCrtPath.
func LoadCertPool(caCrtPath string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caCrtPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("pool append certs from pem failed")
	}
	return pool, nil
}

// ServerConfig returns the configuration of a listener serving crtPath.
// If caCrtPath is not empty clients must present a certificate signed by
// it.
func ServerConfig(crtPath, keyPath, caCrtPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(crtPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load x509 key pair from (%s, %s): %v", crtPath, keyPath, err)
	}
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if caCrtPath != "" {
		pool, err := LoadCertPool(caCrtPath)
		if err != nil {
			return nil, fmt.Errorf("load cert pool from (%s): %v", caCrtPath, err)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// WrapListenerWithTls returns a listener with tls validation.
func WrapListenerWithTls(l net.Listener, crtPath, keyPath, caCrtPath string) (net.Listener, error) {
	cfg, err := ServerConfig(crtPath, keyPath, caCrtPath)
	if err != nil {
		return nil, err
	}
	return tls.NewListener(l, cfg), nil
}

// ClientConfig returns the configuration used to dial a console. The
// server certificate is checked against caCrtPath, or the system pool if
// it is empty. crtPath and keyPath are the optional client certificate.
func ClientConfig(caCrtPath, crtPath, keyPath string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caCrtPath != "" {
		pool, err := LoadCertPool(caCrtPath)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	if crtPath != "" {
		cert, err := tls.LoadX509KeyPair(crtPath, keyPath)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
