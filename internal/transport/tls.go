package transport

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"time"

	"golang.org/x/crypto/acme/autocert"
)

// ACMEOptions configures Let's Encrypt certificate provisioning.
type ACMEOptions struct {
	Email    string
	Domains  []string
	CacheDir string
	Staging  bool
}

// NewACMETLSConfig builds a tls.Config backed by autocert, matching the
// teacher's ACME wiring.
func NewACMETLSConfig(opts ACMEOptions) (*tls.Config, error) {
	if opts.Email == "" {
		return nil, fmt.Errorf("transport: ACME email is required")
	}
	if len(opts.Domains) == 0 {
		return nil, fmt.Errorf("transport: ACME domains are required")
	}

	cacheDir := opts.CacheDir
	if cacheDir == "" {
		cacheDir = "/var/lib/dmq/certs"
	}
	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return nil, fmt.Errorf("transport: creating cert cache dir: %w", err)
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		Email:      opts.Email,
		HostPolicy: autocert.HostWhitelist(opts.Domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	return &tls.Config{
		GetCertificate: manager.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}, nil
}

// NewSelfSignedTLSConfig generates an ephemeral, in-memory RSA
// certificate for development use when no ACME configuration is
// supplied.
func NewSelfSignedTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("transport: generating self-signed key: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Organization: []string{"dmq development"}},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("transport: creating self-signed certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("transport: parsing self-signed certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
