// Package tlsconf builds the TLS configurations used by the stream transports.
package tlsconf

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
	"os"
	"path/filepath"
	"time"
)

const certValidity = 365 * 24 * time.Hour

// ErrNoCertificate is returned when the certificate files are missing and
// generation is disabled.
var ErrNoCertificate = errors.New("certificate not found")

// DefaultPaths returns ~/.padrelay/certs/server.{crt,key}.
func DefaultPaths() (certPath, keyPath string) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dir := filepath.Join(home, ".padrelay", "certs")
	return filepath.Join(dir, "server.crt"), filepath.Join(dir, "server.key")
}

// ServerConfig loads the key pair at certPath/keyPath. Empty paths fall back
// to DefaultPaths. When the files are missing and autoGenerate is set, a
// self-signed certificate is written there first.
func ServerConfig(certPath, keyPath string, autoGenerate bool) (*tls.Config, error) {
	if certPath == "" || keyPath == "" {
		dc, dk := DefaultPaths()
		if certPath == "" {
			certPath = dc
		}
		if keyPath == "" {
			keyPath = dk
		}
	}

	if !exists(certPath) || !exists(keyPath) {
		if !autoGenerate {
			return nil, fmt.Errorf("%w: %s", ErrNoCertificate, certPath)
		}
		if err := WriteSelfSigned(certPath, keyPath); err != nil {
			return nil, err
		}
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}, nil
}

// EphemeralServerConfig returns a config holding an in-memory self-signed
// certificate.
func EphemeralServerConfig() (*tls.Config, error) {
	certPEM, keyPEM, err := selfSigned()
	if err != nil {
		return nil, err
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}, nil
}

// ClientConfig verifies the server against the CA at caPath when verify is
// set and the file exists. Otherwise certificate and hostname checks are
// skipped so self-signed servers are accepted.
func ClientConfig(verify bool, caPath string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if !verify || caPath == "" || !exists(caPath) {
		cfg.InsecureSkipVerify = true
		return cfg, nil
	}

	data, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("read CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates in %s", caPath)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// WithALPN returns a copy of cfg advertising proto.
func WithALPN(cfg *tls.Config, proto string) *tls.Config {
	out := cfg.Clone()
	out.NextProtos = []string{proto}
	if out.MinVersion < tls.VersionTLS13 {
		out.MinVersion = tls.VersionTLS13
	}
	return out
}

// Expiry returns the NotAfter time of the first certificate in certPath.
func Expiry(certPath string) (time.Time, error) {
	data, err := os.ReadFile(certPath)
	if err != nil {
		return time.Time{}, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return time.Time{}, errors.New("failed to parse certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, err
	}
	return cert.NotAfter, nil
}

// WriteSelfSigned generates a certificate for localhost and 127.0.0.1 and
// writes it with owner-only permissions.
func WriteSelfSigned(certPath, keyPath string) error {
	certPEM, keyPEM, err := selfSigned()
	if err != nil {
		return err
	}
	for _, dir := range []string{filepath.Dir(certPath), filepath.Dir(keyPath)} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create cert dir: %w", err)
		}
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	if err := os.WriteFile(certPath, certPEM, 0o600); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}
	return nil
}

func selfSigned() (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, nil, err
	}
	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{Organization: []string{"PadRelay"}, CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(certValidity),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, err
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
