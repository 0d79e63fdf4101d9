// Package ca implements the certificate authority (C5): a long-lived root
// CA loaded from or generated into cert_dir, plus on-demand per-host leaf
// certificates minted and cached for the MITM bridge.
package ca

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

const (
	rootCertFilename = "roo-sniffer-ca.pem"
	rootKeyFilename  = "roo-sniffer-ca-key.pem"

	rootKeyBits  = 2048
	rootValidFor = 10 * 365 * 24 * time.Hour

	leafKeyBits  = 2048
	leafValidFor = 365 * 24 * time.Hour

	subjectCommonName   = "Roo Sniffer CA"
	subjectOrganization = "Roo Sniffer"
	subjectCountry      = "US"
)

// LeafCert is a per-host server certificate signed by the root CA, plus its
// private key, ready to hand to tls.Config.
type LeafCert struct {
	Cert *x509.Certificate
	TLS  tls.Certificate
}

// CA owns the root key pair/certificate and the lazily-populated leaf cache.
type CA struct {
	certDir string

	rootCert *x509.Certificate
	rootKey  *rsa.PrivateKey

	leaves      *xsync.Map[string, *LeafCert]
	genLocks    [shardCount]sync.Mutex
	nextSerial  *serialCounter
}

// LoadOrInit implements spec.md §4.5 load_or_init(): try to read the root
// CA from certDir; on any read or parse failure, generate a fresh one and
// persist it.
func LoadOrInit(certDir string) (*CA, error) {
	c := &CA{
		certDir:    certDir,
		leaves:     xsync.NewMap[string, *LeafCert](),
		nextSerial: newSerialCounter(),
	}

	cert, key, err := loadRootFromDisk(certDir)
	if err == nil {
		c.rootCert = cert
		c.rootKey = key
		log.Printf("ca: loaded existing root CA from %s", certDir)
		return c, nil
	}
	log.Printf("ca: no usable root CA on disk (%v); generating a new one", err)

	cert, key, err = generateRootCA()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}
	if err := persistRootCA(certDir, cert, key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}
	c.rootCert = cert
	c.rootKey = key
	return c, nil
}

// CACertPath returns the on-disk PEM path for the root certificate, so the
// operator can install it as a trust root.
func (c *CA) CACertPath() string {
	return filepath.Join(c.certDir, rootCertFilename)
}

func loadRootFromDisk(certDir string) (*x509.Certificate, *rsa.PrivateKey, error) {
	certPEM, err := os.ReadFile(filepath.Join(certDir, rootCertFilename))
	if err != nil {
		return nil, nil, fmt.Errorf("read root cert: %w", err)
	}
	keyPEM, err := os.ReadFile(filepath.Join(certDir, rootKeyFilename))
	if err != nil {
		return nil, nil, fmt.Errorf("read root key: %w", err)
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, nil, fmt.Errorf("decode root cert PEM: no block found")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse root cert: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, nil, fmt.Errorf("decode root key PEM: no block found")
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse root key: %w", err)
	}
	return cert, key, nil
}

func generateRootCA() (*x509.Certificate, *rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, rootKeyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("generate root key: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(now.UnixNano()),
		Subject: pkix.Name{
			CommonName:   subjectCommonName,
			Organization: []string{subjectOrganization},
			Country:      []string{subjectCountry},
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(rootValidFor),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("create root certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse generated root certificate: %w", err)
	}
	return cert, key, nil
}

func persistRootCA(certDir string, cert *x509.Certificate, key *rsa.PrivateKey) error {
	if err := os.MkdirAll(certDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", certDir, err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	if err := writeFileBestEffort0600(filepath.Join(certDir, rootCertFilename), certPEM); err != nil {
		return fmt.Errorf("write root cert: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := writeFileBestEffort0600(filepath.Join(certDir, rootKeyFilename), keyPEM); err != nil {
		return fmt.Errorf("write root key: %w", err)
	}
	return nil
}

// writeFileBestEffort0600 writes with 0600 permissions; on platforms where
// the requested mode can't be honored exactly (some Windows filesystems),
// os.WriteFile still succeeds with whatever permissions the OS grants —
// there is no stricter fallback to attempt.
func writeFileBestEffort0600(path string, data []byte) error {
	return os.WriteFile(path, data, 0o600)
}
