package ca

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"log"
	"math/big"
	"net"
	"sync/atomic"
	"time"

	"github.com/roosniffer/roosniffer/internal/netutil"
)

// serialCounter hands out monotonically increasing serial numbers seeded
// from wall-clock nanoseconds, per spec.md §3.
type serialCounter struct {
	next atomic.Int64
}

func newSerialCounter() *serialCounter {
	c := &serialCounter{}
	c.next.Store(time.Now().UnixNano())
	return c
}

func (c *serialCounter) take() int64 {
	return c.next.Add(1)
}

// LeafFor returns the cached leaf certificate for hostname, generating and
// caching one on first use. Safe for concurrent use; concurrent first
// callers for the same hostname serialize on one lock stripe, while callers
// for distinct hostnames contend only when shardFor maps them to the same
// stripe.
func (c *CA) LeafFor(hostname string) (*LeafCert, error) {
	if leaf, ok := c.leaves.Load(hostname); ok {
		return leaf, nil
	}

	lock := &c.genLocks[shardFor(hostname)]
	lock.Lock()
	defer lock.Unlock()

	// Re-check: another goroutine may have generated it while we waited.
	if leaf, ok := c.leaves.Load(hostname); ok {
		return leaf, nil
	}

	leaf, err := c.mintLeaf(hostname)
	if err != nil {
		return nil, err
	}
	// LoadOrStore rather than Store: if a racing caller outside this stripe
	// (hash collision notwithstanding) inserted first, keep theirs — leaves
	// are semantically equivalent, per spec.md §4.5.
	actual, _ := c.leaves.LoadOrStore(hostname, leaf)
	return actual, nil
}

func (c *CA) mintLeaf(hostname string) (*LeafCert, error) {
	key, err := rsa.GenerateKey(rand.Reader, leafKeyBits)
	if err != nil {
		return nil, fmt.Errorf("ca: generate leaf key for %s: %w", hostname, err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(c.nextSerial.take()),
		Subject: pkix.Name{
			CommonName: hostname,
		},
		DNSNames:    []string{hostname},
		NotBefore:   now.Add(-time.Hour),
		NotAfter:    now.Add(leafValidFor),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:        false,
	}
	// TLS clients verify an IP-literal server name against IP SANs only.
	if ip := net.ParseIP(hostname); ip != nil {
		template.IPAddresses = []net.IP{ip}
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, template, c.rootCert, &key.PublicKey, c.rootKey)
	if err != nil {
		return nil, fmt.Errorf("ca: create leaf certificate for %s: %w", hostname, err)
	}
	leafCert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, fmt.Errorf("ca: parse generated leaf certificate for %s: %w", hostname, err)
	}

	log.Printf("ca: minted leaf certificate for %s (%s)", hostname, netutil.EffectiveDomain(hostname))

	return &LeafCert{
		Cert: leafCert,
		TLS: tls.Certificate{
			Certificate: [][]byte{derBytes},
			PrivateKey:  key,
			Leaf:        leafCert,
		},
	}, nil
}
