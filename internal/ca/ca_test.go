package ca

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestLoadOrInitGeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()
	c, err := LoadOrInit(dir)
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	if c.rootCert.Subject.CommonName != subjectCommonName {
		t.Errorf("CommonName = %q, want %q", c.rootCert.Subject.CommonName, subjectCommonName)
	}
	if !c.rootCert.IsCA {
		t.Error("root cert must be a CA")
	}

	certPath := filepath.Join(dir, rootCertFilename)
	if _, err := os.Stat(certPath); err != nil {
		t.Errorf("expected root cert file at %s: %v", certPath, err)
	}
}

func TestLoadOrInitReusesExistingCA(t *testing.T) {
	dir := t.TempDir()
	first, err := LoadOrInit(dir)
	if err != nil {
		t.Fatalf("first LoadOrInit: %v", err)
	}
	firstBytes, err := os.ReadFile(filepath.Join(dir, rootCertFilename))
	if err != nil {
		t.Fatalf("read first cert: %v", err)
	}

	second, err := LoadOrInit(dir)
	if err != nil {
		t.Fatalf("second LoadOrInit: %v", err)
	}
	secondBytes, err := os.ReadFile(filepath.Join(dir, rootCertFilename))
	if err != nil {
		t.Fatalf("read second cert: %v", err)
	}

	if string(firstBytes) != string(secondBytes) {
		t.Error("restarting with an existing cert_dir must reuse the same CA bytes")
	}
	if first.rootCert.SerialNumber.Cmp(second.rootCert.SerialNumber) != 0 {
		t.Error("expected the reloaded root cert to have the same serial number")
	}
}

func TestLeafForMintsAndCaches(t *testing.T) {
	dir := t.TempDir()
	c, err := LoadOrInit(dir)
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}

	leaf, err := c.LeafFor("api.example.test")
	if err != nil {
		t.Fatalf("LeafFor: %v", err)
	}
	if leaf.Cert.Subject.CommonName != "api.example.test" {
		t.Errorf("CN = %q, want api.example.test", leaf.Cert.Subject.CommonName)
	}
	if len(leaf.Cert.DNSNames) != 1 || leaf.Cert.DNSNames[0] != "api.example.test" {
		t.Errorf("DNSNames = %v, want [api.example.test]", leaf.Cert.DNSNames)
	}
	if err := leaf.Cert.CheckSignatureFrom(c.rootCert); err != nil {
		t.Errorf("leaf cert signature does not verify against root: %v", err)
	}

	again, err := c.LeafFor("api.example.test")
	if err != nil {
		t.Fatalf("LeafFor (cached): %v", err)
	}
	if again != leaf {
		t.Error("expected cached leaf to be returned on second call")
	}
}

func TestLeafForConcurrentSameHost(t *testing.T) {
	dir := t.TempDir()
	c, err := LoadOrInit(dir)
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	results := make([]*LeafCert, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			leaf, err := c.LeafFor("concurrent.example.test")
			if err != nil {
				t.Errorf("LeafFor: %v", err)
				return
			}
			results[idx] = leaf
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		if r == nil {
			t.Fatal("expected every worker to get a leaf cert")
		}
		if r.Cert.Subject.CommonName != "concurrent.example.test" {
			t.Errorf("unexpected CN %q", r.Cert.Subject.CommonName)
		}
	}
}
