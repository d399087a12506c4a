package certs

import (
	"crypto/x509"
	"fmt"
	"os"
)

// LoadRootPool reads a PEM bundle of CA certificates used to verify a
// self-hosted catalog API. An empty path returns a nil pool, which callers
// treat as "use the system roots".
func LoadRootPool(path string) (*x509.CertPool, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA bundle %q: %w", path, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("CA bundle %q contains no usable certificates", path)
	}
	return pool, nil
}
