package tlsmgr

import (
	"crypto/x509"
	"fmt"
	"os"
)

// LoadCAFile appends the PEM certificates in path to the system roots. An
// empty path returns the system roots unchanged.
func LoadCAFile(path string) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if path == "" {
		return pool, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if ok := pool.AppendCertsFromPEM(data); !ok {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}
