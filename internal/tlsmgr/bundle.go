package tlsmgr

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"
)

// Bundle is a certificate chain and key loaded from PEM files.
type Bundle struct {
	Certificate tls.Certificate
	Subject     string
	NotAfter    time.Time
}

// LoadBundle loads the certificate chain and the first private key found in
// one or more PEM files. Certificates keep file order, leaf first.
func LoadBundle(files []string) (Bundle, error) {
	var certPEM []byte
	var keyBlock *pem.Block

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return Bundle{}, err
		}
		for {
			var block *pem.Block
			block, data = pem.Decode(data)
			if block == nil {
				break
			}
			switch block.Type {
			case "CERTIFICATE":
				certPEM = append(certPEM, pem.EncodeToMemory(block)...)
			case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
				if keyBlock == nil {
					keyBlock = block
				}
			}
		}
	}

	if len(certPEM) == 0 {
		return Bundle{}, fmt.Errorf("no certificates found in tls bundle")
	}
	if keyBlock == nil {
		return Bundle{}, fmt.Errorf("no private key found in tls bundle")
	}

	cert, err := tls.X509KeyPair(certPEM, pem.EncodeToMemory(keyBlock))
	if err != nil {
		return Bundle{}, err
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return Bundle{}, fmt.Errorf("parse leaf certificate: %w", err)
	}
	cert.Leaf = leaf
	return Bundle{Certificate: cert, Subject: leaf.Subject.String(), NotAfter: leaf.NotAfter}, nil
}
