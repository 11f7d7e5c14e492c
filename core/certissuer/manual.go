package certissuer

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"
)

// ValidateBundle checks a manually supplied certificate bundle against
// the binding value: the keypair must match, the certificate must cover
// the value (subject or SAN), and it must not be expired. The returned
// expiry is the leaf certificate's NotAfter.
func ValidateBundle(value string, certPEM, keyPEM []byte) (time.Time, error) {
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrCertificateMismatch, err)
	}

	leaf := pair.Leaf
	if leaf == nil {
		leaf, err = x509.ParseCertificate(pair.Certificate[0])
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: parse leaf: %v", ErrCertificateMismatch, err)
		}
	}

	if err := leaf.VerifyHostname(value); err != nil {
		return time.Time{}, fmt.Errorf("%w: certificate does not cover %s: %v", ErrCertificateMismatch, value, err)
	}

	now := time.Now()
	if now.After(leaf.NotAfter) {
		return time.Time{}, fmt.Errorf("%w: not valid after %s", ErrCertificateExpired, leaf.NotAfter.Format(time.RFC3339))
	}
	if now.Before(leaf.NotBefore) {
		return time.Time{}, fmt.Errorf("%w: not valid before %s", ErrCertificateMismatch, leaf.NotBefore.Format(time.RFC3339))
	}

	return leaf.NotAfter, nil
}
