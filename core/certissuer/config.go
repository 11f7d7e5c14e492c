package certissuer

import "time"

// Config holds certificate service settings. Designed for
// environment-based configuration using popular env parsing libraries.
type Config struct {
	// CertDir is the directory the default certificate cache writes to.
	CertDir string `env:"CERT_DIR" envDefault:"./certs"`

	// Retry policy for transient provider errors (network timeouts,
	// rate limits). Exhaustion surfaces ErrIssuanceFailed.
	MaxRetries   int           `env:"CERT_MAX_RETRIES" envDefault:"3"`
	RetryBackoff time.Duration `env:"CERT_RETRY_BACKOFF" envDefault:"5s"`

	// ObtainTimeout bounds a single certificate-protocol round-trip.
	ObtainTimeout time.Duration `env:"CERT_OBTAIN_TIMEOUT" envDefault:"90s"`

	// RenewalWindow selects active certificates for the renewal sweep
	// before they expire.
	RenewalWindow time.Duration `env:"CERT_RENEWAL_WINDOW" envDefault:"720h"`

	// RenewConcurrency caps how many renewals run in parallel per sweep.
	RenewConcurrency int `env:"CERT_RENEW_CONCURRENCY" envDefault:"4"`
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		CertDir:          "./certs",
		MaxRetries:       3,
		RetryBackoff:     5 * time.Second,
		ObtainTimeout:    90 * time.Second,
		RenewalWindow:    30 * 24 * time.Hour,
		RenewConcurrency: 4,
	}
}
