package verification

import "time"

// Config holds verification driver settings. Designed for
// environment-based configuration using popular env parsing libraries.
type Config struct {
	// Polling schedule: exponential backoff starting at InitialInterval,
	// doubling up to MaxInterval, at most MaxAttempts polls before the
	// domain moves to the failed state.
	InitialInterval time.Duration `env:"VERIFICATION_INITIAL_INTERVAL" envDefault:"5s"`
	MaxInterval     time.Duration `env:"VERIFICATION_MAX_INTERVAL" envDefault:"80s"`
	MaxAttempts     int           `env:"VERIFICATION_MAX_ATTEMPTS" envDefault:"10"`

	// ProbeTimeout bounds every external DNS/HTTP round-trip.
	ProbeTimeout time.Duration `env:"VERIFICATION_PROBE_TIMEOUT" envDefault:"10s"`

	// Resolvers are the DNS servers queried for TXT challenges.
	Resolvers []string `env:"VERIFICATION_DNS_RESOLVERS" envDefault:"1.1.1.1:53,8.8.8.8:53" envSeparator:","`
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		InitialInterval: 5 * time.Second,
		MaxInterval:     80 * time.Second,
		MaxAttempts:     10,
		ProbeTimeout:    10 * time.Second,
		Resolvers:       []string{"1.1.1.1:53", "8.8.8.8:53"},
	}
}
