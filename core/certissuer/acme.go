package certissuer

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
)

// IssuedCertificate is the result of a successful certificate-protocol run.
type IssuedCertificate struct {
	CertificatePEM []byte
	PrivateKeyPEM  []byte
	IssuerPEM      []byte
	ExpiresAt      time.Time
}

// ACMEProvider obtains certificates through an automated
// certificate-request protocol. The seam exists so tests and staging
// environments can swap the real client out.
type ACMEProvider interface {
	Obtain(ctx context.Context, domain string) (*IssuedCertificate, error)
}

// ACMEConfig holds ACME account and challenge settings.
type ACMEConfig struct {
	// Email is the contact email for the ACME account.
	Email string `env:"ACME_EMAIL"`

	// DirectoryURL overrides the ACME directory (defaults to Let's
	// Encrypt production).
	DirectoryURL string `env:"ACME_DIRECTORY_URL"`

	// HTTP01Address is the bind address (host:port) for the internal
	// HTTP-01 challenge server. Empty falls back to all interfaces on
	// port 80.
	HTTP01Address string `env:"ACME_HTTP01_ADDRESS"`

	// ProxyHeader is inspected for host matching when the challenge
	// server sits behind a proxy (e.g. X-Forwarded-Host).
	ProxyHeader string `env:"ACME_HTTP01_PROXY_HEADER"`
}

const defaultHTTPPort = "80"

// ACMEIssuer drives certificate issuance via the lego ACME client:
// register an account, answer the HTTP-01 challenge, obtain the bundle.
type ACMEIssuer struct {
	cfg             ACMEConfig
	http01Host      string
	http01Port      string
	keyType         certcrypto.KeyType
	clientFactory   clientFactory
	accountKeyMaker func() (crypto.PrivateKey, error)
}

// ACMEOption configures an ACMEIssuer.
type ACMEOption func(*ACMEIssuer)

// WithKeyType overrides the key type for issued certificates.
func WithKeyType(keyType certcrypto.KeyType) ACMEOption {
	return func(a *ACMEIssuer) {
		a.keyType = keyType
	}
}

// WithClientFactory swaps the ACME client constructor. Primarily for tests.
func WithClientFactory(factory clientFactory) ACMEOption {
	return func(a *ACMEIssuer) {
		if factory != nil {
			a.clientFactory = factory
		}
	}
}

// NewACMEIssuer creates an issuer for the given account configuration.
func NewACMEIssuer(cfg ACMEConfig, opts ...ACMEOption) (*ACMEIssuer, error) {
	cfg.Email = strings.TrimSpace(cfg.Email)
	if cfg.Email == "" {
		return nil, errors.New("email is required for the acme account")
	}
	if cfg.DirectoryURL == "" {
		cfg.DirectoryURL = lego.LEDirectoryProduction
	}

	host, port, err := parseHTTPAddress(cfg.HTTP01Address)
	if err != nil {
		return nil, err
	}
	if port == "" {
		port = defaultHTTPPort
	}

	a := &ACMEIssuer{
		cfg:           cfg,
		http01Host:    host,
		http01Port:    port,
		keyType:       certcrypto.RSA2048,
		clientFactory: defaultClientFactory,
		accountKeyMaker: func() (crypto.PrivateKey, error) {
			return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		},
	}

	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

// Obtain runs the full protocol for a single domain and returns the
// certificate bundle with its parsed expiry.
func (a *ACMEIssuer) Obtain(ctx context.Context, domain string) (*IssuedCertificate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	accountKey, err := a.accountKeyMaker()
	if err != nil {
		return nil, fmt.Errorf("generate account key: %w", err)
	}

	user := &accountUser{
		email: a.cfg.Email,
		key:   accountKey,
	}

	legoCfg := lego.NewConfig(user)
	legoCfg.CADirURL = a.cfg.DirectoryURL
	legoCfg.Certificate.KeyType = a.keyType

	client, err := a.clientFactory(legoCfg)
	if err != nil {
		return nil, fmt.Errorf("create acme client: %w", err)
	}

	provider := http01.NewProviderServer(a.http01Host, a.http01Port)
	if a.cfg.ProxyHeader != "" {
		provider.SetProxyHeader(a.cfg.ProxyHeader)
	}
	if err := client.SetHTTP01Provider(provider); err != nil {
		return nil, fmt.Errorf("configure http-01 provider: %w", err)
	}

	reg, err := client.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return nil, fmt.Errorf("register account: %w", err)
	}
	user.registration = reg

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := client.Obtain(certificate.ObtainRequest{
		Domains: []string{domain},
		Bundle:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("obtain certificate: %w", err)
	}

	if len(res.Certificate) == 0 {
		return nil, errors.New("empty certificate payload received from acme server")
	}
	if len(res.PrivateKey) == 0 {
		return nil, errors.New("empty private key received from acme server")
	}

	leaf, err := certcrypto.ParsePEMCertificate(res.Certificate)
	if err != nil {
		return nil, fmt.Errorf("parse issued certificate: %w", err)
	}

	return &IssuedCertificate{
		CertificatePEM: res.Certificate,
		PrivateKeyPEM:  res.PrivateKey,
		IssuerPEM:      res.IssuerCertificate,
		ExpiresAt:      leaf.NotAfter,
	}, nil
}

func parseHTTPAddress(addr string) (string, string, error) {
	if strings.TrimSpace(addr) == "" {
		return "", "", nil
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", "", fmt.Errorf("invalid http-01 address %q: %w", addr, err)
	}
	return host, port, nil
}

type clientFactory func(*lego.Config) (acmeClient, error)

// acmeClient narrows the lego client to the calls the issuer makes,
// allowing tests to run without real ACME requests.
type acmeClient interface {
	Register(options registration.RegisterOptions) (*registration.Resource, error)
	SetHTTP01Provider(provider challenge.Provider) error
	Obtain(request certificate.ObtainRequest) (*certificate.Resource, error)
}

func defaultClientFactory(cfg *lego.Config) (acmeClient, error) {
	client, err := lego.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &legoClientAdapter{client: client}, nil
}

type legoClientAdapter struct {
	client *lego.Client
}

func (l *legoClientAdapter) Register(options registration.RegisterOptions) (*registration.Resource, error) {
	return l.client.Registration.Register(options)
}

func (l *legoClientAdapter) SetHTTP01Provider(provider challenge.Provider) error {
	return l.client.Challenge.SetHTTP01Provider(provider)
}

func (l *legoClientAdapter) Obtain(request certificate.ObtainRequest) (*certificate.Resource, error) {
	return l.client.Certificate.Obtain(request)
}

type accountUser struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *accountUser) GetEmail() string {
	return u.email
}

func (u *accountUser) GetRegistration() *registration.Resource {
	return u.registration
}

func (u *accountUser) GetPrivateKey() crypto.PrivateKey {
	return u.key
}
