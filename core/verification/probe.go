package verification

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	// ChallengeRecordPrefix is the TXT record name prefix tenants
	// publish to prove control over a domain.
	ChallengeRecordPrefix = "_domainkit-challenge"

	// ChallengePathPrefix is the well-known HTTP path tenants serve the
	// token at as an alternative to DNS.
	ChallengePathPrefix = "/.well-known/domainkit-challenge/"

	maxChallengeBodySize = 4 << 10
)

// Probe checks whether the challenge token is published for the domain.
// A (false, nil) result means the proof is not visible yet; errors are
// treated as transient by the driver.
type Probe interface {
	Probe(ctx context.Context, domain, token string) (bool, error)
}

// DNSProbe looks for the token in a TXT record at
// _domainkit-challenge.<domain>.
type DNSProbe struct {
	client    *dns.Client
	resolvers []string
}

// NewDNSProbe creates a DNS TXT probe querying the given resolvers in
// order until one answers.
func NewDNSProbe(resolvers []string, timeout time.Duration) *DNSProbe {
	if len(resolvers) == 0 {
		resolvers = DefaultConfig().Resolvers
	}
	return &DNSProbe{
		client:    &dns.Client{Timeout: timeout},
		resolvers: resolvers,
	}
}

func (p *DNSProbe) Probe(ctx context.Context, domain, token string) (bool, error) {
	fqdn := dns.Fqdn(ChallengeRecordPrefix + "." + domain)

	msg := new(dns.Msg)
	msg.SetQuestion(fqdn, dns.TypeTXT)
	msg.RecursionDesired = true

	var lastErr error
	for _, resolver := range p.resolvers {
		resp, _, err := p.client.ExchangeContext(ctx, msg, resolver)
		if err != nil {
			lastErr = err
			continue
		}

		for _, rr := range resp.Answer {
			txt, ok := rr.(*dns.TXT)
			if !ok {
				continue
			}
			if strings.TrimSpace(strings.Join(txt.Txt, "")) == token {
				return true, nil
			}
		}
		return false, nil
	}

	if lastErr != nil {
		return false, fmt.Errorf("dns probe %s: %w", fqdn, lastErr)
	}
	return false, nil
}

// HTTPProbe fetches the token from the well-known challenge path over
// plain HTTP (the domain has no certificate yet by definition).
type HTTPProbe struct {
	client *http.Client
}

// NewHTTPProbe creates an HTTP probe with the given round-trip timeout.
func NewHTTPProbe(timeout time.Duration) *HTTPProbe {
	return &HTTPProbe{
		client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProbe) Probe(ctx context.Context, domain, token string) (bool, error) {
	url := "http://" + domain + ChallengePathPrefix + token

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("http probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("http probe %s: %w", domain, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxChallengeBodySize))
	if err != nil {
		return false, fmt.Errorf("http probe body: %w", err)
	}

	return strings.TrimSpace(string(body)) == token, nil
}
