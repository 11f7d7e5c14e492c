// Package verification proves tenant control over a domain before any
// certificate is issued.
//
// The driver mints a challenge token per domain; the tenant publishes
// it either as a DNS TXT record at _domainkit-challenge.<domain> or as
// the body of GET http://<domain>/.well-known/domainkit-challenge/<token>.
// Polling applies exponential backoff up to a bounded attempt count,
// after which the domain moves to the terminal failed state until the
// tenant restarts verification.
//
// Start is idempotent: while a verification is unresolved it returns
// the existing token instead of minting a new one. Path-slug bindings
// skip the protocol entirely and move straight to verified.
package verification
