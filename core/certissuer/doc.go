// Package certissuer orchestrates TLS certificate acquisition and
// renewal for verified domain bindings.
//
// Two provider paths share the same post-condition (an active binding
// with a populated expiry), selected per binding at creation time:
//
//   - acme: automated issuance through the lego ACME client with an
//     HTTP-01 challenge, bounded retries for transient provider errors,
//     and a periodic renewal sweep before expiry.
//   - manual: tenant-uploaded PEM bundle, validated against the binding
//     value (hostname coverage, unexpired, key matches certificate).
//
// Certificates are stored through an autocert.Cache keyed by binding
// value; GetCertificate plugs into tls.Config and refuses to serve any
// domain the registry does not currently route.
//
// Exactly one issuance or renewal runs per value at any time. A second
// concurrent attempt fails fast with ErrAlreadyInProgress, and
// tombstoning a domain cancels its in-flight attempt at the next retry
// boundary.
package certissuer
