// Package renewal drives the background timer side of the certificate
// lifecycle: a periodic sweep invoking the issuer's RenewDueSoon and,
// optionally, re-driving verification polls that were interrupted by a
// process restart.
//
// The scheduler owns no lifecycle state itself; idempotence comes from
// the registry's per-value single-flight guard, so overlapping sweeps
// and re-drives are harmless.
package renewal
