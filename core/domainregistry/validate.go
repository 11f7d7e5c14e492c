package domainregistry

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxHostnameLength = 255
	maxLabelLength    = 63
)

// slugPattern covers path slugs and subdomain slugs: lowercase
// alphanumeric with inner hyphens, max 63 characters.
var slugPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)

var hostnameLabelPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]*[a-z0-9])?$`)

// reservedSlugs are platform-owned prefixes that can never be bound by
// a tenant because they collide with landlord hosts.
var reservedSlugs = map[string]struct{}{
	"app":   {},
	"www":   {},
	"admin": {},
	"api":   {},
}

// ValidateValue checks that value matches the syntactic shape required
// by its binding type. It performs no registry lookup.
func ValidateValue(bindingType BindingType, value string) error {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidValue)
	}

	switch bindingType {
	case BindingPathSlug, BindingSubdomain:
		if !slugPattern.MatchString(value) {
			return fmt.Errorf("%w: %q is not a valid slug", ErrInvalidValue, value)
		}
		if _, ok := reservedSlugs[value]; ok {
			return fmt.Errorf("%w: %q is reserved", ErrInvalidValue, value)
		}
		return nil
	case BindingCustomDomain:
		return validateHostname(value)
	default:
		return fmt.Errorf("%w: unknown binding type %q", ErrInvalidBinding, bindingType)
	}
}

// validateHostname enforces an RFC-1035 hostname shape: dot-separated
// labels of at most 63 characters, at least two labels, 255 total.
func validateHostname(host string) error {
	if len(host) > maxHostnameLength {
		return fmt.Errorf("%w: hostname exceeds %d characters", ErrInvalidValue, maxHostnameLength)
	}

	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return fmt.Errorf("%w: %q is not a fully qualified domain", ErrInvalidValue, host)
	}

	for _, label := range labels {
		if label == "" || len(label) > maxLabelLength {
			return fmt.Errorf("%w: invalid label in %q", ErrInvalidValue, host)
		}
		if !hostnameLabelPattern.MatchString(label) {
			return fmt.Errorf("%w: invalid label %q", ErrInvalidValue, label)
		}
	}

	return nil
}

// NormalizeValue lowercases and trims a binding value so that lookups
// and uniqueness checks are case-insensitive. A trailing dot on a fully
// qualified hostname is dropped.
func NormalizeValue(value string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(value)), ".")
}
