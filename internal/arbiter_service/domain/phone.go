package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var e164 = regexp.MustCompile(`^\+\d{8,15}$`)

// ValidE164 reports whether the number is a well-formed E.164 string.
func ValidE164(number string) bool {
	return e164.MatchString(number)
}

// ParseNumbers normalizes a request's number list: trims whitespace,
// validates E.164, and deduplicates while preserving first-seen order.
// Returns *InvalidNumberError for the first malformed entry and
// ErrEmptyNumbers when nothing survives.
func ParseNumbers(raw []string) ([]string, error) {
	cleaned := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		n := strings.TrimSpace(r)
		if !ValidE164(n) {
			return nil, &InvalidNumberError{Raw: r}
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		cleaned = append(cleaned, n)
	}
	if len(cleaned) == 0 {
		return nil, ErrEmptyNumbers
	}
	return cleaned, nil
}

// ParseResellerID extracts the reseller segment from a fax_user value.
// Supported shapes: "ext@domain.reseller.service" and
// "domain.reseller.service". The reseller id is the second-to-last
// dot-separated segment.
func ParseResellerID(faxUser string) (string, error) {
	s := strings.TrimSpace(strings.ToLower(faxUser))
	if at := strings.IndexByte(s, '@'); at >= 0 {
		s = s[at+1:]
	}
	parts := strings.Split(s, ".")
	if len(parts) < 3 || parts[len(parts)-2] == "" {
		return "", &InvalidFaxUserError{Raw: faxUser}
	}
	return parts[len(parts)-2], nil
}

// NormalizeFaxUser lowercases a fax_user and strips any extension prefix,
// leaving only the domain portion used for client lookup.
func NormalizeFaxUser(faxUser string) string {
	s := strings.TrimSpace(strings.ToLower(faxUser))
	if at := strings.IndexByte(s, '@'); at >= 0 {
		s = s[at+1:]
	}
	return s
}

// InvalidFaxUserError reports a fax_user value the reseller id cannot be
// derived from.
type InvalidFaxUserError struct {
	Raw string
}

func (e *InvalidFaxUserError) Error() string {
	return fmt.Sprintf("cannot parse reseller id from fax_user %q", e.Raw)
}
