package compose

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hacker-cb/docklite/internal/errdefs"
)

// Practical domain shape, not full RFC 1035.
var domainPattern = regexp.MustCompile(`^(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)

// ValidateDomain checks a routing domain. Bare localhost and IPv4 addresses
// are accepted for development setups.
func ValidateDomain(domain string) error {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return errdefs.ValidationFields("domain cannot be empty",
			map[string]string{"domain": "domain cannot be empty"})
	}
	if len(domain) > 255 {
		return errdefs.ValidationFields("domain is too long",
			map[string]string{"domain": "domain is too long (max 255 characters)"})
	}
	if host, port, found := strings.Cut(domain, ":"); found {
		if _, err := strconv.Atoi(port); err == nil {
			domain = host
		}
	}
	if domain == "localhost" || isIPv4(domain) {
		return nil
	}
	if !domainPattern.MatchString(domain) {
		return errdefs.ValidationFields("invalid domain format",
			map[string]string{"domain": "invalid domain format"})
	}
	return nil
}

// NormalizeDomain lowercases and trims a routing domain.
func NormalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

func isIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}
	return true
}
