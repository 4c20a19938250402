package domain

import (
	"errors"
	"net"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ErrInvalid is returned when a site identifier cannot be normalized
var ErrInvalid = errors.New("invalid domain")

var hostPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)+$`)

// Normalize turns user input ("https://Example.com/blog/") into a bare host
// ("example.com") used as the key for one analysis run.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" {
		return "", ErrInvalid
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", ErrInvalid
	}

	host := u.Hostname()
	if ip := net.ParseIP(host); ip != nil {
		return "", ErrInvalid
	}
	host = strings.TrimSuffix(host, ".")
	if !hostPattern.MatchString(host) {
		return "", ErrInvalid
	}
	return host, nil
}

// URL returns the canonical https URL for a normalized domain
func URL(domain string) string {
	return "https://" + domain
}

// Registrable returns the eTLD+1 for host, or host itself when it has none
func Registrable(host string) string {
	root, err := publicsuffix.EffectiveTLDPlusOne(strings.TrimPrefix(strings.ToLower(host), "www."))
	if err != nil {
		return strings.ToLower(host)
	}
	return root
}

// SameSite reports whether two hosts share a registrable domain
func SameSite(a, b string) bool {
	return Registrable(a) == Registrable(b)
}

// Resolve resolves ref against base, returning "" when either is unparsable
func Resolve(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	refURL, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(refURL).String()
}
