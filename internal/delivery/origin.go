package delivery

import (
	"net/url"
	"strings"
)

// Origin returns the scheme://host part of rawURL, or "" when rawURL has no
// host.
func Origin(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" || u.Scheme == "" {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// SameOrigin reports whether origin names exactly the expected origin.
// An empty expected origin never matches.
func SameOrigin(expected, origin string) bool {
	want := Origin(expected)
	if want == "" {
		return false
	}
	return Origin(origin) == want
}
