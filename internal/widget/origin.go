package widget

import (
	"net"
	"net/url"
	"strings"
)

// OriginHost extracts the lowercased host, without port, from an Origin header value.
func OriginHost(origin string) (string, bool) {
	if origin == "" || origin == "null" {
		return "", false
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Hostname()), true
}

// MatchOrigin reports whether host is covered by one of the allowed entries.
// An entry is an exact host or a wildcard like "*.example.com", which also
// matches the apex "example.com".
func MatchOrigin(host string, allowed []string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return false
	}
	for _, entry := range allowed {
		entry = normalizeEntry(entry)
		if entry == "" {
			continue
		}
		if apex, ok := strings.CutPrefix(entry, "*."); ok {
			if host == apex || strings.HasSuffix(host, "."+apex) {
				return true
			}
			continue
		}
		if host == entry {
			return true
		}
	}
	return false
}

// normalizeEntry tolerates entries saved with a scheme, port or trailing path.
func normalizeEntry(entry string) string {
	entry = strings.ToLower(strings.TrimSpace(entry))
	if i := strings.Index(entry, "://"); i >= 0 {
		entry = entry[i+3:]
	}
	if i := strings.IndexByte(entry, '/'); i >= 0 {
		entry = entry[:i]
	}
	if h, _, err := net.SplitHostPort(entry); err == nil {
		entry = h
	}
	return strings.TrimSuffix(entry, ".")
}
