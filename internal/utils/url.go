package utils

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

var urlRegex = regexp.MustCompile(`(?i)https?://[^\s<>]+`)

func ExtractURLs(content string) []string {
	return urlRegex.FindAllString(content, -1)
}

// LinkHost returns the normalized host of a link, or false when the link has
// no usable host.
func LinkHost(raw string) (string, bool) {
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(strings.TrimRight(raw, ".,;:!?)]}>\"'"))
	if err != nil {
		return "", false
	}
	host := NormalizeHost(parsed.Hostname())
	return host, host != ""
}

// NormalizeHost lowercases a host, drops a leading "www." and converts
// internationalized names to their ASCII form.
func NormalizeHost(host string) string {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if ascii, err := idna.ToASCII(host); err == nil {
		host = ascii
	}
	return strings.TrimPrefix(host, "www.")
}

// HostAllowed reports whether host or one of its parent domains is in the allowlist.
func HostAllowed(host string, allowlist map[string]struct{}) bool {
	host = NormalizeHost(host)
	for host != "" {
		if _, ok := allowlist[host]; ok {
			return true
		}
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			return false
		}
		host = host[idx+1:]
	}
	return false
}
