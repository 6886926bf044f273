// Package origin decides which browser origins may open a signaling
// WebSocket. Native peers send no Origin header and are always let through.
package origin

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Normalize parses an Origin header value into scheme://host[:port] with the
// scheme and host lower-cased and the scheme's default port dropped. The second
// return value is the host[:port] part. "null" is returned as-is.
func Normalize(raw string) (string, string, bool) {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}
	host, ok := canonicalHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// Allowed reports whether a request carrying originHeader may reach a server
// addressed as requestHost.
//
// A non-empty allowlist holds normalized origins or "*". An empty allowlist
// means same host only; the scheme is not compared so a TLS-terminating proxy
// in front of the relay still matches.
func Allowed(originHeader, requestHost string, allowlist []string) bool {
	if strings.TrimSpace(originHeader) == "" {
		return true
	}
	normalized, host, ok := Normalize(originHeader)
	if !ok {
		return false
	}
	if len(allowlist) > 0 {
		for _, a := range allowlist {
			if a == "*" || a == normalized {
				return true
			}
		}
		return false
	}
	if normalized == "null" {
		return false
	}
	scheme, _, _ := strings.Cut(normalized, "://")
	reqHost, ok := canonicalHost(strings.TrimSpace(requestHost), scheme)
	return ok && reqHost == host
}

// ParseAllowlist splits a comma-separated ALLOWED_ORIGINS value and normalizes
// every entry.
func ParseAllowlist(raw string) ([]string, error) {
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		switch entry {
		case "":
			continue
		case "*":
			out = append(out, entry)
			continue
		}
		normalized, _, ok := Normalize(entry)
		if !ok || normalized == "null" {
			return nil, &InvalidOriginError{Origin: entry}
		}
		out = append(out, normalized)
	}
	return out, nil
}

type InvalidOriginError struct {
	Origin string
}

func (e *InvalidOriginError) Error() string {
	return "invalid origin " + strconv.Quote(e.Origin) + " (expected full origin like https://example.com)"
}

func canonicalHost(authority, scheme string) (string, bool) {
	if authority == "" {
		return "", false
	}
	hostname, port := authority, ""
	if h, p, err := net.SplitHostPort(authority); err == nil {
		if p == "" {
			return "", false
		}
		hostname, port = h, p
	} else if strings.Contains(authority, ":") && !strings.HasPrefix(authority, "[") {
		// Either a bad port or an unbracketed IPv6 literal.
		return "", false
	} else {
		hostname = strings.TrimSuffix(strings.TrimPrefix(authority, "["), "]")
	}
	hostname = strings.ToLower(hostname)
	if hostname == "" {
		return "", false
	}

	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
			port = ""
		} else {
			port = strconv.FormatUint(n, 10)
		}
	}

	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}
	if port != "" {
		return hostname + ":" + port, true
	}
	return hostname, true
}
