// Package origin normalizes browser Origin headers and decides which origins
// may open a signaling connection or call the browser-facing HTTP routes.
package origin

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// NormalizeHeader validates and normalizes a browser Origin header.
//
// It returns the normalized origin (scheme://host[:port], default port
// removed) and the host[:port] portion for same-host comparisons. The
// special Origin value "null" is returned as-is.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.ForceQuery || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = normalizeHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// normalizeHost lower-cases raw, validates its port, and drops the port when
// it is the default for scheme. IPv6 literals keep their brackets.
func normalizeHost(raw, scheme string) (string, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return "", false
	}

	hostname, port := raw, ""
	if strings.HasPrefix(raw, "[") || strings.Count(raw, ":") == 1 {
		h, p, err := net.SplitHostPort(raw)
		switch {
		case err == nil:
			hostname, port = h, p
		case strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]"):
			hostname = raw[1 : len(raw)-1]
		default:
			return "", false
		}
	} else if strings.Contains(raw, ":") {
		// Bare IPv6 without brackets is not a valid Host.
		return "", false
	}
	if hostname == "" || strings.ContainsAny(hostname, "/?#@ ") {
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

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != "" {
		host += ":" + port
	}
	return host, true
}

// Policy is an allow-list of normalized origins. An empty Policy allows only
// same-host requests.
type Policy struct {
	anyOrigin bool
	allowed   map[string]struct{}
}

// NewPolicy normalizes each entry. "*" allows every origin and "null" allows
// opaque origins such as file:// pages.
func NewPolicy(allowedOrigins []string) (Policy, error) {
	p := Policy{allowed: make(map[string]struct{}, len(allowedOrigins))}
	for _, raw := range allowedOrigins {
		raw = strings.TrimSpace(raw)
		switch raw {
		case "":
			continue
		case "*":
			p.anyOrigin = true
			continue
		}
		normalized, _, ok := NormalizeHeader(raw)
		if !ok {
			return Policy{}, fmt.Errorf("invalid allowed origin %q", raw)
		}
		p.allowed[normalized] = struct{}{}
	}
	return p, nil
}

// Check validates originHeader against the policy for a request addressed to
// requestHost and returns the normalized origin.
//
// Without an explicit allow-list the origin host must equal the request host.
// Schemes are not compared so a TLS-terminating proxy in front of the relay
// does not break same-host checks.
func (p Policy) Check(originHeader, requestHost string) (string, bool) {
	normalized, host, ok := NormalizeHeader(originHeader)
	if !ok {
		return "", false
	}
	if p.anyOrigin {
		return normalized, true
	}
	if len(p.allowed) > 0 {
		_, ok := p.allowed[normalized]
		return normalized, ok
	}

	scheme, _, found := strings.Cut(normalized, "://")
	if !found {
		return "", false
	}
	reqHost, ok := normalizeHost(requestHost, scheme)
	return normalized, ok && reqHost == host
}
