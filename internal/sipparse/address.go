package sipparse

import "strings"

// ParseURI exposes parseSIPURI to callers outside this package (the
// engine rewrites From/To/Request-URI fields as it resolves addresses).
func ParseURI(raw string) (scheme, host, user string, ok bool) {
	return parseSIPURI(raw)
}

// BuildURI reassembles a bare SIP URI from its parts. An empty user
// renders a host-only URI (e.g. for a Request-URI with no mailbox).
func BuildURI(scheme, user, host string) string {
	if user == "" {
		return scheme + ":" + host
	}
	return scheme + ":" + user + "@" + host
}

// ParseAddress splits a From/To-style header value into its display
// name, the bare URI (angle brackets stripped), and its tag parameter
// (empty if absent).
func ParseAddress(header string) (display, uri, tag string) {
	s := strings.TrimSpace(header)
	tag = fromTag(s)

	if i := strings.IndexByte(s, '<'); i >= 0 {
		display = strings.Trim(strings.TrimSpace(s[:i]), `"`)
		if j := strings.IndexByte(s[i:], '>'); j >= 0 {
			uri = s[i+1 : i+j]
		}
		return display, uri, tag
	}

	// No angle brackets: the whole thing up to the first ';' is the URI.
	if i := strings.IndexByte(s, ';'); i >= 0 {
		uri = s[:i]
	} else {
		uri = s
	}
	return "", uri, tag
}

// FormatAddress rebuilds a From/To header value from a display name
// (optional), a bare URI, and a tag parameter (optional).
func FormatAddress(display, uri, tag string) string {
	var b strings.Builder
	if display != "" {
		b.WriteByte('"')
		b.WriteString(display)
		b.WriteString(`" `)
	}
	b.WriteByte('<')
	b.WriteString(uri)
	b.WriteByte('>')
	if tag != "" {
		b.WriteString(";tag=")
		b.WriteString(tag)
	}
	return b.String()
}
