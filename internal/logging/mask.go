package logging

import (
	"net/url"
	"strings"
)

// MaskID reduces an identifier to its first four characters for logging.
// OAuth flows and webhooks log user, team, and channel IDs in this form only.
func MaskID(id string) string {
	if id == "" {
		return ""
	}
	if len(id) <= 4 {
		return id + "****"
	}
	return id[:4] + "****"
}

// MaskIP keeps the first two octets of an IPv4 address, or the first group
// of anything else.
func MaskIP(ip string) string {
	if ip == "" {
		return ""
	}
	if parts := strings.Split(ip, "."); len(parts) == 4 {
		return parts[0] + "." + parts[1] + ".*.*"
	}
	return strings.SplitN(ip, ":", 2)[0] + ":****"
}

// MaskToken hides all but the first and last four characters of a secret.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "********"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// sensitiveQueryParams lists query keys whose values must never be logged
// in full.
var sensitiveQueryParams = map[string]bool{
	"code":          true,
	"state":         true,
	"token":         true,
	"access_token":  true,
	"refresh_token": true,
}

// MaskSensitiveQuery masks the values of sensitive query parameters within
// a raw query string.
func MaskSensitiveQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	changed := false
	for i, part := range parts {
		if part == "" {
			continue
		}
		keyPart := part
		valuePart := ""
		if idx := strings.Index(part, "="); idx >= 0 {
			keyPart = part[:idx]
			valuePart = part[idx+1:]
		}
		decodedKey, err := url.QueryUnescape(keyPart)
		if err != nil {
			decodedKey = keyPart
		}
		if !sensitiveQueryParams[strings.ToLower(strings.TrimSpace(decodedKey))] {
			continue
		}
		decodedValue, err := url.QueryUnescape(valuePart)
		if err != nil {
			decodedValue = valuePart
		}
		parts[i] = keyPart + "=" + url.QueryEscape(MaskID(strings.TrimSpace(decodedValue)))
		changed = true
	}
	if !changed {
		return raw
	}
	return strings.Join(parts, "&")
}
