package kstock

import (
	"net/url"
	"strings"
)

// localDevWSBase fallback websocket origin for local development when
// neither an override nor an API base is configured.
const localDevWSBase = "ws://localhost:8000"

// DeriveWSURL converts an http(s) API base URL into its ws(s)
// counterpart with path appended, e.g.
// "https://api.example.com" + "/ws/realtime" -> "wss://api.example.com/ws/realtime".
func DeriveWSURL(apiBase, path string) (string, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return "", NewError("url.derive", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", NewError("url.derive", ErrInvalidConfig)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}

// resolveChannelURL picks the websocket endpoint: an explicit override
// wins, then derivation from the API base, then the local-dev fallback.
func resolveChannelURL(override, apiBase, path string) string {
	if override != "" {
		return override
	}
	if apiBase != "" {
		if derived, err := DeriveWSURL(apiBase, path); err == nil {
			return derived
		}
	}
	return localDevWSBase + path
}

// joinURL appends path to base without doubling slashes.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
