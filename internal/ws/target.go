package ws

import (
	"fmt"
	"net/url"
)

// Target addresses one room connection: the base endpoint plus the roomId and
// accessToken query parameters.
type Target struct {
	BaseURL     string
	RoomID      string
	AccessToken string
}

// URL builds the dial URL. Existing query parameters on BaseURL are kept.
func (t Target) URL() (string, error) {
	u, err := url.Parse(t.BaseURL)
	if err != nil {
		return "", fmt.Errorf("ws: invalid base url %q: %w", t.BaseURL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("ws: unsupported scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("roomId", t.RoomID)
	q.Set("accessToken", t.AccessToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Redacted returns the URL with the access token masked, for logs.
func (t Target) Redacted() string {
	masked := t
	if masked.AccessToken != "" {
		masked.AccessToken = "xxxxx"
	}
	s, err := masked.URL()
	if err != nil {
		return t.BaseURL
	}
	return s
}
