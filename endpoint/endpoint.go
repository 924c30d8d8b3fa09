package endpoint

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	// Path is appended to every derived channel URL.
	Path = "/ws"

	// FallbackHost is used when neither a base URL nor a page host is known.
	FallbackHost = "localhost:5000"
)

var ErrUnsupportedScheme = errors.New("unsupported base URL scheme")

// Page describes the origin the client is served from.
type Page struct {
	Secure bool
	Host   string
}

// PageFromURL builds a Page from an origin such as "https://app.example.com".
// An empty string yields the zero Page.
func PageFromURL(raw string) (Page, error) {
	if raw == "" {
		return Page{}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Page{}, fmt.Errorf("parse page url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		return Page{Secure: true, Host: u.Host}, nil
	case "http", "ws", "":
		return Page{Host: u.Host}, nil
	default:
		return Page{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// Resolve derives the channel URL. With a base URL the scheme is swapped for
// its WebSocket counterpart (http->ws, https->wss) and Path is appended;
// without one the page's security and host decide, falling back to
// FallbackHost.
func Resolve(base string, page Page) (string, error) {
	if base != "" {
		return fromBase(base)
	}

	scheme := "ws"
	if page.Secure {
		scheme = "wss"
	}
	host := page.Host
	if host == "" {
		host = FallbackHost
	}
	u := url.URL{Scheme: scheme, Host: host, Path: Path}
	return u.String(), nil
}

func fromBase(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", base)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + Path
	u.RawPath = ""
	return u.String(), nil
}
