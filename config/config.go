package config

import (
	"fmt"
	"time"

	"github.com/wricardo/mcp-training/wsbus/endpoint"
)

// Config holds everything needed to run a hub, the relay and their logging.
type Config struct {
	// APIURL is the external base endpoint; empty means derive from PageURL.
	APIURL string
	// PageURL is the origin the client is served from, if any.
	PageURL string

	// HandshakeTimeout bounds the opening handshake. Zero keeps the dialer default.
	HandshakeTimeout time.Duration

	RelayAddr string

	LogOutput string
	LogLevel  string
	LogFormat string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		RelayAddr: ":5000",
		LogOutput: "stderr",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Merge returns c with every non-zero field of o applied on top.
func (c Config) Merge(o Config) Config {
	if o.APIURL != "" {
		c.APIURL = o.APIURL
	}
	if o.PageURL != "" {
		c.PageURL = o.PageURL
	}
	if o.HandshakeTimeout != 0 {
		c.HandshakeTimeout = o.HandshakeTimeout
	}
	if o.RelayAddr != "" {
		c.RelayAddr = o.RelayAddr
	}
	if o.LogOutput != "" {
		c.LogOutput = o.LogOutput
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.LogFormat != "" {
		c.LogFormat = o.LogFormat
	}
	return c
}

// Endpoint derives the channel URL from APIURL and PageURL.
func (c Config) Endpoint() (string, error) {
	page, err := endpoint.PageFromURL(c.PageURL)
	if err != nil {
		return "", err
	}
	return endpoint.Resolve(c.APIURL, page)
}

// Validate checks the fields that can be checked without side effects.
func (c Config) Validate() error {
	if c.HandshakeTimeout < 0 {
		return fmt.Errorf("handshake timeout must not be negative: %s", c.HandshakeTimeout)
	}
	if _, err := c.Endpoint(); err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}
	return nil
}
