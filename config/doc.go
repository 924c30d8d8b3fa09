// Package config provides configuration for wsbus.
//
// A Config is assembled in layers:
//   - Default() built-in values
//   - an optional environment profile, configs/<name>.json, loaded by Manager
//   - flags and environment variables (API_URL, PAGE_URL, ...) applied by the
//     command line through Merge
//
// Profile Format:
//
//	{
//	  "description": "hosted API",
//	  "api_url": "https://api.example.com",
//	  "handshake_timeout": "10s",
//	  "log_level": "warn"
//	}
//
// Profiles are validated on load: the endpoint they describe must resolve and
// durations must parse.
package config
