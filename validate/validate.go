// Command validate checks the environment profiles in the ../configs directory
// (or the directory given as the first argument). It checks:
//   - JSON structure, rejecting unknown keys
//   - Duration syntax of handshake_timeout
//   - That the API and page URLs resolve to a WebSocket endpoint
//   - Logging output, level and format
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wricardo/mcp-training/wsbus/config"
	"github.com/wricardo/mcp-training/wsbus/logging"
)

// ValidationResult captures the outcome of validating a single file.
// If Valid is true, Errors contains informational messages; otherwise it
// accumulates the validation errors that were found.
type ValidationResult struct {
	File   string
	Valid  bool
	Errors []string
}

func (r *ValidationResult) fail(format string, args ...interface{}) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func validateProfile(filePath string) ValidationResult {
	result := ValidationResult{
		File:   filepath.Base(filePath),
		Valid:  true,
		Errors: []string{},
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		result.fail("Failed to read file: %v", err)
		return result
	}

	var profile config.Profile
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&profile); err != nil {
		result.fail("Invalid JSON: %v", err)
		return result
	}

	overrides, err := profile.Config()
	if err != nil {
		result.fail("Invalid value: %v", err)
		return result
	}
	cfg := config.Default().Merge(overrides)

	if err := cfg.Validate(); err != nil {
		result.fail("%v", err)
	}
	if _, err := logging.New(cfg.LogOutput, cfg.LogLevel, cfg.LogFormat); err != nil {
		result.fail("Invalid logging: %v", err)
	}
	if profile.Description == "" {
		result.fail("Missing description")
	}
	if !result.Valid {
		return result
	}

	endpoint, _ := cfg.Endpoint()
	result.Errors = append(result.Errors,
		fmt.Sprintf("✓ Endpoint: %s", endpoint),
		fmt.Sprintf("✓ Logging: %s/%s to %s", cfg.LogFormat, cfg.LogLevel, cfg.LogOutput),
	)
	if cfg.HandshakeTimeout > 0 {
		result.Errors = append(result.Errors, fmt.Sprintf("✓ Handshake timeout: %s", cfg.HandshakeTimeout))
	}
	return result
}

func main() {
	configDir := "../configs"
	if len(os.Args) > 1 {
		configDir = os.Args[1]
	}
	files, err := filepath.Glob(filepath.Join(configDir, "*.json"))
	if err != nil {
		fmt.Printf("Error finding profile files: %v\n", err)
		os.Exit(1)
	}

	allValid := true
	for _, file := range files {
		result := validateProfile(file)

		fmt.Printf("\n%s %s\n", strings.Repeat("=", 20), result.File)

		if result.Valid {
			fmt.Println("✅ VALID")
			for _, info := range result.Errors {
				fmt.Println("  " + info)
			}
		} else {
			fmt.Println("❌ INVALID")
			allValid = false
			for _, err := range result.Errors {
				fmt.Println("  ❌ " + err)
			}
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("=", 40))
	if allValid {
		fmt.Println("✅ All profiles are valid!")
	} else {
		fmt.Println("❌ Some profiles have errors")
		os.Exit(1)
	}
}
