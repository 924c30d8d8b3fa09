package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidProfile  = errors.New("invalid profile")
)

// Profile is one environment's settings as stored on disk, e.g.
// configs/production.json.
type Profile struct {
	Description      string `json:"description,omitempty"`
	APIURL           string `json:"api_url,omitempty"`
	PageURL          string `json:"page_url,omitempty"`
	HandshakeTimeout string `json:"handshake_timeout,omitempty"`
	RelayAddr        string `json:"relay_addr,omitempty"`
	LogOutput        string `json:"log_output,omitempty"`
	LogLevel         string `json:"log_level,omitempty"`
	LogFormat        string `json:"log_format,omitempty"`
}

// Config converts the profile, parsing durations.
func (p *Profile) Config() (Config, error) {
	c := Config{
		APIURL:    p.APIURL,
		PageURL:   p.PageURL,
		RelayAddr: p.RelayAddr,
		LogOutput: p.LogOutput,
		LogLevel:  p.LogLevel,
		LogFormat: p.LogFormat,
	}
	if p.HandshakeTimeout != "" {
		d, err := time.ParseDuration(p.HandshakeTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("handshake_timeout: %w", err)
		}
		c.HandshakeTimeout = d
	}
	return c, nil
}

// ProfileInfo describes a profile available on disk.
type ProfileInfo struct {
	Name        string `json:"name"`
	Filename    string `json:"filename"`
	Description string `json:"description"`
	APIURL      string `json:"api_url"`
}

// Manager loads environment profiles from a directory and caches them.
type Manager struct {
	dir      string
	profiles map[string]*Profile
	mu       sync.RWMutex
}

// NewManager creates a manager over dir, which must exist.
func NewManager(dir string) (*Manager, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("profile directory does not exist: %s", dir)
		}
		return nil, fmt.Errorf("stat profile directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("profile path is not a directory: %s", dir)
	}

	return &Manager{
		dir:      dir,
		profiles: make(map[string]*Profile),
	}, nil
}

// Load returns the profile called name, reading <dir>/<name>.json on first use.
func (m *Manager) Load(name string) (*Profile, error) {
	name = strings.TrimSuffix(name, ".json")

	m.mu.RLock()
	if p, ok := m.profiles[name]; ok {
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if p, ok := m.profiles[name]; ok {
		return p, nil
	}

	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("%w: bad profile name %q", ErrInvalidProfile, name)
	}
	data, err := os.ReadFile(filepath.Join(m.dir, name+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
		}
		return nil, fmt.Errorf("read profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidProfile, name, err)
	}
	c, err := p.Config()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidProfile, name, err)
	}
	if err := Default().Merge(c).Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidProfile, name, err)
	}

	m.profiles[name] = &p
	return &p, nil
}

// Resolve loads the named profile and layers it over the defaults. An empty
// name yields the defaults.
func (m *Manager) Resolve(name string) (Config, error) {
	if name == "" {
		return Default(), nil
	}
	p, err := m.Load(name)
	if err != nil {
		return Config{}, err
	}
	c, err := p.Config()
	if err != nil {
		return Config{}, err
	}
	return Default().Merge(c), nil
}

// List describes every loadable profile in the directory, sorted by name.
// Invalid profiles are skipped.
func (m *Manager) List() ([]*ProfileInfo, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read profile directory: %w", err)
	}

	var infos []*ProfileInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		p, err := m.Load(name)
		if err != nil {
			continue
		}
		infos = append(infos, &ProfileInfo{
			Name:        name,
			Filename:    entry.Name(),
			Description: p.Description,
			APIURL:      p.APIURL,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}
