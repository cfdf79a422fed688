package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/magiconair/properties"
)

// Well-known property keys
const (
	KeyAPIBaseURL   = "api.base.url"
	KeyUIBaseURL    = "ui.base.url"
	KeyJSONFileDir  = "json.file.directory"
	KeyDBURL        = "db.url"
	KeyDBUsername   = "db.username"
	KeyDBPassword   = "db.password"
	KeyHTTPTimeout  = "http.timeout"
	defaultJSONDir  = "testdata/json"
	defaultDBURL    = "postgres://localhost:5432/postgres"
	defaultUsername = "postgres"
)

// ErrMissingProperty is returned for required properties that are unset
var ErrMissingProperty = errors.New("required property is not set")

// Provider answers key lookups against the merged properties file and the
// properties section of ketchup.yml. It is read-only after construction
// and safe for concurrent use.
type Provider struct {
	props *properties.Properties
}

// NewProvider builds a provider from plain values
func NewProvider(values map[string]string) *Provider {
	p := properties.NewProperties()
	p.DisableExpansion = true
	for k, v := range values {
		p.Set(k, v)
	}
	return &Provider{props: p}
}

// LoadProvider reads cfg.PropertiesFile when set and overlays
// cfg.Properties on top of it
func LoadProvider(cfg *Config) (*Provider, error) {
	p := properties.NewProperties()
	if cfg.PropertiesFile != "" {
		loaded, err := properties.LoadFile(cfg.Path(cfg.PropertiesFile), properties.UTF8)
		if err != nil {
			return nil, fmt.Errorf("loading properties file: %w", err)
		}
		p = loaded
	}
	p.DisableExpansion = true

	for k, v := range cfg.Properties {
		if _, _, err := p.Set(k, v); err != nil {
			return nil, fmt.Errorf("setting property %s: %w", k, err)
		}
	}
	return &Provider{props: p}, nil
}

// Get returns the value for key or def when the key is absent
func (p *Provider) Get(key, def string) string {
	if p == nil || p.props == nil {
		return def
	}
	return p.props.GetString(key, def)
}

// Keys returns all property keys in sorted order
func (p *Provider) Keys() []string {
	keys := p.props.Keys()
	sort.Strings(keys)
	return keys
}

func (p *Provider) APIBaseURL() (string, error) {
	return p.required(KeyAPIBaseURL)
}

func (p *Provider) UIBaseURL() (string, error) {
	return p.required(KeyUIBaseURL)
}

// JSONFileDirectory is where JSON fixture files are read from and written to
func (p *Provider) JSONFileDirectory() string {
	return p.Get(KeyJSONFileDir, defaultJSONDir)
}

// DB returns the database url, username and password with defaults
func (p *Provider) DB() (url, username, password string) {
	return p.Get(KeyDBURL, defaultDBURL), p.Get(KeyDBUsername, defaultUsername), p.Get(KeyDBPassword, "")
}

func (p *Provider) required(key string) (string, error) {
	v := p.Get(key, "")
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingProperty, key)
	}
	return v, nil
}
