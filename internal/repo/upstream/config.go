package upstream

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config describes the upstream source-of-truth API this adapter reads from.
// It is loaded from a YAML file so that a deployment can switch the protocol
// backend without code changes.
type Config struct {
	BaseURL        string
	TokenURL       string
	ClientID       string
	ClientSecret   string
	Scopes         []string
	RequestTimeout time.Duration
}

type rawConfig struct {
	BaseURL        string   `yaml:"base_url"`
	TokenURL       string   `yaml:"token_url"`
	ClientID       string   `yaml:"client_id"`
	ClientSecret   string   `yaml:"client_secret"`
	Scopes         []string `yaml:"scopes"`
	RequestTimeout string   `yaml:"request_timeout"`
}

func LoadConfig(path string) (Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Config{}, errors.New("upstream config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read upstream config: %w", err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (Config, error) {
	var raw rawConfig
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return Config{}, fmt.Errorf("parse upstream config: %w", err)
	}

	cfg := Config{
		BaseURL:        strings.TrimSpace(raw.BaseURL),
		TokenURL:       strings.TrimSpace(raw.TokenURL),
		ClientID:       strings.TrimSpace(raw.ClientID),
		ClientSecret:   strings.TrimSpace(raw.ClientSecret),
		Scopes:         raw.Scopes,
		RequestTimeout: 10 * time.Second,
	}
	if strings.TrimSpace(raw.RequestTimeout) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RequestTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse request_timeout: %w", err)
		}
		cfg.RequestTimeout = d
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("base_url is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base_url must include a scheme: %q", c.BaseURL)
	}
	if strings.TrimSpace(c.TokenURL) == "" {
		return errors.New("token_url is required")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return errors.New("client_id is required")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		return errors.New("client_secret is required")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request_timeout must be positive")
	}
	return nil
}
