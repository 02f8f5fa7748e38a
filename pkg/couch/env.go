package couch

import (
	"fmt"
	"net/http"
	"os"

	"github.com/Ratio1/couch_sdk_go/internal/config"
	"github.com/Ratio1/couch_sdk_go/pkg/couch/couchtest"
)

// Runtime modes reported by NewFromEnv.
const (
	ModeHTTP = config.ModeHTTP
	ModeMock = config.ModeMock
)

// Config holds the settings accepted by NewFromConfig.
type Config = config.Config

// mockEndpoint is the base URL of clients served by the in-process store.
const mockEndpoint = "http://couchtest.invalid"

// NewFromEnv initialises a Client from the environment and returns the
// resolved mode ("http" or "mock").
//
// COUCH_RUNTIME_MODE selects the mode: "http" requires COUCHDB_ENDPOINT,
// "mock" serves an in-memory store in-process (seeded from COUCH_MOCK_SEED
// when set), and "auto" (the default) picks http when COUCHDB_ENDPOINT is set.
// COUCHDB_USER and COUCHDB_PASSWORD enable basic authentication and
// COUCH_CONFIG names a YAML profile read before the environment.
func NewFromEnv(opts ...Option) (client *Client, mode string, err error) {
	return newFromEnv(os.Getenv, opts...)
}

func newFromEnv(getenv func(string) string, opts ...Option) (*Client, string, error) {
	endpointSet := getenv(config.EnvEndpoint) != ""
	cfg, err := config.FromEnv(getenv)
	if err != nil {
		return nil, "", fmt.Errorf("couch: %w", err)
	}
	if !endpointSet && cfg.Endpoint != config.DefaultEndpoint {
		// A profile supplied the endpoint.
		endpointSet = true
	}

	switch cfg.Mode {
	case config.ModeAuto:
		if endpointSet {
			return NewFromConfig(cfg, opts...)
		}
		return newInProcessClient(cfg, opts...)
	case config.ModeHTTP:
		if !endpointSet {
			return nil, "", fmt.Errorf("couch: HTTP mode requires %s", config.EnvEndpoint)
		}
		return NewFromConfig(cfg, opts...)
	default:
		return newInProcessClient(cfg, opts...)
	}
}

// NewFromConfig builds a client for resolved settings. Mock mode is served
// in-process; any other mode talks to cfg.Endpoint.
func NewFromConfig(cfg *Config, opts ...Option) (*Client, string, error) {
	if cfg == nil {
		return nil, "", fmt.Errorf("couch: config is required")
	}
	if cfg.Mode == config.ModeMock {
		return newInProcessClient(cfg, opts...)
	}
	client, err := New(cfg.Endpoint, append(configOptions(cfg), opts...)...)
	if err != nil {
		return nil, "", fmt.Errorf("couch: init HTTP client: %w", err)
	}
	return client, ModeHTTP, nil
}

func newInProcessClient(cfg *Config, opts ...Option) (*Client, string, error) {
	srv := couchtest.New()
	if cfg.Seed != "" {
		seed, err := couchtest.LoadSeed(cfg.Seed)
		if err != nil {
			return nil, "", fmt.Errorf("couch: load mock seed: %w", err)
		}
		if err := seed.Apply(srv); err != nil {
			return nil, "", fmt.Errorf("couch: apply mock seed: %w", err)
		}
	}
	mockOpts := append(configOptions(cfg), WithHTTPClient(&http.Client{Transport: srv.Transport()}))
	client, err := New(mockEndpoint, append(mockOpts, opts...)...)
	if err != nil {
		return nil, "", fmt.Errorf("couch: init mock client: %w", err)
	}
	return client, ModeMock, nil
}

func configOptions(cfg *Config) []Option {
	var opts []Option
	if cfg.Username != "" {
		opts = append(opts, WithBasicAuth(cfg.Username, cfg.Password))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, WithTimeout(cfg.Timeout))
	}
	if cfg.Compression {
		opts = append(opts, WithCompression())
	}
	return opts
}
