package clients

import (
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"
)

// ClientConfig is what API and session clients need to reach the orchestrator
type ClientConfig struct {
	// API root, e.g. http://localhost:8080
	APIURL string

	// Bearer token for REST calls and the /ws handshake
	Token string

	// Per-request timeout for REST calls
	Timeout time.Duration
}

var (
	envConfig     *ClientConfig
	envConfigOnce sync.Once
)

// LoadClientConfig reads FORGE_API_URL, FORGE_TOKEN and FORGE_TIMEOUT once
func LoadClientConfig() *ClientConfig {
	envConfigOnce.Do(func() {
		envConfig = &ClientConfig{
			APIURL:  "http://localhost:8080",
			Token:   os.Getenv("FORGE_TOKEN"),
			Timeout: 30 * time.Second,
		}
		if v := os.Getenv("FORGE_API_URL"); v != "" {
			envConfig.APIURL = v
		}
		if d, err := time.ParseDuration(os.Getenv("FORGE_TIMEOUT")); err == nil && d > 0 {
			envConfig.Timeout = d
		}
	})
	return envConfig
}

// Validate checks that APIURL is an absolute http(s) URL
func (c *ClientConfig) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("invalid api url %q: %w", c.APIURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid api url %q: want http(s)://host[:port]", c.APIURL)
	}
	return nil
}
