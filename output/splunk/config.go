// Package splunk implements the HTTP Event Collector (HEC) destination: record
// serialization into HEC event JSON and a client forwarding gzipped chunks to
// the /services/collector/event endpoint.
package splunk

import (
	"fmt"
	"net/url"
	"time"

	"github.com/relex/loghose/defs"
)

// Config defines the HEC destination
type Config struct {
	URL           string        `yaml:"url"`           // collector base URL, e.g. https://splunk.example.com:8088
	Token         string        `yaml:"token"`         // HEC token, sent as Authorization: Splunk <token>
	Index         string        `yaml:"index"`         // target index, empty uses the token's default
	SourceType    string        `yaml:"sourceType"`    // sourcetype of forwarded events
	HTTPTimeout   time.Duration `yaml:"httpTimeout"`   // per-request timeout, 0 = defs default
	AllowInsecure bool          `yaml:"allowInsecure"` // permit http and self-signed certs, for tests only
}

// VerifyConfig verifies HEC config
func (cfg *Config) VerifyConfig() error {
	if cfg.URL == "" {
		return fmt.Errorf(".url is unspecified")
	}
	parsed, perr := url.Parse(cfg.URL)
	if perr != nil {
		return fmt.Errorf(".url is invalid: %w", perr)
	}
	switch parsed.Scheme {
	case "https":
	case "http":
		if !cfg.AllowInsecure {
			return fmt.Errorf(".url must be https unless allowInsecure is set: %s", cfg.URL)
		}
	default:
		return fmt.Errorf(".url has unsupported scheme '%s'", parsed.Scheme)
	}
	if cfg.Token == "" {
		return fmt.Errorf(".token is unspecified")
	}
	if cfg.SourceType == "" {
		return fmt.Errorf(".sourceType is unspecified")
	}
	if cfg.HTTPTimeout < 0 {
		return fmt.Errorf(".httpTimeout must not be negative: %s", cfg.HTTPTimeout)
	}
	return nil
}

// TimeoutOrDefault returns the configured request timeout or the package default
func (cfg *Config) TimeoutOrDefault() time.Duration {
	if cfg.HTTPTimeout > 0 {
		return cfg.HTTPTimeout
	}
	return defs.ForwarderHTTPTimeout
}
