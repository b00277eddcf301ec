package marketplace

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
	"time"
)

// Config holds the marketplace feed API settings
type Config struct {
	// BaseURL is the API root, e.g. https://api.marketplace.example
	BaseURL string
	// AppKey identifies the seller application
	AppKey string
	// AppSecret signs every request
	AppSecret string
	// Timeout bounds one HTTP round trip
	Timeout time.Duration
	// RequestsPerSecond and Burst feed the client side rate limiter.
	// Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
}

var (
	ErrConfigMissingBaseURL   = errors.New("marketplace: base url is required")
	ErrConfigInvalidBaseURL   = errors.New("marketplace: base url must be an absolute http(s) url")
	ErrConfigMissingAppKey    = errors.New("marketplace: app key is required")
	ErrConfigMissingAppSecret = errors.New("marketplace: app secret is required")
)

// Validate checks required settings and fills defaults
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrConfigMissingBaseURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrConfigInvalidBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.AppKey == "" {
		return ErrConfigMissingAppKey
	}
	if c.AppSecret == "" {
		return ErrConfigMissingAppSecret
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RequestsPerSecond > 0 && c.Burst <= 0 {
		c.Burst = 1
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of the canonical request string:
//
//	METHOD \n PATH \n TIMESTAMP \n hex(sha256(body))
func (c *Config) Sign(method, path, timestamp string, body []byte) string {
	digest := sha256.Sum256(body)
	canonical := strings.Join([]string{method, path, timestamp, hex.EncodeToString(digest[:])}, "\n")
	mac := hmac.New(sha256.New, []byte(c.AppSecret))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}
