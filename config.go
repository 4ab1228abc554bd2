package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envConfluenceBaseURL = "CONFLUENCE_BASE_URL"
	envConfluenceUser    = "CONFLUENCE_USERNAME"
	envConfluenceToken   = "CONFLUENCE_API_TOKEN"
	envInsecureTLS       = "CONFLUENCE_INSECURE_TLS"
	envTimeout           = "WIKIMD_TIMEOUT"
	envMaxImageWidth     = "WIKIMD_MAX_IMAGE_WIDTH"
	envWikiJSURL         = "WIKIJS_URL"
	envWikiJSAPIKey      = "WIKIJS_API_KEY"
	envWikiJSLocale      = "WIKIJS_LOCALE"
	envWikiJSPathPrefix  = "WIKIJS_PATH_PREFIX"
	envWikiJSLowercase   = "WIKIJS_LOWERCASE_ASSETS"

	defaultLocale = "en"
)

// errConfig marks configuration problems that stop a run before any work.
var errConfig = errors.New("configuration error")

// config holds runtime settings sourced from the environment. Command-line
// flags are applied on top by the CLI.
type config struct {
	BaseURL     string
	Username    string
	APIToken    string
	InsecureTLS bool
	Timeout     time.Duration
	MaxWidth    int

	WikiJSURL       string
	WikiJSAPIKey    string
	WikiJSLocale    string
	WikiJSPrefix    string
	LowercaseAssets bool
}

// loadConfig reads config from environment variables, falling back to
// defaults for missing or invalid values.
func loadConfig() config {
	cfg := config{
		BaseURL:         strings.TrimSuffix(strings.TrimSpace(os.Getenv(envConfluenceBaseURL)), "/"),
		Username:        os.Getenv(envConfluenceUser),
		APIToken:        os.Getenv(envConfluenceToken),
		InsecureTLS:     envBool(envInsecureTLS, false),
		Timeout:         defaultTimeout,
		WikiJSURL:       strings.TrimSuffix(strings.TrimSpace(os.Getenv(envWikiJSURL)), "/"),
		WikiJSAPIKey:    os.Getenv(envWikiJSAPIKey),
		WikiJSLocale:    defaultLocale,
		WikiJSPrefix:    strings.Trim(os.Getenv(envWikiJSPathPrefix), "/"),
		LowercaseAssets: envBool(envWikiJSLowercase, true),
	}
	if v := os.Getenv(envTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Timeout = d
		} else if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Timeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv(envMaxImageWidth); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxWidth = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(envWikiJSLocale)); v != "" {
		cfg.WikiJSLocale = v
	}
	return cfg
}

func envBool(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// validateSource reports missing settings for talking to the source wiki.
func (c config) validateSource() error {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, envConfluenceBaseURL)
	}
	if c.APIToken == "" {
		missing = append(missing, envConfluenceToken)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s must be set", errConfig, strings.Join(missing, ", "))
	}
	if !schemeURLRe.MatchString(c.BaseURL) {
		return fmt.Errorf("%w: %s must be an http(s) URL, got %q", errConfig, envConfluenceBaseURL, c.BaseURL)
	}
	return nil
}

// validateDestination reports missing settings for publishing to Wiki.js.
func (c config) validateDestination() error {
	var missing []string
	if c.WikiJSURL == "" {
		missing = append(missing, envWikiJSURL)
	}
	if c.WikiJSAPIKey == "" {
		missing = append(missing, envWikiJSAPIKey)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s must be set", errConfig, strings.Join(missing, ", "))
	}
	return nil
}

// auth picks basic auth when a user name is configured, otherwise the token
// is sent as a bearer token.
func (c config) auth() AuthMethod {
	if c.Username != "" {
		return BasicAuth{Username: c.Username, Token: c.APIToken}
	}
	return BearerAuth{Token: c.APIToken}
}

func (c config) imageOptions() imageOptions {
	return imageOptions{
		InsecureTLS:    c.InsecureTLS,
		Timeout:        c.Timeout,
		MaxWidth:       c.MaxWidth,
		LowercaseNames: c.LowercaseAssets,
	}
}

func (c config) confluenceClient() *ConfluenceClient {
	return NewConfluenceClient(c.BaseURL, c.auth(), WithHTTPClient(newHTTPClient(c.Timeout, c.InsecureTLS)))
}

func (c config) wikiJSClient() *WikiJSClient {
	return NewWikiJSClient(c.WikiJSURL, c.WikiJSAPIKey, newHTTPClient(c.Timeout, c.InsecureTLS))
}
