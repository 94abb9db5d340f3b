package pyramid

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meigma/pyramid/core/codec"
	"github.com/meigma/pyramid/core/fetch"
	"github.com/meigma/pyramid/core/store"
)

// Config is the file form of the loader options.
type Config struct {
	Fetch struct {
		// Workers is the number of fetcher goroutines.
		Workers int `yaml:"workers"`
		// Timeout bounds each block load; zero disables it.
		Timeout time.Duration `yaml:"timeout"`
		// MaxPrefetch bounds the jobs kept from earlier frames.
		MaxPrefetch int `yaml:"maxPrefetch"`
		// RetryFailed retries failed blocks once per frame.
		RetryFailed bool `yaml:"retryFailed"`
		// MaxBlockBytes caps the decompressed size of a chunk.
		MaxBlockBytes uint64 `yaml:"maxBlockBytes"`
	} `yaml:"fetch"`

	DiskCache struct {
		Dir      string `yaml:"dir"`
		MaxBytes int64  `yaml:"maxBytes"`
	} `yaml:"diskCache"`

	S3 struct {
		Endpoint  string `yaml:"endpoint"`
		Region    string `yaml:"region"`
		PathStyle bool   `yaml:"pathStyle"`
		// Auth is "anonymous" or "chain".
		Auth            string `yaml:"auth"`
		AccessKeyID     string `yaml:"accessKeyId"`
		SecretAccessKey string `yaml:"secretAccessKey"`
		SessionToken    string `yaml:"sessionToken"`
	} `yaml:"s3"`

	HTTP struct {
		Headers map[string]string `yaml:"headers"`
	} `yaml:"http"`
}

// DefaultConfig returns the configuration New uses without options.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Fetch.Workers = runtime.GOMAXPROCS(0)
	cfg.Fetch.MaxPrefetch = fetch.DefaultMaxPrefetch
	cfg.Fetch.MaxBlockBytes = codec.DefaultMaxBlockBytes
	cfg.S3.Auth = store.AuthAnonymous.String()
	return cfg
}

// LoadConfig reads a YAML configuration from path over the defaults. A
// missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pyramid: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("pyramid: parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Options converts the configuration to loader options.
func (c *Config) Options() ([]Option, error) {
	auth, err := store.ParseAuthMode(c.S3.Auth)
	if err != nil {
		return nil, fmt.Errorf("pyramid: config: %w", err)
	}
	opts := []Option{
		WithFetchers(c.Fetch.Workers),
		WithFetchTimeout(c.Fetch.Timeout),
		WithMaxPrefetch(c.Fetch.MaxPrefetch),
		WithRetryFailed(c.Fetch.RetryFailed),
		WithMaxBlockBytes(c.Fetch.MaxBlockBytes),
		WithS3(store.S3Config{
			Endpoint:        c.S3.Endpoint,
			Region:          c.S3.Region,
			PathStyle:       c.S3.PathStyle,
			Auth:            auth,
			AccessKeyID:     c.S3.AccessKeyID,
			SecretAccessKey: c.S3.SecretAccessKey,
			SessionToken:    c.S3.SessionToken,
		}),
	}
	if c.DiskCache.Dir != "" {
		opts = append(opts, WithDiskCache(c.DiskCache.Dir, c.DiskCache.MaxBytes))
	}
	for k, v := range c.HTTP.Headers {
		opts = append(opts, WithHTTPHeader(k, v))
	}
	return opts, nil
}
