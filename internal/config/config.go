// Package config loads edurange settings from EDURANGE_* environment
// variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chainguard-dev/edurange/internal/lifecycle"
	"github.com/chainguard-dev/edurange/internal/providers/docker"
	"github.com/chainguard-dev/edurange/internal/providers/ec2"
	"github.com/chainguard-dev/edurange/internal/providers/s3"
	"github.com/kelseyhightower/envconfig"
)

// Prefix of every environment variable read by Load.
const Prefix = "edurange"

const (
	ProviderAWS    = "aws"
	ProviderDocker = "docker"
)

// Config holds the settings of a single CLI invocation.
type Config struct {
	// Provider selects the compute backend: aws or docker.
	Provider string `default:"aws"`
	// Region overrides the region of the AWS default config chain.
	Region string

	// EC2
	InstanceType  string   `split_words:"true"`
	ImagePatterns ImageMap `split_words:"true"`
	ImageOwners   []string `split_words:"true"`

	// Docker
	DockerHost          string   `split_words:"true"`
	DockerImages        ImageMap `split_words:"true"`
	DockerPublicNetwork string   `split_words:"true"`

	// Readiness store. An empty bucket is derived from the IAM user name.
	Bucket        string
	S3Endpoint    string        `envconfig:"S3_ENDPOINT"`
	S3AccessKey   string        `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey   string        `envconfig:"S3_SECRET_KEY"`
	PresignExpiry time.Duration `split_words:"true"`

	ReadinessInterval time.Duration `split_words:"true" default:"15s"`
	ReadinessTimeout  time.Duration `split_words:"true"`
	WaitTimeout       time.Duration `split_words:"true"`

	// LogsDir receives one log file per instance when set.
	LogsDir  string `split_words:"true"`
	LogLevel string `split_words:"true" default:"info"`
}

// ImageMap maps an operating system to an image name or reference. It is
// written as comma separated os=value pairs since image references contain
// colons.
type ImageMap map[string]string

// Decode implements envconfig.Decoder.
func (m *ImageMap) Decode(value string) error {
	out := ImageMap{}
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		os, v, ok := strings.Cut(pair, "=")
		if !ok || os == "" || v == "" {
			return fmt.Errorf("invalid image entry %q, want os=value", pair)
		}
		out[strings.TrimSpace(os)] = strings.TrimSpace(v)
	}
	*m = out
	return nil
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process(Prefix, &c); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	c.Provider = strings.ToLower(c.Provider)
	if c.Provider == "" {
		c.Provider = ProviderAWS
	}
	if c.ReadinessInterval == 0 {
		c.ReadinessInterval = lifecycle.DefaultReadinessInterval
	}
}

func (c *Config) validate() error {
	switch c.Provider {
	case ProviderAWS, ProviderDocker:
	default:
		return fmt.Errorf("unknown provider %q, want %s or %s", c.Provider, ProviderAWS, ProviderDocker)
	}
	if c.ReadinessInterval < 0 || c.ReadinessTimeout < 0 || c.WaitTimeout < 0 || c.PresignExpiry < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
		return fmt.Errorf("S3 access key and secret key must be set together")
	}
	if c.S3Endpoint != "" && c.Bucket == "" {
		return fmt.Errorf("a bucket is required with a custom S3 endpoint")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// EC2 returns the EC2 provider settings.
func (c *Config) EC2() ec2.Config {
	return ec2.Config{
		InstanceType:  c.InstanceType,
		WaitTimeout:   c.WaitTimeout,
		ImagePatterns: c.ImagePatterns,
		ImageOwners:   c.ImageOwners,
	}
}

// Docker returns the docker provider settings.
func (c *Config) Docker() docker.Config {
	return docker.Config{
		Images:        c.DockerImages,
		PublicNetwork: c.DockerPublicNetwork,
		WaitTimeout:   c.WaitTimeout,
	}
}

// S3 returns the readiness store settings.
func (c *Config) S3() s3.Config {
	return s3.Config{
		Region:        c.Region,
		Endpoint:      c.S3Endpoint,
		AccessKey:     c.S3AccessKey,
		SecretKey:     c.S3SecretKey,
		PresignExpiry: c.PresignExpiry,
	}
}

// ManagerOptions returns the lifecycle options implied by the configuration.
func (c *Config) ManagerOptions() []lifecycle.Option {
	return []lifecycle.Option{
		lifecycle.WithReadinessInterval(c.ReadinessInterval),
		lifecycle.WithReadinessTimeout(c.ReadinessTimeout),
	}
}
