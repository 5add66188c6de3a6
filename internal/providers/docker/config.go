package docker

import (
	"fmt"
	"time"

	"github.com/chainguard-dev/edurange/internal/scenario"
	"github.com/google/go-containerregistry/pkg/name"
)

// Config configures the docker provider.
type Config struct {
	// Images maps an operating system to the image reference used for its
	// instances. default: ubuntu -> ubuntu:16.04
	Images map[string]string
	// PublicNetwork is attached to internet accessible containers.
	PublicNetwork string // default: bridge
	// WaitTimeout bounds running and terminated waits.
	WaitTimeout time.Duration // default: 10m
	// PollInterval is the delay between container inspections.
	PollInterval time.Duration // default: 1s
}

const defaultUbuntuImage = "ubuntu:16.04"

func (c *Config) applyDefaults() {
	if c.Images == nil {
		c.Images = map[string]string{}
	}
	if _, ok := c.Images[scenario.OSUbuntu]; !ok {
		c.Images[scenario.OSUbuntu] = defaultUbuntuImage
	}
	if c.PublicNetwork == "" {
		c.PublicNetwork = "bridge"
	}
	if c.WaitTimeout == 0 {
		c.WaitTimeout = 10 * time.Minute
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
}

func (c *Config) validate() error {
	for os, ref := range c.Images {
		if _, err := name.ParseReference(ref); err != nil {
			return fmt.Errorf("image for %q: %w", os, err)
		}
	}
	if c.WaitTimeout < 0 || c.PollInterval < 0 {
		return fmt.Errorf("wait timeout and poll interval must not be negative")
	}
	return nil
}

// bootstraps makes the readiness notification work on minimal images.
var bootstraps = map[string]string{
	scenario.OSUbuntu: "command -v curl >/dev/null 2>&1 || " +
		"(apt-get update -qq && apt-get install -y -qq curl ca-certificates >/dev/null)",
}
