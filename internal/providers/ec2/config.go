package ec2

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/chainguard-dev/edurange/internal/scenario"
)

const (
	// canonicalOwnerID publishes the official Ubuntu images.
	canonicalOwnerID = "099720109477"

	defaultUbuntuPattern = "ubuntu/images/hvm-ssd/ubuntu-xenial-16.04-amd64-server-????????"
)

// Config configures the EC2 provider.
type Config struct {
	// Optional with defaults
	InstanceType string        // default: t2.small
	WaitTimeout  time.Duration // default: 1h

	// ImagePatterns maps an operating system to an image name pattern.
	// default: ubuntu -> xenial server images
	ImagePatterns map[string]string
	// ImageOwners restricts image lookups. default: Canonical
	ImageOwners []string
}

func (c *Config) applyDefaults() {
	if c.InstanceType == "" {
		c.InstanceType = string(types.InstanceTypeT2Small)
	}
	if c.WaitTimeout == 0 {
		c.WaitTimeout = time.Hour
	}
	if c.ImagePatterns == nil {
		c.ImagePatterns = map[string]string{}
	}
	if _, ok := c.ImagePatterns[scenario.OSUbuntu]; !ok {
		c.ImagePatterns[scenario.OSUbuntu] = defaultUbuntuPattern
	}
	if len(c.ImageOwners) == 0 {
		c.ImageOwners = []string{canonicalOwnerID}
	}
}

func (c *Config) validate() error {
	if c.WaitTimeout < 0 {
		return fmt.Errorf("wait timeout must not be negative")
	}
	for os, pattern := range c.ImagePatterns {
		if pattern == "" {
			return fmt.Errorf("image pattern for %q is empty", os)
		}
	}
	return nil
}

func (c *Config) instanceType() types.InstanceType {
	return types.InstanceType(c.InstanceType)
}
