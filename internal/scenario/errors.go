package scenario

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrConfiguration is returned for invalid scenario, role or instance
	// configuration. It is never retried.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrUnsupportedOperatingSystem is returned when a package has no install
	// command for an instance's operating system.
	ErrUnsupportedOperatingSystem = fmt.Errorf("%w: unsupported operating system", ErrConfiguration)
)

var nameRe = regexp.MustCompile(`^\w+$`)

// ValidateName checks that name is non-empty and contains only ASCII letters,
// digits and underscores. Every name that ends up in a resource identity goes
// through here, so '/' and ':' can be used as delimiters.
func ValidateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%w: %s name must not be empty", ErrConfiguration, kind)
	}
	if !nameRe.MatchString(name) {
		return fmt.Errorf("%w: %s name %q does not only contain alphanumeric characters and underscores", ErrConfiguration, kind, name)
	}
	return nil
}
