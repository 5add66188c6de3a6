package scenario

import (
	"fmt"

	"github.com/kballard/go-shellquote"
)

// OSUbuntu is the only operating system packages currently know how to
// install on.
const OSUbuntu = "ubuntu"

// Package is a named software package installed on every instance of a role.
type Package struct {
	Name string
}

func (p Package) String() string {
	return p.Name
}

// CommandsFor returns the shell commands that install the package on the
// given operating system.
func (p Package) CommandsFor(os string) ([]string, error) {
	switch os {
	case OSUbuntu:
		return []string{shellquote.Join("apt-get", "install", "-y", p.Name)}, nil
	default:
		return nil, fmt.Errorf("%w: can not install package %s on %q", ErrUnsupportedOperatingSystem, p.Name, os)
	}
}
