package lifecycle

import (
	"strings"

	"github.com/chainguard-dev/edurange/internal/scenario"
)

const (
	scriptSeparator    = "\n\n"
	defaultInterpreter = "#!/bin/sh\n"
)

// AssembleStartupScript concatenates the contents of every script of every
// role, in role order then script order, separated by a blank line. The
// result is opaque to the controller.
func AssembleStartupScript(roles []*scenario.Role) string {
	var parts []string
	for _, r := range roles {
		for _, s := range r.Scripts {
			parts = append(parts, s.Contents)
		}
	}
	return strings.Join(parts, scriptSeparator)
}
