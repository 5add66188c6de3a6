// Package skip decides which scenario instances a command leaves alone.
package skip

import (
	"slices"
	"strconv"
	"strings"

	"github.com/chainguard-dev/edurange/internal/scenario"
)

// Labels describes an instance for selection. A key holds several values
// when an instance has several roles.
type Labels map[string][]string

// InstanceLabels returns the labels of inst: its scenario, cloud, subnet,
// instance name, os, roles and whether it is internet accessible.
func InstanceLabels(inst *scenario.InstanceConfig) Labels {
	l := Labels{
		"scenario": {inst.Scenario().Name},
		"cloud":    {inst.Cloud().Name},
		"subnet":   {inst.Subnet.Name},
		"instance": {inst.Name},
		"os":       {inst.OS},
		"internet": {strconv.FormatBool(inst.InternetAccessible)},
	}
	for _, r := range inst.Roles {
		l["role"] = append(l["role"], r.Name)
	}
	return l
}

func (l Labels) has(k, v string) bool {
	return slices.Contains(l[k], v)
}

// Skip evaluates an instance's labels against labels that must all be
// present and labels of which none may be present. Exclusion is evaluated
// last, so
//
//	Include: role=web
//	Exclude: internet=true
//
// selects the web servers that are not reachable from the internet.
func Skip(labels Labels, include, exclude map[string]string) (bool, string) {
	if missing := matching(include, func(k, v string) bool { return !labels.has(k, v) }); missing != "" {
		return true, "skipped due to missing required labels: " + missing
	}
	if present := matching(exclude, labels.has); present != "" {
		return true, "skipped due to presence of excluded labels: " + present
	}
	return false, ""
}

// matching returns the sorted k=v pairs of m for which match is true.
func matching(m map[string]string, match func(k, v string) bool) string {
	var out []string
	for k, v := range m {
		if match(k, v) {
			out = append(out, k+"="+v)
		}
	}
	slices.Sort(out)
	return strings.Join(out, " ")
}
