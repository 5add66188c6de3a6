// Package scenario holds the read-only configuration model of a training
// scenario: clouds, subnets, roles and the instances placed in them.
package scenario

import (
	"net/netip"
)

// Scenario is the root of a loaded scenario. It owns every configuration
// object transitively and is not modified after load.
type Scenario struct {
	Name   string
	Clouds []*Cloud
	Roles  []*Role

	// Dir is the directory the scenario was loaded from. Scripts and recipes
	// are resolved relative to it.
	Dir string
}

// Instances returns every instance of the scenario in declaration order.
func (s *Scenario) Instances() []*InstanceConfig {
	var out []*InstanceConfig
	for _, c := range s.Clouds {
		for _, sn := range c.Subnets {
			out = append(out, sn.Instances...)
		}
	}
	return out
}

// Role returns the named role.
func (s *Scenario) Role(name string) (*Role, bool) {
	for _, r := range s.Roles {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}

// Cloud is the naming and network-placement context for a set of subnets.
type Cloud struct {
	Name      string
	CIDRBlock netip.Prefix
	Subnets   []*Subnet

	Scenario *Scenario
}

// Subnet belongs to exactly one cloud.
type Subnet struct {
	Name      string
	CIDRBlock netip.Prefix

	// ProviderID identifies the subnet on the provider side: an EC2 subnet ID
	// or a docker network name.
	ProviderID string

	InternetAccessible bool
	Instances          []*InstanceConfig

	Cloud *Cloud
}

// InstanceConfig is the immutable configuration of a single instance. It is
// the unit the lifecycle controller operates on.
type InstanceConfig struct {
	Name string
	OS   string

	// IPAddress is the static private address. The zero value means the
	// provider assigns one.
	IPAddress netip.Addr

	InternetAccessible bool
	Roles              []*Role

	Subnet *Subnet
}

// Cloud returns the cloud the instance is placed in.
func (i *InstanceConfig) Cloud() *Cloud {
	return i.Subnet.Cloud
}

// Scenario returns the owning scenario.
func (i *InstanceConfig) Scenario() *Scenario {
	return i.Subnet.Cloud.Scenario
}

// DynamicIPAddress reports whether the provider picks the private address.
func (i *InstanceConfig) DynamicIPAddress() bool {
	return !i.IPAddress.IsValid()
}

// Packages is the union of the packages of every assigned role, in role
// order.
func (i *InstanceConfig) Packages() []Package {
	var out []Package
	for _, r := range i.Roles {
		out = append(out, r.Packages...)
	}
	return out
}

// Recipes is the union of the recipes of every assigned role, in role order.
// Recipes are carried for scenario tooling; only scripts reach the guest.
func (i *InstanceConfig) Recipes() []*Recipe {
	var out []*Recipe
	for _, r := range i.Roles {
		out = append(out, r.Recipes...)
	}
	return out
}

// Scripts is the union of the scripts of every assigned role, in role order.
func (i *InstanceConfig) Scripts() []*Script {
	var out []*Script
	for _, r := range i.Roles {
		out = append(out, r.Scripts...)
	}
	return out
}

// InstallCommands returns the package install commands for the instance's
// operating system. They are not part of the startup payload: role scripts
// that need packages install them themselves, and the plan command reports
// them.
func (i *InstanceConfig) InstallCommands() ([]string, error) {
	var out []string
	for _, p := range i.Packages() {
		cmds, err := p.CommandsFor(i.OS)
		if err != nil {
			return nil, err
		}
		out = append(out, cmds...)
	}
	return out, nil
}
