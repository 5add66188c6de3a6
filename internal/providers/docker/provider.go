package docker

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/chainguard-dev/edurange/internal/lifecycle"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
)

const (
	// labelManaged marks every container created by the provider.
	labelManaged = "dev.chainguard.edurange"
	// labelNetwork records the subnet network of a container.
	labelNetwork = "dev.chainguard.edurange.network"
	// labelOS records the operating system of a container.
	labelOS = "dev.chainguard.edurange.os"
)

var _ lifecycle.Compute = (*Provider)(nil)

// Provider runs instances as docker containers.
type Provider struct {
	cli DockerAPI
	cfg Config

	// osByImage remembers which operating system an image was listed for.
	mu        sync.Mutex
	osByImage map[string]string
}

// New returns a provider using cli.
func New(cli DockerAPI, cfg Config) (*Provider, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid docker config: %w", err)
	}
	return &Provider{cli: cli, cfg: cfg, osByImage: map[string]string{}}, nil
}

func (p *Provider) withDefaultLabels(labels map[string]string, subnet, os string) map[string]string {
	l := map[string]string{
		labelManaged: "true",
		labelNetwork: subnet,
	}
	if os != "" {
		l[labelOS] = os
	}

	for k, v := range l {
		if _, ok := labels[k]; !ok {
			labels[k] = v
		}
	}
	return labels
}

func resourceState(s container.ContainerState) lifecycle.ResourceState {
	switch s {
	case container.StateCreated, container.StateRestarting:
		return lifecycle.ResourceStatePending
	case container.StateRunning:
		return lifecycle.ResourceStateRunning
	case container.StatePaused, container.StateExited:
		return lifecycle.ResourceStateStopped
	case container.StateRemoving:
		return lifecycle.ResourceStateShuttingDown
	case container.StateDead:
		return lifecycle.ResourceStateTerminated
	}
	return lifecycle.ResourceStatePending
}

func endpointAddr(networks map[string]*network.EndpointSettings, name string) netip.Addr {
	ep, ok := networks[name]
	if !ok || ep == nil {
		return netip.Addr{}
	}
	addr, err := netip.ParseAddr(ep.IPAddress)
	if err != nil {
		return netip.Addr{}
	}
	return addr
}

// fromInspect builds a resource from an inspected container.
func (p *Provider) fromInspect(resp container.InspectResponse) *lifecycle.Resource {
	res := &lifecycle.Resource{}
	if resp.ContainerJSONBase != nil {
		res.ID = resp.ID
		if resp.State != nil {
			res.State = resourceState(container.ContainerState(resp.State.Status))
		}
	}
	if resp.NetworkSettings != nil && resp.Config != nil {
		nets := resp.NetworkSettings.Networks
		res.PrivateAddress = endpointAddr(nets, resp.Config.Labels[labelNetwork])
		res.PublicAddress = endpointAddr(nets, p.cfg.PublicNetwork)
	}
	return res
}

func (p *Provider) rememberImage(id, os string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.osByImage[id] = os
}

func (p *Provider) imageOS(id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.osByImage[id]
}
