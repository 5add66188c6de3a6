package docker

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/edurange/internal/lifecycle"
	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/network"
	"github.com/google/uuid"
)

var (
	ErrNetworkConnect    = errors.New("failed to attach container to public network")
	ErrNetworkDisconnect = errors.New("failed to detach container from public network")
)

// AllocatePublicAddress returns a handle for an attachment to the public
// network. The daemon assigns the address when the container is connected.
func (p *Provider) AllocatePublicAddress(_ context.Context, _ lifecycle.Tags) (*lifecycle.Address, error) {
	return &lifecycle.Address{AllocationID: uuid.New().String()}, nil
}

// AssociatePublicAddress connects the container to the public network.
func (p *Provider) AssociatePublicAddress(ctx context.Context, res *lifecycle.Resource, addr *lifecycle.Address) error {
	if err := p.cli.NetworkConnect(ctx, p.cfg.PublicNetwork, res.ID, &network.EndpointSettings{}); err != nil {
		return fmt.Errorf("%w: %w", ErrNetworkConnect, err)
	}

	resp, err := p.cli.ContainerInspect(ctx, res.ID)
	if err != nil {
		return fmt.Errorf("inspecting container %s: %w", res.ID, err)
	}
	addr.AssociationID = p.cfg.PublicNetwork
	addr.InstanceID = res.ID
	if resp.NetworkSettings != nil {
		addr.PublicIP = endpointAddr(resp.NetworkSettings.Networks, p.cfg.PublicNetwork)
	}
	return nil
}

// DisassociatePublicAddress disconnects the container from the public
// network.
func (p *Provider) DisassociatePublicAddress(ctx context.Context, addr *lifecycle.Address) error {
	if err := p.cli.NetworkDisconnect(ctx, addr.AssociationID, addr.InstanceID, true); err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %w", ErrNetworkDisconnect, err)
	}
	addr.AssociationID = ""
	addr.InstanceID = ""
	return nil
}

// ReleasePublicAddress does nothing, the daemon reclaims the address on
// disconnect.
func (p *Provider) ReleasePublicAddress(context.Context, *lifecycle.Address) error {
	return nil
}

// ListAssociatedAddresses returns the container's public network attachment,
// if any.
func (p *Provider) ListAssociatedAddresses(ctx context.Context, res *lifecycle.Resource) ([]*lifecycle.Address, error) {
	resp, err := p.cli.ContainerInspect(ctx, res.ID)
	if err != nil {
		return nil, fmt.Errorf("inspecting container %s: %w", res.ID, err)
	}
	if resp.NetworkSettings == nil {
		return nil, nil
	}
	ep, ok := resp.NetworkSettings.Networks[p.cfg.PublicNetwork]
	if !ok || ep == nil {
		return nil, nil
	}
	return []*lifecycle.Address{{
		AllocationID:  ep.EndpointID,
		AssociationID: p.cfg.PublicNetwork,
		InstanceID:    res.ID,
		PublicIP:      endpointAddr(resp.NetworkSettings.Networks, p.cfg.PublicNetwork),
	}}, nil
}
