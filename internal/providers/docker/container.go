package docker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/chainguard-dev/edurange/internal/lifecycle"
	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"k8s.io/apimachinery/pkg/util/wait"
)

var (
	ErrContainerList    = errors.New("failed to list containers")
	ErrContainerCreate  = errors.New("failed to create container")
	ErrContainerStart   = errors.New("failed to start container")
	ErrContainerUnpause = errors.New("failed to unpause container")
	ErrContainerRemove  = errors.New("failed to remove container")
	ErrContainerWait    = errors.New("failed waiting for container state")
	ErrContainerExited  = errors.New("container exited before running")

	// ErrTagsImmutable is returned when a container's labels differ from the
	// requested tags. Docker labels can only be set at creation.
	ErrTagsImmutable = errors.New("container labels cannot be changed after creation")
)

// ContainerName is the docker name of the container for identity.
func ContainerName(identity string) string {
	return lifecycle.Slug(identity)
}

// ListResources returns the containers labeled with identity, except those
// being removed or dead.
func (p *Provider) ListResources(ctx context.Context, identity string) ([]*lifecycle.Resource, error) {
	containers, err := p.cli.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", lifecycle.TagKeyName+"="+identity),
			filters.Arg("label", labelManaged),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContainerList, err)
	}

	var out []*lifecycle.Resource
	for _, c := range containers {
		state := container.ContainerState(c.State)
		if state == container.StateRemoving || state == container.StateDead {
			continue
		}
		res := &lifecycle.Resource{ID: c.ID, State: resourceState(state)}
		if c.NetworkSettings != nil {
			res.PrivateAddress = endpointAddr(c.NetworkSettings.Networks, c.Labels[labelNetwork])
			res.PublicAddress = endpointAddr(c.NetworkSettings.Networks, p.cfg.PublicNetwork)
		}
		out = append(out, res)
	}
	return out, nil
}

// command wraps the guest init data so it runs once and the container stays
// up afterwards.
func command(os, userData string) []string {
	var script strings.Builder
	if b, ok := bootstraps[os]; ok {
		script.WriteString(b + "\n")
	}
	script.WriteString(userData)
	script.WriteString("\nexec sleep infinity\n")
	return []string{"/bin/sh", "-c", script.String()}
}

// CreateResource creates and starts a container attached to the subnet
// network. The tags become container labels.
func (p *Provider) CreateResource(ctx context.Context, spec lifecycle.CreateSpec) (*lifecycle.Resource, error) {
	os := p.imageOS(spec.ImageID)
	labels := p.withDefaultLabels(spec.Tags.Map(), spec.SubnetID, os)
	name := ContainerName(spec.Identity)

	endpoint := &network.EndpointSettings{}
	if spec.PrivateAddress.IsValid() {
		endpoint.IPAMConfig = &network.EndpointIPAMConfig{
			IPv4Address: spec.PrivateAddress.String(),
		}
	}

	resp, err := p.cli.ContainerCreate(ctx,
		&container.Config{
			Image:    spec.ImageID,
			Hostname: name,
			Cmd:      command(os, spec.UserData),
			Labels:   labels,
		},
		&container.HostConfig{
			NetworkMode: container.NetworkMode(spec.SubnetID),
			Init:        boolPtr(true),
		},
		&network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.SubnetID: endpoint,
			},
		},
		nil,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContainerCreate, err)
	}
	for _, w := range resp.Warnings {
		clog.FromContext(ctx).Warn("container create warning", "id", resp.ID, "warning", w)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContainerStart, err)
	}

	clog.FromContext(ctx).Info("started container", "id", resp.ID, "name", name)
	return &lifecycle.Resource{
		ID:             resp.ID,
		State:          lifecycle.ResourceStatePending,
		PrivateAddress: spec.PrivateAddress,
	}, nil
}

func boolPtr(b bool) *bool {
	return &b
}

// TagResource verifies the container carries tags as labels.
func (p *Provider) TagResource(ctx context.Context, res *lifecycle.Resource, tags lifecycle.Tags) error {
	resp, err := p.cli.ContainerInspect(ctx, res.ID)
	if err != nil {
		return fmt.Errorf("inspecting container %s: %w", res.ID, err)
	}
	var labels map[string]string
	if resp.Config != nil {
		labels = resp.Config.Labels
	}
	for _, t := range tags {
		if labels[t.Key] != t.Value {
			return fmt.Errorf("%w: %s=%q, want %q", ErrTagsImmutable, t.Key, labels[t.Key], t.Value)
		}
	}
	return nil
}

// WaitUntilRunning polls the container until it is running.
func (p *Provider) WaitUntilRunning(ctx context.Context, res *lifecycle.Resource) error {
	log := clog.FromContext(ctx)
	if err := wait.PollUntilContextTimeout(ctx, p.cfg.PollInterval, p.cfg.WaitTimeout, true, func(ctx context.Context) (bool, error) {
		resp, err := p.cli.ContainerInspect(ctx, res.ID)
		if err != nil {
			return false, err
		}
		if resp.State == nil {
			return false, nil
		}
		switch container.ContainerState(resp.State.Status) {
		case container.StateRunning:
			*res = *p.fromInspect(resp)
			return true, nil
		case container.StateExited, container.StateDead:
			return false, fmt.Errorf("%w: exit code %d", ErrContainerExited, resp.State.ExitCode)
		}
		log.Debug("container not running yet", "id", res.ID, "status", resp.State.Status)
		return false, nil
	}); err != nil {
		return fmt.Errorf("%w: running: %w", ErrContainerWait, err)
	}
	return nil
}

// ResumeResource unpauses a paused container and starts an exited one. The
// container reruns its init data when started.
func (p *Provider) ResumeResource(ctx context.Context, res *lifecycle.Resource) error {
	resp, err := p.cli.ContainerInspect(ctx, res.ID)
	if err != nil {
		return fmt.Errorf("inspecting container %s: %w", res.ID, err)
	}

	if resp.State != nil && resp.State.Paused {
		if err := p.cli.ContainerUnpause(ctx, res.ID); err != nil {
			return fmt.Errorf("%w: %w", ErrContainerUnpause, err)
		}
	} else if err := p.cli.ContainerStart(ctx, res.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("%w: %w", ErrContainerStart, err)
	}

	clog.FromContext(ctx).Info("resumed container", "id", res.ID)
	res.State = lifecycle.ResourceStatePending
	return nil
}

// TerminateResource forcibly removes the container.
func (p *Provider) TerminateResource(ctx context.Context, res *lifecycle.Resource) error {
	if err := p.cli.ContainerRemove(ctx, res.ID, container.RemoveOptions{
		RemoveVolumes: true,
		Force:         true,
	}); err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %w", ErrContainerRemove, err)
	}
	res.State = lifecycle.ResourceStateShuttingDown
	return nil
}

// WaitUntilTerminated polls until the container no longer exists.
func (p *Provider) WaitUntilTerminated(ctx context.Context, res *lifecycle.Resource) error {
	if err := wait.PollUntilContextTimeout(ctx, p.cfg.PollInterval, p.cfg.WaitTimeout, true, func(ctx context.Context) (bool, error) {
		_, err := p.cli.ContainerInspect(ctx, res.ID)
		if cerrdefs.IsNotFound(err) {
			return true, nil
		}
		return false, err
	}); err != nil {
		return fmt.Errorf("%w: terminated: %w", ErrContainerWait, err)
	}
	res.State = lifecycle.ResourceStateTerminated
	return nil
}

// ReloadAttributes refreshes the container state and addresses.
func (p *Provider) ReloadAttributes(ctx context.Context, res *lifecycle.Resource) error {
	resp, err := p.cli.ContainerInspect(ctx, res.ID)
	if err != nil {
		return fmt.Errorf("inspecting container %s: %w", res.ID, err)
	}
	*res = *p.fromInspect(resp)
	return nil
}
