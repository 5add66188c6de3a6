package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/chainguard-dev/edurange/internal/lifecycle"
	"github.com/chainguard-dev/edurange/internal/scenario"
	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// API operation names to verify the docker call sequence.
const (
	opContainerList     = "ContainerList"
	opContainerCreate   = "ContainerCreate"
	opContainerStart    = "ContainerStart"
	opContainerUnpause  = "ContainerUnpause"
	opContainerInspect  = "ContainerInspect"
	opContainerRemove   = "ContainerRemove"
	opImageList         = "ImageList"
	opImagePull         = "ImagePull"
	opNetworkConnect    = "NetworkConnect"
	opNetworkDisconnect = "NetworkDisconnect"
)

// mockDockerClient is a mock implementation of the docker client for testing.
type mockDockerClient struct {
	containerListFunc     func(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	containerCreateFunc   func(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	containerStartFunc    func(ctx context.Context, containerID string, options container.StartOptions) error
	containerInspectFunc  func(ctx context.Context, containerID string) (container.InspectResponse, error)
	containerRemoveFunc   func(ctx context.Context, containerID string, options container.RemoveOptions) error
	imageListFunc         func(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	networkConnectFunc    func(ctx context.Context, networkID, containerID string, config *network.EndpointSettings) error
	networkDisconnectFunc func(ctx context.Context, networkID, containerID string, force bool) error

	// Track operations for testing.
	operations []string
}

func (m *mockDockerClient) ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error) {
	m.operations = append(m.operations, opContainerList)
	if m.containerListFunc != nil {
		return m.containerListFunc(ctx, options)
	}
	return nil, nil
}

func (m *mockDockerClient) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	m.operations = append(m.operations, opContainerCreate)
	if m.containerCreateFunc != nil {
		return m.containerCreateFunc(ctx, config, hostConfig, networkingConfig, platform, containerName)
	}
	return container.CreateResponse{ID: "c1"}, nil
}

func (m *mockDockerClient) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	m.operations = append(m.operations, opContainerStart)
	if m.containerStartFunc != nil {
		return m.containerStartFunc(ctx, containerID, options)
	}
	return nil
}

func (m *mockDockerClient) ContainerUnpause(context.Context, string) error {
	m.operations = append(m.operations, opContainerUnpause)
	return nil
}

func (m *mockDockerClient) ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error) {
	m.operations = append(m.operations, opContainerInspect)
	if m.containerInspectFunc != nil {
		return m.containerInspectFunc(ctx, containerID)
	}
	return container.InspectResponse{}, fmt.Errorf("container %s: %w", containerID, cerrdefs.ErrNotFound)
}

func (m *mockDockerClient) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	m.operations = append(m.operations, opContainerRemove)
	if m.containerRemoveFunc != nil {
		return m.containerRemoveFunc(ctx, containerID, options)
	}
	return nil
}

func (m *mockDockerClient) ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
	m.operations = append(m.operations, opImageList)
	if m.imageListFunc != nil {
		return m.imageListFunc(ctx, options)
	}
	return nil, nil
}

func (m *mockDockerClient) ImagePull(context.Context, string, image.PullOptions) (io.ReadCloser, error) {
	m.operations = append(m.operations, opImagePull)
	return io.NopCloser(strings.NewReader(`{"status":"Downloaded"}`)), nil
}

func (m *mockDockerClient) NetworkConnect(ctx context.Context, networkID, containerID string, config *network.EndpointSettings) error {
	m.operations = append(m.operations, opNetworkConnect)
	if m.networkConnectFunc != nil {
		return m.networkConnectFunc(ctx, networkID, containerID, config)
	}
	return nil
}

func (m *mockDockerClient) NetworkDisconnect(ctx context.Context, networkID, containerID string, force bool) error {
	m.operations = append(m.operations, opNetworkDisconnect)
	if m.networkDisconnectFunc != nil {
		return m.networkDisconnectFunc(ctx, networkID, containerID, force)
	}
	return nil
}

func newTestProvider(t *testing.T, cli DockerAPI) *Provider {
	t.Helper()
	p, err := New(cli, Config{PollInterval: time.Millisecond, WaitTimeout: time.Second})
	require.NoError(t, err)
	return p
}

func inspectResponse(id string, status container.ContainerState, labels map[string]string, networks map[string]*network.EndpointSettings) container.InspectResponse {
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:    id,
			State: &container.State{Status: status, Running: status == container.StateRunning},
		},
		Config:          &container.Config{Labels: labels},
		NetworkSettings: &container.NetworkSettings{Networks: networks},
	}
}

func TestContainerName(t *testing.T) {
	assert.Regexp(t, `^edurange-strace-cloud1-subnet1-web1-[0-9a-f]{8}$`, ContainerName("edurange:strace/cloud1/subnet1/web1"))
	assert.NotEqual(t, ContainerName("edurange:strace/cloud1/subnet1/Web1"), ContainerName("edurange:strace/cloud1/subnet1/web1"))
}

func TestListResources(t *testing.T) {
	var opts container.ListOptions
	cli := &mockDockerClient{
		containerListFunc: func(_ context.Context, options container.ListOptions) ([]container.Summary, error) {
			opts = options
			return []container.Summary{
				{
					ID:     "c1",
					State:  "running",
					Labels: map[string]string{labelNetwork: "subnet1"},
					NetworkSettings: &container.NetworkSettingsSummary{Networks: map[string]*network.EndpointSettings{
						"subnet1": {IPAddress: "10.0.0.5"},
						"bridge":  {IPAddress: "172.17.0.2"},
					}},
				},
				{ID: "c2", State: "dead"},
				{ID: "c3", State: "removing"},
				{ID: "c4", State: "exited"},
			}, nil
		},
	}

	res, err := newTestProvider(t, cli).ListResources(t.Context(), "edurange:s/c/n/web1")
	require.NoError(t, err)
	require.Len(t, res, 2)

	assert.Equal(t, "c1", res[0].ID)
	assert.Equal(t, lifecycle.ResourceStateRunning, res[0].State)
	assert.Equal(t, netip.MustParseAddr("10.0.0.5"), res[0].PrivateAddress)
	assert.Equal(t, netip.MustParseAddr("172.17.0.2"), res[0].PublicAddress)
	assert.Equal(t, lifecycle.ResourceStateStopped, res[1].State)

	assert.True(t, opts.All)
	assert.ElementsMatch(t, []string{"Name=edurange:s/c/n/web1", labelManaged}, opts.Filters.Get("label"))
}

func TestCreateResource(t *testing.T) {
	var (
		cfg     *container.Config
		host    *container.HostConfig
		netCfg  *network.NetworkingConfig
		cname   string
		imageID = "sha256:abc"
	)
	cli := &mockDockerClient{
		imageListFunc: func(context.Context, image.ListOptions) ([]image.Summary, error) {
			return []image.Summary{{ID: imageID, Created: 100, RepoTags: []string{"ubuntu:16.04"}}}, nil
		},
		containerCreateFunc: func(_ context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, _ *ocispec.Platform, containerName string) (container.CreateResponse, error) {
			cfg, host, netCfg, cname = config, hostConfig, networkingConfig, containerName
			return container.CreateResponse{ID: "c1"}, nil
		},
	}
	p := newTestProvider(t, cli)

	// Listing images records the operating system used for bootstrapping.
	_, err := p.ListImages(t.Context(), lifecycle.ImageFilter{OS: scenario.OSUbuntu})
	require.NoError(t, err)

	id := lifecycle.Identity{Scenario: "strace", Cloud: "cloud1", Subnet: "subnet1", Instance: "web1"}
	res, err := p.CreateResource(t.Context(), lifecycle.CreateSpec{
		Identity:       id.String(),
		ImageID:        imageID,
		SubnetID:       "edurange-subnet1",
		PrivateAddress: netip.MustParseAddr("10.0.0.5"),
		UserData:       "echo hello",
		Tags:           id.Tags(time.Now()),
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", res.ID)
	assert.Equal(t, lifecycle.ResourceStatePending, res.State)

	assert.Equal(t, ContainerName(id.String()), cname)
	assert.Equal(t, imageID, cfg.Image)
	require.Len(t, cfg.Cmd, 3)
	assert.Equal(t, []string{"/bin/sh", "-c"}, []string(cfg.Cmd[:2]))
	assert.Contains(t, cfg.Cmd[2], "apt-get install -y -qq curl")
	assert.Contains(t, cfg.Cmd[2], "echo hello")
	assert.Equal(t, id.String(), cfg.Labels[lifecycle.TagKeyName])
	assert.Equal(t, "edurange-subnet1", cfg.Labels[labelNetwork])
	assert.Equal(t, scenario.OSUbuntu, cfg.Labels[labelOS])
	assert.Equal(t, container.NetworkMode("edurange-subnet1"), host.NetworkMode)
	assert.Equal(t, "10.0.0.5", netCfg.EndpointsConfig["edurange-subnet1"].IPAMConfig.IPv4Address)

	assert.Equal(t, []string{opImageList, opContainerCreate, opContainerStart}, cli.operations)
}

func TestResumeResource(t *testing.T) {
	tests := []struct {
		name    string
		paused  bool
		status  container.ContainerState
		wantOps []string
	}{
		{name: "exited", status: container.StateExited, wantOps: []string{opContainerInspect, opContainerStart}},
		{name: "paused", status: container.StatePaused, paused: true, wantOps: []string{opContainerInspect, opContainerUnpause}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli := &mockDockerClient{
				containerInspectFunc: func(_ context.Context, id string) (container.InspectResponse, error) {
					resp := inspectResponse(id, tt.status, nil, nil)
					resp.State.Paused = tt.paused
					return resp, nil
				},
			}

			res := &lifecycle.Resource{ID: "c1", State: lifecycle.ResourceStateStopped}
			require.NoError(t, newTestProvider(t, cli).ResumeResource(t.Context(), res))
			assert.Equal(t, lifecycle.ResourceStatePending, res.State)
			assert.Equal(t, tt.wantOps, cli.operations)
		})
	}
}

func TestResumeResourceError(t *testing.T) {
	cli := &mockDockerClient{
		containerInspectFunc: func(_ context.Context, id string) (container.InspectResponse, error) {
			return inspectResponse(id, container.StateExited, nil, nil), nil
		},
		containerStartFunc: func(context.Context, string, container.StartOptions) error {
			return errors.New("network edurange-subnet1 not found")
		},
	}

	err := newTestProvider(t, cli).ResumeResource(t.Context(), &lifecycle.Resource{ID: "c1"})
	assert.ErrorIs(t, err, ErrContainerStart)
}

func TestCreateResourceError(t *testing.T) {
	cli := &mockDockerClient{
		containerCreateFunc: func(context.Context, *container.Config, *container.HostConfig, *network.NetworkingConfig, *ocispec.Platform, string) (container.CreateResponse, error) {
			return container.CreateResponse{}, errors.New("Conflict. The container name is already in use")
		},
	}
	_, err := newTestProvider(t, cli).CreateResource(t.Context(), lifecycle.CreateSpec{ImageID: "ubuntu", SubnetID: "n"})
	assert.ErrorIs(t, err, ErrContainerCreate)
	assert.NotContains(t, cli.operations, opContainerStart)
}

func TestTagResource(t *testing.T) {
	tags := lifecycle.Tags{{Key: "Name", Value: "edurange:s/c/n/web1"}}

	tests := []struct {
		name    string
		labels  map[string]string
		wantErr error
	}{
		{name: "labels match", labels: map[string]string{"Name": "edurange:s/c/n/web1", labelManaged: "true"}},
		{name: "labels differ", labels: map[string]string{"Name": "other"}, wantErr: ErrTagsImmutable},
		{name: "labels missing", labels: nil, wantErr: ErrTagsImmutable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli := &mockDockerClient{
				containerInspectFunc: func(_ context.Context, id string) (container.InspectResponse, error) {
					return inspectResponse(id, container.StateRunning, tt.labels, nil), nil
				},
			}
			err := newTestProvider(t, cli).TagResource(t.Context(), &lifecycle.Resource{ID: "c1"}, tags)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestWaitUntilRunning(t *testing.T) {
	calls := 0
	cli := &mockDockerClient{
		containerInspectFunc: func(_ context.Context, id string) (container.InspectResponse, error) {
			calls++
			status := container.StateCreated
			if calls > 2 {
				status = container.StateRunning
			}
			return inspectResponse(id, status, map[string]string{labelNetwork: "subnet1"}, map[string]*network.EndpointSettings{
				"subnet1": {IPAddress: "10.0.0.5"},
			}), nil
		},
	}

	res := &lifecycle.Resource{ID: "c1"}
	require.NoError(t, newTestProvider(t, cli).WaitUntilRunning(t.Context(), res))
	assert.Equal(t, 3, calls)
	assert.Equal(t, lifecycle.ResourceStateRunning, res.State)
	assert.Equal(t, netip.MustParseAddr("10.0.0.5"), res.PrivateAddress)
}

func TestWaitUntilRunningExited(t *testing.T) {
	cli := &mockDockerClient{
		containerInspectFunc: func(_ context.Context, id string) (container.InspectResponse, error) {
			return inspectResponse(id, container.StateExited, nil, nil), nil
		},
	}
	err := newTestProvider(t, cli).WaitUntilRunning(t.Context(), &lifecycle.Resource{ID: "c1"})
	assert.ErrorIs(t, err, ErrContainerExited)
}

func TestTerminate(t *testing.T) {
	var removeOpts container.RemoveOptions
	cli := &mockDockerClient{
		containerRemoveFunc: func(_ context.Context, _ string, options container.RemoveOptions) error {
			removeOpts = options
			return nil
		},
	}
	p := newTestProvider(t, cli)
	res := &lifecycle.Resource{ID: "c1", State: lifecycle.ResourceStateRunning}

	require.NoError(t, p.TerminateResource(t.Context(), res))
	assert.True(t, removeOpts.Force)

	// The default inspect reports the container as gone.
	require.NoError(t, p.WaitUntilTerminated(t.Context(), res))
	assert.Equal(t, lifecycle.ResourceStateTerminated, res.State)
	assert.Equal(t, []string{opContainerRemove, opContainerInspect}, cli.operations)
}

func TestTerminateMissingContainer(t *testing.T) {
	cli := &mockDockerClient{
		containerRemoveFunc: func(context.Context, string, container.RemoveOptions) error {
			return fmt.Errorf("no such container: %w", cerrdefs.ErrNotFound)
		},
	}
	assert.NoError(t, newTestProvider(t, cli).TerminateResource(t.Context(), &lifecycle.Resource{ID: "c1"}))
}

func TestPublicAddress(t *testing.T) {
	connected := false
	cli := &mockDockerClient{
		networkConnectFunc: func(_ context.Context, networkID, containerID string, _ *network.EndpointSettings) error {
			assert.Equal(t, "bridge", networkID)
			assert.Equal(t, "c1", containerID)
			connected = true
			return nil
		},
		networkDisconnectFunc: func(_ context.Context, networkID, containerID string, _ bool) error {
			assert.Equal(t, "bridge", networkID)
			assert.Equal(t, "c1", containerID)
			connected = false
			return nil
		},
		containerInspectFunc: func(_ context.Context, id string) (container.InspectResponse, error) {
			nets := map[string]*network.EndpointSettings{"subnet1": {IPAddress: "10.0.0.5"}}
			if connected {
				nets["bridge"] = &network.EndpointSettings{EndpointID: "ep1", IPAddress: "172.17.0.2"}
			}
			return inspectResponse(id, container.StateRunning, map[string]string{labelNetwork: "subnet1"}, nets), nil
		},
	}
	p := newTestProvider(t, cli)
	res := &lifecycle.Resource{ID: "c1"}

	addrs, err := p.ListAssociatedAddresses(t.Context(), res)
	require.NoError(t, err)
	assert.Empty(t, addrs)

	addr, err := lifecycle.NewAddressManager(p).Assign(t.Context(), res, lifecycle.Identity{Instance: "web1"})
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("172.17.0.2"), addr.PublicIP)
	assert.NotEmpty(t, addr.AllocationID)

	require.NoError(t, p.ReloadAttributes(t.Context(), res))
	assert.Equal(t, netip.MustParseAddr("172.17.0.2"), res.PublicAddress)
	assert.Equal(t, netip.MustParseAddr("10.0.0.5"), res.PrivateAddress)

	addrs, err = p.ListAssociatedAddresses(t.Context(), res)
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, "ep1", addrs[0].AllocationID)

	require.NoError(t, lifecycle.NewAddressManager(p).Unassign(t.Context(), res))
	assert.False(t, connected)
}

func TestListImages(t *testing.T) {
	listed := 0
	cli := &mockDockerClient{
		imageListFunc: func(_ context.Context, options image.ListOptions) ([]image.Summary, error) {
			assert.Equal(t, []string{"ubuntu:16.04"}, options.Filters.Get("reference"))
			listed++
			if listed == 1 {
				return nil, nil
			}
			return []image.Summary{
				{ID: "sha256:old", Created: 100, RepoTags: []string{"ubuntu:16.04"}},
				{ID: "sha256:new", Created: 200},
			}, nil
		},
	}

	images, err := newTestProvider(t, cli).ListImages(t.Context(), lifecycle.ImageFilter{OS: scenario.OSUbuntu})
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "ubuntu:16.04", images[0].Name)
	assert.Equal(t, []string{opImageList, opImagePull, opImageList}, cli.operations)

	img, err := lifecycle.SelectImage(images, lifecycle.ImageFilter{OS: scenario.OSUbuntu})
	require.NoError(t, err)
	assert.Equal(t, "sha256:new", img.ID)
}

func TestListImagesUnsupportedOS(t *testing.T) {
	_, err := newTestProvider(t, &mockDockerClient{}).ListImages(t.Context(), lifecycle.ImageFilter{OS: "nat"})
	assert.ErrorIs(t, err, scenario.ErrUnsupportedOperatingSystem)
}

func TestConfigValidate(t *testing.T) {
	_, err := New(&mockDockerClient{}, Config{Images: map[string]string{"ubuntu": "UPPER CASE::bad"}})
	assert.Error(t, err)
}
