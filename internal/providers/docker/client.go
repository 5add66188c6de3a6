// docker implements lifecycle.Compute on a Docker daemon, local or reached
// over SSH. Containers stand in for instances and user-defined networks for
// subnets.
package docker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/docker/cli/cli/connhelper"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

var defaultSSHArgs = []string{"-o", "StrictHostKeyChecking=no"}

// DockerAPI is the subset of the docker client used by the provider.
type DockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerUnpause(ctx context.Context, containerID string) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	NetworkConnect(ctx context.Context, networkID, containerID string, config *network.EndpointSettings) error
	NetworkDisconnect(ctx context.Context, networkID, containerID string, force bool) error
}

var _ DockerAPI = (*client.Client)(nil)

// NewClient returns a docker client for host. An empty host uses the
// DOCKER_HOST environment; ssh:// hosts are reached through the ssh
// connection helper.
func NewClient(host string, extra ...client.Opt) (*client.Client, error) {
	copts := []client.Opt{
		client.WithAPIVersionNegotiation(),
		client.WithVersionFromEnv(),
		client.WithTLSClientConfigFromEnv(),
	}

	switch {
	case strings.HasPrefix(host, "ssh://"):
		helper, err := connhelper.GetConnectionHelperWithSSHOpts(host, defaultSSHArgs)
		if err != nil {
			return nil, fmt.Errorf("creating docker SSH connection helper: %w", err)
		}
		httpClient := &http.Client{
			Transport: &http.Transport{
				DialContext: helper.Dialer,
			},
		}
		copts = append(copts,
			client.WithHTTPClient(httpClient),
			client.WithHost(helper.Host),
			client.WithDialContext(helper.Dialer),
		)
	case host != "":
		copts = append(copts, client.WithHost(host))
	default:
		copts = append(copts, client.WithHostFromEnv())
	}
	copts = append(copts, extra...)

	cli, err := client.NewClientWithOpts(copts...)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return cli, nil
}
