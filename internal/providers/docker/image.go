package docker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/chainguard-dev/edurange/internal/lifecycle"
	"github.com/chainguard-dev/edurange/internal/scenario"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
)

// ListImages returns the local images matching the operating system's image
// reference, pulling it first when none is present.
func (p *Provider) ListImages(ctx context.Context, f lifecycle.ImageFilter) ([]lifecycle.Image, error) {
	ref, ok := p.cfg.Images[f.OS]
	if !ok {
		return nil, fmt.Errorf("%w: %q", scenario.ErrUnsupportedOperatingSystem, f.OS)
	}

	images, err := p.listImages(ctx, ref, f.OS)
	if err != nil {
		return nil, err
	}
	if len(images) > 0 {
		return images, nil
	}

	clog.FromContext(ctx).Info("pulling image", "ref", ref)
	if err := p.pull(ctx, ref); err != nil {
		return nil, fmt.Errorf("pulling image %s: %w", ref, err)
	}
	return p.listImages(ctx, ref, f.OS)
}

func (p *Provider) listImages(ctx context.Context, ref, os string) ([]lifecycle.Image, error) {
	summaries, err := p.cli.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}

	out := make([]lifecycle.Image, 0, len(summaries))
	for _, s := range summaries {
		img := lifecycle.Image{
			ID:        s.ID,
			CreatedAt: time.Unix(s.Created, 0),
		}
		if len(s.RepoTags) > 0 {
			img.Name = s.RepoTags[0]
		}
		p.rememberImage(s.ID, os)
		out = append(out, img)
	}
	return out, nil
}

// pull fetches ref with credentials from the default keychain.
func (p *Provider) pull(ctx context.Context, refStr string) error {
	ref, err := name.ParseReference(refStr)
	if err != nil {
		return fmt.Errorf("parsing reference: %w", err)
	}

	// create our own auth token, the client does not consult the keychain
	a, err := authn.DefaultKeychain.Resolve(ref.Context().Registry)
	if err != nil {
		return fmt.Errorf("resolving keychain for registry %s: %w", ref.Context().Registry, err)
	}

	acfg, err := a.Authorization()
	if err != nil {
		return fmt.Errorf("getting authorization for registry %s: %w", ref.Context().Registry, err)
	}

	authdata, err := json.Marshal(registry.AuthConfig{
		Username: acfg.Username,
		Password: acfg.Password,
		Auth:     acfg.Auth,
	})
	if err != nil {
		return fmt.Errorf("marshaling auth data: %w", err)
	}

	pull, err := p.cli.ImagePull(ctx, ref.Name(), image.PullOptions{
		RegistryAuth: base64.URLEncoding.EncodeToString(authdata),
	})
	if err != nil {
		return err
	}
	defer pull.Close()

	// Block until the image is pulled by discarding the reader
	if _, err := io.Copy(io.Discard, pull); err != nil {
		return fmt.Errorf("pulling image: %w", err)
	}
	return nil
}
