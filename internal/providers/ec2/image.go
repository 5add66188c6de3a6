package ec2

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/chainguard-dev/clog"
	"github.com/chainguard-dev/edurange/internal/lifecycle"
	"github.com/chainguard-dev/edurange/internal/scenario"
)

var ErrImageList = fmt.Errorf("failed to list AMIs")

// ListImages returns the available AMIs matching the name pattern of the
// filter's operating system.
func (p *Provider) ListImages(ctx context.Context, f lifecycle.ImageFilter) ([]lifecycle.Image, error) {
	pattern, ok := p.cfg.ImagePatterns[f.OS]
	if !ok {
		return nil, fmt.Errorf("%w: %q", scenario.ErrUnsupportedOperatingSystem, f.OS)
	}

	result, err := p.client.DescribeImages(ctx, &ec2.DescribeImagesInput{
		Owners: p.cfg.ImageOwners,
		Filters: []types.Filter{
			filter("name", pattern),
			filter("state", string(types.ImageStateAvailable)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImageList, err)
	}

	log := clog.FromContext(ctx)
	out := make([]lifecycle.Image, 0, len(result.Images))
	for _, img := range result.Images {
		created, err := time.Parse(time.RFC3339, aws.ToString(img.CreationDate))
		if err != nil {
			log.Debug("skipping image with unparseable creation date", "image", aws.ToString(img.ImageId), "error", err)
			continue
		}
		out = append(out, lifecycle.Image{
			ID:        aws.ToString(img.ImageId),
			Name:      aws.ToString(img.Name),
			CreatedAt: created,
		})
	}
	return out, nil
}
