package main

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/chainguard-dev/clog"
	"github.com/chainguard-dev/edurange/internal/config"
	"github.com/chainguard-dev/edurange/internal/lifecycle"
	"github.com/chainguard-dev/edurange/internal/providers/docker"
	"github.com/chainguard-dev/edurange/internal/providers/ec2"
	"github.com/chainguard-dev/edurange/internal/providers/s3"
)

// backend is the provider stack instances are driven on.
type backend struct {
	compute lifecycle.Compute
	store   lifecycle.ObjectStore
	bucket  string
}

func newBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	b := &backend{
		store:  s3.NewFromConfig(awsCfg, cfg.S3()),
		bucket: cfg.Bucket,
	}
	if b.bucket == "" {
		b.bucket, err = s3.BucketName(ctx, iam.NewFromConfig(awsCfg))
		if err != nil {
			return nil, fmt.Errorf("naming readiness bucket: %w", err)
		}
	}

	switch cfg.Provider {
	case config.ProviderAWS:
		b.compute, err = ec2.NewFromConfig(awsCfg, cfg.EC2())
	case config.ProviderDocker:
		b.compute, err = newDockerCompute(cfg)
	default:
		err = fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	clog.FromContext(ctx).Debug("backend ready",
		"provider", cfg.Provider,
		"region", awsCfg.Region,
		"bucket", b.bucket)
	return b, nil
}

func newDockerCompute(cfg *config.Config) (lifecycle.Compute, error) {
	cli, err := docker.NewClient(cfg.DockerHost)
	if err != nil {
		return nil, err
	}
	return docker.New(cli, cfg.Docker())
}
