package ec2

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/chainguard-dev/edurange/internal/lifecycle"
)

var (
	ErrElasticIPCreate = fmt.Errorf("failed to create public IP address")
	ErrElasticIPIDNil  = fmt.Errorf("encountered no error in elastic IP " +
		"address creation, but the returned allocation ID was nil")
	ErrElasticIPNil = fmt.Errorf("encountered no error in elastic IP " +
		"address creation, but the returned public IP was nil")
)

// AllocatePublicAddress allocates an Elastic IP in the vpc domain.
//
// The allocation ID is the "handle" to the elastic IP for use in association
// and release.
func (p *Provider) AllocatePublicAddress(ctx context.Context, tags lifecycle.Tags) (*lifecycle.Address, error) {
	result, err := p.client.AllocateAddress(ctx, &ec2.AllocateAddressInput{
		Domain:            types.DomainTypeVpc,
		TagSpecifications: tagSpecification(types.ResourceTypeElasticIp, tags),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrElasticIPCreate, err)
	}
	if result.AllocationId == nil {
		return nil, ErrElasticIPIDNil
	}
	if result.PublicIp == nil {
		return nil, ErrElasticIPNil
	}
	return &lifecycle.Address{
		AllocationID: *result.AllocationId,
		PublicIP:     parseAddr(result.PublicIp),
	}, nil
}

var (
	ErrElasticIPAttach = fmt.Errorf("failed to attach the provided " +
		"elastic IP address to the specified instance")
	ErrElasticIPAttachIDNil = fmt.Errorf("encountered no error in elastic IP " +
		"address association to instance, but the returned association ID " +
		"was nil")
)

// AssociatePublicAddress associates addr with the instance.
func (p *Provider) AssociatePublicAddress(ctx context.Context, res *lifecycle.Resource, addr *lifecycle.Address) error {
	result, err := p.client.AssociateAddress(ctx, &ec2.AssociateAddressInput{
		AllocationId: aws.String(addr.AllocationID),
		InstanceId:   aws.String(res.ID),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrElasticIPAttach, err)
	}
	if result.AssociationId == nil {
		return ErrElasticIPAttachIDNil
	}
	addr.AssociationID = *result.AssociationId
	addr.InstanceID = res.ID
	return nil
}

var ErrElasticIPDetach = fmt.Errorf("failed to detach elastic IP address" +
	" from the provided instance")

// DisassociatePublicAddress removes the association of addr.
func (p *Provider) DisassociatePublicAddress(ctx context.Context, addr *lifecycle.Address) error {
	_, err := p.client.DisassociateAddress(ctx, &ec2.DisassociateAddressInput{
		AssociationId: aws.String(addr.AssociationID),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrElasticIPDetach, err)
	}
	addr.AssociationID = ""
	addr.InstanceID = ""
	return nil
}

var ErrElasticIPDelete = fmt.Errorf("failed to delete elastic IP address")

// ReleasePublicAddress returns addr to the pool.
func (p *Provider) ReleasePublicAddress(ctx context.Context, addr *lifecycle.Address) error {
	_, err := p.client.ReleaseAddress(ctx, &ec2.ReleaseAddressInput{
		AllocationId: aws.String(addr.AllocationID),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrElasticIPDelete, err)
	}
	return nil
}

var ErrElasticIPList = fmt.Errorf("failed to list elastic IP addresses")

// ListAssociatedAddresses returns every Elastic IP associated with the
// instance.
func (p *Provider) ListAssociatedAddresses(ctx context.Context, res *lifecycle.Resource) ([]*lifecycle.Address, error) {
	result, err := p.client.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{
		Filters: []types.Filter{filter("instance-id", res.ID)},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrElasticIPList, err)
	}

	out := make([]*lifecycle.Address, 0, len(result.Addresses))
	for _, a := range result.Addresses {
		out = append(out, &lifecycle.Address{
			AllocationID:  aws.ToString(a.AllocationId),
			AssociationID: aws.ToString(a.AssociationId),
			InstanceID:    aws.ToString(a.InstanceId),
			PublicIP:      parseAddr(a.PublicIp),
		})
	}
	return out, nil
}
