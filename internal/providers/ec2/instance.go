package ec2

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/netip"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/chainguard-dev/clog"
	"github.com/chainguard-dev/edurange/internal/lifecycle"
)

// liveStates are the instance states considered when discovering an
// instance by identity.
var liveStates = []string{
	string(types.InstanceStateNamePending),
	string(types.InstanceStateNameRunning),
	string(types.InstanceStateNameStopping),
	string(types.InstanceStateNameStopped),
}

var ErrInstanceList = fmt.Errorf("failed to list EC2 instances")

// ListResources returns the live instances whose Name tag is identity.
func (p *Provider) ListResources(ctx context.Context, identity string) ([]*lifecycle.Resource, error) {
	var out []*lifecycle.Resource
	paginator := ec2.NewDescribeInstancesPaginator(p.client, &ec2.DescribeInstancesInput{
		Filters: []types.Filter{
			filter("tag:Name", identity),
			filter("instance-state-name", liveStates...),
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInstanceList, err)
		}
		for _, r := range page.Reservations {
			for _, inst := range r.Instances {
				out = append(out, toResource(inst))
			}
		}
	}
	return out, nil
}

var (
	ErrInstanceCreate            = fmt.Errorf("failed to create EC2 instance")
	ErrInstanceCreateNoInstances = fmt.Errorf("encountered no error during " +
		"instance launch, but no instance was actually created")
	ErrInstanceCreateIDNil = fmt.Errorf("encountered no error during instance " +
		"launch, but the returned instance ID was nil")
)

// CreateResource launches a single instance. The tags are also applied at
// launch so the instance is discoverable before the tag step runs.
func (p *Provider) CreateResource(ctx context.Context, spec lifecycle.CreateSpec) (*lifecycle.Resource, error) {
	input := &ec2.RunInstancesInput{
		ImageId:           aws.String(spec.ImageID),
		InstanceType:      p.cfg.instanceType(),
		MinCount:          aws.Int32(1),
		MaxCount:          aws.Int32(1),
		SubnetId:          aws.String(spec.SubnetID),
		TagSpecifications: tagSpecification(types.ResourceTypeInstance, spec.Tags),
	}
	if spec.PrivateAddress.IsValid() {
		input.PrivateIpAddress = aws.String(spec.PrivateAddress.String())
	}
	if spec.UserData != "" {
		input.UserData = aws.String(base64.StdEncoding.EncodeToString([]byte(spec.UserData)))
	}

	result, err := p.client.RunInstances(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInstanceCreate, err)
	}
	if len(result.Instances) < 1 {
		return nil, ErrInstanceCreateNoInstances
	}
	inst := result.Instances[0]
	if inst.InstanceId == nil {
		return nil, ErrInstanceCreateIDNil
	}

	clog.FromContext(ctx).Info("launched instance", "id", *inst.InstanceId, "type", p.cfg.InstanceType)
	return toResource(inst), nil
}

var ErrInstanceTag = fmt.Errorf("failed to tag EC2 instance")

// TagResource writes tags to the instance, overwriting existing values.
func (p *Provider) TagResource(ctx context.Context, res *lifecycle.Resource, tags lifecycle.Tags) error {
	_, err := p.client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{res.ID},
		Tags:      ec2Tags(tags),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInstanceTag, err)
	}
	return nil
}

var ErrInstanceWait = fmt.Errorf("failed waiting for EC2 instance state")

// WaitUntilRunning blocks until the instance is running.
func (p *Provider) WaitUntilRunning(ctx context.Context, res *lifecycle.Resource) error {
	waiter := ec2.NewInstanceRunningWaiter(p.client)
	out, err := waiter.WaitForOutput(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{res.ID},
	}, p.cfg.WaitTimeout)
	if err != nil {
		return fmt.Errorf("%w: running: %w", ErrInstanceWait, err)
	}
	if inst, ok := firstInstance(out); ok {
		*res = *toResource(inst)
	}
	return nil
}

// WaitUntilTerminated blocks until the instance is terminated.
func (p *Provider) WaitUntilTerminated(ctx context.Context, res *lifecycle.Resource) error {
	waiter := ec2.NewInstanceTerminatedWaiter(p.client)
	if err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{res.ID},
	}, p.cfg.WaitTimeout); err != nil {
		return fmt.Errorf("%w: terminated: %w", ErrInstanceWait, err)
	}
	res.State = lifecycle.ResourceStateTerminated
	return nil
}

var ErrInstanceStart = fmt.Errorf("failed to start EC2 instance")

// ResumeResource starts a stopped instance. A stopping instance is started
// once it has stopped.
func (p *Provider) ResumeResource(ctx context.Context, res *lifecycle.Resource) error {
	if res.State == lifecycle.ResourceStateStopping {
		waiter := ec2.NewInstanceStoppedWaiter(p.client)
		if err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: []string{res.ID},
		}, p.cfg.WaitTimeout); err != nil {
			return fmt.Errorf("%w: stopped: %w", ErrInstanceWait, err)
		}
	}

	_, err := p.client.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{res.ID},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInstanceStart, err)
	}
	res.State = lifecycle.ResourceStatePending
	clog.FromContext(ctx).Info("started stopped instance", "id", res.ID)
	return nil
}

var ErrInstanceDelete = fmt.Errorf("failed to delete EC2 instance")

// TerminateResource requests termination of the instance.
func (p *Provider) TerminateResource(ctx context.Context, res *lifecycle.Resource) error {
	_, err := p.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{res.ID},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInstanceDelete, err)
	}
	return nil
}

var (
	ErrInstanceState            = fmt.Errorf("failed to fetch instance state")
	ErrInstanceStateNoInstances = fmt.Errorf("describe instances call produced " +
		"no errors, but returned no instances")
)

// ReloadAttributes refreshes the instance state and addresses.
func (p *Provider) ReloadAttributes(ctx context.Context, res *lifecycle.Resource) error {
	out, err := p.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{res.ID},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInstanceState, err)
	}
	inst, ok := firstInstance(out)
	if !ok {
		return ErrInstanceStateNoInstances
	}
	*res = *toResource(inst)
	return nil
}

func firstInstance(out *ec2.DescribeInstancesOutput) (types.Instance, bool) {
	if out == nil {
		return types.Instance{}, false
	}
	for _, r := range out.Reservations {
		if len(r.Instances) > 0 {
			return r.Instances[0], true
		}
	}
	return types.Instance{}, false
}

func toResource(inst types.Instance) *lifecycle.Resource {
	res := &lifecycle.Resource{
		ID:             aws.ToString(inst.InstanceId),
		PrivateAddress: parseAddr(inst.PrivateIpAddress),
		PublicAddress:  parseAddr(inst.PublicIpAddress),
	}
	if inst.State != nil {
		res.State = lifecycle.ResourceState(inst.State.Name)
	}
	return res
}

func parseAddr(s *string) netip.Addr {
	if s == nil {
		return netip.Addr{}
	}
	addr, err := netip.ParseAddr(*s)
	if err != nil {
		return netip.Addr{}
	}
	return addr
}
