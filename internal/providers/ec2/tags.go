package ec2

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/chainguard-dev/edurange/internal/lifecycle"
)

// ec2Tags converts lifecycle tags to their EC2 form, preserving order.
func ec2Tags(tags lifecycle.Tags) []types.Tag {
	out := make([]types.Tag, 0, len(tags))
	for _, t := range tags {
		out = append(out, types.Tag{
			Key:   aws.String(t.Key),
			Value: aws.String(t.Value),
		})
	}
	return out
}

// tagSpecification attaches tags to a resource at creation time.
//
// A 'TagSpecification' is just AWS' term for metadata associated with a
// particular 'types.ResourceType', such as instances or elastic IPs.
func tagSpecification(rt types.ResourceType, tags lifecycle.Tags) []types.TagSpecification {
	if len(tags) == 0 {
		return nil
	}
	return []types.TagSpecification{{
		ResourceType: rt,
		Tags:         ec2Tags(tags),
	}}
}

func filter(name string, values ...string) types.Filter {
	return types.Filter{Name: aws.String(name), Values: values}
}
