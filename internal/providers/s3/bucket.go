package s3

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
)

const bucketPrefix = "edurange-"

// IAMAPI is the subset of the IAM client used to name the bucket.
type IAMAPI interface {
	GetUser(ctx context.Context, params *iam.GetUserInput, optFns ...func(*iam.Options)) (*iam.GetUserOutput, error)
}

// ErrNoUserName is returned when the caller's IAM identity has no user name,
// as for assumed roles.
var ErrNoUserName = fmt.Errorf("IAM identity has no user name")

// BucketName returns the per-operator readiness bucket, derived from the
// caller's IAM user name.
func BucketName(ctx context.Context, client IAMAPI) (string, error) {
	out, err := client.GetUser(ctx, &iam.GetUserInput{})
	if err != nil {
		return "", fmt.Errorf("looking up IAM user: %w", err)
	}
	if out.User == nil || aws.ToString(out.User.UserName) == "" {
		return "", ErrNoUserName
	}
	// Bucket names are lowercase.
	return bucketPrefix + strings.ToLower(aws.ToString(out.User.UserName)), nil
}
