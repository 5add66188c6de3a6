package lifecycle

import (
	"context"
	"net/netip"
	"time"
)

// ResourceState is the provider-level state of a compute resource.
type ResourceState string

const (
	ResourceStatePending      ResourceState = "pending"
	ResourceStateRunning      ResourceState = "running"
	ResourceStateStopping     ResourceState = "stopping"
	ResourceStateStopped      ResourceState = "stopped"
	ResourceStateShuttingDown ResourceState = "shutting-down"
	ResourceStateTerminated   ResourceState = "terminated"
)

// Resource is the live provider-side handle of an instance. It is owned by
// the controller call that loaded it.
type Resource struct {
	ID    string
	State ResourceState

	PrivateAddress netip.Addr
	PublicAddress  netip.Addr
}

// Address is a public network address allocated from the provider's pool.
type Address struct {
	// AllocationID is the provider handle used to release the address.
	AllocationID string
	// AssociationID is the provider handle of the association with a
	// resource. Empty when the address is not associated.
	AssociationID string
	// InstanceID is the resource the address is associated with, if any.
	InstanceID string

	PublicIP netip.Addr
}

// Image is a machine image a resource can be launched from.
type Image struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// ImageFilter selects candidate images. Providers map the operating system
// to their own naming policy.
type ImageFilter struct {
	OS string
}

// CreateSpec describes a resource to launch.
type CreateSpec struct {
	// Identity is the resource identity string, also written as the Name tag.
	Identity string
	ImageID  string
	// SubnetID is the provider-side subnet or network.
	SubnetID string
	// PrivateAddress is the static private address, the zero value lets the
	// provider choose.
	PrivateAddress netip.Addr
	// UserData is the guest init payload. Providers apply any encoding they
	// require.
	UserData string
	// Tags is the full tag set the controller writes after creation.
	// Providers that can only label at creation time apply it here.
	Tags Tags
}

// Compute is the compute provider consumed by the controller.
type Compute interface {
	// ListResources returns the non-terminated resources tagged with the
	// given identity.
	ListResources(ctx context.Context, identity string) ([]*Resource, error)
	CreateResource(ctx context.Context, spec CreateSpec) (*Resource, error)
	TagResource(ctx context.Context, res *Resource, tags Tags) error
	// ResumeResource starts a stopped or stopping resource.
	ResumeResource(ctx context.Context, res *Resource) error
	WaitUntilRunning(ctx context.Context, res *Resource) error
	WaitUntilTerminated(ctx context.Context, res *Resource) error
	TerminateResource(ctx context.Context, res *Resource) error
	// ReloadAttributes refreshes res in place.
	ReloadAttributes(ctx context.Context, res *Resource) error

	AllocatePublicAddress(ctx context.Context, tags Tags) (*Address, error)
	AssociatePublicAddress(ctx context.Context, res *Resource, addr *Address) error
	DisassociatePublicAddress(ctx context.Context, addr *Address) error
	ReleasePublicAddress(ctx context.Context, addr *Address) error
	ListAssociatedAddresses(ctx context.Context, res *Resource) ([]*Address, error)

	ListImages(ctx context.Context, filter ImageFilter) ([]Image, error)
}

// ObjectStore is the object storage provider backing the readiness channel.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	CreateBucket(ctx context.Context, bucket string) error
	ObjectExists(ctx context.Context, bucket, key string) (bool, error)
	// DeleteObject must succeed when the object does not exist.
	DeleteObject(ctx context.Context, bucket, key string) error
	PresignedPutURL(ctx context.Context, bucket, key string) (string, error)
}
