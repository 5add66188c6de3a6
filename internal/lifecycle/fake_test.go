package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"testing"

	"github.com/chainguard-dev/edurange/internal/scenario"
	"github.com/stretchr/testify/require"
)

// Compute operation names recorded by fakeCompute.
const (
	opListResources             = "ListResources"
	opCreateResource            = "CreateResource"
	opTagResource               = "TagResource"
	opResumeResource            = "ResumeResource"
	opWaitUntilRunning          = "WaitUntilRunning"
	opWaitUntilTerminated       = "WaitUntilTerminated"
	opTerminateResource         = "TerminateResource"
	opReloadAttributes          = "ReloadAttributes"
	opAllocatePublicAddress     = "AllocatePublicAddress"
	opAssociatePublicAddress    = "AssociatePublicAddress"
	opDisassociatePublicAddress = "DisassociatePublicAddress"
	opReleasePublicAddress      = "ReleasePublicAddress"
	opListAssociatedAddresses   = "ListAssociatedAddresses"
	opListImages                = "ListImages"
)

type fakeResource struct {
	res  Resource
	tags map[string]string
}

// fakeCompute is an in-memory Compute that records every call.
type fakeCompute struct {
	mu sync.Mutex

	resources []*fakeResource
	addresses []*Address
	images    []Image

	specs  []CreateSpec
	tagged []Tags

	// errs makes the named operation fail.
	errs map[string]error
	// onCreate runs before CreateResource, outside the lock.
	onCreate func(ctx context.Context)

	operations []string
}

func newFakeCompute() *fakeCompute {
	return &fakeCompute{
		images: []Image{{ID: "ami-1", Name: "ubuntu"}},
	}
}

func (f *fakeCompute) record(op string) error {
	f.operations = append(f.operations, op)
	return f.errs[op]
}

func (f *fakeCompute) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, o := range f.operations {
		if o == op {
			n++
		}
	}
	return n
}

func (f *fakeCompute) find(id string) *fakeResource {
	for _, r := range f.resources {
		if r.res.ID == id {
			return r
		}
	}
	return nil
}

// seed adds a running resource tagged with identity.
func (f *fakeCompute) seed(identity string) *Resource {
	return f.seedState(identity, ResourceStateRunning)
}

// seedState adds a resource in state tagged with identity.
func (f *fakeCompute) seedState(identity string, state ResourceState) *Resource {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &fakeResource{
		res:  Resource{ID: fmt.Sprintf("i-%d", len(f.resources)+1), State: state},
		tags: map[string]string{TagKeyName: identity},
	}
	f.resources = append(f.resources, r)
	res := r.res
	return &res
}

// leak associates n addresses with the resource.
func (f *fakeCompute) leak(res *Resource, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for range n {
		i := len(f.addresses) + 1
		f.addresses = append(f.addresses, &Address{
			AllocationID:  fmt.Sprintf("eipalloc-%d", i),
			AssociationID: fmt.Sprintf("eipassoc-%d", i),
			InstanceID:    res.ID,
			PublicIP:      netip.AddrFrom4([4]byte{203, 0, 113, byte(i)}),
		})
	}
}

func (f *fakeCompute) ListResources(_ context.Context, identity string) ([]*Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(opListResources); err != nil {
		return nil, err
	}
	var out []*Resource
	for _, r := range f.resources {
		if r.res.State == ResourceStateTerminated || r.tags[TagKeyName] != identity {
			continue
		}
		res := r.res
		out = append(out, &res)
	}
	return out, nil
}

func (f *fakeCompute) CreateResource(ctx context.Context, spec CreateSpec) (*Resource, error) {
	if f.onCreate != nil {
		f.onCreate(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(opCreateResource); err != nil {
		return nil, err
	}
	f.specs = append(f.specs, spec)
	r := &fakeResource{
		res: Resource{
			ID:             fmt.Sprintf("i-%d", len(f.resources)+1),
			State:          ResourceStatePending,
			PrivateAddress: spec.PrivateAddress,
		},
		tags: map[string]string{},
	}
	f.resources = append(f.resources, r)
	res := r.res
	return &res, nil
}

func (f *fakeCompute) TagResource(_ context.Context, res *Resource, tags Tags) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(opTagResource); err != nil {
		return err
	}
	f.tagged = append(f.tagged, tags)
	r := f.find(res.ID)
	for k, v := range tags.Map() {
		r.tags[k] = v
	}
	return nil
}

func (f *fakeCompute) setState(op string, res *Resource, state ResourceState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(op); err != nil {
		return err
	}
	f.find(res.ID).res.State = state
	res.State = state
	return nil
}

func (f *fakeCompute) ResumeResource(_ context.Context, res *Resource) error {
	return f.setState(opResumeResource, res, ResourceStatePending)
}

// WaitUntilRunning fails for stopped resources, as a provider waiter would
// time out on them.
func (f *fakeCompute) WaitUntilRunning(_ context.Context, res *Resource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(opWaitUntilRunning); err != nil {
		return err
	}
	r := f.find(res.ID)
	if r.res.State == ResourceStateStopped || r.res.State == ResourceStateStopping {
		return errors.New("waiter timed out: instance is stopped")
	}
	r.res.State = ResourceStateRunning
	res.State = ResourceStateRunning
	return nil
}

func (f *fakeCompute) TerminateResource(_ context.Context, res *Resource) error {
	return f.setState(opTerminateResource, res, ResourceStateShuttingDown)
}

func (f *fakeCompute) WaitUntilTerminated(_ context.Context, res *Resource) error {
	return f.setState(opWaitUntilTerminated, res, ResourceStateTerminated)
}

func (f *fakeCompute) ReloadAttributes(_ context.Context, res *Resource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(opReloadAttributes); err != nil {
		return err
	}
	res.PublicAddress = netip.Addr{}
	for _, a := range f.addresses {
		if a.InstanceID == res.ID {
			res.PublicAddress = a.PublicIP
		}
	}
	return nil
}

func (f *fakeCompute) AllocatePublicAddress(_ context.Context, _ Tags) (*Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(opAllocatePublicAddress); err != nil {
		return nil, err
	}
	i := len(f.addresses) + 1
	a := &Address{
		AllocationID: fmt.Sprintf("eipalloc-%d", i),
		PublicIP:     netip.AddrFrom4([4]byte{203, 0, 113, byte(i)}),
	}
	f.addresses = append(f.addresses, a)
	out := *a
	return &out, nil
}

func (f *fakeCompute) findAddress(allocationID string) *Address {
	for _, a := range f.addresses {
		if a.AllocationID == allocationID {
			return a
		}
	}
	return nil
}

func (f *fakeCompute) AssociatePublicAddress(_ context.Context, res *Resource, addr *Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(opAssociatePublicAddress); err != nil {
		return err
	}
	a := f.findAddress(addr.AllocationID)
	a.InstanceID = res.ID
	a.AssociationID = "eipassoc-" + addr.AllocationID
	addr.InstanceID, addr.AssociationID = a.InstanceID, a.AssociationID
	return nil
}

func (f *fakeCompute) DisassociatePublicAddress(_ context.Context, addr *Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(opDisassociatePublicAddress); err != nil {
		return err
	}
	a := f.findAddress(addr.AllocationID)
	a.InstanceID, a.AssociationID = "", ""
	return nil
}

func (f *fakeCompute) ReleasePublicAddress(_ context.Context, addr *Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(opReleasePublicAddress); err != nil {
		return err
	}
	for i, a := range f.addresses {
		if a.AllocationID == addr.AllocationID {
			f.addresses = append(f.addresses[:i], f.addresses[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeCompute) ListAssociatedAddresses(_ context.Context, res *Resource) ([]*Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(opListAssociatedAddresses); err != nil {
		return nil, err
	}
	var out []*Address
	for _, a := range f.addresses {
		if a.InstanceID == res.ID {
			addr := *a
			out = append(out, &addr)
		}
	}
	return out, nil
}

func (f *fakeCompute) ListImages(_ context.Context, _ ImageFilter) ([]Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(opListImages); err != nil {
		return nil, err
	}
	return f.images, nil
}

// fakeStore is an in-memory ObjectStore. Objects in readyAfter appear once
// they have been checked that many times, as if the guest wrote them.
type fakeStore struct {
	mu sync.Mutex

	buckets map[string]bool
	objects map[string]bool

	readyAfter  int
	existsCalls int
	existsErr   error
	deleted     []string
	created     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{buckets: map[string]bool{}, objects: map[string]bool{}}
}

func (s *fakeStore) BucketExists(_ context.Context, bucket string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buckets[bucket], nil
}

func (s *fakeStore) CreateBucket(_ context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, bucket)
	s.buckets[bucket] = true
	return nil
}

func (s *fakeStore) ObjectExists(_ context.Context, bucket, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.existsCalls++
	if s.existsErr != nil {
		return false, s.existsErr
	}
	if s.readyAfter > 0 && s.existsCalls >= s.readyAfter {
		s.objects[bucket+"/"+key] = true
	}
	return s.objects[bucket+"/"+key], nil
}

func (s *fakeStore) DeleteObject(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, key)
	delete(s.objects, bucket+"/"+key)
	return nil
}

func (s *fakeStore) PresignedPutURL(_ context.Context, bucket, key string) (string, error) {
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s?X-Amz-Signature=abc&X-Amz-Expires=3600", bucket, key), nil
}

const testBucket = "edurange-alice"

// testInstance returns instance web1 of scenario strace/cloud1/subnet1.
func testInstance(t *testing.T, internet bool) *scenario.InstanceConfig {
	t.Helper()

	role, err := scenario.NewRole("web", []scenario.Package{{Name: "nginx"}}, nil, []*scenario.Script{
		{Name: "setup", Contents: "#!/bin/sh\necho setup"},
	})
	require.NoError(t, err)

	s := &scenario.Scenario{Name: "strace", Roles: []*scenario.Role{role}}
	cloud := &scenario.Cloud{Name: "cloud1", CIDRBlock: netip.MustParsePrefix("10.0.0.0/16"), Scenario: s}
	subnet := &scenario.Subnet{Name: "subnet1", CIDRBlock: netip.MustParsePrefix("10.0.0.0/24"), InternetAccessible: internet, Cloud: cloud}
	inst := &scenario.InstanceConfig{
		Name:               "web1",
		OS:                 scenario.OSUbuntu,
		IPAddress:          netip.MustParseAddr("10.0.0.5"),
		InternetAccessible: internet,
		Roles:              []*scenario.Role{role},
		Subnet:             subnet,
	}
	subnet.Instances = []*scenario.InstanceConfig{inst}
	cloud.Subnets = []*scenario.Subnet{subnet}
	s.Clouds = []*scenario.Cloud{cloud}
	return inst
}
