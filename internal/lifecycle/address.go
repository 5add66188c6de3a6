package lifecycle

import (
	"context"
	"time"

	"github.com/chainguard-dev/clog"
)

// AddressManager attaches and detaches public addresses. It holds no state
// of its own; the resource and identity are passed explicitly.
type AddressManager struct {
	compute Compute
	now     func() time.Time
}

// NewAddressManager returns an AddressManager backed by compute.
func NewAddressManager(compute Compute) AddressManager {
	return AddressManager{compute: compute, now: time.Now}
}

// Assign allocates a public address, tags it with the instance's descriptive
// metadata and associates it with res. Calling Assign twice without an
// intervening Unassign leaks an address.
func (m AddressManager) Assign(ctx context.Context, res *Resource, id Identity) (*Address, error) {
	log := clog.FromContext(ctx)

	addr, err := m.compute.AllocatePublicAddress(ctx, id.AddressTags(m.now()))
	if err != nil {
		return nil, err
	}
	log.Debug("allocated public address", "allocation_id", addr.AllocationID, "ip", addr.PublicIP)

	if err := m.compute.AssociatePublicAddress(ctx, res, addr); err != nil {
		return nil, err
	}
	log.Info("public address assigned", "id", res.ID, "ip", addr.PublicIP)
	return addr, nil
}

// Unassign disassociates and releases every public address associated with
// res. Previous runs may have leaked more than one, so all are handled. With
// no associated addresses it does nothing.
func (m AddressManager) Unassign(ctx context.Context, res *Resource) error {
	log := clog.FromContext(ctx)

	addrs, err := m.compute.ListAssociatedAddresses(ctx, res)
	if err != nil {
		return err
	}

	for _, addr := range addrs {
		log.Debug("disassociating public address", "ip", addr.PublicIP, "id", res.ID)
		if err := m.compute.DisassociatePublicAddress(ctx, addr); err != nil {
			return err
		}

		log.Debug("releasing public address", "ip", addr.PublicIP)
		if err := m.compute.ReleasePublicAddress(ctx, addr); err != nil {
			return err
		}
	}
	return nil
}
