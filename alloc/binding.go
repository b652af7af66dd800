package alloc

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	dhcpdata "isc.org/dhcp6d/datamodel"
	"isc.org/dhcp6d/dhcpcfg"
	"isc.org/dhcp6d/leasestore"
	dhcputil "isc.org/dhcp6d/util"
	"isc.org/dhcp6d/wire"
)

// Extends the leases a renewing or rebinding client presented in a
// single IA, refreshing the client last transaction time and the
// lifetimes. All presented resources must be bound to the client;
// otherwise the IA gets NoBinding and no lease is modified.
func (engine *Engine) Extend(ctx context.Context, subnet *dhcpcfg.Subnet, client *ClientContext, request *IARequest) (*Result, error) {
	noBinding := &Result{Status: wire.StatusNoBinding}
	if subnet == nil || len(request.Hints) == 0 {
		return noBinding, nil
	}
	leases := make([]*dhcpdata.Lease, 0, len(request.Hints))
	for _, hint := range request.Hints {
		lease, err := engine.getOwnedLease(ctx, client.DUID, request.Type, hint)
		if err != nil {
			return nil, err
		}
		if lease == nil || lease.SubnetID != subnet.ID {
			return noBinding, nil
		}
		leases = append(leases, lease)
	}
	now := engine.clock.Now().UTC()
	extended := make([]*dhcpdata.Lease, 0, len(leases))
	for _, lease := range leases {
		updated, err := engine.applyOwnedUpdate(ctx, lease, client.DUID, func(lease *dhcpdata.Lease) {
			refreshLease(lease, subnet, request, now)
		})
		if err != nil {
			return nil, err
		}
		if updated == nil {
			return noBinding, nil
		}
		extended = append(extended, updated)
	}
	return &Result{Status: wire.StatusSuccess, Leases: extended}, nil
}

// Releases the resources the client presented in a single IA. Owned
// leases transition to the released state and their resources join the
// recently released cache, so subsequent allocations prefer other
// candidates. The IA is acknowledged with Success when at least one
// lease was released and with NoBinding otherwise.
func (engine *Engine) Release(ctx context.Context, client *ClientContext, request *IARequest) (*Result, error) {
	now := engine.clock.Now().UTC()
	var released []*dhcpdata.Lease
	for _, hint := range request.Hints {
		lease, err := engine.getOwnedLease(ctx, client.DUID, request.Type, hint)
		if err != nil {
			return nil, err
		}
		if lease == nil {
			continue
		}
		updated, err := engine.applyOwnedUpdate(ctx, lease, client.DUID, func(lease *dhcpdata.Lease) {
			lease.State = dhcpdata.LeaseStateReleased
			lease.CLTT = now
			// The released lease expires immediately and lingers in the
			// store until the reclaimer flushes it.
			lease.PreferredLifetime = 0
			lease.ValidLifetime = 0
		})
		if err != nil {
			return nil, err
		}
		if updated != nil {
			released = append(released, updated)
			engine.avoided.Add(updated.Resource(), now)
		}
	}
	if len(released) == 0 {
		return &Result{Status: wire.StatusNoBinding}, nil
	}
	return &Result{Status: wire.StatusSuccess, Leases: released}, nil
}

// Processes a Decline of the addresses the client presented in a
// single IA. A declined address is unavailable for the probation
// period: the lease enters the declined state with the valid lifetime
// set to the probation, and the ordinary expiration flow returns the
// address to the pool. The IA is acknowledged with Success when at
// least one address was declined and with NoBinding otherwise.
func (engine *Engine) Decline(ctx context.Context, client *ClientContext, request *IARequest) (*Result, error) {
	now := engine.clock.Now().UTC()
	var declined []*dhcpdata.Lease
	for _, hint := range request.Hints {
		lease, err := engine.getOwnedLease(ctx, client.DUID, request.Type, hint)
		if err != nil {
			return nil, err
		}
		if lease == nil {
			continue
		}
		updated, err := engine.applyOwnedUpdate(ctx, lease, client.DUID, func(lease *dhcpdata.Lease) {
			lease.State = dhcpdata.LeaseStateDeclined
			lease.CLTT = now
			lease.PreferredLifetime = 0
			lease.ValidLifetime = uint32(engine.probation / time.Second)
			lease.Hostname = ""
			lease.FqdnFwd = false
			lease.FqdnRev = false
		})
		if err != nil {
			return nil, err
		}
		if updated != nil {
			declined = append(declined, updated)
			log.WithFields(log.Fields{
				"address": updated.Resource(),
				"duid":    client.DUID,
			}).Info("Address declined by the client, starting the probation period")
		}
	}
	if len(declined) == 0 {
		return &Result{Status: wire.StatusNoBinding}, nil
	}
	return &Result{Status: wire.StatusSuccess, Leases: declined}, nil
}

// Checks if one of the resources the client presented in the IA is
// actively bound to a different client. A Request claiming such a
// resource is answered with NoBinding for that IA instead of a fresh
// allocation.
func (engine *Engine) ClaimedByOther(ctx context.Context, client *ClientContext, request *IARequest) (bool, error) {
	now := engine.clock.Now().UTC()
	for _, hint := range request.Hints {
		if hint.Address == nil || hint.Address.IsUnspecified() {
			continue
		}
		resource := hint.Address.String()
		if request.Type.IsPrefix() {
			resource = dhcputil.FormatCIDRNotation(resource, int(hint.PrefixLength))
		}
		lease, err := engine.store.GetLease(ctx, resource)
		if err != nil {
			return false, err
		}
		if lease != nil && !lease.BelongsTo(client.DUID) && lease.BlocksResource(now) {
			return true, nil
		}
	}
	return false, nil
}

// Checks if the lease state still represents a binding the client can
// extend, release or decline. Released leases were already returned by
// the client and declined ones sit in the probation, so neither counts
// as a binding.
func isBoundState(state dhcpdata.LeaseState) bool {
	return state == dhcpdata.LeaseStateAssigned || state == dhcpdata.LeaseStateExpiredReclaimed
}

// Returns the lease holding the presented resource when it is bound to
// the client, or nil when there is no such binding.
func (engine *Engine) getOwnedLease(ctx context.Context, duid string, leaseType dhcpdata.LeaseType, hint Hint) (*dhcpdata.Lease, error) {
	if hint.Address == nil || hint.Address.IsUnspecified() {
		return nil, nil
	}
	resource := hint.Address.String()
	if leaseType.IsPrefix() {
		resource = dhcputil.FormatCIDRNotation(resource, int(hint.PrefixLength))
	}
	lease, err := engine.store.GetLease(ctx, resource)
	if err != nil {
		return nil, err
	}
	if lease == nil || !lease.BelongsTo(duid) || lease.Type != leaseType || !isBoundState(lease.State) {
		return nil, nil
	}
	return lease, nil
}

// Applies the modification to the lease with a conditional update. A
// concurrent modification is absorbed once: the lease is re-read and,
// when the client still owns it, the update is applied to the fresh
// copy. Returns nil when the binding was lost to the concurrent
// change.
func (engine *Engine) applyOwnedUpdate(ctx context.Context, lease *dhcpdata.Lease, duid string, modify func(*dhcpdata.Lease)) (*dhcpdata.Lease, error) {
	modify(lease)
	err := engine.store.UpdateLease(ctx, lease)
	if err == nil {
		return lease, nil
	}
	if !errors.Is(err, leasestore.ErrConflict) {
		return nil, err
	}
	fresh, err := engine.store.GetLease(ctx, lease.Resource())
	if err != nil {
		return nil, err
	}
	if fresh == nil || !fresh.BelongsTo(duid) || !isBoundState(fresh.State) {
		return nil, nil
	}
	modify(fresh)
	if err := engine.store.UpdateLease(ctx, fresh); err != nil {
		if errors.Is(err, leasestore.ErrConflict) {
			return nil, nil
		}
		return nil, err
	}
	return fresh, nil
}
