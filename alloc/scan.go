package alloc

import (
	"context"
	"fmt"
	"net"

	cidr "github.com/apparentlymart/go-cidr/cidr"
	pkgerrors "github.com/pkg/errors"

	dhcpdata "isc.org/dhcp6d/datamodel"
	"isc.org/dhcp6d/dhcpcfg"
	dhcputil "isc.org/dhcp6d/util"
	"isc.org/dhcp6d/wire"
)

// Allocates an address for an IA_NA. The addresses the client hinted
// at are tried first, then the pools open to the client are scanned in
// the configuration order.
func (engine *Engine) allocateAddress(ctx context.Context, a *allocation) (*Result, error) {
	for _, hint := range a.request.Hints {
		if hint.Address == nil || hint.Address.IsUnspecified() {
			continue
		}
		if !addressPermitted(a.subnet, a.client.Classes, hint.Address) {
			continue
		}
		lease, err := engine.claimCandidate(ctx, a, hint.Address.String(), 0)
		if err != nil {
			return nil, err
		}
		if lease != nil {
			return successResult(lease), nil
		}
	}
	for i := range a.subnet.Pools {
		pool := &a.subnet.Pools[i]
		if !pool.Permits(a.client.Classes) {
			continue
		}
		lease, err := engine.scanAddressPool(ctx, a, i, pool)
		if err != nil {
			return nil, err
		}
		if lease != nil {
			return successResult(lease), nil
		}
	}
	return &Result{Status: wire.StatusNoAddrsAvail}, nil
}

// Allocates a delegated prefix for an IA_PD. Only the pools delegating
// prefixes of the length the client asked for are considered; when the
// client asked for a length no pool can satisfy, the IA fails with
// NoPrefixAvail.
func (engine *Engine) allocatePrefix(ctx context.Context, a *allocation) (*Result, error) {
	requestedLen := a.request.prefixLengthHint()
	for _, hint := range a.request.Hints {
		if hint.Address == nil || hint.Address.IsUnspecified() {
			continue
		}
		for i := range a.subnet.PDPools {
			pool := &a.subnet.PDPools[i]
			if !pool.Permits(a.client.Classes) || !prefixLengthMatches(pool, requestedLen) {
				continue
			}
			// Align the hint to the pool delegation boundary.
			masked := hint.Address.Mask(net.CIDRMask(pool.DelegatedLen, 128))
			if masked == nil || !pool.Contains(masked, uint8(pool.DelegatedLen)) || pool.IsExcluded(masked) {
				continue
			}
			lease, err := engine.claimCandidate(ctx, a, masked.String(), uint8(pool.DelegatedLen))
			if err != nil {
				return nil, err
			}
			if lease != nil {
				return successResult(lease), nil
			}
		}
	}
	for i := range a.subnet.PDPools {
		pool := &a.subnet.PDPools[i]
		if !pool.Permits(a.client.Classes) || !prefixLengthMatches(pool, requestedLen) {
			continue
		}
		lease, err := engine.scanPrefixPool(ctx, a, i, pool)
		if err != nil {
			return nil, err
		}
		if lease != nil {
			return successResult(lease), nil
		}
	}
	return &Result{Status: wire.StatusNoPrefixAvail}, nil
}

// Walks the pool looking for a free address, starting after the last
// allocated one and wrapping around. Recently released addresses are
// passed over unless nothing else is free. Returns nil when the pool
// is exhausted.
func (engine *Engine) scanAddressPool(ctx context.Context, a *allocation, poolIndex int, pool *dhcpcfg.Pool) (*dhcpdata.Lease, error) {
	lb, ub, err := pool.GetBoundaries()
	if err != nil {
		return nil, err
	}
	cursorKey := fmt.Sprintf("%d/a%d", a.subnet.ID, poolIndex)
	start := engine.addressScanStart(cursorKey, pool, lb, ub)
	var avoided []string
	candidate := start
	for {
		address := candidate.String()
		if _, isAvoided := engine.avoided.Get(address); isAvoided {
			avoided = append(avoided, address)
		} else {
			lease, err := engine.claimCandidate(ctx, a, address, 0)
			if err != nil {
				return nil, err
			}
			if lease != nil {
				engine.setCursor(cursorKey, address, a.commit)
				return lease, nil
			}
		}
		candidate = nextAddress(candidate, lb, ub)
		if candidate.Equal(start) {
			break
		}
	}
	// Nothing else is free, so a recently released address is handed
	// out after all.
	for _, address := range avoided {
		lease, err := engine.claimCandidate(ctx, a, address, 0)
		if err != nil {
			return nil, err
		}
		if lease != nil {
			engine.setCursor(cursorKey, address, a.commit)
			return lease, nil
		}
	}
	return nil, nil
}

// Walks the delegated prefixes of the pool looking for a free one,
// starting after the last delegated prefix and wrapping around.
// Prefixes overlapping the excluded prefix are never handed out.
func (engine *Engine) scanPrefixPool(ctx context.Context, a *allocation, poolIndex int, pool *dhcpcfg.PDPool) (*dhcpdata.Lease, error) {
	_, network, err := net.ParseCIDR(pool.GetCanonicalPrefix())
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "invalid prefix pool %s", pool.GetCanonicalPrefix())
	}
	delegatedLen := uint8(pool.DelegatedLen)
	first := &net.IPNet{IP: network.IP, Mask: net.CIDRMask(pool.DelegatedLen, 128)}
	cursorKey := fmt.Sprintf("%d/p%d", a.subnet.ID, poolIndex)
	start := engine.prefixScanStart(cursorKey, pool, first)
	var avoided []string
	candidate := start
	for {
		if !pool.IsExcluded(candidate.IP) {
			prefix := candidate.IP.String()
			resource := dhcputil.FormatCIDRNotation(prefix, pool.DelegatedLen)
			if _, isAvoided := engine.avoided.Get(resource); isAvoided {
				avoided = append(avoided, prefix)
			} else {
				lease, err := engine.claimCandidate(ctx, a, prefix, delegatedLen)
				if err != nil {
					return nil, err
				}
				if lease != nil {
					engine.setCursor(cursorKey, prefix, a.commit)
					return lease, nil
				}
			}
		}
		candidate = nextPrefix(candidate, pool, first)
		if candidate.IP.Equal(start.IP) {
			break
		}
	}
	for _, prefix := range avoided {
		lease, err := engine.claimCandidate(ctx, a, prefix, delegatedLen)
		if err != nil {
			return nil, err
		}
		if lease != nil {
			engine.setCursor(cursorKey, prefix, a.commit)
			return lease, nil
		}
	}
	return nil, nil
}

// Claims the candidate resource for the client unless an active lease
// blocks it. Returns nil without an error when the candidate is taken.
// A non-committing claim leaves the store untouched.
func (engine *Engine) claimCandidate(ctx context.Context, a *allocation, address string, prefixLen uint8) (*dhcpdata.Lease, error) {
	var lease *dhcpdata.Lease
	if a.request.Type.IsPrefix() {
		lease = dhcpdata.NewPrefixLease(address, prefixLen, a.client.DUID, a.request.IAID, a.subnet.ID)
	} else {
		lease = dhcpdata.NewAddressLease(address, a.client.DUID, a.request.IAID, a.subnet.ID)
	}
	refreshLease(lease, a.subnet, a.request, a.now)
	existing, err := engine.store.GetLease(ctx, lease.Resource())
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.BlocksResource(a.now) {
		return nil, nil
	}
	if !a.commit {
		return lease, nil
	}
	if err := engine.store.AddLease(ctx, lease); err != nil {
		return nil, err
	}
	return lease, nil
}

// Checks if the address lies in one of the subnet pools open to the
// client.
func addressPermitted(subnet *dhcpcfg.Subnet, classes []string, address net.IP) bool {
	for i := range subnet.Pools {
		pool := &subnet.Pools[i]
		if pool.Permits(classes) && pool.Contains(address) {
			return true
		}
	}
	return false
}

// Checks if the pool can delegate prefixes of the length the client
// asked for. A zero hint matches any pool.
func prefixLengthMatches(pool *dhcpcfg.PDPool, requestedLen uint8) bool {
	return requestedLen == 0 || int(requestedLen) == pool.DelegatedLen
}

// Checks if the resource of an existing lease is still offered by the
// subnet configuration. Leases allocated before a configuration change
// may refer to pools which no longer exist; such leases are not
// reused.
func resourceStillOffered(subnet *dhcpcfg.Subnet, classes []string, lease *dhcpdata.Lease) bool {
	address := net.ParseIP(lease.Address)
	if address == nil {
		return false
	}
	if lease.Type.IsPrefix() {
		for i := range subnet.PDPools {
			pool := &subnet.PDPools[i]
			if pool.Permits(classes) && pool.Contains(address, lease.PrefixLength) && !pool.IsExcluded(address) {
				return true
			}
		}
		return false
	}
	return addressPermitted(subnet, classes, address)
}

// Returns the address the pool scan starts from: the successor of the
// cursor, or the pool lower bound when there is no usable cursor.
func (engine *Engine) addressScanStart(cursorKey string, pool *dhcpcfg.Pool, lb, ub net.IP) net.IP {
	cursor := engine.getCursor(cursorKey)
	if cursor == "" {
		return lb
	}
	last := net.ParseIP(cursor)
	if last == nil || !pool.Contains(last) {
		// The pool boundaries changed since the cursor was stored.
		return lb
	}
	return nextAddress(last, lb, ub)
}

// Returns the delegated prefix the pool scan starts from.
func (engine *Engine) prefixScanStart(cursorKey string, pool *dhcpcfg.PDPool, first *net.IPNet) *net.IPNet {
	cursor := engine.getCursor(cursorKey)
	if cursor == "" {
		return first
	}
	last := net.ParseIP(cursor)
	if last == nil || !pool.Contains(last, uint8(pool.DelegatedLen)) {
		return first
	}
	return nextPrefix(&net.IPNet{IP: last, Mask: first.Mask}, pool, first)
}

// Returns the next address candidate, wrapping around to the pool
// lower bound.
func nextAddress(address, lb, ub net.IP) net.IP {
	if address.Equal(ub) {
		return lb
	}
	return cidr.Inc(address)
}

// Returns the next delegated prefix candidate, wrapping around to the
// first prefix of the pool.
func nextPrefix(current *net.IPNet, pool *dhcpcfg.PDPool, first *net.IPNet) *net.IPNet {
	next, rollover := cidr.NextSubnet(current, pool.DelegatedLen)
	if rollover || !pool.Contains(next.IP, uint8(pool.DelegatedLen)) {
		return first
	}
	return next
}

// Remembers the last allocated resource of the pool. The cursor is not
// moved by non-committing allocations, so consecutive Solicits may be
// offered the same candidate.
func (engine *Engine) setCursor(key, resource string, commit bool) {
	if !commit {
		return
	}
	engine.mutex.Lock()
	defer engine.mutex.Unlock()
	engine.cursors[key] = resource
}

func (engine *Engine) getCursor(key string) string {
	engine.mutex.Lock()
	defer engine.mutex.Unlock()
	return engine.cursors[key]
}
