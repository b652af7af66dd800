package leasestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	pkgerrors "github.com/pkg/errors"

	dhcpdata "isc.org/dhcp6d/datamodel"
)

// The default lease store backend holding leases in a map keyed by the
// resource. All calls are serialized with a mutex, which makes every
// call transactional. Leases are copied on the way in and out, so the
// callers never share memory with the store.
type MemoryStore struct {
	mutex  sync.RWMutex
	leases map[string]dhcpdata.Lease
	nextID int64
	clock  clock.Clock
}

// Instantiates the memory store. The clock is used to decide whether
// an existing lease still blocks its resource.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryStore{
		leases: make(map[string]dhcpdata.Lease),
		nextID: 1,
		clock:  clk,
	}
}

// Checks if the store call was canceled or timed out before doing any
// work. The memory backend has no other suspension points.
func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return pkgerrors.Wrap(err, "lease store call aborted")
	}
	return nil
}

func (store *MemoryStore) GetLease(ctx context.Context, resource string) (*dhcpdata.Lease, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	lease, ok := store.leases[resource]
	if !ok {
		return nil, nil
	}
	return &lease, nil
}

func (store *MemoryStore) GetLeasesByClient(ctx context.Context, duid string, subnetID int64) ([]dhcpdata.Lease, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	var leases []dhcpdata.Lease
	for _, lease := range store.leases {
		if lease.DUID != duid {
			continue
		}
		if subnetID != 0 && lease.SubnetID != subnetID {
			continue
		}
		leases = append(leases, lease)
	}
	sortLeases(leases)
	return leases, nil
}

func (store *MemoryStore) AddLease(ctx context.Context, lease *dhcpdata.Lease) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	resource := lease.Resource()
	existing, ok := store.leases[resource]
	if ok && existing.BlocksResource(store.clock.Now()) {
		return pkgerrors.Wrapf(ErrConflict, "resource %s is already leased", resource)
	}
	if ok {
		// Replace the stale lease but keep the revision monotonic so a
		// racing holder of the old lease fails its conditional update.
		lease.ID = existing.ID
		lease.Revision = existing.Revision + 1
	} else {
		lease.ID = store.nextID
		store.nextID++
		lease.Revision = 1
	}
	store.leases[resource] = *lease
	return nil
}

func (store *MemoryStore) UpdateLease(ctx context.Context, lease *dhcpdata.Lease) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	resource := lease.Resource()
	existing, ok := store.leases[resource]
	if !ok {
		return pkgerrors.Wrapf(ErrConflict, "lease for %s vanished before the update", resource)
	}
	if existing.Revision != lease.Revision {
		return pkgerrors.Wrapf(ErrConflict, "lease for %s was modified concurrently", resource)
	}
	lease.ID = existing.ID
	lease.Revision++
	store.leases[resource] = *lease
	return nil
}

func (store *MemoryStore) DeleteLease(ctx context.Context, resource string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, ok := store.leases[resource]; !ok {
		return pkgerrors.Wrapf(ErrNotFound, "no lease for %s", resource)
	}
	delete(store.leases, resource)
	return nil
}

// Returns assigned and declined leases expired at the given time, the
// oldest expirations first. A non-positive limit returns all of them.
func (store *MemoryStore) GetExpiredLeases(ctx context.Context, asOf time.Time, limit int) ([]dhcpdata.Lease, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	var leases []dhcpdata.Lease
	for _, lease := range store.leases {
		if lease.State != dhcpdata.LeaseStateAssigned && lease.State != dhcpdata.LeaseStateDeclined {
			continue
		}
		if lease.IsExpired(asOf) {
			leases = append(leases, lease)
		}
	}
	sort.Slice(leases, func(i, j int) bool {
		return leases[i].Expire().Before(leases[j].Expire())
	})
	if limit > 0 && len(leases) > limit {
		leases = leases[:limit]
	}
	return leases, nil
}

// Removes reclaimed and released leases which expired before the given
// time. Returns the number of removed leases.
func (store *MemoryStore) DeleteReclaimedLeases(ctx context.Context, expiredBefore time.Time) (int64, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var count int64
	for resource, lease := range store.leases {
		if lease.State != dhcpdata.LeaseStateExpiredReclaimed && lease.State != dhcpdata.LeaseStateReleased {
			continue
		}
		if lease.Expire().Before(expiredBefore) {
			delete(store.leases, resource)
			count++
		}
	}
	return count, nil
}

func (store *MemoryStore) GetLeasesByPage(ctx context.Context, offset, limit int64) ([]dhcpdata.Lease, int64, error) {
	if err := checkContext(ctx); err != nil {
		return nil, 0, err
	}
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	all := make([]dhcpdata.Lease, 0, len(store.leases))
	for _, lease := range store.leases {
		all = append(all, lease)
	}
	sortLeases(all)
	total := int64(len(all))
	if offset >= total {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && int64(len(all)) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (store *MemoryStore) GetSubnetStats(ctx context.Context) ([]SubnetStats, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	bySubnet := make(map[int64]*SubnetStats)
	for _, lease := range store.leases {
		stats := bySubnet[lease.SubnetID]
		if stats == nil {
			stats = &SubnetStats{SubnetID: lease.SubnetID}
			bySubnet[lease.SubnetID] = stats
		}
		switch lease.State {
		case dhcpdata.LeaseStateAssigned:
			if lease.Type.IsPrefix() {
				stats.AssignedPDs++
			} else {
				stats.AssignedNAs++
			}
		case dhcpdata.LeaseStateDeclined:
			stats.Declined++
		}
	}
	all := make([]SubnetStats, 0, len(bySubnet))
	for _, stats := range bySubnet {
		all = append(all, *stats)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].SubnetID < all[j].SubnetID
	})
	return all, nil
}

// Orders leases by the resource key for stable listings.
func sortLeases(leases []dhcpdata.Lease) {
	sort.Slice(leases, func(i, j int) bool {
		return leases[i].Resource() < leases[j].Resource()
	})
}
