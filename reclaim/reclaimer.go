// Package reclaim implements expired lease processing. A periodic
// sweep moves expired and post-probation declined leases into the
// reclaimed state, returning their resources to the allocation pools,
// and a second sweep flushes the reclaimed and released leases from
// the store once they have been held long enough.
package reclaim

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"

	dhcpdata "isc.org/dhcp6d/datamodel"
	"isc.org/dhcp6d/dhcpcfg"
	"isc.org/dhcp6d/leasestore"
	dhcputil "isc.org/dhcp6d/util"
)

// Upper bound on the number of leases reclaimed in one pass. Keeping
// the passes short bounds the store contention with the packet path.
const maxReclaimLeases = 100

// Receives DNS record removals for the leases which went away. The
// interface is satisfied by ddns.Notifier.
type DNSNotifier interface {
	QueueLeaseRemoval(lease *dhcpdata.Lease)
}

// Periodically reclaims expired leases and flushes stale ones.
type Reclaimer struct {
	store        leasestore.Store
	clock        clock.Clock
	config       *dhcpcfg.ExpiredLeasesProcessing
	dns          DNSNotifier
	storeTimeout time.Duration

	reclaimExecutor *dhcputil.PeriodicExecutor
	flushExecutor   *dhcputil.PeriodicExecutor
}

// Creates the reclaimer. The DNS notifier may be nil when dynamic DNS
// updates are not configured. The passes are not scheduled until Start
// is called.
func NewReclaimer(store leasestore.Store, clk clock.Clock, config *dhcpcfg.ExpiredLeasesProcessing, storeTimeout time.Duration, dns DNSNotifier) *Reclaimer {
	if clk == nil {
		clk = clock.New()
	}
	if config == nil {
		config = &dhcpcfg.ExpiredLeasesProcessing{}
	}
	if storeTimeout <= 0 {
		storeTimeout = time.Duration(dhcpcfg.DefaultStoreTimeout) * time.Second
	}
	return &Reclaimer{
		store:        store,
		clock:        clk,
		config:       config,
		dns:          dns,
		storeTimeout: storeTimeout,
	}
}

// Begins scheduling the reclamation and flush passes at the configured
// intervals.
func (reclaimer *Reclaimer) Start() error {
	reclaimExecutor, err := dhcputil.NewPeriodicExecutor("expired leases reclamation",
		func() error {
			_, err := reclaimer.ReclaimExpiredLeases()
			return err
		},
		func() (time.Duration, error) {
			return reclaimer.config.GetReclaimTimerWaitTime(), nil
		})
	if err != nil {
		return err
	}
	flushExecutor, err := dhcputil.NewPeriodicExecutor("reclaimed leases flushing",
		func() error {
			_, err := reclaimer.FlushReclaimedLeases()
			return err
		},
		func() (time.Duration, error) {
			return reclaimer.config.GetFlushReclaimedTimerWaitTime(), nil
		})
	if err != nil {
		reclaimExecutor.Shutdown()
		return err
	}
	reclaimer.reclaimExecutor = reclaimExecutor
	reclaimer.flushExecutor = flushExecutor
	return nil
}

// Stops the scheduled passes. A pass in progress completes first.
func (reclaimer *Reclaimer) Shutdown() {
	if reclaimer.flushExecutor != nil {
		reclaimer.flushExecutor.Shutdown()
		reclaimer.flushExecutor = nil
	}
	if reclaimer.reclaimExecutor != nil {
		reclaimer.reclaimExecutor.Shutdown()
		reclaimer.reclaimExecutor = nil
	}
}

// Performs a single reclamation pass. The oldest expired leases are
// moved into the reclaimed state and the removal of their DNS records
// is queued. Leases modified concurrently, e.g. renewed by the client
// between the query and the update, are left alone and picked up by a
// later pass if they expire again. Returns the number of reclaimed
// leases.
func (reclaimer *Reclaimer) ReclaimExpiredLeases() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), reclaimer.storeTimeout)
	defer cancel()

	now := reclaimer.clock.Now().UTC()
	leases, err := reclaimer.store.GetExpiredLeases(ctx, now, maxReclaimLeases)
	if err != nil {
		return 0, err
	}
	var reclaimed int
	for i := range leases {
		lease := &leases[i]
		declined := lease.State == dhcpdata.LeaseStateDeclined
		lease.State = dhcpdata.LeaseStateExpiredReclaimed
		if err = reclaimer.store.UpdateLease(ctx, lease); err != nil {
			if errors.Is(err, leasestore.ErrConflict) {
				continue
			}
			return reclaimed, err
		}
		reclaimed++
		if declined {
			log.WithFields(log.Fields{
				"address": lease.Resource(),
			}).Info("Declined address completed its probation period and is offered again")
		}
		if reclaimer.dns != nil {
			reclaimer.dns.QueueLeaseRemoval(lease)
		}
	}
	if reclaimed > 0 {
		log.WithFields(log.Fields{
			"count": reclaimed,
		}).Info("Reclaimed expired leases")
	}
	return reclaimed, nil
}

// Performs a single flush pass, deleting the reclaimed and released
// leases which expired earlier than the configured hold time ago.
// Holding them for a while preserves the lease history for queries and
// lets the allocator avoid reusing the resources too eagerly. Returns
// the number of deleted leases.
func (reclaimer *Reclaimer) FlushReclaimedLeases() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), reclaimer.storeTimeout)
	defer cancel()

	cutoff := reclaimer.clock.Now().UTC().Add(-reclaimer.config.GetHoldReclaimedTime())
	count, err := reclaimer.store.DeleteReclaimedLeases(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		log.WithFields(log.Fields{
			"count": count,
		}).Info("Flushed stale leases from the store")
	}
	return count, nil
}
