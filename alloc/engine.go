// Package alloc implements the allocation engine: the component which
// hands out addresses and delegated prefixes from the configured pools,
// extends the bindings of renewing clients and processes the release
// and decline transitions. The engine keeps no authoritative state of
// its own. All lease state lives in the lease store and the engine
// relies on the store conflict detection to stay correct when
// concurrent exchanges touch the same resource.
package alloc

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"

	dhcpdata "isc.org/dhcp6d/datamodel"
	"isc.org/dhcp6d/dhcpcfg"
	"isc.org/dhcp6d/leasestore"
	"isc.org/dhcp6d/wire"
)

// Bounds the cache of recently released resources. When the cache is
// full the oldest entries are dropped and their resources become
// eligible for allocation right away, which is harmless.
const avoidCacheSize = 8192

// Tunable parameters of the allocation engine. Zero values select the
// defaults from the dhcpcfg package.
type EngineConfig struct {
	// For how long a released resource is not handed out to other
	// clients while other free resources are available.
	AvoidReuseTTL time.Duration
	// For how long a declined address stays out of the pool before it
	// is reclaimed.
	DeclineProbationPeriod time.Duration
}

// The allocation engine. It is safe for concurrent use.
type Engine struct {
	store     leasestore.Store
	clock     clock.Clock
	probation time.Duration

	// Resources released recently. Allocation prefers other candidates
	// while an entry is cached.
	avoided *expirable.LRU[string, time.Time]

	// Last allocated resource per pool. Scanning resumes after it, so
	// consecutive allocations walk the pool instead of hammering its
	// beginning.
	mutex   sync.Mutex
	cursors map[string]string
}

// Instantiates the allocation engine. The clock is used for lease
// timestamps and expiration checks; passing nil selects the system
// clock.
func NewEngine(store leasestore.Store, clk clock.Clock, config EngineConfig) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	avoidTTL := config.AvoidReuseTTL
	if avoidTTL == 0 {
		avoidTTL = time.Duration(dhcpcfg.DefaultAvoidReuseTTL) * time.Second
	}
	probation := config.DeclineProbationPeriod
	if probation == 0 {
		probation = time.Duration(dhcpcfg.DefaultDeclineProbationPeriod) * time.Second
	}
	return &Engine{
		store:     store,
		clock:     clk,
		probation: probation,
		avoided:   expirable.NewLRU[string, time.Time](avoidCacheSize, nil, avoidTTL),
		cursors:   make(map[string]string),
	}
}

// Identifies the requesting client. The classes are assigned by the
// classifier and select the pools the client is allowed to use.
type ClientContext struct {
	// Hex notation of the client DUID.
	DUID    string
	Classes []string
}

// Carries a single IA option of the client message in the form
// consumed by the engine.
type IARequest struct {
	// The requested lease type: an address for IA_NA and a delegated
	// prefix for IA_PD.
	Type dhcpdata.LeaseType
	// Identity association identifier chosen by the client.
	IAID uint32
	// Addresses or prefixes the client put inside the IA.
	Hints []Hint
	// Hostname stored with the leases when FQDN processing applies.
	Hostname string
	FqdnFwd  bool
	FqdnRev  bool
}

// An address or prefix the client included in the IA.
type Hint struct {
	Address net.IP
	// Prefix length of an IA Prefix option. It may be set with an
	// unspecified address when the client merely asks for a prefix of
	// a particular length.
	PrefixLength uint8
}

// Returns the delegated prefix length the client asked for, or zero
// when the IA carried no length hint.
func (request *IARequest) prefixLengthHint() uint8 {
	for _, hint := range request.Hints {
		if hint.PrefixLength != 0 {
			return hint.PrefixLength
		}
	}
	return 0
}

// The outcome of processing a single IA. A non-success status is
// reported to the client within the IA and carries no leases.
type Result struct {
	Status wire.StatusCode
	Leases []*dhcpdata.Lease
}

func successResult(leases ...*dhcpdata.Lease) *Result {
	return &Result{Status: wire.StatusSuccess, Leases: leases}
}

// Returns the status code reported when no resource could be allocated
// for the IA.
func exhaustedStatus(leaseType dhcpdata.LeaseType) wire.StatusCode {
	if leaseType.IsPrefix() {
		return wire.StatusNoPrefixAvail
	}
	return wire.StatusNoAddrsAvail
}

// Carries the state of a single allocation attempt between the
// helpers.
type allocation struct {
	subnet  *dhcpcfg.Subnet
	client  *ClientContext
	request *IARequest
	commit  bool
	now     time.Time
}

// Allocates an address or a delegated prefix for a single IA of the
// client message. The engine first tries the lease the client already
// holds for the IA, then the resources the client hinted at and
// finally scans the pools. When commit is false the engine only
// selects a candidate without persisting anything; the same candidate
// may be offered to several soliciting clients and only a committing
// allocation claims it.
//
// A non-nil result is always returned with a nil error. The IA fails
// with NoAddrsAvail or NoPrefixAvail when the pools are exhausted,
// when the subnet has no pools open to the client and when no subnet
// was selected at all.
func (engine *Engine) Allocate(ctx context.Context, subnet *dhcpcfg.Subnet, client *ClientContext, request *IARequest, commit bool) (*Result, error) {
	if subnet == nil {
		return &Result{Status: exhaustedStatus(request.Type)}, nil
	}
	a := &allocation{
		subnet:  subnet,
		client:  client,
		request: request,
		commit:  commit,
	}
	// A conflict means another exchange claimed the candidate after
	// this one saw it free. A single retry re-reads the store and
	// picks a different candidate.
	for attempt := 0; attempt < 2; attempt++ {
		result, err := engine.allocate(ctx, a)
		if err == nil || !errors.Is(err, leasestore.ErrConflict) {
			return result, err
		}
		log.WithFields(log.Fields{
			"duid":   client.DUID,
			"subnet": subnet,
		}).Debug("Allocation raced with another exchange, retrying")
	}
	return &Result{Status: exhaustedStatus(request.Type)}, nil
}

// A single allocation attempt.
func (engine *Engine) allocate(ctx context.Context, a *allocation) (*Result, error) {
	a.now = engine.clock.Now().UTC()
	reused, err := engine.findReusableLease(ctx, a)
	if err != nil {
		return nil, err
	}
	if reused != nil {
		refreshLease(reused, a.subnet, a.request, a.now)
		if a.commit {
			if err := engine.store.UpdateLease(ctx, reused); err != nil {
				return nil, err
			}
		}
		return successResult(reused), nil
	}
	if a.request.Type.IsPrefix() {
		return engine.allocatePrefix(ctx, a)
	}
	return engine.allocateAddress(ctx, a)
}

// Finds a lease of the client which can satisfy the IA without
// allocating a new resource. Only a lease the client holds for the
// same IAID is reused; a released or declined one never is. An expired
// or already reclaimed lease of the client is resurrected, so a
// returning client keeps its resource for as long as nobody else
// claimed it.
func (engine *Engine) findReusableLease(ctx context.Context, a *allocation) (*dhcpdata.Lease, error) {
	leases, err := engine.store.GetLeasesByClient(ctx, a.client.DUID, a.subnet.ID)
	if err != nil {
		return nil, err
	}
	requestedLen := a.request.prefixLengthHint()
	for i := range leases {
		lease := &leases[i]
		if lease.Type != a.request.Type || lease.IAID != a.request.IAID {
			continue
		}
		switch lease.State {
		case dhcpdata.LeaseStateAssigned, dhcpdata.LeaseStateExpiredReclaimed:
		default:
			continue
		}
		if lease.Type.IsPrefix() && requestedLen != 0 && lease.PrefixLength != requestedLen {
			continue
		}
		if !resourceStillOffered(a.subnet, a.client.Classes, lease) {
			continue
		}
		return lease, nil
	}
	return nil, nil
}

// Stamps the lease fields granted with a new or extended allocation.
func refreshLease(lease *dhcpdata.Lease, subnet *dhcpcfg.Subnet, request *IARequest, now time.Time) {
	lease.State = dhcpdata.LeaseStateAssigned
	lease.IAID = request.IAID
	lease.SubnetID = subnet.ID
	lease.CLTT = now
	lease.PreferredLifetime = subnet.GetPreferredLifetime()
	lease.ValidLifetime = subnet.GetValidLifetime()
	lease.Hostname = request.Hostname
	lease.FqdnFwd = request.FqdnFwd
	lease.FqdnRev = request.FqdnRev
}
