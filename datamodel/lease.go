package dhcpdata

import (
	"fmt"
	"time"
)

// A type defining one of the supported lease types.
type LeaseType string

const (
	// An address lease, allocated from an IA_NA.
	LeaseTypeAddress LeaseType = "IA_NA"
	// A delegated prefix lease, allocated from an IA_PD.
	LeaseTypePrefix LeaseType = "IA_PD"
)

// Converts the type to string.
func (t LeaseType) String() string {
	return string(t)
}

// Convenience function checking if the type is an address lease.
func (t LeaseType) IsAddress() bool {
	return t == LeaseTypeAddress
}

// Convenience function checking if the type is a delegated prefix lease.
func (t LeaseType) IsPrefix() bool {
	return t == LeaseTypePrefix
}

// Lease state. An assigned (non-expired) lease is in the default state.
// A lease for which a client detected a conflict and sent the Decline
// message is in the declined state. A lease for which the valid lifetime
// elapsed and the server detected the expiration is moved to the
// expired-reclaimed state rather than removed right away. Keeping the
// lease increases the chances that a returning client is allocated the
// same lease, but the lease may be assigned to any client requesting it.
// A lease explicitly returned by a client is in the released state.
type LeaseState int

const (
	LeaseStateAssigned         LeaseState = 0
	LeaseStateDeclined         LeaseState = 1
	LeaseStateExpiredReclaimed LeaseState = 2
	LeaseStateReleased         LeaseState = 3
)

// Returns a human-readable representation of the lease state.
func (s LeaseState) String() string {
	switch s {
	case LeaseStateAssigned:
		return "assigned"
	case LeaseStateDeclined:
		return "declined"
	case LeaseStateExpiredReclaimed:
		return "expired-reclaimed"
	case LeaseStateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Represents a DHCPv6 lease, binding an address or a delegated prefix
// to the client identified by the DUID and IAID. It is held in the
// lease table in the database.
type Lease struct {
	tableName struct{} `pg:"lease"` //nolint:unused

	ID int64 `json:"-"`
	// Leased address or, for a delegated prefix lease, the prefix.
	Address string `json:"ip-address"`
	// Length of the delegated prefix. It is 128 for an address lease.
	PrefixLength uint8     `json:"prefix-len" pg:",use_zero"`
	Type         LeaseType `json:"type"`
	// Hex notation of the client DUID, e.g. 00:01:00:01:11:22:33:44:55:66.
	DUID     string     `json:"duid"`
	IAID     uint32     `json:"iaid" pg:",use_zero"`
	SubnetID int64      `json:"subnet-id" pg:",use_zero"`
	State    LeaseState `json:"state" pg:",use_zero"`
	// Client last transaction time. The lease expires when the valid
	// lifetime counted from this time elapses.
	CLTT              time.Time `json:"cltt"`
	PreferredLifetime uint32    `json:"preferred-lft" pg:",use_zero"`
	ValidLifetime     uint32    `json:"valid-lft" pg:",use_zero"`
	FqdnFwd           bool      `json:"fqdn-fwd" pg:",use_zero"`
	FqdnRev           bool      `json:"fqdn-rev" pg:",use_zero"`
	Hostname          string    `json:"hostname,omitempty" pg:",use_zero"`
	// Incremented on each update. Conditional updates use it to detect
	// concurrent modifications of the same lease.
	Revision int64 `json:"-" pg:",use_zero"`
}

// Creates a new address lease.
func NewAddressLease(address string, duid string, iaid uint32, subnetID int64) *Lease {
	return &Lease{
		Address:      address,
		PrefixLength: 128,
		Type:         LeaseTypeAddress,
		DUID:         duid,
		IAID:         iaid,
		SubnetID:     subnetID,
		State:        LeaseStateAssigned,
	}
}

// Creates a new delegated prefix lease.
func NewPrefixLease(prefix string, length uint8, duid string, iaid uint32, subnetID int64) *Lease {
	return &Lease{
		Address:      prefix,
		PrefixLength: length,
		Type:         LeaseTypePrefix,
		DUID:         duid,
		IAID:         iaid,
		SubnetID:     subnetID,
		State:        LeaseStateAssigned,
	}
}

// Returns the lease expiration time, i.e. the client last transaction
// time increased by the valid lifetime.
func (lease *Lease) Expire() time.Time {
	return lease.CLTT.Add(time.Duration(lease.ValidLifetime) * time.Second)
}

// Checks if the lease is expired at the given time. A lease expiring
// exactly at that time is already expired.
func (lease *Lease) IsExpired(now time.Time) bool {
	return !lease.Expire().After(now)
}

// Checks if the lease is assigned to a client and not expired at the
// given time.
func (lease *Lease) IsActive(now time.Time) bool {
	return lease.State == LeaseStateAssigned && !lease.IsExpired(now)
}

// Checks if the lease still blocks its resource from being allocated
// to another client. Released and reclaimed leases do not block, and
// neither do the expired ones.
func (lease *Lease) BlocksResource(now time.Time) bool {
	switch lease.State {
	case LeaseStateAssigned, LeaseStateDeclined:
		return !lease.IsExpired(now)
	default:
		return false
	}
}

// Checks if the lease belongs to the client identified by the DUID.
// The IAID is not compared because a client may move a binding to
// another IA, e.g. after a reboot.
func (lease *Lease) BelongsTo(duid string) bool {
	return lease.DUID == duid
}

// Returns the canonical resource key of the lease: the address for an
// address lease and prefix/length for a delegated prefix lease. The
// lease store indexes leases by this key.
func (lease *Lease) Resource() string {
	if lease.Type.IsPrefix() {
		return fmt.Sprintf("%s/%d", lease.Address, lease.PrefixLength)
	}
	return lease.Address
}

// Returns a short textual representation of the lease used in logs.
func (lease *Lease) String() string {
	return lease.Resource()
}
