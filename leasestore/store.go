// Package leasestore defines the contract between the allocation
// engine and the lease persistence, together with the memory and the
// PostgreSQL backends implementing it.
//
// Every call is transactional on the underlying persistence. The
// resource key is the canonical text form of a lease resource: an
// address for IA_NA leases and prefix/length for IA_PD leases.
package leasestore

import (
	"context"
	"errors"
	"time"

	dhcpdata "isc.org/dhcp6d/datamodel"
)

// An error indicating that the resource is already bound to another
// active lease or the lease was modified since it was read. The caller
// is expected to re-read and retry.
var ErrConflict = errors.New("lease store conflict")

// An error indicating that the lease does not exist.
var ErrNotFound = errors.New("lease not found")

// Per-subnet lease counts surfaced to the metrics collector.
type SubnetStats struct {
	SubnetID    int64 `pg:"subnet_id"`
	AssignedNAs int64 `pg:"assigned_nas"`
	AssignedPDs int64 `pg:"assigned_pds"`
	Declined    int64 `pg:"declined"`
}

// The lease store contract consumed by the allocation engine, the
// reclaimer and the administrative tool.
//
// GetLease returns nil without an error when no lease holds the
// resource. AddLease returns ErrConflict when the resource is bound to
// an active lease. UpdateLease performs a conditional update: it
// returns ErrConflict unless the stored revision matches the revision
// the caller read; on success the lease revision is incremented.
// Conflicts are detected with errors.Is.
type Store interface {
	GetLease(ctx context.Context, resource string) (*dhcpdata.Lease, error)
	GetLeasesByClient(ctx context.Context, duid string, subnetID int64) ([]dhcpdata.Lease, error)
	AddLease(ctx context.Context, lease *dhcpdata.Lease) error
	UpdateLease(ctx context.Context, lease *dhcpdata.Lease) error
	DeleteLease(ctx context.Context, resource string) error

	// Maintenance queries used by the reclaimer and the tool.
	GetExpiredLeases(ctx context.Context, asOf time.Time, limit int) ([]dhcpdata.Lease, error)
	DeleteReclaimedLeases(ctx context.Context, expiredBefore time.Time) (int64, error)
	GetLeasesByPage(ctx context.Context, offset, limit int64) ([]dhcpdata.Lease, int64, error)
	GetSubnetStats(ctx context.Context) ([]SubnetStats, error)
}
