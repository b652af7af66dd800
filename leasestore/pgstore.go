package leasestore

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-pg/pg/v10"
	pkgerrors "github.com/pkg/errors"

	dhcpdata "isc.org/dhcp6d/datamodel"
)

var _ Store = (*PgStore)(nil)

// The PostgreSQL lease store backend. The lease table carries a
// generated resource column with a unique constraint, so the
// exclusivity of active leases is also enforced by the database.
type PgStore struct {
	db    *pg.DB
	clock clock.Clock
}

// Instantiates the PostgreSQL store over an established connection.
func NewPgStore(db *pg.DB, clk clock.Clock) *PgStore {
	if clk == nil {
		clk = clock.New()
	}
	return &PgStore{
		db:    db,
		clock: clk,
	}
}

// Checks if the error indicates a violation of the unique resource
// constraint, i.e. a racing insert of the same resource.
func isUniqueViolation(err error) bool {
	var pgError pg.Error
	return errors.As(err, &pgError) && pgError.Field('C') == "23505"
}

func (store *PgStore) GetLease(ctx context.Context, resource string) (*dhcpdata.Lease, error) {
	lease := dhcpdata.Lease{}
	err := store.db.ModelContext(ctx, &lease).
		Where("resource = ?", resource).
		Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting lease for %s", resource)
	}
	return &lease, nil
}

func (store *PgStore) GetLeasesByClient(ctx context.Context, duid string, subnetID int64) ([]dhcpdata.Lease, error) {
	var leases []dhcpdata.Lease
	q := store.db.ModelContext(ctx, &leases).
		Where("duid = ?", duid)
	if subnetID != 0 {
		q = q.Where("subnet_id = ?", subnetID)
	}
	err := q.Order("resource ASC").Select()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting leases of client %s", duid)
	}
	return leases, nil
}

func (store *PgStore) AddLease(ctx context.Context, lease *dhcpdata.Lease) error {
	resource := lease.Resource()
	return store.db.RunInTransaction(ctx, func(tx *pg.Tx) error {
		existing := dhcpdata.Lease{}
		err := tx.Model(&existing).
			Where("resource = ?", resource).
			For("UPDATE").
			Select()
		if err != nil && !errors.Is(err, pg.ErrNoRows) {
			return pkgerrors.Wrapf(err, "problem getting lease for %s", resource)
		}
		if err == nil {
			if existing.BlocksResource(store.clock.Now()) {
				return pkgerrors.Wrapf(ErrConflict, "resource %s is already leased", resource)
			}
			// Replace the stale lease keeping the revision monotonic, so
			// a racing holder of the old lease fails its conditional
			// update.
			lease.ID = existing.ID
			lease.Revision = existing.Revision + 1
			_, err = tx.Model(lease).WherePK().Update()
			return pkgerrors.Wrapf(err, "problem replacing the stale lease for %s", resource)
		}
		lease.ID = 0
		lease.Revision = 1
		_, err = tx.Model(lease).Insert()
		if isUniqueViolation(err) {
			return pkgerrors.Wrapf(ErrConflict, "resource %s was leased concurrently", resource)
		}
		return pkgerrors.Wrapf(err, "problem inserting lease for %s", resource)
	})
}

func (store *PgStore) UpdateLease(ctx context.Context, lease *dhcpdata.Lease) error {
	resource := lease.Resource()
	previousRevision := lease.Revision
	lease.Revision = previousRevision + 1
	result, err := store.db.ModelContext(ctx, lease).
		Where("resource = ?", resource).
		Where("revision = ?", previousRevision).
		Update()
	if err != nil {
		lease.Revision = previousRevision
		return pkgerrors.Wrapf(err, "problem updating lease for %s", resource)
	}
	if result.RowsAffected() <= 0 {
		lease.Revision = previousRevision
		return pkgerrors.Wrapf(ErrConflict, "lease for %s was modified concurrently", resource)
	}
	return nil
}

func (store *PgStore) DeleteLease(ctx context.Context, resource string) error {
	result, err := store.db.ModelContext(ctx, (*dhcpdata.Lease)(nil)).
		Where("resource = ?", resource).
		Delete()
	if err != nil {
		return pkgerrors.Wrapf(err, "problem deleting lease for %s", resource)
	}
	if result.RowsAffected() <= 0 {
		return pkgerrors.Wrapf(ErrNotFound, "no lease for %s", resource)
	}
	return nil
}

func (store *PgStore) GetExpiredLeases(ctx context.Context, asOf time.Time, limit int) ([]dhcpdata.Lease, error) {
	var leases []dhcpdata.Lease
	q := store.db.ModelContext(ctx, &leases).
		Where("state IN (?, ?)", dhcpdata.LeaseStateAssigned, dhcpdata.LeaseStateDeclined).
		Where("cltt + valid_lifetime * interval '1 second' <= ?", asOf).
		OrderExpr("cltt + valid_lifetime * interval '1 second' ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Select(); err != nil {
		return nil, pkgerrors.Wrap(err, "problem getting expired leases")
	}
	return leases, nil
}

func (store *PgStore) DeleteReclaimedLeases(ctx context.Context, expiredBefore time.Time) (int64, error) {
	result, err := store.db.ModelContext(ctx, (*dhcpdata.Lease)(nil)).
		Where("state IN (?, ?)", dhcpdata.LeaseStateExpiredReclaimed, dhcpdata.LeaseStateReleased).
		Where("cltt + valid_lifetime * interval '1 second' < ?", expiredBefore).
		Delete()
	if err != nil {
		return 0, pkgerrors.Wrap(err, "problem deleting reclaimed leases")
	}
	return int64(result.RowsAffected()), nil
}

func (store *PgStore) GetLeasesByPage(ctx context.Context, offset, limit int64) ([]dhcpdata.Lease, int64, error) {
	var leases []dhcpdata.Lease
	q := store.db.ModelContext(ctx, &leases).
		Order("resource ASC").
		Offset(int(offset))
	if limit > 0 {
		q = q.Limit(int(limit))
	}
	total, err := q.SelectAndCount()
	if err != nil && !errors.Is(err, pg.ErrNoRows) {
		return nil, 0, pkgerrors.Wrap(err, "problem getting leases by page")
	}
	return leases, int64(total), nil
}

func (store *PgStore) GetSubnetStats(ctx context.Context) ([]SubnetStats, error) {
	var stats []SubnetStats
	err := store.db.ModelContext(ctx, (*dhcpdata.Lease)(nil)).
		ColumnExpr("subnet_id").
		ColumnExpr("count(*) FILTER (WHERE state = ? AND type = ?) AS assigned_nas", dhcpdata.LeaseStateAssigned, dhcpdata.LeaseTypeAddress).
		ColumnExpr("count(*) FILTER (WHERE state = ? AND type = ?) AS assigned_pds", dhcpdata.LeaseStateAssigned, dhcpdata.LeaseTypePrefix).
		ColumnExpr("count(*) FILTER (WHERE state = ?) AS declined", dhcpdata.LeaseStateDeclined).
		GroupExpr("subnet_id").
		OrderExpr("subnet_id ASC").
		Select(&stats)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "problem getting per subnet lease statistics")
	}
	return stats, nil
}
