package dbmigs

import (
	"github.com/go-pg/migrations/v8"
)

var up = `
-- The lease table holds both the address and the delegated prefix
-- leases. The resource column is generated from the address and the
-- prefix length so that the delegated prefixes with the same first
-- address but different lengths remain distinct. The unique constraint
-- on this column guarantees that a resource is never leased twice,
-- even when two server instances share the database.
CREATE TABLE IF NOT EXISTS public.lease (
    id                 BIGSERIAL PRIMARY KEY,
    address            TEXT NOT NULL,
    prefix_length      SMALLINT NOT NULL,
    type               TEXT NOT NULL,
    duid               TEXT NOT NULL,
    iaid               BIGINT NOT NULL,
    subnet_id          BIGINT NOT NULL,
    state              SMALLINT NOT NULL,
    cltt               TIMESTAMP WITH TIME ZONE NOT NULL,
    preferred_lifetime BIGINT NOT NULL,
    valid_lifetime     BIGINT NOT NULL,
    fqdn_fwd           BOOLEAN NOT NULL DEFAULT FALSE,
    fqdn_rev           BOOLEAN NOT NULL DEFAULT FALSE,
    hostname           TEXT NOT NULL DEFAULT '',
    revision           BIGINT NOT NULL,
    resource           TEXT GENERATED ALWAYS AS (
        CASE WHEN type = 'IA_PD'
             THEN address || '/' || prefix_length::TEXT
             ELSE address
        END
    ) STORED UNIQUE
);

-- Looking up the leases held by a client.
CREATE INDEX lease_duid_idx ON public.lease (duid);

-- Scanning for the expired leases.
CREATE INDEX lease_state_cltt_idx ON public.lease (state, cltt);

-- Gathering per subnet statistics.
CREATE INDEX lease_subnet_id_idx ON public.lease (subnet_id);
`

var down = `
DROP TABLE IF EXISTS public.lease;
`

func init() {
	migrations.MustRegisterTx(func(db migrations.DB) error {
		_, err := db.Exec(up)
		return err
	}, func(db migrations.DB) error {
		_, err := db.Exec(down)
		return err
	})
}
