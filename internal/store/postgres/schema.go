package postgres

import "context"

const schema = `
CREATE TABLE IF NOT EXISTS app_users (
	username     TEXT PRIMARY KEY,
	password     TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	role         TEXT NOT NULL,
	active       BOOLEAN NOT NULL DEFAULT true,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS commission_groups (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	archived    BOOLEAN NOT NULL DEFAULT false,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS commission_group_rates (
	group_id     TEXT NOT NULL REFERENCES commission_groups(id),
	voucher_type TEXT NOT NULL,
	position     INT NOT NULL,
	supplier_pct NUMERIC(7,4) NOT NULL,
	retailer_pct NUMERIC(7,6) NOT NULL,
	agent_pct    NUMERIC(7,6) NOT NULL,
	PRIMARY KEY (group_id, voucher_type)
);

CREATE TABLE IF NOT EXISTS commission_overrides (
	group_id         TEXT NOT NULL REFERENCES commission_groups(id),
	voucher_type     TEXT NOT NULL,
	denomination_key TEXT NOT NULL DEFAULT '',
	denomination     NUMERIC(14,2),
	supplier_pct     NUMERIC(7,4) NOT NULL,
	retailer_pct     NUMERIC(7,6) NOT NULL,
	agent_pct        NUMERIC(7,6) NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (group_id, voucher_type, denomination_key)
);

CREATE TABLE IF NOT EXISTS retailers (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	balance             NUMERIC(14,2) NOT NULL DEFAULT 0,
	credit_limit        NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (credit_limit >= 0),
	commission_group_id TEXT REFERENCES commission_groups(id),
	agent_id            TEXT,
	status              TEXT NOT NULL DEFAULT 'active',
	version             BIGINT NOT NULL DEFAULT 1,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (balance >= -credit_limit)
);

CREATE TABLE IF NOT EXISTS credit_limit_adjustments (
	id                  TEXT PRIMARY KEY,
	retailer_id         TEXT NOT NULL REFERENCES retailers(id),
	direction           TEXT NOT NULL,
	amount              NUMERIC(14,2) NOT NULL,
	credit_limit_before NUMERIC(14,2) NOT NULL,
	credit_limit_after  NUMERIC(14,2) NOT NULL,
	notes               TEXT NOT NULL DEFAULT '',
	operator_id         TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS credit_limit_adjustments_retailer_idx
	ON credit_limit_adjustments (retailer_id, created_at DESC);

CREATE TABLE IF NOT EXISTS deposit_fee_configurations (
	id             TEXT PRIMARY KEY,
	deposit_method TEXT NOT NULL UNIQUE,
	fee_type       TEXT NOT NULL,
	fee_value      NUMERIC(14,4) NOT NULL CHECK (fee_value >= 0),
	active         BOOLEAN NOT NULL DEFAULT true,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS retailer_deposits (
	id               TEXT PRIMARY KEY,
	retailer_id      TEXT NOT NULL REFERENCES retailers(id),
	amount_deposited NUMERIC(14,2) NOT NULL,
	deposit_method   TEXT NOT NULL,
	fee_type         TEXT NOT NULL,
	fee_value        NUMERIC(14,4) NOT NULL,
	fee_amount       NUMERIC(14,2) NOT NULL,
	net_amount       NUMERIC(14,2) NOT NULL,
	balance_before   NUMERIC(14,2) NOT NULL,
	balance_after    NUMERIC(14,2) NOT NULL,
	direction        TEXT NOT NULL,
	notes            TEXT NOT NULL DEFAULT '',
	operator_id      TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS retailer_deposits_retailer_idx
	ON retailer_deposits (retailer_id, created_at DESC);
`

// EnsureSchema creates missing tables. It never alters existing ones.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}
