package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"voucherops/backend/internal/domain"
	"voucherops/backend/internal/store"
	"voucherops/backend/internal/xid"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db   *sql.DB
	q    queryer
	inTx bool
}

var (
	_ store.Repository = (*Store)(nil)
	_ store.Transactor = (*Store)(nil)
)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an already opened database handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InTx runs fn against a store bound to one serializable transaction.
// Retailer reads inside fn lock the row. Serialization failures surface as
// store.ErrConflict so callers can recompute from a fresh read.
func (s *Store) InTx(ctx context.Context, fn func(store.LedgerStore) error) error {
	if s.inTx {
		return fn(s)
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapTxError(err)
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := fn(&Store{db: s.db, q: pgTx, inTx: true}); err != nil {
		return mapTxError(err)
	}
	if err := pgTx.Commit(); err != nil {
		return mapTxError(err)
	}
	return nil
}

const retailerColumns = `id, name, balance, credit_limit, commission_group_id, agent_id, status, version, created_at, updated_at`

func scanRetailer(row interface{ Scan(dest ...any) error }) (*domain.Retailer, error) {
	var r domain.Retailer
	var groupID, agentID sql.NullString
	if err := row.Scan(&r.ID, &r.Name, &r.Balance, &r.CreditLimit, &groupID, &agentID, &r.Status, &r.Version, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.CommissionGroupID = groupID.String
	r.AgentID = agentID.String
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func (s *Store) GetRetailer(ctx context.Context, id string) (*domain.Retailer, error) {
	query := `SELECT ` + retailerColumns + ` FROM retailers WHERE id = $1`
	if s.inTx {
		query += ` FOR UPDATE`
	}
	r, err := scanRetailer(s.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

func (s *Store) UpdateRetailerLedger(ctx context.Context, id string, expectedVersion int64, balance decimal.Decimal, creditLimit decimal.Decimal) (*domain.Retailer, error) {
	r, err := scanRetailer(s.q.QueryRowContext(ctx, `
		UPDATE retailers
		SET balance = $3, credit_limit = $4, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING `+retailerColumns,
		id, expectedVersion, balance.Round(2), creditLimit.Round(2)))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, mapTxError(err)
	}

	var exists bool
	if err := s.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM retailers WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	return nil, store.ErrConflict
}

func (s *Store) CreateCreditLimitAdjustment(ctx context.Context, adj domain.CreditLimitAdjustment) (*domain.CreditLimitAdjustment, error) {
	if adj.ID == "" {
		adj.ID = xid.New("cla")
	}
	if adj.CreatedAt.IsZero() {
		adj.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO credit_limit_adjustments (
			id, retailer_id, direction, amount, credit_limit_before, credit_limit_after, notes, operator_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, adj.ID, adj.RetailerID, adj.Direction, adj.Amount, adj.CreditLimitBefore, adj.CreditLimitAfter, adj.Notes, adj.OperatorID, adj.CreatedAt)
	if err != nil {
		return nil, mapTxError(err)
	}
	return &adj, nil
}

func (s *Store) CreateRetailerDeposit(ctx context.Context, dep domain.RetailerDeposit) (*domain.RetailerDeposit, error) {
	if dep.ID == "" {
		dep.ID = xid.New("dep")
	}
	if dep.CreatedAt.IsZero() {
		dep.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO retailer_deposits (
			id, retailer_id, amount_deposited, deposit_method, fee_type, fee_value, fee_amount, net_amount,
			balance_before, balance_after, direction, notes, operator_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, dep.ID, dep.RetailerID, dep.AmountDeposited, dep.DepositMethod, dep.FeeType, dep.FeeValue, dep.FeeAmount, dep.NetAmount,
		dep.BalanceBefore, dep.BalanceAfter, dep.Direction, dep.Notes, dep.OperatorID, dep.CreatedAt)
	if err != nil {
		return nil, mapTxError(err)
	}
	return &dep, nil
}

func (s *Store) GetActiveFeeConfig(ctx context.Context, method string) (*domain.DepositFeeConfiguration, error) {
	var cfg domain.DepositFeeConfiguration
	err := s.q.QueryRowContext(ctx, `
		SELECT id, deposit_method, fee_type, fee_value, active, updated_at
		FROM deposit_fee_configurations
		WHERE deposit_method = $1 AND active = true
	`, method).Scan(&cfg.ID, &cfg.DepositMethod, &cfg.FeeType, &cfg.FeeValue, &cfg.Active, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	cfg.UpdatedAt = cfg.UpdatedAt.UTC()
	return &cfg, nil
}

func (s *Store) ListCreditLimitAdjustments(ctx context.Context, retailerID string, limit int) ([]domain.CreditLimitAdjustment, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT a.id, a.retailer_id, a.direction, a.amount, a.credit_limit_before, a.credit_limit_after, a.notes,
			a.operator_id, COALESCE(u.display_name, ''), COALESCE(u.email, ''), a.created_at
		FROM credit_limit_adjustments a
		LEFT JOIN app_users u ON u.username = a.operator_id
		WHERE a.retailer_id = $1
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT $2
	`, retailerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]domain.CreditLimitAdjustment, 0, min(limit, 64))
	for rows.Next() {
		var adj domain.CreditLimitAdjustment
		if err := rows.Scan(&adj.ID, &adj.RetailerID, &adj.Direction, &adj.Amount, &adj.CreditLimitBefore, &adj.CreditLimitAfter, &adj.Notes,
			&adj.OperatorID, &adj.OperatorName, &adj.OperatorEmail, &adj.CreatedAt); err != nil {
			return nil, err
		}
		adj.CreatedAt = adj.CreatedAt.UTC()
		history = append(history, adj)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return history, nil
}

func (s *Store) ListRetailerDeposits(ctx context.Context, retailerID string, limit int) ([]domain.RetailerDeposit, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT d.id, d.retailer_id, d.amount_deposited, d.deposit_method, d.fee_type, d.fee_value, d.fee_amount, d.net_amount,
			d.balance_before, d.balance_after, d.direction, d.notes,
			d.operator_id, COALESCE(u.display_name, ''), COALESCE(u.email, ''), d.created_at
		FROM retailer_deposits d
		LEFT JOIN app_users u ON u.username = d.operator_id
		WHERE d.retailer_id = $1
		ORDER BY d.created_at DESC, d.id DESC
		LIMIT $2
	`, retailerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]domain.RetailerDeposit, 0, min(limit, 64))
	for rows.Next() {
		var dep domain.RetailerDeposit
		if err := rows.Scan(&dep.ID, &dep.RetailerID, &dep.AmountDeposited, &dep.DepositMethod, &dep.FeeType, &dep.FeeValue, &dep.FeeAmount, &dep.NetAmount,
			&dep.BalanceBefore, &dep.BalanceAfter, &dep.Direction, &dep.Notes,
			&dep.OperatorID, &dep.OperatorName, &dep.OperatorEmail, &dep.CreatedAt); err != nil {
			return nil, err
		}
		dep.CreatedAt = dep.CreatedAt.UTC()
		history = append(history, dep)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return history, nil
}

func (s *Store) GetOperator(ctx context.Context, id string) (*domain.Operator, error) {
	var op domain.Operator
	err := s.q.QueryRowContext(ctx, `
		SELECT username, display_name, email, role
		FROM app_users
		WHERE username = $1 AND active = true
	`, strings.ToLower(strings.TrimSpace(id))).Scan(&op.ID, &op.Name, &op.Email, &op.Role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &op, nil
}

func (s *Store) CreateRetailer(ctx context.Context, retailer domain.Retailer) (*domain.Retailer, error) {
	retailer.Name = strings.TrimSpace(retailer.Name)
	if retailer.Name == "" || retailer.CreditLimit.IsNegative() || retailer.Balance.LessThan(retailer.Floor()) {
		return nil, store.ErrInvalidTransaction
	}
	if retailer.ID == "" {
		retailer.ID = xid.New("ret")
	}
	if retailer.Status == "" {
		retailer.Status = domain.RetailerStatusActive
	}

	created, err := scanRetailer(s.q.QueryRowContext(ctx, `
		INSERT INTO retailers (id, name, balance, credit_limit, commission_group_id, agent_id, status, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,1,now(),now())
		RETURNING `+retailerColumns,
		retailer.ID, retailer.Name, retailer.Balance.Round(2), retailer.CreditLimit.Round(2),
		nullIfEmpty(retailer.CommissionGroupID), nullIfEmpty(retailer.AgentID), retailer.Status))
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return nil, store.ErrInvalidTransaction
		case isForeignKeyViolation(err):
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return created, nil
}

func (s *Store) ListRetailers(ctx context.Context, limit int) ([]domain.Retailer, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+retailerColumns+`
		FROM retailers
		ORDER BY name ASC, id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	retailers := make([]domain.Retailer, 0, min(limit, 64))
	for rows.Next() {
		r, err := scanRetailer(rows)
		if err != nil {
			return nil, err
		}
		retailers = append(retailers, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return retailers, nil
}

func (s *Store) UpdateRetailerStatus(ctx context.Context, id string, status string) (*domain.Retailer, error) {
	if !domain.IsValidRetailerStatus(status) {
		return nil, store.ErrInvalidTransaction
	}
	r, err := scanRetailer(s.q.QueryRowContext(ctx, `
		UPDATE retailers
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+retailerColumns, id, status))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

// UpdateRetailerCommissionGroup assigns a group, or clears it when groupID is
// empty.
func (s *Store) UpdateRetailerCommissionGroup(ctx context.Context, id string, groupID string) (*domain.Retailer, error) {
	r, err := scanRetailer(s.q.QueryRowContext(ctx, `
		UPDATE retailers
		SET commission_group_id = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+retailerColumns, id, nullIfEmpty(groupID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

func (s *Store) UpsertFeeConfig(ctx context.Context, cfg domain.DepositFeeConfiguration) (*domain.DepositFeeConfiguration, error) {
	cfg.DepositMethod = strings.TrimSpace(cfg.DepositMethod)
	if cfg.DepositMethod == "" || cfg.FeeValue.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}
	if cfg.ID == "" {
		cfg.ID = xid.New("fee")
	}

	var saved domain.DepositFeeConfiguration
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO deposit_fee_configurations (id, deposit_method, fee_type, fee_value, active, updated_at)
		VALUES ($1,$2,$3,$4,true,now())
		ON CONFLICT (deposit_method)
		DO UPDATE SET fee_type = EXCLUDED.fee_type, fee_value = EXCLUDED.fee_value, active = true, updated_at = now()
		RETURNING id, deposit_method, fee_type, fee_value, active, updated_at
	`, cfg.ID, cfg.DepositMethod, cfg.FeeType, cfg.FeeValue).Scan(&saved.ID, &saved.DepositMethod, &saved.FeeType, &saved.FeeValue, &saved.Active, &saved.UpdatedAt)
	if err != nil {
		return nil, err
	}
	saved.UpdatedAt = saved.UpdatedAt.UTC()
	return &saved, nil
}

func (s *Store) ListFeeConfigs(ctx context.Context) ([]domain.DepositFeeConfiguration, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, deposit_method, fee_type, fee_value, active, updated_at
		FROM deposit_fee_configurations
		ORDER BY deposit_method ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	configs := make([]domain.DepositFeeConfiguration, 0, 8)
	for rows.Next() {
		var cfg domain.DepositFeeConfiguration
		if err := rows.Scan(&cfg.ID, &cfg.DepositMethod, &cfg.FeeType, &cfg.FeeValue, &cfg.Active, &cfg.UpdatedAt); err != nil {
			return nil, err
		}
		cfg.UpdatedAt = cfg.UpdatedAt.UTC()
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return configs, nil
}

func (s *Store) GetCommissionGroup(ctx context.Context, id string) (*domain.CommissionGroup, error) {
	var group domain.CommissionGroup
	err := s.q.QueryRowContext(ctx, `
		SELECT id, name, description, archived, created_at
		FROM commission_groups
		WHERE id = $1
	`, id).Scan(&group.ID, &group.Name, &group.Description, &group.Archived, &group.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	group.CreatedAt = group.CreatedAt.UTC()

	rates, err := s.listGroupRates(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	group.Rates = rates
	return &group, nil
}

func (s *Store) listGroupRates(ctx context.Context, groupID string) ([]domain.CommissionRate, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT voucher_type, supplier_pct, retailer_pct, agent_pct
		FROM commission_group_rates
		WHERE group_id = $1
		ORDER BY position ASC
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rates := make([]domain.CommissionRate, 0, 8)
	for rows.Next() {
		var rate domain.CommissionRate
		if err := rows.Scan(&rate.VoucherType, &rate.SupplierPercent, &rate.RetailerRate, &rate.AgentRate); err != nil {
			return nil, err
		}
		rates = append(rates, rate)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rates, nil
}

func (s *Store) ListCommissionOverrides(ctx context.Context, groupID string) ([]domain.CommissionOverride, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT group_id, voucher_type, denomination, supplier_pct, retailer_pct, agent_pct, updated_at
		FROM commission_overrides
		WHERE group_id = $1
		ORDER BY voucher_type ASC, denomination_key ASC
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	overrides := make([]domain.CommissionOverride, 0, 8)
	for rows.Next() {
		var o domain.CommissionOverride
		var denomination decimal.NullDecimal
		if err := rows.Scan(&o.GroupID, &o.VoucherType, &denomination, &o.SupplierPercent, &o.RetailerRate, &o.AgentRate, &o.UpdatedAt); err != nil {
			return nil, err
		}
		if denomination.Valid {
			d := denomination.Decimal
			o.Denomination = &d
		}
		o.UpdatedAt = o.UpdatedAt.UTC()
		overrides = append(overrides, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return overrides, nil
}

func (s *Store) CreateCommissionGroup(ctx context.Context, group domain.CommissionGroup) (*domain.CommissionGroup, error) {
	group.Name = strings.TrimSpace(group.Name)
	if group.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if group.ID == "" {
		group.ID = xid.New("grp")
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := pgTx.QueryRowContext(ctx, `
		INSERT INTO commission_groups (id, name, description, archived, created_at)
		VALUES ($1,$2,$3,false,now())
		RETURNING created_at
	`, group.ID, group.Name, group.Description).Scan(&group.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}

	for i, rate := range group.Rates {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO commission_group_rates (group_id, voucher_type, position, supplier_pct, retailer_pct, agent_pct)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, group.ID, rate.VoucherType, i, rate.SupplierPercent, rate.RetailerRate, rate.AgentRate); err != nil {
			if isUniqueViolation(err) {
				return nil, store.ErrInvalidTransaction
			}
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	group.Archived = false
	group.CreatedAt = group.CreatedAt.UTC()
	if group.Rates == nil {
		group.Rates = []domain.CommissionRate{}
	}
	return &group, nil
}

func (s *Store) ListCommissionGroups(ctx context.Context, includeArchived bool) ([]domain.CommissionGroup, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, description, archived, created_at
		FROM commission_groups
		WHERE archived = false OR $1
		ORDER BY name ASC, id ASC
	`, includeArchived)
	if err != nil {
		return nil, err
	}

	groups := make([]domain.CommissionGroup, 0, 16)
	for rows.Next() {
		var group domain.CommissionGroup
		if err := rows.Scan(&group.ID, &group.Name, &group.Description, &group.Archived, &group.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		group.CreatedAt = group.CreatedAt.UTC()
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range groups {
		rates, err := s.listGroupRates(ctx, groups[i].ID)
		if err != nil {
			return nil, err
		}
		groups[i].Rates = rates
	}
	return groups, nil
}

func (s *Store) ArchiveCommissionGroup(ctx context.Context, id string) (*domain.CommissionGroup, error) {
	res, err := s.q.ExecContext(ctx, `UPDATE commission_groups SET archived = true WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetCommissionGroup(ctx, id)
}

func (s *Store) UpsertCommissionOverride(ctx context.Context, override domain.CommissionOverride) (*domain.CommissionOverride, error) {
	if strings.TrimSpace(override.VoucherType) == "" {
		return nil, store.ErrInvalidTransaction
	}

	var denomination any
	key := ""
	if override.Denomination != nil {
		d := override.Denomination.Round(2)
		denomination = d
		key = d.StringFixed(2)
	}

	err := s.q.QueryRowContext(ctx, `
		INSERT INTO commission_overrides (
			group_id, voucher_type, denomination_key, denomination, supplier_pct, retailer_pct, agent_pct, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		ON CONFLICT (group_id, voucher_type, denomination_key)
		DO UPDATE SET supplier_pct = EXCLUDED.supplier_pct, retailer_pct = EXCLUDED.retailer_pct,
			agent_pct = EXCLUDED.agent_pct, updated_at = now()
		RETURNING updated_at
	`, override.GroupID, override.VoucherType, key, denomination, override.SupplierPercent, override.RetailerRate, override.AgentRate).Scan(&override.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	override.UpdatedAt = override.UpdatedAt.UTC()
	return &override, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleViewer
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO app_users (username, password, display_name, email, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
	`, user.Username, user.Password, user.DisplayName, user.Email, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT username, password, display_name, email, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.DisplayName, &user.Email, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == "23505"
}

func isForeignKeyViolation(err error) bool {
	return pgErrorCode(err) == "23503"
}

// mapTxError turns serialization failures and deadlocks into
// store.ErrConflict.
func mapTxError(err error) error {
	switch pgErrorCode(err) {
	case "40001", "40P01":
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}

func nullIfEmpty(val string) any {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	return val
}
