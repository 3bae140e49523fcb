package memory

import (
	"cmp"
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"voucherops/backend/internal/domain"
	"voucherops/backend/internal/store"
	"voucherops/backend/internal/xid"
)

// Store keeps every record in process memory. Concurrency control on the
// retailer ledger is the version check in UpdateRetailerLedger; there is no
// multi-write transaction, so callers fall back to compensating writes.
type Store struct {
	mu                 sync.RWMutex
	retailersByID      map[string]domain.Retailer
	creditAdjustments  map[string][]domain.CreditLimitAdjustment
	deposits           map[string][]domain.RetailerDeposit
	feeConfigsByMethod map[string]domain.DepositFeeConfiguration
	groupsByID         map[string]domain.CommissionGroup
	overridesByGroup   map[string][]domain.CommissionOverride
	usersByUsername    map[string]domain.UserAccount
	now                func() time.Time
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		retailersByID:      make(map[string]domain.Retailer),
		creditAdjustments:  make(map[string][]domain.CreditLimitAdjustment),
		deposits:           make(map[string][]domain.RetailerDeposit),
		feeConfigsByMethod: make(map[string]domain.DepositFeeConfiguration),
		groupsByID:         make(map[string]domain.CommissionGroup),
		overridesByGroup:   make(map[string][]domain.CommissionOverride),
		usersByUsername:    make(map[string]domain.UserAccount),
		now:                func() time.Time { return time.Now().UTC() },
	}
}

// NewSeeded returns a store with demo operators, fee configurations, one
// commission group and two retailers for dev mode.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	now := s.now()
	for _, cfg := range []domain.DepositFeeConfiguration{
		{DepositMethod: "cash", FeeType: domain.FeeTypeFixed, FeeValue: decimal.Zero},
		{DepositMethod: "bank_transfer", FeeType: domain.FeeTypeFixed, FeeValue: decimal.RequireFromString("5.00")},
		{DepositMethod: "card", FeeType: domain.FeeTypePercentage, FeeValue: decimal.RequireFromString("2")},
	} {
		cfg.ID = xid.New("fee")
		cfg.Active = true
		cfg.UpdatedAt = now
		s.feeConfigsByMethod[cfg.DepositMethod] = cfg
	}

	group := domain.CommissionGroup{
		ID:          "grp-standard",
		Name:        "Standard",
		Description: "Default rates for new retailers",
		Rates: []domain.CommissionRate{
			{VoucherType: "airtime", SupplierPercent: decimal.RequireFromString("5"), RetailerRate: decimal.RequireFromString("0.03"), AgentRate: decimal.RequireFromString("0.01")},
			{VoucherType: "electricity", SupplierPercent: decimal.RequireFromString("2.5"), RetailerRate: decimal.RequireFromString("0.015"), AgentRate: decimal.RequireFromString("0.005")},
		},
		CreatedAt: now,
	}
	s.groupsByID[group.ID] = group

	for _, r := range []domain.Retailer{
		{ID: "ret-demo-001", Name: "Corner Spaza", Balance: decimal.RequireFromString("100.00"), CreditLimit: decimal.RequireFromString("50.00"), CommissionGroupID: group.ID},
		{ID: "ret-demo-002", Name: "Station Kiosk", Balance: decimal.Zero, CreditLimit: decimal.Zero},
	} {
		r.Status = domain.RetailerStatusActive
		r.Version = 1
		r.CreatedAt = now
		r.UpdatedAt = now
		s.retailersByID[r.ID] = r
	}
	return s
}

// seedUsers builds the initial in-memory operator accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_FINANCE_PASSWORD;
// when unset, dev defaults are used with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	financePwd := envOr("SEED_FINANCE_PASSWORD", "finance123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_FINANCE_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_FINANCE_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		name     string
		role     string
	}{
		{"admin", adminPwd, "Back Office Admin", domain.RoleAdmin},
		{"finance", financePwd, "Finance Desk", domain.RoleFinance},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:    u.username,
			Password:    string(hash),
			DisplayName: u.name,
			Email:       u.username + "@voucherops.local",
			Role:        u.role,
			Active:      true,
			CreatedAt:   now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) GetRetailer(_ context.Context, id string) (*domain.Retailer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	retailer, exists := s.retailersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &retailer, nil
}

func (s *Store) UpdateRetailerLedger(_ context.Context, id string, expectedVersion int64, balance decimal.Decimal, creditLimit decimal.Decimal) (*domain.Retailer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	retailer, exists := s.retailersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if retailer.Version != expectedVersion {
		return nil, store.ErrConflict
	}

	retailer.Balance = balance.Round(2)
	retailer.CreditLimit = creditLimit.Round(2)
	retailer.Version++
	retailer.UpdatedAt = s.now()
	s.retailersByID[id] = retailer
	return &retailer, nil
}

func (s *Store) CreateCreditLimitAdjustment(_ context.Context, adj domain.CreditLimitAdjustment) (*domain.CreditLimitAdjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.retailersByID[adj.RetailerID]; !exists {
		return nil, store.ErrNotFound
	}
	if adj.ID == "" {
		adj.ID = xid.New("cla")
	}
	if adj.CreatedAt.IsZero() {
		adj.CreatedAt = s.now()
	}
	s.creditAdjustments[adj.RetailerID] = append(s.creditAdjustments[adj.RetailerID], adj)
	return &adj, nil
}

func (s *Store) CreateRetailerDeposit(_ context.Context, dep domain.RetailerDeposit) (*domain.RetailerDeposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.retailersByID[dep.RetailerID]; !exists {
		return nil, store.ErrNotFound
	}
	if dep.ID == "" {
		dep.ID = xid.New("dep")
	}
	if dep.CreatedAt.IsZero() {
		dep.CreatedAt = s.now()
	}
	s.deposits[dep.RetailerID] = append(s.deposits[dep.RetailerID], dep)
	return &dep, nil
}

func (s *Store) GetActiveFeeConfig(_ context.Context, method string) (*domain.DepositFeeConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, exists := s.feeConfigsByMethod[method]
	if !exists || !cfg.Active {
		return nil, store.ErrNotFound
	}
	return &cfg, nil
}

func (s *Store) ListCreditLimitAdjustments(_ context.Context, retailerID string, limit int) ([]domain.CreditLimitAdjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := slices.Clone(s.creditAdjustments[retailerID])
	slices.SortFunc(history, func(a, b domain.CreditLimitAdjustment) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	for i := range history {
		if user, ok := s.usersByUsername[history[i].OperatorID]; ok {
			history[i].OperatorName = user.DisplayName
			history[i].OperatorEmail = user.Email
		}
	}
	if history == nil {
		history = []domain.CreditLimitAdjustment{}
	}
	return history, nil
}

func (s *Store) ListRetailerDeposits(_ context.Context, retailerID string, limit int) ([]domain.RetailerDeposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := slices.Clone(s.deposits[retailerID])
	slices.SortFunc(history, func(a, b domain.RetailerDeposit) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	for i := range history {
		if user, ok := s.usersByUsername[history[i].OperatorID]; ok {
			history[i].OperatorName = user.DisplayName
			history[i].OperatorEmail = user.Email
		}
	}
	if history == nil {
		history = []domain.RetailerDeposit{}
	}
	return history, nil
}

func (s *Store) GetOperator(_ context.Context, id string) (*domain.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByUsername[strings.ToLower(strings.TrimSpace(id))]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &domain.Operator{ID: user.Username, Name: user.DisplayName, Email: user.Email, Role: user.Role}, nil
}

func (s *Store) CreateRetailer(_ context.Context, retailer domain.Retailer) (*domain.Retailer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(retailer.Name) == "" || retailer.CreditLimit.IsNegative() || retailer.Balance.LessThan(retailer.Floor()) {
		return nil, store.ErrInvalidTransaction
	}
	if retailer.ID == "" {
		retailer.ID = xid.New("ret")
	}
	if _, exists := s.retailersByID[retailer.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	if retailer.CommissionGroupID != "" {
		if _, exists := s.groupsByID[retailer.CommissionGroupID]; !exists {
			return nil, store.ErrNotFound
		}
	}
	if retailer.Status == "" {
		retailer.Status = domain.RetailerStatusActive
	}
	now := s.now()
	retailer.Balance = retailer.Balance.Round(2)
	retailer.CreditLimit = retailer.CreditLimit.Round(2)
	retailer.Version = 1
	retailer.CreatedAt = now
	retailer.UpdatedAt = now
	s.retailersByID[retailer.ID] = retailer
	return &retailer, nil
}

func (s *Store) ListRetailers(_ context.Context, limit int) ([]domain.Retailer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	retailers := make([]domain.Retailer, 0, len(s.retailersByID))
	for _, r := range s.retailersByID {
		retailers = append(retailers, r)
	}
	slices.SortFunc(retailers, func(a, b domain.Retailer) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(retailers) > limit {
		retailers = retailers[:limit]
	}
	return retailers, nil
}

func (s *Store) UpdateRetailerStatus(_ context.Context, id string, status string) (*domain.Retailer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	retailer, exists := s.retailersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	retailer.Status = status
	retailer.UpdatedAt = s.now()
	s.retailersByID[id] = retailer
	return &retailer, nil
}

func (s *Store) UpdateRetailerCommissionGroup(_ context.Context, id string, groupID string) (*domain.Retailer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	retailer, exists := s.retailersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if groupID != "" {
		if _, exists := s.groupsByID[groupID]; !exists {
			return nil, store.ErrNotFound
		}
	}
	retailer.CommissionGroupID = groupID
	retailer.UpdatedAt = s.now()
	s.retailersByID[id] = retailer
	return &retailer, nil
}

func (s *Store) UpsertFeeConfig(_ context.Context, cfg domain.DepositFeeConfiguration) (*domain.DepositFeeConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.DepositMethod == "" {
		return nil, store.ErrInvalidTransaction
	}
	// Same precision as the fee_value column.
	cfg.FeeValue = cfg.FeeValue.Round(4)
	if existing, exists := s.feeConfigsByMethod[cfg.DepositMethod]; exists {
		cfg.ID = existing.ID
	}
	if cfg.ID == "" {
		cfg.ID = xid.New("fee")
	}
	cfg.Active = true
	cfg.UpdatedAt = s.now()
	s.feeConfigsByMethod[cfg.DepositMethod] = cfg
	return &cfg, nil
}

func (s *Store) ListFeeConfigs(_ context.Context) ([]domain.DepositFeeConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	configs := make([]domain.DepositFeeConfiguration, 0, len(s.feeConfigsByMethod))
	for _, cfg := range s.feeConfigsByMethod {
		configs = append(configs, cfg)
	}
	slices.SortFunc(configs, func(a, b domain.DepositFeeConfiguration) int {
		return cmp.Compare(a.DepositMethod, b.DepositMethod)
	})
	return configs, nil
}

func (s *Store) GetCommissionGroup(_ context.Context, id string) (*domain.CommissionGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, exists := s.groupsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	group.Rates = slices.Clone(group.Rates)
	return &group, nil
}

func (s *Store) ListCommissionOverrides(_ context.Context, groupID string) ([]domain.CommissionOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	overrides := slices.Clone(s.overridesByGroup[groupID])
	if overrides == nil {
		overrides = []domain.CommissionOverride{}
	}
	return overrides, nil
}

func (s *Store) CreateCommissionGroup(_ context.Context, group domain.CommissionGroup) (*domain.CommissionGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(group.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if group.ID == "" {
		group.ID = xid.New("grp")
	}
	if _, exists := s.groupsByID[group.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	group.Rates = slices.Clone(group.Rates)
	group.CreatedAt = s.now()
	s.groupsByID[group.ID] = group
	return &group, nil
}

func (s *Store) ListCommissionGroups(_ context.Context, includeArchived bool) ([]domain.CommissionGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]domain.CommissionGroup, 0, len(s.groupsByID))
	for _, g := range s.groupsByID {
		if g.Archived && !includeArchived {
			continue
		}
		g.Rates = slices.Clone(g.Rates)
		groups = append(groups, g)
	}
	slices.SortFunc(groups, func(a, b domain.CommissionGroup) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return groups, nil
}

func (s *Store) ArchiveCommissionGroup(_ context.Context, id string) (*domain.CommissionGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, exists := s.groupsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	group.Archived = true
	s.groupsByID[id] = group
	group.Rates = slices.Clone(group.Rates)
	return &group, nil
}

func (s *Store) UpsertCommissionOverride(_ context.Context, override domain.CommissionOverride) (*domain.CommissionOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groupsByID[override.GroupID]; !exists {
		return nil, store.ErrNotFound
	}
	if override.Denomination != nil {
		denomination := override.Denomination.Round(2)
		override.Denomination = &denomination
	}
	override.UpdatedAt = s.now()

	overrides := s.overridesByGroup[override.GroupID]
	for i, existing := range overrides {
		if existing.VoucherType == override.VoucherType && sameDenomination(existing.Denomination, override.Denomination) {
			overrides[i] = override
			return &override, nil
		}
	}
	s.overridesByGroup[override.GroupID] = append(overrides, override)
	return &override, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleViewer
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func newestFirst(a, b time.Time, aID, bID string) int {
	if a.Equal(b) {
		return cmp.Compare(bID, aID)
	}
	if a.After(b) {
		return -1
	}
	return 1
}

func sameDenomination(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
