package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Retailer struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Balance           decimal.Decimal `json:"balance"`
	CreditLimit       decimal.Decimal `json:"credit_limit"`
	CommissionGroupID string          `json:"commission_group_id,omitempty"`
	AgentID           string          `json:"agent_id,omitempty"`
	Status            string          `json:"status"`
	Version           int64           `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Floor is the lowest balance the retailer may reach.
func (r Retailer) Floor() decimal.Decimal {
	return r.CreditLimit.Neg()
}

type RetailerCreateRequest struct {
	Name              string          `json:"name"`
	CreditLimit       decimal.Decimal `json:"credit_limit"`
	CommissionGroupID string          `json:"commission_group_id,omitempty"`
	AgentID           string          `json:"agent_id,omitempty"`
}

type RetailerStatusRequest struct {
	Status string `json:"status"`
}

type CommissionGroupAssignRequest struct {
	CommissionGroupID string `json:"commission_group_id"`
}

type CreditLimitAdjustment struct {
	ID                string          `json:"id"`
	RetailerID        string          `json:"retailer_id"`
	Direction         string          `json:"direction"`
	Amount            decimal.Decimal `json:"amount"`
	CreditLimitBefore decimal.Decimal `json:"credit_limit_before"`
	CreditLimitAfter  decimal.Decimal `json:"credit_limit_after"`
	Notes             string          `json:"notes,omitempty"`
	OperatorID        string          `json:"operator_id"`
	OperatorName      string          `json:"operator_name,omitempty"`
	OperatorEmail     string          `json:"operator_email,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

type CreditLimitAdjustmentRequest struct {
	RetailerID string          `json:"-"`
	Direction  string          `json:"direction"`
	Amount     decimal.Decimal `json:"amount"`
	Notes      string          `json:"notes"`
	ManagerPIN string          `json:"manager_pin,omitempty"`
}

type RetailerDeposit struct {
	ID              string          `json:"id"`
	RetailerID      string          `json:"retailer_id"`
	AmountDeposited decimal.Decimal `json:"amount_deposited"`
	DepositMethod   string          `json:"deposit_method"`
	FeeType         string          `json:"fee_type"`
	FeeValue        decimal.Decimal `json:"fee_value"`
	FeeAmount       decimal.Decimal `json:"fee_amount"`
	NetAmount       decimal.Decimal `json:"net_amount"`
	BalanceBefore   decimal.Decimal `json:"balance_before"`
	BalanceAfter    decimal.Decimal `json:"balance_after"`
	Direction       string          `json:"direction"`
	Notes           string          `json:"notes,omitempty"`
	OperatorID      string          `json:"operator_id"`
	OperatorName    string          `json:"operator_name,omitempty"`
	OperatorEmail   string          `json:"operator_email,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type RetailerDepositRequest struct {
	RetailerID      string          `json:"-"`
	AmountDeposited decimal.Decimal `json:"amount_deposited"`
	DepositMethod   string          `json:"deposit_method"`
	Direction       string          `json:"direction"`
	Notes           string          `json:"notes"`
	ManagerPIN      string          `json:"manager_pin,omitempty"`
}

type DepositFeeConfiguration struct {
	ID            string          `json:"id"`
	DepositMethod string          `json:"deposit_method"`
	FeeType       string          `json:"fee_type"`
	FeeValue      decimal.Decimal `json:"fee_value"`
	Active        bool            `json:"active"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type FeeConfigUpsertRequest struct {
	DepositMethod string          `json:"deposit_method"`
	FeeType       string          `json:"fee_type"`
	FeeValue      decimal.Decimal `json:"fee_value"`
}

// CommissionRate is the persisted per-voucher-type rate of a group.
// SupplierPercent is a whole-number percent (5 means 5%); RetailerRate and
// AgentRate are fractions in [0,1].
type CommissionRate struct {
	VoucherType     string          `json:"voucher_type"`
	SupplierPercent decimal.Decimal `json:"supplier_pct"`
	RetailerRate    decimal.Decimal `json:"retailer_pct"`
	AgentRate       decimal.Decimal `json:"agent_pct"`
}

type CommissionGroup struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Rates       []CommissionRate `json:"rates"`
	Archived    bool             `json:"archived"`
	CreatedAt   time.Time        `json:"created_at"`
}

type CommissionGroupCreateRequest struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Rates       []CommissionRate `json:"rates"`
}

// CommissionOverride replaces the group rate for a voucher type. A nil
// Denomination applies to every denomination of that voucher type.
type CommissionOverride struct {
	GroupID         string           `json:"group_id"`
	VoucherType     string           `json:"voucher_type"`
	Denomination    *decimal.Decimal `json:"denomination,omitempty"`
	SupplierPercent decimal.Decimal  `json:"supplier_pct"`
	RetailerRate    decimal.Decimal  `json:"retailer_pct"`
	AgentRate       decimal.Decimal  `json:"agent_pct"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// CommissionSnapshot is everything needed to resolve commission for one group.
type CommissionSnapshot struct {
	Group     CommissionGroup      `json:"group"`
	Overrides []CommissionOverride `json:"overrides"`
}

// CommissionBreakdown carries every rate as a fraction in [0,1].
type CommissionBreakdown struct {
	GroupID        string           `json:"group_id"`
	VoucherType    string           `json:"voucher_type"`
	Source         string           `json:"source"`
	SupplierRate   decimal.Decimal  `json:"supplier_rate"`
	RetailerRate   decimal.Decimal  `json:"retailer_rate"`
	AgentRate      decimal.Decimal  `json:"agent_rate"`
	SaleAmount     *decimal.Decimal `json:"sale_amount,omitempty"`
	SupplierAmount *decimal.Decimal `json:"supplier_amount,omitempty"`
	RetailerAmount *decimal.Decimal `json:"retailer_amount,omitempty"`
	AgentAmount    *decimal.Decimal `json:"agent_amount,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// Operator is the console user recorded on audit records.
type Operator struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type OperatorCreateRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Role        string `json:"role"`
}

type OperatorUser struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username    string
	Password    string
	DisplayName string
	Email       string
	Role        string
	Active      bool
	CreatedAt   time.Time
}

const (
	RetailerStatusActive    = "active"
	RetailerStatusInactive  = "inactive"
	RetailerStatusSuspended = "suspended"
)

const (
	CreditDirectionIncrease = "increase"
	CreditDirectionDecrease = "decrease"
)

const (
	DepositDirectionDeposit = "deposit"
	DepositDirectionRemoval = "removal"
)

const (
	FeeTypeFixed      = "fixed"
	FeeTypePercentage = "percentage"
)

const (
	CommissionSourceOverride = "override"
	CommissionSourceGroup    = "group"
)

const (
	RoleAdmin   = "admin"
	RoleFinance = "finance"
	RoleViewer  = "viewer"
)

func IsValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleFinance, RoleViewer:
		return true
	}
	return false
}

func IsValidRetailerStatus(status string) bool {
	switch status {
	case RetailerStatusActive, RetailerStatusInactive, RetailerStatusSuspended:
		return true
	}
	return false
}
