package models

import (
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType selects which side of the daily batch a movement feeds.
type MovementType string

const (
	MovementIncome  MovementType = "income"
	MovementExpense MovementType = "expense"
)

// Movement reasons. ReasonOther requires a free-text detail.
const (
	ReasonSale     = "Sale"
	ReasonSupplier = "SupplierPayment"
	ReasonServices = "Services"
	ReasonPayroll  = "Payroll"
	ReasonLoan     = "Loan"
	ReasonOther    = "Other"
)

// Payment methods accepted at the register. MethodExternal marks a
// movement that is tracked for visibility but never aggregated.
const (
	MethodCash     = "Cash"
	MethodCard     = "Card"
	MethodTransfer = "Transfer"
	MethodVouchers = "Vouchers"
	MethodCredit   = "Credit"
	MethodExternal = "External"
)

var (
	ErrInvalidType   = errors.New("movement type must be income or expense")
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	ErrInvalidMethod = errors.New("method not allowed for movement type")
	ErrInvalidReason = errors.New("unknown movement reason")
	ErrMissingDetail = errors.New("reason detail required when reason is Other")
)

// Movement is a single dated cash transaction. Rows are immutable:
// the register only creates and deletes them, never updates in place.
type Movement struct {
	ID           int64           `json:"id" db:"id"`
	Date         time.Time       `json:"date" db:"date"`
	Type         MovementType    `json:"type" db:"type"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	Concept      string          `json:"concept" db:"concept"`
	Reason       string          `json:"reason" db:"reason"`
	ReasonDetail string          `json:"reasonDetail,omitempty" db:"reason_detail"`
	Method       string          `json:"method" db:"method"`
	IsExternal   bool            `json:"isExternal" db:"is_external"`
	BatchID      sql.NullInt64   `json:"-" db:"batch_id"`
	UserID       sql.NullInt64   `json:"-" db:"user_id"`
	CreatedAt    time.Time       `json:"createdAt" db:"created_at"`
}

var incomeMethods = []string{MethodCash, MethodCard, MethodTransfer, MethodVouchers, MethodExternal}

var expenseMethods = []string{MethodCash, MethodCard, MethodTransfer, MethodVouchers, MethodCredit, MethodExternal}

// Reasons returns the closed reason list shared by both movement types.
func Reasons() []string {
	return []string{ReasonSale, ReasonSupplier, ReasonServices, ReasonPayroll, ReasonLoan, ReasonOther}
}

// MethodsFor returns the allowed payment methods for a movement type.
func MethodsFor(t MovementType) []string {
	if t == MovementExpense {
		return expenseMethods
	}
	return incomeMethods
}

// Validate checks the enum constraints the ledger engine relies on.
// Amount positivity and method/reason membership are verified here once,
// at the boundary, instead of ad hoc at every call site.
func (m *Movement) Validate() error {
	if m.Type != MovementIncome && m.Type != MovementExpense {
		return ErrInvalidType
	}
	if m.Amount.Cmp(decimal.Zero) <= 0 {
		return ErrInvalidAmount
	}
	if !contains(MethodsFor(m.Type), m.Method) {
		return ErrInvalidMethod
	}
	if !contains(Reasons(), m.Reason) {
		return ErrInvalidReason
	}
	if m.Reason == ReasonOther && m.ReasonDetail == "" {
		return ErrMissingDetail
	}
	return nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
