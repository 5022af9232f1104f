package models

import (
	"database/sql"
	"fmt"
	"math/rand"
	"time"
)

// Batch reconciliation statuses.
const (
	BatchPending   = "pending"
	BatchPaid      = "paid"
	BatchCancelled = "cancelled"
)

// Batch is the per-calendar-day aggregate record. One row exists per
// date (unique index); its sums always equal the totals of the
// currently-existing non-external movements for that date.
type Batch struct {
	ID          int64          `json:"id" db:"id"`
	BatchRef    string         `json:"batchRef" db:"batch_ref"`
	Date        time.Time      `json:"date" db:"date"`
	IncomeSums  SumMap         `json:"incomeSums" db:"income_sums"`
	ExpenseSums SumMap         `json:"expenseSums" db:"expense_sums"`
	Status      string         `json:"status" db:"status"`
	PaidAt      *time.Time     `json:"paidAt,omitempty" db:"paid_at"`
	PaymentRef  sql.NullString `json:"-" db:"payment_ref"`
	CreatedAt   time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time      `json:"updatedAt" db:"updated_at"`
}

// NewBatchRef generates the human-readable business key assigned when
// a batch row is first created for a date.
func NewBatchRef() string {
	return fmt.Sprintf("B%d%04d", time.Now().UnixMilli(), rand.Intn(10000))
}

// SumsFor returns the map matching the movement type.
func (b *Batch) SumsFor(t MovementType) SumMap {
	if t == MovementExpense {
		if b.ExpenseSums == nil {
			b.ExpenseSums = NewSumMap()
		}
		return b.ExpenseSums
	}
	if b.IncomeSums == nil {
		b.IncomeSums = NewSumMap()
	}
	return b.IncomeSums
}
