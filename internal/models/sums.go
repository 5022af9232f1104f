package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Canonical sum buckets. Writes only ever land in the first four
// (or BucketOther under strict bucketing); BucketCredit and BucketOther
// exist for the expense display set and the read-side fold.
const (
	BucketCash     = "Cash"
	BucketCard     = "Card"
	BucketTransfer = "Transfer"
	BucketVouchers = "Vouchers"
	BucketCredit   = "Credit"
	BucketOther    = "Other"
)

// WriteBuckets is the closed set the ledger engine increments.
var WriteBuckets = []string{BucketCash, BucketCard, BucketTransfer, BucketVouchers}

// IncomeDisplayBuckets is the read-side fold order for income sums.
var IncomeDisplayBuckets = []string{BucketCash, BucketTransfer, BucketCard, BucketVouchers, BucketOther}

// ExpenseDisplayBuckets adds Credit, which the register accepts for
// expenses only.
var ExpenseDisplayBuckets = []string{BucketCash, BucketTransfer, BucketCard, BucketVouchers, BucketCredit, BucketOther}

// WriteBucket folds a movement method into the bucket the engine
// increments. Methods outside the recognized set historically
// accumulated into Cash; strictOther routes them to Other instead.
func WriteBucket(method string, strictOther bool) string {
	for _, b := range WriteBuckets {
		if method == b {
			return b
		}
	}
	if strictOther {
		return BucketOther
	}
	return BucketCash
}

// SumMap is a bucket -> running total mapping persisted as a JSON
// column. Scan/Value round-trip the full stored map, so legacy keys
// accumulated under old bucket names survive read-modify-write cycles.
type SumMap map[string]decimal.Decimal

// NewSumMap returns a map zero-filled over the write bucket set.
func NewSumMap() SumMap {
	m := make(SumMap, len(WriteBuckets))
	for _, b := range WriteBuckets {
		m[b] = decimal.Zero
	}
	return m
}

// Add applies sign*amount to bucket, rounding to 2 decimal places
// after the mutation. Rounding happens per mutation, not deferred,
// so apply/reverse cycles are reversible at currency precision.
func (m SumMap) Add(bucket string, amount decimal.Decimal, sign int) {
	m[bucket] = m[bucket].Add(amount.Mul(decimal.NewFromInt(int64(sign)))).Round(2)
}

// Total sums every bucket, known or legacy.
func (m SumMap) Total() decimal.Decimal {
	total := decimal.Zero
	for _, v := range m {
		total = total.Add(v)
	}
	return total
}

func (m SumMap) Value() (driver.Value, error) {
	if m == nil {
		return json.Marshal(SumMap{})
	}
	return json.Marshal(m)
}

func (m *SumMap) Scan(src any) error {
	if src == nil {
		*m = NewSumMap()
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported sum map source type %T", src)
	}
	if len(raw) == 0 {
		*m = NewSumMap()
		return nil
	}
	return json.Unmarshal(raw, m)
}
