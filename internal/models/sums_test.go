package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestWriteBucket(t *testing.T) {
	t.Run("recognized methods map to themselves", func(t *testing.T) {
		for _, m := range []string{BucketCash, BucketCard, BucketTransfer, BucketVouchers} {
			assert.Equal(t, m, WriteBucket(m, false))
			assert.Equal(t, m, WriteBucket(m, true))
		}
	})

	t.Run("unknown method falls back to Cash", func(t *testing.T) {
		assert.Equal(t, BucketCash, WriteBucket("Crypto", false))
		assert.Equal(t, BucketCash, WriteBucket("Credit", false))
	})

	t.Run("strict bucketing routes unknown methods to Other", func(t *testing.T) {
		assert.Equal(t, BucketOther, WriteBucket("Crypto", true))
		assert.Equal(t, BucketOther, WriteBucket("Credit", true))
	})
}

func TestSumMapAdd(t *testing.T) {
	t.Run("apply then reverse restores the original value", func(t *testing.T) {
		m := NewSumMap()
		amount := decimal.RequireFromString("12.34")

		m.Add(BucketCash, amount, 1)
		assert.True(t, m[BucketCash].Equal(amount))

		m.Add(BucketCash, amount, -1)
		assert.True(t, m[BucketCash].IsZero())
	})

	t.Run("rounds to two decimal places per mutation", func(t *testing.T) {
		m := NewSumMap()
		m.Add(BucketCard, decimal.RequireFromString("10.005"), 1)
		assert.Equal(t, "10.01", m[BucketCard].StringFixed(2))

		m.Add(BucketCard, decimal.RequireFromString("0.004"), 1)
		assert.Equal(t, "10.01", m[BucketCard].StringFixed(2))
	})

	t.Run("accumulates into an absent bucket", func(t *testing.T) {
		m := SumMap{}
		m.Add(BucketOther, decimal.NewFromInt(5), 1)
		assert.True(t, m[BucketOther].Equal(decimal.NewFromInt(5)))
	})
}

func TestSumMapTotal(t *testing.T) {
	m := SumMap{
		BucketCash:     decimal.RequireFromString("100.50"),
		BucketCard:     decimal.RequireFromString("20.25"),
		"LegacyBucket": decimal.RequireFromString("4.25"),
	}
	assert.Equal(t, "125.00", m.Total().StringFixed(2))
}

func TestSumMapScanValue(t *testing.T) {
	t.Run("nil source yields a zero-filled map", func(t *testing.T) {
		var m SumMap
		assert.NoError(t, m.Scan(nil))
		assert.Len(t, m, len(WriteBuckets))
		for _, b := range WriteBuckets {
			assert.True(t, m[b].IsZero())
		}
	})

	t.Run("round-trip preserves legacy bucket keys", func(t *testing.T) {
		stored := []byte(`{"Cash":"10.00","Card":"0","Transfer":"0","Vouchers":"0","Cheques":"33.10"}`)

		var m SumMap
		assert.NoError(t, m.Scan(stored))
		assert.Equal(t, "33.10", m["Cheques"].StringFixed(2))

		m.Add(BucketCash, decimal.NewFromInt(5), 1)

		value, err := m.Value()
		assert.NoError(t, err)

		var roundTripped map[string]decimal.Decimal
		assert.NoError(t, json.Unmarshal(value.([]byte), &roundTripped))
		assert.Equal(t, "33.10", roundTripped["Cheques"].StringFixed(2))
		assert.Equal(t, "15.00", roundTripped[BucketCash].StringFixed(2))
	})

	t.Run("string source is accepted", func(t *testing.T) {
		var m SumMap
		assert.NoError(t, m.Scan(`{"Cash":"1.50"}`))
		assert.Equal(t, "1.50", m[BucketCash].StringFixed(2))
	})

	t.Run("unsupported source type is rejected", func(t *testing.T) {
		var m SumMap
		assert.Error(t, m.Scan(42))
	})
}
