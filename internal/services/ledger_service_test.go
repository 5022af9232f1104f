package services

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cajafuerte/backend/internal/config"
	"github.com/cajafuerte/backend/internal/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var batchColumns = []string{
	"id", "batch_ref", "date", "income_sums", "expense_sums",
	"status", "paid_at", "payment_ref", "created_at", "updated_at",
}

func batchRow(id int64, ref string, date time.Time, income, expense string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(batchColumns).
		AddRow(id, ref, date, []byte(income), []byte(expense), models.BatchPending, nil, nil, now, now)
}

func testLedgerConfig() *config.LedgerConfig {
	return &config.LedgerConfig{
		PanelLimit:    20,
		RecentDefault: 25,
		RecentMax:     100,
	}
}

func TestDailyLedgerService_ResolveBatch(t *testing.T) {
	date := time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)
	day := Midnight(date)

	t.Run("returns the existing batch for the date", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewDailyLedgerService(db, testLedgerConfig())

		mock.ExpectBegin()
		mock.ExpectQuery(`(?s)SELECT id, batch_ref.+FROM batches.+WHERE date = \$1.+FOR UPDATE`).
			WithArgs(day).
			WillReturnRows(batchRow(7, "B17100000000001234", day,
				`{"Cash":"40.00","Card":"0","Transfer":"0","Vouchers":"0"}`,
				`{"Cash":"0","Card":"0","Transfer":"0","Vouchers":"0"}`))

		tx, err := db.Begin()
		assert.NoError(t, err)

		batch, err := service.ResolveBatch(tx, date)
		assert.NoError(t, err)
		assert.Equal(t, int64(7), batch.ID)
		assert.Equal(t, day, batch.Date)
		assert.Equal(t, "40.00", batch.IncomeSums[models.BucketCash].StringFixed(2))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("creates a batch when none exists for the date", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewDailyLedgerService(db, testLedgerConfig())

		mock.ExpectBegin()
		mock.ExpectQuery(`(?s)SELECT id, batch_ref.+FOR UPDATE`).
			WithArgs(day).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec(`INSERT INTO batches`).
			WithArgs(sqlmock.AnyArg(), day, sqlmock.AnyArg(), sqlmock.AnyArg(), models.BatchPending).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery(`(?s)SELECT id, batch_ref.+FOR UPDATE`).
			WithArgs(day).
			WillReturnRows(batchRow(1, "B17100000000005678", day, `{}`, `{}`))

		tx, err := db.Begin()
		assert.NoError(t, err)

		batch, err := service.ResolveBatch(tx, date)
		assert.NoError(t, err)
		assert.Equal(t, int64(1), batch.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation falls through to the winner's row", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewDailyLedgerService(db, testLedgerConfig())

		mock.ExpectBegin()
		mock.ExpectQuery(`(?s)SELECT id, batch_ref.+FOR UPDATE`).
			WithArgs(day).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec(`INSERT INTO batches`).
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectQuery(`(?s)SELECT id, batch_ref.+FOR UPDATE`).
			WithArgs(day).
			WillReturnRows(batchRow(9, "B17100000000009999", day, `{}`, `{}`))

		tx, err := db.Begin()
		assert.NoError(t, err)

		batch, err := service.ResolveBatch(tx, date)
		assert.NoError(t, err)
		assert.Equal(t, int64(9), batch.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-constraint insert failure is surfaced", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewDailyLedgerService(db, testLedgerConfig())

		mock.ExpectBegin()
		mock.ExpectQuery(`(?s)SELECT id, batch_ref.+FOR UPDATE`).
			WithArgs(day).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec(`INSERT INTO batches`).
			WillReturnError(errors.New("connection reset"))

		tx, err := db.Begin()
		assert.NoError(t, err)

		_, err = service.ResolveBatch(tx, date)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create batch")
	})
}

func TestDailyLedgerService_ApplyMovement(t *testing.T) {
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	newBatch := func() *models.Batch {
		return &models.Batch{
			ID:          3,
			BatchRef:    "B17100000000000001",
			Date:        day,
			IncomeSums:  models.NewSumMap(),
			ExpenseSums: models.NewSumMap(),
		}
	}

	movement := func(mt models.MovementType, amount, method string) *models.Movement {
		return &models.Movement{
			Date:   day,
			Type:   mt,
			Amount: decimal.RequireFromString(amount),
			Reason: models.ReasonSale,
			Method: method,
		}
	}

	expectSave := func(mock sqlmock.Sqlmock) {
		mock.ExpectExec(`UPDATE batches`).
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	t.Run("applies an income movement to its bucket", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewDailyLedgerService(db, testLedgerConfig())
		batch := newBatch()

		mock.ExpectBegin()
		expectSave(mock)

		tx, _ := db.Begin()
		err = service.ApplyMovement(tx, batch, movement(models.MovementIncome, "25.50", models.MethodCard), SignApply)
		assert.NoError(t, err)
		assert.Equal(t, "25.50", batch.IncomeSums[models.BucketCard].StringFixed(2))
		assert.True(t, batch.ExpenseSums[models.BucketCard].IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reversal restores the prior sums", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewDailyLedgerService(db, testLedgerConfig())
		batch := newBatch()
		mv := movement(models.MovementExpense, "13.37", models.MethodTransfer)

		mock.ExpectBegin()
		expectSave(mock)
		expectSave(mock)

		tx, _ := db.Begin()
		assert.NoError(t, service.ApplyMovement(tx, batch, mv, SignApply))
		assert.Equal(t, "13.37", batch.ExpenseSums[models.BucketTransfer].StringFixed(2))

		assert.NoError(t, service.ApplyMovement(tx, batch, mv, SignReverse))
		assert.True(t, batch.ExpenseSums[models.BucketTransfer].IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unrecognized method accumulates into Cash", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewDailyLedgerService(db, testLedgerConfig())
		batch := newBatch()

		mock.ExpectBegin()
		expectSave(mock)

		tx, _ := db.Begin()
		err = service.ApplyMovement(tx, batch, movement(models.MovementExpense, "9.99", models.MethodCredit), SignApply)
		assert.NoError(t, err)
		assert.Equal(t, "9.99", batch.ExpenseSums[models.BucketCash].StringFixed(2))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("strict bucketing routes unrecognized methods to Other", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		cfg := testLedgerConfig()
		cfg.StrictOtherBucket = true
		service := NewDailyLedgerService(db, cfg)
		batch := newBatch()

		mock.ExpectBegin()
		expectSave(mock)

		tx, _ := db.Begin()
		err = service.ApplyMovement(tx, batch, movement(models.MovementExpense, "9.99", models.MethodCredit), SignApply)
		assert.NoError(t, err)
		assert.Equal(t, "9.99", batch.ExpenseSums[models.BucketOther].StringFixed(2))
		assert.True(t, batch.ExpenseSums[models.BucketCash].IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects external movements", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewDailyLedgerService(db, testLedgerConfig())
		mv := movement(models.MovementIncome, "5.00", models.MethodExternal)
		mv.IsExternal = true

		mock.ExpectBegin()
		tx, _ := db.Begin()

		err = service.ApplyMovement(tx, newBatch(), mv, SignApply)
		assert.ErrorIs(t, err, ErrExternalMovement)
	})

	t.Run("rejects signs other than apply and reverse", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewDailyLedgerService(db, testLedgerConfig())

		mock.ExpectBegin()
		tx, _ := db.Begin()

		err = service.ApplyMovement(tx, newBatch(), movement(models.MovementIncome, "5.00", models.MethodCash), 2)
		assert.Error(t, err)
	})

	t.Run("fails when the batch row vanished", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewDailyLedgerService(db, testLedgerConfig())

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE batches`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		tx, _ := db.Begin()
		err = service.ApplyMovement(tx, newBatch(), movement(models.MovementIncome, "5.00", models.MethodCash), SignApply)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "vanished")
	})

	t.Run("legacy bucket keys survive a mutation", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewDailyLedgerService(db, testLedgerConfig())
		batch := newBatch()
		batch.IncomeSums["Cheques"] = decimal.RequireFromString("33.10")

		mock.ExpectBegin()
		expectSave(mock)

		tx, _ := db.Begin()
		err = service.ApplyMovement(tx, batch, movement(models.MovementIncome, "10.00", models.MethodCash), SignApply)
		assert.NoError(t, err)
		assert.Equal(t, "33.10", batch.IncomeSums["Cheques"].StringFixed(2))
		assert.Equal(t, "10.00", batch.IncomeSums[models.BucketCash].StringFixed(2))
	})
}

func TestDailyLedgerService_LockBatchByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewDailyLedgerService(db, testLedgerConfig())

	t.Run("returns ErrNoRows for a removed batch", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`(?s)SELECT id, batch_ref.+WHERE id = \$1.+FOR UPDATE`).
			WithArgs(int64(42)).
			WillReturnError(sql.ErrNoRows)

		tx, _ := db.Begin()
		_, err := service.LockBatchByID(tx, 42)
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})
}

func TestMidnight(t *testing.T) {
	ts := time.Date(2024, 6, 1, 23, 59, 59, 123, time.FixedZone("X", 3600))
	day := Midnight(ts)

	assert.Equal(t, time.UTC, day.Location())
	assert.Equal(t, 0, day.Hour())
	assert.Equal(t, 1, day.Day())
	assert.Equal(t, day, Midnight(day))
}
