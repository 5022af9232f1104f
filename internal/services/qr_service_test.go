package services

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestQRService_GenerateBatchQR(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	t.Run("issues a slip code and QR image for a known batch", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewQRService(db, redisClient)

		mock.ExpectQuery(`SELECT date FROM batches WHERE batch_ref = \$1`).
			WithArgs("B17100000000000001").
			WillReturnRows(sqlmock.NewRows([]string{"date"}).AddRow(day))
		redisMock.Regexp().ExpectSet(`slip:.+`, `.+`, 24*time.Hour).SetVal("OK")

		slipCode, qrImage, err := service.GenerateBatchQR(context.Background(), "B17100000000000001")
		assert.NoError(t, err)
		assert.NotEmpty(t, qrImage)

		// The slip code is a self-describing base64 payload.
		payload, err := base64.URLEncoding.DecodeString(slipCode)
		assert.NoError(t, err)
		assert.Contains(t, string(payload), "B17100000000000001")
		assert.Contains(t, string(payload), "2024-01-15")
	})

	t.Run("unknown batch is surfaced as ErrNoRows", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, _ := redismock.NewClientMock()
		service := NewQRService(db, redisClient)

		mock.ExpectQuery(`SELECT date FROM batches WHERE batch_ref = \$1`).
			WithArgs("nope").
			WillReturnError(assert.AnError)

		_, _, err = service.GenerateBatchQR(context.Background(), "nope")
		assert.Error(t, err)
	})
}

func TestQRService_VerifyBatchQR(t *testing.T) {
	t.Run("resolves a stored slip code", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewQRService(db, redisClient)

		redisMock.ExpectGet("slip:somecode").
			SetVal(`{"batchRef":"B17100000000000001","date":"2024-01-15"}`)

		slip, err := service.VerifyBatchQR(context.Background(), "somecode")
		assert.NoError(t, err)
		assert.Equal(t, "B17100000000000001", slip["batchRef"])
	})

	t.Run("expired or unknown slip code is rejected", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewQRService(db, redisClient)

		redisMock.ExpectGet("slip:gone").RedisNil()

		_, err = service.VerifyBatchQR(context.Background(), "gone")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid or expired")
	})

	t.Run("slips survive repeated scans until expiry", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewQRService(db, redisClient)

		payload := `{"batchRef":"B17100000000000001"}`
		redisMock.ExpectGet("slip:somecode").SetVal(payload)
		redisMock.ExpectGet("slip:somecode").SetVal(payload)

		_, err = service.VerifyBatchQR(context.Background(), "somecode")
		assert.NoError(t, err)
		_, err = service.VerifyBatchQR(context.Background(), "somecode")
		assert.NoError(t, err)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})
}
