package services

import (
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/cajafuerte/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func paidBatch() *models.Batch {
	return &models.Batch{
		ID:       1,
		BatchRef: "B17100000000000001",
		Date:     time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		IncomeSums: models.SumMap{
			models.BucketCash: decimal.RequireFromString("100.00"),
			models.BucketCard: decimal.RequireFromString("20.00"),
		},
		ExpenseSums: models.SumMap{
			models.BucketCash: decimal.RequireFromString("50.00"),
		},
		Status:     models.BatchPaid,
		PaymentRef: sql.NullString{String: "WIRE-555", Valid: true},
	}
}

func TestSettlementService_CreatePacs008(t *testing.T) {
	service := NewSettlementService()

	t.Run("carries the batch net position", func(t *testing.T) {
		doc, err := service.CreatePacs008(paidBatch())
		assert.NoError(t, err)
		assert.NotNil(t, doc)

		assert.Equal(t, "1", string(doc.GrpHdr.NbOfTxs))
		assert.Equal(t, 70.0, doc.GrpHdr.TtlIntrBkSttlmAmt.Value)
		assert.Equal(t, "MXN", string(doc.GrpHdr.TtlIntrBkSttlmAmt.Ccy))

		assert.Len(t, doc.CdtTrfTxInf, 1)
		tx := doc.CdtTrfTxInf[0]
		assert.Equal(t, "WIRE-555", string(tx.PmtId.EndToEndId))
		assert.Equal(t, "B17100000000000001", string(*tx.PmtId.TxId))
		assert.Equal(t, 70.0, tx.IntrBkSttlmAmt.Value)
		assert.Contains(t, string(*tx.Dbtr.Nm), "2024-01-15")
	})

	t.Run("falls back to the batch ref without a payment ref", func(t *testing.T) {
		batch := paidBatch()
		batch.PaymentRef = sql.NullString{}

		doc, err := service.CreatePacs008(batch)
		assert.NoError(t, err)
		assert.Equal(t, batch.BatchRef, string(doc.CdtTrfTxInf[0].PmtId.EndToEndId))
	})
}

func TestSettlementService_CreatePacs002(t *testing.T) {
	service := NewSettlementService()

	doc, err := service.CreatePacs002(paidBatch(), "ACCP")
	assert.NoError(t, err)
	assert.NotEmpty(t, string(doc.GrpHdr.MsgId))
	assert.Len(t, doc.TxInfAndSts, 1)
	assert.Equal(t, "ACCP", string(*doc.TxInfAndSts[0].TxSts))
	assert.Equal(t, "B17100000000000001", string(*doc.TxInfAndSts[0].OrgnlTxId))
}

func TestSettlementService_ConvertToXML(t *testing.T) {
	service := NewSettlementService()

	doc, err := service.CreatePacs008(paidBatch())
	assert.NoError(t, err)

	xmlStr, err := service.ConvertToXML(doc)
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(xmlStr, "<?xml"))
	assert.Contains(t, xmlStr, "TREASURY DEPOSIT")
}

func TestSettlementService_ExportBatch(t *testing.T) {
	service := NewSettlementService()
	assert.NoError(t, service.ExportBatch(paidBatch()))
}
