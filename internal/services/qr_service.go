package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
)

// QRService issues reconciliation slip codes: a QR printed on the
// day-close slip that the back office scans to pull up the batch.
type QRService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewQRService(db *sql.DB, redis *redis.Client) *QRService {
	return &QRService{
		db:    db,
		redis: redis,
	}
}

// GenerateBatchQR returns the opaque slip code and its QR PNG
// (base64) for a batch reference. Codes expire after 24 hours.
func (s *QRService) GenerateBatchQR(ctx context.Context, batchRef string) (string, string, error) {
	var batchDate time.Time
	err := s.db.QueryRow(`SELECT date FROM batches WHERE batch_ref = $1`, batchRef).Scan(&batchDate)
	if err != nil {
		return "", "", err
	}

	slipData := map[string]any{
		"batchRef":  batchRef,
		"date":      batchDate.Format("2006-01-02"),
		"timestamp": time.Now().Unix(),
		"nonce":     s.generateNonce(),
	}

	jsonData, err := json.Marshal(slipData)
	if err != nil {
		return "", "", err
	}

	slipCode := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("slip:%s", slipCode)
	if err := s.redis.Set(ctx, key, jsonData, 24*time.Hour).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(slipCode, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	qrImage := base64.StdEncoding.EncodeToString(buf.Bytes())

	return slipCode, qrImage, nil
}

// VerifyBatchQR resolves a scanned slip code back to its batch
// payload. Unlike one-shot payment codes, slips stay valid until
// expiry so the same printout can be scanned more than once.
func (s *QRService) VerifyBatchQR(ctx context.Context, slipCode string) (map[string]any, error) {
	key := fmt.Sprintf("slip:%s", slipCode)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired slip code")
	}
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *QRService) generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
