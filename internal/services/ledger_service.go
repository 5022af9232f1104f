package services

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cajafuerte/backend/internal/config"
	"github.com/cajafuerte/backend/internal/models"
	"github.com/lib/pq"
)

// Apply/reverse signs for ApplyMovement.
const (
	SignApply   = 1
	SignReverse = -1
)

var ErrExternalMovement = errors.New("external movements are never aggregated")

// DailyLedgerService owns the mutation path into batch sums. Every
// mutation runs inside a caller-provided *sql.Tx with the batch row
// locked, so the read-modify-write on the sum maps is serialized per
// date.
type DailyLedgerService struct {
	db  *sql.DB
	cfg *config.LedgerConfig
}

func NewDailyLedgerService(db *sql.DB, cfg *config.LedgerConfig) *DailyLedgerService {
	if cfg == nil {
		cfg = config.LoadLedgerConfig()
	}
	return &DailyLedgerService{db: db, cfg: cfg}
}

// ResolveBatch returns the locked batch row for a date, creating one
// if absent. The unique index on date is the concurrency guard:
// a losing concurrent insert falls through to lock the winner's row.
func (s *DailyLedgerService) ResolveBatch(tx *sql.Tx, date time.Time) (*models.Batch, error) {
	date = Midnight(date)

	batch, err := s.lockBatch(tx, date)
	if err == nil {
		return batch, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read batch: %w", err)
	}

	if err := s.createBatch(tx, date); err != nil {
		var pqErr *pq.Error
		// 23505 = unique_violation: another writer created the row first.
		if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
			return nil, fmt.Errorf("failed to create batch: %w", err)
		}
	}

	return s.lockBatch(tx, date)
}

// ApplyMovement adds sign*amount to the batch bucket matching the
// movement and persists both sum maps. The full stored maps are
// written back, so legacy bucket keys are never dropped.
func (s *DailyLedgerService) ApplyMovement(tx *sql.Tx, batch *models.Batch, mv *models.Movement, sign int) error {
	if mv.IsExternal {
		return ErrExternalMovement
	}
	if sign != SignApply && sign != SignReverse {
		return fmt.Errorf("invalid mutation sign %d", sign)
	}

	sums := batch.SumsFor(mv.Type)
	bucket := models.WriteBucket(mv.Method, s.cfg.StrictOtherBucket)
	sums.Add(bucket, mv.Amount, sign)

	return s.saveSums(tx, batch)
}

// LockBatchByID relocks an existing batch row for a reversal. Returns
// sql.ErrNoRows when the batch has since been removed; callers treat
// that as a skip, not a failure.
func (s *DailyLedgerService) LockBatchByID(tx *sql.Tx, id int64) (*models.Batch, error) {
	return s.scanBatch(tx.QueryRow(`
		SELECT id, batch_ref, date, income_sums, expense_sums, status, paid_at, payment_ref, created_at, updated_at
		FROM batches
		WHERE id = $1
		FOR UPDATE`, id))
}

func (s *DailyLedgerService) lockBatch(tx *sql.Tx, date time.Time) (*models.Batch, error) {
	return s.scanBatch(tx.QueryRow(`
		SELECT id, batch_ref, date, income_sums, expense_sums, status, paid_at, payment_ref, created_at, updated_at
		FROM batches
		WHERE date = $1
		FOR UPDATE`, date))
}

func (s *DailyLedgerService) createBatch(tx *sql.Tx, date time.Time) error {
	_, err := tx.Exec(`
		INSERT INTO batches (batch_ref, date, income_sums, expense_sums, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())`,
		models.NewBatchRef(), date, models.NewSumMap(), models.NewSumMap(), models.BatchPending)
	return err
}

func (s *DailyLedgerService) saveSums(tx *sql.Tx, batch *models.Batch) error {
	result, err := tx.Exec(`
		UPDATE batches
		SET income_sums = $1, expense_sums = $2, updated_at = NOW()
		WHERE id = $3`,
		batch.IncomeSums, batch.ExpenseSums, batch.ID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("batch %s vanished during sum update", batch.BatchRef)
	}

	return nil
}

func (s *DailyLedgerService) scanBatch(row *sql.Row) (*models.Batch, error) {
	var batch models.Batch
	err := row.Scan(&batch.ID, &batch.BatchRef, &batch.Date,
		&batch.IncomeSums, &batch.ExpenseSums, &batch.Status,
		&batch.PaidAt, &batch.PaymentRef, &batch.CreatedAt, &batch.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// Midnight truncates a timestamp to its calendar day in UTC. Batch
// identity is the day, never the time component.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
