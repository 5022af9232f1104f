package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cajafuerte/backend/internal/audit"
	"github.com/cajafuerte/backend/internal/models"
	"github.com/go-chi/chi/v5"
)

type BatchService struct {
	db         *sql.DB
	settlement *SettlementService
	audit      *audit.Logger
	validator  *ValidationHelper
}

type payBatchRequest struct {
	PaymentRef string `json:"paymentRef" validate:"required,max=128"`
}

func NewBatchService(db *sql.DB) *BatchService {
	return &BatchService{
		db:         db,
		settlement: NewSettlementService(),
		audit:      audit.NewLogger(),
		validator:  NewValidationHelper(),
	}
}

// ListBatches lists daily batches in a date range
// @Summary List batches
// @Description List per-day batch aggregates for a date range
// @Tags batches
// @Produce json
// @Security BearerAuth
// @Param start query string true "Range start (YYYY-MM-DD)"
// @Param end query string true "Range end (YYYY-MM-DD)"
// @Success 200 {array} models.Batch
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /batches [get]
func (bs *BatchService) ListBatches(w http.ResponseWriter, r *http.Request) {
	start, err := time.ParseInLocation("2006-01-02", r.URL.Query().Get("start"), time.UTC)
	if err != nil {
		SendErrorResponse(w, "Invalid start date", http.StatusBadRequest, nil)
		return
	}
	end, err := time.ParseInLocation("2006-01-02", r.URL.Query().Get("end"), time.UTC)
	if err != nil {
		SendErrorResponse(w, "Invalid end date", http.StatusBadRequest, nil)
		return
	}

	rows, err := bs.db.Query(`
		SELECT id, batch_ref, date, income_sums, expense_sums, status, paid_at, payment_ref, created_at, updated_at
		FROM batches
		WHERE date BETWEEN $1 AND $2
		ORDER BY date DESC`, start, end)
	if err != nil {
		log.Printf("[BATCH] Failed to list batches: %v", err)
		SendErrorResponse(w, "Failed to fetch batches", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	batches, err := scanBatches(rows)
	if err != nil {
		log.Printf("[BATCH] Failed to scan batches: %v", err)
		SendErrorResponse(w, "Failed to fetch batches", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"batches": batches,
		"count":   len(batches),
	})
}

// GetBatch fetches a batch by its business key
// @Summary Get batch
// @Description Fetch a daily batch by its batch reference
// @Tags batches
// @Produce json
// @Security BearerAuth
// @Param batchRef path string true "Batch reference"
// @Success 200 {object} models.Batch
// @Failure 404 {object} ErrorResponse
// @Router /batches/{batchRef} [get]
func (bs *BatchService) GetBatch(w http.ResponseWriter, r *http.Request) {
	batchRef := chi.URLParam(r, "batchRef")

	batch, err := bs.fetchBatchByRef(batchRef)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Batch not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[BATCH] Failed to fetch batch %s: %v", batchRef, err)
			SendErrorResponse(w, "Failed to fetch batch", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(batch)
}

// PayBatch marks a pending batch as paid
// @Summary Mark batch paid
// @Description Record the external payment reference for a pending batch and emit its settlement export
// @Tags batches
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param batchRef path string true "Batch reference"
// @Param request body payBatchRequest true "Payment reference"
// @Success 200 {object} map[string]any
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /batches/{batchRef}/pay [put]
func (bs *BatchService) PayBatch(w http.ResponseWriter, r *http.Request) {
	batchRef := chi.URLParam(r, "batchRef")

	var req payBatchRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := bs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := bs.db.Exec(`
		UPDATE batches
		SET status = $1, paid_at = NOW(), payment_ref = $2, updated_at = NOW()
		WHERE batch_ref = $3 AND status = $4`,
		models.BatchPaid, req.PaymentRef, batchRef, models.BatchPending)
	if err != nil {
		log.Printf("[BATCH] Failed to mark batch %s paid: %v", batchRef, err)
		SendErrorResponse(w, "Failed to update batch", http.StatusInternalServerError, nil)
		return
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		SendErrorResponse(w, "Batch not found or not pending", http.StatusConflict, nil)
		return
	}

	bs.audit.LogBatch(batchRef, "BATCH_PAID", "payment ref "+req.PaymentRef)

	// Settlement export is best effort after the status flip; a broken
	// export never unwinds the reconciliation.
	batch, err := bs.fetchBatchByRef(batchRef)
	if err != nil {
		log.Printf("[BATCH] Failed to reload batch %s for export: %v", batchRef, err)
	} else if err := bs.settlement.ExportBatch(batch); err != nil {
		log.Printf("[BATCH] Settlement export failed for %s: %v", batchRef, err)
		bs.audit.LogError(batchRef, "settlement export", err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"batchRef": batchRef,
		"status":   models.BatchPaid,
	})
}

// CancelBatch marks a pending batch as cancelled
// @Summary Cancel batch
// @Description Mark a pending batch as cancelled
// @Tags batches
// @Produce json
// @Security BearerAuth
// @Param batchRef path string true "Batch reference"
// @Success 200 {object} map[string]any
// @Failure 409 {object} ErrorResponse
// @Router /batches/{batchRef}/cancel [put]
func (bs *BatchService) CancelBatch(w http.ResponseWriter, r *http.Request) {
	batchRef := chi.URLParam(r, "batchRef")

	result, err := bs.db.Exec(`
		UPDATE batches
		SET status = $1, updated_at = NOW()
		WHERE batch_ref = $2 AND status = $3`,
		models.BatchCancelled, batchRef, models.BatchPending)
	if err != nil {
		log.Printf("[BATCH] Failed to cancel batch %s: %v", batchRef, err)
		SendErrorResponse(w, "Failed to update batch", http.StatusInternalServerError, nil)
		return
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		SendErrorResponse(w, "Batch not found or not pending", http.StatusConflict, nil)
		return
	}

	bs.audit.LogBatch(batchRef, "BATCH_CANCELLED", "")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"batchRef": batchRef,
		"status":   models.BatchCancelled,
	})
}

func (bs *BatchService) fetchBatchByRef(batchRef string) (*models.Batch, error) {
	var batch models.Batch
	err := bs.db.QueryRow(`
		SELECT id, batch_ref, date, income_sums, expense_sums, status, paid_at, payment_ref, created_at, updated_at
		FROM batches
		WHERE batch_ref = $1`, batchRef).Scan(
		&batch.ID, &batch.BatchRef, &batch.Date, &batch.IncomeSums, &batch.ExpenseSums,
		&batch.Status, &batch.PaidAt, &batch.PaymentRef, &batch.CreatedAt, &batch.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &batch, nil
}
