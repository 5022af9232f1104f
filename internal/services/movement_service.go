package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/cajafuerte/backend/internal/audit"
	"github.com/cajafuerte/backend/internal/config"
	"github.com/cajafuerte/backend/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// ledgerVersionKey is bumped after every committed write; range-report
// cache keys embed it, so stale reports simply stop being addressable.
const ledgerVersionKey = "ledger:version"

type MovementService struct {
	db        *sql.DB
	redis     *redis.Client
	ledger    *DailyLedgerService
	audit     *audit.Logger
	validator *ValidationHelper
	cfg       *config.LedgerConfig
}

// CreateMovementRequest is the write payload for a cash movement.
type CreateMovementRequest struct {
	Date         string          `json:"date" validate:"required,datetime=2006-01-02"`
	Type         string          `json:"type" validate:"required,oneof=income expense"`
	Amount       decimal.Decimal `json:"amount" validate:"required"`
	Concept      string          `json:"concept" validate:"max=500"`
	Reason       string          `json:"reason" validate:"required"`
	ReasonDetail string          `json:"reasonDetail" validate:"max=500"`
	Method       string          `json:"method" validate:"required"`
	IsExternal   bool            `json:"isExternal"`
}

func NewMovementService(db *sql.DB, redisClient *redis.Client, cfg *config.LedgerConfig) *MovementService {
	if cfg == nil {
		cfg = config.LoadLedgerConfig()
	}
	return &MovementService{
		db:        db,
		redis:     redisClient,
		ledger:    NewDailyLedgerService(db, cfg),
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
		cfg:       cfg,
	}
}

// CreateMovement persists a movement and applies it to its day's batch
// @Summary Create a cash movement
// @Description Record an income or expense movement and update the daily batch sums
// @Tags movements
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param movement body CreateMovementRequest true "Movement data"
// @Success 201 {object} models.Movement
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /movements [post]
func (ms *MovementService) CreateMovement(w http.ResponseWriter, r *http.Request) {
	var req CreateMovementRequest

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

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

	if err := ms.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	date, err := time.ParseInLocation("2006-01-02", req.Date, time.UTC)
	if err != nil {
		SendErrorResponse(w, "Invalid date", http.StatusBadRequest, nil)
		return
	}

	mv := &models.Movement{
		Date:         date,
		Type:         models.MovementType(req.Type),
		Amount:       req.Amount.Round(2),
		Concept:      req.Concept,
		Reason:       req.Reason,
		ReasonDetail: req.ReasonDetail,
		Method:       req.Method,
		IsExternal:   req.IsExternal,
	}
	if userID, ok := r.Context().Value("userID").(string); ok && userID != "" {
		if id, err := strconv.ParseInt(userID, 10, 64); err == nil {
			mv.UserID = sql.NullInt64{Int64: id, Valid: true}
		}
	}

	if err := mv.Validate(); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	tx, err := ms.db.Begin()
	if err != nil {
		log.Printf("[MOVEMENT] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to record movement", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	// Batches exist lazily: only a non-external movement forces one.
	var batch *models.Batch
	if !mv.IsExternal {
		batch, err = ms.ledger.ResolveBatch(tx, mv.Date)
		if err != nil {
			log.Printf("[MOVEMENT] Failed to resolve batch for %s: %v", req.Date, err)
			SendErrorResponse(w, "Failed to record movement", http.StatusInternalServerError, nil)
			return
		}
		mv.BatchID = sql.NullInt64{Int64: batch.ID, Valid: true}
	}

	if err := ms.insertMovement(tx, mv); err != nil {
		ms.audit.LogError(fmt.Sprintf("movement-%d", mv.ID), req.Date, err)
		SendErrorResponse(w, "Failed to record movement", http.StatusInternalServerError, nil)
		return
	}

	if !mv.IsExternal {
		if err := ms.ledger.ApplyMovement(tx, batch, mv, SignApply); err != nil {
			ms.audit.LogError(fmt.Sprintf("movement-%d", mv.ID), batch.BatchRef, err)
			SendErrorResponse(w, "Failed to update batch sums", http.StatusInternalServerError, nil)
			return
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[MOVEMENT] Failed to commit: %v", err)
		SendErrorResponse(w, "Failed to record movement", http.StatusInternalServerError, nil)
		return
	}

	ms.audit.LogMovement(mv, "CREATED")
	ms.afterWrite(r.Context(), "movement.created", mv)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"movement": mv,
	})
}

// DeleteMovement removes a movement and compensates its batch
// @Summary Delete a cash movement
// @Description Remove a movement and reverse its contribution to the daily batch sums
// @Tags movements
// @Produce json
// @Security BearerAuth
// @Param movementID path int true "Movement ID"
// @Success 200 {object} map[string]bool
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /movements/{movementID} [delete]
func (ms *MovementService) DeleteMovement(w http.ResponseWriter, r *http.Request) {
	movementID, err := strconv.ParseInt(chi.URLParam(r, "movementID"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid movement id", http.StatusBadRequest, nil)
		return
	}

	tx, err := ms.db.Begin()
	if err != nil {
		log.Printf("[MOVEMENT] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to delete movement", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	mv, err := ms.fetchMovementForUpdate(tx, movementID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Movement not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[MOVEMENT] Failed to fetch movement %d: %v", movementID, err)
			SendErrorResponse(w, "Failed to delete movement", http.StatusInternalServerError, nil)
		}
		return
	}

	if !mv.IsExternal && mv.BatchID.Valid {
		batch, err := ms.ledger.LockBatchByID(tx, mv.BatchID.Int64)
		switch {
		case err == sql.ErrNoRows:
			// Batch removed out of band: the movement can still go,
			// there is nothing left to compensate.
			log.Printf("[MOVEMENT] Batch %d missing for movement %d, skipping reversal", mv.BatchID.Int64, mv.ID)
		case err != nil:
			log.Printf("[MOVEMENT] Failed to lock batch %d: %v", mv.BatchID.Int64, err)
			SendErrorResponse(w, "Failed to delete movement", http.StatusInternalServerError, nil)
			return
		default:
			if err := ms.ledger.ApplyMovement(tx, batch, mv, SignReverse); err != nil {
				ms.audit.LogError(fmt.Sprintf("movement-%d", mv.ID), batch.BatchRef, err)
				SendErrorResponse(w, "Failed to update batch sums", http.StatusInternalServerError, nil)
				return
			}
		}
	}

	if _, err := tx.Exec(`DELETE FROM movements WHERE id = $1`, mv.ID); err != nil {
		log.Printf("[MOVEMENT] Failed to delete movement %d: %v", mv.ID, err)
		SendErrorResponse(w, "Failed to delete movement", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[MOVEMENT] Failed to commit: %v", err)
		SendErrorResponse(w, "Failed to delete movement", http.StatusInternalServerError, nil)
		return
	}

	ms.audit.LogMovement(mv, "DELETED")
	ms.afterWrite(r.Context(), "movement.deleted", mv)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// GetRecentMovements lists the latest movements
// @Summary Get recent movements
// @Description Get the most recent movements with a configurable limit
// @Tags movements
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Number of movements to return (default 25, max 100)"
// @Success 200 {array} models.Movement
// @Failure 500 {object} ErrorResponse
// @Router /movements/recent [get]
func (ms *MovementService) GetRecentMovements(w http.ResponseWriter, r *http.Request) {
	limit := ms.cfg.RecentDefault
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > ms.cfg.RecentMax {
		limit = ms.cfg.RecentMax
	}

	movements, err := ms.fetchRecentMovements(limit)
	if err != nil {
		log.Printf("[MOVEMENT] Failed to fetch recent movements: %v", err)
		SendErrorResponse(w, "Failed to fetch movements", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"movements": movements,
		"count":     len(movements),
	})
}

func (ms *MovementService) insertMovement(tx *sql.Tx, mv *models.Movement) error {
	mv.CreatedAt = time.Now()
	return tx.QueryRow(`
		INSERT INTO movements (date, type, amount, concept, reason, reason_detail, method, is_external, batch_id, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		mv.Date, mv.Type, mv.Amount, mv.Concept, mv.Reason, mv.ReasonDetail,
		mv.Method, mv.IsExternal, mv.BatchID, mv.UserID, mv.CreatedAt).Scan(&mv.ID)
}

func (ms *MovementService) fetchMovementForUpdate(tx *sql.Tx, id int64) (*models.Movement, error) {
	mv := &models.Movement{}
	var detail sql.NullString
	err := tx.QueryRow(`
		SELECT id, date, type, amount, concept, reason, reason_detail, method, is_external, batch_id, user_id, created_at
		FROM movements
		WHERE id = $1
		FOR UPDATE`, id).Scan(
		&mv.ID, &mv.Date, &mv.Type, &mv.Amount, &mv.Concept, &mv.Reason,
		&detail, &mv.Method, &mv.IsExternal, &mv.BatchID, &mv.UserID, &mv.CreatedAt)
	if err != nil {
		return nil, err
	}
	mv.ReasonDetail = detail.String
	return mv, nil
}

func (ms *MovementService) fetchRecentMovements(limit int) ([]models.Movement, error) {
	rows, err := ms.db.Query(`
		SELECT id, date, type, amount, concept, reason, reason_detail, method, is_external, batch_id, user_id, created_at
		FROM movements
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMovements(rows)
}

func scanMovements(rows *sql.Rows) ([]models.Movement, error) {
	movements := []models.Movement{}
	for rows.Next() {
		var mv models.Movement
		var detail sql.NullString
		err := rows.Scan(&mv.ID, &mv.Date, &mv.Type, &mv.Amount, &mv.Concept,
			&mv.Reason, &detail, &mv.Method, &mv.IsExternal, &mv.BatchID, &mv.UserID, &mv.CreatedAt)
		if err != nil {
			return nil, err
		}
		mv.ReasonDetail = detail.String
		movements = append(movements, mv)
	}
	return movements, rows.Err()
}

// afterWrite runs post-commit side effects: bump the ledger version
// (invalidates cached reports) and push an event for downstream
// consumers. Neither may fail the already-committed request.
func (ms *MovementService) afterWrite(ctx context.Context, event string, mv *models.Movement) {
	if ms.redis == nil {
		return
	}

	if err := ms.redis.Incr(ctx, ledgerVersionKey).Err(); err != nil {
		log.Printf("[MOVEMENT] Failed to bump ledger version: %v", err)
	}

	payload, err := json.Marshal(map[string]any{
		"event":    event,
		"movement": mv,
		"at":       time.Now().Unix(),
	})
	if err != nil {
		return
	}
	if err := ms.redis.RPush(ctx, ms.cfg.EventQueue, payload).Err(); err != nil {
		log.Printf("[MOVEMENT] Failed to queue ledger event: %v", err)
	}
}
