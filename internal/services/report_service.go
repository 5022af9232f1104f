package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/cajafuerte/backend/internal/config"
	"github.com/cajafuerte/backend/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

type ReportService struct {
	db    *sql.DB
	redis *redis.Client
	cfg   *config.LedgerConfig
}

// RangeTotals carries the folded aggregates for a date range.
type RangeTotals struct {
	Income          decimal.Decimal            `json:"income"`
	Expense         decimal.Decimal            `json:"expense"`
	Net             decimal.Decimal            `json:"net"`
	IncomeByMethod  map[string]decimal.Decimal `json:"income_by_method"`
	ExpenseByMethod map[string]decimal.Decimal `json:"expense_by_method"`
}

// RangeReport is the full read-side payload for the payments screen.
type RangeReport struct {
	Start             string            `json:"start"`
	End               string            `json:"end"`
	Totals            RangeTotals       `json:"totals"`
	ExternalMovements []models.Movement `json:"external_movements"`
	CategoryMovements []models.Movement `json:"category_movements"`
	RecentMovements   []models.Movement `json:"recent_movements"`
}

func NewReportService(db *sql.DB, redisClient *redis.Client, cfg *config.LedgerConfig) *ReportService {
	if cfg == nil {
		cfg = config.LoadLedgerConfig()
	}
	return &ReportService{db: db, redis: redisClient, cfg: cfg}
}

// GetRangeReport returns aggregate totals for a date range
// @Summary Range report
// @Description Fold per-day batch sums over an inclusive date range, with auxiliary movement panels
// @Tags reports
// @Produce json
// @Security BearerAuth
// @Param start query string true "Range start (YYYY-MM-DD)"
// @Param end query string true "Range end (YYYY-MM-DD)"
// @Param limit query int false "Recent movements limit (default 25, max 100)"
// @Success 200 {object} RangeReport
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /reports/range [get]
func (rs *ReportService) GetRangeReport(w http.ResponseWriter, r *http.Request) {
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
	if end.Before(start) {
		SendErrorResponse(w, "End date before start date", http.StatusBadRequest, nil)
		return
	}

	limit := rs.cfg.RecentDefault
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > rs.cfg.RecentMax {
		limit = rs.cfg.RecentMax
	}

	ctx := r.Context()
	cacheKey := rs.cacheKey(ctx, start, end, limit)
	if cached := rs.cacheGet(ctx, cacheKey); cached != nil {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "HIT")
		w.Write(cached)
		return
	}

	report, err := rs.BuildRangeReport(start, end, limit)
	if err != nil {
		log.Printf("[REPORT] Failed to build range report %s..%s: %v",
			start.Format("2006-01-02"), end.Format("2006-01-02"), err)
		SendErrorResponse(w, "Failed to build report", http.StatusInternalServerError, nil)
		return
	}

	body, err := json.Marshal(report)
	if err != nil {
		SendErrorResponse(w, "Failed to build report", http.StatusInternalServerError, nil)
		return
	}
	rs.cacheSet(ctx, cacheKey, body)

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// BuildRangeReport replays the batch store over [start, end] and folds
// per-batch sums into range totals. Movements are only read for the
// auxiliary panels, never re-summed.
func (rs *ReportService) BuildRangeReport(start, end time.Time, recentLimit int) (*RangeReport, error) {
	batches, err := rs.fetchBatches(start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load batches: %w", err)
	}

	incomeByMethod, incomeTotal := foldSums(batches, func(b *models.Batch) models.SumMap { return b.IncomeSums }, models.IncomeDisplayBuckets)
	expenseByMethod, expenseTotal := foldSums(batches, func(b *models.Batch) models.SumMap { return b.ExpenseSums }, models.ExpenseDisplayBuckets)

	external, err := rs.fetchPanel(start, end, `is_external = TRUE`, rs.cfg.PanelLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load external movements: %w", err)
	}
	loans, err := rs.fetchPanel(start, end, fmt.Sprintf(`reason = '%s'`, models.ReasonLoan), rs.cfg.PanelLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load loan movements: %w", err)
	}
	recent, err := rs.fetchPanel(start, end, `TRUE`, recentLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent movements: %w", err)
	}

	return &RangeReport{
		Start: start.Format("2006-01-02"),
		End:   end.Format("2006-01-02"),
		Totals: RangeTotals{
			Income:          incomeTotal,
			Expense:         expenseTotal,
			Net:             incomeTotal.Sub(expenseTotal),
			IncomeByMethod:  incomeByMethod,
			ExpenseByMethod: expenseByMethod,
		},
		ExternalMovements: external,
		CategoryMovements: loans,
		RecentMovements:   recent,
	}, nil
}

// foldSums accumulates every batch's stored map into the display
// bucket set. Keys outside the display set land in Other: this is the
// read-side catch-all, distinct from the write-time Cash fallback.
func foldSums(batches []models.Batch, pick func(*models.Batch) models.SumMap, display []string) (map[string]decimal.Decimal, decimal.Decimal) {
	folded := make(map[string]decimal.Decimal, len(display))
	for _, b := range display {
		folded[b] = decimal.Zero
	}

	total := decimal.Zero
	for i := range batches {
		for key, amount := range pick(&batches[i]) {
			bucket := key
			if _, known := folded[bucket]; !known {
				bucket = models.BucketOther
			}
			folded[bucket] = folded[bucket].Add(amount)
			total = total.Add(amount)
		}
	}
	return folded, total
}

func (rs *ReportService) fetchBatches(start, end time.Time) ([]models.Batch, error) {
	rows, err := rs.db.Query(`
		SELECT id, batch_ref, date, income_sums, expense_sums, status, paid_at, payment_ref, created_at, updated_at
		FROM batches
		WHERE date BETWEEN $1 AND $2
		ORDER BY date`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBatches(rows)
}

func (rs *ReportService) fetchPanel(start, end time.Time, filter string, limit int) ([]models.Movement, error) {
	query := fmt.Sprintf(`
		SELECT id, date, type, amount, concept, reason, reason_detail, method, is_external, batch_id, user_id, created_at
		FROM movements
		WHERE date BETWEEN $1 AND $2 AND %s
		ORDER BY created_at DESC
		LIMIT $3`, filter)

	rows, err := rs.db.Query(query, start, end, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMovements(rows)
}

func scanBatches(rows *sql.Rows) ([]models.Batch, error) {
	batches := []models.Batch{}
	for rows.Next() {
		var b models.Batch
		err := rows.Scan(&b.ID, &b.BatchRef, &b.Date, &b.IncomeSums, &b.ExpenseSums,
			&b.Status, &b.PaidAt, &b.PaymentRef, &b.CreatedAt, &b.UpdatedAt)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (rs *ReportService) cacheKey(ctx context.Context, start, end time.Time, limit int) string {
	version := int64(0)
	if rs.redis != nil {
		if v, err := rs.redis.Get(ctx, ledgerVersionKey).Int64(); err == nil {
			version = v
		}
	}
	return fmt.Sprintf("report:%d:%s:%s:%d", version,
		start.Format("2006-01-02"), end.Format("2006-01-02"), limit)
}

func (rs *ReportService) cacheGet(ctx context.Context, key string) []byte {
	if rs.redis == nil {
		return nil
	}
	data, err := rs.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil
	}
	return data
}

func (rs *ReportService) cacheSet(ctx context.Context, key string, body []byte) {
	if rs.redis == nil {
		return
	}
	if err := rs.redis.Set(ctx, key, body, rs.cfg.ReportCacheTTL).Err(); err != nil {
		log.Printf("[REPORT] Failed to cache report: %v", err)
	}
}
