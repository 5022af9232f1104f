package services

import (
	"encoding/json"
	"net/http"

	"github.com/cajafuerte/backend/internal/models"
)

// MethodsService serves the static register catalog: allowed payment
// methods per movement type and the closed reason list. The UI builds
// its dropdowns from this instead of hardcoding the enums.
type MethodsService struct{}

func NewMethodsService() *MethodsService {
	return &MethodsService{}
}

// GetCatalog returns the method and reason catalog
// @Summary Payment method catalog
// @Description Allowed payment methods per movement type and the movement reason list
// @Tags catalog
// @Produce json
// @Success 200 {object} map[string]any
// @Router /methods [get]
func (s *MethodsService) GetCatalog(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	json.NewEncoder(w).Encode(map[string]any{
		"incomeMethods":  models.MethodsFor(models.MovementIncome),
		"expenseMethods": models.MethodsFor(models.MovementExpense),
		"reasons":        models.Reasons(),
		"incomeBuckets":  models.IncomeDisplayBuckets,
		"expenseBuckets": models.ExpenseDisplayBuckets,
	})
}
