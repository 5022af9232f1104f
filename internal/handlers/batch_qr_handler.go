package handlers

import (
	"database/sql"
	"encoding/json"
	"io"
	"net/http"

	"github.com/cajafuerte/backend/internal/services"
	"github.com/go-chi/chi/v5"
)

type BatchQRHandler struct {
	service   *services.QRService
	validator *services.ValidationHelper
}

func NewBatchQRHandler(service *services.QRService) *BatchQRHandler {
	return &BatchQRHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// GenerateQR issues a reconciliation slip QR for a batch
// @Summary Generate batch slip QR
// @Description Generate the reconciliation slip QR code for a daily batch
// @Tags QR
// @Produce json
// @Security BearerAuth
// @Param batchRef path string true "Batch reference"
// @Success 200 {object} object{slipCode=string,qrImage=string}
// @Failure 404 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /batches/{batchRef}/qr [get]
func (h *BatchQRHandler) GenerateQR(w http.ResponseWriter, r *http.Request) {
	batchRef := chi.URLParam(r, "batchRef")
	if batchRef == "" {
		services.SendErrorResponse(w, "Batch reference required", http.StatusBadRequest, nil)
		return
	}

	slipCode, qrImage, err := h.service.GenerateBatchQR(r.Context(), batchRef)
	if err != nil {
		if err == sql.ErrNoRows {
			services.SendErrorResponse(w, "Batch not found", http.StatusNotFound, nil)
		} else {
			services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"slipCode": slipCode,
		"qrImage":  qrImage,
	})
}

// VerifyQR resolves a scanned slip code
// @Summary Verify batch slip QR
// @Description Resolve a scanned reconciliation slip code back to its batch
// @Tags QR
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{slipCode=string} true "Scanned slip code"
// @Success 200 {object} map[string]any
// @Failure 400 {object} services.ErrorResponse
// @Router /batches/qr/verify [post]
func (h *BatchQRHandler) VerifyQR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SlipCode string `json:"slipCode" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	slip, err := h.service.VerifyBatchQR(r.Context(), req.SlipCode)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"slip":    slip,
	})
}
