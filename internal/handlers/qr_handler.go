package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/tourneypay/backend/internal/models"
	"github.com/tourneypay/backend/internal/services"
)

type QRHandler struct {
	service   *services.QRService
	validator *services.ValidationHelper
}

func NewQRHandler(service *services.QRService) *QRHandler {
	return &QRHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// CreateDepositIntent issues a UPI deposit QR for the authenticated user
// @Summary Create a deposit intent
// @Description Returns a UPI payment URI and QR image; the gateway webhook credits the wallet once the payment lands
// @Tags deposits
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64,currency=string} true "Deposit intent request"
// @Success 200 {object} object{referenceId=string,upiUri=string,qrImage=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /wallet/deposit-intents [post]
func (h *QRHandler) CreateDepositIntent(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount   int64  `json:"amount" validate:"required,gt=0"`
		Currency string `json:"currency" validate:"required,len=3"`
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

	referenceID, uri, qrImage, err := h.service.GenerateDepositIntent(r.Context(), userID, models.NewMoney(req.Amount, req.Currency))
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":     true,
		"referenceId": referenceID,
		"upiUri":      uri,
		"qrImage":     qrImage,
	})
}

// GetDepositIntent returns an unexpired intent's details
// @Summary Look up a deposit intent
// @Tags deposits
// @Produce json
// @Security BearerAuth
// @Param referenceId query string true "Intent reference id"
// @Success 200 {object} services.DepositIntent
// @Failure 404 {object} services.ErrorResponse
// @Router /wallet/deposit-intents/lookup [get]
func (h *QRHandler) GetDepositIntent(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	referenceID := r.URL.Query().Get("referenceId")
	if referenceID == "" {
		services.SendErrorResponse(w, "referenceId is required", http.StatusBadRequest, nil)
		return
	}

	intent, err := h.service.GetDepositIntent(r.Context(), referenceID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
		return
	}
	if intent.UserID != userID {
		services.SendErrorResponse(w, "unknown or expired deposit intent", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(intent)
}
