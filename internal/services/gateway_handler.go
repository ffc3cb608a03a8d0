package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/tourneypay/backend/internal/models"
)

// GatewayWebhookHandler receives payment-gateway callbacks. Gateways retry
// aggressively, so every path through here must be safe to replay.
type GatewayWebhookHandler struct {
	wallet    *WalletService
	secret    string
	validator *ValidationHelper
}

func NewGatewayWebhookHandler(wallet *WalletService, secret string) *GatewayWebhookHandler {
	return &GatewayWebhookHandler{
		wallet:    wallet,
		secret:    secret,
		validator: NewValidationHelper(),
	}
}

type gatewayCallback struct {
	ReferenceID string `json:"referenceId" validate:"required"`
	UserID      string `json:"userId" validate:"required"`
	Amount      string `json:"amount" validate:"required"` // decimal string, gateway convention
	Currency    string `json:"currency" validate:"required,len=3"`
	Status      string `json:"status" validate:"required,oneof=SUCCESS FAILED"`
	Reason      string `json:"reason" validate:"omitempty,max=200"`
}

// HandleCallback processes a gateway delivery
// @Summary Payment gateway webhook
// @Description HMAC-verified callback; repeated deliveries of a referenceId are no-ops
// @Tags webhooks
// @Accept json
// @Produce json
// @Param X-Gateway-Signature header string true "hex HMAC-SHA256 of the raw body"
// @Success 200 {object} object{success=bool}
// @Failure 401 {object} ErrorResponse
// @Router /webhooks/payment-gateway [post]
func (h *GatewayWebhookHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if !h.verifySignature(body, r.Header.Get("X-Gateway-Signature")) {
		log.Printf("[WEBHOOK] signature mismatch from %s", r.RemoteAddr)
		SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
		return
	}

	var cb gatewayCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&cb); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	amount, err := models.ParseMoney(cb.Amount, cb.Currency)
	if err != nil {
		SendErrorResponse(w, "Invalid amount", http.StatusBadRequest, nil)
		return
	}
	if amount.IsNegative() || amount.IsZero() {
		SendErrorResponse(w, "Amount must be positive", http.StatusBadRequest, nil)
		return
	}

	switch cb.Status {
	case "SUCCESS":
		record, err := h.wallet.Deposit(r.Context(), cb.UserID, amount, cb.ReferenceID)
		if err != nil {
			log.Printf("[WEBHOOK] deposit %s failed: %v", cb.ReferenceID, err)
			SendErrorResponse(w, err.Error(), ledgerErrorStatus(err), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "transaction": record})

	case "FAILED":
		record, err := h.wallet.FailDeposit(r.Context(), cb.ReferenceID, cb.Reason)
		if errors.Is(err, models.ErrTransactionNotFound) || errors.Is(err, models.ErrAlreadyFinalized) {
			// Nothing to undo; acknowledge so the gateway stops retrying.
			writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
			return
		}
		if err != nil {
			log.Printf("[WEBHOOK] fail-deposit %s: %v", cb.ReferenceID, err)
			SendErrorResponse(w, err.Error(), ledgerErrorStatus(err), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "transaction": record})
	}
}

func (h *GatewayWebhookHandler) verifySignature(body []byte, signature string) bool {
	if h.secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
