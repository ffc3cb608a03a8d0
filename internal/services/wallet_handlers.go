package services

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tourneypay/backend/internal/models"
	"github.com/tourneypay/backend/internal/store"
)

// ledgerErrorStatus maps the ledger error taxonomy onto HTTP status codes.
// VersionConflict only reaches the wire after the bounded retries ran out.
func ledgerErrorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrInsufficientFunds),
		errors.Is(err, models.ErrKycNotApproved):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrDuplicateReference),
		errors.Is(err, models.ErrVersionConflict),
		errors.Is(err, models.ErrAlreadyFinalizing),
		errors.Is(err, models.ErrAlreadyFinalized),
		errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrAccountNotFound),
		errors.Is(err, models.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrCurrencyMismatch),
		errors.Is(err, models.ErrOverflow):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (ws *WalletService) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := ws.validator.ValidateStruct(dst); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// HandleDeposit records a gateway-confirmed deposit
// @Summary Record a confirmed deposit
// @Description Credits a user's wallet for a payment the gateway has confirmed; replays of the same referenceId are no-ops
// @Tags wallet
// @Accept json
// @Produce json
// @Param deposit body object{userId=string,amount=int64,currency=string,referenceId=string} true "Deposit data"
// @Success 200 {object} models.TransactionRecord
// @Failure 400 {object} ErrorResponse
// @Router /wallet/deposits [post]
func (ws *WalletService) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      string `json:"userId" validate:"required"`
		Amount      int64  `json:"amount" validate:"required,gt=0"`
		Currency    string `json:"currency" validate:"required,len=3"`
		ReferenceID string `json:"referenceId" validate:"required"`
	}
	if !ws.decodeBody(w, r, &req) {
		return
	}

	record, err := ws.Deposit(r.Context(), req.UserID, models.NewMoney(req.Amount, req.Currency), req.ReferenceID)
	if err != nil {
		SendErrorResponse(w, err.Error(), ledgerErrorStatus(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "transaction": record})
}

// HandleRequestWithdrawal opens a withdrawal for the authenticated user
// @Summary Request a withdrawal
// @Description Reserves funds for payout; requires approved KYC
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param withdrawal body object{amount=int64,currency=string,beneficiary=models.Beneficiary} true "Withdrawal data"
// @Success 201 {object} models.TransactionRecord
// @Failure 422 {object} ErrorResponse
// @Router /wallet/withdrawals [post]
func (ws *WalletService) HandleRequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount      int64              `json:"amount" validate:"required,gt=0"`
		Currency    string             `json:"currency" validate:"required,len=3"`
		Beneficiary models.Beneficiary `json:"beneficiary" validate:"required"`
	}
	if !ws.decodeBody(w, r, &req) {
		return
	}

	record, err := ws.RequestWithdrawal(r.Context(), userID, models.NewMoney(req.Amount, req.Currency), req.Beneficiary)
	if err != nil {
		SendErrorResponse(w, err.Error(), ledgerErrorStatus(err), nil)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "transaction": record})
}

// HandleSettleWithdrawal reports the payout outcome for a pending withdrawal
// @Summary Settle a withdrawal
// @Tags wallet
// @Accept json
// @Produce json
// @Param txId path string true "Transaction ID"
// @Param outcome body object{outcome=string,reason=string} true "Settlement outcome"
// @Success 200 {object} models.TransactionRecord
// @Failure 409 {object} ErrorResponse
// @Router /wallet/withdrawals/{txId}/settle [post]
func (ws *WalletService) HandleSettleWithdrawal(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txId")

	var req struct {
		Outcome string `json:"outcome" validate:"required,oneof=completed failed cancelled"`
		Reason  string `json:"reason" validate:"omitempty,max=200"`
	}
	if !ws.decodeBody(w, r, &req) {
		return
	}

	record, err := ws.SettleWithdrawal(r.Context(), txID, models.TransactionStatus(req.Outcome), req.Reason)
	if err != nil {
		SendErrorResponse(w, err.Error(), ledgerErrorStatus(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "transaction": record})
}

// HandleChargeEntryFee debits a tournament entry fee
// @Summary Charge a tournament entry fee
// @Description Idempotent per (tournamentId, userId); safe under concurrent registrations
// @Tags wallet
// @Accept json
// @Produce json
// @Param fee body object{userId=string,tournamentId=string,amount=int64,currency=string} true "Entry fee data"
// @Success 200 {object} models.TransactionRecord
// @Failure 422 {object} ErrorResponse
// @Router /wallet/entry-fees [post]
func (ws *WalletService) HandleChargeEntryFee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID       string `json:"userId" validate:"required"`
		TournamentID string `json:"tournamentId" validate:"required"`
		Amount       int64  `json:"amount" validate:"required,gt=0"`
		Currency     string `json:"currency" validate:"required,len=3"`
	}
	if !ws.decodeBody(w, r, &req) {
		return
	}

	record, err := ws.ChargeEntryFee(r.Context(), req.UserID, req.TournamentID, models.NewMoney(req.Amount, req.Currency))
	if err != nil {
		SendErrorResponse(w, err.Error(), ledgerErrorStatus(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "transaction": record})
}

// HandleCreditPrize credits tournament winnings
// @Summary Credit a prize payout
// @Description Idempotent via the settlement job's referenceId
// @Tags wallet
// @Accept json
// @Produce json
// @Param prize body object{userId=string,tournamentId=string,amount=int64,currency=string,referenceId=string} true "Prize data"
// @Success 200 {object} models.TransactionRecord
// @Failure 400 {object} ErrorResponse
// @Router /wallet/prizes [post]
func (ws *WalletService) HandleCreditPrize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID       string `json:"userId" validate:"required"`
		TournamentID string `json:"tournamentId" validate:"required"`
		Amount       int64  `json:"amount" validate:"required,gt=0"`
		Currency     string `json:"currency" validate:"required,len=3"`
		ReferenceID  string `json:"referenceId" validate:"required"`
	}
	if !ws.decodeBody(w, r, &req) {
		return
	}

	record, err := ws.CreditPrizePayout(r.Context(), req.UserID, req.TournamentID, models.NewMoney(req.Amount, req.Currency), req.ReferenceID)
	if err != nil {
		SendErrorResponse(w, err.Error(), ledgerErrorStatus(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "transaction": record})
}

// HandleRefund credits back a completed debit transaction
// @Summary Refund a transaction
// @Tags wallet
// @Accept json
// @Produce json
// @Param refund body object{transactionId=string,reason=string} true "Refund data"
// @Success 200 {object} models.TransactionRecord
// @Failure 404 {object} ErrorResponse
// @Router /wallet/refunds [post]
func (ws *WalletService) HandleRefund(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionID string `json:"transactionId" validate:"required"`
		Reason        string `json:"reason" validate:"required,max=200"`
	}
	if !ws.decodeBody(w, r, &req) {
		return
	}

	record, err := ws.Refund(r.Context(), req.TransactionID, req.Reason)
	if err != nil {
		SendErrorResponse(w, err.Error(), ledgerErrorStatus(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "transaction": record})
}

// HandleCancelTransaction cancels a still-pending transaction
// @Summary Cancel a pending transaction
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Param txId path string true "Transaction ID"
// @Success 200 {object} models.TransactionRecord
// @Failure 409 {object} ErrorResponse
// @Router /wallet/transactions/{txId}/cancel [post]
func (ws *WalletService) HandleCancelTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	txID := chi.URLParam(r, "txId")

	record, err := ws.GetTransaction(r.Context(), txID)
	if err != nil {
		SendErrorResponse(w, err.Error(), ledgerErrorStatus(err), nil)
		return
	}
	if record.UserID != userID {
		SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		return
	}

	cancelled, err := ws.CancelTransaction(r.Context(), txID)
	if err != nil {
		SendErrorResponse(w, err.Error(), ledgerErrorStatus(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "transaction": cancelled})
}

// HandleGetBalance returns the authenticated user's balance
// @Summary Get wallet balance
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.AccountBalance
// @Failure 404 {object} ErrorResponse
// @Router /wallet/balance [get]
func (ws *WalletService) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := ws.GetBalance(r.Context(), userID)
	if err != nil {
		SendErrorResponse(w, err.Error(), ledgerErrorStatus(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// HandleListTransactions lists the authenticated user's history
// @Summary List wallet transactions
// @Description Newest first; optional kind/status filters, limit capped at 100
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Param kind query string false "Filter by kind"
// @Param status query string false "Filter by status"
// @Param limit query int false "Page size (default 50, max 100)"
// @Param offset query int false "Page offset"
// @Success 200 {object} object{transactions=[]models.TransactionRecord,count=int}
// @Router /wallet/transactions [get]
func (ws *WalletService) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	filter := store.TransactionFilter{
		Kind:   models.TransactionKind(r.URL.Query().Get("kind")),
		Status: models.TransactionStatus(r.URL.Query().Get("status")),
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		SendErrorResponse(w, "Unknown transaction kind", http.StatusBadRequest, nil)
		return
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	transactions, err := ws.ListTransactions(r.Context(), userID, filter)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// HandleGetTransaction returns one of the authenticated user's transactions
// @Summary Get a transaction
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Param txId path string true "Transaction ID"
// @Success 200 {object} models.TransactionRecord
// @Failure 404 {object} ErrorResponse
// @Router /wallet/transactions/{txId} [get]
func (ws *WalletService) HandleGetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	record, err := ws.GetTransaction(r.Context(), chi.URLParam(r, "txId"))
	if err != nil {
		SendErrorResponse(w, err.Error(), ledgerErrorStatus(err), nil)
		return
	}
	if record.UserID != userID {
		SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
