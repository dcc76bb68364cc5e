package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"anchor-platform/internal/errors"
	"anchor-platform/internal/service"
)

type TransactionHandler struct {
	transactionService *service.TransactionService
}

func NewTransactionHandler(transactionService *service.TransactionService) *TransactionHandler {
	return &TransactionHandler{
		transactionService: transactionService,
	}
}

func (h *TransactionHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req service.CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidRequest, "invalid request body").WithDetails(err.Error()))
		return
	}

	txn, err := h.transactionService.CreateTransaction(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, txn)
}

func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.transactionService.GetTransaction(r.Context(), mux.Vars(r)["transaction_id"])
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, txn)
}
