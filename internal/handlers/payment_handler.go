package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openbilling/payment-core/internal/automaton"
	"github.com/openbilling/payment-core/internal/interfaces"
	"github.com/openbilling/payment-core/internal/models"
)

type PaymentHandler struct {
	runner *automaton.Runner
	store  interfaces.PaymentStore
	logger *zap.Logger
}

func NewPaymentHandler(runner *automaton.Runner, store interfaces.PaymentStore, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{runner: runner, store: store, logger: logger}
}

type transactionRequest struct {
	TransactionType        string                  `json:"transaction_type" binding:"required"`
	AccountID              string                  `json:"account_id" binding:"required"`
	AccountExternalKey     string                  `json:"account_external_key"`
	DefaultPaymentMethodID string                  `json:"default_payment_method_id"`
	PaymentID              string                  `json:"payment_id"`
	PaymentExternalKey     string                  `json:"payment_external_key"`
	TransactionExternalKey string                  `json:"transaction_external_key"`
	Amount                 string                  `json:"amount"`
	Currency               string                  `json:"currency"`
	PaymentMethodID        string                  `json:"payment_method_id"`
	Properties             []models.PluginProperty `json:"properties"`
}

func (h *PaymentHandler) ProcessTransaction(c *gin.Context) {
	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	params, err := h.buildParams(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.runner.Run(c.Request.Context(), params)
	if err != nil {
		var pe *models.PaymentError
		if errors.As(err, &pe) && pe.Code != models.ErrCodeInternal {
			status := http.StatusConflict
			if pe.Code == models.ErrCodeNoSuchPayment {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": pe.Error(), "code": string(pe.Code)})
			return
		}
		h.logger.Error("transaction run failed",
			zap.String("transaction_type", req.TransactionType),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process transaction"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payment_id":         result.PaymentID,
		"transaction_id":     result.TransactionID,
		"state":              result.StateName,
		"status":             result.Status,
		"processed_amount":   result.ProcessedAmount.String(),
		"processed_currency": result.ProcessedCurrency,
		"gateway_error_code": result.GatewayErrorCode,
		"gateway_error_msg":  result.GatewayErrorMsg,
		"retry_at":           result.RetryAt,
	})
}

func (h *PaymentHandler) buildParams(req transactionRequest) (automaton.RunParams, error) {
	var params automaton.RunParams

	txType, err := models.ParseTransactionType(req.TransactionType)
	if err != nil {
		return params, err
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		return params, errors.New("invalid account_id")
	}

	account := &models.Account{ID: accountID, ExternalKey: req.AccountExternalKey}
	if account.ExternalKey == "" {
		account.ExternalKey = accountID.String()
	}
	if req.DefaultPaymentMethodID != "" {
		if account.DefaultPaymentMethodID, err = uuid.Parse(req.DefaultPaymentMethodID); err != nil {
			return params, errors.New("invalid default_payment_method_id")
		}
	}

	params = automaton.RunParams{
		TransactionType:        txType,
		Account:                account,
		PaymentExternalKey:     req.PaymentExternalKey,
		TransactionExternalKey: req.TransactionExternalKey,
		Currency:               req.Currency,
		ShouldLockAccount:      true,
		Properties:             req.Properties,
	}
	if req.PaymentID != "" {
		if params.PaymentID, err = uuid.Parse(req.PaymentID); err != nil {
			return params, errors.New("invalid payment_id")
		}
	}
	if req.PaymentMethodID != "" {
		if params.PaymentMethodID, err = uuid.Parse(req.PaymentMethodID); err != nil {
			return params, errors.New("invalid payment_method_id")
		}
	}
	if req.Amount != "" {
		if params.Amount, err = decimal.NewFromString(req.Amount); err != nil {
			return params, errors.New("invalid amount")
		}
	}
	return params, nil
}

func (h *PaymentHandler) GetPayment(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id"})
		return
	}

	payment, err := h.store.GetPayment(c.Request.Context(), paymentID)
	if errors.Is(err, interfaces.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch payment"})
		return
	}

	transactions, err := h.store.GetTransactionsForPayment(c.Request.Context(), paymentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch transactions"})
		return
	}

	views := make([]gin.H, len(transactions))
	for i, t := range transactions {
		views[i] = gin.H{
			"transaction_id":     t.ID,
			"external_key":       t.ExternalKey,
			"transaction_type":   t.Type,
			"amount":             t.Amount.String(),
			"currency":           t.Currency,
			"processed_amount":   t.ProcessedAmount.String(),
			"processed_currency": t.ProcessedCurrency,
			"status":             t.Status,
			"gateway_error_code": t.GatewayErrorCode,
			"gateway_error_msg":  t.GatewayErrorMsg,
			"effective_date":     t.EffectiveDate,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"payment_id":        payment.ID,
		"account_id":        payment.AccountID,
		"payment_method_id": payment.PaymentMethodID,
		"external_key":      payment.ExternalKey,
		"payment_number":    payment.PaymentNumber,
		"state":             payment.StateName,
		"transactions":      views,
	})
}
