package engine

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/meridianpay/sentinel/internal/assets"
	"github.com/meridianpay/sentinel/internal/currency"
	"github.com/meridianpay/sentinel/internal/logging"
	"github.com/meridianpay/sentinel/internal/transactions"
)

// Handler provides the HTTP entry points into the engine.
type Handler struct {
	engine     *Engine
	txs        transactions.Store
	normalizer *currency.Normalizer
}

// NewHandler creates a new engine handler.
func NewHandler(engine *Engine, txs transactions.Store, normalizer *currency.Normalizer) *Handler {
	return &Handler{engine: engine, txs: txs, normalizer: normalizer}
}

// RegisterRoutes sets up the evaluation routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/evaluate", h.Evaluate)
	r.POST("/transactions", h.RecordAndEvaluate)
}

// EvaluateRequest is the request body for evaluating an already-recorded
// transaction.
type EvaluateRequest struct {
	TransactionID int64  `json:"transaction_id" binding:"required"`
	Kind          string `json:"kind" binding:"required"`
	Asset         string `json:"asset" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
	SenderID      int64  `json:"sender_customer_id"`
	ReceiverID    int64  `json:"receiver_customer_id"`
}

// Evaluate handles POST /v1/evaluate
func (h *Handler) Evaluate(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	tc, err := buildContext(req.Kind, req.Asset, req.Amount, req.SenderID, req.ReceiverID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	result, err := h.engine.Evaluate(c.Request.Context(), req.TransactionID, tc)
	if err != nil {
		h.renderEvaluateError(c, req.TransactionID, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// RecordRequest is the request body for recording a transaction.
type RecordRequest struct {
	Kind       string `json:"kind" binding:"required"`
	Asset      string `json:"asset" binding:"required"`
	Amount     string `json:"amount" binding:"required"`
	SenderID   int64  `json:"sender_customer_id"`
	ReceiverID int64  `json:"receiver_customer_id"`
}

// RecordAndEvaluate handles POST /v1/transactions: it records the
// transaction and evaluates it synchronously, which is what guarantees
// at most one evaluation per transaction.
func (h *Handler) RecordAndEvaluate(c *gin.Context) {
	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	tc, err := buildContext(req.Kind, req.Asset, req.Amount, req.SenderID, req.ReceiverID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	ctx := c.Request.Context()

	// Base-fiat amount is captured at record time so history aggregates
	// stay in threshold units. Zero means the conversion was unavailable.
	amountBase := decimal.Zero
	if base, err := h.normalizer.ToCanonical(ctx, tc.Asset, tc.Amount); err == nil {
		amountBase = base
	} else {
		logging.L(ctx).Warn("recording transaction without base amount",
			"asset", string(tc.Asset), "error", err)
	}

	tx := &transactions.Transaction{
		Kind:       tc.Kind,
		Asset:      tc.Asset,
		Amount:     tc.Amount,
		AmountBase: amountBase,
		SenderID:   tc.SenderID,
		ReceiverID: tc.ReceiverID,
	}
	if err := h.txs.Create(ctx, tx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	result, err := h.engine.Evaluate(ctx, tx.ID, tc)
	if err != nil {
		h.renderEvaluateError(c, tx.ID, err)
		return
	}

	status := http.StatusCreated
	c.JSON(status, gin.H{
		"transaction": tx,
		"result":      result,
	})
}

// renderEvaluateError maps evaluation failures to responses. History
// outages and timeouts fail closed: the pipeline is told to hold the
// transaction.
func (h *Handler) renderEvaluateError(c *gin.Context, txID int64, err error) {
	if errors.Is(err, transactions.ErrHistoryUnavailable) {
		logging.L(c.Request.Context()).Error("evaluation failed closed",
			"transaction_id", txID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"decision": "hold",
			"error":    "history_unavailable",
			"message":  "transaction history is unavailable; hold the transaction",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": err.Error(),
	})
}

func buildContext(kind, asset, amount string, senderID, receiverID int64) (*TransactionContext, error) {
	code, err := assets.Parse(asset)
	if err != nil {
		return nil, err
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, errors.New("amount must be a decimal string")
	}
	if amt.Sign() <= 0 {
		return nil, errors.New("amount must be positive")
	}
	switch transactions.Kind(kind) {
	case transactions.KindDeposit, transactions.KindWithdrawal, transactions.KindTransfer:
	default:
		return nil, errors.New("kind must be deposit, withdrawal, or transfer")
	}
	return &TransactionContext{
		Kind:       transactions.Kind(kind),
		Asset:      code,
		Amount:     amt,
		SenderID:   senderID,
		ReceiverID: receiverID,
	}, nil
}
