package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"ecoswap/internal/middleware"
	"ecoswap/internal/models"
	"ecoswap/internal/service"
	"ecoswap/pkg"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handlers struct {
	Accounts    service.AccountService
	Purchases   service.PurchaseService
	Retirements service.RetirementService
	Reports     service.ReportingService
	Logger      pkg.Logger
}

func (h *Handlers) OpenAccount(c *gin.Context) {
	var req OpenAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	if !authorize(c, req.AccountID) {
		return
	}
	acc, err := h.Accounts.OpenAccount(c.Request.Context(), req.AccountID)
	if err != nil {
		h.fail(c, "open account", err, zap.String("accountID", req.AccountID))
		return
	}
	c.JSON(http.StatusCreated, acc)
}

func (h *Handlers) MintCoins(c *gin.Context) {
	accountID := c.Param("accountId")
	var req MintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	if !authorize(c, accountID) {
		return
	}
	acc, err := h.Accounts.MintCoins(c.Request.Context(), accountID, req.Amount)
	if err != nil {
		h.fail(c, "mint coins", err, zap.String("accountID", accountID), zap.Int64("amount", req.Amount))
		return
	}
	c.JSON(http.StatusOK, acc)
}

func (h *Handlers) GetWallet(c *gin.Context) {
	accountID := c.Param("accountId")
	w, err := h.Reports.GetWallet(c.Request.Context(), accountID)
	if err != nil {
		h.fail(c, "get wallet", err, zap.String("accountID", accountID))
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *Handlers) GetPurchaseHistory(c *gin.Context) {
	accountID := c.Param("accountId")
	history, err := h.Reports.GetPurchaseHistory(c.Request.Context(), accountID)
	if err != nil {
		h.fail(c, "get purchase history", err, zap.String("accountID", accountID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchases": nonNil(history)})
}

func (h *Handlers) GetRetirementHistory(c *gin.Context) {
	accountID := c.Param("accountId")
	history, err := h.Reports.GetRetirementHistory(c.Request.Context(), accountID)
	if err != nil {
		h.fail(c, "get retirement history", err, zap.String("accountID", accountID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"retirements": nonNil(history)})
}

func (h *Handlers) GetPendingRetirements(c *gin.Context) {
	accountID := c.Param("accountId")
	pending, err := h.Reports.GetPendingRetirements(c.Request.Context(), accountID)
	if err != nil {
		h.fail(c, "get pending retirements", err, zap.String("accountID", accountID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"retirements": nonNil(pending)})
}

func (h *Handlers) GetRetirementSummary(c *gin.Context) {
	accountID := c.Param("accountId")
	sum, err := h.Reports.GetRetirementSummary(c.Request.Context(), accountID)
	if err != nil {
		h.fail(c, "get retirement summary", err, zap.String("accountID", accountID))
		return
	}
	c.JSON(http.StatusOK, sum)
}

// GetMarketplace lists lots with remaining credits; ?all=true includes sold-out lots.
func (h *Handlers) GetMarketplace(c *gin.Context) {
	var (
		lots []models.CreditLot
		err  error
	)
	if all, _ := strconv.ParseBool(c.Query("all")); all {
		lots, err = h.Reports.GetAllLots(c.Request.Context())
	} else {
		lots, err = h.Reports.GetMarketplaceListing(c.Request.Context())
	}
	if err != nil {
		h.fail(c, "list marketplace", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lots": nonNil(lots)})
}

func (h *Handlers) GetLot(c *gin.Context) {
	lotID, err := strconv.ParseInt(c.Param("lotId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Errors: "Invalid lot id"})
		return
	}
	lot, err := h.Reports.GetLot(c.Request.Context(), lotID)
	if err != nil {
		h.fail(c, "get lot", err, zap.Int64("lotID", lotID))
		return
	}
	c.JSON(http.StatusOK, lot)
}

func (h *Handlers) ListLot(c *gin.Context) {
	var req ListLotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	newLot, err := req.toNewLot()
	if err != nil {
		h.fail(c, "list lot", err)
		return
	}
	lot, err := h.Accounts.ListLot(c.Request.Context(), newLot)
	if err != nil {
		h.fail(c, "list lot", err, zap.String("source", req.Source))
		return
	}
	c.JSON(http.StatusCreated, lot)
}

func (h *Handlers) Purchase(c *gin.Context) {
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	if !authorize(c, req.AccountID) {
		return
	}
	tr, err := h.Purchases.Purchase(c.Request.Context(), req.AccountID, req.LotID, req.Quantity)
	if err != nil {
		h.fail(c, "purchase credits", err,
			zap.String("accountID", req.AccountID), zap.Int64("lotID", req.LotID), zap.Int64("quantity", req.Quantity))
		return
	}
	c.JSON(http.StatusOK, tr)
}

func (h *Handlers) RequestRetirement(c *gin.Context) {
	var req RetirementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	if !authorize(c, req.AccountID) {
		return
	}
	rec, err := h.Retirements.RequestRetirement(c.Request.Context(), req.AccountID, req.Coins, req.Reason, req.AutoConfirm)
	if err != nil {
		h.fail(c, "request retirement", err, zap.String("accountID", req.AccountID), zap.Int64("coins", req.Coins))
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *Handlers) ConfirmRetirement(c *gin.Context) {
	id := c.Param("id")
	var req ConfirmRetirementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	if !authorize(c, req.AccountID) {
		return
	}
	rec, err := h.Retirements.ConfirmRetirement(c.Request.Context(), id, req.AccountID)
	if err != nil {
		h.fail(c, "confirm retirement", err, zap.String("retirementID", id), zap.String("accountID", req.AccountID))
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handlers) UpdateRetirement(c *gin.Context) {
	id := c.Param("id")
	var req UpdateRetirementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	if !authorize(c, req.AccountID) {
		return
	}
	rec, err := h.Retirements.UpdateRetirement(c.Request.Context(), id, req.AccountID, req.Coins, req.Reason)
	if err != nil {
		h.fail(c, "update retirement", err, zap.String("retirementID", id), zap.String("accountID", req.AccountID))
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handlers) CancelRetirement(c *gin.Context) {
	id := c.Param("id")
	accountID := c.Query("accountId")
	if accountID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Errors: "accountId is required"})
		return
	}
	if !authorize(c, accountID) {
		return
	}
	rec, err := h.Retirements.CancelRetirement(c.Request.Context(), id, accountID)
	if err != nil {
		h.fail(c, "cancel retirement", err, zap.String("retirementID", id), zap.String("accountID", accountID))
		return
	}
	c.JSON(http.StatusOK, rec)
}

// StatusClientClosedRequest is reported when the caller went away while the
// request was waiting on the ledger.
const StatusClientClosedRequest = 499

// StatusFor maps ledger errors onto HTTP statuses. The message is safe to
// show to the caller.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, models.ErrInsufficientBalance),
		errors.Is(err, models.ErrInsufficientCredits),
		errors.Is(err, models.ErrInvalidState):
		return http.StatusConflict, err.Error()
	case errors.Is(err, models.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrTimeout):
		return http.StatusServiceUnavailable, "Ledger busy, retry later"
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, "Request cancelled"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func (h *Handlers) fail(c *gin.Context, op string, err error, fields ...zap.Field) {
	status, msg := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("failed to "+op, append(fields, zap.Error(err))...)
	}
	_ = c.Error(err)
	c.JSON(status, ErrorResponse{Errors: msg})
}

func authorize(c *gin.Context, accountID string) bool {
	if middleware.Authorized(c, accountID) {
		return true
	}
	c.JSON(http.StatusForbidden, ErrorResponse{Errors: "Token does not match account"})
	return false
}

func badRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Errors: "Invalid request body"})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
