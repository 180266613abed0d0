package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/loiht2/assistant-runtime/backend/models"
	"github.com/loiht2/assistant-runtime/backend/trading"
)

// GetTrading handles GET /trading?action=
func (h *Handler) GetTrading(c *gin.Context) {
	svc := h.orch.Trading()
	ctx := c.Request.Context()

	switch action := c.Query("action"); action {
	case "", "status":
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"status":  svc.Status(ctx),
		})
	case "account":
		acct, err := svc.Account(ctx)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"account": acct,
			"balance": acct.Balances,
		})
	case "transactions":
		limit := 50
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				badRequest(c, "limit must be a non-negative integer", err)
				return
			}
			limit = n
		}
		units := svc.Transactions(ctx, limit)
		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"transactions": units,
			"history":      h.converter.Trades(units),
		})
	case "pairs":
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"pairs":   svc.Pairs(),
		})
	case "active-trades":
		active := svc.Pool().Active()
		c.JSON(http.StatusOK, gin.H{
			"success":              true,
			"activeTrades":         len(active),
			"maxConcurrentTrades":  svc.Pool().Capacity(),
			"isAutoTradingEnabled": svc.AutoTrading(),
			"units":                active,
		})
	default:
		badRequest(c, "Unknown action: "+action, nil)
	}
}

// PostTrading handles POST /trading
func (h *Handler) PostTrading(c *gin.Context) {
	var req models.TradingActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "No action specified", err)
		return
	}

	svc := h.orch.Trading()
	ctx := c.Request.Context()

	switch req.Action {
	case "start":
		started := svc.Start(ctx)
		message := "Auto-trading enabled"
		if !started {
			message = "Auto-trading already enabled"
		}
		c.JSON(http.StatusOK, gin.H{
			"success":              true,
			"message":              message,
			"isAutoTradingEnabled": true,
		})
	case "stop":
		stopped := svc.Stop(ctx)
		message := "Auto-trading disabled"
		if !stopped {
			message = "Auto-trading already disabled"
		}
		c.JSON(http.StatusOK, gin.H{
			"success":              true,
			"message":              message,
			"isAutoTradingEnabled": false,
		})
	case "trade":
		if req.Pair == "" || req.Amount <= 0 {
			badRequest(c, "Pair and amount are required", nil)
			return
		}
		side := req.Side
		if side == "" {
			side = models.Buy
		}
		trade, err := svc.Trade(ctx, trading.Order{
			Pair:   req.Pair,
			Side:   side,
			Amount: decimal.NewFromFloat(req.Amount),
		})
		if err != nil {
			h.fail(c, err)
			return
		}
		outcome := "Loss"
		if trade.IsProfit {
			outcome = "Profit"
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": fmt.Sprintf("Trade executed: %s of %s USDT", outcome, trade.Profit.Abs().StringFixed(2)),
			"trade":   trade,
		})
	case "check-order":
		if req.OrderID == "" {
			badRequest(c, "orderId is required", nil)
			return
		}
		order, err := svc.CheckOrder(ctx, req.OrderID)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"order":   order,
		})
	case "configure":
		if req.MaxConcurrentTrades == nil {
			badRequest(c, "maxConcurrentTrades is required", nil)
			return
		}
		if err := svc.Configure(ctx, *req.MaxConcurrentTrades); err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":             true,
			"message":             "Trading configuration updated",
			"maxConcurrentTrades": svc.Pool().Capacity(),
		})
	default:
		badRequest(c, "Unknown action: "+req.Action, nil)
	}
}
