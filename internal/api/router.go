package api

import (
	"net/http"

	"ecoswap/internal/logger"
	"ecoswap/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type RouterConfig struct {
	// JWTSecret enables bearer-token checks on mutating routes when set.
	JWTSecret string
	// Gatherer backs /metrics; nil leaves the route unregistered.
	Gatherer prometheus.Gatherer
}

func NewRouter(h *Handlers, zapLogger *zap.Logger, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.GinLogger(zapLogger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	v1.GET("/wallet/:accountId", h.GetWallet)
	v1.GET("/wallet/:accountId/purchases", h.GetPurchaseHistory)
	v1.GET("/wallet/:accountId/retirements", h.GetRetirementHistory)
	v1.GET("/wallet/:accountId/retirements/pending", h.GetPendingRetirements)
	v1.GET("/wallet/:accountId/summary", h.GetRetirementSummary)
	v1.GET("/marketplace", h.GetMarketplace)
	v1.GET("/marketplace/lots/:lotId", h.GetLot)

	write := v1.Group("")
	if cfg.JWTSecret != "" {
		write.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret, h.Logger))
	}
	write.POST("/accounts", h.OpenAccount)
	write.POST("/accounts/:accountId/mint", h.MintCoins)
	write.POST("/marketplace/lots", h.ListLot)
	write.POST("/purchase", h.Purchase)
	write.POST("/retirement/request", h.RequestRetirement)
	write.POST("/retirement/confirm/:id", h.ConfirmRetirement)
	write.PUT("/retirement/:id", h.UpdateRetirement)
	write.DELETE("/retirement/:id", h.CancelRetirement)

	return r
}
