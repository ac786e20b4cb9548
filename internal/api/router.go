package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/openbilling/payment-core/internal/handlers"
	"github.com/openbilling/payment-core/internal/telemetry"
)

func NewRouter(payments *handlers.PaymentHandler, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware(logger))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "payment-core"})
	})

	r.POST("/payments/transactions", payments.ProcessTransaction)
	r.GET("/payments/:id", payments.GetPayment)

	return r
}
