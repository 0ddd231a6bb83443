package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, mode string, logger *slog.Logger) *gin.Engine {
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	r := gin.New()

	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		escrow := api.Group("/escrow")
		{
			escrow.POST("/create", h.CreateEscrow)
			escrow.GET("/detail", h.GetEscrow)
			escrow.GET("/milestones", h.ListMilestones)
			escrow.GET("/ledger", h.ListTransactions)
			escrow.GET("/list", h.ListEscrows)
			escrow.POST("/apply", h.Apply)
		}

		commission := api.Group("/commission")
		{
			commission.POST("/quote", h.Quote)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
