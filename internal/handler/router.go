package handler

import (
	"bankledger/internal/config"
	"bankledger/internal/service"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(cfg *config.Config, commands *service.CommandService, queries *service.QueryService) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(cfg, commands, queries)

	api := r.Group("/api/v1")
	{
		// 令牌签发不需要认证（身份由上游确认）
		api.POST("/token", h.IssueToken)

		account := api.Group("/account")
		account.Use(AuthMiddleware(&cfg.JWT))
		{
			// 命令
			account.POST("/deposit", h.Deposit)
			account.POST("/paybill", h.PayBill)

			// 查询
			account.GET("/balance", h.GetBalance)
			account.GET("/snapshot", h.GetSnapshot)
			account.GET("/transactions", h.ListTransactions)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
