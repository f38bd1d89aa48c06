package handler

import (
	"strings"
	"time"

	"bankledger/internal/config"
	"bankledger/internal/infrastructure/auth"
	"bankledger/internal/infrastructure/logger"
	"bankledger/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const contextKeyUserID = "auth_user_id"

// LoggerMiddleware 访问日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		if query != "" {
			path = path + "?" + query
		}
		logger.L().Info("http",
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
		)
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.L().Error("panic", zap.Any("error", err))
				c.AbortWithStatusJSON(500, gin.H{
					"code":    500,
					"message": "服务器内部错误",
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// AuthMiddleware 令牌校验中间件
// 解析 Bearer 令牌并把用户ID写入请求上下文
func AuthMiddleware(cfg *config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			response.Unauthorized(c, "缺少访问令牌")
			c.Abort()
			return
		}

		claims, err := auth.ParseToken(cfg, strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			response.Unauthorized(c, "令牌无效或已过期")
			c.Abort()
			return
		}

		c.Set(contextKeyUserID, claims.UserID)
		c.Next()
	}
}

// authorizedFor 校验令牌持有人与请求操作的用户一致
func authorizedFor(c *gin.Context, userID string) bool {
	tokenUser := c.GetString(contextKeyUserID)
	if tokenUser != userID {
		response.Error(c, response.CodeForbidden, "无权操作该用户的账户")
		c.Abort()
		return false
	}
	return true
}
