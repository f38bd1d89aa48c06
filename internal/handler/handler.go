package handler

import (
	"errors"
	"strconv"

	"bankledger/internal/config"
	"bankledger/internal/infrastructure/auth"
	"bankledger/internal/infrastructure/logger"
	"bankledger/internal/model"
	"bankledger/internal/service"
	"bankledger/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	cfg      *config.Config
	commands *service.CommandService
	queries  *service.QueryService
}

// NewHandler 创建处理器实例
func NewHandler(cfg *config.Config, commands *service.CommandService, queries *service.QueryService) *Handler {
	return &Handler{
		cfg:      cfg,
		commands: commands,
		queries:  queries,
	}
}

// renderError 按错误分类返回：
// 校验失败带字段级原因；冲突/基础设施错误返回笼统的"稍后重试"
func renderError(c *gin.Context, err error) {
	if ve, ok := service.AsValidation(err); ok {
		response.ParamError(c, ve.Error())
		return
	}
	if errors.Is(err, service.ErrTryAgain) {
		response.TryAgain(c)
		return
	}
	logger.L().Error("请求处理失败",
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	response.ServerError(c)
}

// ============================================================
// 令牌接口
// ============================================================

// TokenRequest 换取访问令牌
// 身份认证由上游完成，这里只负责为给定用户签发令牌
type TokenRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// IssueToken 签发访问令牌
// POST /api/v1/token
func (h *Handler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	token, expiresAt, err := auth.IssueToken(&h.cfg.JWT, req.UserID)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, gin.H{
		"token":      token,
		"expires_at": expiresAt,
	})
}

// ============================================================
// 命令接口
// ============================================================

// DepositRequest 入账请求
// 金额为字符串，如 "10.50"，最多 2 位小数
type DepositRequest struct {
	UserID        string `json:"user_id" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
	Description   string `json:"description"`
	CorrelationID string `json:"correlation_id"` // 调用方追踪ID，可缺省
}

// Deposit 入账
// POST /api/v1/account/deposit
func (h *Handler) Deposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if !authorizedFor(c, req.UserID) {
		return
	}

	amount, err := model.NewAmount(req.Amount)
	if err != nil {
		response.ParamError(c, "amount "+err.Error())
		return
	}

	result, err := h.commands.HandleDeposit(c.Request.Context(), &service.DepositCommand{
		UserID:        req.UserID,
		Amount:        amount,
		Description:   req.Description,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, result)
}

// PayBillRequest 账单支付请求
type PayBillRequest struct {
	UserID        string `json:"user_id" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
	Description   string `json:"description" binding:"required"` // 账单摘要，支付必填
	CorrelationID string `json:"correlation_id"`
}

// PayBill 支付账单
// POST /api/v1/account/paybill
//
// 【关键点】余额不足不会报错：不足部分转为透支欠款，
// 响应里的 went_negative 标记本次是否首次转入透支
func (h *Handler) PayBill(c *gin.Context) {
	var req PayBillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if !authorizedFor(c, req.UserID) {
		return
	}

	amount, err := model.NewAmount(req.Amount)
	if err != nil {
		response.ParamError(c, "amount "+err.Error())
		return
	}

	result, err := h.commands.HandlePayBill(c.Request.Context(), &service.PayBillCommand{
		UserID:        req.UserID,
		Amount:        amount,
		Description:   req.Description,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, result)
}

// ============================================================
// 查询接口
// ============================================================

// GetBalance 查询有效余额
// GET /api/v1/account/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.ParamError(c, "user_id 参数不能为空")
		return
	}
	if !authorizedFor(c, userID) {
		return
	}

	snapshot, err := h.queries.GetSnapshot(c.Request.Context(), userID, false)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id":           snapshot.UserID,
		"available":         snapshot.Available,
		"overdraft":         snapshot.Overdraft,
		"effective_balance": snapshot.EffectiveBalance,
		"in_overdraft":      snapshot.InOverdraft,
	})
}

// GetSnapshot 查询余额快照（可带流水）
// GET /api/v1/account/snapshot?user_id=xxx&include_history=true
func (h *Handler) GetSnapshot(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.ParamError(c, "user_id 参数不能为空")
		return
	}
	if !authorizedFor(c, userID) {
		return
	}

	includeHistory := c.DefaultQuery("include_history", "false") == "true"

	snapshot, err := h.queries.GetSnapshot(c.Request.Context(), userID, includeHistory)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, snapshot)
}

// ListTransactions 分页查询流水，时间倒序
// GET /api/v1/account/transactions?user_id=xxx&page=1&page_size=10
func (h *Handler) ListTransactions(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.ParamError(c, "user_id 参数不能为空")
		return
	}
	if !authorizedFor(c, userID) {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	records, total, err := h.queries.ListTransactions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      records,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}
