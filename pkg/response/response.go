package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess      = 0
	CodeParamError   = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeServerError  = 500
)

// 业务错误码（对应错误分类，见 service 包）
const (
	CodeValidationFailed = 1001 // 入参校验失败，message 带字段级原因
	CodeTryAgain         = 1002 // 并发冲突或系统繁忙，稍后重试
	CodeUnavailable      = 1003 // 基础设施暂不可用
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeValidationFailed, message)
}

func TryAgain(c *gin.Context) {
	Error(c, CodeTryAgain, "系统繁忙，请稍后重试")
}

func ServerError(c *gin.Context) {
	// 不向调用方暴露内部错误细节
	Error(c, CodeUnavailable, "服务暂时不可用，请稍后重试")
}

func Unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, Response{
		Code:    CodeUnauthorized,
		Message: message,
	})
}
