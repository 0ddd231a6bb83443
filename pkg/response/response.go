package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess     = 0
	CodeParamError  = 400
	CodeServerError = 500
)

// 结算业务错误码，每种错误给用户不同的提示
const (
	CodeEscrowNotFound        = 1001
	CodeInvalidTransition     = 1002
	CodeInsufficientFunds     = 1003
	CodeDuplicateRequest      = 1004
	CodeMilestoneNotFound     = 1005
	CodeRevisionLimitExceeded = 1006
	CodeLockTimeout           = 1007
	CodeConcurrentUpdate      = 1008
	CodeUnauthorizedActor     = 1009
	CodeFundingMismatch       = 1010
	CodeCommissionUnavailable = 1011
)

type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable,omitempty"`
	Data      interface{} `json:"data,omitempty"`
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

// RetryableError 客户端可以退避后原样重试
func RetryableError(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:      code,
		Message:   message,
		Retryable: true,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
