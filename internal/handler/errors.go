package handler

import (
	"errors"

	"escrowsystem/internal/commission"
	"escrowsystem/internal/model"
	"escrowsystem/internal/repository"
	"escrowsystem/pkg/money"
	"escrowsystem/pkg/response"

	"github.com/gin-gonic/gin"
)

// writeError 每类业务错误对应独立的错误码和提示，未知错误不向外暴露细节
func writeError(c *gin.Context, err error) {
	var (
		invalid      *model.InvalidTransitionError
		unauthorized *model.UnauthorizedActorError
		insufficient *model.InsufficientFundsError
		revision     *model.RevisionLimitExceededError
		lockTimeout  *model.LockTimeoutError
	)

	switch {
	case errors.As(err, &lockTimeout):
		response.RetryableError(c, response.CodeLockTimeout, "托管正在处理其他请求，请稍后重试")
	case errors.As(err, &invalid):
		response.BusinessError(c, response.CodeInvalidTransition, "当前状态不允许该操作，请刷新后重试: "+invalid.Error())
	case errors.As(err, &unauthorized):
		response.Error(c, response.CodeUnauthorizedActor, "无权执行该操作")
	case errors.As(err, &insufficient):
		response.BusinessError(c, response.CodeInsufficientFunds, "托管余额不足，已通知运营处理")
	case errors.As(err, &revision):
		response.BusinessError(c, response.CodeRevisionLimitExceeded, "返工次数已用完，可以发起争议")
	case errors.Is(err, repository.ErrDuplicateRequest):
		response.BusinessError(c, response.CodeDuplicateRequest, "重复请求，请用原 request_id 查询结果")
	case errors.Is(err, model.ErrEscrowNotFound):
		response.Error(c, response.CodeEscrowNotFound, "托管不存在")
	case errors.Is(err, model.ErrMilestoneNotFound):
		response.Error(c, response.CodeMilestoneNotFound, "里程碑不存在")
	case errors.Is(err, model.ErrFundingMismatch):
		response.BusinessError(c, response.CodeFundingMismatch, "注资金额必须等于托管总额")
	case errors.Is(err, model.ErrConcurrentUpdate):
		response.BusinessError(c, response.CodeConcurrentUpdate, "托管被并发修改，请刷新后重试")
	case errors.Is(err, model.ErrInvalidPayload), errors.Is(err, model.ErrInvalidRequest):
		response.ParamError(c, err.Error())
	case errors.Is(err, commission.ErrNonPositivePrice), errors.Is(err, commission.ErrUnknownRole),
		errors.Is(err, money.ErrInvalidCurrency), errors.Is(err, money.ErrNegativeAmount),
		errors.Is(err, money.ErrCurrencyMismatch):
		response.ParamError(c, err.Error())
	case errors.Is(err, commission.ErrUnknownRate):
		response.BusinessError(c, response.CodeCommissionUnavailable, "未配置对应等级的费率")
	default:
		response.ServerError(c, "服务器内部错误")
	}
}
