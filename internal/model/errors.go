package model

import (
	"errors"
	"fmt"
	"time"
)

// ============================================================================
// 结算错误分类
// ============================================================================
//
// 只有 LockTimeoutError 可重试，其余都需要调用方或用户介入。
// 任何失败的 apply 都不会留下部分写入。
// ============================================================================

// SettlementError 所有业务错误的公共接口
type SettlementError interface {
	error
	Retryable() bool
}

// InvalidTransitionError 当前状态下动作不合法，通常是客户端页面过期
type InvalidTransitionError struct {
	Action ActionKind
	From   string
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("invalid transition: %s from %s", e.Action, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidTransitionError) Retryable() bool { return false }

// UnauthorizedActorError 角色无权执行该动作
type UnauthorizedActorError struct {
	Action  ActionKind
	ActorID string
	Role    string
}

func (e *UnauthorizedActorError) Error() string {
	return fmt.Sprintf("actor %s (role %s) may not %s", e.ActorID, e.Role, e.Action)
}

func (e *UnauthorizedActorError) Retryable() bool { return false }

// InsufficientFundsError 动作会破坏资金守恒，出现即意味着数据异常或锁失效
type InsufficientFundsError struct {
	EscrowID  string
	Requested int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient escrow funds on %s: requested %d, available %d",
		e.EscrowID, e.Requested, e.Available)
}

func (e *InsufficientFundsError) Retryable() bool { return false }

// RevisionLimitExceededError 返工次数用尽，调用方应转入争议
type RevisionLimitExceededError struct {
	EscrowID      string
	RevisionCount int
	MaxRevisions  int
}

func (e *RevisionLimitExceededError) Error() string {
	return fmt.Sprintf("revision limit reached on %s: %d/%d", e.EscrowID, e.RevisionCount, e.MaxRevisions)
}

func (e *RevisionLimitExceededError) Retryable() bool { return false }

// LockTimeoutError 获取托管锁超时，可退避重试
type LockTimeoutError struct {
	EscrowID string
	Waited   time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("lock timeout on escrow %s after %s", e.EscrowID, e.Waited)
}

func (e *LockTimeoutError) Retryable() bool { return true }

var (
	ErrEscrowNotFound    = errors.New("escrow not found")
	ErrMilestoneNotFound = errors.New("milestone not found")
	ErrInvalidPayload    = errors.New("invalid action payload")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrFundingMismatch   = errors.New("funding amount must equal escrow total")
	ErrConcurrentUpdate  = errors.New("concurrent update, retries exhausted")
)

// IsRetryable 仅锁超时可由调用方退避重试
func IsRetryable(err error) bool {
	var se SettlementError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return false
}
