package errors

import (
	"errors"
	"fmt"
)

// ErrOptimisticLock 乐观锁冲突：记录已被其他操作修改
var ErrOptimisticLock = errors.New("数据已被其他操作修改，请刷新后重试")

// Code 业务错误码，对外稳定，客户端据此分支处理
type Code string

const (
	// 输入校验
	CodeInvalidRewardPool  Code = "INVALID_REWARD_POOL"
	CodeInvalidStageStatus Code = "INVALID_STAGE_STATUS"
	CodeStageSettling      Code = "STAGE_SETTLING"
	CodeStageSettled       Code = "STAGE_SETTLED"
	CodeStageArchived      Code = "STAGE_ARCHIVED"
	CodeSessionInvalid     Code = "SESSION_INVALID"
	CodeStageNotFound      Code = "STAGE_NOT_FOUND"
	CodeSettlementNotFound Code = "SETTLEMENT_NOT_FOUND"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeGroupNotFound      Code = "GROUP_NOT_FOUND"

	// 并发
	CodeSettlementInProgress Code = "SETTLEMENT_IN_PROGRESS"
	CodeStageStatusChanged   Code = "STAGE_STATUS_CHANGED"
	CodeDuplicateVote        Code = "DUPLICATE_VOTE"

	// 计算（已回滚）
	CodeDistributionExceeds Code = "DISTRIBUTION_EXCEEDS_POOL"
	CodeScoringFailed       Code = "SCORING_FAILED"
	CodeSettlementTimeout   Code = "SETTLEMENT_TIMEOUT"

	// 一致性（严重）
	CodeSettlementLockLost Code = "SETTLEMENT_LOCK_LOST"

	CodeSystemError Code = "SYSTEM_ERROR"
)

// AppError 带错误码的业务错误
// Critical 表示需要人工介入的一致性问题，不得自动重试
type AppError struct {
	Code     Code
	Message  string
	Critical bool
	cause    error
}

// New 创建业务错误
func New(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装底层错误
func Wrap(code Code, cause error, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// System 存储等基础设施错误，统一归为 SYSTEM_ERROR
func System(cause error, op string) *AppError {
	return Wrap(CodeSystemError, cause, "%s失败", op)
}

// AsCritical 标记为严重错误
func (e *AppError) AsCritical() *AppError {
	e.Critical = true
	return e
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.cause }

// Is 按错误码匹配，便于 errors.Is(err, errors.New(CodeX, ""))
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf 提取错误码；nil 返回空串，非 AppError 视为 SYSTEM_ERROR
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeSystemError
}

// As 透传标准库 errors.As，避免调用方同时引入两个 errors 包
func As(err error, target any) bool {
	return errors.As(err, target)
}

// IsCode 判断错误链中是否包含指定错误码
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsCritical 判断是否为严重错误
func IsCritical(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Critical
}
