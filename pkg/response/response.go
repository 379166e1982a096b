package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "stagekeeper/pkg/errors"
)

// Response 统一响应结构
// ErrorCode 为业务错误码（如 STAGE_SETTLING），客户端据此分支处理
type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	ErrorCode string      `json:"error_code,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// ── 成功响应 ──

// OK 200 成功响应
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 201 创建成功
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// ── 错误响应 ──

// Error 通用错误响应
func Error(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
	})
}

// BadRequest 400
func BadRequest(c *gin.Context, code int, message string) {
	Error(c, http.StatusBadRequest, code, message)
}

// Unauthorized 401
func Unauthorized(c *gin.Context, code int, message string) {
	Error(c, http.StatusUnauthorized, code, message)
}

// Forbidden 403
func Forbidden(c *gin.Context, code int, message string) {
	Error(c, http.StatusForbidden, code, message)
}

// NotFound 404
func NotFound(c *gin.Context, code int, message string) {
	Error(c, http.StatusNotFound, code, message)
}

// InternalError 500
func InternalError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, 50000, "服务器内部错误")
}

// ── 业务错误映射 ──

type errorMapping struct {
	httpStatus int
	code       int
}

var codeMappings = map[apperrors.Code]errorMapping{
	apperrors.CodeSessionInvalid:       {http.StatusUnauthorized, 10002},
	apperrors.CodePermissionDenied:     {http.StatusForbidden, 10003},
	apperrors.CodeInvalidRewardPool:    {http.StatusBadRequest, 14001},
	apperrors.CodeInvalidStageStatus:   {http.StatusConflict, 14002},
	apperrors.CodeStageSettling:        {http.StatusConflict, 14003},
	apperrors.CodeStageSettled:         {http.StatusConflict, 14004},
	apperrors.CodeStageArchived:        {http.StatusConflict, 14005},
	apperrors.CodeStageNotFound:        {http.StatusNotFound, 14006},
	apperrors.CodeSettlementNotFound:   {http.StatusNotFound, 14007},
	apperrors.CodeSettlementInProgress: {http.StatusConflict, 14008},
	apperrors.CodeStageStatusChanged:   {http.StatusConflict, 14009},
	apperrors.CodeDistributionExceeds:  {http.StatusUnprocessableEntity, 14010},
	apperrors.CodeScoringFailed:        {http.StatusUnprocessableEntity, 14011},
	apperrors.CodeSettlementTimeout:    {http.StatusConflict, 14012},
	apperrors.CodeSettlementLockLost:   {http.StatusInternalServerError, 14013},
	apperrors.CodeGroupNotFound:        {http.StatusNotFound, 14014},
	apperrors.CodeDuplicateVote:        {http.StatusConflict, 14015},
}

// FromError 将业务错误渲染为结构化拒绝；未知错误统一返回 500
func FromError(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	m, ok := codeMappings[code]
	if !ok {
		c.JSON(http.StatusInternalServerError, Response{
			Code:      50000,
			Message:   "服务器内部错误",
			ErrorCode: string(apperrors.CodeSystemError),
		})
		return
	}

	msg := err.Error()
	var appErr *apperrors.AppError
	if apperrors.As(err, &appErr) {
		msg = appErr.Message
	}
	c.JSON(m.httpStatus, Response{
		Code:      m.code,
		Message:   msg,
		ErrorCode: string(code),
	})
}
