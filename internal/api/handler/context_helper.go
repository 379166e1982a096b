package handler

import (
	"github.com/gin-gonic/gin"

	apperrors "stagekeeper/pkg/errors"
	"stagekeeper/pkg/response"
)

// mustGetString 读取中间件注入的字符串值，缺失时写入 401
func mustGetString(c *gin.Context, key string) (string, bool) {
	v, exists := c.Get(key)
	if !exists {
		response.Unauthorized(c, 10002, "未认证")
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		response.Unauthorized(c, 10002, "未认证")
		return "", false
	}
	return s, true
}

// MustGetUserID 从 Gin 上下文中安全提取 user_id。
// 调用方应在 ok=false 时直接 return。
func MustGetUserID(c *gin.Context) (string, bool) {
	return mustGetString(c, "user_id")
}

// MustGetRole 从 Gin 上下文中安全提取 role。
func MustGetRole(c *gin.Context) (string, bool) {
	return mustGetString(c, "role")
}

// MustGetSessionID 提取会话令牌（SessionToken 或 JWTAuth 注入）
// 缺失时按 SESSION_INVALID 拒绝，与 SecureValidate 的拒绝格式一致
func MustGetSessionID(c *gin.Context) (string, bool) {
	v, _ := c.Get("session_id")
	s, ok := v.(string)
	if !ok || s == "" {
		response.FromError(c, apperrors.New(apperrors.CodeSessionInvalid, "缺少会话令牌"))
		return "", false
	}
	return s, true
}
