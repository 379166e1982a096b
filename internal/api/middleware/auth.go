package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "stagekeeper/pkg/errors"
	"stagekeeper/pkg/jwt"
	"stagekeeper/pkg/redis"
	"stagekeeper/pkg/response"
)

// 上下文键
const (
	CtxSessionID = "session_id"
	CtxUserID    = "user_id"
	CtxRole      = "role"
	CtxEmail     = "email"
)

// bearerToken 提取 Authorization: Bearer <token>
func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func abortSessionInvalid(c *gin.Context, msg string) {
	response.FromError(c, apperrors.New(apperrors.CodeSessionInvalid, "%s", msg))
	c.Abort()
}

// SessionToken 会话令牌提取中间件
// 只取出会话 ID，校验交给 StatusValidator.SecureValidate，保证门控写操作只有一条校验路径
func SessionToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			abortSessionInvalid(c, "缺少会话令牌")
			return
		}
		c.Set(CtxSessionID, token)
		c.Next()
	}
}

// JWTAuth 会话认证中间件（管理与查询接口）
// rdb 为 nil 时跳过吊销检查；吊销状态查询失败时拒绝
func JWTAuth(jwtMgr *jwt.Manager, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			abortSessionInvalid(c, "认证头缺失或格式无效")
			return
		}

		claims, err := jwtMgr.ParseToken(token)
		if err != nil {
			abortSessionInvalid(c, "会话无效或已过期")
			return
		}

		if rdb != nil {
			revoked, err := rdb.IsBlacklisted(c.Request.Context(), claims.ID)
			if err != nil {
				abortSessionInvalid(c, "无法确认会话状态")
				return
			}
			if revoked {
				abortSessionInvalid(c, "会话已注销")
				return
			}
		}

		c.Set(CtxSessionID, token)
		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxRole, claims.Role)
		c.Set(CtxEmail, claims.Email)

		c.Next()
	}
}

// RoleAuth 角色权限中间件
// 检查当前用户是否具有指定角色之一
func RoleAuth(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole := c.GetString(CtxRole)
		if userRole == "" {
			abortSessionInvalid(c, "未认证")
			return
		}

		for _, r := range allowedRoles {
			if userRole == r {
				c.Next()
				return
			}
		}

		response.FromError(c, apperrors.New(apperrors.CodePermissionDenied, "无权限访问"))
		c.Abort()
	}
}
