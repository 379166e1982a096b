package handler

import (
	"github.com/gin-gonic/gin"

	"stagekeeper/internal/dto"
	"stagekeeper/internal/service"
	"stagekeeper/pkg/response"
)

// SessionHandler 会话 HTTP 处理器
type SessionHandler struct {
	sessionSvc service.SessionService
}

// NewSessionHandler 创建 SessionHandler
func NewSessionHandler(sessionSvc service.SessionService) *SessionHandler {
	return &SessionHandler{sessionSvc: sessionSvc}
}

// Me 解析当前会话对应的用户
// GET /api/v1/session/me
func (h *SessionHandler) Me(c *gin.Context) {
	sessionID, ok := MustGetSessionID(c)
	if !ok {
		return
	}

	user, err := h.sessionSvc.ResolveSession(c.Request.Context(), sessionID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.OK(c, dto.UserBrief{
		ID:    user.UserID,
		Name:  user.Name,
		Email: user.Email,
		Role:  user.Role,
	})
}

// Revoke 注销当前会话
// POST /api/v1/session/revoke
func (h *SessionHandler) Revoke(c *gin.Context) {
	sessionID, ok := MustGetSessionID(c)
	if !ok {
		return
	}

	if err := h.sessionSvc.RevokeSession(c.Request.Context(), sessionID); err != nil {
		response.FromError(c, err)
		return
	}

	response.OK(c, nil)
}
