package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"stagekeeper/internal/model"
	"stagekeeper/internal/repository"
	apperrors "stagekeeper/pkg/errors"
	"stagekeeper/pkg/jwt"
)

// SessionService 会话解析与吊销
// 会话 ID 即上游签发的会话令牌原文
type SessionService interface {
	SessionResolver
	RevokeSession(ctx context.Context, sessionID string) error
}

type sessionService struct {
	repo      *repository.Repository
	jwtMgr    *jwt.Manager
	blacklist TokenBlacklist
	logger    *zap.Logger
}

// NewSessionService 创建 SessionService 实例；blacklist 可为 nil
func NewSessionService(repo *repository.Repository, jwtMgr *jwt.Manager, blacklist TokenBlacklist, logger *zap.Logger) SessionService {
	return &sessionService{repo: repo, jwtMgr: jwtMgr, blacklist: blacklist, logger: logger}
}

func errSessionInvalid(reason string) error {
	return apperrors.New(apperrors.CodeSessionInvalid, "会话无效: %s", reason)
}

// ResolveSession 任何一步失败都返回 SESSION_INVALID
func (s *sessionService) ResolveSession(ctx context.Context, sessionID string) (*model.User, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errSessionInvalid("缺少会话")
	}

	claims, err := s.jwtMgr.ParseToken(sessionID)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errSessionInvalid("会话已过期")
		}
		return nil, errSessionInvalid("令牌校验失败")
	}

	if s.blacklist != nil {
		revoked, err := s.blacklist.IsBlacklisted(ctx, claims.ID)
		if err != nil {
			s.logger.Warn("查询会话吊销状态失败", zap.String("jti", claims.ID), zap.Error(err))
			return nil, errSessionInvalid("无法确认会话状态")
		}
		if revoked {
			return nil, errSessionInvalid("会话已注销")
		}
	}

	user, err := s.repo.User.GetByID(ctx, claims.UserID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Error("查询会话用户失败", zap.String("user_id", claims.UserID), zap.Error(err))
		}
		return nil, errSessionInvalid("用户不存在")
	}
	if !user.IsActive {
		return nil, errSessionInvalid("用户已停用")
	}

	return user, nil
}

// RevokeSession 将会话加入吊销名单，TTL 为令牌剩余有效期
func (s *sessionService) RevokeSession(ctx context.Context, sessionID string) error {
	claims, err := s.jwtMgr.ParseToken(strings.TrimSpace(sessionID))
	if err != nil {
		return errSessionInvalid("令牌校验失败")
	}
	if s.blacklist == nil {
		s.logger.Warn("未配置会话吊销名单，忽略注销请求", zap.String("user_id", claims.UserID))
		return nil
	}

	ttl := 24 * time.Hour
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	if err := s.blacklist.BlacklistToken(ctx, claims.ID, ttl); err != nil {
		s.logger.Error("吊销会话失败", zap.String("jti", claims.ID), zap.Error(err))
		return apperrors.System(err, "吊销会话")
	}
	return nil
}
