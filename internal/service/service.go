package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"stagekeeper/config"
	"stagekeeper/internal/model"
	"stagekeeper/internal/repository"
	"stagekeeper/pkg/jwt"
	"stagekeeper/pkg/redis"
)

// Clock 当前时间来源；nil 时使用 time.Now
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

// ── 外部协作方 ──

// SessionResolver 会话 → 用户
type SessionResolver interface {
	ResolveSession(ctx context.Context, sessionID string) (*model.User, error)
}

// Notifier 阶段通知分发
type Notifier interface {
	NotifyStageTransition(ctx context.Context, projectID, stageID string, from, to model.StageStatus) error
	NotifyMissedDeadline(ctx context.Context, projectID, stageID, groupID string) error
}

// Scorer 由投票计算奖池分配，返回 参与者 → 金额
// 只需满足守恒约定：金额非负且总和不超过奖池
type Scorer interface {
	ComputeDistribution(votes []model.RankingVote, rankings []model.CommentRanking, rewardPool float64) (map[string]float64, error)
}

// AuditSink 审计日志（仅追加）
type AuditSink interface {
	Append(ctx context.Context, entry *model.StageAuditLog) error
}

// EventPublisher 事件广播（Redis Pub/Sub）
type EventPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// TokenBlacklist 会话吊销名单
type TokenBlacklist interface {
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
	BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error
}

// SettlementTrigger 结算入口，DriftSyncer 在共识截止后调用
type SettlementTrigger interface {
	SettleStage(ctx context.Context, projectID, stageID string) (*SettlementResult, error)
}

// Service 所有 Service 的聚合入口
type Service struct {
	Session    SessionService
	Validator  StatusValidator
	Syncer     DriftSyncer
	Settlement SettlementService
	Stage      StageService
	StageOps   StageOpsService
	Export     ExportService
}

// NewService 创建 Service 聚合
// rdb 为 nil 时跳过会话吊销检查与事件广播
func NewService(
	cfg *config.Config,
	repo *repository.Repository,
	jwtMgr *jwt.Manager,
	rdb *redis.Client,
	logger *zap.Logger,
) *Service {
	var (
		publisher EventPublisher
		blacklist TokenBlacklist
	)
	if rdb != nil {
		publisher = rdb
		blacklist = rdb
	}

	audit := NewAuditSink(repo, logger)
	notifier := NewNotifier(repo, publisher, cfg.Stage.NotifyChannel, logger)
	session := NewSessionService(repo, jwtMgr, blacklist, logger)
	validator := NewStatusValidator(repo, session, audit, nil, logger)
	settlement := NewSettlementService(repo, NewRankScorer(), audit, cfg.Stage.SettlementTolerance, nil, logger)
	syncer := NewDriftSyncer(repo, notifier, settlement, audit, nil, logger)

	return &Service{
		Session:    session,
		Validator:  validator,
		Syncer:     syncer,
		Settlement: settlement,
		Stage:      NewStageService(repo, syncer, audit, nil, logger),
		StageOps:   NewStageOpsService(repo, validator, logger),
		Export:     NewExportService(repo, logger),
	}
}
