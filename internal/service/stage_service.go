package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"stagekeeper/internal/dto"
	"stagekeeper/internal/model"
	"stagekeeper/internal/repository"
	"stagekeeper/internal/stageclock"
	apperrors "stagekeeper/pkg/errors"
)

// StageService 阶段查询与管理
//
// 读取路径默认先同步再展示；sync=false 时只做推导，展示状态与写路径使用同一推导函数。
type StageService interface {
	ListProjectStages(ctx context.Context, projectID string, sync bool) ([]dto.StageResponse, error)
	GetStage(ctx context.Context, projectID, stageID string, sync bool) (*dto.StageResponse, error)
	SyncStage(ctx context.Context, projectID, stageID string) (*dto.TransitionResponse, error)
	OverrideStatus(ctx context.Context, projectID, stageID string, req *dto.OverrideStatusRequest, actorID string) (*dto.StageResponse, error)
}

type stageService struct {
	repo   *repository.Repository
	syncer DriftSyncer
	audit  AuditSink
	clock  Clock
	logger *zap.Logger
}

// NewStageService 创建 StageService 实例
func NewStageService(repo *repository.Repository, syncer DriftSyncer, audit AuditSink, clock Clock, logger *zap.Logger) StageService {
	return &stageService{repo: repo, syncer: syncer, audit: audit, clock: clock, logger: logger}
}

// ────────────────────── List / Get ──────────────────────

func (s *stageService) ListProjectStages(ctx context.Context, projectID string, sync bool) ([]dto.StageResponse, error) {
	stages, err := s.repo.Stage.ListByProject(ctx, projectID)
	if err != nil {
		s.logger.Error("查询项目阶段失败", zap.String("project_id", projectID), zap.Error(err))
		return nil, apperrors.System(err, "查询项目阶段")
	}

	if sync {
		// 同步失败不影响读取，推导结果仍然正确
		s.syncer.ReconcileAll(ctx, stages)
	}

	now := s.clock.now()
	result := make([]dto.StageResponse, 0, len(stages))
	for i := range stages {
		result = append(result, toStageResponse(&stages[i], now))
	}
	return result, nil
}

func (s *stageService) GetStage(ctx context.Context, projectID, stageID string, sync bool) (*dto.StageResponse, error) {
	stage, err := s.getStage(ctx, projectID, stageID)
	if err != nil {
		return nil, err
	}

	if sync {
		if _, err := s.syncer.Reconcile(ctx, stage); err != nil {
			s.logger.Warn("读取时同步阶段失败", zap.String("stage_id", stageID), zap.Error(err))
		}
	}

	resp := toStageResponse(stage, s.clock.now())
	return &resp, nil
}

// ────────────────────── Sync ──────────────────────

func (s *stageService) SyncStage(ctx context.Context, projectID, stageID string) (*dto.TransitionResponse, error) {
	stage, err := s.getStage(ctx, projectID, stageID)
	if err != nil {
		return nil, err
	}

	trans, err := s.syncer.Reconcile(ctx, stage)
	if err != nil {
		return nil, err
	}
	return toTransitionResponse(trans), nil
}

// ────────────────────── Override ──────────────────────

// OverrideStatus 人工覆盖：voting（提前投票）/ completed / archived
// archived 阶段不可再修改；settling 阶段需先释放结算锁；有奖池的阶段只能经结算完成
func (s *stageService) OverrideStatus(ctx context.Context, projectID, stageID string, req *dto.OverrideStatusRequest, actorID string) (*dto.StageResponse, error) {
	target := model.StageStatus(req.Status)
	switch target {
	case model.StageStatusVoting, model.StageStatusCompleted, model.StageStatusArchived:
	default:
		return nil, apperrors.New(apperrors.CodeInvalidStageStatus, "不支持人工设置为 %s", req.Status)
	}

	stage, err := s.getStage(ctx, projectID, stageID)
	if err != nil {
		return nil, err
	}
	stored := stage.Status

	switch {
	case stored == model.StageStatusArchived:
		return nil, apperrors.New(apperrors.CodeStageArchived, "阶段已归档，不可修改")
	case stored == model.StageStatusSettling:
		return nil, apperrors.New(apperrors.CodeStageSettling, "阶段正在结算，不可修改")
	case stored == target:
		resp := toStageResponse(stage, s.clock.now())
		return &resp, nil
	case target != model.StageStatusArchived && target.Rank() < stored.Rank():
		return nil, apperrors.New(apperrors.CodeInvalidStageStatus, "阶段状态不可从 %s 回退到 %s", stored, target)
	case target == model.StageStatusCompleted && stage.RewardPool > 0:
		return nil, apperrors.New(apperrors.CodeInvalidStageStatus, "有奖池的阶段需通过结算完成")
	}

	now := s.clock.now()
	upd := repository.StatusUpdate{Status: target, At: now, SyncedAt: &now, UpdatedBy: &actorID}
	n, err := s.repo.Stage.UpdateStatus(ctx, projectID, stageID, stored, upd)
	if err != nil {
		s.logger.Error("覆盖阶段状态失败", zap.String("stage_id", stageID), zap.Error(err))
		return nil, apperrors.System(err, "覆盖阶段状态")
	}
	if n == 0 {
		return nil, apperrors.New(apperrors.CodeStageStatusChanged, "阶段状态已被并发修改，请刷新后重试")
	}
	upd.Apply(stage)

	s.logger.Info("阶段状态已人工覆盖",
		zap.String("stage_id", stageID),
		zap.String("from", string(stored)),
		zap.String("to", string(target)),
		zap.String("actor", actorID),
	)
	appendAudit(ctx, s.audit, &model.StageAuditLog{
		ProjectID:       projectID,
		StageID:         stageID,
		Event:           model.AuditStatusOverride,
		Operation:       "override_status",
		StoredStatus:    string(stored),
		EffectiveStatus: string(target),
		Detail:          req.Reason,
		ActorID:         &actorID,
	})
	s.syncer.AfterTransition(ctx, stage, stored, target)

	resp := toStageResponse(stage, now)
	return &resp, nil
}

func (s *stageService) getStage(ctx context.Context, projectID, stageID string) (*model.Stage, error) {
	stage, err := s.repo.Stage.GetByID(ctx, projectID, stageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeStageNotFound, "阶段 %s 不存在", stageID)
		}
		s.logger.Error("查询阶段失败", zap.String("stage_id", stageID), zap.Error(err))
		return nil, apperrors.System(err, "查询阶段")
	}
	return stage, nil
}

// ────────────────────── 转换 ──────────────────────

func toStageResponse(s *model.Stage, now time.Time) dto.StageResponse {
	derived := stageclock.Derive(s, now)
	resp := dto.StageResponse{
		ID:                s.StageID,
		ProjectID:         s.ProjectID,
		Name:              s.Name,
		Status:            string(derived.Status),
		Warning:           string(derived.Warning),
		StartDate:         formatTime(s.StartDate),
		EndDate:           formatTime(s.EndDate),
		ConsensusDeadline: formatTime(s.ConsensusDeadline),
		RewardPool:        s.RewardPool,
		LastStatusSync:    formatTime(s.LastStatusSync),
	}
	if derived.Status != s.Status {
		resp.StoredStatus = string(s.Status)
	}
	return resp
}

func toTransitionResponse(t *Transition) *dto.TransitionResponse {
	resp := &dto.TransitionResponse{
		StageID:   t.StageID,
		Updated:   t.Updated,
		OldStatus: string(t.OldStatus),
		NewStatus: string(t.NewStatus),
	}
	if t.Settlement != nil {
		resp.SettlementID = t.Settlement.SettlementID
		resp.Settlement = &dto.SettlementResponse{
			SettlementID:     t.Settlement.SettlementID,
			StageID:          t.Settlement.StageID,
			Status:           string(model.SettlementStatusActive),
			TotalDistributed: t.Settlement.TotalDistributed,
			ParticipantCount: t.Settlement.ParticipantCount,
		}
	}
	return resp
}
