package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"stagekeeper/internal/dto"
	"stagekeeper/internal/model"
	"stagekeeper/internal/repository"
	apperrors "stagekeeper/pkg/errors"
)

// SettlementResult 结算成功结果
type SettlementResult struct {
	SettlementID     string
	StageID          string
	TotalDistributed float64
	ParticipantCount int
}

// SettlementService 奖池结算
//
// 每个阶段至多结算成功一次：voting → settling 的条件更新是唯一的加锁点，
// 计算失败回滚到 voting 且不产生任何流水，可重试。
type SettlementService interface {
	SettlementTrigger
	// RecoverStale 回收持有超过 maxAge 的结算锁
	RecoverStale(ctx context.Context, maxAge time.Duration) (int, error)
	// ForceUnlock 管理员强制释放结算锁
	ForceUnlock(ctx context.Context, projectID, stageID, actorID string) error
	GetSettlement(ctx context.Context, settlementID string) (*dto.SettlementDetailResponse, error)
}

type settlementService struct {
	repo      *repository.Repository
	scorer    Scorer
	audit     AuditSink
	tolerance float64
	clock     Clock
	logger    *zap.Logger
}

// NewSettlementService 创建 SettlementService 实例
func NewSettlementService(repo *repository.Repository, scorer Scorer, audit AuditSink, tolerance float64, clock Clock, logger *zap.Logger) SettlementService {
	return &settlementService{
		repo:      repo,
		scorer:    scorer,
		audit:     audit,
		tolerance: tolerance,
		clock:     clock,
		logger:    logger,
	}
}

// ════════════════════════════════════════════════════════════
// SettleStage
// ════════════════════════════════════════════════════════════
//
// 1. 读取阶段，校验奖池 > 0
// 2. 条件更新 voting → settling（加锁）；失败则区分进行中 / 状态已变
// 3. 创建 pending 结算记录
// 4. 计分并校验守恒
// 5. 3-4 任一步失败：释放锁回到 voting，记录置 failed
// 6. 事务内：settling → completed、写流水、记录置 active

func (s *settlementService) SettleStage(ctx context.Context, projectID, stageID string) (*SettlementResult, error) {
	stage, err := s.repo.Stage.GetByID(ctx, projectID, stageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeStageNotFound, "阶段 %s 不存在", stageID)
		}
		s.logger.Error("查询阶段失败", zap.String("stage_id", stageID), zap.Error(err))
		return nil, apperrors.System(err, "查询阶段")
	}

	if !(stage.RewardPool > 0) || math.IsInf(stage.RewardPool, 0) {
		return nil, apperrors.New(apperrors.CodeInvalidRewardPool, "阶段奖池必须大于 0，当前为 %v", stage.RewardPool)
	}

	// ── 加锁 ──
	lockedAt := s.clock.now()
	n, err := s.repo.Stage.UpdateStatus(ctx, projectID, stageID, model.StageStatusVoting,
		repository.StatusUpdate{Status: model.StageStatusSettling, At: lockedAt, SettlementStartedAt: &lockedAt})
	if err != nil {
		s.logger.Error("获取结算锁失败", zap.String("stage_id", stageID), zap.Error(err))
		return nil, apperrors.System(err, "获取结算锁")
	}
	if n == 0 {
		return nil, s.lockConflict(ctx, projectID, stageID)
	}
	stage.Status = model.StageStatusSettling
	stage.SettlementStartedAt = &lockedAt

	s.logger.Info("开始结算",
		zap.String("project_id", projectID),
		zap.String("stage_id", stageID),
		zap.Float64("reward_pool", stage.RewardPool),
	)

	// ── 结算记录 ──
	record := &model.SettlementRecord{
		ProjectID:   projectID,
		StageID:     stageID,
		Status:      model.SettlementStatusPending,
		RewardPool:  stage.RewardPool,
		CreatedTime: lockedAt,
	}
	if err := s.repo.Settlement.CreateRecord(ctx, record); err != nil {
		s.logger.Error("创建结算记录失败", zap.String("stage_id", stageID), zap.Error(err))
		appErr := apperrors.System(err, "创建结算记录")
		s.rollback(ctx, stage, nil, appErr)
		return nil, appErr
	}

	// ── 计分 ──
	txs, total, appErr := s.compute(ctx, stage, record.SettlementID)
	if appErr != nil {
		s.rollback(ctx, stage, record, appErr)
		return nil, appErr
	}

	// ── 提交 ──
	if appErr := s.commit(ctx, stage, record, txs, total); appErr != nil {
		return nil, appErr
	}

	s.logger.Info("结算完成",
		zap.String("stage_id", stageID),
		zap.String("settlement_id", record.SettlementID),
		zap.Float64("total", total),
		zap.Int("participants", len(txs)),
	)
	appendAudit(ctx, s.audit, &model.StageAuditLog{
		ProjectID:       projectID,
		StageID:         stageID,
		Event:           model.AuditSettlementDone,
		Operation:       "settle_stage",
		StoredStatus:    string(model.StageStatusSettling),
		EffectiveStatus: string(model.StageStatusCompleted),
		Detail:          fmt.Sprintf("settlement=%s total=%.4f participants=%d", record.SettlementID, total, len(txs)),
	})

	return &SettlementResult{
		SettlementID:     record.SettlementID,
		StageID:          stageID,
		TotalDistributed: total,
		ParticipantCount: len(txs),
	}, nil
}

// lockConflict 加锁失败后重读，区分结算进行中与状态已变化
func (s *settlementService) lockConflict(ctx context.Context, projectID, stageID string) error {
	current, err := s.repo.Stage.GetByID(ctx, projectID, stageID)
	if err != nil {
		s.logger.Warn("加锁失败后重读阶段失败", zap.String("stage_id", stageID), zap.Error(err))
		return apperrors.New(apperrors.CodeStageStatusChanged, "阶段状态已变化")
	}
	if current.Status == model.StageStatusSettling {
		return apperrors.New(apperrors.CodeSettlementInProgress, "阶段 %s 正在结算", stageID)
	}
	if current.Status == model.StageStatusCompleted {
		if rec, err := s.repo.Settlement.GetActiveByStage(ctx, stageID); err == nil {
			return apperrors.New(apperrors.CodeStageStatusChanged, "阶段 %s 已结算（settlement=%s），不可重复结算", stageID, rec.SettlementID)
		}
	}
	return apperrors.New(apperrors.CodeStageStatusChanged, "阶段状态已变为 %s，无法结算", current.Status)
}

// compute 计分并校验分配；返回待写入流水与总额
func (s *settlementService) compute(ctx context.Context, stage *model.Stage, settlementID string) ([]model.Transaction, float64, *apperrors.AppError) {
	votes, err := s.repo.Vote.ListRankingVotes(ctx, stage.StageID)
	if err != nil {
		s.logger.Error("查询排名投票失败", zap.String("stage_id", stage.StageID), zap.Error(err))
		return nil, 0, apperrors.System(err, "查询排名投票")
	}
	rankings, err := s.repo.Vote.ListCommentRankings(ctx, stage.StageID)
	if err != nil {
		s.logger.Error("查询评论排名失败", zap.String("stage_id", stage.StageID), zap.Error(err))
		return nil, 0, apperrors.System(err, "查询评论排名")
	}

	dist, err := s.scorer.ComputeDistribution(votes, rankings, stage.RewardPool)
	if err != nil {
		return nil, 0, apperrors.Wrap(apperrors.CodeScoringFailed, err, "计分失败")
	}

	participants := make([]string, 0, len(dist))
	for p := range dist {
		participants = append(participants, p)
	}
	sort.Strings(participants)

	var total float64
	txs := make([]model.Transaction, 0, len(dist))
	for _, p := range participants {
		amount := dist[p]
		if p == "" || math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
			return nil, 0, apperrors.New(apperrors.CodeScoringFailed, "分配结果包含非法条目: %q=%v", p, amount)
		}
		total += amount
		if amount == 0 {
			continue
		}
		txs = append(txs, model.Transaction{
			SettlementID: settlementID,
			ProjectID:    stage.ProjectID,
			StageID:      stage.StageID,
			Participant:  p,
			Amount:       amount,
		})
	}

	if total > stage.RewardPool+s.tolerance {
		return nil, 0, apperrors.New(apperrors.CodeDistributionExceeds,
			"分配总额 %.4f 超过奖池 %.4f（容差 %.4f）", total, stage.RewardPool, s.tolerance)
	}
	return txs, total, nil
}

// commit 事务内完成结算；先做条件状态更新，锁丢失时不写入任何流水
func (s *settlementService) commit(ctx context.Context, stage *model.Stage, record *model.SettlementRecord, txs []model.Transaction, total float64) *apperrors.AppError {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		s.logger.Error("开启事务失败", zap.Error(err))
		appErr := apperrors.System(err, "开启结算事务")
		s.rollback(ctx, stage, record, appErr)
		return appErr
	}
	defer func() {
		if r := recover(); r != nil {
			if tx != nil {
				tx.Rollback()
			}
			panic(r)
		}
	}()

	txRepo := s.repo.WithTx(tx)
	now := s.clock.now()

	n, err := txRepo.Stage.UpdateStatus(ctx, stage.ProjectID, stage.StageID, model.StageStatusSettling,
		repository.StatusUpdate{Status: model.StageStatusCompleted, At: now, SyncedAt: &now, ClearSettlement: true})
	if err != nil {
		if tx != nil {
			tx.Rollback()
		}
		s.logger.Error("完成阶段失败", zap.String("stage_id", stage.StageID), zap.Error(err))
		appErr := apperrors.System(err, "完成阶段")
		s.rollback(ctx, stage, record, appErr)
		return appErr
	}
	if n == 0 {
		if tx != nil {
			tx.Rollback()
		}
		return s.lockLost(ctx, stage, record)
	}

	for i := range txs {
		txs[i].CreatedAt = now
	}
	if err := txRepo.Settlement.CreateTransactions(ctx, txs); err != nil {
		if tx != nil {
			tx.Rollback()
		}
		s.logger.Error("写入积分流水失败", zap.String("stage_id", stage.StageID), zap.Error(err))
		appErr := apperrors.System(err, "写入积分流水")
		s.rollback(ctx, stage, record, appErr)
		return appErr
	}

	record.Status = model.SettlementStatusActive
	record.TotalDistributed = total
	record.ParticipantCount = len(txs)
	record.CompletedTime = &now
	if err := txRepo.Settlement.UpdateRecord(ctx, record); err != nil {
		if tx != nil {
			tx.Rollback()
		}
		s.logger.Error("更新结算记录失败", zap.String("settlement_id", record.SettlementID), zap.Error(err))
		appErr := apperrors.System(err, "更新结算记录")
		s.rollback(ctx, stage, record, appErr)
		return appErr
	}

	if tx != nil {
		if err := tx.Commit().Error; err != nil {
			s.logger.Error("提交结算事务失败", zap.String("stage_id", stage.StageID), zap.Error(err))
			appErr := apperrors.System(err, "提交结算事务")
			s.rollback(ctx, stage, record, appErr)
			return appErr
		}
	}

	stage.Status = model.StageStatusCompleted
	stage.SettlementStartedAt = nil
	return nil
}

// lockLost 持锁期间状态被外部改写：一致性问题，需人工介入，不自动重试
func (s *settlementService) lockLost(ctx context.Context, stage *model.Stage, record *model.SettlementRecord) *apperrors.AppError {
	appErr := apperrors.New(apperrors.CodeSettlementLockLost,
		"结算期间阶段 %s 的 settling 锁被外部修改", stage.StageID).AsCritical()

	s.logger.Error("结算锁丢失",
		zap.Bool("critical", true),
		zap.String("project_id", stage.ProjectID),
		zap.String("stage_id", stage.StageID),
		zap.String("settlement_id", record.SettlementID),
	)

	s.failRecord(ctx, record, appErr)
	appendAudit(ctx, s.audit, &model.StageAuditLog{
		ProjectID: stage.ProjectID,
		StageID:   stage.StageID,
		Event:     model.AuditSettlementLost,
		Operation: "settle_stage",
		Detail:    fmt.Sprintf("settlement=%s", record.SettlementID),
	})
	return appErr
}

// rollback 释放结算锁并标记记录失败；调用方的 ctx 可能已取消，回滚写入不受其影响
func (s *settlementService) rollback(ctx context.Context, stage *model.Stage, record *model.SettlementRecord, cause *apperrors.AppError) {
	ctx = context.WithoutCancel(ctx)

	n, err := s.repo.Stage.UpdateStatus(ctx, stage.ProjectID, stage.StageID, model.StageStatusSettling,
		repository.StatusUpdate{Status: model.StageStatusVoting, At: s.clock.now(), ClearSettlement: true})
	switch {
	case err != nil:
		s.logger.Error("释放结算锁失败，需人工处理",
			zap.Bool("critical", true),
			zap.String("stage_id", stage.StageID),
			zap.Error(err),
		)
	case n == 0:
		s.logger.Warn("释放结算锁时阶段已不处于 settling", zap.String("stage_id", stage.StageID))
	default:
		stage.Status = model.StageStatusVoting
		stage.SettlementStartedAt = nil
	}

	if record != nil {
		s.failRecord(ctx, record, cause)
	}

	s.logger.Warn("结算已回滚",
		zap.String("stage_id", stage.StageID),
		zap.String("code", string(cause.Code)),
		zap.String("reason", cause.Message),
	)
	appendAudit(ctx, s.audit, &model.StageAuditLog{
		ProjectID:       stage.ProjectID,
		StageID:         stage.StageID,
		Event:           model.AuditSettlementFailed,
		Operation:       "settle_stage",
		StoredStatus:    string(model.StageStatusSettling),
		EffectiveStatus: string(model.StageStatusVoting),
		Detail:          string(cause.Code) + ": " + cause.Message,
	})
}

func (s *settlementService) failRecord(ctx context.Context, record *model.SettlementRecord, cause *apperrors.AppError) {
	now := s.clock.now()
	record.Status = model.SettlementStatusFailed
	record.FailureCode = string(cause.Code)
	record.FailureReason = truncate(cause.Message, 500)
	record.TotalDistributed = 0
	record.ParticipantCount = 0
	record.CompletedTime = &now
	if err := s.repo.Settlement.UpdateRecord(context.WithoutCancel(ctx), record); err != nil {
		s.logger.Error("标记结算记录失败状态失败",
			zap.String("settlement_id", record.SettlementID),
			zap.Error(err),
		)
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// ════════════════════════════════════════════════════════════
// 结算锁回收
// ════════════════════════════════════════════════════════════

func (s *settlementService) RecoverStale(ctx context.Context, maxAge time.Duration) (int, error) {
	before := s.clock.now().Add(-maxAge)
	stages, err := s.repo.Stage.ListStaleSettling(ctx, before)
	if err != nil {
		s.logger.Error("查询超时结算锁失败", zap.Error(err))
		return 0, apperrors.System(err, "查询超时结算锁")
	}

	recovered := 0
	for i := range stages {
		if err := s.unlock(ctx, &stages[i], nil, apperrors.CodeSettlementTimeout, "结算锁持有超时，已自动回收"); err != nil {
			s.logger.Warn("回收结算锁失败", zap.String("stage_id", stages[i].StageID), zap.Error(err))
			continue
		}
		recovered++
	}
	if recovered > 0 {
		s.logger.Warn("已回收超时结算锁", zap.Int("count", recovered), zap.Duration("max_age", maxAge))
	}
	return recovered, nil
}

func (s *settlementService) ForceUnlock(ctx context.Context, projectID, stageID, actorID string) error {
	stage, err := s.repo.Stage.GetByID(ctx, projectID, stageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.New(apperrors.CodeStageNotFound, "阶段 %s 不存在", stageID)
		}
		s.logger.Error("查询阶段失败", zap.String("stage_id", stageID), zap.Error(err))
		return apperrors.System(err, "查询阶段")
	}
	if stage.Status != model.StageStatusSettling {
		return apperrors.New(apperrors.CodeInvalidStageStatus, "阶段当前为 %s，未持有结算锁", stage.Status)
	}
	return s.unlock(ctx, stage, &actorID, apperrors.CodeSettlementTimeout, "管理员强制释放结算锁")
}

// unlock settling → voting，并将未完成的结算记录置为失败
func (s *settlementService) unlock(ctx context.Context, stage *model.Stage, actorID *string, code apperrors.Code, reason string) error {
	now := s.clock.now()
	n, err := s.repo.Stage.UpdateStatus(ctx, stage.ProjectID, stage.StageID, model.StageStatusSettling,
		repository.StatusUpdate{Status: model.StageStatusVoting, At: now, ClearSettlement: true, UpdatedBy: actorID})
	if err != nil {
		return apperrors.System(err, "释放结算锁")
	}
	if n == 0 {
		return apperrors.New(apperrors.CodeStageStatusChanged, "阶段已不处于 settling")
	}

	if _, err := s.repo.Settlement.FailPendingByStage(ctx, stage.StageID, string(code), reason, now); err != nil {
		s.logger.Error("标记未完成结算记录失败", zap.String("stage_id", stage.StageID), zap.Error(err))
	}

	appendAudit(ctx, s.audit, &model.StageAuditLog{
		ProjectID:       stage.ProjectID,
		StageID:         stage.StageID,
		Event:           model.AuditSettlementUnlock,
		Operation:       "unlock",
		StoredStatus:    string(model.StageStatusSettling),
		EffectiveStatus: string(model.StageStatusVoting),
		Detail:          reason,
		ActorID:         actorID,
	})
	return nil
}

// ════════════════════════════════════════════════════════════
// 查询
// ════════════════════════════════════════════════════════════

func (s *settlementService) GetSettlement(ctx context.Context, settlementID string) (*dto.SettlementDetailResponse, error) {
	record, err := s.repo.Settlement.GetRecord(ctx, settlementID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeSettlementNotFound, "结算记录 %s 不存在", settlementID)
		}
		s.logger.Error("查询结算记录失败", zap.String("settlement_id", settlementID), zap.Error(err))
		return nil, apperrors.System(err, "查询结算记录")
	}

	txs, err := s.repo.Settlement.ListTransactions(ctx, settlementID)
	if err != nil {
		s.logger.Error("查询积分流水失败", zap.String("settlement_id", settlementID), zap.Error(err))
		return nil, apperrors.System(err, "查询积分流水")
	}

	resp := &dto.SettlementDetailResponse{
		SettlementResponse: toSettlementResponse(record),
		Transactions:       make([]dto.TransactionResponse, 0, len(txs)),
	}
	for _, t := range txs {
		resp.Transactions = append(resp.Transactions, dto.TransactionResponse{Participant: t.Participant, Amount: t.Amount})
	}
	return resp, nil
}

func toSettlementResponse(r *model.SettlementRecord) dto.SettlementResponse {
	resp := dto.SettlementResponse{
		SettlementID:     r.SettlementID,
		StageID:          r.StageID,
		Status:           string(r.Status),
		RewardPool:       r.RewardPool,
		TotalDistributed: r.TotalDistributed,
		ParticipantCount: r.ParticipantCount,
		FailureCode:      r.FailureCode,
		CreatedTime:      formatTime(&r.CreatedTime),
		CompletedTime:    formatTime(r.CompletedTime),
	}
	return resp
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
