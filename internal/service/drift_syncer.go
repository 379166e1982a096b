package service

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"stagekeeper/internal/model"
	"stagekeeper/internal/repository"
	"stagekeeper/internal/stageclock"
	apperrors "stagekeeper/pkg/errors"
)

// Transition 单个阶段的同步结果
// Updated=false 表示本次调用未提交任何写入（已同步或被并发写抢先）
type Transition struct {
	StageID    string
	Updated    bool
	OldStatus  model.StageStatus
	NewStatus  model.StageStatus
	Settlement *SettlementResult
	Err        error
}

// DriftSyncer 将存储状态向推导状态收敛
//
// 每次写入都是条件更新（期望旧状态），只有本次调用提交的写入才触发副作用；
// 带奖池阶段的 voting → completed 只经由结算完成。
type DriftSyncer interface {
	Reconcile(ctx context.Context, stage *model.Stage) (*Transition, error)
	ReconcileAll(ctx context.Context, stages []model.Stage) []Transition
	ReconcileProject(ctx context.Context, projectID string) ([]Transition, error)
	// AfterTransition 执行跨越状态边界的副作用（人工覆盖后也需调用）
	AfterTransition(ctx context.Context, stage *model.Stage, from, to model.StageStatus)
}

type driftSyncer struct {
	repo     *repository.Repository
	notifier Notifier
	settler  SettlementTrigger
	audit    AuditSink
	clock    Clock
	logger   *zap.Logger
}

// NewDriftSyncer 创建 DriftSyncer 实例；settler 为 nil 时不自动结算
func NewDriftSyncer(repo *repository.Repository, notifier Notifier, settler SettlementTrigger, audit AuditSink, clock Clock, logger *zap.Logger) DriftSyncer {
	return &driftSyncer{repo: repo, notifier: notifier, settler: settler, audit: audit, clock: clock, logger: logger}
}

// ────────────────────── Reconcile ──────────────────────

func (d *driftSyncer) Reconcile(ctx context.Context, stage *model.Stage) (*Transition, error) {
	if stage == nil {
		return nil, apperrors.New(apperrors.CodeStageNotFound, "阶段不存在")
	}

	now := d.clock.now()
	stored := stage.Status
	trans := &Transition{StageID: stage.StageID, OldStatus: stored, NewStatus: stored}

	if stageclock.SettlementDue(stage, now) {
		return d.closeVoting(ctx, stage, trans)
	}

	derived := stageclock.Derive(stage, now)
	if derived.Warning != stageclock.WarnNone {
		d.logger.Warn("阶段时间数据缺失，按 pending 处理",
			zap.String("stage_id", stage.StageID),
			zap.String("warning", string(derived.Warning)),
		)
	}
	if derived.Status == stored {
		return trans, nil
	}

	// 时间推导的 completed 先落为 voting，再由结算完成
	target := derived.Status
	if target == model.StageStatusCompleted {
		target = model.StageStatusVoting
	}
	if target.Rank() <= stored.Rank() {
		return trans, nil
	}

	upd := repository.StatusUpdate{Status: target, At: now, SyncedAt: &now}
	n, err := d.repo.Stage.UpdateStatus(ctx, stage.ProjectID, stage.StageID, stored, upd)
	if err != nil {
		d.logger.Error("同步阶段状态失败",
			zap.String("stage_id", stage.StageID),
			zap.String("from", string(stored)),
			zap.String("to", string(target)),
			zap.Error(err),
		)
		return nil, apperrors.System(err, "同步阶段状态")
	}
	if n == 0 {
		// 并发写入抢先，由对方负责副作用
		d.logger.Debug("阶段状态已被并发修改", zap.String("stage_id", stage.StageID))
		return trans, nil
	}

	upd.Apply(stage)
	trans.Updated = true
	trans.NewStatus = target
	d.logger.Info("阶段状态已同步",
		zap.String("stage_id", stage.StageID),
		zap.String("from", string(stored)),
		zap.String("to", string(target)),
	)
	appendAudit(ctx, d.audit, &model.StageAuditLog{
		ProjectID:       stage.ProjectID,
		StageID:         stage.StageID,
		Event:           model.AuditStatusSynced,
		Operation:       "reconcile",
		StoredStatus:    string(stored),
		EffectiveStatus: string(target),
	})
	d.AfterTransition(ctx, stage, stored, target)

	// 同一次调用内已越过共识截止时间，继续收尾
	if stageclock.SettlementDue(stage, now) {
		closed, err := d.closeVoting(ctx, stage, &Transition{StageID: stage.StageID, OldStatus: target, NewStatus: target})
		if err != nil {
			return trans, err
		}
		if closed.Updated {
			trans.NewStatus = closed.NewStatus
			trans.Settlement = closed.Settlement
		}
	}
	return trans, nil
}

// closeVoting 投票截止后的收尾：有奖池走结算，无奖池直接条件完成
func (d *driftSyncer) closeVoting(ctx context.Context, stage *model.Stage, trans *Transition) (*Transition, error) {
	if stage.RewardPool <= 0 {
		now := d.clock.now()
		upd := repository.StatusUpdate{Status: model.StageStatusCompleted, At: now, SyncedAt: &now}
		n, err := d.repo.Stage.UpdateStatus(ctx, stage.ProjectID, stage.StageID, model.StageStatusVoting, upd)
		if err != nil {
			d.logger.Error("完成阶段失败", zap.String("stage_id", stage.StageID), zap.Error(err))
			return nil, apperrors.System(err, "完成阶段")
		}
		if n == 0 {
			return trans, nil
		}
		upd.Apply(stage)
		trans.Updated = true
		trans.NewStatus = model.StageStatusCompleted
		d.AfterTransition(ctx, stage, model.StageStatusVoting, model.StageStatusCompleted)
		return trans, nil
	}

	if d.settler == nil || d.awaitingManualSettle(ctx, stage) {
		return trans, nil
	}

	result, err := d.settler.SettleStage(ctx, stage.ProjectID, stage.StageID)
	if err != nil {
		switch apperrors.CodeOf(err) {
		case apperrors.CodeSettlementInProgress, apperrors.CodeStageStatusChanged:
			// 其他调用方持有结算锁或已完成
			return trans, nil
		}
		d.logger.Warn("自动结算失败，阶段保持 voting 等待下次同步",
			zap.String("stage_id", stage.StageID),
			zap.String("code", string(apperrors.CodeOf(err))),
			zap.Error(err),
		)
		return trans, err
	}

	stage.Status = model.StageStatusCompleted
	stage.SettlementStartedAt = nil
	trans.Updated = true
	trans.NewStatus = model.StageStatusCompleted
	trans.Settlement = result
	d.AfterTransition(ctx, stage, model.StageStatusVoting, model.StageStatusCompleted)
	return trans, nil
}

// awaitingManualSettle 最近一次结算因计算或一致性错误失败时跳过自动结算，由管理员手动重试
func (d *driftSyncer) awaitingManualSettle(ctx context.Context, stage *model.Stage) bool {
	last, err := d.repo.Settlement.GetLatestByStage(ctx, stage.StageID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			d.logger.Warn("查询最近结算记录失败", zap.String("stage_id", stage.StageID), zap.Error(err))
		}
		return false
	}
	if last.Status != model.SettlementStatusFailed {
		return false
	}
	switch apperrors.Code(last.FailureCode) {
	case apperrors.CodeDistributionExceeds, apperrors.CodeScoringFailed, apperrors.CodeSettlementLockLost:
		d.logger.Debug("上次结算失败需人工处理，跳过自动结算",
			zap.String("stage_id", stage.StageID),
			zap.String("settlement_id", last.SettlementID),
			zap.String("code", last.FailureCode),
		)
		return true
	}
	return false
}

// ────────────────────── 副作用 ──────────────────────

// AfterTransition 对 from → to 跨越的每个边界各执行一次副作用
// 通知与自动归档失败只记录日志，不回滚已提交的状态
func (d *driftSyncer) AfterTransition(ctx context.Context, stage *model.Stage, from, to model.StageStatus) {
	ctx = context.WithoutCancel(ctx)
	crossed := func(boundary model.StageStatus) bool {
		return from.Rank() < boundary.Rank() && to.Rank() >= boundary.Rank() && to != model.StageStatusArchived
	}

	if crossed(model.StageStatusActive) {
		d.notify(ctx, stage, model.StageStatusPending, model.StageStatusActive)
	}
	if crossed(model.StageStatusVoting) {
		d.notify(ctx, stage, model.StageStatusActive, model.StageStatusVoting)
		d.classifySubmissions(ctx, stage)
	}
	if crossed(model.StageStatusCompleted) {
		d.notify(ctx, stage, model.StageStatusVoting, model.StageStatusCompleted)
	}
}

func (d *driftSyncer) notify(ctx context.Context, stage *model.Stage, from, to model.StageStatus) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.NotifyStageTransition(ctx, stage.ProjectID, stage.StageID, from, to); err != nil {
		d.logger.Warn("发送阶段通知失败",
			zap.String("stage_id", stage.StageID),
			zap.String("to", string(to)),
			zap.Error(err),
		)
	}
}

// classifySubmissions 进入投票时：已提交的小组自动批准，未提交的小组发送缺交通知
func (d *driftSyncer) classifySubmissions(ctx context.Context, stage *model.Stage) {
	groups, err := d.repo.Group.ListActiveByProject(ctx, stage.ProjectID)
	if err != nil {
		d.logger.Warn("查询项目小组失败", zap.String("project_id", stage.ProjectID), zap.Error(err))
		return
	}
	subs, err := d.repo.Submission.ListByStage(ctx, stage.StageID)
	if err != nil {
		d.logger.Warn("查询阶段提交失败", zap.String("stage_id", stage.StageID), zap.Error(err))
		return
	}

	byGroup := make(map[string][]model.Submission, len(groups))
	for _, sub := range subs {
		byGroup[sub.GroupID] = append(byGroup[sub.GroupID], sub)
	}

	var toApprove []string
	for _, g := range groups {
		groupSubs := byGroup[g.GroupID]
		if len(groupSubs) == 0 {
			if d.notifier == nil {
				continue
			}
			if err := d.notifier.NotifyMissedDeadline(ctx, stage.ProjectID, stage.StageID, g.GroupID); err != nil {
				d.logger.Warn("发送缺交通知失败", zap.String("group_id", g.GroupID), zap.Error(err))
			}
			continue
		}
		for _, sub := range groupSubs {
			if sub.Status != "approved" {
				toApprove = append(toApprove, sub.SubmissionID)
			}
		}
	}

	if len(toApprove) == 0 {
		return
	}
	n, err := d.repo.Submission.MarkAutoApproved(ctx, toApprove, d.clock.now())
	if err != nil {
		d.logger.Warn("自动批准提交失败", zap.String("stage_id", stage.StageID), zap.Error(err))
		return
	}
	d.logger.Info("已自动批准阶段提交", zap.String("stage_id", stage.StageID), zap.Int64("count", n))
}

// ────────────────────── 批量 ──────────────────────

// ReconcileAll 逐个同步，单个阶段失败不影响其余阶段
func (d *driftSyncer) ReconcileAll(ctx context.Context, stages []model.Stage) []Transition {
	result := make([]Transition, 0, len(stages))
	for i := range stages {
		trans, err := d.Reconcile(ctx, &stages[i])
		if err != nil {
			d.logger.Warn("阶段同步失败",
				zap.String("stage_id", stages[i].StageID),
				zap.String("code", string(apperrors.CodeOf(err))),
				zap.Error(err),
			)
			if trans == nil {
				trans = &Transition{StageID: stages[i].StageID, OldStatus: stages[i].Status, NewStatus: stages[i].Status}
			}
			trans.Err = err
		}
		result = append(result, *trans)
	}
	return result
}

func (d *driftSyncer) ReconcileProject(ctx context.Context, projectID string) ([]Transition, error) {
	stages, err := d.repo.Stage.ListByProject(ctx, projectID)
	if err != nil {
		d.logger.Error("查询项目阶段失败", zap.String("project_id", projectID), zap.Error(err))
		return nil, apperrors.System(err, "查询项目阶段")
	}
	return d.ReconcileAll(ctx, stages), nil
}
