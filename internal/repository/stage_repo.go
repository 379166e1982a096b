package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"stagekeeper/internal/model"
)

// StatusUpdate 条件状态更新携带的字段
type StatusUpdate struct {
	Status              model.StageStatus
	At                  time.Time  // 写入 updated_at；服务层传入注入时钟的时间
	SyncedAt            *time.Time // 写入 last_status_sync
	SettlementStartedAt *time.Time // 获取结算锁时写入
	ClearSettlement     bool       // 释放结算锁时清空 settlement_started_at
	UpdatedBy           *string
}

// Columns 转换为 UPDATE 列
func (u StatusUpdate) Columns() map[string]interface{} {
	cols := map[string]interface{}{
		"status": u.Status,
	}
	if !u.At.IsZero() {
		cols["updated_at"] = u.At
	}
	if u.SyncedAt != nil {
		cols["last_status_sync"] = *u.SyncedAt
	}
	if u.SettlementStartedAt != nil {
		cols["settlement_started_at"] = *u.SettlementStartedAt
	}
	if u.ClearSettlement {
		cols["settlement_started_at"] = nil
	}
	if u.UpdatedBy != nil {
		cols["updated_by"] = *u.UpdatedBy
	}
	return cols
}

// Apply 将更新应用到内存对象（提交成功后同步调用方持有的副本）
func (u StatusUpdate) Apply(s *model.Stage) {
	s.Status = u.Status
	if !u.At.IsZero() {
		s.UpdatedAt = u.At
	}
	if u.SyncedAt != nil {
		t := *u.SyncedAt
		s.LastStatusSync = &t
	}
	if u.SettlementStartedAt != nil {
		t := *u.SettlementStartedAt
		s.SettlementStartedAt = &t
	}
	if u.ClearSettlement {
		s.SettlementStartedAt = nil
	}
	if u.UpdatedBy != nil {
		s.UpdatedBy = u.UpdatedBy
	}
}

// StageRepository 阶段数据访问接口
type StageRepository interface {
	Create(ctx context.Context, stage *model.Stage) error
	GetByID(ctx context.Context, projectID, stageID string) (*model.Stage, error)
	ListByProject(ctx context.Context, projectID string) ([]model.Stage, error)
	// ListProjectsWithOpenStages 返回存在未终结阶段的项目 ID
	ListProjectsWithOpenStages(ctx context.Context) ([]string, error)
	// ListStaleSettling 返回 settling 且加锁时间早于 before 的阶段
	ListStaleSettling(ctx context.Context, before time.Time) ([]model.Stage, error)
	// UpdateStatus 仅当当前状态等于 expected 时更新，返回受影响行数
	// 这是阶段状态唯一的并发序列化点
	UpdateStatus(ctx context.Context, projectID, stageID string, expected model.StageStatus, upd StatusUpdate) (int64, error)
}

type stageRepo struct {
	db *gorm.DB
}

// NewStageRepo 创建 StageRepository 实例
func NewStageRepo(db *gorm.DB) StageRepository {
	return &stageRepo{db: db}
}

func (r *stageRepo) Create(ctx context.Context, stage *model.Stage) error {
	return r.db.WithContext(ctx).Create(stage).Error
}

func (r *stageRepo) GetByID(ctx context.Context, projectID, stageID string) (*model.Stage, error) {
	var stage model.Stage
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND stage_id = ?", projectID, stageID).
		First(&stage).Error
	if err != nil {
		return nil, err
	}
	return &stage, nil
}

func (r *stageRepo) ListByProject(ctx context.Context, projectID string) ([]model.Stage, error) {
	var stages []model.Stage
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("start_date ASC NULLS LAST, created_at ASC").
		Find(&stages).Error
	return stages, err
}

func (r *stageRepo) ListProjectsWithOpenStages(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.Stage{}).
		Where("status NOT IN ?", []model.StageStatus{model.StageStatusCompleted, model.StageStatusArchived}).
		Distinct().
		Pluck("project_id", &ids).Error
	return ids, err
}

func (r *stageRepo) ListStaleSettling(ctx context.Context, before time.Time) ([]model.Stage, error) {
	var stages []model.Stage
	err := r.db.WithContext(ctx).
		Where("status = ? AND (settlement_started_at IS NULL OR settlement_started_at < ?)", model.StageStatusSettling, before).
		Find(&stages).Error
	return stages, err
}

func (r *stageRepo) UpdateStatus(ctx context.Context, projectID, stageID string, expected model.StageStatus, upd StatusUpdate) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Stage{}).
		Where("project_id = ? AND stage_id = ? AND status = ?", projectID, stageID, expected).
		Updates(upd.Columns())
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
