package repository

import (
	"context"

	"gorm.io/gorm"

	"stagekeeper/internal/model"
)

// NotificationRepository 通知数据访问接口
type NotificationRepository interface {
	Create(ctx context.Context, n *model.Notification) error
	ListByStage(ctx context.Context, stageID string) ([]model.Notification, error)
}

type notificationRepo struct {
	db *gorm.DB
}

// NewNotificationRepo 创建 NotificationRepository 实例
func NewNotificationRepo(db *gorm.DB) NotificationRepository {
	return &notificationRepo{db: db}
}

func (r *notificationRepo) Create(ctx context.Context, n *model.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *notificationRepo) ListByStage(ctx context.Context, stageID string) ([]model.Notification, error) {
	var list []model.Notification
	err := r.db.WithContext(ctx).
		Where("stage_id = ?", stageID).
		Order("created_at DESC").
		Find(&list).Error
	return list, err
}

// AuditRepository 阶段审计日志数据访问接口（仅追加）
type AuditRepository interface {
	Create(ctx context.Context, log *model.StageAuditLog) error
	ListByStage(ctx context.Context, stageID string, limit int) ([]model.StageAuditLog, error)
}

type auditRepo struct {
	db *gorm.DB
}

// NewAuditRepo 创建 AuditRepository 实例
func NewAuditRepo(db *gorm.DB) AuditRepository {
	return &auditRepo{db: db}
}

func (r *auditRepo) Create(ctx context.Context, log *model.StageAuditLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *auditRepo) ListByStage(ctx context.Context, stageID string, limit int) ([]model.StageAuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []model.StageAuditLog
	err := r.db.WithContext(ctx).
		Where("stage_id = ?", stageID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
