package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repository 所有 Repository 的聚合入口
type Repository struct {
	db *gorm.DB

	Stage        StageRepository
	Group        GroupRepository
	Submission   SubmissionRepository
	Vote         VoteRepository
	Settlement   SettlementRepository
	Notification NotificationRepository
	Audit        AuditRepository
	User         UserRepository
}

// NewRepository 创建 Repository 聚合
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db:           db,
		Stage:        NewStageRepo(db),
		Group:        NewGroupRepo(db),
		Submission:   NewSubmissionRepo(db),
		Vote:         NewVoteRepo(db),
		Settlement:   NewSettlementRepo(db),
		Notification: NewNotificationRepo(db),
		Audit:        NewAuditRepo(db),
		User:         NewUserRepo(db),
	}
}

// BeginTx 开启事务
// 单元测试中聚合由 mock 直接组装（db 为 nil），此时返回 nil 事务，调用方需判空
func (r *Repository) BeginTx(ctx context.Context) (*gorm.DB, error) {
	if r.db == nil {
		return nil, nil
	}
	tx := r.db.WithContext(ctx).Begin()
	return tx, tx.Error
}

// WithTx 返回绑定到事务连接的聚合；tx 为 nil 时返回自身
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return NewRepository(tx)
}
