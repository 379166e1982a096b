package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"stagekeeper/internal/model"
	apperrors "stagekeeper/pkg/errors"
)

// SettlementRepository 结算记录与积分流水数据访问接口
type SettlementRepository interface {
	CreateRecord(ctx context.Context, rec *model.SettlementRecord) error
	UpdateRecord(ctx context.Context, rec *model.SettlementRecord) error
	GetRecord(ctx context.Context, settlementID string) (*model.SettlementRecord, error)
	GetActiveByStage(ctx context.Context, stageID string) (*model.SettlementRecord, error)
	// GetLatestByStage 阶段最近一次结算尝试，不区分状态
	GetLatestByStage(ctx context.Context, stageID string) (*model.SettlementRecord, error)
	// FailPendingByStage 将阶段下仍为 pending 的记录置为 failed（锁超时回收）
	FailPendingByStage(ctx context.Context, stageID, code, reason string, at time.Time) (int64, error)
	CreateTransactions(ctx context.Context, txs []model.Transaction) error
	ListTransactions(ctx context.Context, settlementID string) ([]model.Transaction, error)
}

type settlementRepo struct {
	db *gorm.DB
}

// NewSettlementRepo 创建 SettlementRepository 实例
func NewSettlementRepo(db *gorm.DB) SettlementRepository {
	return &settlementRepo{db: db}
}

func (r *settlementRepo) CreateRecord(ctx context.Context, rec *model.SettlementRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// UpdateRecord 终结一条 pending 记录；记录已被终结时返回 ErrOptimisticLock
func (r *settlementRepo) UpdateRecord(ctx context.Context, rec *model.SettlementRecord) error {
	result := r.db.WithContext(ctx).
		Model(&model.SettlementRecord{}).
		Where("settlement_id = ? AND status = ?", rec.SettlementID, model.SettlementStatusPending).
		Updates(map[string]interface{}{
			"status":            rec.Status,
			"total_distributed": rec.TotalDistributed,
			"participant_count": rec.ParticipantCount,
			"failure_code":      rec.FailureCode,
			"failure_reason":    rec.FailureReason,
			"completed_time":    rec.CompletedTime,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrOptimisticLock
	}
	return nil
}

func (r *settlementRepo) GetRecord(ctx context.Context, settlementID string) (*model.SettlementRecord, error) {
	var rec model.SettlementRecord
	if err := r.db.WithContext(ctx).Where("settlement_id = ?", settlementID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *settlementRepo) GetActiveByStage(ctx context.Context, stageID string) (*model.SettlementRecord, error) {
	var rec model.SettlementRecord
	err := r.db.WithContext(ctx).
		Where("stage_id = ? AND status = ?", stageID, model.SettlementStatusActive).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *settlementRepo) GetLatestByStage(ctx context.Context, stageID string) (*model.SettlementRecord, error) {
	var rec model.SettlementRecord
	err := r.db.WithContext(ctx).
		Where("stage_id = ?", stageID).
		Order("created_time DESC").
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *settlementRepo) FailPendingByStage(ctx context.Context, stageID, code, reason string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.SettlementRecord{}).
		Where("stage_id = ? AND status = ?", stageID, model.SettlementStatusPending).
		Updates(map[string]interface{}{
			"status":         model.SettlementStatusFailed,
			"failure_code":   code,
			"failure_reason": reason,
			"completed_time": at,
		})
	return result.RowsAffected, result.Error
}

func (r *settlementRepo) CreateTransactions(ctx context.Context, txs []model.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(txs, 200).Error
}

func (r *settlementRepo) ListTransactions(ctx context.Context, settlementID string) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := r.db.WithContext(ctx).
		Where("settlement_id = ?", settlementID).
		Order("amount DESC, participant ASC").
		Find(&txs).Error
	return txs, err
}
