package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"stagekeeper/internal/model"
	"stagekeeper/internal/repository"
	"stagekeeper/internal/stageclock"
	apperrors "stagekeeper/pkg/errors"
)

// ValidationResult 状态校验结果
type ValidationResult struct {
	EffectiveStatus model.StageStatus
	StoredStatus    model.StageStatus
	Discrepancy     bool
	Warning         stageclock.Warning
}

// SecureValidation 带会话校验的结果
type SecureValidation struct {
	User  *model.User
	Stage *model.Stage
	ValidationResult
}

// StatusValidator 写操作前的阶段状态闸门
//
// 所有依赖阶段状态的写操作必须先调用 SecureValidate；
// 状态只在服务端由 stageclock 推导，客户端传入的状态一律不采信。
type StatusValidator interface {
	Validate(ctx context.Context, stage *model.Stage, required model.StageStatus, operation string) (*ValidationResult, error)
	SecureValidate(ctx context.Context, sessionID, projectID, stageID string, required model.StageStatus, operation string) (*SecureValidation, error)
}

type statusValidator struct {
	repo     *repository.Repository
	sessions SessionResolver
	audit    AuditSink
	clock    Clock
	logger   *zap.Logger
}

// NewStatusValidator 创建 StatusValidator 实例
func NewStatusValidator(repo *repository.Repository, sessions SessionResolver, audit AuditSink, clock Clock, logger *zap.Logger) StatusValidator {
	return &statusValidator{repo: repo, sessions: sessions, audit: audit, clock: clock, logger: logger}
}

// ────────────────────── Validate ──────────────────────

func (v *statusValidator) Validate(ctx context.Context, stage *model.Stage, required model.StageStatus, operation string) (*ValidationResult, error) {
	if stage == nil {
		return nil, apperrors.New(apperrors.CodeStageNotFound, "阶段不存在")
	}

	derived := stageclock.Derive(stage, v.clock.now())
	result := &ValidationResult{
		EffectiveStatus: derived.Status,
		StoredStatus:    stage.Status,
		Discrepancy:     derived.Status != stage.Status,
		Warning:         derived.Warning,
	}

	if derived.Warning != stageclock.WarnNone {
		v.logger.Warn("阶段时间数据缺失",
			zap.String("stage_id", stage.StageID),
			zap.String("warning", string(derived.Warning)),
		)
	}

	// 存储状态滞后只记录，不拒绝；以推导状态为准
	if result.Discrepancy {
		v.logger.Warn("阶段状态与推导状态不一致",
			zap.String("project_id", stage.ProjectID),
			zap.String("stage_id", stage.StageID),
			zap.String("operation", operation),
			zap.String("stored", string(stage.Status)),
			zap.String("effective", string(derived.Status)),
		)
		appendAudit(ctx, v.audit, &model.StageAuditLog{
			ProjectID:       stage.ProjectID,
			StageID:         stage.StageID,
			Event:           model.AuditStatusDiscrepancy,
			Operation:       operation,
			StoredStatus:    string(stage.Status),
			EffectiveStatus: string(derived.Status),
		})
	}

	if derived.Status != required {
		return result, statusMismatch(operation, required, derived.Status)
	}
	return result, nil
}

func statusMismatch(operation string, required, actual model.StageStatus) error {
	msg := fmt.Sprintf("操作 %s 需要阶段状态为 %s，当前为 %s", operation, required, actual)
	switch {
	case actual == model.StageStatusSettling:
		return apperrors.New(apperrors.CodeStageSettling, "%s（结算进行中）", msg)
	case actual.IsTerminal():
		return apperrors.New(apperrors.CodeStageSettled, "%s（阶段已结束）", msg)
	default:
		return apperrors.New(apperrors.CodeInvalidStageStatus, "%s", msg)
	}
}

// ────────────────────── SecureValidate ──────────────────────

func (v *statusValidator) SecureValidate(ctx context.Context, sessionID, projectID, stageID string, required model.StageStatus, operation string) (*SecureValidation, error) {
	user, err := v.sessions.ResolveSession(ctx, sessionID)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeSessionInvalid) {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.CodeSessionInvalid, err, "会话无效")
	}

	stage, err := v.repo.Stage.GetByID(ctx, projectID, stageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeStageNotFound, "阶段 %s 不存在", stageID)
		}
		v.logger.Error("查询阶段失败",
			zap.String("project_id", projectID),
			zap.String("stage_id", stageID),
			zap.String("operation", operation),
			zap.Error(err),
		)
		return nil, apperrors.System(err, "查询阶段")
	}

	result, err := v.Validate(ctx, stage, required, operation)
	if err != nil {
		return nil, err
	}

	return &SecureValidation{User: user, Stage: stage, ValidationResult: *result}, nil
}
