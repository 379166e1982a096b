package service

import (
	"context"

	"go.uber.org/zap"

	"stagekeeper/internal/model"
	"stagekeeper/internal/repository"
)

type repoAuditSink struct {
	repo   *repository.Repository
	logger *zap.Logger
}

// NewAuditSink 基于 stage_audit_logs 表的审计落地
func NewAuditSink(repo *repository.Repository, logger *zap.Logger) AuditSink {
	return &repoAuditSink{repo: repo, logger: logger}
}

func (a *repoAuditSink) Append(ctx context.Context, entry *model.StageAuditLog) error {
	if err := a.repo.Audit.Create(ctx, entry); err != nil {
		a.logger.Error("写入审计日志失败",
			zap.String("stage_id", entry.StageID),
			zap.String("event", entry.Event),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// appendAudit 审计失败不影响主流程
func appendAudit(ctx context.Context, sink AuditSink, entry *model.StageAuditLog) {
	if sink == nil {
		return
	}
	_ = sink.Append(context.WithoutCancel(ctx), entry)
}
