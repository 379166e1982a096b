package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stagekeeper/internal/model"
	"stagekeeper/internal/repository"
)

// stageEvent 广播到 Redis 频道的消息体
type stageEvent struct {
	Type      string `json:"type"`
	ProjectID string `json:"project_id"`
	StageID   string `json:"stage_id"`
	GroupID   string `json:"group_id,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	At        string `json:"at"`
}

type stageNotifier struct {
	repo      *repository.Repository
	publisher EventPublisher
	channel   string
	logger    *zap.Logger
}

// NewNotifier 通知落库并广播；publisher 为 nil 时只落库
func NewNotifier(repo *repository.Repository, publisher EventPublisher, channel string, logger *zap.Logger) Notifier {
	return &stageNotifier{repo: repo, publisher: publisher, channel: channel, logger: logger}
}

func (n *stageNotifier) NotifyStageTransition(ctx context.Context, projectID, stageID string, from, to model.StageStatus) error {
	var typ, title, content string
	switch to {
	case model.StageStatusActive:
		typ, title, content = model.NotificationStageStarted, "阶段已开始", "阶段已开放提交，请在截止时间前提交成果。"
	case model.StageStatusVoting:
		typ, title, content = model.NotificationVotingStarted, "投票已开始", "提交已截止，请在共识截止时间前完成投票。"
	case model.StageStatusCompleted:
		typ, title, content = model.NotificationStageCompleted, "阶段已完成", "投票已截止，奖池已结算。"
	default:
		return nil
	}

	if err := n.repo.Notification.Create(ctx, &model.Notification{
		ProjectID: projectID,
		StageID:   stageID,
		Type:      typ,
		Title:     title,
		Content:   content,
	}); err != nil {
		return fmt.Errorf("保存通知失败: %w", err)
	}

	n.publish(ctx, stageEvent{Type: typ, ProjectID: projectID, StageID: stageID, From: string(from), To: string(to)})
	return nil
}

func (n *stageNotifier) NotifyMissedDeadline(ctx context.Context, projectID, stageID, groupID string) error {
	gid := groupID
	if err := n.repo.Notification.Create(ctx, &model.Notification{
		ProjectID: projectID,
		StageID:   stageID,
		GroupID:   &gid,
		Type:      model.NotificationDeadlineMissed,
		Title:     "未按时提交",
		Content:   "本阶段提交已截止，你的小组未提交成果。",
	}); err != nil {
		return fmt.Errorf("保存缺交通知失败: %w", err)
	}

	n.publish(ctx, stageEvent{Type: model.NotificationDeadlineMissed, ProjectID: projectID, StageID: stageID, GroupID: groupID})
	return nil
}

// publish 尽力广播，失败只记录
func (n *stageNotifier) publish(ctx context.Context, ev stageEvent) {
	if n.publisher == nil || n.channel == "" {
		return
	}
	ev.At = time.Now().UTC().Format(time.RFC3339)
	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.Warn("序列化阶段事件失败", zap.Error(err))
		return
	}
	if err := n.publisher.Publish(ctx, n.channel, payload); err != nil {
		n.logger.Warn("广播阶段事件失败",
			zap.String("channel", n.channel),
			zap.String("type", ev.Type),
			zap.Error(err),
		)
	}
}
