package model

import "time"

// SettlementStatus 结算记录状态
type SettlementStatus string

const (
	SettlementStatusPending SettlementStatus = "pending" // 计算中
	SettlementStatusActive  SettlementStatus = "active"  // 已生效（每个阶段至多一条）
	SettlementStatusFailed  SettlementStatus = "failed"  // 失败，可重试
)

// SettlementRecord 结算记录表 — 对应 settlement_records
// 每次结算尝试一行；同一 stage_id 至多一条 active（数据库部分唯一索引保证）
type SettlementRecord struct {
	SettlementID     string           `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"settlement_id"`
	ProjectID        string           `gorm:"type:uuid;not null"                             json:"project_id"`
	StageID          string           `gorm:"type:uuid;not null;index"                       json:"stage_id"`
	Status           SettlementStatus `gorm:"type:varchar(20);not null;default:'pending'"    json:"status"`
	RewardPool       float64          `gorm:"type:numeric(14,4);not null"                    json:"reward_pool"`
	TotalDistributed float64          `gorm:"type:numeric(14,4);not null;default:0"          json:"total_distributed"`
	ParticipantCount int              `gorm:"not null;default:0"                             json:"participant_count"`
	FailureCode      string           `gorm:"type:varchar(50)"                               json:"failure_code,omitempty"`
	FailureReason    string           `gorm:"type:varchar(500)"                              json:"failure_reason,omitempty"`
	CreatedTime      time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"             json:"created_time"`
	CompletedTime    *time.Time       `json:"completed_time,omitempty"`
}

func (SettlementRecord) TableName() string { return "settlement_records" }

// Transaction 积分转账记录表 — 对应 point_transactions
// 仅在结算分配通过守恒校验后写入
type Transaction struct {
	TransactionID string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"transaction_id"`
	SettlementID  string    `gorm:"type:uuid;not null;index"                       json:"settlement_id"`
	ProjectID     string    `gorm:"type:uuid;not null"                             json:"project_id"`
	StageID       string    `gorm:"type:uuid;not null"                             json:"stage_id"`
	Participant   string    `gorm:"type:varchar(255);not null"                     json:"participant"`
	Amount        float64   `gorm:"type:numeric(14,4);not null"                    json:"amount"`
	CreatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"             json:"created_at"`
}

func (Transaction) TableName() string { return "point_transactions" }
