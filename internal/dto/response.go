package dto

// ── 用户 ──

// UserBrief 会话用户简要信息
type UserBrief struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// ── 阶段 ──

// StageResponse 阶段信息响应
// Status 为规范（推导后）状态；StoredStatus 仅在与之不一致时返回
type StageResponse struct {
	ID                string  `json:"id"`
	ProjectID         string  `json:"project_id"`
	Name              string  `json:"name"`
	Status            string  `json:"status"`
	StoredStatus      string  `json:"stored_status,omitempty"`
	Warning           string  `json:"warning,omitempty"`
	StartDate         string  `json:"start_date,omitempty"`
	EndDate           string  `json:"end_date,omitempty"`
	ConsensusDeadline string  `json:"consensus_deadline,omitempty"`
	RewardPool        float64 `json:"reward_pool"`
	LastStatusSync    string  `json:"last_status_sync,omitempty"`
}

// TransitionResponse 状态同步结果
type TransitionResponse struct {
	StageID      string              `json:"stage_id"`
	Updated      bool                `json:"updated"`
	OldStatus    string              `json:"old_status"`
	NewStatus    string              `json:"new_status"`
	SettlementID string              `json:"settlement_id,omitempty"`
	Settlement   *SettlementResponse `json:"settlement,omitempty"`
}

// ── 结算 ──

// SettlementResponse 结算结果响应
type SettlementResponse struct {
	SettlementID     string  `json:"settlement_id"`
	StageID          string  `json:"stage_id"`
	Status           string  `json:"status"`
	RewardPool       float64 `json:"reward_pool"`
	TotalDistributed float64 `json:"total_distributed"`
	ParticipantCount int     `json:"participant_count"`
	FailureCode      string  `json:"failure_code,omitempty"`
	CreatedTime      string  `json:"created_time,omitempty"`
	CompletedTime    string  `json:"completed_time,omitempty"`
}

// TransactionResponse 积分流水响应
type TransactionResponse struct {
	Participant string  `json:"participant"`
	Amount      float64 `json:"amount"`
}

// SettlementDetailResponse 结算详情（含流水）
type SettlementDetailResponse struct {
	SettlementResponse
	Transactions []TransactionResponse `json:"transactions"`
}

// RecoverResponse 锁回收结果
type RecoverResponse struct {
	Recovered int `json:"recovered"`
}
