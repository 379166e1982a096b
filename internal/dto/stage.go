package dto

// ── 阶段管理 DTO ──

// OverrideStatusRequest 管理员人工覆盖阶段状态
// 仅允许 voting（提前投票）/ completed / archived
type OverrideStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=voting completed archived"`
	Reason string `json:"reason" binding:"omitempty,max=500"`
}

// StageListRequest 阶段列表查询参数
type StageListRequest struct {
	// Sync=false 时只推导不回写（只读展示路径）
	Sync *bool `form:"sync"`
}

// ShouldSync 默认在读取时同步
func (r *StageListRequest) ShouldSync() bool {
	return r.Sync == nil || *r.Sync
}

// ── 受状态门控的写操作 DTO ──

// SubmitDeliverableRequest 提交阶段成果（需 active）
type SubmitDeliverableRequest struct {
	GroupID string `json:"group_id" binding:"required"`
	Content string `json:"content"  binding:"required,min=1,max=20000"`
}

// RankingVoteRequest 小组排名投票（需 voting）
// 投票人所在小组由服务端解析，不接受客户端指定
type RankingVoteRequest struct {
	Rankings []string `json:"rankings" binding:"required,min=1,dive,required"`
}

// CommentRankingRequest 评论排名（需 voting）
type CommentRankingRequest struct {
	RankedAuthors []string `json:"ranked_authors" binding:"required,min=1,dive,required,email"`
}

// TeacherVoteRequest 教师评分（需 voting）
type TeacherVoteRequest struct {
	GroupID string  `json:"group_id" binding:"required"`
	Score   float64 `json:"score"    binding:"gte=0,lte=100"`
}

// ProposalVoteRequest 提案投票（需 voting）
type ProposalVoteRequest struct {
	ProposalID string `json:"proposal_id" binding:"required"`
	Approve    bool   `json:"approve"`
}

// WriteAccepted 门控写操作成功响应
type WriteAccepted struct {
	ID      string `json:"id"`
	StageID string `json:"stage_id"`
	Status  string `json:"status"`
}
