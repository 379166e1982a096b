package model

import "time"

// RankingVote 小组排名投票表 — 对应 ranking_votes
// Rankings 为组 ID 列表，排名靠前者在前；VoterGroupID 由服务端按成员关系解析，无小组时为 NULL
type RankingVote struct {
	VoteID       string      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"vote_id"`
	ProjectID    string      `gorm:"type:uuid;not null"                             json:"project_id"`
	StageID      string      `gorm:"type:uuid;not null;index"                       json:"stage_id"`
	VoterEmail   string      `gorm:"type:varchar(255);not null"                     json:"voter_email"`
	VoterGroupID *string     `gorm:"type:uuid"                                      json:"voter_group_id,omitempty"`
	Rankings     StringArray `gorm:"type:text[];not null"                           json:"rankings"`
	CreatedAt    time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP"             json:"created_at"`
}

func (RankingVote) TableName() string { return "ranking_votes" }

// CommentRanking 评论排名表 — 对应 comment_rankings
type CommentRanking struct {
	RankingID     string      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"ranking_id"`
	ProjectID     string      `gorm:"type:uuid;not null"                             json:"project_id"`
	StageID       string      `gorm:"type:uuid;not null;index"                       json:"stage_id"`
	VoterEmail    string      `gorm:"type:varchar(255);not null"                     json:"voter_email"`
	RankedAuthors StringArray `gorm:"type:text[];not null"                           json:"ranked_authors"`
	CreatedAt     time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP"             json:"created_at"`
}

func (CommentRanking) TableName() string { return "comment_rankings" }

// TeacherVote 教师评分表 — 对应 teacher_votes
type TeacherVote struct {
	VoteID       string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"vote_id"`
	ProjectID    string    `gorm:"type:uuid;not null"                             json:"project_id"`
	StageID      string    `gorm:"type:uuid;not null;index"                       json:"stage_id"`
	TeacherEmail string    `gorm:"type:varchar(255);not null"                     json:"teacher_email"`
	GroupID      string    `gorm:"type:uuid;not null"                             json:"group_id"`
	Score        float64   `gorm:"type:numeric(6,2);not null"                     json:"score"`
	CreatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"             json:"created_at"`
}

func (TeacherVote) TableName() string { return "teacher_votes" }

// ProposalVote 提案投票表 — 对应 proposal_votes
type ProposalVote struct {
	VoteID     string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"vote_id"`
	ProjectID  string    `gorm:"type:uuid;not null"                             json:"project_id"`
	StageID    string    `gorm:"type:uuid;not null;index"                       json:"stage_id"`
	VoterEmail string    `gorm:"type:varchar(255);not null"                     json:"voter_email"`
	ProposalID string    `gorm:"type:uuid;not null"                             json:"proposal_id"`
	Approve    bool      `gorm:"not null"                                       json:"approve"`
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"             json:"created_at"`
}

func (ProposalVote) TableName() string { return "proposal_votes" }
