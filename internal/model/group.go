package model

import "time"

// Group 项目小组表 — 对应 groups
type Group struct {
	GroupID   string      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"group_id"`
	ProjectID string      `gorm:"type:uuid;not null;index"                       json:"project_id"`
	Name      string      `gorm:"type:varchar(100);not null"                     json:"name"`
	Status    string      `gorm:"type:varchar(20);not null;default:'active'"     json:"status"` // active | inactive
	Members   StringArray `gorm:"type:text[]"                                    json:"members"`
	BaseModel
}

func (Group) TableName() string { return "groups" }

// Submission 阶段成果提交表 — 对应 submissions
type Submission struct {
	SubmissionID string     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"submission_id"`
	ProjectID    string     `gorm:"type:uuid;not null"                             json:"project_id"`
	StageID      string     `gorm:"type:uuid;not null;index"                       json:"stage_id"`
	GroupID      string     `gorm:"type:uuid;not null"                             json:"group_id"`
	AuthorEmail  string     `gorm:"type:varchar(255);not null"                     json:"author_email"`
	Content      string     `gorm:"type:text;not null"                             json:"content"`
	Status       string     `gorm:"type:varchar(20);not null;default:'submitted'"  json:"status"` // submitted | approved
	AutoApproved bool       `gorm:"not null;default:false"                         json:"auto_approved"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	SubmittedAt  time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"             json:"submitted_at"`
	BaseModel
}

func (Submission) TableName() string { return "submissions" }

// [自证通过] internal/model/group.go
