package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"stagekeeper/internal/model"
)

// GroupRepository 小组数据访问接口
type GroupRepository interface {
	Create(ctx context.Context, group *model.Group) error
	ListActiveByProject(ctx context.Context, projectID string) ([]model.Group, error)
	// GetActiveByID 项目内的活跃小组；ID 非法时按不存在处理
	GetActiveByID(ctx context.Context, projectID, groupID string) (*model.Group, error)
	// FindByMember 成员所在的活跃小组，多个时取名称最小者
	FindByMember(ctx context.Context, projectID, email string) (*model.Group, error)
}

type groupRepo struct {
	db *gorm.DB
}

// NewGroupRepo 创建 GroupRepository 实例
func NewGroupRepo(db *gorm.DB) GroupRepository {
	return &groupRepo{db: db}
}

func (r *groupRepo) Create(ctx context.Context, group *model.Group) error {
	return r.db.WithContext(ctx).Create(group).Error
}

func (r *groupRepo) ListActiveByProject(ctx context.Context, projectID string) ([]model.Group, error) {
	var groups []model.Group
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND status = ?", projectID, "active").
		Order("name ASC").
		Find(&groups).Error
	return groups, err
}

func (r *groupRepo) GetActiveByID(ctx context.Context, projectID, groupID string) (*model.Group, error) {
	if _, err := uuid.Parse(groupID); err != nil {
		return nil, gorm.ErrRecordNotFound
	}
	var group model.Group
	err := r.db.WithContext(ctx).
		Where("group_id = ? AND project_id = ? AND status = ?", groupID, projectID, "active").
		First(&group).Error
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (r *groupRepo) FindByMember(ctx context.Context, projectID, email string) (*model.Group, error) {
	var group model.Group
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND status = ? AND ? = ANY(members)", projectID, "active", email).
		Order("name ASC").
		First(&group).Error
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// SubmissionRepository 成果提交数据访问接口
type SubmissionRepository interface {
	Create(ctx context.Context, sub *model.Submission) error
	ListByStage(ctx context.Context, stageID string) ([]model.Submission, error)
	// MarkAutoApproved 将未批准的提交标记为自动批准，已批准的跳过
	MarkAutoApproved(ctx context.Context, submissionIDs []string, at time.Time) (int64, error)
}

type submissionRepo struct {
	db *gorm.DB
}

// NewSubmissionRepo 创建 SubmissionRepository 实例
func NewSubmissionRepo(db *gorm.DB) SubmissionRepository {
	return &submissionRepo{db: db}
}

func (r *submissionRepo) Create(ctx context.Context, sub *model.Submission) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *submissionRepo) ListByStage(ctx context.Context, stageID string) ([]model.Submission, error) {
	var subs []model.Submission
	err := r.db.WithContext(ctx).
		Where("stage_id = ?", stageID).
		Order("submitted_at ASC").
		Find(&subs).Error
	return subs, err
}

func (r *submissionRepo) MarkAutoApproved(ctx context.Context, submissionIDs []string, at time.Time) (int64, error) {
	if len(submissionIDs) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Model(&model.Submission{}).
		Where("submission_id IN ? AND status <> ?", submissionIDs, "approved").
		Updates(map[string]interface{}{
			"status":        "approved",
			"auto_approved": true,
			"approved_at":   at,
			"updated_at":    at,
		})
	return result.RowsAffected, result.Error
}
