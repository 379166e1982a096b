package repository

import (
	"context"

	"gorm.io/gorm"

	"stagekeeper/internal/model"
)

// VoteRepository 投票类数据访问接口
// 写入前必须经过阶段状态校验，本层不做状态判断
type VoteRepository interface {
	CreateRankingVote(ctx context.Context, v *model.RankingVote) error
	CreateCommentRanking(ctx context.Context, v *model.CommentRanking) error
	CreateTeacherVote(ctx context.Context, v *model.TeacherVote) error
	CreateProposalVote(ctx context.Context, v *model.ProposalVote) error
	ListRankingVotes(ctx context.Context, stageID string) ([]model.RankingVote, error)
	ListCommentRankings(ctx context.Context, stageID string) ([]model.CommentRanking, error)
}

type voteRepo struct {
	db *gorm.DB
}

// NewVoteRepo 创建 VoteRepository 实例
func NewVoteRepo(db *gorm.DB) VoteRepository {
	return &voteRepo{db: db}
}

func (r *voteRepo) CreateRankingVote(ctx context.Context, v *model.RankingVote) error {
	return r.db.WithContext(ctx).Create(v).Error
}

func (r *voteRepo) CreateCommentRanking(ctx context.Context, v *model.CommentRanking) error {
	return r.db.WithContext(ctx).Create(v).Error
}

func (r *voteRepo) CreateTeacherVote(ctx context.Context, v *model.TeacherVote) error {
	return r.db.WithContext(ctx).Create(v).Error
}

func (r *voteRepo) CreateProposalVote(ctx context.Context, v *model.ProposalVote) error {
	return r.db.WithContext(ctx).Create(v).Error
}

func (r *voteRepo) ListRankingVotes(ctx context.Context, stageID string) ([]model.RankingVote, error) {
	var votes []model.RankingVote
	err := r.db.WithContext(ctx).
		Where("stage_id = ?", stageID).
		Order("created_at ASC").
		Find(&votes).Error
	return votes, err
}

func (r *voteRepo) ListCommentRankings(ctx context.Context, stageID string) ([]model.CommentRanking, error) {
	var rankings []model.CommentRanking
	err := r.db.WithContext(ctx).
		Where("stage_id = ?", stageID).
		Order("created_at ASC").
		Find(&rankings).Error
	return rankings, err
}
