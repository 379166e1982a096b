package service

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"stagekeeper/internal/dto"
	"stagekeeper/internal/model"
	"stagekeeper/internal/repository"
	apperrors "stagekeeper/pkg/errors"
)

// 门控写操作名称，出现在拒绝信息与审计日志中
const (
	OpSubmitDeliverable = "submit_deliverable"
	OpRankingVote       = "ranking_vote"
	OpCommentRanking    = "comment_ranking"
	OpTeacherVote       = "teacher_vote"
	OpProposalVote      = "proposal_vote"
)

// StageOpsService 依赖阶段状态的写操作
// 每个操作在任何写入之前都经过 SecureValidate
type StageOpsService interface {
	SubmitDeliverable(ctx context.Context, sessionID, projectID, stageID string, req *dto.SubmitDeliverableRequest) (*dto.WriteAccepted, error)
	CastRankingVote(ctx context.Context, sessionID, projectID, stageID string, req *dto.RankingVoteRequest) (*dto.WriteAccepted, error)
	SubmitCommentRanking(ctx context.Context, sessionID, projectID, stageID string, req *dto.CommentRankingRequest) (*dto.WriteAccepted, error)
	CastTeacherVote(ctx context.Context, sessionID, projectID, stageID string, req *dto.TeacherVoteRequest) (*dto.WriteAccepted, error)
	CastProposalVote(ctx context.Context, sessionID, projectID, stageID string, req *dto.ProposalVoteRequest) (*dto.WriteAccepted, error)
}

type stageOpsService struct {
	repo      *repository.Repository
	validator StatusValidator
	logger    *zap.Logger
}

// NewStageOpsService 创建 StageOpsService 实例
func NewStageOpsService(repo *repository.Repository, validator StatusValidator, logger *zap.Logger) StageOpsService {
	return &stageOpsService{repo: repo, validator: validator, logger: logger}
}

func accepted(id string, sv *SecureValidation) *dto.WriteAccepted {
	return &dto.WriteAccepted{ID: id, StageID: sv.Stage.StageID, Status: string(sv.EffectiveStatus)}
}

// activeGroup 项目内的活跃小组
func (s *stageOpsService) activeGroup(ctx context.Context, projectID, groupID string) (*model.Group, error) {
	group, err := s.repo.Group.GetActiveByID(ctx, projectID, groupID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeGroupNotFound, "小组 %s 不存在", groupID)
		}
		s.logger.Error("查询小组失败", zap.String("group_id", groupID), zap.Error(err))
		return nil, apperrors.System(err, "查询小组")
	}
	return group, nil
}

// voterGroup 投票人所在小组 ID；不属于任何小组时为 nil
func (s *stageOpsService) voterGroup(ctx context.Context, projectID, email string) (*string, error) {
	group, err := s.repo.Group.FindByMember(ctx, projectID, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		s.logger.Error("查询投票人小组失败", zap.String("project_id", projectID), zap.Error(err))
		return nil, apperrors.System(err, "查询投票人小组")
	}
	return &group.GroupID, nil
}

// ────────────────────── 提交成果（active） ──────────────────────

func (s *stageOpsService) SubmitDeliverable(ctx context.Context, sessionID, projectID, stageID string, req *dto.SubmitDeliverableRequest) (*dto.WriteAccepted, error) {
	sv, err := s.validator.SecureValidate(ctx, sessionID, projectID, stageID, model.StageStatusActive, OpSubmitDeliverable)
	if err != nil {
		return nil, err
	}

	group, err := s.activeGroup(ctx, projectID, req.GroupID)
	if err != nil {
		return nil, err
	}
	if !group.Members.Contains(sv.User.Email) {
		return nil, apperrors.New(apperrors.CodePermissionDenied, "仅小组成员可提交成果")
	}

	sub := &model.Submission{
		ProjectID:   projectID,
		StageID:     stageID,
		GroupID:     group.GroupID,
		AuthorEmail: sv.User.Email,
		Content:     req.Content,
		Status:      "submitted",
	}
	sub.CreatedBy = &sv.User.UserID
	sub.UpdatedBy = &sv.User.UserID

	if err := s.repo.Submission.Create(ctx, sub); err != nil {
		s.logger.Error("保存阶段提交失败", zap.String("stage_id", stageID), zap.Error(err))
		return nil, apperrors.System(err, "保存阶段提交")
	}
	return accepted(sub.SubmissionID, sv), nil
}

// ────────────────────── 投票（voting） ──────────────────────

func (s *stageOpsService) CastRankingVote(ctx context.Context, sessionID, projectID, stageID string, req *dto.RankingVoteRequest) (*dto.WriteAccepted, error) {
	sv, err := s.validator.SecureValidate(ctx, sessionID, projectID, stageID, model.StageStatusVoting, OpRankingVote)
	if err != nil {
		return nil, err
	}

	ownGroup, err := s.voterGroup(ctx, projectID, sv.User.Email)
	if err != nil {
		return nil, err
	}

	vote := &model.RankingVote{
		ProjectID:    projectID,
		StageID:      stageID,
		VoterEmail:   sv.User.Email,
		VoterGroupID: ownGroup,
		Rankings:     model.StringArray(req.Rankings),
	}
	if err := s.repo.Vote.CreateRankingVote(ctx, vote); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperrors.New(apperrors.CodeDuplicateVote, "本阶段已提交过排名投票")
		}
		s.logger.Error("保存排名投票失败", zap.String("stage_id", stageID), zap.Error(err))
		return nil, apperrors.System(err, "保存排名投票")
	}
	return accepted(vote.VoteID, sv), nil
}

func (s *stageOpsService) SubmitCommentRanking(ctx context.Context, sessionID, projectID, stageID string, req *dto.CommentRankingRequest) (*dto.WriteAccepted, error) {
	sv, err := s.validator.SecureValidate(ctx, sessionID, projectID, stageID, model.StageStatusVoting, OpCommentRanking)
	if err != nil {
		return nil, err
	}

	ranking := &model.CommentRanking{
		ProjectID:     projectID,
		StageID:       stageID,
		VoterEmail:    sv.User.Email,
		RankedAuthors: model.StringArray(req.RankedAuthors),
	}
	if err := s.repo.Vote.CreateCommentRanking(ctx, ranking); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperrors.New(apperrors.CodeDuplicateVote, "本阶段已提交过评论排名")
		}
		s.logger.Error("保存评论排名失败", zap.String("stage_id", stageID), zap.Error(err))
		return nil, apperrors.System(err, "保存评论排名")
	}
	return accepted(ranking.RankingID, sv), nil
}

func (s *stageOpsService) CastTeacherVote(ctx context.Context, sessionID, projectID, stageID string, req *dto.TeacherVoteRequest) (*dto.WriteAccepted, error) {
	sv, err := s.validator.SecureValidate(ctx, sessionID, projectID, stageID, model.StageStatusVoting, OpTeacherVote)
	if err != nil {
		return nil, err
	}
	if sv.User.Role != model.RoleTeacher && sv.User.Role != model.RoleAdmin {
		return nil, apperrors.New(apperrors.CodePermissionDenied, "仅教师可评分")
	}
	group, err := s.activeGroup(ctx, projectID, req.GroupID)
	if err != nil {
		return nil, err
	}

	vote := &model.TeacherVote{
		ProjectID:    projectID,
		StageID:      stageID,
		TeacherEmail: sv.User.Email,
		GroupID:      group.GroupID,
		Score:        req.Score,
	}
	if err := s.repo.Vote.CreateTeacherVote(ctx, vote); err != nil {
		s.logger.Error("保存教师评分失败", zap.String("stage_id", stageID), zap.Error(err))
		return nil, apperrors.System(err, "保存教师评分")
	}
	return accepted(vote.VoteID, sv), nil
}

func (s *stageOpsService) CastProposalVote(ctx context.Context, sessionID, projectID, stageID string, req *dto.ProposalVoteRequest) (*dto.WriteAccepted, error) {
	sv, err := s.validator.SecureValidate(ctx, sessionID, projectID, stageID, model.StageStatusVoting, OpProposalVote)
	if err != nil {
		return nil, err
	}

	vote := &model.ProposalVote{
		ProjectID:  projectID,
		StageID:    stageID,
		VoterEmail: sv.User.Email,
		ProposalID: req.ProposalID,
		Approve:    req.Approve,
	}
	if err := s.repo.Vote.CreateProposalVote(ctx, vote); err != nil {
		s.logger.Error("保存提案投票失败", zap.String("stage_id", stageID), zap.Error(err))
		return nil, apperrors.System(err, "保存提案投票")
	}
	return accepted(vote.VoteID, sv), nil
}
