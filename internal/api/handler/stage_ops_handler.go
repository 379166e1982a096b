package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"stagekeeper/internal/dto"
	"stagekeeper/internal/service"
	"stagekeeper/pkg/response"
)

// StageOpsHandler 受阶段状态门控的写操作
// 每个请求都经 SecureValidate 校验会话与阶段状态后才会落库
type StageOpsHandler struct {
	opsSvc service.StageOpsService
}

// NewStageOpsHandler 创建 StageOpsHandler
func NewStageOpsHandler(opsSvc service.StageOpsService) *StageOpsHandler {
	return &StageOpsHandler{opsSvc: opsSvc}
}

// gatedWrite 绑定请求体并执行门控写操作
func gatedWrite[T any](c *gin.Context, op func(ctx context.Context, sessionID, projectID, stageID string, req *T) (*dto.WriteAccepted, error)) {
	sessionID, ok := MustGetSessionID(c)
	if !ok {
		return
	}

	var req T
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	result, err := op(c.Request.Context(), sessionID, c.Param("project_id"), c.Param("stage_id"), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Created(c, result)
}

// SubmitDeliverable 提交成果（阶段须为 active）
// POST /api/v1/projects/:project_id/stages/:stage_id/submissions
func (h *StageOpsHandler) SubmitDeliverable(c *gin.Context) {
	gatedWrite(c, h.opsSvc.SubmitDeliverable)
}

// CastRankingVote 小组排名投票（阶段须为 voting）
// POST /api/v1/projects/:project_id/stages/:stage_id/ranking-votes
func (h *StageOpsHandler) CastRankingVote(c *gin.Context) {
	gatedWrite(c, h.opsSvc.CastRankingVote)
}

// SubmitCommentRanking 评论排名
// POST /api/v1/projects/:project_id/stages/:stage_id/comment-rankings
func (h *StageOpsHandler) SubmitCommentRanking(c *gin.Context) {
	gatedWrite(c, h.opsSvc.SubmitCommentRanking)
}

// CastTeacherVote 教师评分
// POST /api/v1/projects/:project_id/stages/:stage_id/teacher-votes
func (h *StageOpsHandler) CastTeacherVote(c *gin.Context) {
	gatedWrite(c, h.opsSvc.CastTeacherVote)
}

// CastProposalVote 提案投票
// POST /api/v1/projects/:project_id/stages/:stage_id/proposal-votes
func (h *StageOpsHandler) CastProposalVote(c *gin.Context) {
	gatedWrite(c, h.opsSvc.CastProposalVote)
}
