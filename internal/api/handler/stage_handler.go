package handler

import (
	"github.com/gin-gonic/gin"

	"stagekeeper/internal/dto"
	"stagekeeper/internal/service"
	"stagekeeper/pkg/response"
)

// StageHandler 阶段查询与管理 HTTP 处理器
type StageHandler struct {
	stageSvc service.StageService
}

// NewStageHandler 创建 StageHandler
func NewStageHandler(stageSvc service.StageService) *StageHandler {
	return &StageHandler{stageSvc: stageSvc}
}

// ListStages 项目阶段列表（默认读时对账）
// GET /api/v1/projects/:project_id/stages?sync=false
func (h *StageHandler) ListStages(c *gin.Context) {
	var req dto.StageListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	stages, err := h.stageSvc.ListProjectStages(c.Request.Context(), c.Param("project_id"), req.ShouldSync())
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.OK(c, stages)
}

// GetStage 阶段详情
// GET /api/v1/projects/:project_id/stages/:stage_id
func (h *StageHandler) GetStage(c *gin.Context) {
	var req dto.StageListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	stage, err := h.stageSvc.GetStage(c.Request.Context(), c.Param("project_id"), c.Param("stage_id"), req.ShouldSync())
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.OK(c, stage)
}

// SyncStage 立即对账单个阶段
// POST /api/v1/projects/:project_id/stages/:stage_id/sync
func (h *StageHandler) SyncStage(c *gin.Context) {
	result, err := h.stageSvc.SyncStage(c.Request.Context(), c.Param("project_id"), c.Param("stage_id"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.OK(c, result)
}

// OverrideStatus 管理员覆盖阶段状态
// PUT /api/v1/projects/:project_id/stages/:stage_id/status
func (h *StageHandler) OverrideStatus(c *gin.Context) {
	actorID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	var req dto.OverrideStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	stage, err := h.stageSvc.OverrideStatus(c.Request.Context(), c.Param("project_id"), c.Param("stage_id"), &req, actorID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.OK(c, stage)
}
