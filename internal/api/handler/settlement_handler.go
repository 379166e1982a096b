package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"stagekeeper/internal/dto"
	"stagekeeper/internal/model"
	"stagekeeper/internal/service"
	"stagekeeper/pkg/response"
)

// SettlementHandler 奖池结算 HTTP 处理器
type SettlementHandler struct {
	settlementSvc service.SettlementService
}

// NewSettlementHandler 创建 SettlementHandler
func NewSettlementHandler(settlementSvc service.SettlementService) *SettlementHandler {
	return &SettlementHandler{settlementSvc: settlementSvc}
}

// SettleStage 手动触发结算
// POST /api/v1/projects/:project_id/stages/:stage_id/settle
func (h *SettlementHandler) SettleStage(c *gin.Context) {
	result, err := h.settlementSvc.SettleStage(c.Request.Context(), c.Param("project_id"), c.Param("stage_id"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.OK(c, dto.SettlementResponse{
		SettlementID:     result.SettlementID,
		StageID:          result.StageID,
		Status:           string(model.SettlementStatusActive),
		TotalDistributed: result.TotalDistributed,
		ParticipantCount: result.ParticipantCount,
	})
}

// UnlockStage 强制释放结算锁（结算进程崩溃后的人工恢复）
// POST /api/v1/projects/:project_id/stages/:stage_id/unlock
func (h *SettlementHandler) UnlockStage(c *gin.Context) {
	actorID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	if err := h.settlementSvc.ForceUnlock(c.Request.Context(), c.Param("project_id"), c.Param("stage_id"), actorID); err != nil {
		response.FromError(c, err)
		return
	}

	response.OK(c, dto.RecoverResponse{Recovered: 1})
}

// defaultRecoverAge 未指定 max_age 时回收持有超过该时长的结算锁
const defaultRecoverAge = 30 * time.Minute

// RecoverStale 回收过期结算锁
// POST /api/v1/settlements/recover?max_age=30m
func (h *SettlementHandler) RecoverStale(c *gin.Context) {
	maxAge := defaultRecoverAge
	if raw := c.Query("max_age"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			response.BadRequest(c, 10001, "max_age 格式无效")
			return
		}
		maxAge = d
	}

	n, err := h.settlementSvc.RecoverStale(c.Request.Context(), maxAge)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.OK(c, dto.RecoverResponse{Recovered: n})
}

// GetSettlement 结算详情（含分配明细）
// GET /api/v1/settlements/:id
func (h *SettlementHandler) GetSettlement(c *gin.Context) {
	detail, err := h.settlementSvc.GetSettlement(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.OK(c, detail)
}
