package handler

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"stagekeeper/internal/service"
	"stagekeeper/pkg/response"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportHandler 导出模块 HTTP 处理器
type ExportHandler struct {
	exportSvc service.ExportService
}

// NewExportHandler 创建 ExportHandler
func NewExportHandler(exportSvc service.ExportService) *ExportHandler {
	return &ExportHandler{exportSvc: exportSvc}
}

// ExportSettlement 导出结算明细
// GET /api/v1/settlements/:id/export
func (h *ExportHandler) ExportSettlement(c *gin.Context) {
	buf, filename, err := h.exportSvc.ExportSettlement(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	// 设置下载响应头
	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+url.QueryEscape(filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}
