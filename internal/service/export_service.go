package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"stagekeeper/internal/repository"
	apperrors "stagekeeper/pkg/errors"
)

// ExportService 导出业务接口
//
// 结算明细导出为 Excel (.xlsx)，以 bytes.Buffer 返回，由 Handler 设置响应头后写出。
type ExportService interface {
	// ExportSettlement 导出结算明细，返回内容与建议文件名
	ExportSettlement(ctx context.Context, settlementID string) (*bytes.Buffer, string, error)
}

type exportService struct {
	repo   *repository.Repository
	logger *zap.Logger
}

// NewExportService 创建 ExportService 实例
func NewExportService(repo *repository.Repository, logger *zap.Logger) ExportService {
	return &exportService{repo: repo, logger: logger}
}

// ═══════════════════════════════════════════════════════════
// ExportSettlement — 导出结算明细
// ═══════════════════════════════════════════════════════════
//
// 输出格式：
//   - Sheet "结算明细"
//   - 头部：阶段、结算 ID、状态、奖池、已分配
//   - 明细：| 序号 | 参与者 | 金额 | 占比 |

func (s *exportService) ExportSettlement(ctx context.Context, settlementID string) (*bytes.Buffer, string, error) {
	record, err := s.repo.Settlement.GetRecord(ctx, settlementID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", apperrors.New(apperrors.CodeSettlementNotFound, "结算记录 %s 不存在", settlementID)
		}
		s.logger.Error("查询结算记录失败", zap.String("settlement_id", settlementID), zap.Error(err))
		return nil, "", apperrors.System(err, "查询结算记录")
	}

	stageName := record.StageID
	if stage, err := s.repo.Stage.GetByID(ctx, record.ProjectID, record.StageID); err == nil {
		stageName = stage.Name
	}

	txs, err := s.repo.Settlement.ListTransactions(ctx, settlementID)
	if err != nil {
		s.logger.Error("查询积分流水失败", zap.String("settlement_id", settlementID), zap.Error(err))
		return nil, "", apperrors.System(err, "查询积分流水")
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "结算明细"
	idx, _ := f.NewSheet(sheetName)
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	amountStyle, _ := f.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
	percentStyle, _ := f.NewStyle(&excelize.Style{NumFmt: 10})

	summary := [][]interface{}{
		{"阶段", stageName},
		{"结算ID", record.SettlementID},
		{"状态", string(record.Status)},
		{"奖池", record.RewardPool},
		{"已分配", record.TotalDistributed},
		{"参与人数", record.ParticipantCount},
	}
	for i, row := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		_ = f.SetSheetRow(sheetName, cell, &row)
	}

	headerRow := len(summary) + 2
	headers := []interface{}{"序号", "参与者", "金额", "占比"}
	headerCell, _ := excelize.CoordinatesToCellName(1, headerRow)
	_ = f.SetSheetRow(sheetName, headerCell, &headers)
	endHeader, _ := excelize.CoordinatesToCellName(len(headers), headerRow)
	_ = f.SetCellStyle(sheetName, headerCell, endHeader, headerStyle)

	for i, t := range txs {
		row := headerRow + 1 + i
		share := 0.0
		if record.RewardPool > 0 {
			share = t.Amount / record.RewardPool
		}
		values := []interface{}{i + 1, t.Participant, t.Amount, share}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		_ = f.SetSheetRow(sheetName, cell, &values)

		amountCell, _ := excelize.CoordinatesToCellName(3, row)
		shareCell, _ := excelize.CoordinatesToCellName(4, row)
		_ = f.SetCellStyle(sheetName, amountCell, amountCell, amountStyle)
		_ = f.SetCellStyle(sheetName, shareCell, shareCell, percentStyle)
	}

	_ = f.SetColWidth(sheetName, "A", "A", 10)
	_ = f.SetColWidth(sheetName, "B", "B", 40)
	_ = f.SetColWidth(sheetName, "C", "D", 14)

	buf, err := f.WriteToBuffer()
	if err != nil {
		s.logger.Error("生成 Excel 失败", zap.Error(err))
		return nil, "", apperrors.System(err, "生成 Excel")
	}

	filename := fmt.Sprintf("settlement_%s.xlsx", record.SettlementID)
	return buf, filename, nil
}
