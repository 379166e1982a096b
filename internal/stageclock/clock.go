// Package stageclock 阶段状态时钟：由阶段记录与当前时间推导规范状态。
//
// 这是全系统唯一的状态推导实现。服务端写操作校验、漂移同步以及面向客户端的
// 只读展示都必须调用同一个 Derive，保证任意路径对同一 (stage, now) 得到完全
// 相同的结果，客户端展示的状态无法被伪造来解锁特权操作。
//
// 本包为纯函数：不访问数据库、不读取系统时钟、不写日志。
package stageclock

import (
	"math"
	"strconv"
	"strings"
	"time"

	"stagekeeper/internal/model"
)

// Warning 数据质量告警（非致命）
type Warning string

const (
	WarnNone         Warning = ""
	WarnMissingDates Warning = "missing_or_invalid_dates"
)

// Result 推导结果
type Result struct {
	Status  model.StageStatus
	Warning Warning
}

// Derive 推导阶段的规范状态
//
// 规则（按顺序）：
//  1. 已存 completed / archived → 原样返回（粘性终态）
//  2. 已存 settling → settling（结算锁，不由时间推导）
//  3. 已存 voting（人工提前投票，尚未开始结算）→ voting
//  4. now ≥ consensusDeadline → completed
//  5. now ≥ endDate → voting
//  6. now ≥ startDate → active
//  7. 否则 pending
//
// startDate / endDate 缺失时返回 pending 并附带 WarnMissingDates。
func Derive(s *model.Stage, now time.Time) Result {
	if s == nil {
		return Result{Status: model.StageStatusPending, Warning: WarnMissingDates}
	}

	switch s.Status {
	case model.StageStatusCompleted, model.StageStatusArchived:
		return Result{Status: s.Status}
	case model.StageStatusSettling:
		return Result{Status: model.StageStatusSettling}
	case model.StageStatusVoting:
		return Result{Status: model.StageStatusVoting}
	}

	start, okStart := Normalize(s.StartDate)
	end, okEnd := Normalize(s.EndDate)
	if !okStart || !okEnd {
		return Result{Status: model.StageStatusPending, Warning: WarnMissingDates}
	}

	nowMs := now.UnixMilli()
	if deadline, ok := Normalize(s.ConsensusDeadline); ok && nowMs >= deadline.UnixMilli() {
		return Result{Status: model.StageStatusCompleted}
	}
	if nowMs >= end.UnixMilli() {
		return Result{Status: model.StageStatusVoting}
	}
	if nowMs >= start.UnixMilli() {
		return Result{Status: model.StageStatusActive}
	}
	return Result{Status: model.StageStatusPending}
}

// Status Derive 的便捷形式，仅返回状态
func Status(s *model.Stage, now time.Time) model.StageStatus {
	return Derive(s, now).Status
}

// SettlementDue 阶段处于投票中且已过共识截止时间，应触发结算
func SettlementDue(s *model.Stage, now time.Time) bool {
	if s == nil || s.Status != model.StageStatusVoting {
		return false
	}
	deadline, ok := Normalize(s.ConsensusDeadline)
	return ok && now.UnixMilli() >= deadline.UnixMilli()
}

// isoLayouts Normalize 接受的字符串格式
var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalize 将时间戳统一为 time.Time（毫秒精度）
//
// 接受 time.Time / *time.Time、epoch 毫秒（整数、浮点或数字字符串）以及
// ISO-8601 字符串。零值、nil、NaN 与无法解析的值返回 ok=false。
func Normalize(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return t.Truncate(time.Millisecond), true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return Normalize(*t)
	case int64:
		return fromMillis(t)
	case int:
		return fromMillis(int64(t))
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return time.Time{}, false
		}
		return fromMillis(int64(t))
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromMillis(ms)
		}
		for _, layout := range isoLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.Truncate(time.Millisecond), true
			}
		}
		return time.Time{}, false
	case *string:
		if t == nil {
			return time.Time{}, false
		}
		return Normalize(*t)
	default:
		return time.Time{}, false
	}
}

func fromMillis(ms int64) (time.Time, bool) {
	if ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
