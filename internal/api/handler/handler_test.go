package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"stagekeeper/internal/dto"
	"stagekeeper/internal/model"
	"stagekeeper/internal/service"
	apperrors "stagekeeper/pkg/errors"
	"stagekeeper/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ═══════════════════════════════════════════════════════════
// Mock Services
// ═══════════════════════════════════════════════════════════

// ── Mock StageService ──

type mockStageService struct {
	listResult     []dto.StageResponse
	listErr        error
	lastSync       bool
	getResult      *dto.StageResponse
	getErr         error
	syncResult     *dto.TransitionResponse
	syncErr        error
	overrideResult *dto.StageResponse
	overrideErr    error
	lastActor      string
	lastOverride   *dto.OverrideStatusRequest
}

func (m *mockStageService) ListProjectStages(_ context.Context, _ string, sync bool) ([]dto.StageResponse, error) {
	m.lastSync = sync
	return m.listResult, m.listErr
}
func (m *mockStageService) GetStage(_ context.Context, _, _ string, sync bool) (*dto.StageResponse, error) {
	m.lastSync = sync
	return m.getResult, m.getErr
}
func (m *mockStageService) SyncStage(_ context.Context, _, _ string) (*dto.TransitionResponse, error) {
	return m.syncResult, m.syncErr
}
func (m *mockStageService) OverrideStatus(_ context.Context, _, _ string, req *dto.OverrideStatusRequest, actorID string) (*dto.StageResponse, error) {
	m.lastOverride = req
	m.lastActor = actorID
	return m.overrideResult, m.overrideErr
}

// ── Mock SettlementService ──

type mockSettlementService struct {
	settleResult *service.SettlementResult
	settleErr    error
	recovered    int
	recoverErr   error
	lastMaxAge   time.Duration
	unlockErr    error
	lastUnlockBy string
	detail       *dto.SettlementDetailResponse
	detailErr    error
}

func (m *mockSettlementService) SettleStage(_ context.Context, _, _ string) (*service.SettlementResult, error) {
	return m.settleResult, m.settleErr
}
func (m *mockSettlementService) RecoverStale(_ context.Context, maxAge time.Duration) (int, error) {
	m.lastMaxAge = maxAge
	return m.recovered, m.recoverErr
}
func (m *mockSettlementService) ForceUnlock(_ context.Context, _, _, actorID string) error {
	m.lastUnlockBy = actorID
	return m.unlockErr
}
func (m *mockSettlementService) GetSettlement(_ context.Context, _ string) (*dto.SettlementDetailResponse, error) {
	return m.detail, m.detailErr
}

// ── Mock StageOpsService ──

type opsCall struct {
	op        string
	sessionID string
	projectID string
	stageID   string
}

type mockStageOpsService struct {
	err   error
	calls []opsCall
}

func (m *mockStageOpsService) record(op, sessionID, projectID, stageID string) (*dto.WriteAccepted, error) {
	m.calls = append(m.calls, opsCall{op, sessionID, projectID, stageID})
	if m.err != nil {
		return nil, m.err
	}
	return &dto.WriteAccepted{ID: "w-1", StageID: stageID, Status: "voting"}, nil
}

func (m *mockStageOpsService) SubmitDeliverable(_ context.Context, sid, pid, stid string, _ *dto.SubmitDeliverableRequest) (*dto.WriteAccepted, error) {
	return m.record(service.OpSubmitDeliverable, sid, pid, stid)
}
func (m *mockStageOpsService) CastRankingVote(_ context.Context, sid, pid, stid string, _ *dto.RankingVoteRequest) (*dto.WriteAccepted, error) {
	return m.record(service.OpRankingVote, sid, pid, stid)
}
func (m *mockStageOpsService) SubmitCommentRanking(_ context.Context, sid, pid, stid string, _ *dto.CommentRankingRequest) (*dto.WriteAccepted, error) {
	return m.record(service.OpCommentRanking, sid, pid, stid)
}
func (m *mockStageOpsService) CastTeacherVote(_ context.Context, sid, pid, stid string, _ *dto.TeacherVoteRequest) (*dto.WriteAccepted, error) {
	return m.record(service.OpTeacherVote, sid, pid, stid)
}
func (m *mockStageOpsService) CastProposalVote(_ context.Context, sid, pid, stid string, _ *dto.ProposalVoteRequest) (*dto.WriteAccepted, error) {
	return m.record(service.OpProposalVote, sid, pid, stid)
}

// ── Mock ExportService ──

type mockExportService struct {
	buf      *bytes.Buffer
	filename string
	err      error
}

func (m *mockExportService) ExportSettlement(_ context.Context, _ string) (*bytes.Buffer, string, error) {
	return m.buf, m.filename, m.err
}

// ── Mock SessionService ──

type mockSessionService struct {
	user       *model.User
	resolveErr error
	revokeErr  error
	revoked    []string
}

func (m *mockSessionService) ResolveSession(_ context.Context, _ string) (*model.User, error) {
	return m.user, m.resolveErr
}
func (m *mockSessionService) RevokeSession(_ context.Context, sessionID string) error {
	m.revoked = append(m.revoked, sessionID)
	return m.revokeErr
}

// ═══════════════════════════════════════════════════════════
// Test Helpers
// ═══════════════════════════════════════════════════════════

// withAuth 模拟 JWTAuth 注入的上下文
func withAuth(userID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("session_id", "test-session")
		c.Set("user_id", userID)
		c.Set("role", role)
		c.Next()
	}
}

// withSession 模拟 SessionToken 注入的上下文
func withSession(sessionID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("session_id", sessionID)
		c.Next()
	}
}

func jsonBody(v interface{}) io.Reader {
	b, _ := json.Marshal(v)
	return bytes.NewReader(b)
}

func parseResponse(w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp
}

func serve(r *gin.Engine, method, path string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ═══════════════════════════════════════════════════════════
// StageHandler Tests
// ═══════════════════════════════════════════════════════════

func TestStageHandler_ListStages_DefaultSync(t *testing.T) {
	mock := &mockStageService{listResult: []dto.StageResponse{{ID: "s1", Status: "voting"}}}
	h := NewStageHandler(mock)

	r := gin.New()
	r.GET("/projects/:project_id/stages", h.ListStages)
	w := serve(r, "GET", "/projects/p1/stages", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("期望 200，实际: %d", w.Code)
	}
	if !mock.lastSync {
		t.Error("未指定 sync 时应默认对账")
	}
}

func TestStageHandler_ListStages_SyncDisabled(t *testing.T) {
	mock := &mockStageService{}
	h := NewStageHandler(mock)

	r := gin.New()
	r.GET("/projects/:project_id/stages", h.ListStages)
	w := serve(r, "GET", "/projects/p1/stages?sync=false", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("期望 200，实际: %d", w.Code)
	}
	if mock.lastSync {
		t.Error("sync=false 时不应对账")
	}
}

func TestStageHandler_ListStages_BadQuery(t *testing.T) {
	h := NewStageHandler(&mockStageService{})

	r := gin.New()
	r.GET("/projects/:project_id/stages", h.ListStages)
	w := serve(r, "GET", "/projects/p1/stages?sync=maybe", nil)

	if w.Code != http.StatusBadRequest {
		t.Errorf("期望 400，实际: %d", w.Code)
	}
}

func TestStageHandler_GetStage_NotFound(t *testing.T) {
	h := NewStageHandler(&mockStageService{
		getErr: apperrors.New(apperrors.CodeStageNotFound, "阶段不存在"),
	})

	r := gin.New()
	r.GET("/projects/:project_id/stages/:stage_id", h.GetStage)
	w := serve(r, "GET", "/projects/p1/stages/missing", nil)

	if w.Code != http.StatusNotFound {
		t.Fatalf("期望 404，实际: %d", w.Code)
	}
	resp := parseResponse(w)
	if resp.ErrorCode != string(apperrors.CodeStageNotFound) {
		t.Errorf("期望 STAGE_NOT_FOUND，实际: %s", resp.ErrorCode)
	}
}

func TestStageHandler_SyncStage(t *testing.T) {
	h := NewStageHandler(&mockStageService{
		syncResult: &dto.TransitionResponse{StageID: "s1", Updated: true, OldStatus: "active", NewStatus: "voting"},
	})

	r := gin.New()
	r.POST("/projects/:project_id/stages/:stage_id/sync", h.SyncStage)
	w := serve(r, "POST", "/projects/p1/stages/s1/sync", nil)

	if w.Code != http.StatusOK {
		t.Errorf("期望 200，实际: %d", w.Code)
	}
}

func TestStageHandler_OverrideStatus_Success(t *testing.T) {
	mock := &mockStageService{overrideResult: &dto.StageResponse{ID: "s1", Status: "voting"}}
	h := NewStageHandler(mock)

	r := gin.New()
	r.PUT("/projects/:project_id/stages/:stage_id/status", withAuth("admin-1", "admin"), h.OverrideStatus)
	w := serve(r, "PUT", "/projects/p1/stages/s1/status", jsonBody(dto.OverrideStatusRequest{Status: "voting", Reason: "提前投票"}))

	if w.Code != http.StatusOK {
		t.Fatalf("期望 200，实际: %d, body: %s", w.Code, w.Body.String())
	}
	if mock.lastActor != "admin-1" {
		t.Errorf("期望操作人 admin-1，实际: %s", mock.lastActor)
	}
	if mock.lastOverride == nil || mock.lastOverride.Status != "voting" {
		t.Errorf("请求体未正确传递: %+v", mock.lastOverride)
	}
}

func TestStageHandler_OverrideStatus_InvalidBody(t *testing.T) {
	h := NewStageHandler(&mockStageService{})

	r := gin.New()
	r.PUT("/projects/:project_id/stages/:stage_id/status", withAuth("admin-1", "admin"), h.OverrideStatus)
	w := serve(r, "PUT", "/projects/p1/stages/s1/status", jsonBody(map[string]string{"status": "pending"}))

	if w.Code != http.StatusBadRequest {
		t.Errorf("期望 400，实际: %d", w.Code)
	}
}

func TestStageHandler_OverrideStatus_Unauthenticated(t *testing.T) {
	h := NewStageHandler(&mockStageService{})

	r := gin.New()
	r.PUT("/projects/:project_id/stages/:stage_id/status", h.OverrideStatus)
	w := serve(r, "PUT", "/projects/p1/stages/s1/status", jsonBody(dto.OverrideStatusRequest{Status: "voting"}))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("期望 401，实际: %d", w.Code)
	}
}

func TestStageHandler_OverrideStatus_Conflict(t *testing.T) {
	h := NewStageHandler(&mockStageService{
		overrideErr: apperrors.New(apperrors.CodeStageStatusChanged, "阶段状态已被并发修改"),
	})

	r := gin.New()
	r.PUT("/projects/:project_id/stages/:stage_id/status", withAuth("admin-1", "admin"), h.OverrideStatus)
	w := serve(r, "PUT", "/projects/p1/stages/s1/status", jsonBody(dto.OverrideStatusRequest{Status: "archived"}))

	if w.Code != http.StatusConflict {
		t.Errorf("期望 409，实际: %d", w.Code)
	}
}

// ═══════════════════════════════════════════════════════════
// SettlementHandler Tests
// ═══════════════════════════════════════════════════════════

func TestSettlementHandler_SettleStage_Success(t *testing.T) {
	h := NewSettlementHandler(&mockSettlementService{
		settleResult: &service.SettlementResult{SettlementID: "settle-1", StageID: "s1", TotalDistributed: 1000, ParticipantCount: 3},
	})

	r := gin.New()
	r.POST("/projects/:project_id/stages/:stage_id/settle", h.SettleStage)
	w := serve(r, "POST", "/projects/p1/stages/s1/settle", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("期望 200，实际: %d", w.Code)
	}
	var body struct {
		Data dto.SettlementResponse `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Data.SettlementID != "settle-1" || body.Data.ParticipantCount != 3 {
		t.Errorf("结算结果不符: %+v", body.Data)
	}
	if body.Data.Status != string(model.SettlementStatusActive) {
		t.Errorf("期望状态 active，实际: %s", body.Data.Status)
	}
}

func TestSettlementHandler_SettleStage_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   int
	}{
		{"进行中", apperrors.New(apperrors.CodeSettlementInProgress, "结算进行中"), http.StatusConflict, 14008},
		{"已结算", apperrors.New(apperrors.CodeStageSettled, "阶段已结算"), http.StatusConflict, 14004},
		{"超出奖池", apperrors.New(apperrors.CodeDistributionExceeds, "分配超出奖池"), http.StatusUnprocessableEntity, 14010},
		{"未知错误", io.ErrUnexpectedEOF, http.StatusInternalServerError, 50000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSettlementHandler(&mockSettlementService{settleErr: tt.err})

			r := gin.New()
			r.POST("/projects/:project_id/stages/:stage_id/settle", h.SettleStage)
			w := serve(r, "POST", "/projects/p1/stages/s1/settle", nil)

			if w.Code != tt.wantStatus {
				t.Errorf("期望 %d，实际: %d", tt.wantStatus, w.Code)
			}
			if resp := parseResponse(w); resp.Code != tt.wantCode {
				t.Errorf("期望业务码 %d，实际: %d", tt.wantCode, resp.Code)
			}
		})
	}
}

func TestSettlementHandler_UnlockStage(t *testing.T) {
	mock := &mockSettlementService{}
	h := NewSettlementHandler(mock)

	r := gin.New()
	r.POST("/projects/:project_id/stages/:stage_id/unlock", withAuth("admin-1", "admin"), h.UnlockStage)
	w := serve(r, "POST", "/projects/p1/stages/s1/unlock", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("期望 200，实际: %d", w.Code)
	}
	if mock.lastUnlockBy != "admin-1" {
		t.Errorf("期望操作人 admin-1，实际: %s", mock.lastUnlockBy)
	}
}

func TestSettlementHandler_RecoverStale(t *testing.T) {
	mock := &mockSettlementService{recovered: 2}
	h := NewSettlementHandler(mock)

	r := gin.New()
	r.POST("/settlements/recover", h.RecoverStale)

	w := serve(r, "POST", "/settlements/recover?max_age=10m", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("期望 200，实际: %d", w.Code)
	}
	if mock.lastMaxAge != 10*time.Minute {
		t.Errorf("期望 10m，实际: %v", mock.lastMaxAge)
	}

	w = serve(r, "POST", "/settlements/recover", nil)
	if w.Code != http.StatusOK || mock.lastMaxAge != defaultRecoverAge {
		t.Errorf("默认时长应为 %v，实际: %v", defaultRecoverAge, mock.lastMaxAge)
	}

	w = serve(r, "POST", "/settlements/recover?max_age=-1h", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("期望 400，实际: %d", w.Code)
	}
}

func TestSettlementHandler_GetSettlement_NotFound(t *testing.T) {
	h := NewSettlementHandler(&mockSettlementService{
		detailErr: apperrors.New(apperrors.CodeSettlementNotFound, "结算记录不存在"),
	})

	r := gin.New()
	r.GET("/settlements/:id", h.GetSettlement)
	w := serve(r, "GET", "/settlements/nope", nil)

	if w.Code != http.StatusNotFound {
		t.Errorf("期望 404，实际: %d", w.Code)
	}
}

// ═══════════════════════════════════════════════════════════
// StageOpsHandler Tests
// ═══════════════════════════════════════════════════════════

func opsRouter(h *StageOpsHandler, sessionID string) *gin.Engine {
	r := gin.New()
	g := r.Group("/projects/:project_id/stages/:stage_id")
	if sessionID != "" {
		g.Use(withSession(sessionID))
	}
	g.POST("/submissions", h.SubmitDeliverable)
	g.POST("/ranking-votes", h.CastRankingVote)
	g.POST("/comment-rankings", h.SubmitCommentRanking)
	g.POST("/teacher-votes", h.CastTeacherVote)
	g.POST("/proposal-votes", h.CastProposalVote)
	return r
}

func TestStageOpsHandler_AllOperations(t *testing.T) {
	tests := []struct {
		path string
		body interface{}
		op   string
	}{
		{"submissions", dto.SubmitDeliverableRequest{GroupID: "g1", Content: "成果"}, service.OpSubmitDeliverable},
		{"ranking-votes", dto.RankingVoteRequest{Rankings: []string{"g1", "g2"}}, service.OpRankingVote},
		{"comment-rankings", dto.CommentRankingRequest{RankedAuthors: []string{"a@x.edu"}}, service.OpCommentRanking},
		{"teacher-votes", dto.TeacherVoteRequest{GroupID: "g1", Score: 90}, service.OpTeacherVote},
		{"proposal-votes", dto.ProposalVoteRequest{ProposalID: "prop-1", Approve: true}, service.OpProposalVote},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			mock := &mockStageOpsService{}
			r := opsRouter(NewStageOpsHandler(mock), "sess-1")

			w := serve(r, "POST", "/projects/p1/stages/s1/"+tt.path, jsonBody(tt.body))
			if w.Code != http.StatusCreated {
				t.Fatalf("期望 201，实际: %d, body: %s", w.Code, w.Body.String())
			}
			if len(mock.calls) != 1 {
				t.Fatalf("期望调用 1 次，实际: %d", len(mock.calls))
			}
			got := mock.calls[0]
			want := opsCall{tt.op, "sess-1", "p1", "s1"}
			if got != want {
				t.Errorf("期望 %+v，实际: %+v", want, got)
			}
		})
	}
}

func TestStageOpsHandler_MissingSession(t *testing.T) {
	mock := &mockStageOpsService{}
	r := opsRouter(NewStageOpsHandler(mock), "")

	w := serve(r, "POST", "/projects/p1/stages/s1/ranking-votes", jsonBody(dto.RankingVoteRequest{Rankings: []string{"g1"}}))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("期望 401，实际: %d", w.Code)
	}
	if resp := parseResponse(w); resp.ErrorCode != string(apperrors.CodeSessionInvalid) {
		t.Errorf("期望 SESSION_INVALID，实际: %s", resp.ErrorCode)
	}
	if len(mock.calls) != 0 {
		t.Error("缺少会话时不应调用服务")
	}
}

func TestStageOpsHandler_InvalidBody(t *testing.T) {
	mock := &mockStageOpsService{}
	r := opsRouter(NewStageOpsHandler(mock), "sess-1")

	w := serve(r, "POST", "/projects/p1/stages/s1/comment-rankings", jsonBody(dto.CommentRankingRequest{RankedAuthors: []string{"not-an-email"}}))
	if w.Code != http.StatusBadRequest {
		t.Errorf("期望 400，实际: %d", w.Code)
	}
	if len(mock.calls) != 0 {
		t.Error("参数无效时不应调用服务")
	}
}

func TestStageOpsHandler_StatusRejected(t *testing.T) {
	mock := &mockStageOpsService{
		err: apperrors.New(apperrors.CodeInvalidStageStatus, "操作要求阶段处于 voting，当前为 active"),
	}
	r := opsRouter(NewStageOpsHandler(mock), "sess-1")

	w := serve(r, "POST", "/projects/p1/stages/s1/ranking-votes", jsonBody(dto.RankingVoteRequest{Rankings: []string{"g1"}}))
	if w.Code != http.StatusConflict {
		t.Fatalf("期望 409，实际: %d", w.Code)
	}
	resp := parseResponse(w)
	if resp.ErrorCode != string(apperrors.CodeInvalidStageStatus) {
		t.Errorf("期望 INVALID_STAGE_STATUS，实际: %s", resp.ErrorCode)
	}
	if !strings.Contains(resp.Message, "voting") {
		t.Errorf("拒绝信息应包含目标状态，实际: %s", resp.Message)
	}
}

// ═══════════════════════════════════════════════════════════
// ExportHandler Tests
// ═══════════════════════════════════════════════════════════

func TestExportHandler_ExportSettlement_Success(t *testing.T) {
	h := NewExportHandler(&mockExportService{
		buf:      bytes.NewBufferString("xlsx-bytes"),
		filename: "settlement_settle-1.xlsx",
	})

	r := gin.New()
	r.GET("/settlements/:id/export", h.ExportSettlement)
	w := serve(r, "GET", "/settlements/settle-1/export", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("期望 200，实际: %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != xlsxContentType {
		t.Errorf("Content-Type 不符: %s", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "settlement_settle-1.xlsx") {
		t.Errorf("Content-Disposition 不符: %s", cd)
	}
	if w.Body.String() != "xlsx-bytes" {
		t.Errorf("响应内容不符: %s", w.Body.String())
	}
}

func TestExportHandler_ExportSettlement_NotFound(t *testing.T) {
	h := NewExportHandler(&mockExportService{
		err: apperrors.New(apperrors.CodeSettlementNotFound, "结算记录不存在"),
	})

	r := gin.New()
	r.GET("/settlements/:id/export", h.ExportSettlement)
	w := serve(r, "GET", "/settlements/nope/export", nil)

	if w.Code != http.StatusNotFound {
		t.Errorf("期望 404，实际: %d", w.Code)
	}
}

// ═══════════════════════════════════════════════════════════
// SessionHandler Tests
// ═══════════════════════════════════════════════════════════

func TestSessionHandler_Me(t *testing.T) {
	h := NewSessionHandler(&mockSessionService{
		user: &model.User{UserID: "u1", Name: "张三", Email: "zhang@x.edu", Role: model.RoleStudent},
	})

	r := gin.New()
	r.GET("/session/me", withSession("sess-1"), h.Me)
	w := serve(r, "GET", "/session/me", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("期望 200，实际: %d", w.Code)
	}
	var body struct {
		Data dto.UserBrief `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Data.ID != "u1" || body.Data.Role != model.RoleStudent {
		t.Errorf("用户信息不符: %+v", body.Data)
	}
}

func TestSessionHandler_Me_Invalid(t *testing.T) {
	h := NewSessionHandler(&mockSessionService{
		resolveErr: apperrors.New(apperrors.CodeSessionInvalid, "会话无效"),
	})

	r := gin.New()
	r.GET("/session/me", withSession("sess-1"), h.Me)
	w := serve(r, "GET", "/session/me", nil)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("期望 401，实际: %d", w.Code)
	}
}

func TestSessionHandler_Revoke(t *testing.T) {
	mock := &mockSessionService{}
	h := NewSessionHandler(mock)

	r := gin.New()
	r.POST("/session/revoke", withSession("sess-1"), h.Revoke)
	w := serve(r, "POST", "/session/revoke", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("期望 200，实际: %d", w.Code)
	}
	if len(mock.revoked) != 1 || mock.revoked[0] != "sess-1" {
		t.Errorf("期望注销 sess-1，实际: %v", mock.revoked)
	}
}
