package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"stagekeeper/internal/model"
	"stagekeeper/internal/repository"
	apperrors "stagekeeper/pkg/errors"
)

// ── Mock StageRepository ──

// mockStageRepo 内存实现；UpdateStatus 在互斥锁内比较并更新，模拟数据库条件更新
type mockStageRepo struct {
	mu     sync.Mutex
	stages map[string]*model.Stage

	// beforeCAS 在比较之前调用（持锁），用于模拟外部并发改写
	beforeCAS func(s *model.Stage, expected, to model.StageStatus)
	updateErr error
	casCalls  int
}

func newMockStageRepo() *mockStageRepo {
	return &mockStageRepo{stages: make(map[string]*model.Stage)}
}

func (m *mockStageRepo) put(s *model.Stage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.stages[s.StageID] = &cp
}

func (m *mockStageRepo) status(stageID string) model.StageStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stages[stageID]; ok {
		return s.Status
	}
	return ""
}

func (m *mockStageRepo) Create(_ context.Context, stage *model.Stage) error {
	if stage.StageID == "" {
		stage.StageID = "stage-" + stage.Name
	}
	m.put(stage)
	return nil
}

func (m *mockStageRepo) GetByID(_ context.Context, projectID, stageID string) (*model.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stages[stageID]
	if !ok || s.ProjectID != projectID {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockStageRepo) ListByProject(_ context.Context, projectID string) ([]model.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Stage
	for _, s := range m.stages {
		if s.ProjectID == projectID {
			result = append(result, *s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StageID < result[j].StageID })
	return result, nil
}

func (m *mockStageRepo) ListProjectsWithOpenStages(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var ids []string
	for _, s := range m.stages {
		if s.Status.IsTerminal() || seen[s.ProjectID] {
			continue
		}
		seen[s.ProjectID] = true
		ids = append(ids, s.ProjectID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *mockStageRepo) ListStaleSettling(_ context.Context, before time.Time) ([]model.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Stage
	for _, s := range m.stages {
		if s.Status != model.StageStatusSettling {
			continue
		}
		if s.SettlementStartedAt == nil || s.SettlementStartedAt.Before(before) {
			result = append(result, *s)
		}
	}
	return result, nil
}

func (m *mockStageRepo) UpdateStatus(_ context.Context, projectID, stageID string, expected model.StageStatus, upd repository.StatusUpdate) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.casCalls++
	if m.updateErr != nil {
		return 0, m.updateErr
	}
	s, ok := m.stages[stageID]
	if !ok || s.ProjectID != projectID {
		return 0, nil
	}
	if m.beforeCAS != nil {
		m.beforeCAS(s, expected, upd.Status)
	}
	if s.Status != expected {
		return 0, nil
	}
	upd.Apply(s)
	return 1, nil
}

// ── Mock GroupRepository ──

type mockGroupRepo struct {
	groups  map[string]*model.Group
	listErr error
}

func newMockGroupRepo() *mockGroupRepo {
	return &mockGroupRepo{groups: make(map[string]*model.Group)}
}

func (m *mockGroupRepo) Create(_ context.Context, group *model.Group) error {
	if group.GroupID == "" {
		group.GroupID = "group-" + group.Name
	}
	m.groups[group.GroupID] = group
	return nil
}

func (m *mockGroupRepo) ListActiveByProject(_ context.Context, projectID string) ([]model.Group, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var result []model.Group
	for _, g := range m.groups {
		if g.ProjectID == projectID && g.Status == "active" {
			result = append(result, *g)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].GroupID < result[j].GroupID })
	return result, nil
}

func (m *mockGroupRepo) GetActiveByID(_ context.Context, projectID, groupID string) (*model.Group, error) {
	g, ok := m.groups[groupID]
	if !ok || g.ProjectID != projectID || g.Status != "active" {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *mockGroupRepo) FindByMember(ctx context.Context, projectID, email string) (*model.Group, error) {
	groups, _ := m.ListActiveByProject(ctx, projectID)
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	for i := range groups {
		if groups[i].Members.Contains(email) {
			return &groups[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

// ── Mock SubmissionRepository ──

type mockSubmissionRepo struct {
	mu      sync.Mutex
	subs    map[string]*model.Submission
	markErr error
}

func newMockSubmissionRepo() *mockSubmissionRepo {
	return &mockSubmissionRepo{subs: make(map[string]*model.Submission)}
}

func (m *mockSubmissionRepo) Create(_ context.Context, sub *model.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.SubmissionID == "" {
		sub.SubmissionID = fmt.Sprintf("sub-%d", len(m.subs)+1)
	}
	cp := *sub
	m.subs[sub.SubmissionID] = &cp
	return nil
}

func (m *mockSubmissionRepo) ListByStage(_ context.Context, stageID string) ([]model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Submission
	for _, s := range m.subs {
		if s.StageID == stageID {
			result = append(result, *s)
		}
	}
	return result, nil
}

func (m *mockSubmissionRepo) MarkAutoApproved(_ context.Context, ids []string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return 0, m.markErr
	}
	var n int64
	for _, id := range ids {
		s, ok := m.subs[id]
		if !ok || s.Status == "approved" {
			continue
		}
		s.Status = "approved"
		s.AutoApproved = true
		t := at
		s.ApprovedAt = &t
		n++
	}
	return n, nil
}

// ── Mock VoteRepository ──

// mockVoteRepo 模拟 ranking_votes 与 comment_rankings 的 UNIQUE(stage_id, voter_email)
type mockVoteRepo struct {
	mu        sync.Mutex
	ranking   []model.RankingVote
	comments  []model.CommentRanking
	teacher   []model.TeacherVote
	proposals []model.ProposalVote
}

func newMockVoteRepo() *mockVoteRepo {
	return &mockVoteRepo{}
}

func (m *mockVoteRepo) CreateRankingVote(_ context.Context, v *model.RankingVote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.ranking {
		if existing.StageID == v.StageID && existing.VoterEmail == v.VoterEmail {
			return gorm.ErrDuplicatedKey
		}
	}
	v.VoteID = fmt.Sprintf("rv-%d", len(m.ranking)+1)
	m.ranking = append(m.ranking, *v)
	return nil
}

func (m *mockVoteRepo) CreateCommentRanking(_ context.Context, v *model.CommentRanking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.comments {
		if existing.StageID == v.StageID && existing.VoterEmail == v.VoterEmail {
			return gorm.ErrDuplicatedKey
		}
	}
	v.RankingID = fmt.Sprintf("cr-%d", len(m.comments)+1)
	m.comments = append(m.comments, *v)
	return nil
}

func (m *mockVoteRepo) CreateTeacherVote(_ context.Context, v *model.TeacherVote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.VoteID = fmt.Sprintf("tv-%d", len(m.teacher)+1)
	m.teacher = append(m.teacher, *v)
	return nil
}

func (m *mockVoteRepo) CreateProposalVote(_ context.Context, v *model.ProposalVote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.VoteID = fmt.Sprintf("pv-%d", len(m.proposals)+1)
	m.proposals = append(m.proposals, *v)
	return nil
}

func (m *mockVoteRepo) ListRankingVotes(_ context.Context, stageID string) ([]model.RankingVote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.RankingVote
	for _, v := range m.ranking {
		if v.StageID == stageID {
			result = append(result, v)
		}
	}
	return result, nil
}

func (m *mockVoteRepo) ListCommentRankings(_ context.Context, stageID string) ([]model.CommentRanking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.CommentRanking
	for _, v := range m.comments {
		if v.StageID == stageID {
			result = append(result, v)
		}
	}
	return result, nil
}

// ── Mock SettlementRepository ──

// mockSettlementRepo 模拟 settlement_records 的单 active 部分唯一索引
type mockSettlementRepo struct {
	mu      sync.Mutex
	records map[string]*model.SettlementRecord
	order   []string
	txs     []model.Transaction
	seq     int
}

func newMockSettlementRepo() *mockSettlementRepo {
	return &mockSettlementRepo{records: make(map[string]*model.SettlementRecord)}
}

func (m *mockSettlementRepo) CreateRecord(_ context.Context, rec *model.SettlementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	rec.SettlementID = fmt.Sprintf("settle-%d", m.seq)
	cp := *rec
	m.records[rec.SettlementID] = &cp
	m.order = append(m.order, rec.SettlementID)
	return nil
}

func (m *mockSettlementRepo) UpdateRecord(_ context.Context, rec *model.SettlementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.records[rec.SettlementID]; !ok || cur.Status != model.SettlementStatusPending {
		return apperrors.ErrOptimisticLock
	}
	if rec.Status == model.SettlementStatusActive {
		for id, r := range m.records {
			if id != rec.SettlementID && r.StageID == rec.StageID && r.Status == model.SettlementStatusActive {
				return gorm.ErrDuplicatedKey
			}
		}
	}
	cp := *rec
	m.records[rec.SettlementID] = &cp
	return nil
}

func (m *mockSettlementRepo) GetRecord(_ context.Context, id string) (*model.SettlementRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockSettlementRepo) GetActiveByStage(_ context.Context, stageID string) (*model.SettlementRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.StageID == stageID && r.Status == model.SettlementStatusActive {
			cp := *r
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockSettlementRepo) GetLatestByStage(_ context.Context, stageID string) (*model.SettlementRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		if r := m.records[m.order[i]]; r.StageID == stageID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockSettlementRepo) FailPendingByStage(_ context.Context, stageID, code, reason string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.records {
		if r.StageID == stageID && r.Status == model.SettlementStatusPending {
			r.Status = model.SettlementStatusFailed
			r.FailureCode = code
			r.FailureReason = reason
			t := at
			r.CompletedTime = &t
			n++
		}
	}
	return n, nil
}

func (m *mockSettlementRepo) CreateTransactions(_ context.Context, txs []model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs = append(m.txs, txs...)
	return nil
}

func (m *mockSettlementRepo) ListTransactions(_ context.Context, settlementID string) ([]model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Transaction
	for _, t := range m.txs {
		if t.SettlementID == settlementID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (m *mockSettlementRepo) countByStatus(stageID string, status model.SettlementStatus) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.StageID == stageID && r.Status == status {
			n++
		}
	}
	return n
}

func (m *mockSettlementRepo) txCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txs)
}

// ── Mock NotificationRepository ──

type mockNotificationRepo struct {
	mu    sync.Mutex
	items []model.Notification
}

func newMockNotificationRepo() *mockNotificationRepo {
	return &mockNotificationRepo{}
}

func (m *mockNotificationRepo) Create(_ context.Context, n *model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.NotificationID = fmt.Sprintf("notif-%d", len(m.items)+1)
	m.items = append(m.items, *n)
	return nil
}

func (m *mockNotificationRepo) ListByStage(_ context.Context, stageID string) ([]model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Notification
	for _, n := range m.items {
		if n.StageID == stageID {
			result = append(result, n)
		}
	}
	return result, nil
}

// ── Mock AuditRepository ──

type mockAuditRepo struct {
	mu      sync.Mutex
	entries []model.StageAuditLog
}

func newMockAuditRepo() *mockAuditRepo {
	return &mockAuditRepo{}
}

func (m *mockAuditRepo) Create(_ context.Context, log *model.StageAuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *log)
	return nil
}

func (m *mockAuditRepo) ListByStage(_ context.Context, stageID string, limit int) ([]model.StageAuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.StageAuditLog
	for _, e := range m.entries {
		if e.StageID == stageID {
			result = append(result, e)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *mockAuditRepo) count(event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.Event == event {
			n++
		}
	}
	return n
}

// ── Mock UserRepository ──

type mockUserRepo struct {
	users map[string]*model.User
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*model.User)}
}

func (m *mockUserRepo) Create(_ context.Context, user *model.User) error {
	if user.UserID == "" {
		user.UserID = "user-" + user.Email
	}
	m.users[user.UserID] = user
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

// ── 协作方 mock ──

// recordingNotifier 记录每次通知，格式 "from->to" 与 "missed:groupID"；err 非 nil 时记录后返回该错误
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (n *recordingNotifier) NotifyStageTransition(_ context.Context, _, _ string, from, to model.StageStatus) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, string(from)+"->"+string(to))
	return n.err
}

func (n *recordingNotifier) NotifyMissedDeadline(_ context.Context, _, _, groupID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, "missed:"+groupID)
	return n.err
}

func (n *recordingNotifier) snapshot() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

// fixedScorer 返回固定分配
type fixedScorer struct {
	dist map[string]float64
	err  error
}

func (f *fixedScorer) ComputeDistribution(_ []model.RankingVote, _ []model.CommentRanking, _ float64) (map[string]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]float64, len(f.dist))
	for k, v := range f.dist {
		out[k] = v
	}
	return out, nil
}

// blockingScorer 进入计分后阻塞，直到 release 关闭
type blockingScorer struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	dist    map[string]float64
}

func newBlockingScorer(dist map[string]float64) *blockingScorer {
	return &blockingScorer{entered: make(chan struct{}), release: make(chan struct{}), dist: dist}
}

func (b *blockingScorer) ComputeDistribution(_ []model.RankingVote, _ []model.CommentRanking, _ float64) (map[string]float64, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.dist, nil
}

// mockPublisher 记录广播
type mockPublisher struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (p *mockPublisher) Publish(_ context.Context, _ string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.payloads = append(p.payloads, payload)
	return nil
}

// mockBlacklist 会话吊销名单
type mockBlacklist struct {
	revoked map[string]bool
	err     error
}

func (b *mockBlacklist) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	if b.err != nil {
		return false, b.err
	}
	return b.revoked[jti], nil
}

func (b *mockBlacklist) BlacklistToken(_ context.Context, jti string, _ time.Duration) error {
	if b.revoked == nil {
		b.revoked = make(map[string]bool)
	}
	b.revoked[jti] = true
	return nil
}

// ── 测试辅助 ──

type testEnv struct {
	repo        *repository.Repository
	stages      *mockStageRepo
	groups      *mockGroupRepo
	submissions *mockSubmissionRepo
	votes       *mockVoteRepo
	settlements *mockSettlementRepo
	notifs      *mockNotificationRepo
	audits      *mockAuditRepo
	users       *mockUserRepo
}

func newTestEnv() *testEnv {
	env := &testEnv{
		stages:      newMockStageRepo(),
		groups:      newMockGroupRepo(),
		submissions: newMockSubmissionRepo(),
		votes:       newMockVoteRepo(),
		settlements: newMockSettlementRepo(),
		notifs:      newMockNotificationRepo(),
		audits:      newMockAuditRepo(),
		users:       newMockUserRepo(),
	}
	env.repo = &repository.Repository{
		Stage:        env.stages,
		Group:        env.groups,
		Submission:   env.submissions,
		Vote:         env.votes,
		Settlement:   env.settlements,
		Notification: env.notifs,
		Audit:        env.audits,
		User:         env.users,
	}
	return env
}

// fixedClock 固定时间
func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// testNow 测试基准时间
var testNow = time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)

func timePtr(t time.Time) *time.Time { return &t }

func strPtr(s string) *string { return &s }

// votingStage 已进入投票、共识截止已过的阶段
func votingStage(id string, pool float64) *model.Stage {
	return &model.Stage{
		StageID:           id,
		ProjectID:         "proj-1",
		Name:              id,
		StartDate:         timePtr(testNow.Add(-100 * time.Hour)),
		EndDate:           timePtr(testNow.Add(-10 * time.Hour)),
		ConsensusDeadline: timePtr(testNow.Add(-time.Hour)),
		Status:            model.StageStatusVoting,
		RewardPool:        pool,
	}
}
