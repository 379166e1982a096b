// Package job 后台定时任务：周期性漂移同步与结算锁回收
package job

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"stagekeeper/config"
	"stagekeeper/internal/service"
)

// ProjectSource 提供存在未终结阶段的项目
type ProjectSource interface {
	ListProjectsWithOpenStages(ctx context.Context) ([]string, error)
}

// Summary 单轮执行结果
type Summary struct {
	Projects  int // 本轮调度的项目数
	Skipped   int // 上一轮仍在处理而跳过的项目数
	Updated   int // 提交了状态写入的阶段数
	Failed    int // 同步失败的阶段数（含项目级失败）
	Recovered int // 回收的超时结算锁
}

// StageSyncJob 周期性同步所有未终结阶段
//
// 读路径上的同步只覆盖被访问的阶段；无人访问的阶段依赖本任务推进与结算。
// 同一项目同时只有一个同步在执行，同一阶段的并发写入由条件更新保证只生效一次。
type StageSyncJob struct {
	projects   ProjectSource
	syncer     service.DriftSyncer
	settlement service.SettlementService
	cfg        config.StageConfig
	logger     *zap.Logger

	cron     *cron.Cron
	pool     pond.Pool
	inFlight *xsync.Map[string, time.Time]
	running  atomic.Bool
}

// NewStageSyncJob 创建定时任务，cron 表达式含秒字段
func NewStageSyncJob(projects ProjectSource, syncer service.DriftSyncer, settlement service.SettlementService, cfg config.StageConfig, logger *zap.Logger) (*StageSyncJob, error) {
	workers := cfg.SyncWorkers
	if workers <= 0 {
		workers = 1
	}
	queueSize := cfg.SyncQueueSize
	if queueSize <= 0 {
		queueSize = workers * 16
	}

	j := &StageSyncJob{
		projects:   projects,
		syncer:     syncer,
		settlement: settlement,
		cfg:        cfg,
		logger:     logger.Named("stage-sync"),
		pool:       pond.NewPool(workers, pond.WithQueueSize(queueSize)),
		inFlight:   xsync.NewMap[string, time.Time](),
	}

	cronLogger := zapCronLogger{logger: j.logger}
	j.cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cronLogger), cron.Recover(cronLogger)))
	if _, err := j.cron.AddFunc(cfg.SyncCron, j.tick); err != nil {
		j.pool.Stop()
		return nil, fmt.Errorf("解析同步周期 %q 失败: %w", cfg.SyncCron, err)
	}
	return j, nil
}

// Start 启动调度
func (j *StageSyncJob) Start() {
	j.cron.Start()
	j.logger.Info("阶段同步任务已启动",
		zap.String("cron", j.cfg.SyncCron),
		zap.Int("workers", j.cfg.SyncWorkers),
	)
}

// Stop 停止调度并等待执行中的任务结束
func (j *StageSyncJob) Stop(ctx context.Context) {
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
		j.logger.Warn("等待同步任务结束超时")
	}
	j.pool.StopAndWait()
	j.logger.Info("阶段同步任务已停止")
}

func (j *StageSyncJob) tick() {
	timeout := j.cfg.SyncTimeout
	if timeout <= 0 {
		timeout = 50 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	sum, err := j.RunOnce(ctx)
	if err != nil {
		j.logger.Warn("阶段同步失败", zap.Error(err))
		return
	}
	if sum.Updated > 0 || sum.Failed > 0 || sum.Recovered > 0 {
		j.logger.Info("阶段同步完成",
			zap.Int("projects", sum.Projects),
			zap.Int("skipped", sum.Skipped),
			zap.Int("updated", sum.Updated),
			zap.Int("failed", sum.Failed),
			zap.Int("recovered", sum.Recovered),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

// RunOnce 执行一轮：先回收超时结算锁，再并行同步各项目
func (j *StageSyncJob) RunOnce(ctx context.Context) (Summary, error) {
	var sum Summary
	if !j.running.CompareAndSwap(false, true) {
		return sum, errors.New("上一轮同步仍在执行")
	}
	defer j.running.Store(false)

	if j.cfg.SettlingTimeout > 0 {
		n, err := j.settlement.RecoverStale(ctx, j.cfg.SettlingTimeout)
		if err != nil {
			j.logger.Warn("回收结算锁失败", zap.Error(err))
		}
		sum.Recovered = n
	}

	projectIDs, err := j.projects.ListProjectsWithOpenStages(ctx)
	if err != nil {
		return sum, fmt.Errorf("查询待同步项目失败: %w", err)
	}

	var updated, failed atomic.Int32
	group := j.pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	scheduled := make([]string, 0, len(projectIDs))
	defer func() {
		// 组被取消时未开始的任务不会执行，统一在此释放
		for _, pid := range scheduled {
			j.inFlight.Delete(pid)
		}
	}()

	for _, projectID := range projectIDs {
		pid := projectID
		if _, loaded := j.inFlight.LoadOrStore(pid, time.Now()); loaded {
			sum.Skipped++
			continue
		}
		scheduled = append(scheduled, pid)
		sum.Projects++

		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				return
			}

			transitions, err := j.syncer.ReconcileProject(groupCtx, pid)
			if err != nil {
				j.logger.Warn("项目同步失败", zap.String("project_id", pid), zap.Error(err))
				failed.Add(1)
				return
			}
			for _, t := range transitions {
				switch {
				case t.Err != nil:
					failed.Add(1)
				case t.Updated:
					updated.Add(1)
				}
			}
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		j.logger.Warn("同步任务组异常", zap.Error(err))
	}

	sum.Updated = int(updated.Load())
	sum.Failed = int(failed.Load())
	return sum, nil
}

// zapCronLogger 将 cron 内部日志转到 zap
type zapCronLogger struct {
	logger *zap.Logger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().With(zap.Error(err)).Errorw(msg, keysAndValues...)
}
