package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/metrics"
)

// Source 读取对账所需的最新状态
type Source interface {
	ListOpenShiftsForReconcile(ctx context.Context) ([]OpenShift, error)
	// 返回 at 前后一天内仍处于 planned 状态的预约，当天的判断由对账自己按地点时区完成
	ListPlannedBookingsAround(ctx context.Context, at time.Time) ([]PlannedBooking, error)
}

// Applier 通过状态机执行对账动作，每个动作独立提交
type Applier interface {
	AutoClose(ctx context.Context, a Action) error
	ChainOpen(ctx context.Context, a Action) error
}

type Config struct {
	Spec           string
	Timezone       string
	ChainTolerance time.Duration
	PassTimeout    time.Duration
}

type Summary struct {
	Due     int
	Closed  int
	Chained int
	Failed  int
	Skipped int
}

type Runner struct {
	cfg     Config
	source  Source
	applier Applier
	logger  *slog.Logger
	now     func() time.Time

	mu sync.Mutex // 同一进程内不允许两轮对账重叠
	c  *cron.Cron
}

func NewRunner(cfg Config, source Source, applier Applier, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Spec == "" {
		cfg.Spec = "@every 30m"
	}
	return &Runner{
		cfg:     cfg,
		source:  source,
		applier: applier,
		logger:  logger,
		now:     time.Now,
	}
}

func (r *Runner) location() *time.Location {
	if r.cfg.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(r.cfg.Timezone)
	if err != nil {
		r.logger.Warn("时区配置无效，使用本地时区", slog.String("tz", r.cfg.Timezone), "error", err)
		return time.Local
	}
	return loc
}

// Start 按 cron 表达式周期执行对账，直到 ctx 结束
func (r *Runner) Start(ctx context.Context) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	r.c = cron.New(cron.WithParser(parser), cron.WithLocation(r.location()))

	if _, err := r.c.AddFunc(r.cfg.Spec, func() {
		passCtx := ctx
		if r.cfg.PassTimeout > 0 {
			var cancel context.CancelFunc
			passCtx, cancel = context.WithTimeout(ctx, r.cfg.PassTimeout)
			defer cancel()
		}
		if _, err := r.RunOnce(passCtx); err != nil {
			r.logger.Error("对账失败", "error", err)
		}
	}); err != nil {
		return err
	}

	r.c.Start()
	r.logger.Info("对账任务已启动", slog.String("spec", r.cfg.Spec))

	<-ctx.Done()
	<-r.c.Stop().Done()
	r.logger.Info("对账任务已停止")
	return nil
}

// RunOnce 执行一轮对账。单个动作失败只记录日志，同一续班链上的后续动作跳过，其余动作照常执行
func (r *Runner) RunOnce(ctx context.Context) (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := time.Now()
	defer func() { metrics.ReconcilePass(time.Since(started)) }()

	now := r.now()
	open, err := r.source.ListOpenShiftsForReconcile(ctx)
	if err != nil {
		return Summary{}, err
	}
	planned, err := r.source.ListPlannedBookingsAround(ctx, now)
	if err != nil {
		return Summary{}, err
	}

	actions := ReconcilePass(now, open, planned, Options{ChainTolerance: r.cfg.ChainTolerance})

	var summary Summary
	failed := make(map[int]bool)
	for _, a := range actions {
		if a.Kind == ActionClose && a.InstanceID != 0 {
			summary.Due++
		}
		if failed[a.Chain] {
			summary.Skipped++
			metrics.ReconcileAction(string(a.Kind), "skipped")
			continue
		}

		var err error
		switch a.Kind {
		case ActionClose:
			err = r.applier.AutoClose(ctx, a)
		case ActionChainOpen:
			err = r.applier.ChainOpen(ctx, a)
		}
		if err != nil {
			failed[a.Chain] = true
			summary.Failed++
			metrics.ReconcileAction(string(a.Kind), "failed")
			r.logger.Error("对账动作执行失败",
				slog.String("kind", string(a.Kind)),
				slog.Int64("instance_id", a.InstanceID),
				slog.Int64("worker_id", a.WorkerID),
				"error", err,
			)
			continue
		}

		metrics.ReconcileAction(string(a.Kind), "ok")
		switch a.Kind {
		case ActionClose:
			summary.Closed++
		case ActionChainOpen:
			summary.Chained++
		}
	}

	r.logger.Info("对账完成",
		slog.Int("due", summary.Due),
		slog.Int("closed", summary.Closed),
		slog.Int("chained", summary.Chained),
		slog.Int("failed", summary.Failed),
		slog.Int("skipped", summary.Skipped),
	)
	return summary, nil
}
