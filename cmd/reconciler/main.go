package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/cache"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/config"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/events"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/policy"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/reconciler"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/repository"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/service"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// 整个部署中只能运行一个对账进程
func main() {
	var once bool
	flag.BoolVar(&once, "once", false, "只执行一轮对账后退出")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("无法加载配置文件", "error", err)
		return
	}

	dbpool, err := repository.OpenDB(cfg)
	if err != nil {
		logger.Error("无法连接到数据库", "error", err)
		return
	}
	defer dbpool.Close()
	repo := repository.NewRepository(cfg, dbpool)

	conn, err := amqp.Dial(cfg.RabbitMQ.DSN)
	if err != nil {
		logger.Error("无法连接到 rabbitmq", "error", err)
		return
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Error("无法建立通道", "error", err)
		return
	}
	defer ch.Close()

	if _, err := events.DeclareQueue(ch); err != nil {
		logger.Error("无法声明队列", "error", err)
		return
	}

	// 对账关闭的班次需要让 API 进程的缓存失效，因此必须和 API 共用同一个 redis
	if cfg.Cache.Driver == "memory" {
		logger.Error("对账进程不能使用内存缓存，自动结束的班次无法让 API 的缓存失效", slog.String("driver", cfg.Cache.Driver))
		return
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       0,
	})
	defer rdb.Close()
	store := cache.NewRedisStore(rdb, cfg.Cache.Prefix, cfg.Cache.TagTTL)

	loc, err := time.LoadLocation(cfg.Reconciler.Timezone)
	if err != nil {
		logger.Warn("时区配置无效，使用本地时区", slog.String("tz", cfg.Reconciler.Timezone), "error", err)
		loc = time.Local
	}

	scheduler := service.New(
		repo,
		cache.NewLayer(store, cache.TTLs{Short: cfg.Cache.ShiftTTL, Long: cfg.Cache.SlotTTL}, logger),
		policy.NewResolver(repo, cfg.Policy.DefaultMinNoticeHours, logger),
		events.NewPublisher(ch, time.Duration(cfg.RabbitMQ.PublishTimeout)*time.Second),
		service.Options{
			ConflictRetries: cfg.Scheduling.ConflictRetries,
			MaxRangeDays:    cfg.Scheduling.MaxRangeDays,
			Location:        loc,
		},
		logger,
	)

	runner := reconciler.NewRunner(reconciler.Config{
		Spec:           cfg.Reconciler.Spec,
		Timezone:       cfg.Reconciler.Timezone,
		ChainTolerance: cfg.Reconciler.ChainTolerance,
		PassTimeout:    cfg.Reconciler.PassTimeout,
	}, repo, scheduler, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if once || cfg.Reconciler.RunOnStart {
		if _, err := runner.RunOnce(ctx); err != nil {
			logger.Error("对账失败", "error", err)
		}
		if once {
			return
		}
	}

	if err := runner.Start(ctx); err != nil {
		logger.Error("无法启动对账任务", "error", err)
	}
}
