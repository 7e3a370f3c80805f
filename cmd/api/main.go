package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/cache"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/config"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/events"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/handler"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/policy"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/repository"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/service"
	"golang.org/x/crypto/bcrypt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	/**********************************************
	 * 创建 logger
	 **********************************************/
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	/**********************************************
	 * 加载配置
	 **********************************************/
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("无法加载配置文件", "error", err)
		return
	}

	/**********************************************
	 * 连接数据库
	 **********************************************/
	dbpool, err := repository.OpenDB(cfg)
	if err != nil {
		logger.Error("无法连接到数据库", "error", err)
		return
	}
	defer dbpool.Close()

	repo := repository.NewRepository(cfg, dbpool)

	/**********************************************
	 * 确保数据库中存在初始负责人
	 **********************************************/
	if err := ensureInitialOwner(context.Background(), cfg, repo); err != nil {
		logger.Error("无法创建初始负责人", "error", err)
		return
	}

	/**********************************************
	 * 连接 rabbitmq
	 **********************************************/
	conn, err := amqp.Dial(cfg.RabbitMQ.DSN)
	if err != nil {
		logger.Error("无法连接到 rabbitmq", "error", err)
		return
	}
	defer conn.Close()

	// 建立通道
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
	publisher := events.NewPublisher(ch, time.Duration(cfg.RabbitMQ.PublishTimeout)*time.Second)

	/**********************************************
	 * 创建缓存层
	 **********************************************/
	var store cache.Store
	switch cfg.Cache.Driver {
	case "memory":
		store = cache.NewMemoryStore()
	default:
		rdb := redis.NewClient(&redis.Options{
			Addr:        fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password:    cfg.Redis.Password,
			DB:          0,
			DialTimeout: time.Duration(cfg.Redis.ConnectTimeout) * time.Second,
		})
		defer rdb.Close()

		// redis 不可用时读请求会直接查数据库，这里只记录警告
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Redis.ConnectTimeout)*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("无法连接到 redis", "error", err)
		}
		cancel()

		store = cache.NewRedisStore(rdb, cfg.Cache.Prefix, cfg.Cache.TagTTL)
	}
	layer := cache.NewLayer(store, cache.TTLs{Short: cfg.Cache.ShiftTTL, Long: cfg.Cache.SlotTTL}, logger)

	/**********************************************
	 * 创建排班服务
	 **********************************************/
	loc, err := time.LoadLocation(cfg.Reconciler.Timezone)
	if err != nil {
		logger.Warn("时区配置无效，使用本地时区", slog.String("tz", cfg.Reconciler.Timezone), "error", err)
		loc = time.Local
	}
	scheduler := service.New(
		repo,
		layer,
		policy.NewResolver(repo, cfg.Policy.DefaultMinNoticeHours, logger),
		publisher,
		service.Options{
			ConflictRetries: cfg.Scheduling.ConflictRetries,
			MaxRangeDays:    cfg.Scheduling.MaxRangeDays,
			Location:        loc,
		},
		logger,
	)

	/**********************************************
	 * 创建 handler
	 **********************************************/
	handler, err := handler.NewHandler(cfg, repo, scheduler)
	if err != nil {
		logger.Error("无法创建 handler", "error", err)
		return
	}
	handler.RegisterRoutes()

	/**********************************************
	 * 启动 HTTP 服务器
	 **********************************************/
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      handler.Mux,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("正在启动服务器...", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("无法启动服务器", slog.String("error", err.Error()))
			return
		}
	}()

	<-quit
	logger.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("关闭服务器失败", slog.String("error", err.Error()))
	}
	logger.Info("服务器已成功关闭")
}

func ensureInitialOwner(ctx context.Context, cfg *config.Config, repo *repository.Repository) error {
	if cfg.InitialOwner.Password == "" {
		return errors.New("未配置初始负责人密码")
	}
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(cfg.InitialOwner.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	owner := &domain.User{
		Username:     cfg.InitialOwner.Username,
		PasswordHash: string(passwordHash),
		FullName:     cfg.InitialOwner.FullName,
		Email:        cfg.InitialOwner.Email,
		Role:         domain.RoleOwner,
	}
	if err := repo.CreateUser(ctx, owner); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "users_username_key" {
			// 如果返回这个错误，说明数据库中已经存在初始负责人，不处理
			return nil
		}
		return err
	}
	return nil
}
