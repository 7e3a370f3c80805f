package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/config"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
)

type Repository struct {
	cfg    *config.Config
	dbpool *sql.DB
}

func NewRepository(cfg *config.Config, dbpool *sql.DB) *Repository {
	return &Repository{
		cfg:    cfg,
		dbpool: dbpool,
	}
}

func (r *Repository) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
}

func (r *Repository) txContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(r.cfg.Database.TransactionTimeout)*time.Second)
}

// withTx 在事务中执行 fn，fn 返回错误时回滚
func (r *Repository) withTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	ctx, cancel := r.txContext(ctx)
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "开启事务失败")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapError(err, "提交事务失败")
	}
	return nil
}

// mapError 把驱动返回的错误转换为领域错误，其余错误附带上下文信息后返回
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.ConstraintName {
		case "shift_instances_one_open_per_worker":
			return domain.ErrWorkerAlreadyOnShift
		case "cancellation_records_booking_id_key", "cancellation_records_shift_instance_id_key", "shift_instances_booking_id_key":
			// 并发请求已经完成了同样的迁移，调用方重新读取后会得到正确的状态
			return domain.ErrPersistenceConflict
		case "bookings_start_before_end", "time_slots_start_before_end", "shift_instances_closed_after_start":
			return domain.ErrInvalidInterval
		case "bookings_time_slot_id_fkey", "bookings_worker_id_fkey", "time_slots_location_id_fkey", "location_members_user_id_fkey":
			return domain.ErrNotFound
		}
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return domain.ErrPersistenceConflict
		}
	}

	return errors.Wrap(err, msg)
}

// versionConflict 用于带版本号的 UPDATE：没有更新到任何行说明数据已被修改
func versionConflict(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrPersistenceConflict
	}
	return mapError(err, msg)
}

// OpenDB 创建数据库连接池并确认数据库可达
func OpenDB(cfg *config.Config) (*sql.DB, error) {
	dbpool, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "无法创建数据库连接池")
	}

	dbpool.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	dbpool.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	dbpool.SetConnMaxIdleTime(time.Duration(cfg.Database.MaxIdleTime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Database.ConnectTimeout)*time.Second)
	defer cancel()

	// sql.Open 只是创建数据库连接池对象，并不会立即连接到数据库，因此需要显式地 ping 一下
	if err := dbpool.PingContext(ctx); err != nil {
		dbpool.Close()
		return nil, errors.Wrap(err, "无法连接到数据库")
	}

	return dbpool, nil
}
