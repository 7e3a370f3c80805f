package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
)

const bookingColumns = `
	id, time_slot_id, location_id, worker_id, start_at, end_at, status, created_by, created_by_type, hourly_rate, cancelled_at, created_at, version
`

func scanBooking(row interface{ Scan(...any) error }) (*domain.Booking, error) {
	var (
		b           = &domain.Booking{}
		cancelledAt sql.NullTime
	)
	dst := []any{&b.ID, &b.TimeSlotID, &b.LocationID, &b.WorkerID, &b.StartAt, &b.EndAt, &b.Status, &b.CreatedBy, &b.CreatedByType, &b.HourlyRate, &cancelledAt, &b.CreatedAt, &b.Version}
	if err := row.Scan(dst...); err != nil {
		return nil, err
	}
	if cancelledAt.Valid {
		b.CancelledAt = &cancelledAt.Time
	}
	return b, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryBookings(ctx context.Context, q queryer, query string, args ...any) ([]*domain.Booking, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "查询预约失败")
	}
	defer rows.Close()

	bookings := []*domain.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, mapError(err, "读取预约失败")
		}
		bookings = append(bookings, b)
	}

	if err := rows.Err(); err != nil {
		return nil, mapError(err, "读取预约失败")
	}

	return bookings, nil
}

func listActiveBookingsForSlot(ctx context.Context, q queryer, slotID int64) ([]*domain.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE time_slot_id = $1 AND status <> 'cancelled'
		ORDER BY start_at, id
	`
	return queryBookings(ctx, q, query, slotID)
}

// lockWorker 锁住员工所在的行，使同一员工跨时间段的并发写入串行化
func lockWorker(ctx context.Context, tx *sql.Tx, workerID int64) error {
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, workerID).Scan(&id); err != nil {
		return mapError(err, "锁定员工失败")
	}
	return nil
}

func insertBooking(ctx context.Context, tx *sql.Tx, b *domain.Booking) error {
	query := `
		INSERT INTO bookings (time_slot_id, location_id, worker_id, start_at, end_at, status, created_by, created_by_type, hourly_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, version
	`
	args := []any{b.TimeSlotID, b.LocationID, b.WorkerID, b.StartAt, b.EndAt, b.Status, b.CreatedBy, b.CreatedByType, b.HourlyRate}
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&b.ID, &b.CreatedAt, &b.Version); err != nil {
		return mapError(err, "创建预约失败")
	}
	return nil
}

func updateBookingStatus(ctx context.Context, tx *sql.Tx, b *domain.Booking) error {
	query := `
		UPDATE bookings
		SET status = $1, cancelled_at = $2, version = version + 1
		WHERE id = $3 AND version = $4
		RETURNING version
	`
	if err := tx.QueryRowContext(ctx, query, b.Status, b.CancelledAt, b.ID, b.Version).Scan(&b.Version); err != nil {
		return versionConflict(err, "更新预约状态失败")
	}
	return nil
}

func lockBooking(ctx context.Context, tx *sql.Tx, id int64) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`
	b, err := scanBooking(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err, "锁定预约失败")
	}
	return b, nil
}

// AllocateBooking 依次锁住时间段和员工，读取最新的预约后交给 decide 判断是否创建预约，
// 同一时间段的并发分配因此串行执行，不会同时拿到最后一个空位
func (r *Repository) AllocateBooking(ctx context.Context, slotID, workerID int64, decide func(slot *domain.TimeSlot, slotBookings, workerBookings []*domain.Booking) (*domain.Booking, error)) (*domain.Booking, error) {
	var created *domain.Booking
	err := r.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		slot, err := lockTimeSlot(ctx, tx, slotID)
		if err != nil {
			return err
		}
		if err := lockWorker(ctx, tx, workerID); err != nil {
			return err
		}

		slotBookings, err := listActiveBookingsForSlot(ctx, tx, slotID)
		if err != nil {
			return err
		}

		query := `
			SELECT ` + bookingColumns + `
			FROM bookings
			WHERE worker_id = $1 AND status <> 'cancelled' AND start_at < $3 AND end_at > $2
			ORDER BY start_at, id
		`
		workerBookings, err := queryBookings(ctx, tx, query, workerID, slot.StartAt, slot.EndAt)
		if err != nil {
			return err
		}

		b, err := decide(slot, slotBookings, workerBookings)
		if err != nil {
			return err
		}
		if err := insertBooking(ctx, tx, b); err != nil {
			return err
		}
		created = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *Repository) GetBookingByID(ctx context.Context, id int64) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	b, err := scanBooking(r.dbpool.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err, "查询预约失败")
	}
	return b, nil
}

// ListBookingsForSlot 返回时间段的全部预约（含已取消），用于回看某一时刻的占用情况
func (r *Repository) ListBookingsForSlot(ctx context.Context, slotID int64) ([]*domain.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE time_slot_id = $1
		ORDER BY start_at, id
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	return queryBookings(ctx, r.dbpool, query, slotID)
}

func (r *Repository) ListActiveBookingsForSlot(ctx context.Context, slotID int64) ([]*domain.Booking, error) {
	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	return listActiveBookingsForSlot(ctx, r.dbpool, slotID)
}

// ListBookingsForLocation 返回地点在 [from, to] 日期范围内的全部预约（含已取消）
func (r *Repository) ListBookingsForLocation(ctx context.Context, locationID int64, from, to string) ([]*domain.Booking, error) {
	query := `
		SELECT ` + prefixed("b", bookingColumns) + `
		FROM bookings b
		JOIN time_slots s ON s.id = b.time_slot_id
		WHERE b.location_id = $1 AND s.date BETWEEN $2 AND $3
		ORDER BY b.start_at, b.id
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	return queryBookings(ctx, r.dbpool, query, locationID, from, to)
}

func (r *Repository) ListBookingsForWorker(ctx context.Context, workerID int64, from, to time.Time) ([]*domain.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE worker_id = $1 AND start_at < $3 AND end_at > $2
		ORDER BY start_at, id
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	return queryBookings(ctx, r.dbpool, query, workerID, from, to)
}
