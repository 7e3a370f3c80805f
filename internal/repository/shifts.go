package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/reconciler"
)

const shiftColumns = `
	id, booking_id, worker_id, location_id, status, planned_start_at, actual_start_at, closed_at,
	start_latitude, start_longitude, close_latitude, close_longitude, open_reason, close_reason, closed_by, created_at, version
`

func scanShift(row interface{ Scan(...any) error }) (*domain.ShiftInstance, error) {
	var (
		inst                   domain.ShiftInstance
		bookingID, closedBy    sql.NullInt64
		plannedStart, closedAt sql.NullTime
		startLat, startLng     sql.NullFloat64
		closeLat, closeLng     sql.NullFloat64
		closeReason            sql.NullString
	)
	dst := []any{
		&inst.ID, &bookingID, &inst.WorkerID, &inst.LocationID, &inst.Status, &plannedStart, &inst.ActualStartAt, &closedAt,
		&startLat, &startLng, &closeLat, &closeLng, &inst.OpenReason, &closeReason, &closedBy, &inst.CreatedAt, &inst.Version,
	}
	if err := row.Scan(dst...); err != nil {
		return nil, err
	}

	if bookingID.Valid {
		inst.BookingID = &bookingID.Int64
	}
	if plannedStart.Valid {
		inst.PlannedStartAt = &plannedStart.Time
	}
	if closedAt.Valid {
		inst.ClosedAt = &closedAt.Time
	}
	if startLat.Valid && startLng.Valid {
		inst.StartCoordinates = &domain.Coordinates{Latitude: startLat.Float64, Longitude: startLng.Float64}
	}
	if closeLat.Valid && closeLng.Valid {
		inst.CloseCoordinates = &domain.Coordinates{Latitude: closeLat.Float64, Longitude: closeLng.Float64}
	}
	if closeReason.Valid {
		reason := domain.CloseReason(closeReason.String)
		inst.CloseReason = &reason
	}
	if closedBy.Valid {
		inst.ClosedBy = &closedBy.Int64
	}

	return &inst, nil
}

func coordinateArgs(c *domain.Coordinates) (any, any) {
	if c == nil {
		return nil, nil
	}
	return c.Latitude, c.Longitude
}

func queryShifts(ctx context.Context, q queryer, query string, args ...any) ([]*domain.ShiftInstance, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "查询班次失败")
	}
	defer rows.Close()

	shifts := []*domain.ShiftInstance{}
	for rows.Next() {
		inst, err := scanShift(rows)
		if err != nil {
			return nil, mapError(err, "读取班次失败")
		}
		shifts = append(shifts, inst)
	}

	if err := rows.Err(); err != nil {
		return nil, mapError(err, "读取班次失败")
	}

	return shifts, nil
}

func insertShift(ctx context.Context, tx *sql.Tx, inst *domain.ShiftInstance) error {
	query := `
		INSERT INTO shift_instances (booking_id, worker_id, location_id, status, planned_start_at, actual_start_at, start_latitude, start_longitude, open_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, version
	`
	lat, lng := coordinateArgs(inst.StartCoordinates)
	args := []any{inst.BookingID, inst.WorkerID, inst.LocationID, inst.Status, inst.PlannedStartAt, inst.ActualStartAt, lat, lng, inst.OpenReason}
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&inst.ID, &inst.CreatedAt, &inst.Version); err != nil {
		return mapError(err, "创建班次失败")
	}
	return nil
}

func updateShift(ctx context.Context, tx *sql.Tx, inst *domain.ShiftInstance) error {
	query := `
		UPDATE shift_instances
		SET
			status = $1,
			closed_at = $2,
			close_latitude = $3,
			close_longitude = $4,
			close_reason = $5,
			closed_by = $6,
			version = version + 1
		WHERE id = $7 AND version = $8
		RETURNING version
	`
	lat, lng := coordinateArgs(inst.CloseCoordinates)
	args := []any{inst.Status, inst.ClosedAt, lat, lng, inst.CloseReason, inst.ClosedBy, inst.ID, inst.Version}
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&inst.Version); err != nil {
		return versionConflict(err, "更新班次失败")
	}
	return nil
}

// openShiftForWorker 返回员工当前进行中的班次，没有则返回 nil
func openShiftForWorker(ctx context.Context, q queryer, workerID int64) (*domain.ShiftInstance, error) {
	query := `SELECT ` + shiftColumns + ` FROM shift_instances WHERE worker_id = $1 AND status = 'open'`
	shifts, err := queryShifts(ctx, q, query, workerID)
	if err != nil {
		return nil, err
	}
	if len(shifts) == 0 {
		return nil, nil
	}
	return shifts[0], nil
}

func lockShiftByBooking(ctx context.Context, tx *sql.Tx, bookingID int64) (*domain.ShiftInstance, error) {
	query := `SELECT ` + shiftColumns + ` FROM shift_instances WHERE booking_id = $1 FOR UPDATE`
	inst, err := scanShift(tx.QueryRowContext(ctx, query, bookingID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError(err, "锁定班次失败")
	}
	return inst, nil
}

// OpenShift 锁住预约与员工后调用 transition 生成班次，再写回预约状态并插入班次。
// 唯一索引保证即使绕过这里，同一员工也不会出现两个进行中的班次
func (r *Repository) OpenShift(ctx context.Context, bookingID int64, transition func(b *domain.Booking, current *domain.ShiftInstance) (*domain.ShiftInstance, error)) (*domain.ShiftInstance, *domain.Booking, error) {
	var (
		inst    *domain.ShiftInstance
		booking *domain.Booking
	)
	err := r.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		b, err := lockBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if err := lockWorker(ctx, tx, b.WorkerID); err != nil {
			return err
		}
		current, err := openShiftForWorker(ctx, tx, b.WorkerID)
		if err != nil {
			return err
		}

		created, err := transition(b, current)
		if err != nil {
			return err
		}
		if err := updateBookingStatus(ctx, tx, b); err != nil {
			return err
		}
		if err := insertShift(ctx, tx, created); err != nil {
			return err
		}
		inst, booking = created, b
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return inst, booking, nil
}

func (r *Repository) OpenSpontaneousShift(ctx context.Context, workerID int64, transition func(current *domain.ShiftInstance) (*domain.ShiftInstance, error)) (*domain.ShiftInstance, error) {
	var inst *domain.ShiftInstance
	err := r.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := lockWorker(ctx, tx, workerID); err != nil {
			return err
		}
		current, err := openShiftForWorker(ctx, tx, workerID)
		if err != nil {
			return err
		}
		created, err := transition(current)
		if err != nil {
			return err
		}
		if err := insertShift(ctx, tx, created); err != nil {
			return err
		}
		inst = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// CloseShift 按 预约 -> 班次 的顺序加锁（与取消一致），transition 返回 false 时不写入
func (r *Repository) CloseShift(ctx context.Context, instanceID int64, transition func(inst *domain.ShiftInstance, b *domain.Booking) (bool, error)) (*domain.ShiftInstance, *domain.Booking, bool, error) {
	var (
		inst    *domain.ShiftInstance
		booking *domain.Booking
		changed bool
	)
	err := r.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var bookingID sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT booking_id FROM shift_instances WHERE id = $1`, instanceID).Scan(&bookingID); err != nil {
			return mapError(err, "查询班次失败")
		}

		var b *domain.Booking
		if bookingID.Valid {
			var err error
			if b, err = lockBooking(ctx, tx, bookingID.Int64); err != nil {
				return err
			}
		}

		query := `SELECT ` + shiftColumns + ` FROM shift_instances WHERE id = $1 FOR UPDATE`
		current, err := scanShift(tx.QueryRowContext(ctx, query, instanceID))
		if err != nil {
			return mapError(err, "锁定班次失败")
		}

		ok, err := transition(current, b)
		if err != nil {
			return err
		}
		if ok {
			if err := updateShift(ctx, tx, current); err != nil {
				return err
			}
			if b != nil {
				if err := updateBookingStatus(ctx, tx, b); err != nil {
					return err
				}
			}
		}
		inst, booking, changed = current, b, ok
		return nil
	})
	if err != nil {
		return nil, nil, false, err
	}
	return inst, booking, changed, nil
}

// CancelBooking 锁住预约及其班次（如果有），由 transition 生成取消记录后一并写入
func (r *Repository) CancelBooking(ctx context.Context, bookingID int64, transition func(b *domain.Booking, inst *domain.ShiftInstance) (*domain.CancellationRecord, error)) (*domain.CancellationRecord, *domain.Booking, *domain.ShiftInstance, error) {
	var (
		record  *domain.CancellationRecord
		booking *domain.Booking
		shift   *domain.ShiftInstance
	)
	err := r.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		b, err := lockBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		inst, err := lockShiftByBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		wasOpen := inst != nil && inst.IsOpen()

		rec, err := transition(b, inst)
		if err != nil {
			return err
		}
		if err := updateBookingStatus(ctx, tx, b); err != nil {
			return err
		}
		if wasOpen && !inst.IsOpen() {
			if err := updateShift(ctx, tx, inst); err != nil {
				return err
			}
		}
		if err := insertCancellation(ctx, tx, rec); err != nil {
			return err
		}
		record, booking, shift = rec, b, inst
		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return record, booking, shift, nil
}

// CancelShift 锁住没有预约的班次，由 transition 生成取消记录后一并写入
func (r *Repository) CancelShift(ctx context.Context, instanceID int64, transition func(inst *domain.ShiftInstance) (*domain.CancellationRecord, error)) (*domain.CancellationRecord, *domain.ShiftInstance, error) {
	var (
		record *domain.CancellationRecord
		shift  *domain.ShiftInstance
	)
	err := r.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := `SELECT ` + shiftColumns + ` FROM shift_instances WHERE id = $1 FOR UPDATE`
		inst, err := scanShift(tx.QueryRowContext(ctx, query, instanceID))
		if err != nil {
			return mapError(err, "锁定班次失败")
		}

		rec, err := transition(inst)
		if err != nil {
			return err
		}
		if err := updateShift(ctx, tx, inst); err != nil {
			return err
		}
		if err := insertCancellation(ctx, tx, rec); err != nil {
			return err
		}
		record, shift = rec, inst
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return record, shift, nil
}

func (r *Repository) GetShiftByID(ctx context.Context, id int64) (*domain.ShiftInstance, error) {
	query := `SELECT ` + shiftColumns + ` FROM shift_instances WHERE id = $1`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	inst, err := scanShift(r.dbpool.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err, "查询班次失败")
	}
	return inst, nil
}

func (r *Repository) GetShiftByBookingID(ctx context.Context, bookingID int64) (*domain.ShiftInstance, error) {
	query := `SELECT ` + shiftColumns + ` FROM shift_instances WHERE booking_id = $1`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	inst, err := scanShift(r.dbpool.QueryRowContext(ctx, query, bookingID))
	if err != nil {
		return nil, mapError(err, "查询班次失败")
	}
	return inst, nil
}

// GetOpenShiftForWorker 直接查询持久化的数据，不经过缓存
func (r *Repository) GetOpenShiftForWorker(ctx context.Context, workerID int64) (*domain.ShiftInstance, error) {
	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	inst, err := openShiftForWorker(ctx, r.dbpool, workerID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, domain.ErrNotFound
	}
	return inst, nil
}

func (r *Repository) ListShiftsForWorker(ctx context.Context, workerID int64, from, to time.Time) ([]*domain.ShiftInstance, error) {
	query := `
		SELECT ` + shiftColumns + `
		FROM shift_instances
		WHERE worker_id = $1 AND actual_start_at >= $2 AND actual_start_at < $3
		ORDER BY actual_start_at, id
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	return queryShifts(ctx, r.dbpool, query, workerID, from, to)
}

func (r *Repository) ListShiftsForLocation(ctx context.Context, locationID int64, from, to time.Time) ([]*domain.ShiftInstance, error) {
	query := `
		SELECT ` + shiftColumns + `
		FROM shift_instances
		WHERE location_id = $1 AND actual_start_at >= $2 AND actual_start_at < $3
		ORDER BY actual_start_at, id
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	return queryShifts(ctx, r.dbpool, query, locationID, from, to)
}

type locationMemo struct {
	r    *Repository
	seen map[int64]*domain.Location
}

func (m *locationMemo) get(ctx context.Context, id int64) (*domain.Location, error) {
	if loc, ok := m.seen[id]; ok {
		return loc, nil
	}
	loc, err := m.r.GetLocationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	m.seen[id] = loc
	return loc, nil
}

// ListOpenShiftsForReconcile 返回全部进行中的班次及计算有效结束时间所需的数据
func (r *Repository) ListOpenShiftsForReconcile(ctx context.Context) ([]reconciler.OpenShift, error) {
	query := `SELECT ` + shiftColumns + ` FROM shift_instances WHERE status = 'open' ORDER BY id`

	qctx, cancel := r.queryContext(ctx)
	shifts, err := queryShifts(qctx, r.dbpool, query)
	cancel()
	if err != nil {
		return nil, err
	}

	memo := &locationMemo{r: r, seen: make(map[int64]*domain.Location)}
	result := make([]reconciler.OpenShift, 0, len(shifts))
	for _, inst := range shifts {
		item := reconciler.OpenShift{Instance: inst}
		if item.Location, err = memo.get(ctx, inst.LocationID); err != nil {
			return nil, err
		}
		if inst.BookingID != nil {
			if item.Booking, err = r.GetBookingByID(ctx, *inst.BookingID); err != nil {
				return nil, err
			}
			if item.Slot, err = r.GetTimeSlotByID(ctx, item.Booking.TimeSlotID); err != nil {
				return nil, err
			}
		}
		result = append(result, item)
	}

	return result, nil
}

// ListPlannedBookingsAround 返回时间段日期在 at 前后一天之内的 planned 预约
func (r *Repository) ListPlannedBookingsAround(ctx context.Context, at time.Time) ([]reconciler.PlannedBooking, error) {
	query := `
		SELECT ` + prefixed("b", bookingColumns) + `
		FROM bookings b
		JOIN time_slots s ON s.id = b.time_slot_id
		WHERE b.status = 'planned' AND s.deleted_at IS NULL AND s.date BETWEEN $1 AND $2
		ORDER BY b.start_at, b.id
	`

	from := at.AddDate(0, 0, -1).Format(domain.DateLayout)
	to := at.AddDate(0, 0, 1).Format(domain.DateLayout)

	qctx, cancel := r.queryContext(ctx)
	bookings, err := queryBookings(qctx, r.dbpool, query, from, to)
	cancel()
	if err != nil {
		return nil, err
	}

	memo := &locationMemo{r: r, seen: make(map[int64]*domain.Location)}
	result := make([]reconciler.PlannedBooking, 0, len(bookings))
	for _, b := range bookings {
		item := reconciler.PlannedBooking{Booking: b}
		if item.Slot, err = r.GetTimeSlotByID(ctx, b.TimeSlotID); err != nil {
			return nil, err
		}
		if item.Location, err = memo.get(ctx, b.LocationID); err != nil {
			return nil, err
		}
		result = append(result, item)
	}

	return result, nil
}
