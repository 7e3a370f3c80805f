package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
)

const timeSlotColumns = `
	id, location_id, series_id, to_char(date, 'YYYY-MM-DD'), start_at, end_at, max_employees, late_penalty_disabled, deleted_at, created_at, version
`

func scanTimeSlot(row interface{ Scan(...any) error }) (*domain.TimeSlot, error) {
	var (
		slot      domain.TimeSlot
		seriesID  sql.NullString
		deletedAt sql.NullTime
	)
	dst := []any{&slot.ID, &slot.LocationID, &seriesID, &slot.Date, &slot.StartAt, &slot.EndAt, &slot.MaxEmployees, &slot.LatePenaltyDisabled, &deletedAt, &slot.CreatedAt, &slot.Version}
	if err := row.Scan(dst...); err != nil {
		return nil, err
	}
	if seriesID.Valid {
		slot.SeriesID = &seriesID.String
	}
	if deletedAt.Valid {
		slot.DeletedAt = &deletedAt.Time
	}
	return &slot, nil
}

// CreateTimeSlots 在同一个事务中批量创建时间段
func (r *Repository) CreateTimeSlots(ctx context.Context, slots []*domain.TimeSlot) error {
	return r.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := `
			INSERT INTO time_slots (location_id, series_id, date, start_at, end_at, max_employees, late_penalty_disabled)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at, version
		`
		for _, slot := range slots {
			args := []any{slot.LocationID, slot.SeriesID, slot.Date, slot.StartAt, slot.EndAt, slot.MaxEmployees, slot.LatePenaltyDisabled}
			if err := tx.QueryRowContext(ctx, query, args...).Scan(&slot.ID, &slot.CreatedAt, &slot.Version); err != nil {
				return mapError(err, "创建时间段失败")
			}
		}
		return nil
	})
}

func (r *Repository) GetTimeSlotByID(ctx context.Context, id int64) (*domain.TimeSlot, error) {
	query := `SELECT ` + timeSlotColumns + ` FROM time_slots WHERE id = $1`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	slot, err := scanTimeSlot(r.dbpool.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err, "查询时间段失败")
	}
	return slot, nil
}

// ListTimeSlots 返回地点在 [from, to] 日期范围内未删除的时间段
func (r *Repository) ListTimeSlots(ctx context.Context, locationID int64, from, to string) ([]*domain.TimeSlot, error) {
	query := `
		SELECT ` + timeSlotColumns + `
		FROM time_slots
		WHERE location_id = $1 AND date BETWEEN $2 AND $3 AND deleted_at IS NULL
		ORDER BY start_at, id
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, locationID, from, to)
	if err != nil {
		return nil, mapError(err, "查询时间段失败")
	}
	defer rows.Close()

	slots := []*domain.TimeSlot{}
	for rows.Next() {
		slot, err := scanTimeSlot(rows)
		if err != nil {
			return nil, mapError(err, "读取时间段失败")
		}
		slots = append(slots, slot)
	}

	if err := rows.Err(); err != nil {
		return nil, mapError(err, "读取时间段失败")
	}

	return slots, nil
}

func lockTimeSlot(ctx context.Context, tx *sql.Tx, id int64) (*domain.TimeSlot, error) {
	query := `SELECT ` + timeSlotColumns + ` FROM time_slots WHERE id = $1 FOR UPDATE`
	slot, err := scanTimeSlot(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err, "锁定时间段失败")
	}
	return slot, nil
}

// UpdateTimeSlot 锁定时间段后交给 mutate 修改，mutate 可以根据现有预约拒绝修改
func (r *Repository) UpdateTimeSlot(ctx context.Context, id int64, mutate func(slot *domain.TimeSlot, bookings []*domain.Booking) error) (*domain.TimeSlot, error) {
	var updated *domain.TimeSlot
	err := r.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		slot, err := lockTimeSlot(ctx, tx, id)
		if err != nil {
			return err
		}
		bookings, err := listActiveBookingsForSlot(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := mutate(slot, bookings); err != nil {
			return err
		}

		query := `
			UPDATE time_slots
			SET
				date = $1,
				start_at = $2,
				end_at = $3,
				max_employees = $4,
				late_penalty_disabled = $5,
				deleted_at = $6,
				version = version + 1
			WHERE id = $7 AND version = $8
			RETURNING version
		`
		args := []any{slot.Date, slot.StartAt, slot.EndAt, slot.MaxEmployees, slot.LatePenaltyDisabled, slot.DeletedAt, slot.ID, slot.Version}
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&slot.Version); err != nil {
			return versionConflict(err, "更新时间段失败")
		}
		updated = slot
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteTimeSlot 软删除时间段，仍有 planned 或 open 预约时拒绝
func (r *Repository) DeleteTimeSlot(ctx context.Context, id int64, at time.Time) (*domain.TimeSlot, error) {
	return r.UpdateTimeSlot(ctx, id, func(slot *domain.TimeSlot, bookings []*domain.Booking) error {
		if slot.IsDeleted() {
			return domain.ErrSlotDeleted
		}
		for _, b := range bookings {
			if b.Status == domain.BookingPlanned || b.Status == domain.BookingOpen {
				return domain.ErrSlotInUse
			}
		}
		slot.DeletedAt = &at
		return nil
	})
}
