package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/shopspring/decimal"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
)

const cancellationColumns = `
	id, booking_id, shift_instance_id, location_id, worker_id, cancelled_by, actor_type, reason_code, notes, evidence_ref,
	hours_before_start, policy_min_notice_hours, policy_short_notice_fine, policy_invalid_reason_fine, policy_source,
	moderation, fine_amount, fine_breakdown, moderated_by, moderated_at, created_at, version
`

func scanCancellation(row interface{ Scan(...any) error }) (*domain.CancellationRecord, error) {
	var (
		rec         domain.CancellationRecord
		bookingID   sql.NullInt64
		shiftID     sql.NullInt64
		fine        decimal.NullDecimal
		breakdown   []byte
		moderatedBy sql.NullInt64
		moderatedAt sql.NullTime
	)
	dst := []any{
		&rec.ID, &bookingID, &shiftID, &rec.LocationID, &rec.WorkerID, &rec.CancelledBy, &rec.ActorType, &rec.ReasonCode, &rec.Notes, &rec.EvidenceRef,
		&rec.HoursBeforeStart, &rec.Policy.MinimumNoticeHours, &rec.Policy.ShortNoticeFine, &rec.Policy.InvalidReasonFine, &rec.Policy.Source,
		&rec.Moderation, &fine, &breakdown, &moderatedBy, &moderatedAt, &rec.CreatedAt, &rec.Version,
	}
	if err := row.Scan(dst...); err != nil {
		return nil, err
	}

	if bookingID.Valid {
		rec.BookingID = &bookingID.Int64
	}
	if shiftID.Valid {
		rec.ShiftInstanceID = &shiftID.Int64
	}
	if fine.Valid {
		rec.FineAmount = &fine.Decimal
	}
	rec.FineBreakdown = []domain.FineLineItem{}
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &rec.FineBreakdown); err != nil {
			return nil, err
		}
	}
	if moderatedBy.Valid {
		rec.ModeratedBy = &moderatedBy.Int64
	}
	if moderatedAt.Valid {
		rec.ModeratedAt = &moderatedAt.Time
	}

	return &rec, nil
}

func fineArgs(rec *domain.CancellationRecord) (any, []byte, error) {
	items := rec.FineBreakdown
	if items == nil {
		items = []domain.FineLineItem{}
	}
	breakdown, err := json.Marshal(items)
	if err != nil {
		return nil, nil, err
	}
	if rec.FineAmount == nil {
		return nil, breakdown, nil
	}
	return *rec.FineAmount, breakdown, nil
}

func insertCancellation(ctx context.Context, tx *sql.Tx, rec *domain.CancellationRecord) error {
	fine, breakdown, err := fineArgs(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO cancellation_records (
			booking_id, shift_instance_id, location_id, worker_id, cancelled_by, actor_type, reason_code, notes, evidence_ref,
			hours_before_start, policy_min_notice_hours, policy_short_notice_fine, policy_invalid_reason_fine, policy_source,
			moderation, fine_amount, fine_breakdown
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at, version
	`
	args := []any{
		rec.BookingID, rec.ShiftInstanceID, rec.LocationID, rec.WorkerID, rec.CancelledBy, rec.ActorType, rec.ReasonCode, rec.Notes, rec.EvidenceRef,
		rec.HoursBeforeStart, rec.Policy.MinimumNoticeHours, rec.Policy.ShortNoticeFine, rec.Policy.InvalidReasonFine, rec.Policy.Source,
		rec.Moderation, fine, breakdown,
	}
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&rec.ID, &rec.CreatedAt, &rec.Version); err != nil {
		return mapError(err, "创建取消记录失败")
	}
	return nil
}

func (r *Repository) GetCancellationByID(ctx context.Context, id int64) (*domain.CancellationRecord, error) {
	query := `SELECT ` + cancellationColumns + ` FROM cancellation_records WHERE id = $1`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	rec, err := scanCancellation(r.dbpool.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err, "查询取消记录失败")
	}
	return rec, nil
}

// ModerateCancellation 锁住取消记录后交给 moderate 修改审核结果
func (r *Repository) ModerateCancellation(ctx context.Context, id int64, moderate func(rec *domain.CancellationRecord) error) (*domain.CancellationRecord, error) {
	var updated *domain.CancellationRecord
	err := r.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := `SELECT ` + cancellationColumns + ` FROM cancellation_records WHERE id = $1 FOR UPDATE`
		rec, err := scanCancellation(tx.QueryRowContext(ctx, query, id))
		if err != nil {
			return mapError(err, "锁定取消记录失败")
		}

		if err := moderate(rec); err != nil {
			return err
		}

		fine, breakdown, err := fineArgs(rec)
		if err != nil {
			return err
		}
		query = `
			UPDATE cancellation_records
			SET
				moderation = $1,
				fine_amount = $2,
				fine_breakdown = $3,
				moderated_by = $4,
				moderated_at = $5,
				version = version + 1
			WHERE id = $6 AND version = $7
			RETURNING version
		`
		args := []any{rec.Moderation, fine, breakdown, rec.ModeratedBy, rec.ModeratedAt, rec.ID, rec.Version}
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&rec.Version); err != nil {
			return versionConflict(err, "更新取消记录失败")
		}
		updated = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListCancellationsForLocation 返回地点的取消记录，moderation 为空时不过滤审核状态
func (r *Repository) ListCancellationsForLocation(ctx context.Context, locationID int64, moderation domain.ModerationStatus) ([]*domain.CancellationRecord, error) {
	query := `
		SELECT ` + cancellationColumns + `
		FROM cancellation_records
		WHERE location_id = $1 AND ($2::text = '' OR moderation = $2::text)
		ORDER BY created_at DESC, id DESC
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, locationID, string(moderation))
	if err != nil {
		return nil, mapError(err, "查询取消记录失败")
	}
	defer rows.Close()

	records := []*domain.CancellationRecord{}
	for rows.Next() {
		rec, err := scanCancellation(rows)
		if err != nil {
			return nil, mapError(err, "读取取消记录失败")
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, mapError(err, "读取取消记录失败")
	}

	return records, nil
}
