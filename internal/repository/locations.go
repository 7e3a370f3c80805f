package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
)

func encodeSettings(s *domain.CancellationSettings) (any, error) {
	if s == nil {
		return nil, nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func decodeSettings(raw []byte) (*domain.CancellationSettings, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	s := &domain.CancellationSettings{}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Repository) CreateOrgUnit(ctx context.Context, unit *domain.OrgUnit) error {
	settings, err := encodeSettings(unit.Cancellation)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO org_units (parent_id, name, cancellation_settings)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, version
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	if err := r.dbpool.QueryRowContext(ctx, query, unit.ParentID, unit.Name, settings).Scan(&unit.ID, &unit.CreatedAt, &unit.Version); err != nil {
		return mapError(err, "创建组织单元失败")
	}

	return nil
}

const locationColumns = `
	id, org_unit_id, name, timezone, default_closing_time::text, max_open_minutes, cancellation_settings, created_at, version
`

func scanLocation(row interface{ Scan(...any) error }) (*domain.Location, error) {
	var (
		loc        domain.Location
		orgUnitID  sql.NullInt64
		closing    sql.NullString
		maxMinutes sql.NullInt32
		settings   []byte
	)
	dst := []any{&loc.ID, &orgUnitID, &loc.Name, &loc.Timezone, &closing, &maxMinutes, &settings, &loc.CreatedAt, &loc.Version}
	if err := row.Scan(dst...); err != nil {
		return nil, err
	}

	if orgUnitID.Valid {
		loc.OrgUnitID = &orgUnitID.Int64
	}
	if closing.Valid {
		loc.DefaultClosingTime = &closing.String
	}
	if maxMinutes.Valid {
		d := time.Duration(maxMinutes.Int32) * time.Minute
		loc.MaxOpenDuration = &d
	}
	s, err := decodeSettings(settings)
	if err != nil {
		return nil, err
	}
	loc.Cancellation = s

	return &loc, nil
}

func maxOpenMinutes(d *time.Duration) any {
	if d == nil {
		return nil
	}
	return int32(*d / time.Minute)
}

func (r *Repository) CreateLocation(ctx context.Context, loc *domain.Location) error {
	settings, err := encodeSettings(loc.Cancellation)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO locations (org_unit_id, name, timezone, default_closing_time, max_open_minutes, cancellation_settings)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, version
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	args := []any{loc.OrgUnitID, loc.Name, loc.Timezone, loc.DefaultClosingTime, maxOpenMinutes(loc.MaxOpenDuration), settings}
	if err := r.dbpool.QueryRowContext(ctx, query, args...).Scan(&loc.ID, &loc.CreatedAt, &loc.Version); err != nil {
		return mapError(err, "创建地点失败")
	}

	return nil
}

func (r *Repository) GetLocationByID(ctx context.Context, id int64) (*domain.Location, error) {
	query := `SELECT ` + locationColumns + ` FROM locations WHERE id = $1`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	loc, err := scanLocation(r.dbpool.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err, "查询地点失败")
	}
	return loc, nil
}

func (r *Repository) GetAllLocations(ctx context.Context) ([]*domain.Location, error) {
	query := `SELECT ` + locationColumns + ` FROM locations ORDER BY id`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query)
	if err != nil {
		return nil, mapError(err, "查询地点失败")
	}
	defer rows.Close()

	locations := []*domain.Location{}
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, mapError(err, "读取地点失败")
		}
		locations = append(locations, loc)
	}

	if err := rows.Err(); err != nil {
		return nil, mapError(err, "读取地点失败")
	}

	return locations, nil
}

func (r *Repository) UpdateLocation(ctx context.Context, loc *domain.Location) error {
	settings, err := encodeSettings(loc.Cancellation)
	if err != nil {
		return err
	}

	query := `
		UPDATE locations
		SET
			org_unit_id = $1,
			name = $2,
			timezone = $3,
			default_closing_time = $4,
			max_open_minutes = $5,
			cancellation_settings = $6,
			version = version + 1
		WHERE id = $7 AND version = $8
		RETURNING version
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	args := []any{loc.OrgUnitID, loc.Name, loc.Timezone, loc.DefaultClosingTime, maxOpenMinutes(loc.MaxOpenDuration), settings, loc.ID, loc.Version}
	if err := r.dbpool.QueryRowContext(ctx, query, args...).Scan(&loc.Version); err != nil {
		return versionConflict(err, "更新地点失败")
	}

	return nil
}

// UpsertLocationMember 添加成员，已存在时更新角色与时薪
func (r *Repository) UpsertLocationMember(ctx context.Context, m *domain.LocationMember) error {
	query := `
		INSERT INTO location_members (location_id, user_id, role, hourly_rate)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (location_id, user_id) DO UPDATE SET role = EXCLUDED.role, hourly_rate = EXCLUDED.hourly_rate
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	if _, err := r.dbpool.ExecContext(ctx, query, m.LocationID, m.UserID, m.Role, m.HourlyRate); err != nil {
		return mapError(err, "保存地点成员失败")
	}

	return nil
}

func (r *Repository) GetLocationMember(ctx context.Context, locationID, userID int64) (*domain.LocationMember, error) {
	query := `
		SELECT role, hourly_rate FROM location_members WHERE location_id = $1 AND user_id = $2
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	m := &domain.LocationMember{LocationID: locationID, UserID: userID}
	if err := r.dbpool.QueryRowContext(ctx, query, locationID, userID).Scan(&m.Role, &m.HourlyRate); err != nil {
		return nil, mapError(err, "查询地点成员失败")
	}

	return m, nil
}

func (r *Repository) ListLocationMembers(ctx context.Context, locationID int64) ([]*domain.LocationMember, error) {
	query := `
		SELECT user_id, role, hourly_rate FROM location_members WHERE location_id = $1 ORDER BY user_id
	`

	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, locationID)
	if err != nil {
		return nil, mapError(err, "查询地点成员失败")
	}
	defer rows.Close()

	members := []*domain.LocationMember{}
	for rows.Next() {
		m := &domain.LocationMember{LocationID: locationID}
		if err := rows.Scan(&m.UserID, &m.Role, &m.HourlyRate); err != nil {
			return nil, mapError(err, "读取地点成员失败")
		}
		members = append(members, m)
	}

	if err := rows.Err(); err != nil {
		return nil, mapError(err, "读取地点成员失败")
	}

	return members, nil
}

// GetPolicyChain 返回取消策略的解析链：地点自身的配置在前，然后是所属组织单元及其上级
func (r *Repository) GetPolicyChain(ctx context.Context, locationID int64) ([]domain.PolicyNode, error) {
	ctx, cancel := r.queryContext(ctx)
	defer cancel()

	var settings []byte
	query := `SELECT cancellation_settings FROM locations WHERE id = $1`
	if err := r.dbpool.QueryRowContext(ctx, query, locationID).Scan(&settings); err != nil {
		return nil, mapError(err, "查询地点取消策略失败")
	}
	s, err := decodeSettings(settings)
	if err != nil {
		return nil, err
	}
	chain := []domain.PolicyNode{{Source: "location:" + strconv.FormatInt(locationID, 10), Settings: s}}

	// depth 限制用于防止组织单元之间出现环
	query = `
		WITH RECURSIVE chain AS (
			SELECT ou.id, ou.parent_id, ou.cancellation_settings, 1 AS depth
			FROM org_units ou
			JOIN locations l ON l.org_unit_id = ou.id
			WHERE l.id = $1
			UNION ALL
			SELECT p.id, p.parent_id, p.cancellation_settings, c.depth + 1
			FROM org_units p
			JOIN chain c ON p.id = c.parent_id
			WHERE c.depth < 32
		)
		SELECT id, cancellation_settings FROM chain ORDER BY depth
	`
	rows, err := r.dbpool.QueryContext(ctx, query, locationID)
	if err != nil {
		return nil, mapError(err, "查询组织单元取消策略失败")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  int64
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, mapError(err, "读取组织单元取消策略失败")
		}
		s, err := decodeSettings(raw)
		if err != nil {
			return nil, err
		}
		chain = append(chain, domain.PolicyNode{Source: "org_unit:" + strconv.FormatInt(id, 10), Settings: s})
	}

	if err := rows.Err(); err != nil {
		return nil, mapError(err, "读取组织单元取消策略失败")
	}

	return chain, nil
}
