// Package seed 为本地开发生成演示数据：组织单元、地点、成员和未来若干天的时间段
package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/utils"
	"golang.org/x/crypto/bcrypt"
)

type Store interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	CreateOrgUnit(ctx context.Context, unit *domain.OrgUnit) error
	CreateLocation(ctx context.Context, loc *domain.Location) error
	UpsertLocationMember(ctx context.Context, m *domain.LocationMember) error
	CreateTimeSlots(ctx context.Context, slots []*domain.TimeSlot) error
}

type Seeder struct {
	store  Store
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{store: store, logger: logger}
}

// Users 插入 n 个随机员工，单个失败只记录日志
func (s *Seeder) Users(ctx context.Context, n int, password, emailDomain string) ([]*domain.User, error) {
	if n <= 0 {
		return nil, errors.New("请输入合法的用户数量")
	}

	users := make([]*domain.User, 0, n)
	for i := 0; i < n; i++ {
		user, err := utils.GenerateRandomUser(password, emailDomain)
		if err != nil {
			return users, err
		}
		if err := s.store.CreateUser(ctx, user); err != nil {
			s.logger.Error("无法插入用户", slog.String("username", user.Username), "error", err)
			continue
		}
		users = append(users, user)
	}

	s.logger.Info("插入用户成功", slog.Int("count", len(users)))
	return users, nil
}

type LocationParams struct {
	OrgUnitName        string
	Name               string
	Timezone           string
	DefaultClosingTime string
	OwnerID            int64
	ShortNoticeFine    decimal.Decimal
	InvalidReasonFine  decimal.Decimal
}

// Location 创建组织单元及其下属地点，取消策略配置在组织单元上，地点继承
func (s *Seeder) Location(ctx context.Context, p LocationParams) (*domain.Location, error) {
	unit := &domain.OrgUnit{
		Name: p.OrgUnitName,
		Cancellation: &domain.CancellationSettings{
			MinimumNoticeHours: 24,
			ShortNoticeFine:    p.ShortNoticeFine,
			InvalidReasonFine:  p.InvalidReasonFine,
		},
	}
	if err := s.store.CreateOrgUnit(ctx, unit); err != nil {
		return nil, fmt.Errorf("插入组织单元失败: %w", err)
	}

	loc := &domain.Location{
		OrgUnitID:    &unit.ID,
		Name:         p.Name,
		Timezone:     p.Timezone,
		Cancellation: &domain.CancellationSettings{Inherit: true},
	}
	if p.DefaultClosingTime != "" {
		if err := utils.ValidateClosingTime(p.DefaultClosingTime); err != nil {
			return nil, err
		}
		loc.DefaultClosingTime = &p.DefaultClosingTime
	}
	if err := s.store.CreateLocation(ctx, loc); err != nil {
		return nil, fmt.Errorf("插入地点失败: %w", err)
	}

	if p.OwnerID != 0 {
		if err := s.store.UpsertLocationMember(ctx, &domain.LocationMember{
			LocationID: loc.ID,
			UserID:     p.OwnerID,
			Role:       domain.RoleOwner,
		}); err != nil {
			return nil, fmt.Errorf("添加地点负责人失败: %w", err)
		}
	}

	s.logger.Info("插入地点成功", slog.Int64("location_id", loc.ID), slog.String("name", loc.Name))
	return loc, nil
}

// Members 把用户加入地点，第一个用户为管理员，其余为员工
func (s *Seeder) Members(ctx context.Context, locationID int64, users []*domain.User) error {
	for i, user := range users {
		role := domain.RoleEmployee
		if i == 0 {
			role = domain.RoleManager
		}
		if err := s.store.UpsertLocationMember(ctx, &domain.LocationMember{
			LocationID: locationID,
			UserID:     user.ID,
			Role:       role,
			HourlyRate: utils.GenerateRandomHourlyRate(20, 30),
		}); err != nil {
			return fmt.Errorf("添加成员 %s 失败: %w", user.Username, err)
		}
	}
	return nil
}

// Slots 从 from 开始连续 days 天，每天生成 perDay 个随机时间段
func (s *Seeder) Slots(ctx context.Context, loc *domain.Location, from time.Time, days, perDay int, maxEmployees int32) ([]*domain.TimeSlot, error) {
	if days <= 0 || perDay <= 0 {
		return nil, errors.New("请输入合法的天数和时间段数量")
	}

	tz := loc.TimeLocation()
	var slots []*domain.TimeSlot
	for d := 0; d < days; d++ {
		date := from.In(tz).AddDate(0, 0, d).Format(domain.DateLayout)
		for i := 0; i < perDay; i++ {
			startTime, endTime := utils.GenerateRandomSlotWindow()
			start, end, err := utils.ParseSlotWindow(date, startTime, endTime, tz)
			if err != nil {
				return nil, err
			}
			slots = append(slots, &domain.TimeSlot{
				LocationID:   loc.ID,
				Date:         date,
				StartAt:      start,
				EndAt:        end,
				MaxEmployees: maxEmployees,
			})
		}
	}

	if err := s.store.CreateTimeSlots(ctx, slots); err != nil {
		return nil, fmt.Errorf("插入时间段失败: %w", err)
	}

	s.logger.Info("插入时间段成功", slog.Int("count", len(slots)))
	return slots, nil
}

// 花名册的表头，时薪一列可以为空
var rosterHeaders = []string{"NetID", "姓名", "邮箱", "角色", "时薪"}

// ImportRoster 从 CSV 花名册导入用户并加入地点。已存在的用户只更新成员关系
func (s *Seeder) ImportRoster(ctx context.Context, r io.Reader, locationID int64, password string) (int, error) {
	reader := csv.NewReader(r)

	headers, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("读取表头失败: %w", err)
	}
	index := make(map[string]int, len(headers))
	for i, h := range headers {
		index[strings.TrimSpace(h)] = i
	}
	for _, h := range rosterHeaders[:4] {
		if _, ok := index[h]; !ok {
			return 0, fmt.Errorf("没有找到列 %s", h)
		}
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}

	count := 0
	for {
		row, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return count, fmt.Errorf("读取文件失败: %w", err)
		}
		field := func(name string) string {
			i, ok := index[name]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		netID := field("NetID")
		if netID == "" {
			s.logger.Error("没有找到NetID", "row", row)
			continue
		}

		role := domain.Role(field("角色"))
		switch role {
		case domain.RoleOwner, domain.RoleManager, domain.RoleEmployee:
		default:
			s.logger.Error("角色无效", slog.String("netid", netID), slog.String("role", string(role)))
			continue
		}

		rate := decimal.Zero
		if v := field("时薪"); v != "" {
			rate, err = decimal.NewFromString(v)
			if err != nil || rate.IsNegative() {
				s.logger.Error("时薪无效", slog.String("netid", netID), slog.String("rate", v))
				continue
			}
		}

		user, err := s.store.GetUserByUsername(ctx, netID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				s.logger.Error("获取用户失败", slog.String("netid", netID), "error", err)
				continue
			}
			// 表示该用户不在数据库中，需要新建并插入
			user = &domain.User{
				Username:     netID,
				PasswordHash: string(passwordHash),
				FullName:     field("姓名"),
				Email:        field("邮箱"),
				Role:         domain.RoleEmployee,
				IsActive:     true,
			}
			if err := s.store.CreateUser(ctx, user); err != nil {
				s.logger.Error("插入用户失败", slog.String("netid", netID), "error", err)
				continue
			}
		}

		if err := s.store.UpsertLocationMember(ctx, &domain.LocationMember{
			LocationID: locationID,
			UserID:     user.ID,
			Role:       role,
			HourlyRate: rate,
		}); err != nil {
			s.logger.Error("添加成员失败", slog.String("netid", netID), "error", err)
			continue
		}
		count++
	}

	s.logger.Info("导入花名册完成", slog.Int("count", count))
	return count, nil
}
