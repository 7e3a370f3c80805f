package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/utils"
)

// requireOwner 要求用户拥有全局的 owner 角色
func (s *Scheduler) requireOwner(ctx context.Context, userID int64) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.Role != domain.RoleOwner {
		return domain.ErrForbidden
	}
	return nil
}

func (s *Scheduler) CreateOrgUnit(ctx context.Context, actorID int64, unit *domain.OrgUnit) error {
	if err := s.requireOwner(ctx, actorID); err != nil {
		return err
	}
	return s.store.CreateOrgUnit(ctx, unit)
}

// CreateLocation 创建地点，创建者自动成为该地点的负责人
func (s *Scheduler) CreateLocation(ctx context.Context, actorID int64, loc *domain.Location) error {
	if err := s.requireOwner(ctx, actorID); err != nil {
		return err
	}
	if _, err := time.LoadLocation(loc.Timezone); err != nil || loc.Timezone == "" {
		return domain.ErrInvalidTimezone
	}
	if loc.DefaultClosingTime != nil {
		if err := utils.ValidateClosingTime(*loc.DefaultClosingTime); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidInterval, err)
		}
	}
	if err := s.store.CreateLocation(ctx, loc); err != nil {
		return err
	}

	return s.store.UpsertLocationMember(ctx, &domain.LocationMember{
		LocationID: loc.ID,
		UserID:     actorID,
		Role:       domain.RoleOwner,
	})
}

// ListLocations 返回用户有权访问的地点
func (s *Scheduler) ListLocations(ctx context.Context, viewerID int64) ([]*domain.Location, error) {
	all, err := s.store.GetAllLocations(ctx)
	if err != nil {
		return nil, err
	}

	locations := []*domain.Location{}
	for _, loc := range all {
		ok, err := s.HasAccessToLocation(ctx, viewerID, loc.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			locations = append(locations, loc)
		}
	}
	return locations, nil
}

// AddLocationMember 添加或更新地点成员。管理员只能添加普通员工，负责人可以指定任意角色
func (s *Scheduler) AddLocationMember(ctx context.Context, actorID int64, m *domain.LocationMember) error {
	actor, err := s.requireManager(ctx, actorID, m.LocationID)
	if err != nil {
		return err
	}
	if actor.Role != domain.RoleOwner && m.Role != domain.RoleEmployee {
		return domain.ErrForbidden
	}
	if _, err := s.store.GetUserByID(ctx, m.UserID); err != nil {
		return err
	}
	return s.store.UpsertLocationMember(ctx, m)
}
