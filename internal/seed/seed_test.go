package seed

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
)

type fakeStore struct {
	nextID  int64
	users   map[string]*domain.User
	units   []*domain.OrgUnit
	locs    []*domain.Location
	members []*domain.LocationMember
	slots   []*domain.TimeSlot
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[string]*domain.User{}}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) CreateUser(_ context.Context, user *domain.User) error {
	user.ID = f.id()
	f.users[user.Username] = user
	return nil
}

func (f *fakeStore) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	user, ok := f.users[username]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return user, nil
}

func (f *fakeStore) CreateOrgUnit(_ context.Context, unit *domain.OrgUnit) error {
	unit.ID = f.id()
	f.units = append(f.units, unit)
	return nil
}

func (f *fakeStore) CreateLocation(_ context.Context, loc *domain.Location) error {
	loc.ID = f.id()
	f.locs = append(f.locs, loc)
	return nil
}

func (f *fakeStore) UpsertLocationMember(_ context.Context, m *domain.LocationMember) error {
	f.members = append(f.members, m)
	return nil
}

func (f *fakeStore) CreateTimeSlots(_ context.Context, slots []*domain.TimeSlot) error {
	for _, s := range slots {
		s.ID = f.id()
	}
	f.slots = append(f.slots, slots...)
	return nil
}

func TestSeedLocationAndSlots(t *testing.T) {
	store := newFakeStore()
	s := New(store, nil)
	ctx := context.Background()

	loc, err := s.Location(ctx, LocationParams{
		OrgUnitName:        "网络中心",
		Name:               "前台",
		Timezone:           "Asia/Shanghai",
		DefaultClosingTime: "22:00:00",
		OwnerID:            99,
		ShortNoticeFine:    decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	require.Len(t, store.units, 1)
	require.Equal(t, store.units[0].ID, *loc.OrgUnitID)
	require.True(t, loc.Cancellation.Inherit)
	require.Len(t, store.members, 1)
	require.Equal(t, domain.RoleOwner, store.members[0].Role)

	users, err := s.Users(ctx, 3, "password", "example.com")
	require.NoError(t, err)
	require.Len(t, users, 3)
	require.NoError(t, s.Members(ctx, loc.ID, users))
	require.Equal(t, domain.RoleManager, store.members[1].Role)
	require.Equal(t, domain.RoleEmployee, store.members[3].Role)

	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	slots, err := s.Slots(ctx, loc, from, 3, 2, 4)
	require.NoError(t, err)
	require.Len(t, slots, 6)
	for _, slot := range slots {
		require.True(t, slot.StartAt.Before(slot.EndAt))
		require.Equal(t, slot.Date, slot.StartAt.In(loc.TimeLocation()).Format(domain.DateLayout))
		require.Equal(t, int32(4), slot.MaxEmployees)
	}

	_, err = s.Slots(ctx, loc, from, 0, 2, 4)
	require.Error(t, err)
}

func TestImportRoster(t *testing.T) {
	store := newFakeStore()
	store.users["existing"] = &domain.User{ID: 500, Username: "existing"}
	s := New(store, nil)

	csv := strings.Join([]string{
		"NetID,姓名,邮箱,角色,时薪",
		"zhangsan,张三,zhangsan@example.com,employee,25.5",
		"existing,李四,lisi@example.com,manager,",
		",无名,none@example.com,employee,20",
		"wangwu,王五,wangwu@example.com,boss,20",
		"zhaoliu,赵六,zhaoliu@example.com,employee,-1",
	}, "\n")

	n, err := s.ImportRoster(context.Background(), strings.NewReader(csv), 7, "password")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, store.members, 2)

	require.Equal(t, int64(7), store.members[0].LocationID)
	require.Equal(t, domain.RoleEmployee, store.members[0].Role)
	require.True(t, store.members[0].HourlyRate.Equal(decimal.RequireFromString("25.5")))

	require.Equal(t, int64(500), store.members[1].UserID)
	require.Equal(t, domain.RoleManager, store.members[1].Role)
	require.True(t, store.members[1].HourlyRate.IsZero())
}

func TestImportRosterMissingColumn(t *testing.T) {
	s := New(newFakeStore(), nil)
	_, err := s.ImportRoster(context.Background(), strings.NewReader("NetID,姓名\nzhangsan,张三\n"), 1, "password")
	require.Error(t, err)
}
