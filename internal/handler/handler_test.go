package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/capacity"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/config"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/service"
	"golang.org/x/crypto/bcrypt"
)

type stubUsers struct {
	byID map[int64]*domain.User
}

func (s *stubUsers) GetUserByID(_ context.Context, id int64) (*domain.User, error) {
	u, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func (s *stubUsers) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	for _, u := range s.byID {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *stubUsers) CreateUser(_ context.Context, user *domain.User) error {
	user.ID = int64(len(s.byID) + 100)
	s.byID[user.ID] = user
	return nil
}

func (s *stubUsers) UpdateUser(_ context.Context, user *domain.User) error {
	s.byID[user.ID] = user
	return nil
}

// stubScheduler 只实现测试用到的方法，其余方法调用时会 panic
type stubScheduler struct {
	Scheduler

	allocate    func(actorID int64, req service.AllocateRequest) (*domain.Booking, error)
	openShift   func(actorID, bookingID int64, coords *domain.Coordinates) (*domain.ShiftInstance, error)
	listShifts  func(viewerID int64, q service.ShiftQuery) ([]*domain.ShiftInstance, error)
	active      func(workerID int64) (*domain.ShiftInstance, error)
	cancelShift func(actorID int64, req service.CancelShiftRequest) (*domain.CancellationRecord, error)
	capacity    func(viewerID, timeSlotID int64) (*capacity.Result, error)
	capacityAt  func(viewerID, timeSlotID int64, asOf time.Time) (*capacity.Result, error)
}

func (s *stubScheduler) Allocate(_ context.Context, actorID int64, req service.AllocateRequest) (*domain.Booking, error) {
	return s.allocate(actorID, req)
}

func (s *stubScheduler) OpenShift(_ context.Context, actorID, bookingID int64, coords *domain.Coordinates) (*domain.ShiftInstance, error) {
	return s.openShift(actorID, bookingID, coords)
}

func (s *stubScheduler) ListShifts(_ context.Context, viewerID int64, q service.ShiftQuery) ([]*domain.ShiftInstance, error) {
	return s.listShifts(viewerID, q)
}

func (s *stubScheduler) ActiveShift(_ context.Context, workerID int64) (*domain.ShiftInstance, error) {
	return s.active(workerID)
}

func (s *stubScheduler) CancelShift(_ context.Context, actorID int64, req service.CancelShiftRequest) (*domain.CancellationRecord, error) {
	return s.cancelShift(actorID, req)
}

func (s *stubScheduler) Capacity(_ context.Context, viewerID, timeSlotID int64) (*capacity.Result, error) {
	return s.capacity(viewerID, timeSlotID)
}

func (s *stubScheduler) CapacityAt(_ context.Context, viewerID, timeSlotID int64, asOf time.Time) (*capacity.Result, error) {
	return s.capacityAt(viewerID, timeSlotID, asOf)
}

type testEnv struct {
	h         *Handler
	users     *stubUsers
	scheduler *stubScheduler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)

	users := &stubUsers{byID: map[int64]*domain.User{
		1: {ID: 1, Username: "owner", PasswordHash: string(hash), Role: domain.RoleOwner, IsActive: true},
		3: {ID: 3, Username: "worker", PasswordHash: string(hash), Role: domain.RoleEmployee, IsActive: true},
		4: {ID: 4, Username: "retired", PasswordHash: string(hash), Role: domain.RoleEmployee, IsActive: false},
	}}

	cfg := &config.Config{}
	cfg.JWT.Secret = "test-secret"
	cfg.JWT.Expiration = 3600
	cfg.CORS.AllowedOrigins = []string{"http://localhost:5173"}

	scheduler := &stubScheduler{}
	h, err := NewHandler(cfg, users, scheduler)
	require.NoError(t, err)
	h.RegisterRoutes()

	return &testEnv{h: h, users: users, scheduler: scheduler}
}

func (e *testEnv) do(t *testing.T, userID int64, method, path string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != 0 {
		token, _, err := e.h.signToken(e.users.byID[userID])
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: tokenCookieName, Value: token})
	}

	rec := httptest.NewRecorder()
	e.h.Mux.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, 0, http.MethodGet, "/shifts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, resp.Success)
	require.Equal(t, "用户未登录", resp.Message)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, 0, http.MethodPost, "/auth/login", map[string]string{"username": "worker", "password": "password123"})
	require.True(t, resp.Success)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, tokenCookieName, cookies[0].Name)
	require.True(t, cookies[0].HttpOnly)

	_, resp = env.do(t, 0, http.MethodPost, "/auth/login", map[string]string{"username": "worker", "password": "wrong-password"})
	require.False(t, resp.Success)
	require.Equal(t, "用户名不存在或密码错误", resp.Message)

	_, resp = env.do(t, 0, http.MethodPost, "/auth/login", map[string]string{"username": "retired", "password": "password123"})
	require.False(t, resp.Success)
	require.Equal(t, "账号已停用", resp.Message)
}

func TestAllocateDefaultsToSelf(t *testing.T) {
	env := newTestEnv(t)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	var got service.AllocateRequest
	env.scheduler.allocate = func(actorID int64, req service.AllocateRequest) (*domain.Booking, error) {
		require.Equal(t, int64(3), actorID)
		got = req
		return &domain.Booking{ID: 20, WorkerID: req.WorkerID, StartAt: req.StartAt, EndAt: req.EndAt, Status: domain.BookingPlanned}, nil
	}

	_, resp := env.do(t, 3, http.MethodPost, "/bookings", map[string]any{
		"timeSlotID": 100,
		"startAt":    start,
		"endAt":      start.Add(3 * time.Hour),
	})
	require.True(t, resp.Success, resp.Message)
	require.Equal(t, int64(3), got.WorkerID)
	require.Equal(t, int64(100), got.TimeSlotID)
	require.True(t, got.StartAt.Equal(start))
}

func TestAllocateValidation(t *testing.T) {
	env := newTestEnv(t)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	_, resp := env.do(t, 3, http.MethodPost, "/bookings", map[string]any{
		"timeSlotID": 100,
		"startAt":    start,
		"endAt":      start.Add(-time.Hour),
	})
	require.False(t, resp.Success)
	require.Empty(t, resp.Code)
}

func TestServiceErrorCodes(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	body := map[string]any{"timeSlotID": 100, "startAt": start, "endAt": start.Add(time.Hour)}

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"capacity", &domain.AllocationError{Kind: domain.AllocationCapacityExceeded}, http.StatusOK, "capacity_exceeded"},
		{"double booked", &domain.AllocationError{Kind: domain.AllocationWorkerDoubleBooked, ConflictingBookingID: 7}, http.StatusOK, "worker_double_booked"},
		{"forbidden", domain.ErrForbidden, http.StatusOK, "forbidden"},
		{"conflict", domain.ErrPersistenceConflict, http.StatusOK, "persistence_conflict"},
		{"transition", &domain.InvalidTransitionError{Transition: domain.TransitionPlan, From: "closed"}, http.StatusOK, "invalid_transition"},
		{"internal", errors.New("connection reset"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.scheduler.allocate = func(int64, service.AllocateRequest) (*domain.Booking, error) {
				return nil, tt.err
			}

			rec, resp := env.do(t, 3, http.MethodPost, "/bookings", body)
			require.Equal(t, tt.status, rec.Code)
			require.False(t, resp.Success)
			require.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestOpenShiftWithoutBody(t *testing.T) {
	env := newTestEnv(t)
	env.scheduler.openShift = func(actorID, bookingID int64, coords *domain.Coordinates) (*domain.ShiftInstance, error) {
		require.Equal(t, int64(3), actorID)
		require.Equal(t, int64(20), bookingID)
		require.Nil(t, coords)
		return &domain.ShiftInstance{ID: 1, WorkerID: 3, Status: domain.ShiftOpen}, nil
	}

	_, resp := env.do(t, 3, http.MethodPost, "/bookings/20/open", nil)
	require.True(t, resp.Success, resp.Message)

	_, resp = env.do(t, 3, http.MethodPost, "/bookings/abc/open", nil)
	require.False(t, resp.Success)
}

func TestOpenShiftRejectsBadCoordinates(t *testing.T) {
	env := newTestEnv(t)

	_, resp := env.do(t, 3, http.MethodPost, "/bookings/20/open", map[string]any{
		"coordinates": map[string]float64{"latitude": 120, "longitude": 10},
	})
	require.False(t, resp.Success)
}

func TestListShiftsScope(t *testing.T) {
	env := newTestEnv(t)

	var got service.ShiftQuery
	env.scheduler.listShifts = func(viewerID int64, q service.ShiftQuery) ([]*domain.ShiftInstance, error) {
		got = q
		return []*domain.ShiftInstance{}, nil
	}

	_, resp := env.do(t, 3, http.MethodGet, "/shifts?from=2026-03-01&to=2026-03-07", nil)
	require.True(t, resp.Success)
	require.Equal(t, service.ShiftScopeWorker, got.Scope)
	require.Equal(t, "2026-03-01", got.From)

	_, resp = env.do(t, 3, http.MethodGet, "/shifts?scope=location&locationID=10&from=2026-03-01&to=2026-03-07", nil)
	require.True(t, resp.Success)
	require.Equal(t, service.ShiftScopeLocation, got.Scope)
	require.Equal(t, int64(10), got.LocationID)

	_, resp = env.do(t, 3, http.MethodGet, "/shifts?scope=location", nil)
	require.False(t, resp.Success)
	require.Equal(t, "地点ID无效", resp.Message)
}

func TestOwnerOnlyRoutes(t *testing.T) {
	env := newTestEnv(t)

	body := map[string]string{
		"username": "newbie",
		"password": "password123",
		"fullName": "新人",
		"email":    "newbie@example.com",
		"role":     "employee",
	}
	_, resp := env.do(t, 3, http.MethodPost, "/users", body)
	require.False(t, resp.Success)
	require.Equal(t, "权限不足", resp.Message)

	_, resp = env.do(t, 1, http.MethodPost, "/users", body)
	require.True(t, resp.Success, resp.Message)
	created, err := env.users.GetUserByUsername(context.Background(), "newbie")
	require.NoError(t, err)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("password123")))
}

func TestActiveShift(t *testing.T) {
	env := newTestEnv(t)
	env.scheduler.active = func(workerID int64) (*domain.ShiftInstance, error) {
		return nil, domain.ErrNotFound
	}

	_, resp := env.do(t, 3, http.MethodGet, "/my-info/active-shift", nil)
	require.True(t, resp.Success)
	require.Nil(t, resp.Data)
}

func TestCancelShift(t *testing.T) {
	env := newTestEnv(t)

	var got service.CancelShiftRequest
	env.scheduler.cancelShift = func(actorID int64, req service.CancelShiftRequest) (*domain.CancellationRecord, error) {
		require.Equal(t, int64(3), actorID)
		got = req
		shiftID := req.ShiftID
		return &domain.CancellationRecord{ID: 1, ShiftInstanceID: &shiftID, Moderation: domain.ModerationPending}, nil
	}

	_, resp := env.do(t, 3, http.MethodPost, "/shifts/9/cancel", map[string]string{"reasonCode": "sick", "notes": "发烧"})
	require.True(t, resp.Success, resp.Message)
	require.Equal(t, int64(9), got.ShiftID)
	require.Equal(t, "sick", got.ReasonCode)

	_, resp = env.do(t, 3, http.MethodPost, "/shifts/9/cancel", map[string]string{})
	require.False(t, resp.Success)
}

func TestGetCapacityAsOf(t *testing.T) {
	env := newTestEnv(t)
	asOf := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	current, past := 0, 0
	env.scheduler.capacity = func(viewerID, timeSlotID int64) (*capacity.Result, error) {
		current++
		return &capacity.Result{TimeSlotID: timeSlotID}, nil
	}
	env.scheduler.capacityAt = func(viewerID, timeSlotID int64, at time.Time) (*capacity.Result, error) {
		past++
		require.True(t, at.Equal(asOf))
		return &capacity.Result{TimeSlotID: timeSlotID}, nil
	}

	_, resp := env.do(t, 3, http.MethodGet, "/time-slots/100/capacity", nil)
	require.True(t, resp.Success, resp.Message)
	_, resp = env.do(t, 3, http.MethodGet, "/time-slots/100/capacity?asOf="+asOf.Format(time.RFC3339), nil)
	require.True(t, resp.Success, resp.Message)
	require.Equal(t, 1, current)
	require.Equal(t, 1, past)

	_, resp = env.do(t, 3, http.MethodGet, "/time-slots/100/capacity?asOf=yesterday", nil)
	require.False(t, resp.Success)
	require.Equal(t, 1, past)
}

func TestPanicIsRecovered(t *testing.T) {
	env := newTestEnv(t)

	// Calendar 没有在 stub 中实现，调用会 panic
	rec, resp := env.do(t, 3, http.MethodGet, "/locations/10/calendar?from=2026-03-01&to=2026-03-07", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.False(t, resp.Success)
}
