// Package service 编排排班核心的读写流程：
// 写操作经过分配/取消策略与状态机后落库，成功后先使缓存失效再返回，最后发布领域事件；
// 读操作先查缓存，未命中时从持久化数据计算。
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/cache"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/metrics"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/reconciler"
)

type Store interface {
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)

	CreateOrgUnit(ctx context.Context, unit *domain.OrgUnit) error
	CreateLocation(ctx context.Context, loc *domain.Location) error
	GetLocationByID(ctx context.Context, id int64) (*domain.Location, error)
	GetAllLocations(ctx context.Context) ([]*domain.Location, error)
	UpsertLocationMember(ctx context.Context, m *domain.LocationMember) error
	GetLocationMember(ctx context.Context, locationID, userID int64) (*domain.LocationMember, error)

	CreateTimeSlots(ctx context.Context, slots []*domain.TimeSlot) error
	GetTimeSlotByID(ctx context.Context, id int64) (*domain.TimeSlot, error)
	ListTimeSlots(ctx context.Context, locationID int64, from, to string) ([]*domain.TimeSlot, error)
	UpdateTimeSlot(ctx context.Context, id int64, mutate func(slot *domain.TimeSlot, bookings []*domain.Booking) error) (*domain.TimeSlot, error)
	DeleteTimeSlot(ctx context.Context, id int64, at time.Time) (*domain.TimeSlot, error)

	AllocateBooking(ctx context.Context, slotID, workerID int64, decide func(slot *domain.TimeSlot, slotBookings, workerBookings []*domain.Booking) (*domain.Booking, error)) (*domain.Booking, error)
	GetBookingByID(ctx context.Context, id int64) (*domain.Booking, error)
	ListActiveBookingsForSlot(ctx context.Context, slotID int64) ([]*domain.Booking, error)
	ListBookingsForSlot(ctx context.Context, slotID int64) ([]*domain.Booking, error)
	ListBookingsForLocation(ctx context.Context, locationID int64, from, to string) ([]*domain.Booking, error)

	OpenShift(ctx context.Context, bookingID int64, transition func(b *domain.Booking, current *domain.ShiftInstance) (*domain.ShiftInstance, error)) (*domain.ShiftInstance, *domain.Booking, error)
	OpenSpontaneousShift(ctx context.Context, workerID int64, transition func(current *domain.ShiftInstance) (*domain.ShiftInstance, error)) (*domain.ShiftInstance, error)
	CloseShift(ctx context.Context, instanceID int64, transition func(inst *domain.ShiftInstance, b *domain.Booking) (bool, error)) (*domain.ShiftInstance, *domain.Booking, bool, error)
	CancelBooking(ctx context.Context, bookingID int64, transition func(b *domain.Booking, inst *domain.ShiftInstance) (*domain.CancellationRecord, error)) (*domain.CancellationRecord, *domain.Booking, *domain.ShiftInstance, error)
	CancelShift(ctx context.Context, instanceID int64, transition func(inst *domain.ShiftInstance) (*domain.CancellationRecord, error)) (*domain.CancellationRecord, *domain.ShiftInstance, error)
	GetShiftByID(ctx context.Context, id int64) (*domain.ShiftInstance, error)
	GetShiftByBookingID(ctx context.Context, bookingID int64) (*domain.ShiftInstance, error)
	GetOpenShiftForWorker(ctx context.Context, workerID int64) (*domain.ShiftInstance, error)
	ListShiftsForWorker(ctx context.Context, workerID int64, from, to time.Time) ([]*domain.ShiftInstance, error)
	ListShiftsForLocation(ctx context.Context, locationID int64, from, to time.Time) ([]*domain.ShiftInstance, error)

	GetCancellationByID(ctx context.Context, id int64) (*domain.CancellationRecord, error)
	ModerateCancellation(ctx context.Context, id int64, moderate func(rec *domain.CancellationRecord) error) (*domain.CancellationRecord, error)
	ListCancellationsForLocation(ctx context.Context, locationID int64, moderation domain.ModerationStatus) ([]*domain.CancellationRecord, error)
}

type PolicyResolver interface {
	ResolveForLocation(ctx context.Context, locationID int64) domain.CancellationPolicy
}

type Publisher interface {
	Publish(ctx context.Context, e domain.Event) error
}

type Options struct {
	ConflictRetries int
	MaxRangeDays    int
	// 不属于某个地点的查询（例如员工本人的班次）按此时区解析日期
	Location *time.Location
}

type Scheduler struct {
	store     Store
	cache     *cache.Layer
	policies  PolicyResolver
	publisher Publisher
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

var _ reconciler.Applier = (*Scheduler)(nil)

func New(store Store, layer *cache.Layer, policies PolicyResolver, publisher Publisher, opts Options, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxRangeDays <= 0 {
		opts.MaxRangeDays = 62
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Scheduler{
		store:     store,
		cache:     layer,
		policies:  policies,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// withRetry 在遇到乐观锁冲突时重新执行 fn（fn 内部会重新读取数据），
// 其他错误直接返回，业务规则错误不会被重试
func (s *Scheduler) withRetry(op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= s.opts.ConflictRetries; attempt++ {
		err = fn()
		if !errors.Is(err, domain.ErrPersistenceConflict) {
			return err
		}
		metrics.PersistenceConflict()
		s.logger.Warn("数据冲突，重新读取后重试", slog.String("op", op), slog.Int("attempt", attempt+1))
	}
	return err
}

// invalidate 在写入成功后同步执行，失败时只记录日志，写入本身已经提交
func (s *Scheduler) invalidate(ctx context.Context, tags ...string) {
	_ = s.cache.Invalidate(ctx, tags...)
}

func bookingTags(b *domain.Booking, slot *domain.TimeSlot) []string {
	tags := []string{cache.TagSlot(b.TimeSlotID), cache.TagWorker(b.WorkerID)}
	if slot != nil {
		tags = append(tags, cache.TagLocationDate(slot.LocationID, slot.Date))
	}
	return tags
}

// bookingScopeTags 返回一次预约变更影响的全部缓存标签
func (s *Scheduler) bookingScopeTags(ctx context.Context, b *domain.Booking) []string {
	slot, err := s.store.GetTimeSlotByID(ctx, b.TimeSlotID)
	if err != nil {
		s.logger.Warn("无法读取时间段，按预约开始日期失效缓存", slog.Int64("time_slot_id", b.TimeSlotID), "error", err)
		return append(bookingTags(b, nil), cache.TagLocationDate(b.LocationID, b.StartAt.Format(domain.DateLayout)))
	}
	return bookingTags(b, slot)
}

func (s *Scheduler) publish(ctx context.Context, t domain.EventType, payload any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, domain.NewEvent(t, s.now(), payload)); err != nil {
		s.logger.Error("发布领域事件失败", slog.String("type", string(t)), "error", err)
	}
}

// membership 返回用户在地点上的成员信息，不是成员时返回 ErrForbidden
func (s *Scheduler) membership(ctx context.Context, userID, locationID int64) (*domain.LocationMember, error) {
	m, err := s.store.GetLocationMember(ctx, locationID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrForbidden
		}
		return nil, err
	}
	return m, nil
}

// HasAccessToLocation 判断用户是否为地点成员
func (s *Scheduler) HasAccessToLocation(ctx context.Context, userID, locationID int64) (bool, error) {
	_, err := s.membership(ctx, userID, locationID)
	if errors.Is(err, domain.ErrForbidden) {
		return false, nil
	}
	return err == nil, err
}

// IsManagerOf 判断用户是否为地点的负责人或管理员
func (s *Scheduler) IsManagerOf(ctx context.Context, userID, locationID int64) (bool, error) {
	m, err := s.membership(ctx, userID, locationID)
	if errors.Is(err, domain.ErrForbidden) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.Role == domain.RoleOwner || m.Role == domain.RoleManager, nil
}

// actorFor 确定 userID 对 workerID 名下数据进行操作时的身份：本人操作视为员工，
// 否则必须是该地点的负责人或管理员
func (s *Scheduler) actorFor(ctx context.Context, userID, workerID, locationID int64) (domain.Actor, error) {
	m, err := s.membership(ctx, userID, locationID)
	if err != nil {
		return domain.Actor{}, err
	}
	if userID == workerID {
		return domain.Actor{ID: userID, Type: domain.ActorWorker}, nil
	}
	if m.Role != domain.RoleOwner && m.Role != domain.RoleManager {
		return domain.Actor{}, domain.ErrForbidden
	}
	return domain.Actor{ID: userID, Type: domain.ActorTypeFromRole(m.Role)}, nil
}

func (s *Scheduler) requireManager(ctx context.Context, userID, locationID int64) (*domain.LocationMember, error) {
	m, err := s.membership(ctx, userID, locationID)
	if err != nil {
		return nil, err
	}
	if m.Role != domain.RoleOwner && m.Role != domain.RoleManager {
		return nil, domain.ErrForbidden
	}
	return m, nil
}
