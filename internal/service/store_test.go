package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
)

// memStore 是 Store 的内存实现，读写都返回副本，行为与数据库事务中的加锁读取一致
type memStore struct {
	mu sync.Mutex

	nextID        int64
	users         map[int64]*domain.User
	orgUnits      map[int64]*domain.OrgUnit
	locations     map[int64]*domain.Location
	members       map[[2]int64]*domain.LocationMember
	slots         map[int64]*domain.TimeSlot
	bookings      map[int64]*domain.Booking
	shifts        map[int64]*domain.ShiftInstance
	cancellations map[int64]*domain.CancellationRecord

	// 接下来若干次写操作返回 ErrPersistenceConflict
	conflicts int
	// 列表查询次数，用来判断读请求是否命中缓存
	reads int
}

var _ Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		nextID:        1000,
		users:         map[int64]*domain.User{},
		orgUnits:      map[int64]*domain.OrgUnit{},
		locations:     map[int64]*domain.Location{},
		members:       map[[2]int64]*domain.LocationMember{},
		slots:         map[int64]*domain.TimeSlot{},
		bookings:      map[int64]*domain.Booking{},
		shifts:        map[int64]*domain.ShiftInstance{},
		cancellations: map[int64]*domain.CancellationRecord{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) conflict() error {
	if m.conflicts > 0 {
		m.conflicts--
		return domain.ErrPersistenceConflict
	}
	return nil
}

func cp[T any](v *T) *T {
	c := *v
	return &c
}

func (m *memStore) GetUserByID(_ context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cp(u), nil
}

func (m *memStore) CreateOrgUnit(_ context.Context, unit *domain.OrgUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	unit.ID = m.id()
	m.orgUnits[unit.ID] = cp(unit)
	return nil
}

func (m *memStore) CreateLocation(_ context.Context, loc *domain.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc.ID = m.id()
	m.locations[loc.ID] = cp(loc)
	return nil
}

func (m *memStore) GetLocationByID(_ context.Context, id int64) (*domain.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc, ok := m.locations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cp(loc), nil
}

func (m *memStore) GetAllLocations(_ context.Context) ([]*domain.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.Location{}
	for _, loc := range m.locations {
		out = append(out, cp(loc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpsertLocationMember(_ context.Context, member *domain.LocationMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[[2]int64{member.LocationID, member.UserID}] = cp(member)
	return nil
}

func (m *memStore) GetLocationMember(_ context.Context, locationID, userID int64) (*domain.LocationMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[[2]int64{locationID, userID}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cp(member), nil
}

func (m *memStore) CreateTimeSlots(_ context.Context, slots []*domain.TimeSlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, slot := range slots {
		slot.ID = m.id()
		m.slots[slot.ID] = cp(slot)
	}
	return nil
}

func (m *memStore) GetTimeSlotByID(_ context.Context, id int64) (*domain.TimeSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cp(slot), nil
}

func (m *memStore) ListTimeSlots(_ context.Context, locationID int64, from, to string) ([]*domain.TimeSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	out := []*domain.TimeSlot{}
	for _, slot := range m.slots {
		if slot.LocationID == locationID && slot.Date >= from && slot.Date <= to && !slot.IsDeleted() {
			out = append(out, cp(slot))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

func (m *memStore) activeForSlot(slotID int64) []*domain.Booking {
	out := []*domain.Booking{}
	for _, b := range m.bookings {
		if b.TimeSlotID == slotID && b.Active() {
			out = append(out, cp(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) UpdateTimeSlot(_ context.Context, id int64, mutate func(slot *domain.TimeSlot, bookings []*domain.Booking) error) (*domain.TimeSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.slots[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	slot := cp(stored)
	if err := mutate(slot, m.activeForSlot(id)); err != nil {
		return nil, err
	}
	if err := m.conflict(); err != nil {
		return nil, err
	}
	slot.Version++
	m.slots[id] = cp(slot)
	return slot, nil
}

func (m *memStore) DeleteTimeSlot(ctx context.Context, id int64, at time.Time) (*domain.TimeSlot, error) {
	return m.UpdateTimeSlot(ctx, id, func(slot *domain.TimeSlot, bookings []*domain.Booking) error {
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

func (m *memStore) AllocateBooking(_ context.Context, slotID, workerID int64, decide func(slot *domain.TimeSlot, slotBookings, workerBookings []*domain.Booking) (*domain.Booking, error)) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.slots[slotID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	slot := cp(stored)

	workerBookings := []*domain.Booking{}
	for _, b := range m.bookings {
		if b.WorkerID == workerID && b.Active() && b.Overlaps(slot.StartAt, slot.EndAt) {
			workerBookings = append(workerBookings, cp(b))
		}
	}

	b, err := decide(slot, m.activeForSlot(slotID), workerBookings)
	if err != nil {
		return nil, err
	}
	if err := m.conflict(); err != nil {
		return nil, err
	}
	b.ID = m.id()
	b.Version = 1
	m.bookings[b.ID] = cp(b)
	return b, nil
}

func (m *memStore) GetBookingByID(_ context.Context, id int64) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cp(b), nil
}

func (m *memStore) ListActiveBookingsForSlot(_ context.Context, slotID int64) ([]*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	return m.activeForSlot(slotID), nil
}

func (m *memStore) ListBookingsForSlot(_ context.Context, slotID int64) ([]*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.Booking{}
	for _, b := range m.bookings {
		if b.TimeSlotID == slotID {
			out = append(out, cp(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListBookingsForLocation(_ context.Context, locationID int64, from, to string) ([]*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	out := []*domain.Booking{}
	for _, b := range m.bookings {
		slot := m.slots[b.TimeSlotID]
		if b.LocationID == locationID && slot != nil && slot.Date >= from && slot.Date <= to {
			out = append(out, cp(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) openFor(workerID int64) *domain.ShiftInstance {
	for _, inst := range m.shifts {
		if inst.WorkerID == workerID && inst.IsOpen() {
			return cp(inst)
		}
	}
	return nil
}

func (m *memStore) OpenShift(_ context.Context, bookingID int64, transition func(b *domain.Booking, current *domain.ShiftInstance) (*domain.ShiftInstance, error)) (*domain.ShiftInstance, *domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.bookings[bookingID]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	b := cp(stored)
	inst, err := transition(b, m.openFor(b.WorkerID))
	if err != nil {
		return nil, nil, err
	}
	if err := m.conflict(); err != nil {
		return nil, nil, err
	}
	inst.ID = m.id()
	m.bookings[b.ID] = cp(b)
	m.shifts[inst.ID] = cp(inst)
	return inst, b, nil
}

func (m *memStore) OpenSpontaneousShift(_ context.Context, workerID int64, transition func(current *domain.ShiftInstance) (*domain.ShiftInstance, error)) (*domain.ShiftInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, err := transition(m.openFor(workerID))
	if err != nil {
		return nil, err
	}
	inst.ID = m.id()
	m.shifts[inst.ID] = cp(inst)
	return inst, nil
}

func (m *memStore) CloseShift(_ context.Context, instanceID int64, transition func(inst *domain.ShiftInstance, b *domain.Booking) (bool, error)) (*domain.ShiftInstance, *domain.Booking, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.shifts[instanceID]
	if !ok {
		return nil, nil, false, domain.ErrNotFound
	}
	inst := cp(stored)
	var b *domain.Booking
	if inst.BookingID != nil {
		b = cp(m.bookings[*inst.BookingID])
	}

	changed, err := transition(inst, b)
	if err != nil {
		return nil, nil, false, err
	}
	if changed {
		if err := m.conflict(); err != nil {
			return nil, nil, false, err
		}
		if err := checkClosedAfterStart(inst); err != nil {
			return nil, nil, false, err
		}
		m.shifts[inst.ID] = cp(inst)
		if b != nil {
			m.bookings[b.ID] = cp(b)
		}
	}
	return inst, b, changed, nil
}

func (m *memStore) CancelBooking(_ context.Context, bookingID int64, transition func(b *domain.Booking, inst *domain.ShiftInstance) (*domain.CancellationRecord, error)) (*domain.CancellationRecord, *domain.Booking, *domain.ShiftInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.bookings[bookingID]
	if !ok {
		return nil, nil, nil, domain.ErrNotFound
	}
	b := cp(stored)
	var inst *domain.ShiftInstance
	for _, s := range m.shifts {
		if s.BookingID != nil && *s.BookingID == bookingID {
			inst = cp(s)
		}
	}

	rec, err := transition(b, inst)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := m.conflict(); err != nil {
		return nil, nil, nil, err
	}
	rec.ID = m.id()
	m.bookings[b.ID] = cp(b)
	if inst != nil {
		m.shifts[inst.ID] = cp(inst)
	}
	m.cancellations[rec.ID] = cp(rec)
	return rec, b, inst, nil
}

func (m *memStore) CancelShift(_ context.Context, instanceID int64, transition func(inst *domain.ShiftInstance) (*domain.CancellationRecord, error)) (*domain.CancellationRecord, *domain.ShiftInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.shifts[instanceID]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	inst := cp(stored)

	rec, err := transition(inst)
	if err != nil {
		return nil, nil, err
	}
	if err := m.conflict(); err != nil {
		return nil, nil, err
	}
	if err := checkClosedAfterStart(inst); err != nil {
		return nil, nil, err
	}
	rec.ID = m.id()
	m.shifts[inst.ID] = cp(inst)
	m.cancellations[rec.ID] = cp(rec)
	return rec, inst, nil
}

// checkClosedAfterStart 对应 shift_instances_closed_after_start 约束
func checkClosedAfterStart(inst *domain.ShiftInstance) error {
	if inst.ClosedAt != nil && inst.ClosedAt.Before(inst.ActualStartAt) {
		return domain.ErrInvalidInterval
	}
	return nil
}

func (m *memStore) GetShiftByID(_ context.Context, id int64) (*domain.ShiftInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.shifts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cp(inst), nil
}

func (m *memStore) GetShiftByBookingID(_ context.Context, bookingID int64) (*domain.ShiftInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range m.shifts {
		if inst.BookingID != nil && *inst.BookingID == bookingID {
			return cp(inst), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) GetOpenShiftForWorker(_ context.Context, workerID int64) (*domain.ShiftInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst := m.openFor(workerID); inst != nil {
		return inst, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) listShifts(match func(*domain.ShiftInstance) bool, from, to time.Time) []*domain.ShiftInstance {
	out := []*domain.ShiftInstance{}
	for _, inst := range m.shifts {
		if match(inst) && !inst.ActualStartAt.Before(from) && inst.ActualStartAt.Before(to) {
			out = append(out, cp(inst))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) ListShiftsForWorker(_ context.Context, workerID int64, from, to time.Time) ([]*domain.ShiftInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	return m.listShifts(func(inst *domain.ShiftInstance) bool { return inst.WorkerID == workerID }, from, to), nil
}

func (m *memStore) ListShiftsForLocation(_ context.Context, locationID int64, from, to time.Time) ([]*domain.ShiftInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	return m.listShifts(func(inst *domain.ShiftInstance) bool { return inst.LocationID == locationID }, from, to), nil
}

func (m *memStore) GetCancellationByID(_ context.Context, id int64) (*domain.CancellationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.cancellations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cp(rec), nil
}

func (m *memStore) ModerateCancellation(_ context.Context, id int64, moderate func(rec *domain.CancellationRecord) error) (*domain.CancellationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.cancellations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	rec := cp(stored)
	if err := moderate(rec); err != nil {
		return nil, err
	}
	m.cancellations[id] = cp(rec)
	return rec, nil
}

func (m *memStore) ListCancellationsForLocation(_ context.Context, locationID int64, moderation domain.ModerationStatus) ([]*domain.CancellationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.CancellationRecord{}
	for _, rec := range m.cancellations {
		if rec.LocationID == locationID && (moderation == "" || rec.Moderation == moderation) {
			out = append(out, cp(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
