package handler

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/capacity"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/config"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/service"
)

type UserStore interface {
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	CreateUser(ctx context.Context, user *domain.User) error
	UpdateUser(ctx context.Context, user *domain.User) error
}

// Scheduler 是 handler 依赖的排班服务，由 *service.Scheduler 实现
type Scheduler interface {
	Allocate(ctx context.Context, actorID int64, req service.AllocateRequest) (*domain.Booking, error)
	Cancel(ctx context.Context, actorID int64, req service.CancelRequest) (*domain.CancellationRecord, error)
	CancelShift(ctx context.Context, actorID int64, req service.CancelShiftRequest) (*domain.CancellationRecord, error)
	ModerateCancellation(ctx context.Context, actorID, cancellationID int64, approve bool) (*domain.CancellationRecord, error)

	OpenShift(ctx context.Context, actorID, bookingID int64, coords *domain.Coordinates) (*domain.ShiftInstance, error)
	CloseShift(ctx context.Context, actorID, instanceID int64, coords *domain.Coordinates) (*domain.ShiftInstance, error)
	OpenSpontaneous(ctx context.Context, actorID, locationID int64, coords *domain.Coordinates) (*domain.ShiftInstance, error)
	ActiveShift(ctx context.Context, workerID int64) (*domain.ShiftInstance, error)

	Capacity(ctx context.Context, viewerID, timeSlotID int64) (*capacity.Result, error)
	CapacityAt(ctx context.Context, viewerID, timeSlotID int64, asOf time.Time) (*capacity.Result, error)
	ListTimeSlots(ctx context.Context, viewerID, locationID int64, from, to string) ([]*domain.TimeSlot, error)
	ListShifts(ctx context.Context, viewerID int64, q service.ShiftQuery) ([]*domain.ShiftInstance, error)
	Calendar(ctx context.Context, viewerID, locationID int64, from, to string) ([]service.CalendarDay, error)
	ListCancellations(ctx context.Context, viewerID, locationID int64, moderation domain.ModerationStatus) ([]*domain.CancellationRecord, error)

	CreateTimeSlots(ctx context.Context, actorID int64, req service.CreateTimeSlotsRequest) ([]*domain.TimeSlot, error)
	UpdateTimeSlot(ctx context.Context, actorID, timeSlotID int64, req service.UpdateTimeSlotRequest) (*domain.TimeSlot, error)
	DeleteTimeSlot(ctx context.Context, actorID, timeSlotID int64) error

	CreateOrgUnit(ctx context.Context, actorID int64, unit *domain.OrgUnit) error
	CreateLocation(ctx context.Context, actorID int64, loc *domain.Location) error
	ListLocations(ctx context.Context, viewerID int64) ([]*domain.Location, error)
	AddLocationMember(ctx context.Context, actorID int64, m *domain.LocationMember) error
}

var _ Scheduler = (*service.Scheduler)(nil)

type Handler struct {
	validate   *validator.Validate
	config     *config.Config
	users      UserStore
	scheduler  Scheduler
	translator ut.Translator

	Mux *chi.Mux
}

func NewHandler(cfg *config.Config, users UserStore, scheduler Scheduler) (*Handler, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	zh := zh.New()
	uni := ut.New(zh, zh)
	trans, _ := uni.GetTranslator("zh")
	if err := zh_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, err
	}

	return &Handler{
		validate:   validate,
		config:     cfg,
		users:      users,
		scheduler:  scheduler,
		translator: trans,

		Mux: chi.NewRouter(),
	}, nil
}

func (h *Handler) RegisterRoutes() {
	h.Mux.Use(h.logger)
	h.Mux.Use(h.recoverer)
	h.Mux.Use(cors.New(cors.Options{
		AllowedOrigins:   h.config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE"},
		AllowCredentials: true,
	}).Handler)

	h.Mux.Handle("/metrics", promhttp.Handler())

	// 认证相关
	h.Mux.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
	})

	// 以下 API 必须要在登录后才允许调用
	h.Mux.Group(func(r chi.Router) {
		r.Use(h.auth)
		r.Route("/my-info", func(r chi.Router) {
			r.Use(h.myInfo)
			r.Get("/", h.GetMyInfo)
			r.Patch("/password", h.UpdateMyPassword)
			r.Get("/active-shift", h.GetMyActiveShift)
		})

		r.With(h.RequiredRole([]domain.Role{domain.RoleOwner})).Post("/users", h.CreateUser)
		r.With(h.RequiredRole([]domain.Role{domain.RoleOwner})).Post("/org-units", h.CreateOrgUnit)

		r.Route("/locations", func(r chi.Router) {
			r.With(h.RequiredRole([]domain.Role{domain.RoleOwner})).Post("/", h.CreateLocation)
			r.Get("/", h.ListLocations)
			r.Route("/{id}", func(r chi.Router) {
				r.Post("/members", h.AddLocationMember)
				r.Get("/time-slots", h.ListTimeSlots)
				r.Post("/time-slots", h.CreateTimeSlots)
				r.Get("/calendar", h.GetCalendar)
				r.Get("/cancellations", h.ListCancellations)
			})
		})

		r.Route("/time-slots/{id}", func(r chi.Router) {
			r.Get("/capacity", h.GetCapacity)
			r.Patch("/", h.UpdateTimeSlot)
			r.Delete("/", h.DeleteTimeSlot)
		})

		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", h.Allocate)
			r.Post("/{id}/open", h.OpenShift)
			r.Post("/{id}/cancel", h.CancelBooking)
		})

		r.Route("/shifts", func(r chi.Router) {
			r.Get("/", h.ListShifts)
			r.Post("/spontaneous", h.OpenSpontaneousShift)
			r.Post("/{id}/close", h.CloseShift)
			r.Post("/{id}/cancel", h.CancelShift)
		})

		r.Post("/cancellations/{id}/moderate", h.ModerateCancellation)
	})
}
