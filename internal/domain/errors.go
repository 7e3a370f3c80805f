package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("记录不存在")
	ErrForbidden            = errors.New("权限不足")
	ErrInvalidInterval      = errors.New("开始时间必须早于结束时间")
	ErrOutsideSlot          = errors.New("预约时间必须位于时间段之内")
	ErrSlotDeleted          = errors.New("时间段已被删除")
	ErrSlotInUse            = errors.New("时间段仍有有效预约，无法删除")
	ErrCapacityExceeded     = errors.New("时间段已无空余席位")
	ErrWorkerDoubleBooked   = errors.New("该员工在此时间已有其他预约")
	ErrWorkerAlreadyOnShift = errors.New("该员工已有正在进行的班次")
	ErrPersistenceConflict  = errors.New("数据已被其他请求修改，请重试")
	ErrPolicyResolution     = errors.New("无法解析取消策略")
	ErrAlreadyModerated     = errors.New("该取消记录无需审核或已审核")
	ErrInvalidRange         = errors.New("日期范围不合法")
	ErrInvalidCapacity      = errors.New("席位数量至少为 1")
	ErrInvalidTimezone      = errors.New("时区不合法")
	ErrInvalidRecurrence    = errors.New("重复规则不合法")
)

type AllocationErrorKind string

const (
	AllocationCapacityExceeded   AllocationErrorKind = "capacity_exceeded"
	AllocationWorkerDoubleBooked AllocationErrorKind = "worker_double_booked"
)

// AllocationError 标明预约被拒绝时违反的是哪一条约束
type AllocationError struct {
	Kind AllocationErrorKind
	// 冲突的预约，席位不足时为空
	ConflictingBookingID int64
}

func (e *AllocationError) Error() string {
	switch e.Kind {
	case AllocationWorkerDoubleBooked:
		return ErrWorkerDoubleBooked.Error()
	default:
		return ErrCapacityExceeded.Error()
	}
}

func (e *AllocationError) Unwrap() error {
	switch e.Kind {
	case AllocationWorkerDoubleBooked:
		return ErrWorkerDoubleBooked
	default:
		return ErrCapacityExceeded
	}
}

type Transition string

const (
	TransitionPlan   Transition = "plan"
	TransitionOpen   Transition = "open"
	TransitionClose  Transition = "close"
	TransitionCancel Transition = "cancel"
)

// InvalidTransitionError 说明调用方读到的状态已经过期，不应盲目重试
type InvalidTransitionError struct {
	Transition Transition
	From       string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("无法在状态 %s 下执行 %s", e.From, e.Transition)
}

func IsInvalidTransition(err error) bool {
	var target *InvalidTransitionError
	return errors.As(err, &target)
}
