package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type ModerationStatus string

const (
	ModerationNotRequired ModerationStatus = "not_required"
	ModerationPending     ModerationStatus = "pending"
	ModerationApproved    ModerationStatus = "approved"
	ModerationRejected    ModerationStatus = "rejected"
)

type FineKind string

const (
	FineShortNotice   FineKind = "short_notice"
	FineInvalidReason FineKind = "invalid_reason"
)

type FineLineItem struct {
	Kind   FineKind        `json:"kind"`
	Amount decimal.Decimal `json:"amount"`
}

// CancellationPolicy 是解析组织层级后得到的生效策略
type CancellationPolicy struct {
	MinimumNoticeHours int32           `json:"minimumNoticeHours"`
	ShortNoticeFine    decimal.Decimal `json:"shortNoticeFine"`
	InvalidReasonFine  decimal.Decimal `json:"invalidReasonFine"`
	Source             string          `json:"source"`
}

type CancellationRecord struct {
	ID               int64              `json:"id"`
	BookingID        *int64             `json:"bookingID"` // 临时班次被取消时为空
	ShiftInstanceID  *int64             `json:"shiftInstanceID"`
	LocationID       int64              `json:"locationID"`
	WorkerID         int64              `json:"workerID"`
	CancelledBy      int64              `json:"cancelledBy"`
	ActorType        ActorType          `json:"actorType"`
	ReasonCode       string             `json:"reasonCode"`
	Notes            string             `json:"notes"`
	EvidenceRef      string             `json:"evidenceRef"`
	HoursBeforeStart decimal.Decimal    `json:"hoursBeforeStart"`
	Policy           CancellationPolicy `json:"policy"` // 取消时的策略快照，审核时据此计算罚款
	Moderation       ModerationStatus   `json:"moderation"`
	FineAmount       *decimal.Decimal   `json:"fineAmount"` // 审核前为空
	FineBreakdown    []FineLineItem     `json:"fineBreakdown"`
	ModeratedBy      *int64             `json:"moderatedBy"`
	ModeratedAt      *time.Time         `json:"moderatedAt"`
	CreatedAt        time.Time          `json:"createdAt"`
	Version          int32              `json:"-"`
}

func (c *CancellationRecord) RequiresModeration() bool {
	return c.Moderation == ModerationPending
}

// Target 返回被取消对象的描述，用于通知
func (c *CancellationRecord) Target() string {
	if c.BookingID != nil {
		return fmt.Sprintf("预约 %d", *c.BookingID)
	}
	if c.ShiftInstanceID != nil {
		return fmt.Sprintf("班次 %d", *c.ShiftInstanceID)
	}
	return ""
}
