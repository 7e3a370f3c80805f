package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CancellationSettings 是某一层级上显式配置的取消策略
// Inherit 为 true 或者整个配置为空时，表示沿组织层级继续向上查找
type CancellationSettings struct {
	Inherit            bool            `json:"inherit"`
	MinimumNoticeHours int32           `json:"minimumNoticeHours"`
	ShortNoticeFine    decimal.Decimal `json:"shortNoticeFine"`
	InvalidReasonFine  decimal.Decimal `json:"invalidReasonFine"`
}

type OrgUnit struct {
	ID           int64                 `json:"id"`
	ParentID     *int64                `json:"parentID"`
	Name         string                `json:"name"`
	Cancellation *CancellationSettings `json:"cancellation"`
	CreatedAt    time.Time             `json:"createdAt"`
	Version      int32                 `json:"-"`
}

type Location struct {
	ID                 int64                 `json:"id"`
	OrgUnitID          *int64                `json:"orgUnitID"`
	Name               string                `json:"name"`
	Timezone           string                `json:"timezone"`
	DefaultClosingTime *string               `json:"defaultClosingTime"` // 形如 "22:00:00"
	MaxOpenDuration    *time.Duration        `json:"maxOpenDuration"`
	Cancellation       *CancellationSettings `json:"cancellation"`
	CreatedAt          time.Time             `json:"createdAt"`
	Version            int32                 `json:"-"`
}

// TimeLocation 返回地点所在时区，时区非法时退回 UTC
func (l *Location) TimeLocation() *time.Location {
	if l == nil || l.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(l.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ClosingTimeOn 返回地点在 date（YYYY-MM-DD）当天的默认关门时间
func (l *Location) ClosingTimeOn(date string) (time.Time, bool) {
	if l == nil || l.DefaultClosingTime == nil {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", date+" "+*l.DefaultClosingTime, l.TimeLocation())
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

type LocationMember struct {
	LocationID int64           `json:"locationID"`
	UserID     int64           `json:"userID"`
	Role       Role            `json:"role"`
	HourlyRate decimal.Decimal `json:"hourlyRate"`
}

// PolicyNode 是取消策略解析链上的一环，按 地点 -> 组织单元 -> 上级组织单元 的顺序排列
type PolicyNode struct {
	Source   string
	Settings *CancellationSettings
}
