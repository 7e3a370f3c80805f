package utils

import (
	"errors"
	"fmt"
	"time"
)

// ParseSlotWindow 将地点时区下的日期和 HH:MM 形式的起止时间解析为绝对时间，
// 结束时间不晚于开始时间时视为跨天的夜班，结束于次日
func ParseSlotWindow(date, startTime, endTime string, tz *time.Location) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation("2006-01-02 15:04", date+" "+startTime, tz)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("开始时间格式错误: %s %s", date, startTime)
	}
	end, err := time.ParseInLocation("2006-01-02 15:04", date+" "+endTime, tz)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("结束时间格式错误: %s %s", date, endTime)
	}
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return start, end, nil
}

// ValidateClosingTime 检查地点的默认关门时间，格式为 HH:MM:SS
func ValidateClosingTime(s string) error {
	if _, err := time.Parse("15:04:05", s); err != nil {
		return errors.New("默认关门时间格式错误")
	}
	return nil
}
