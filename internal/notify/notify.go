// Package notify 把领域事件转换为发给员工的邮件
package notify

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"time"

	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/events"
)

const (
	MailShiftAutoClosed       = "shift_auto_closed"
	MailCancellationRecorded  = "cancellation_recorded"
	MailCancellationModerated = "cancellation_moderated"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

var subjects = map[string]string{
	MailShiftAutoClosed:       "ECNC 排班系统 - 班次已自动结束",
	MailCancellationRecorded:  "ECNC 排班系统 - 预约已取消",
	MailCancellationModerated: "ECNC 排班系统 - 取消审核结果",
}

type UserLookup interface {
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
}

type Builder struct {
	users UserLookup
	loc   *time.Location
}

func NewBuilder(users UserLookup, loc *time.Location) *Builder {
	if loc == nil {
		loc = time.Local
	}
	return &Builder{users: users, loc: loc}
}

// Build 返回事件对应的邮件，不需要通知的事件返回 nil
func (b *Builder) Build(ctx context.Context, env *events.Envelope) (*domain.MailMessage, error) {
	switch env.Type {
	case domain.EventShiftClosed:
		var p domain.ShiftClosedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		shift := p.Shift
		if shift == nil || shift.CloseReason == nil || shift.ClosedAt == nil {
			return nil, nil
		}
		if *shift.CloseReason != domain.CloseAutoTimeout && *shift.CloseReason != domain.CloseAutoChained {
			return nil, nil
		}
		user, err := b.users.GetUserByID(ctx, shift.WorkerID)
		if err != nil {
			return nil, err
		}
		return &domain.MailMessage{
			Type: MailShiftAutoClosed,
			To:   user.Email,
			Data: domain.ShiftAutoClosedMailData{
				FullName:   user.FullName,
				LocationID: shift.LocationID,
				ClosedAt:   shift.ClosedAt.In(b.loc).Format("2006-01-02 15:04"),
				Chained:    *shift.CloseReason == domain.CloseAutoChained,
			},
		}, nil

	case domain.EventCancellationRecorded:
		var p domain.CancellationPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		c := p.Cancellation
		// 员工本人发起的取消才需要告知，管理员取消时由管理员自行沟通
		if c == nil || c.CancelledBy != c.WorkerID {
			return nil, nil
		}
		user, err := b.users.GetUserByID(ctx, c.WorkerID)
		if err != nil {
			return nil, err
		}
		return &domain.MailMessage{
			Type: MailCancellationRecorded,
			To:   user.Email,
			Data: domain.CancellationRecordedMailData{
				FullName:         user.FullName,
				Target:           c.Target(),
				HoursBeforeStart: c.HoursBeforeStart.StringFixed(1),
				PendingReview:    c.RequiresModeration(),
			},
		}, nil

	case domain.EventCancellationModerated:
		var p domain.CancellationPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		c := p.Cancellation
		if c == nil {
			return nil, nil
		}
		user, err := b.users.GetUserByID(ctx, c.WorkerID)
		if err != nil {
			return nil, err
		}
		fine := "0.00"
		if c.FineAmount != nil {
			fine = c.FineAmount.StringFixed(2)
		}
		return &domain.MailMessage{
			Type: MailCancellationModerated,
			To:   user.Email,
			Data: domain.CancellationModeratedMailData{
				FullName:   user.FullName,
				Target:     c.Target(),
				Approved:   c.Moderation == domain.ModerationApproved,
				FineAmount: fine,
			},
		}, nil
	}

	return nil, nil
}

// Render 返回邮件主题和 HTML 正文
func Render(msg *domain.MailMessage) (string, string, error) {
	subject, ok := subjects[msg.Type]
	if !ok {
		return "", "", fmt.Errorf("不支持的邮件类型: %s", msg.Type)
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, msg.Type+".html", msg.Data); err != nil {
		return "", "", err
	}
	return subject, buf.String(), nil
}
