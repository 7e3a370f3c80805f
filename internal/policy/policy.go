// Package policy 负责取消策略的解析、评估与审核罚款计算
package policy

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
)

const DefaultSource = "default"

// Default 返回未配置任何策略时的系统默认值：提前 hours 小时通知，不罚款
func Default(hours int32) domain.CancellationPolicy {
	return domain.CancellationPolicy{
		MinimumNoticeHours: hours,
		ShortNoticeFine:    decimal.Zero,
		InvalidReasonFine:  decimal.Zero,
		Source:             DefaultSource,
	}
}

// Resolve 沿着 地点 -> 组织单元 -> 上级组织单元 的链找到第一个显式配置
func Resolve(chain []domain.PolicyNode, defaultHours int32) domain.CancellationPolicy {
	for _, node := range chain {
		s := node.Settings
		if s == nil || s.Inherit {
			continue
		}
		return domain.CancellationPolicy{
			MinimumNoticeHours: s.MinimumNoticeHours,
			ShortNoticeFine:    s.ShortNoticeFine,
			InvalidReasonFine:  s.InvalidReasonFine,
			Source:             node.Source,
		}
	}
	return Default(defaultHours)
}

type ChainLoader interface {
	GetPolicyChain(ctx context.Context, locationID int64) ([]domain.PolicyNode, error)
}

type Resolver struct {
	loader       ChainLoader
	defaultHours int32
	logger       *slog.Logger
}

func NewResolver(loader ChainLoader, defaultHours int32, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{loader: loader, defaultHours: defaultHours, logger: logger}
}

// ResolveForLocation 解析地点的生效策略。加载失败不会让取消失败，而是退回默认策略
func (r *Resolver) ResolveForLocation(ctx context.Context, locationID int64) domain.CancellationPolicy {
	chain, err := r.loader.GetPolicyChain(ctx, locationID)
	if err != nil {
		r.logger.Error("取消策略解析失败，使用默认策略",
			slog.Int64("location_id", locationID),
			"error", errors.Join(domain.ErrPolicyResolution, err),
		)
		return Default(r.defaultHours)
	}
	return Resolve(chain, r.defaultHours)
}

// Decision 是取消时的评估结果
type Decision struct {
	RequiresModeration bool
	Moderation         domain.ModerationStatus
	FineAmount         *decimal.Decimal
	FineBreakdown      []domain.FineLineItem
}

// Evaluate 在取消时调用。员工发起的取消一律进入待审核，罚款留到审核时计算；
// 其他角色发起的取消不罚款，也不需要审核
func Evaluate(actor domain.ActorType) Decision {
	if actor == domain.ActorWorker {
		return Decision{RequiresModeration: true, Moderation: domain.ModerationPending}
	}
	zero := decimal.Zero
	return Decision{Moderation: domain.ModerationNotRequired, FineAmount: &zero, FineBreakdown: []domain.FineLineItem{}}
}

// Apply 把评估结果和策略快照写入取消记录
func Apply(record *domain.CancellationRecord, p domain.CancellationPolicy) {
	d := Evaluate(record.ActorType)
	record.Policy = p
	record.Moderation = d.Moderation
	record.FineAmount = d.FineAmount
	record.FineBreakdown = d.FineBreakdown
}

// Fines 计算驳回时的罚款明细，配置为零的罚款项不出现在明细中
func Fines(p domain.CancellationPolicy, hoursBeforeStart decimal.Decimal) []domain.FineLineItem {
	items := []domain.FineLineItem{}
	if hoursBeforeStart.LessThan(decimal.NewFromInt32(p.MinimumNoticeHours)) && p.ShortNoticeFine.IsPositive() {
		items = append(items, domain.FineLineItem{Kind: domain.FineShortNotice, Amount: p.ShortNoticeFine})
	}
	if p.InvalidReasonFine.IsPositive() {
		items = append(items, domain.FineLineItem{Kind: domain.FineInvalidReason, Amount: p.InvalidReasonFine})
	}
	return items
}

func Total(items []domain.FineLineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Amount)
	}
	return total
}

// Moderate 记录审核结果。通过时罚款为 0，驳回时按取消时的策略快照计算
func Moderate(record *domain.CancellationRecord, approve bool, by int64, at time.Time) error {
	if !record.RequiresModeration() {
		return domain.ErrAlreadyModerated
	}

	items := []domain.FineLineItem{}
	status := domain.ModerationApproved
	if !approve {
		status = domain.ModerationRejected
		items = Fines(record.Policy, record.HoursBeforeStart)
	}

	total := Total(items)
	record.Moderation = status
	record.FineAmount = &total
	record.FineBreakdown = items
	record.ModeratedBy = &by
	record.ModeratedAt = &at
	return nil
}
