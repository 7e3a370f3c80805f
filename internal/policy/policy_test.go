package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
)

func settings(hours int32, short, invalid string) *domain.CancellationSettings {
	return &domain.CancellationSettings{
		MinimumNoticeHours: hours,
		ShortNoticeFine:    decimal.RequireFromString(short),
		InvalidReasonFine:  decimal.RequireFromString(invalid),
	}
}

func TestResolve_WalksUpUntilExplicitSetting(t *testing.T) {
	chain := []domain.PolicyNode{
		{Source: "location:1", Settings: &domain.CancellationSettings{Inherit: true}},
		{Source: "org_unit:2", Settings: nil},
		{Source: "org_unit:3", Settings: settings(48, "20", "35")},
		{Source: "org_unit:4", Settings: settings(12, "1", "1")},
	}

	p := Resolve(chain, 24)

	require.Equal(t, "org_unit:3", p.Source)
	require.Equal(t, int32(48), p.MinimumNoticeHours)
	require.True(t, p.ShortNoticeFine.Equal(decimal.NewFromInt(20)))
}

func TestResolve_DefaultsWhenNothingConfigured(t *testing.T) {
	p := Resolve([]domain.PolicyNode{{Source: "location:1", Settings: &domain.CancellationSettings{Inherit: true}}}, 24)

	require.Equal(t, DefaultSource, p.Source)
	require.Equal(t, int32(24), p.MinimumNoticeHours)
	require.True(t, p.ShortNoticeFine.IsZero())
	require.True(t, p.InvalidReasonFine.IsZero())
}

type failingLoader struct{}

func (failingLoader) GetPolicyChain(context.Context, int64) ([]domain.PolicyNode, error) {
	return nil, errors.New("connection refused")
}

func TestResolver_FallsBackOnLoadFailure(t *testing.T) {
	r := NewResolver(failingLoader{}, 24, nil)

	p := r.ResolveForLocation(context.Background(), 1)

	require.Equal(t, Default(24), p)
}

func TestEvaluate(t *testing.T) {
	worker := Evaluate(domain.ActorWorker)
	require.True(t, worker.RequiresModeration)
	require.Nil(t, worker.FineAmount)

	for _, actor := range []domain.ActorType{domain.ActorManager, domain.ActorOwner, domain.ActorSystem} {
		d := Evaluate(actor)
		require.False(t, d.RequiresModeration)
		require.Equal(t, domain.ModerationNotRequired, d.Moderation)
		require.True(t, d.FineAmount.IsZero())
	}
}

func workerRecord(hoursBefore string, p domain.CancellationPolicy) *domain.CancellationRecord {
	r := &domain.CancellationRecord{
		ID:               9,
		ActorType:        domain.ActorWorker,
		HoursBeforeStart: decimal.RequireFromString(hoursBefore),
	}
	Apply(r, p)
	return r
}

func TestModerate_RejectShortNotice(t *testing.T) {
	p := domain.CancellationPolicy{
		MinimumNoticeHours: 24,
		ShortNoticeFine:    decimal.RequireFromString("15.00"),
		InvalidReasonFine:  decimal.RequireFromString("30.00"),
		Source:             "location:1",
	}
	r := workerRecord("2", p)
	require.Nil(t, r.FineAmount)

	err := Moderate(r, false, 7, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	require.NoError(t, err)
	require.Equal(t, domain.ModerationRejected, r.Moderation)
	require.Len(t, r.FineBreakdown, 2)
	require.Equal(t, domain.FineShortNotice, r.FineBreakdown[0].Kind)
	require.Equal(t, domain.FineInvalidReason, r.FineBreakdown[1].Kind)
	require.True(t, r.FineAmount.Equal(decimal.NewFromInt(45)))
	require.False(t, r.RequiresModeration())
}

func TestModerate_RejectWithEnoughNotice(t *testing.T) {
	p := domain.CancellationPolicy{MinimumNoticeHours: 24, ShortNoticeFine: decimal.NewFromInt(15), InvalidReasonFine: decimal.NewFromInt(30)}
	r := workerRecord("30", p)

	require.NoError(t, Moderate(r, false, 7, time.Now()))
	require.Len(t, r.FineBreakdown, 1)
	require.True(t, r.FineAmount.Equal(decimal.NewFromInt(30)))
}

func TestModerate_Approve(t *testing.T) {
	p := domain.CancellationPolicy{MinimumNoticeHours: 24, ShortNoticeFine: decimal.NewFromInt(15), InvalidReasonFine: decimal.NewFromInt(30)}
	r := workerRecord("1", p)

	require.NoError(t, Moderate(r, true, 7, time.Now()))
	require.Equal(t, domain.ModerationApproved, r.Moderation)
	require.True(t, r.FineAmount.IsZero())
	require.Empty(t, r.FineBreakdown)
	require.Equal(t, int64(7), *r.ModeratedBy)
	require.False(t, r.RequiresModeration())
}

func TestModerate_Twice(t *testing.T) {
	r := workerRecord("1", Default(24))
	require.NoError(t, Moderate(r, true, 7, time.Now()))

	require.ErrorIs(t, Moderate(r, false, 7, time.Now()), domain.ErrAlreadyModerated)
}

func TestModerate_NotRequiredForManager(t *testing.T) {
	r := &domain.CancellationRecord{ActorType: domain.ActorManager}
	Apply(r, Default(24))

	require.ErrorIs(t, Moderate(r, false, 7, time.Now()), domain.ErrAlreadyModerated)
	require.True(t, r.FineAmount.IsZero())
}
