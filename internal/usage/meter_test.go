package usage

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/snowgoose/snowgoose/internal/schema"
)

type memLedger struct {
	period map[string]float64
	total  map[string]float64
	calls  int
}

func newMemLedger(users ...string) *memLedger {
	l := &memLedger{period: map[string]float64{}, total: map[string]float64{}}
	for _, u := range users {
		l.period[u] = 0
		l.total[u] = 0
	}
	return l
}

func (l *memLedger) IncrementUsage(_ context.Context, userID string, amount float64) error {
	l.calls++
	if _, ok := l.period[userID]; !ok {
		return schema.ErrNotFound
	}
	l.period[userID] += amount
	l.total[userID] += amount
	return nil
}

func TestCalculateCost(t *testing.T) {
	// 1M input at $3/M + 500k output at $15/M
	got := CalculateCost(1_000_000, 500_000, 3, 15)
	require.InDelta(t, 10.5, got, 1e-9)
	require.Zero(t, CalculateCost(0, 0, 3, 15))
}

func TestUpdateUserUsage_Additive(t *testing.T) {
	l := newMemLedger("u1")
	l.period["u1"] = 2
	l.total["u1"] = 7
	m := NewMeter(l)

	require.NoError(t, m.UpdateUserUsage(context.Background(), "u1", 0.25))
	require.InDelta(t, 2.25, l.period["u1"], 1e-12)
	require.InDelta(t, 7.25, l.total["u1"], 1e-12)

	require.NoError(t, m.UpdateUserUsage(context.Background(), "u1", 0))
	require.InDelta(t, 2.25, l.period["u1"], 1e-12)
}

func TestUpdateUserUsage_RejectsInvalidAmount(t *testing.T) {
	l := newMemLedger("u1")
	m := NewMeter(l)
	for _, amount := range []float64{-1, math.NaN(), math.Inf(1)} {
		err := m.UpdateUserUsage(context.Background(), "u1", amount)
		require.ErrorIs(t, err, schema.ErrInvalidAmount)
	}
	require.Zero(t, l.calls)
	require.Zero(t, l.period["u1"])
	require.Zero(t, l.total["u1"])
}

func TestUpdateUserUsage_UnknownUser(t *testing.T) {
	m := NewMeter(newMemLedger())
	err := m.UpdateUserUsage(context.Background(), "ghost", 1)
	require.True(t, errors.Is(err, schema.ErrNotFound))
}

func TestRecord_ZeroCostsNoop(t *testing.T) {
	l := newMemLedger("u1")
	m := NewMeter(l)
	cost, err := m.Record(context.Background(), "u1", schema.Usage{InputTokens: 100, OutputTokens: 100}, 0, 0)
	require.NoError(t, err)
	require.Zero(t, cost)
	require.Zero(t, l.calls)
}

func TestRecord_WritesCost(t *testing.T) {
	l := newMemLedger("u1")
	m := NewMeter(l)
	cost, err := m.Record(context.Background(), "u1", schema.Usage{InputTokens: 2000, OutputTokens: 1000}, 1, 2)
	require.NoError(t, err)
	require.InDelta(t, 0.004, cost, 1e-12)
	require.InDelta(t, 0.004, l.total["u1"], 1e-12)
	require.Equal(t, 1, l.calls)
}

type countingResetter struct{ n int }

func (c *countingResetter) ResetPeriodUsage(context.Context) (int64, error) {
	c.n++
	return 3, nil
}

func TestRenewalScheduler(t *testing.T) {
	r := &countingResetter{}
	s, err := NewRenewalScheduler(r, "", time.UTC)
	require.NoError(t, err)

	next := s.Next(time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC))
	require.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), next)

	s.RunOnce(context.Background())
	require.Equal(t, 1, r.n)

	_, err = NewRenewalScheduler(r, "not a schedule", time.UTC)
	require.Error(t, err)
}

func TestRenewalScheduler_Descriptor(t *testing.T) {
	s, err := NewRenewalScheduler(&countingResetter{}, "@monthly", time.UTC)
	require.NoError(t, err)
	next := s.Next(time.Date(2026, 12, 31, 23, 0, 0, 0, time.UTC))
	require.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), next)
}
