// ABOUTME: Tests for usage recording and day aggregation
// ABOUTME: Covers zero-filled days, order independence, range bounds, and time zones

package usage

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-gateway/internal/store"
)

func rec(ts time.Time, prompt, completion int) *store.UsageRecord {
	return &store.UsageRecord{
		UserID:           "alice",
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
		Timestamp:        ts,
	}
}

func TestAggregateByDay_ZeroFilled(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 4, 23, 59, 59, 0, time.UTC)

	records := []*store.UsageRecord{
		rec(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), 5, 3),
		rec(time.Date(2024, 3, 3, 18, 0, 0, 0, time.UTC), 10, 1),
		rec(time.Date(2024, 3, 3, 19, 0, 0, 0, time.UTC), 1, 1),
	}

	stats := AggregateByDay(records, start, end, time.UTC)
	require.Len(t, stats.Days, 4)

	assert.Equal(t, "2024-03-01", stats.Days[0].Date)
	assert.Equal(t, Totals{5, 3, 8}, stats.Days[0].Totals)
	assert.Equal(t, "2024-03-02", stats.Days[1].Date)
	assert.Equal(t, Totals{}, stats.Days[1].Totals)
	assert.Equal(t, Totals{11, 2, 13}, stats.Days[2].Totals)
	assert.Equal(t, Totals{}, stats.Days[3].Totals)

	assert.Equal(t, Totals{16, 5, 21}, stats.Totals)
}

func TestAggregateByDay_OrderIndependent(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	var records []*store.UsageRecord
	for i := 0; i < 50; i++ {
		records = append(records, rec(start.Add(time.Duration(i)*4*time.Hour), i, 2*i))
	}

	want := AggregateByDay(records, start, end, time.UTC)

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 5; i++ {
		shuffled := append([]*store.UsageRecord(nil), records...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, AggregateByDay(shuffled, start, end, time.UTC))
	}
}

func TestAggregateByDay_IgnoresOutOfRange(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)

	records := []*store.UsageRecord{
		rec(start.Add(-time.Minute), 100, 100),
		rec(start, 1, 0),
		rec(end, 2, 0),
		rec(end.Add(time.Minute), 100, 100),
	}

	stats := AggregateByDay(records, start, end, time.UTC)
	require.Len(t, stats.Days, 1)
	assert.Equal(t, Totals{3, 0, 3}, stats.Totals)
}

func TestAggregateByDay_Location(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, loc)
	end := time.Date(2024, 3, 2, 23, 0, 0, 0, loc)

	// 2024-03-01 20:00 UTC is 2024-03-02 04:00 at UTC+8
	records := []*store.UsageRecord{rec(time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC), 4, 4)}

	stats := AggregateByDay(records, start, end, loc)
	require.Len(t, stats.Days, 2)
	assert.Equal(t, Totals{}, stats.Days[0].Totals)
	assert.Equal(t, "2024-03-02", stats.Days[1].Date)
	assert.Equal(t, 8, stats.Days[1].TotalTokens)
}

func TestAggregateByDay_EmptyRange(t *testing.T) {
	start := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	stats := AggregateByDay(nil, start, start.Add(-time.Hour), time.UTC)
	assert.Empty(t, stats.Days)
}

func TestLedger_RecordAndAggregate(t *testing.T) {
	s := store.NewMockStore()
	ledger := NewLedger(s, nil, nil)
	ctx := context.Background()

	ts := time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)
	require.NoError(t, ledger.Record(ctx, &store.UsageRecord{
		UserID:           "u1",
		RoomID:           1,
		MessageID:        100,
		PromptTokens:     5,
		CompletionTokens: 3,
		TotalTokens:      8,
		Timestamp:        ts,
	}))
	require.NoError(t, ledger.Record(ctx, &store.UsageRecord{UserID: "u2", TotalTokens: 50, Timestamp: ts}))

	dayStart := time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24*time.Hour - time.Millisecond)

	stats, err := ledger.AggregateByDay(ctx, "u1", dayStart.UnixMilli(), dayEnd.UnixMilli())
	require.NoError(t, err)
	require.Len(t, stats.Days, 1)
	assert.Equal(t, Totals{5, 3, 8}, stats.Days[0].Totals)
	assert.Equal(t, Totals{5, 3, 8}, stats.Totals)
}

func TestLedger_InvalidRange(t *testing.T) {
	ledger := NewLedger(store.NewMockStore(), nil, nil)
	_, err := ledger.AggregateByDay(context.Background(), "u1", 2000, 1000)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestLedger_RejectsOversizedRange(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(store.NewMockStore(), nil, nil)
	assert.Equal(t, DefaultMaxDays, ledger.MaxDays())

	// Epoch to the last millisecond of year 9999
	_, err := ledger.AggregateByDay(ctx, "u1", 0, 253402300799999)
	assert.ErrorIs(t, err, ErrRangeTooLarge)

	capped := NewLedger(store.NewMockStore(), nil, nil, WithMaxDays(3))
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	stats, err := capped.AggregateByDay(ctx, "u1", start.UnixMilli(), start.Add(72*time.Hour-time.Millisecond).UnixMilli())
	require.NoError(t, err)
	assert.Len(t, stats.Days, 3)

	_, err = capped.AggregateByDay(ctx, "u1", start.UnixMilli(), start.Add(72*time.Hour).UnixMilli())
	assert.ErrorIs(t, err, ErrRangeTooLarge)
}

func TestDaySpan(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	day := time.Date(2024, 3, 9, 12, 0, 0, 0, ny)
	assert.Equal(t, 1, DaySpan(day, day, ny))
	// Crosses the spring-forward night
	assert.Equal(t, 3, DaySpan(day, day.AddDate(0, 0, 2), ny))
	assert.Equal(t, 0, DaySpan(day, day.Add(-time.Hour), ny))
	assert.Equal(t, 366, DaySpan(
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC),
		time.UTC,
	))
}
