// ABOUTME: Usage ledger recording token counts per exchange and aggregating them by day
// ABOUTME: Day buckets are zero-filled calendar days in a configured location

package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/chat-gateway/internal/store"
)

var (
	// ErrInvalidRange is returned when start is after end.
	ErrInvalidRange = errors.New("start is after end")

	// ErrRangeTooLarge is returned when the range spans more days than the ledger serves.
	ErrRangeTooLarge = errors.New("range spans too many days")
)

// DefaultMaxDays bounds the day buckets returned by one aggregation.
const DefaultMaxDays = 366

const dayLayout = "2006-01-02"

// Totals holds summed token counts.
type Totals struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

func (t *Totals) add(rec *store.UsageRecord) {
	t.PromptTokens += rec.PromptTokens
	t.CompletionTokens += rec.CompletionTokens
	t.TotalTokens += rec.TotalTokens
}

// Day is one calendar day bucket.
type Day struct {
	Date string `json:"date"`
	Totals
}

// Statistics is the per-day series plus the sum over the whole range.
type Statistics struct {
	Days   []Day  `json:"days"`
	Totals Totals `json:"totals"`
}

// Ledger appends usage records and aggregates them.
type Ledger struct {
	store   store.UsageStore
	loc     *time.Location
	maxDays int
	logger  *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMaxDays caps the number of days one aggregation may span.
// Non-positive values keep DefaultMaxDays.
func WithMaxDays(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxDays = n
		}
	}
}

// NewLedger creates a Ledger bucketing days in loc (UTC when nil).
func NewLedger(s store.UsageStore, loc *time.Location, logger *slog.Logger, opts ...Option) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		store:   s,
		loc:     loc,
		maxDays: DefaultMaxDays,
		logger:  logger.With("component", "usage"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MaxDays returns the largest span, in calendar days, AggregateByDay accepts.
func (l *Ledger) MaxDays() int {
	return l.maxDays
}

// Record appends one usage record.
func (l *Ledger) Record(ctx context.Context, rec *store.UsageRecord) error {
	if err := l.store.SaveUsage(ctx, rec); err != nil {
		return fmt.Errorf("saving usage: %w", err)
	}
	l.logger.Debug("usage recorded",
		"user_id", rec.UserID,
		"room_id", rec.RoomID,
		"message_id", rec.MessageID,
		"total_tokens", rec.TotalTokens,
		"estimated", rec.Estimated,
	)
	return nil
}

// AggregateByDay loads the user's records with startMs <= timestamp <= endMs
// and buckets them by calendar day. Ranges covering more than MaxDays days
// fail with ErrRangeTooLarge before anything is loaded.
func (l *Ledger) AggregateByDay(ctx context.Context, userID string, startMs, endMs int64) (*Statistics, error) {
	if startMs > endMs {
		return nil, ErrInvalidRange
	}
	start := time.UnixMilli(startMs)
	end := time.UnixMilli(endMs)
	if DaySpan(start, end, l.loc) > l.maxDays {
		return nil, ErrRangeTooLarge
	}

	records, err := l.store.ListUsage(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("listing usage: %w", err)
	}
	return AggregateByDay(records, start, end, l.loc), nil
}

// AggregateByDay buckets records into one entry per calendar day in loc from
// day(start) to day(end) inclusive. Days without records are zero. Records
// outside [start, end] are ignored. The result does not depend on record order.
func AggregateByDay(records []*store.UsageRecord, start, end time.Time, loc *time.Location) *Statistics {
	if loc == nil {
		loc = time.UTC
	}

	stats := &Statistics{Days: []Day{}}
	if start.After(end) {
		return stats
	}

	index := make(map[string]int)
	first := startOfDay(start.In(loc))
	last := startOfDay(end.In(loc))
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		key := day.Format(dayLayout)
		index[key] = len(stats.Days)
		stats.Days = append(stats.Days, Day{Date: key})
	}

	for _, rec := range records {
		if rec.Timestamp.Before(start) || rec.Timestamp.After(end) {
			continue
		}
		i, ok := index[rec.Timestamp.In(loc).Format(dayLayout)]
		if !ok {
			continue
		}
		stats.Days[i].add(rec)
		stats.Totals.add(rec)
	}

	return stats
}

// DaySpan counts the calendar days in loc from day(start) to day(end)
// inclusive, and 0 when start is after end.
func DaySpan(start, end time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	if start.After(end) {
		return 0
	}
	// Compare dates as UTC midnights so DST shifts in loc do not skew the count
	first := civilDate(start.In(loc))
	last := civilDate(end.In(loc))
	return int(last.Sub(first).Hours()/24) + 1
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
