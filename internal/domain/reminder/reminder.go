// Package reminder schedules one-off and recurring reminders and fires
// them onto the event bus on a fixed tick, independent of whether a turn
// is in flight. Recurring reminders are recognized by a fixed Turkish
// and shorthand vocabulary, and every fire publishes both a
// reminder.fired event and a user-facing bantz.message event.
package reminder

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bantz-ai/bantz/internal/infrastructure/eventbus"
	"github.com/bantz-ai/bantz/pkg/safego"
)

// Status is a reminder's lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusSnoozed Status = "snoozed"
	StatusDone    Status = "done"
)

// Reminder is one scheduled notification, one-off or recurring.
type Reminder struct {
	ID             string
	Message        string
	RemindAt       time.Time
	CreatedAt      time.Time
	Status         Status
	RepeatInterval string // "" for one-off; else a vocabulary token or shorthand like "30m"
	SnoozedUntil   *time.Time
}

// DueAt returns the time this reminder should next fire: SnoozedUntil if
// set, else RemindAt.
func (r *Reminder) DueAt() time.Time {
	if r.SnoozedUntil != nil {
		return *r.SnoozedUntil
	}
	return r.RemindAt
}

// Store persists reminders. A gorm-backed implementation lives in
// internal/infrastructure/persistence.
type Store interface {
	Add(ctx context.Context, r *Reminder) error
	List(ctx context.Context) ([]*Reminder, error)
	Delete(ctx context.Context, id string) error
	Snooze(ctx context.Context, id string, until time.Time) error
	DueBefore(ctx context.Context, t time.Time) ([]*Reminder, error)
	Rearm(ctx context.Context, id string, next time.Time) error
	MarkDone(ctx context.Context, id string) error
}

// intervalVocabulary maps Turkish and English recurrence words to a fixed
// duration, mirroring the original scheduler's _INTERVAL_MAP.
var intervalVocabulary = map[string]time.Duration{
	"saatlik":  time.Hour,
	"hourly":   time.Hour,
	"günlük":   24 * time.Hour,
	"gunluk":   24 * time.Hour,
	"daily":    24 * time.Hour,
	"haftalık": 7 * 24 * time.Hour,
	"haftalik": 7 * 24 * time.Hour,
	"weekly":   7 * 24 * time.Hour,
	"aylık":    30 * 24 * time.Hour,
	"aylik":    30 * 24 * time.Hour,
	"monthly":  30 * 24 * time.Hour,
}

// shorthandPattern matches "30m", "2h", "1d", "1w" style repeat intervals.
var shorthandPattern = regexp.MustCompile(`^(\d+)\s*([mhdw])$`)

// ComputeNextOccurrence resolves interval against from, accepting either a
// vocabulary word or a digit+unit shorthand.
func ComputeNextOccurrence(from time.Time, interval string) (time.Time, error) {
	key := strings.ToLower(strings.TrimSpace(interval))
	if key == "" {
		return time.Time{}, fmt.Errorf("no repeat interval given")
	}
	if d, ok := intervalVocabulary[key]; ok {
		return from.Add(d), nil
	}
	if m := shorthandPattern.FindStringSubmatch(key); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid repeat interval %q: %w", interval, err)
		}
		var unit time.Duration
		switch m[2] {
		case "m":
			unit = time.Minute
		case "h":
			unit = time.Hour
		case "d":
			unit = 24 * time.Hour
		case "w":
			unit = 7 * 24 * time.Hour
		}
		return from.Add(time.Duration(n) * unit), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized repeat interval: %q", interval)
}

// relativePattern matches "30 dakika sonra", "2 saat sonra" style one-off offsets.
var relativePattern = regexp.MustCompile(`^(\d+)\s*(dakika|dk|saat|gün|gun)\s*sonra$`)

// ParseWhen resolves a Turkish shorthand time expression relative to now.
// It understands "bugün"/"yarın" plus an HH:MM suffix, and "<n> <birim>
// sonra" relative offsets, falling back to the digit+unit shorthand
// ComputeNextOccurrence already accepts (e.g. "45m").
func ParseWhen(now time.Time, text string) (time.Time, error) {
	key := strings.ToLower(strings.TrimSpace(text))
	if key == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}

	if m := relativePattern.FindStringSubmatch(key); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid time expression %q: %w", text, err)
		}
		var unit time.Duration
		switch m[2] {
		case "dakika", "dk":
			unit = time.Minute
		case "saat":
			unit = time.Hour
		case "gün", "gun":
			unit = 24 * time.Hour
		}
		return now.Add(time.Duration(n) * unit), nil
	}

	for _, prefix := range []struct {
		word   string
		offset time.Duration
	}{
		{"bugün", 0}, {"bugun", 0}, {"yarın", 24 * time.Hour}, {"yarin", 24 * time.Hour},
	} {
		if rest, ok := strings.CutPrefix(key, prefix.word); ok {
			rest = strings.TrimSpace(rest)
			day := now.Add(prefix.offset)
			if rest == "" {
				return day, nil
			}
			hh, mm, err := parseClock(rest)
			if err != nil {
				return time.Time{}, err
			}
			return time.Date(day.Year(), day.Month(), day.Day(), hh, mm, 0, 0, day.Location()), nil
		}
	}

	if shorthandPattern.MatchString(key) {
		return ComputeNextOccurrence(now, key)
	}

	return time.Time{}, fmt.Errorf("unrecognized time expression: %q", text)
}

func parseClock(text string) (hour, minute int, err error) {
	parts := strings.Split(text, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", text)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid hour in %q: %w", text, err)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid minute in %q: %w", text, err)
	}
	return hour, minute, nil
}

// Config tunes the scheduler's tick cadence.
type Config struct {
	TickInterval time.Duration
}

// DefaultConfig matches the original scheduler's 10-second poll.
func DefaultConfig() Config {
	return Config{TickInterval: 10 * time.Second}
}

// Scheduler polls the Store for due reminders and fires them onto the bus.
type Scheduler struct {
	cfg    Config
	store  Store
	bus    eventbus.Bus
	logger *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewScheduler builds a Scheduler against store, publishing fired
// reminders on bus.
func NewScheduler(cfg Config, store Store, bus eventbus.Bus, logger *zap.Logger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg = DefaultConfig()
	}
	return &Scheduler{cfg: cfg, store: store, bus: bus, logger: logger}
}

// Start begins the polling loop in a panic-safe background goroutine. A
// second Start call while already running is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	safego.Go(s.logger, "reminder-scheduler", func() { s.loop(ctx) })
}

// Stop halts the polling loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.cancel()
		s.running = false
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkReminders(ctx)
		}
	}
}

func (s *Scheduler) checkReminders(ctx context.Context) {
	due, err := s.store.DueBefore(ctx, time.Now())
	if err != nil {
		if s.logger != nil {
			s.logger.Error("list due reminders failed", zap.Error(err))
		}
		return
	}
	for _, r := range due {
		s.fire(ctx, r)
	}
}

// fire publishes the reminder and either reschedules it (recurring) or
// marks it done (one-off), matching the original scheduler's dual-publish
// and rearm-or-complete behavior.
func (s *Scheduler) fire(ctx context.Context, r *Reminder) {
	correlationID := "reminder:" + r.ID
	fireTime := r.DueAt()
	s.bus.Publish(eventbus.Event{
		Type:          eventbus.TopicReminderFired,
		Source:        "reminder-scheduler",
		CorrelationID: correlationID,
		Data:          map[string]any{"id": r.ID, "message": r.Message, "time": fireTime},
	})
	s.bus.Publish(eventbus.Event{
		Type:          eventbus.TopicBantzMessage,
		Source:        "reminder-scheduler",
		CorrelationID: correlationID,
		Data:          map[string]any{"text": r.Message},
	})

	if r.RepeatInterval != "" {
		next, err := ComputeNextOccurrence(fireTime, r.RepeatInterval)
		if err == nil {
			if err := s.store.Rearm(ctx, r.ID, next); err != nil && s.logger != nil {
				s.logger.Error("rearm reminder failed", zap.String("id", r.ID), zap.Error(err))
			}
			return
		}
		if s.logger != nil {
			s.logger.Warn("recurring reminder has unparsable interval, marking done",
				zap.String("id", r.ID), zap.String("interval", r.RepeatInterval), zap.Error(err))
		}
	}

	if err := s.store.MarkDone(ctx, r.ID); err != nil && s.logger != nil {
		s.logger.Error("mark reminder done failed", zap.String("id", r.ID), zap.Error(err))
	}
}
