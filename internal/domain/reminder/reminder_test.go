package reminder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bantz-ai/bantz/internal/infrastructure/eventbus"
)

func TestComputeNextOccurrenceVocabulary(t *testing.T) {
	from := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	next, err := ComputeNextOccurrence(from, "günlük")
	require.NoError(t, err)
	assert.Equal(t, from.Add(24*time.Hour), next)

	next, err = ComputeNextOccurrence(from, "haftalık")
	require.NoError(t, err)
	assert.Equal(t, from.Add(7*24*time.Hour), next)
}

func TestComputeNextOccurrenceShorthand(t *testing.T) {
	from := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	next, err := ComputeNextOccurrence(from, "30m")
	require.NoError(t, err)
	assert.Equal(t, from.Add(30*time.Minute), next)

	_, err = ComputeNextOccurrence(from, "bogus")
	assert.Error(t, err)
}

func TestParseWhenRelativeTurkish(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	got, err := ParseWhen(now, "2 saat sonra")
	require.NoError(t, err)
	assert.Equal(t, now.Add(2*time.Hour), got)

	got, err = ParseWhen(now, "yarın 10:30")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 2, 10, 30, 0, 0, time.UTC), got)
}

type memStore struct {
	mu   sync.Mutex
	data map[string]*Reminder
}

func newMemStore() *memStore { return &memStore{data: map[string]*Reminder{}} }

func (m *memStore) Add(ctx context.Context, r *Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[r.ID] = r
	return nil
}
func (m *memStore) List(ctx context.Context) ([]*Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Reminder, 0, len(m.data))
	for _, r := range m.data {
		out = append(out, r)
	}
	return out, nil
}
func (m *memStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}
func (m *memStore) Snooze(ctx context.Context, id string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.data[id]
	if !ok {
		return nil
	}
	r.SnoozedUntil = &until
	r.Status = StatusSnoozed
	return nil
}
func (m *memStore) DueBefore(ctx context.Context, t time.Time) ([]*Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Reminder
	for _, r := range m.data {
		if r.Status != StatusDone && !r.DueAt().After(t) {
			out = append(out, r)
		}
	}
	return out, nil
}
func (m *memStore) Rearm(ctx context.Context, id string, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.data[id]
	if !ok {
		return nil
	}
	r.RemindAt = next
	r.SnoozedUntil = nil
	r.Status = StatusPending
	return nil
}
func (m *memStore) MarkDone(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.data[id]
	if !ok {
		return nil
	}
	r.Status = StatusDone
	return nil
}

func TestSchedulerFiresDueReminderAndRearmsRecurring(t *testing.T) {
	store := newMemStore()
	past := time.Now().Add(-time.Minute)
	require.NoError(t, store.Add(context.Background(), &Reminder{
		ID: "r1", Message: "ilaç vakti", RemindAt: past, Status: StatusPending, RepeatInterval: "30m",
	}))

	bus := eventbus.NewInMemoryBus(nil)
	var fired, messages int
	var mu sync.Mutex
	bus.Subscribe(eventbus.TopicReminderFired, func(e eventbus.Event) {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	bus.Subscribe(eventbus.TopicBantzMessage, func(e eventbus.Event) {
		mu.Lock()
		messages++
		mu.Unlock()
	})

	sched := NewScheduler(Config{TickInterval: 10 * time.Millisecond}, store, bus, nil)
	sched.checkReminders(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, messages)

	rs, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, StatusPending, rs[0].Status)
	assert.Equal(t, past.Add(30*time.Minute), rs[0].RemindAt)
}

func TestSchedulerMarksOneOffDone(t *testing.T) {
	store := newMemStore()
	past := time.Now().Add(-time.Minute)
	require.NoError(t, store.Add(context.Background(), &Reminder{
		ID: "r2", Message: "toplantı", RemindAt: past, Status: StatusPending,
	}))

	bus := eventbus.NewInMemoryBus(nil)
	sched := NewScheduler(DefaultConfig(), store, bus, nil)
	sched.checkReminders(context.Background())

	rs, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, StatusDone, rs[0].Status)
}
