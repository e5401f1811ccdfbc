package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-coin/x402/internal/models"
)

type recordingHandler struct {
	mu    sync.Mutex
	seen  []string
	fail  map[string]bool
	panic map[string]bool
}

func (h *recordingHandler) HandleTask(_ context.Context, task *models.ScheduledTask) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, task.ID)
	if h.panic[task.ID] {
		panic("boom")
	}
	if h.fail[task.ID] {
		return errors.New("failed")
	}
	return nil
}

func (h *recordingHandler) ids() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seen...)
}

func task(sub string, kind models.TaskKind, due time.Time) *models.ScheduledTask {
	return &models.ScheduledTask{ID: models.TaskID(sub, kind), SubscriptionID: sub, Kind: kind, DueAt: due}
}

func TestMemoryQueue_OrderAndReplace(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, q.Schedule(ctx, task("b", models.TaskTrialExpiry, base.Add(2*time.Hour))))
	require.NoError(t, q.Schedule(ctx, task("a", models.TaskTrialExpiry, base.Add(3*time.Hour))))
	require.NoError(t, q.Schedule(ctx, task("c", models.TaskPeriodEnd, base.Add(time.Hour))))
	// rescheduling replaces the pending task of the same id
	require.NoError(t, q.Schedule(ctx, task("a", models.TaskTrialExpiry, base.Add(30*time.Minute))))
	assert.Equal(t, 3, q.Len())

	due, err := q.PopDue(ctx, base.Add(2*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, "a", due[0].SubscriptionID)
	assert.Equal(t, "c", due[1].SubscriptionID)
	assert.Equal(t, "b", due[2].SubscriptionID)
	assert.Equal(t, 0, q.Len())
}

func TestMemoryQueue_CancelFor(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	now := time.Now()

	require.NoError(t, q.Schedule(ctx, task("a", models.TaskPeriodEnd, now)))
	require.NoError(t, q.Schedule(ctx, task("a", models.TaskGraceExpiry, now)))
	require.NoError(t, q.Schedule(ctx, task("b", models.TaskPeriodEnd, now)))
	require.NoError(t, q.CancelFor(ctx, "a"))

	due, err := q.PopDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "b", due[0].SubscriptionID)
}

func TestScheduler_RunDue(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	q := NewMemoryQueue()
	h := &recordingHandler{fail: map[string]bool{"bad:period_end": true}, panic: map[string]bool{"worse:period_end": true}}
	s := NewScheduler(SchedulerConfig{Queue: q, Handler: h, Now: func() time.Time { return now }, RetryDelay: time.Minute})

	require.NoError(t, q.Schedule(ctx, task("ok", models.TaskTrialExpiry, now.Add(-time.Second))))
	require.NoError(t, q.Schedule(ctx, task("bad", models.TaskPeriodEnd, now)))
	require.NoError(t, q.Schedule(ctx, task("worse", models.TaskPeriodEnd, now)))
	require.NoError(t, q.Schedule(ctx, task("later", models.TaskTrialExpiry, now.Add(time.Hour))))

	assert.Equal(t, 1, s.RunDue(ctx))
	assert.ElementsMatch(t, []string{"ok:trial_expiry", "bad:period_end", "worse:period_end"}, h.ids())

	// failed tasks come back after the retry delay
	assert.Equal(t, 3, q.Len())
	now = now.Add(time.Minute)
	s.RunDue(ctx)
	assert.Len(t, h.ids(), 5)
}

func TestScheduler_StartTrigger(t *testing.T) {
	q := NewMemoryQueue()
	h := &recordingHandler{}
	s := NewScheduler(SchedulerConfig{Queue: q, Handler: h, Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	require.NoError(t, q.Schedule(ctx, task("x", models.TaskTrialExpiry, time.Now().Add(-time.Minute))))
	s.Trigger()

	assert.Eventually(t, func() bool { return len(h.ids()) == 1 }, time.Second, 10*time.Millisecond)
}
