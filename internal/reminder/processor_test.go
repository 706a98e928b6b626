package reminder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/pursue/internal/database"
	"github.com/dukerupert/pursue/internal/model"
	"github.com/dukerupert/pursue/internal/notify"
	"github.com/dukerupert/pursue/internal/pattern"
	"github.com/dukerupert/pursue/internal/recurrence"
	"github.com/dukerupert/pursue/internal/store"
	"github.com/dukerupert/pursue/internal/websocket"
)

const testZone = "America/New_York"

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeDispatcher) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeDispatcher) messages() []notify.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Message(nil), f.sent...)
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	msgs []websocket.Message
}

func (b *recordingBroadcaster) Broadcast(msg websocket.Message) {
	b.mu.Lock()
	b.msgs = append(b.msgs, msg)
	b.mu.Unlock()
}

// failingMarkSent fails the next n MarkSent calls after the row was claimed
// and dispatched.
type failingMarkSent struct {
	*store.HistoryStore
	mu sync.Mutex
	n  int
}

func (f *failingMarkSent) MarkSent(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n > 0 {
		f.n--
		return errors.New("database is locked")
	}
	return f.HistoryStore.MarkSent(ctx, id)
}

type suppressAll struct{}

func (suppressAll) SuppressedTiers(context.Context, int64, int64) (map[model.Tier]bool, error) {
	return map[model.Tier]bool{model.TierGentle: true, model.TierSupportive: true, model.TierLastChance: true}, nil
}

type harness struct {
	ctx         context.Context
	loc         *time.Location
	progress    *store.ProgressStore
	users       *store.UserStore
	prefs       *store.PreferenceStore
	patterns    *store.PatternStore
	history     *store.HistoryStore
	dispatcher  *fakeDispatcher
	broadcaster *recordingBroadcaster
	processor   *Processor
	groupID     int64
	userID      int64
	goalID      int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	loc, err := time.LoadLocation(testZone)
	require.NoError(t, err)

	h := &harness{
		ctx:         ctx,
		loc:         loc,
		progress:    store.NewProgressStore(db),
		users:       store.NewUserStore(db),
		prefs:       store.NewPreferenceStore(db),
		patterns:    store.NewPatternStore(db),
		history:     store.NewHistoryStore(db),
		dispatcher:  &fakeDispatcher{},
		broadcaster: &recordingBroadcaster{},
	}

	u, err := h.users.Create(ctx, "Alice", testZone)
	require.NoError(t, err)
	h.userID = u.ID
	h.groupID, err = h.progress.CreateGroup(ctx, "Runners")
	require.NoError(t, err)
	require.NoError(t, h.progress.AddMember(ctx, h.groupID, h.userID))
	g, err := h.progress.CreateGoal(ctx, h.groupID, "Run 5k", "daily")
	require.NoError(t, err)
	h.goalID = g.ID

	h.processor = NewProcessor(Deps{
		Pairs:       h.progress,
		Users:       h.users,
		Preferences: h.prefs,
		Patterns:    h.patterns,
		Progress:    h.progress,
		History:     h.history,
		Dispatcher:  h.dispatcher,
		Broadcaster: h.broadcaster,
	}, Options{
		Workers:  4,
		Schedule: DefaultConfig(),
		Patterns: pattern.DefaultConfig(),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h
}

// local is a wall-clock time on 2026-06-10 in the test zone.
func (h *harness) local(hour, minute int) time.Time {
	return time.Date(2026, 6, 10, hour, minute, 0, 0, h.loc)
}

func (h *harness) setPreference(t *testing.T, mutate func(*model.ReminderPreference)) {
	t.Helper()
	p := model.DefaultPreference(h.userID, h.goalID)
	mutate(&p)
	_, err := h.prefs.Upsert(h.ctx, p)
	require.NoError(t, err)
}

func (h *harness) setAnchor(t *testing.T, hour int) {
	t.Helper()
	err := h.patterns.ReplaceBuckets(h.ctx, []model.LoggingPattern{{
		UserID:           h.userID,
		GoalID:           h.goalID,
		Bucket:           model.BucketGeneral,
		TypicalHourStart: hour,
		TypicalHourEnd:   hour + 2,
		ConfidenceScore:  0.8,
		SampleSize:       20,
		LastCalculatedAt: h.local(0, 0),
	}})
	require.NoError(t, err)
}

func (h *harness) runAt(t *testing.T, at time.Time) model.JobSummary {
	t.Helper()
	h.processor.now = func() time.Time { return at }
	summary, err := h.processor.Run(h.ctx)
	require.NoError(t, err)
	return summary
}

func (h *harness) today(t *testing.T) []model.ReminderHistoryEntry {
	t.Helper()
	rows, err := h.history.ListForDate(h.ctx, h.userID, h.goalID, "2026-06-10")
	require.NoError(t, err)
	return rows
}

func TestRunFixedSendsOnce(t *testing.T) {
	h := newHarness(t)
	h.setPreference(t, func(p *model.ReminderPreference) {
		p.Mode, p.FixedHour = model.ModeFixed, intp(9)
	})

	summary := h.runAt(t, h.local(9, 5))
	assert.Equal(t, model.JobSummary{Processed: 1}, summary)

	rows := h.today(t)
	require.Len(t, rows, 1)
	assert.Equal(t, model.TierGentle, rows[0].Tier)
	assert.Equal(t, testZone, rows[0].UserTimezone)
	assert.Nil(t, rows[0].WasEffective)

	msgs := h.dispatcher.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Time for Run 5k", msgs[0].Title)
	assert.Equal(t, notify.Tag(h.goalID), msgs[0].Tag)

	summary = h.runAt(t, h.local(9, 20))
	assert.Equal(t, model.JobSummary{Skipped: 1}, summary)
	assert.Len(t, h.today(t), 1)
	assert.Len(t, h.dispatcher.messages(), 1)
	assert.Len(t, h.broadcaster.msgs, 1)
}

func TestRunSameTickTwiceIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.setPreference(t, func(p *model.ReminderPreference) {
		p.Mode, p.FixedHour = model.ModeFixed, intp(9)
	})

	at := h.local(9, 0)
	h.runAt(t, at)
	second := h.runAt(t, at)

	assert.Equal(t, 0, second.Processed)
	assert.Len(t, h.today(t), 1)
	assert.Len(t, h.dispatcher.messages(), 1)
}

func TestRunPersistentEvening(t *testing.T) {
	h := newHarness(t)
	h.setPreference(t, func(p *model.ReminderPreference) {
		p.Aggressiveness = model.AggressivenessPersistent
	})
	h.setAnchor(t, 8)

	h.runAt(t, h.local(20, 45))
	assert.Empty(t, h.today(t))

	h.runAt(t, h.local(21, 0))
	rows := h.today(t)
	require.Len(t, rows, 1)
	assert.Equal(t, model.TierLastChance, rows[0].Tier)

	h.runAt(t, h.local(21, 15))
	assert.Len(t, h.today(t), 1)

	msgs := h.dispatcher.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Last call: Run 5k", msgs[0].Title)
}

func TestRunFullDayLadder(t *testing.T) {
	h := newHarness(t)
	h.setPreference(t, func(p *model.ReminderPreference) {
		p.Aggressiveness = model.AggressivenessPersistent
	})
	h.setAnchor(t, 8)

	for tick := h.local(0, 0); tick.Before(h.local(23, 59)); tick = tick.Add(15 * time.Minute) {
		h.runAt(t, tick)
	}

	rows := h.today(t)
	require.Len(t, rows, 3)
	assert.Equal(t, model.TierGentle, rows[0].Tier)
	assert.Equal(t, model.TierSupportive, rows[1].Tier)
	assert.Equal(t, model.TierLastChance, rows[2].Tier)
}

func TestRunStopsOncePeriodComplete(t *testing.T) {
	h := newHarness(t)
	h.setPreference(t, func(p *model.ReminderPreference) {
		p.Aggressiveness = model.AggressivenessPersistent
	})
	h.setAnchor(t, 8)

	h.runAt(t, h.local(8, 0))
	require.Len(t, h.today(t), 1)

	require.NoError(t, h.progress.LogProgress(h.ctx, h.userID, h.goalID, h.local(9, 30), testZone))

	for tick := h.local(9, 45); tick.Before(h.local(23, 59)); tick = tick.Add(15 * time.Minute) {
		h.runAt(t, tick)
	}
	assert.Len(t, h.today(t), 1)
}

func TestRunRespectsQuietHours(t *testing.T) {
	h := newHarness(t)
	h.setPreference(t, func(p *model.ReminderPreference) {
		p.Mode, p.FixedHour = model.ModeFixed, intp(23)
		p.QuietHoursStart, p.QuietHoursEnd = intp(22), intp(7)
	})

	for tick := h.local(21, 0); tick.Before(h.local(23, 59)); tick = tick.Add(15 * time.Minute) {
		h.runAt(t, tick)
	}
	assert.Empty(t, h.today(t))
	assert.Empty(t, h.dispatcher.messages())
}

func TestRunDispatchFailureReleasesClaim(t *testing.T) {
	h := newHarness(t)
	h.setPreference(t, func(p *model.ReminderPreference) {
		p.Mode, p.FixedHour = model.ModeFixed, intp(9)
	})

	h.dispatcher.setErr(errors.New("push service unavailable"))
	summary := h.runAt(t, h.local(9, 0))
	assert.Equal(t, model.JobSummary{Errored: 1}, summary)
	assert.Empty(t, h.today(t))

	h.dispatcher.setErr(nil)
	summary = h.runAt(t, h.local(9, 15))
	assert.Equal(t, model.JobSummary{Processed: 1}, summary)
	assert.Len(t, h.today(t), 1)
}

func TestRunNoDevicesIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.setPreference(t, func(p *model.ReminderPreference) {
		p.Mode, p.FixedHour = model.ModeFixed, intp(9)
	})

	h.dispatcher.setErr(notify.ErrNoDevices)
	summary := h.runAt(t, h.local(9, 0))
	assert.Equal(t, model.JobSummary{Skipped: 1}, summary)
	assert.Empty(t, h.today(t))
}

func TestRunReleasesStaleClaims(t *testing.T) {
	h := newHarness(t)
	h.setPreference(t, func(p *model.ReminderPreference) {
		p.Mode, p.FixedHour = model.ModeFixed, intp(9)
	})

	// A claim left behind by a worker that died before dispatching.
	orphan := model.ReminderHistoryEntry{
		UserID:          h.userID,
		GoalID:          h.goalID,
		Tier:            model.TierGentle,
		SentAt:          h.local(9, 0).UTC(),
		SentAtLocalDate: "2026-06-10",
		UserTimezone:    testZone,
	}
	ok, err := h.history.Claim(h.ctx, &orphan)
	require.NoError(t, err)
	require.True(t, ok)

	summary := h.runAt(t, h.local(9, 15))
	assert.Equal(t, 1, summary.Processed)

	assert.Len(t, h.today(t), 1)
	assert.Len(t, h.dispatcher.messages(), 1)
}

func TestRunMarkSentFailureDoesNotResend(t *testing.T) {
	h := newHarness(t)
	h.setPreference(t, func(p *model.ReminderPreference) {
		p.Mode, p.FixedHour = model.ModeFixed, intp(9)
	})
	h.processor.deps.History = &failingMarkSent{HistoryStore: h.history, n: 1}

	summary := h.runAt(t, h.local(9, 5))
	assert.Equal(t, model.JobSummary{Errored: 1}, summary)
	assert.Len(t, h.dispatcher.messages(), 1)

	for _, at := range []time.Time{h.local(9, 20), h.local(9, 35)} {
		summary = h.runAt(t, at)
		assert.Equal(t, model.JobSummary{Skipped: 1}, summary, "tick %s", at.Format("15:04"))
	}
	assert.Len(t, h.dispatcher.messages(), 1)
	require.Len(t, h.today(t), 1)

	// The unconfirmed row is settled as sent once the claim TTL passed.
	recent, err := h.history.ListRecent(h.ctx, h.userID, h.goalID, h.local(0, 0))
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestRunKeepsInterruptedDispatch(t *testing.T) {
	h := newHarness(t)
	h.setPreference(t, func(p *model.ReminderPreference) {
		p.Mode, p.FixedHour = model.ModeFixed, intp(9)
	})

	// A worker that died after calling the dispatcher but before MarkSent.
	inflight := model.ReminderHistoryEntry{
		UserID:          h.userID,
		GoalID:          h.goalID,
		Tier:            model.TierGentle,
		SentAt:          h.local(9, 0).UTC(),
		SentAtLocalDate: "2026-06-10",
		UserTimezone:    testZone,
	}
	ok, err := h.history.Claim(h.ctx, &inflight)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = h.history.BeginDispatch(h.ctx, inflight.ID)
	require.NoError(t, err)
	require.True(t, ok)

	summary := h.runAt(t, h.local(9, 15))
	assert.Equal(t, model.JobSummary{Skipped: 1}, summary)
	assert.Empty(t, h.dispatcher.messages())
	assert.Len(t, h.today(t), 1)
}

func TestRunSuppressedTiers(t *testing.T) {
	h := newHarness(t)
	h.setPreference(t, func(p *model.ReminderPreference) {
		p.Mode, p.FixedHour = model.ModeFixed, intp(9)
	})
	h.processor.deps.Suppressor = suppressAll{}

	summary := h.runAt(t, h.local(9, 0))
	assert.Equal(t, model.JobSummary{Skipped: 1}, summary)
	assert.Empty(t, h.dispatcher.messages())
}

func TestRunDisabledPairsAreNotListed(t *testing.T) {
	h := newHarness(t)
	h.setPreference(t, func(p *model.ReminderPreference) {
		p.Enabled = false
	})

	summary := h.runAt(t, h.local(18, 0))
	assert.Equal(t, model.JobSummary{}, summary)
}

func TestRunAddsSocialContext(t *testing.T) {
	h := newHarness(t)
	h.setPreference(t, func(p *model.ReminderPreference) {
		p.Mode, p.FixedHour = model.ModeFixed, intp(9)
	})

	bob, err := h.users.Create(h.ctx, "Bob", "Europe/Berlin")
	require.NoError(t, err)
	require.NoError(t, h.progress.AddMember(h.ctx, h.groupID, bob.ID))
	carol, err := h.users.Create(h.ctx, "Carol", testZone)
	require.NoError(t, err)
	require.NoError(t, h.progress.AddMember(h.ctx, h.groupID, carol.ID))
	require.NoError(t, h.progress.LogProgress(h.ctx, carol.ID, h.goalID, h.local(7, 0), testZone))

	// Bob and Carol are also pairs; opt them out so only Alice is evaluated.
	for _, id := range []int64{bob.ID, carol.ID} {
		off := model.DefaultPreference(id, h.goalID)
		off.Enabled = false
		_, err := h.prefs.Upsert(h.ctx, off)
		require.NoError(t, err)
	}

	h.runAt(t, h.local(9, 0))

	rows := h.today(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "1 of 2 groupmates already logged today", rows[0].SocialContext)

	msgs := h.dispatcher.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Body, "1 of 2 groupmates already logged today.")
}

func TestRunManyPairsConcurrently(t *testing.T) {
	h := newHarness(t)
	h.setPreference(t, func(p *model.ReminderPreference) {
		p.Mode, p.FixedHour = model.ModeFixed, intp(9)
	})

	for i := 0; i < 10; i++ {
		u, err := h.users.Create(h.ctx, "member", testZone)
		require.NoError(t, err)
		require.NoError(t, h.progress.AddMember(h.ctx, h.groupID, u.ID))
		p := model.DefaultPreference(u.ID, h.goalID)
		p.Mode, p.FixedHour = model.ModeFixed, intp(9)
		_, err = h.prefs.Upsert(h.ctx, p)
		require.NoError(t, err)
	}

	at := h.local(9, 0)
	first := h.runAt(t, at)
	second := h.runAt(t, at)

	assert.Equal(t, 11, first.Processed)
	assert.Equal(t, 0, second.Processed)
	assert.Len(t, h.dispatcher.messages(), 11)
}

func TestComposeTitles(t *testing.T) {
	goal := model.Goal{Title: "Read"}
	title, body := Compose(model.TierGentle, goal, recurrence.Daily, "")
	assert.Equal(t, "Time for Read", title)
	assert.NotContains(t, body, "groupmate")

	title, _ = Compose(model.TierSupportive, goal, recurrence.Daily, "")
	assert.Equal(t, "Still time for Read", title)

	_, body = Compose(model.TierLastChance, goal, recurrence.Daily, "2 of 3 groupmates already logged today")
	assert.Contains(t, body, "before the day is over")
	assert.Contains(t, body, "2 of 3 groupmates already logged today.")
}

func TestSocialContextNoGroupmates(t *testing.T) {
	assert.Empty(t, SocialContext(model.SocialSnapshot{}, recurrence.Daily))
	assert.Equal(t, "0 of 1 groupmate already logged today",
		SocialContext(model.SocialSnapshot{Members: 1}, recurrence.Daily))
}
