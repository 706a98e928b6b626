package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dukerupert/pursue/internal/apperr"
	"github.com/dukerupert/pursue/internal/metrics"
	"github.com/dukerupert/pursue/internal/model"
	"github.com/dukerupert/pursue/internal/notify"
	"github.com/dukerupert/pursue/internal/pattern"
	"github.com/dukerupert/pursue/internal/recurrence"
	"github.com/dukerupert/pursue/internal/websocket"
)

type PairLister interface {
	ListReminderPairs(ctx context.Context) ([]model.Pair, error)
}

type Timezones interface {
	Timezone(ctx context.Context, userID int64) (string, error)
}

type PreferenceReader interface {
	Get(ctx context.Context, userID, goalID int64) (*model.ReminderPreference, error)
}

type PatternReader interface {
	List(ctx context.Context, userID, goalID int64) ([]model.LoggingPattern, error)
}

// ProgressReader is the slice of the progress-tracking store the scheduler
// consults.
type ProgressReader interface {
	GetGoal(ctx context.Context, goalID int64) (*model.Goal, error)
	IsPeriodComplete(ctx context.Context, userID, goalID int64, asOf time.Time) (bool, error)
	SocialSnapshot(ctx context.Context, userID, goalID int64, from, to time.Time) (model.SocialSnapshot, error)
}

type HistoryStore interface {
	ListForDate(ctx context.Context, userID, goalID int64, localDate string) ([]model.ReminderHistoryEntry, error)
	Claim(ctx context.Context, e *model.ReminderHistoryEntry) (bool, error)
	BeginDispatch(ctx context.Context, id int64) (bool, error)
	MarkSent(ctx context.Context, id int64) error
	Release(ctx context.Context, id int64) error
	ReleaseStaleClaims(ctx context.Context, before time.Time) (int64, error)
	SettleStaleDispatches(ctx context.Context, before time.Time) (int64, error)
}

// Suppressor lets effectiveness feedback switch individual tiers off for a
// pair.
type Suppressor interface {
	SuppressedTiers(ctx context.Context, userID, goalID int64) (map[model.Tier]bool, error)
}

// NoSuppression never suppresses anything.
type NoSuppression struct{}

func (NoSuppression) SuppressedTiers(context.Context, int64, int64) (map[model.Tier]bool, error) {
	return nil, nil
}

type Broadcaster interface {
	Broadcast(msg websocket.Message)
}

// Deps are the Processor's collaborators. Suppressor, Broadcaster, Limiter
// and Metrics are optional.
type Deps struct {
	Pairs       PairLister
	Users       Timezones
	Preferences PreferenceReader
	Patterns    PatternReader
	Progress    ProgressReader
	History     HistoryStore
	Dispatcher  notify.Dispatcher
	Suppressor  Suppressor
	Broadcaster Broadcaster
	Limiter     *rate.Limiter
	Metrics     *metrics.Exporter
}

// Options tunes a Processor.
type Options struct {
	Workers int
	// ClaimTTL bounds how long a claim may sit unconfirmed before the next
	// tick releases it.
	ClaimTTL time.Duration
	Schedule Config
	Patterns pattern.Config
}

// Processor runs the process-reminders batch.
type Processor struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

func NewProcessor(deps Deps, opts Options, logger *slog.Logger) *Processor {
	if deps.Suppressor == nil {
		deps.Suppressor = NoSuppression{}
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 5 * time.Minute
	}
	return &Processor{
		deps:   deps,
		opts:   opts,
		logger: logger.With("component", "reminder"),
		now:    time.Now,
	}
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeErrored
)

// Run evaluates every eligible pair once. Per-pair failures are counted and
// logged; only failing to list the pairs fails the run.
func (p *Processor) Run(ctx context.Context) (model.JobSummary, error) {
	now := p.now()

	released, err := p.deps.History.ReleaseStaleClaims(ctx, now.Add(-p.opts.ClaimTTL))
	if err != nil {
		p.logger.ErrorContext(ctx, "release stale claims", "error", err)
	} else if released > 0 {
		p.logger.WarnContext(ctx, "released stale reminder claims", "count", released)
	}
	settled, err := p.deps.History.SettleStaleDispatches(ctx, now.Add(-p.opts.ClaimTTL))
	if err != nil {
		p.logger.ErrorContext(ctx, "settle stale dispatches", "error", err)
	} else if settled > 0 {
		p.logger.WarnContext(ctx, "settled unconfirmed reminder dispatches", "count", settled)
	}

	pairs, err := p.deps.Pairs.ListReminderPairs(ctx)
	if err != nil {
		return model.JobSummary{}, apperr.DataAccess("list reminder pairs", err)
	}

	var sent, skipped, errored atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)

	for _, pair := range pairs {
		g.Go(func() error {
			out, err := p.processPair(gctx, pair, now)
			switch out {
			case outcomeSent:
				sent.Add(1)
			case outcomeErrored:
				errored.Add(1)
				p.logger.ErrorContext(gctx, "process reminder pair",
					"user_id", pair.UserID, "goal_id", pair.GoalID, "error", err)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	return model.JobSummary{
		Processed: int(sent.Load()),
		Skipped:   int(skipped.Load()),
		Errored:   int(errored.Load()),
	}, nil
}

// Evaluate builds the pair's snapshot and decides, without sending anything.
func (p *Processor) Evaluate(ctx context.Context, pair model.Pair, now time.Time) (Decision, *Snapshot, error) {
	tz, err := p.deps.Users.Timezone(ctx, pair.UserID)
	if err != nil {
		return Decision{}, nil, apperr.DataAccess("load timezone", err)
	}
	if tz == "" {
		return Decision{Reason: ReasonDisabled}, nil, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Decision{}, nil, fmt.Errorf("user %d timezone %q: %w", pair.UserID, tz, err)
	}
	local := now.In(loc)

	pref, err := p.deps.Preferences.Get(ctx, pair.UserID, pair.GoalID)
	if err != nil {
		return Decision{}, nil, apperr.DataAccess("load preference", err)
	}
	if pref == nil {
		d := model.DefaultPreference(pair.UserID, pair.GoalID)
		pref = &d
	}
	if !pref.Enabled || pref.Mode == model.ModeDisabled {
		return Decision{Reason: ReasonDisabled}, nil, nil
	}

	goal, err := p.deps.Progress.GetGoal(ctx, pair.GoalID)
	if err != nil {
		return Decision{}, nil, apperr.DataAccess("load goal", err)
	}
	if goal == nil || goal.Archived {
		return Decision{Reason: ReasonDisabled}, nil, nil
	}
	freq, err := recurrence.ParseFreq(goal.Cadence)
	if err != nil {
		return Decision{}, nil, err
	}

	complete, err := p.deps.Progress.IsPeriodComplete(ctx, pair.UserID, pair.GoalID, local)
	if err != nil {
		return Decision{}, nil, apperr.DataAccess("check period complete", err)
	}

	localDate := local.Format(model.LocalDateLayout)
	snap := &Snapshot{Local: local, Timezone: tz, LocalDate: localDate, Goal: *goal, Freq: freq}
	in := Input{Now: local, Preference: *pref, PeriodComplete: complete}
	if complete {
		return Decide(in, p.opts.Schedule), snap, nil
	}

	if pref.Mode == model.ModeSmart {
		patterns, err := p.deps.Patterns.List(ctx, pair.UserID, pair.GoalID)
		if err != nil {
			return Decision{}, nil, apperr.DataAccess("load patterns", err)
		}
		in.Pattern = pattern.Applicable(patterns, local.Weekday(), p.opts.Patterns)
	}

	today, err := p.deps.History.ListForDate(ctx, pair.UserID, pair.GoalID, localDate)
	if err != nil {
		return Decision{}, nil, apperr.DataAccess("load reminder history", err)
	}
	for _, e := range today {
		in.SentToday = append(in.SentToday, e.Tier)
	}

	in.Suppressed, err = p.deps.Suppressor.SuppressedTiers(ctx, pair.UserID, pair.GoalID)
	if err != nil {
		return Decision{}, nil, apperr.DataAccess("load suppressed tiers", err)
	}

	return Decide(in, p.opts.Schedule), snap, nil
}

// Snapshot carries what Evaluate resolved that sending needs again.
type Snapshot struct {
	Local     time.Time
	Timezone  string
	LocalDate string
	Goal      model.Goal
	Freq      recurrence.Freq
}

func (p *Processor) processPair(ctx context.Context, pair model.Pair, now time.Time) (outcome, error) {
	d, snap, err := p.Evaluate(ctx, pair, now)
	if err != nil {
		return outcomeErrored, err
	}
	if !d.Send {
		return outcomeSkipped, nil
	}

	social := ""
	start, end := recurrence.Period(snap.Freq, snap.Local)
	if s, err := p.deps.Progress.SocialSnapshot(ctx, pair.UserID, pair.GoalID, start, end); err != nil {
		p.logger.WarnContext(ctx, "social snapshot", "user_id", pair.UserID, "goal_id", pair.GoalID, "error", err)
	} else {
		social = SocialContext(s, snap.Freq)
	}

	entry := model.ReminderHistoryEntry{
		UserID:          pair.UserID,
		GoalID:          pair.GoalID,
		Tier:            d.Tier,
		SentAt:          now.UTC(),
		SentAtLocalDate: snap.LocalDate,
		UserTimezone:    snap.Timezone,
		SocialContext:   social,
	}
	claimed, err := p.deps.History.Claim(ctx, &entry)
	if err != nil {
		return outcomeErrored, apperr.DataAccess("claim reminder", err)
	}
	if !claimed {
		return outcomeSkipped, nil
	}

	started, err := p.deps.History.BeginDispatch(ctx, entry.ID)
	if err != nil {
		p.release(ctx, entry.ID)
		return outcomeErrored, apperr.DataAccess("begin reminder dispatch", err)
	}
	if !started {
		return outcomeSkipped, nil
	}

	title, body := Compose(d.Tier, snap.Goal, snap.Freq, social)
	msg := notify.Message{
		UserID: pair.UserID,
		GoalID: pair.GoalID,
		Tier:   d.Tier,
		Title:  title,
		Body:   body,
		URL:    fmt.Sprintf("/goals/%d", pair.GoalID),
		Tag:    notify.Tag(pair.GoalID),
	}

	if err := p.dispatch(ctx, msg); err != nil {
		// Releasing the claim keeps the tier retryable on the next tick.
		p.release(ctx, entry.ID)
		if errors.Is(err, notify.ErrNoDevices) {
			return outcomeSkipped, nil
		}
		p.deps.Metrics.RecordDispatchFailure(string(d.Tier))
		return outcomeErrored, &apperr.DispatchError{Err: err}
	}

	if err := p.deps.History.MarkSent(context.WithoutCancel(ctx), entry.ID); err != nil {
		// The row stays dispatching, which keeps the tier taken for the day
		// until a later tick settles it.
		return outcomeErrored, apperr.DataAccess("mark reminder sent", err)
	}

	p.deps.Metrics.RecordReminderSent(string(d.Tier))
	if p.deps.Broadcaster != nil {
		p.deps.Broadcaster.Broadcast(websocket.ReminderSent(entry))
	}
	p.logger.InfoContext(ctx, "reminder sent",
		"user_id", pair.UserID, "goal_id", pair.GoalID, "tier", d.Tier,
		"local_time", snap.Local.Format("15:04"), "timezone", snap.Timezone)
	return outcomeSent, nil
}

func (p *Processor) release(ctx context.Context, id int64) {
	if err := p.deps.History.Release(context.WithoutCancel(ctx), id); err != nil {
		p.logger.ErrorContext(ctx, "release reminder claim", "id", id, "error", err)
	}
}

func (p *Processor) dispatch(ctx context.Context, msg notify.Message) error {
	if p.deps.Limiter != nil {
		if err := p.deps.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	return p.deps.Dispatcher.Dispatch(ctx, msg)
}
