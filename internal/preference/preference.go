// Package preference reads and updates per-goal reminder settings.
package preference

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/dukerupert/pursue/internal/apperr"
	"github.com/dukerupert/pursue/internal/hourwindow"
	"github.com/dukerupert/pursue/internal/model"
)

// OptionalHour distinguishes an absent JSON field from an explicit null.
type OptionalHour struct {
	Set   bool
	Value *int
}

func (o *OptionalHour) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v int
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

// Hour returns an OptionalHour set to h.
func Hour(h int) OptionalHour { return OptionalHour{Set: true, Value: &h} }

// Null returns an OptionalHour that clears the field.
func Null() OptionalHour { return OptionalHour{Set: true} }

// Patch is a partial update. Nil pointers and unset hours leave the stored
// value alone.
type Patch struct {
	Enabled         *bool                 `json:"enabled"`
	Mode            *model.Mode           `json:"mode"`
	FixedHour       OptionalHour          `json:"fixed_hour"`
	Aggressiveness  *model.Aggressiveness `json:"aggressiveness"`
	QuietHoursStart OptionalHour          `json:"quiet_hours_start"`
	QuietHoursEnd   OptionalHour          `json:"quiet_hours_end"`
}

// Apply returns p with the patch's fields overlaid.
func (pt Patch) Apply(p model.ReminderPreference) model.ReminderPreference {
	if pt.Enabled != nil {
		p.Enabled = *pt.Enabled
	}
	if pt.Mode != nil {
		p.Mode = *pt.Mode
	}
	if pt.FixedHour.Set {
		p.FixedHour = pt.FixedHour.Value
	}
	if pt.Aggressiveness != nil {
		p.Aggressiveness = *pt.Aggressiveness
	}
	if pt.QuietHoursStart.Set {
		p.QuietHoursStart = pt.QuietHoursStart.Value
	}
	if pt.QuietHoursEnd.Set {
		p.QuietHoursEnd = pt.QuietHoursEnd.Value
	}
	return p
}

// Validate reports every problem with p at once.
func Validate(p model.ReminderPreference) error {
	var v apperr.ValidationError

	if !p.Mode.Valid() {
		v.Add("mode", "must be one of smart, fixed, disabled")
	}
	if !p.Aggressiveness.Valid() {
		v.Add("aggressiveness", "must be one of gentle, balanced, persistent")
	}

	switch {
	case p.FixedHour != nil && hourwindow.Validate(*p.FixedHour) != nil:
		v.Add("fixed_hour", "must be between 0 and 23")
	case p.Mode == model.ModeFixed && p.FixedHour == nil:
		v.Add("fixed_hour", "required when mode is fixed")
	}

	if (p.QuietHoursStart == nil) != (p.QuietHoursEnd == nil) {
		v.Add("quiet_hours", "start and end must both be set or both be null")
	}
	if p.QuietHoursStart != nil && hourwindow.Validate(*p.QuietHoursStart) != nil {
		v.Add("quiet_hours_start", "must be between 0 and 23")
	}
	if p.QuietHoursEnd != nil && hourwindow.Validate(*p.QuietHoursEnd) != nil {
		v.Add("quiet_hours_end", "must be between 0 and 23")
	}

	return v.OrNil()
}

type Store interface {
	Get(ctx context.Context, userID, goalID int64) (*model.ReminderPreference, error)
	ListByUser(ctx context.Context, userID int64) ([]model.ReminderPreference, error)
	Upsert(ctx context.Context, p model.ReminderPreference) (*model.ReminderPreference, error)
}

// Goals answers which goals a user can see.
type Goals interface {
	GoalsForUser(ctx context.Context, userID int64) ([]model.Goal, error)
	IsMember(ctx context.Context, userID, goalID int64) (bool, error)
}

type Service struct {
	store Store
	goals Goals
}

func NewService(store Store, goals Goals) *Service {
	return &Service{store: store, goals: goals}
}

// Get returns the stored preference or the defaults. Defaults are not
// written; the first explicit update creates the row.
func (s *Service) Get(ctx context.Context, userID, goalID int64) (model.ReminderPreference, error) {
	ok, err := s.goals.IsMember(ctx, userID, goalID)
	if err != nil {
		return model.ReminderPreference{}, apperr.DataAccess("check goal membership", err)
	}
	if !ok {
		return model.ReminderPreference{}, apperr.ErrNotFound
	}
	return s.load(ctx, userID, goalID)
}

func (s *Service) load(ctx context.Context, userID, goalID int64) (model.ReminderPreference, error) {
	p, err := s.store.Get(ctx, userID, goalID)
	if err != nil {
		return model.ReminderPreference{}, apperr.DataAccess("load preference", err)
	}
	if p == nil {
		return model.DefaultPreference(userID, goalID), nil
	}
	return *p, nil
}

// GetAll returns one preference per active goal of the user, defaults
// filled in for goals without a stored row.
func (s *Service) GetAll(ctx context.Context, userID int64) ([]model.ReminderPreference, error) {
	goals, err := s.goals.GoalsForUser(ctx, userID)
	if err != nil {
		return nil, apperr.DataAccess("list goals", err)
	}
	stored, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.DataAccess("list preferences", err)
	}

	byGoal := make(map[int64]model.ReminderPreference, len(stored))
	for _, p := range stored {
		byGoal[p.GoalID] = p
	}

	prefs := make([]model.ReminderPreference, 0, len(goals))
	for _, g := range goals {
		p, ok := byGoal[g.ID]
		if !ok {
			p = model.DefaultPreference(userID, g.ID)
		}
		prefs = append(prefs, p)
	}
	return prefs, nil
}

// Update applies a partial update. On a validation failure nothing is written.
func (s *Service) Update(ctx context.Context, userID, goalID int64, patch Patch) (model.ReminderPreference, error) {
	current, err := s.Get(ctx, userID, goalID)
	if err != nil {
		return model.ReminderPreference{}, err
	}

	next := patch.Apply(current)
	if err := Validate(next); err != nil {
		return model.ReminderPreference{}, err
	}

	saved, err := s.store.Upsert(ctx, next)
	if err != nil {
		return model.ReminderPreference{}, apperr.DataAccess("save preference", err)
	}
	return *saved, nil
}
