package economy

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/virtual-bank/internal/ledger"
	"github.com/mmeshcher/virtual-bank/internal/model"
)

// Events возвращает все запланированные события, отсортированные по времени начала.
func (e *Engine) Events() []model.EconomicEvent {
	var out []model.EconomicEvent
	e.ledger.View(func(s *model.State) {
		out = slices.Clone(s.Events)
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScheduledStart.Before(out[j].ScheduledStart)
	})
	return out
}

// Schedule планирует событие на окно [start, end).
func (e *Engine) Schedule(ctx context.Context, kind model.EventKind, params model.EventParams, start, end time.Time) (model.EconomicEvent, error) {
	if !kind.Valid() {
		return model.EconomicEvent{}, model.ErrUnknownEventKind
	}
	if err := validateParams(params); err != nil {
		return model.EconomicEvent{}, err
	}
	if !end.After(start) {
		return model.EconomicEvent{}, model.ErrInvalidSchedule
	}

	var ev model.EconomicEvent
	err := e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		if !end.After(tx.Now()) {
			return model.ErrInvalidSchedule
		}
		ev = model.EconomicEvent{
			ID:             tx.NewID(),
			Kind:           kind,
			Params:         params,
			ScheduledStart: start,
			ScheduledEnd:   end,
			Status:         model.EventPending,
		}
		tx.State().Events = append(tx.State().Events, ev)
		return nil
	})
	if err != nil {
		return model.EconomicEvent{}, err
	}
	return ev, nil
}

// DeleteEvent удаляет событие из расписания и истории.
func (e *Engine) DeleteEvent(ctx context.Context, id string) error {
	return e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		s := tx.State()
		i := slices.IndexFunc(s.Events, func(ev model.EconomicEvent) bool { return ev.ID == id })
		if i < 0 {
			return model.ErrEventNotFound
		}
		s.Events = slices.Delete(s.Events, i, i+1)
		return nil
	})
}

// ApplyDueEvents применяет ожидающие события, окно которых содержит now.
// События, окно которых закончилось до применения, помечаются как просроченные.
func (e *Engine) ApplyDueEvents(ctx context.Context, now time.Time) (int, error) {
	var applied []model.EventKind
	err := e.ledger.UpdateAt(ctx, now, func(tx *ledger.Tx) error {
		applied = applied[:0]
		changed := false
		events := tx.State().Events
		for i := range events {
			ev := &events[i]
			if ev.Status != model.EventPending {
				continue
			}
			switch {
			case !now.Before(ev.ScheduledEnd), validateParams(ev.Params) != nil:
				ev.Status = model.EventExpired
				changed = true
			case !now.Before(ev.ScheduledStart):
				if _, err := e.apply(tx, ev.Kind, ev.Params); err != nil {
					return fmt.Errorf("apply event %s: %w", ev.ID, err)
				}
				ev.Status = model.EventApplied
				at := now
				ev.AppliedAt = &at
				applied = append(applied, ev.Kind)
				changed = true
			}
		}
		if !changed {
			return ledger.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, kind := range applied {
		e.metrics.EventApplied(string(kind))
		e.logger.Info("scheduled economic event applied", zap.String("kind", string(kind)))
	}
	return len(applied), nil
}

// SettingsUpdate — изменяемые администратором параметры динамической экономики.
type SettingsUpdate struct {
	DynamicEvents             bool
	CrimeWaveThresholdPercent float64
	BaseTheftChancePercent    float64
}

// UpdateSettings меняет параметры динамической экономики.
func (e *Engine) UpdateSettings(ctx context.Context, u SettingsUpdate) (model.EconomySettings, error) {
	if u.CrimeWaveThresholdPercent <= 0 || u.CrimeWaveThresholdPercent > 100 ||
		u.BaseTheftChancePercent < 0 || u.BaseTheftChancePercent > 100 {
		return model.EconomySettings{}, model.ErrInvalidAmount
	}

	var out model.EconomySettings
	err := e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		s := &tx.State().Economy
		s.DynamicEvents = u.DynamicEvents
		s.CrimeWaveThresholdPercent = u.CrimeWaveThresholdPercent
		s.BaseTheftChancePercent = u.BaseTheftChancePercent
		out = *s
		return nil
	})
	return out, err
}

// Settings возвращает параметры динамической экономики.
func (e *Engine) Settings() model.EconomySettings {
	var out model.EconomySettings
	e.ledger.View(func(s *model.State) {
		out = s.Economy
	})
	return out
}
