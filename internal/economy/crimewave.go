package economy

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/virtual-bank/internal/ledger"
	"github.com/mmeshcher/virtual-bank/internal/model"
)

// UninsuredShare возвращает долю незастрахованных счетов в момент now в процентах.
func UninsuredShare(accounts []*model.Account, now time.Time) (float64, bool) {
	if len(accounts) == 0 {
		return 0, false
	}
	uninsured := 0
	for _, acc := range accounts {
		if !acc.InsuredAt(now) {
			uninsured++
		}
	}
	return float64(uninsured) * 100 / float64(len(accounts)), true
}

// CheckCrimeWave начинает волну преступности, когда доля незастрахованных счетов превышает порог,
// и заканчивает её, когда доля возвращается к порогу. Реагирует только на смену режима.
func (e *Engine) CheckCrimeWave(ctx context.Context, now time.Time) (bool, error) {
	changed := false
	err := e.ledger.UpdateAt(ctx, now, func(tx *ledger.Tx) error {
		share, ok := UninsuredShare(tx.NonAdminAccounts(), now)
		if !ok {
			return ledger.ErrNoChange
		}

		s := &tx.State().Economy
		switch {
		case share > s.CrimeWaveThresholdPercent && !s.CrimeWave:
			s.CrimeWave = true
			tx.Broadcast("Crime wave! Thefts are on the rise. Insure your savings")
		case share <= s.CrimeWaveThresholdPercent && s.CrimeWave:
			s.CrimeWave = false
			tx.Broadcast("The crime wave is over")
		default:
			return ledger.ErrNoChange
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if changed {
		e.logger.Info("crime wave mode changed", zap.Bool("active", e.Settings().CrimeWave))
	}
	return changed, nil
}

// ApplyCrimeWave во время волны преступности с вероятностью BaseTheftChancePercent
// применяет кражу к каждому незастрахованному счёту. Возвращает число краж.
func (e *Engine) ApplyCrimeWave(ctx context.Context, now time.Time) (int, error) {
	thefts := 0
	err := e.ledger.UpdateAt(ctx, now, func(tx *ledger.Tx) error {
		thefts = 0
		s := tx.State().Economy
		if !s.CrimeWave {
			return ledger.ErrNoChange
		}
		for _, acc := range tx.NonAdminAccounts() {
			if acc.InsuredAt(now) || !e.chance(s.BaseTheftChancePercent) {
				continue
			}
			if applyLoss(tx, acc, TheftLoss, "Theft") > 0 {
				thefts++
			}
		}
		if thefts == 0 {
			return ledger.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if thefts > 0 {
		e.logger.Info("crime wave thefts", zap.Int("count", thefts))
	}
	return thefts, nil
}
