package model

import "time"

// EventKind — закрытый набор видов экономических событий.
type EventKind string

const (
	EventCrisis      EventKind = "crisis"
	EventTheft       EventKind = "theft"
	EventMarketCrash EventKind = "market_crash"
	EventBankRobbery EventKind = "bank_robbery"
	EventTechBoom    EventKind = "tech_boom"
	EventAudit       EventKind = "audit"
	EventGoodHarvest EventKind = "good_harvest"
	EventLotteryWin  EventKind = "lottery_win"
	EventCharity     EventKind = "charity"
)

// EventKinds перечисляет все поддерживаемые виды событий.
var EventKinds = []EventKind{
	EventCrisis,
	EventTheft,
	EventMarketCrash,
	EventBankRobbery,
	EventTechBoom,
	EventAudit,
	EventGoodHarvest,
	EventLotteryWin,
	EventCharity,
}

// Valid сообщает, входит ли вид события в поддерживаемый набор.
func (k EventKind) Valid() bool {
	for _, known := range EventKinds {
		if k == known {
			return true
		}
	}
	return false
}

// EventParams — числовые параметры событий. Используются только поля, относящиеся к виду события:
// LossPercent и BalanceThreshold для bank_robbery, MaxFine и ChancePercent для audit.
// Незаданный (nil) параметр заменяется значением по умолчанию, ноль остаётся нулём.
type EventParams struct {
	LossPercent      *float64 `json:"lossPercent,omitempty"`
	BalanceThreshold *int64   `json:"balanceThreshold,omitempty"`
	MaxFine          *int64   `json:"maxFine,omitempty"`
	ChancePercent    *float64 `json:"chancePercent,omitempty"`
}

// Clone возвращает копию параметров, не разделяющую указатели с исходными.
func (p EventParams) Clone() EventParams {
	return EventParams{
		LossPercent:      clonePtr(p.LossPercent),
		BalanceThreshold: clonePtr(p.BalanceThreshold),
		MaxFine:          clonePtr(p.MaxFine),
		ChancePercent:    clonePtr(p.ChancePercent),
	}
}

// Ptr возвращает указатель на копию v.
func Ptr[T any](v T) *T {
	return &v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// EventStatus — состояние запланированного события.
type EventStatus string

const (
	EventPending EventStatus = "pending"
	EventApplied EventStatus = "applied"
	EventExpired EventStatus = "expired"
)

// EconomicEvent — запланированное экономическое событие. Применяется ровно один раз и остаётся в истории.
type EconomicEvent struct {
	ID             string      `json:"id"`
	Kind           EventKind   `json:"kind"`
	Params         EventParams `json:"params"`
	ScheduledStart time.Time   `json:"scheduledStart"`
	ScheduledEnd   time.Time   `json:"scheduledEnd"`
	Status         EventStatus `json:"status"`
	AppliedAt      *time.Time  `json:"appliedAt,omitempty"`
}
