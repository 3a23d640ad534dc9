package model

import (
	"maps"
	"slices"
	"time"
)

func cloneTime(t *time.Time) *time.Time {
	return clonePtr(t)
}

// Clone возвращает глубокую копию счёта.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.PasswordHash = slices.Clone(a.PasswordHash)
	c.Loan.TakenAt = cloneTime(a.Loan.TakenAt)
	if a.PendingLoan != nil {
		req := *a.PendingLoan
		c.PendingLoan = &req
	}
	c.InsuranceExpiresAt = cloneTime(a.InsuranceExpiresAt)
	if a.Deposit != nil {
		d := *a.Deposit
		c.Deposit = &d
	}
	c.Holdings = maps.Clone(a.Holdings)
	c.Notifications = slices.Clone(a.Notifications)
	c.Transactions = slices.Clone(a.Transactions)
	c.WonLots = slices.Clone(a.WonLots)
	return &c
}

// Clone возвращает глубокую копию аукциона.
func (a Auction) Clone() Auction {
	c := a
	c.Bids = slices.Clone(a.Bids)
	if a.Winner != nil {
		w := *a.Winner
		c.Winner = &w
	}
	c.SettledAt = cloneTime(a.SettledAt)
	return c
}

// Clone возвращает глубокую копию снимка состояния.
func (s *State) Clone() *State {
	c := *s
	c.Accounts = make(map[string]*Account, len(s.Accounts))
	for id, acc := range s.Accounts {
		c.Accounts[id] = acc.Clone()
	}

	c.Auctions.General = s.Auctions.General.Clone()
	c.Auctions.SpecialLots = make([]SpecialLot, len(s.Auctions.SpecialLots))
	for i, lot := range s.Auctions.SpecialLots {
		lot.Auction = lot.Auction.Clone()
		c.Auctions.SpecialLots[i] = lot
	}

	c.Events = make([]EconomicEvent, len(s.Events))
	for i, ev := range s.Events {
		ev.AppliedAt = cloneTime(ev.AppliedAt)
		ev.Params = ev.Params.Clone()
		c.Events[i] = ev
	}

	c.Assets = make([]Asset, len(s.Assets))
	for i, asset := range s.Assets {
		asset.History = slices.Clone(asset.History)
		c.Assets[i] = asset
	}

	c.InsuranceOptions = slices.Clone(s.InsuranceOptions)
	return &c
}
