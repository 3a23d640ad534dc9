package auction

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/virtual-bank/internal/ledger"
	"github.com/mmeshcher/virtual-bank/internal/model"
)

// LotParams — параметры публикуемого особого лота.
type LotParams struct {
	Name        string
	Description string
	Image       string
	StartPrice  int64
	EndsAt      time.Time
}

// SpecialLots возвращает копии всех особых лотов, включая завершённые.
func (e *Engine) SpecialLots() []model.SpecialLot {
	var out []model.SpecialLot
	e.ledger.View(func(s *model.State) {
		out = make([]model.SpecialLot, len(s.Auctions.SpecialLots))
		for i, lot := range s.Auctions.SpecialLots {
			lot.Auction = lot.Auction.Clone()
			out[i] = lot
		}
	})
	return out
}

// ActiveSpecialLot возвращает копию активного особого лота.
func (e *Engine) ActiveSpecialLot() (model.SpecialLot, bool) {
	var (
		out model.SpecialLot
		ok  bool
	)
	e.ledger.View(func(s *model.State) {
		if lot := s.Auctions.ActiveSpecialLot(); lot != nil {
			out = *lot
			out.Auction = lot.Auction.Clone()
			ok = true
		}
	})
	return out, ok
}

// PublishSpecialLot публикует особый лот. Одновременно может быть активен только один лот.
func (e *Engine) PublishSpecialLot(ctx context.Context, p LotParams) (model.SpecialLot, error) {
	if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.Description) == "" || p.StartPrice < 0 {
		return model.SpecialLot{}, model.ErrInvalidLot
	}

	var out model.SpecialLot
	err := e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		if !p.EndsAt.After(tx.Now()) {
			return model.ErrMissingEndTime
		}
		auctions := &tx.State().Auctions
		if auctions.ActiveSpecialLot() != nil {
			return model.ErrAlreadyActive
		}

		out = model.SpecialLot{
			ID:          tx.NewID(),
			Name:        p.Name,
			Description: p.Description,
			Image:       p.Image,
			StartPrice:  p.StartPrice,
			Auction:     model.Auction{Status: model.AuctionActive, EndsAt: p.EndsAt},
		}
		auctions.SpecialLots = append(auctions.SpecialLots, out)
		tx.Broadcast(fmt.Sprintf("New special lot %q is up for auction! Starting price: %s", p.Name, ledger.FormatAmount(p.StartPrice)))
		return nil
	})
	if err != nil {
		return model.SpecialLot{}, err
	}
	return out, nil
}

func findLot(s *model.State, id string) (*model.SpecialLot, error) {
	i := slices.IndexFunc(s.Auctions.SpecialLots, func(l model.SpecialLot) bool { return l.ID == id })
	if i < 0 {
		return nil, model.ErrLotNotFound
	}
	return &s.Auctions.SpecialLots[i], nil
}

// PlaceSpecialBid делает ставку на особый лот. Первая ставка должна превышать начальную цену.
func (e *Engine) PlaceSpecialBid(ctx context.Context, lotID, accountID string, amount int64) error {
	return e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		lot, err := findLot(tx.State(), lotID)
		if err != nil {
			return err
		}
		return placeBid(tx, &lot.Auction, lot.StartPrice, lotLabel(lot), accountID, amount)
	})
}

// SettleSpecialLot досрочно завершает особый лот. Повторный вызов возвращает прежнего победителя.
func (e *Engine) SettleSpecialLot(ctx context.Context, lotID string) (*model.Bid, error) {
	var winner *model.Bid
	err := e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		lot, err := findLot(tx.State(), lotID)
		if err != nil {
			return err
		}
		if lot.Status != model.AuctionActive {
			winner = copyBid(lot.Winner)
			return ledger.ErrNoChange
		}
		winner = settle(tx, &lot.Auction, model.AuctionClosed, model.WonLotSpecialAuction, lot.Name, lotLabel(lot))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return winner, nil
}

// CheckSpecialLots завершает все особые лоты, время которых истекло к моменту now.
func (e *Engine) CheckSpecialLots(ctx context.Context, now time.Time) (int, error) {
	var settled []string
	err := e.ledger.UpdateAt(ctx, now, func(tx *ledger.Tx) error {
		settled = settled[:0]
		lots := tx.State().Auctions.SpecialLots
		for i := range lots {
			lot := &lots[i]
			if lot.Status != model.AuctionActive || lot.EndsAt.After(now) {
				continue
			}
			settle(tx, &lot.Auction, model.AuctionClosed, model.WonLotSpecialAuction, lot.Name, lotLabel(lot))
			settled = append(settled, lot.ID)
		}
		if len(settled) == 0 {
			return ledger.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, id := range settled {
		e.logger.Info("special lot settled by scheduler", zap.String("lot", id))
	}
	return len(settled), nil
}

func lotLabel(lot *model.SpecialLot) string {
	return fmt.Sprintf("lot %q", lot.Name)
}
