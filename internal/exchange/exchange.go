// Package exchange реализует учебную биржу акций и криптовалют.
package exchange

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/virtual-bank/internal/ledger"
	"github.com/mmeshcher/virtual-bank/internal/metrics"
	"github.com/mmeshcher/virtual-bank/internal/model"
)

const (
	stockVolatility  = 0.0075
	cryptoVolatility = 0.015
	historyLen       = 30

	// QuantityPlaces — максимальное число знаков после запятой в количестве инструмента.
	QuantityPlaces = 8
)

// Ledger описывает используемую часть хранилища состояния.
type Ledger interface {
	Update(ctx context.Context, fn func(tx *ledger.Tx) error) error
	UpdateAt(ctx context.Context, now time.Time, fn func(tx *ledger.Tx) error) error
	View(fn func(state *model.State))
}

// Exchange торгует инструментами по текущей цене.
type Exchange struct {
	ledger  Ledger
	metrics *metrics.Collector

	mu  sync.Mutex
	rng *rand.Rand
}

// New создаёт биржу. Если rng равен nil, используется случайное зерно.
func New(l Ledger, rng *rand.Rand, m *metrics.Collector) *Exchange {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Exchange{ledger: l, rng: rng, metrics: m}
}

// Trade описывает исполненную сделку.
type Trade struct {
	Ticker   string          `json:"ticker"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    int64           `json:"price"`
	Total    int64           `json:"total"`
}

// Assets возвращает копии всех инструментов.
func (x *Exchange) Assets() []model.Asset {
	var out []model.Asset
	x.ledger.View(func(s *model.State) {
		out = make([]model.Asset, len(s.Assets))
		for i, a := range s.Assets {
			a.History = slices.Clone(a.History)
			out[i] = a
		}
	})
	return out
}

// UpdatePrices сдвигает цену каждого инструмента на случайную величину в пределах его волатильности.
func (x *Exchange) UpdatePrices(ctx context.Context, now time.Time) error {
	var prices []model.Asset
	err := x.ledger.UpdateAt(ctx, now, func(tx *ledger.Tx) error {
		assets := tx.State().Assets
		if len(assets) == 0 {
			return ledger.ErrNoChange
		}
		x.mu.Lock()
		defer x.mu.Unlock()
		for i := range assets {
			a := &assets[i]
			vol := stockVolatility
			if a.Type == model.AssetCrypto {
				vol = cryptoVolatility
			}
			change := (x.rng.Float64()*2 - 1) * vol
			a.History = append(a.History, a.Price)
			if len(a.History) > historyLen {
				a.History = a.History[len(a.History)-historyLen:]
			}
			a.Price = max(1, int64(math.Round(float64(a.Price)*(1+change))))
		}
		prices = slices.Clone(assets)
		return nil
	})
	if err != nil {
		return err
	}
	for _, a := range prices {
		x.metrics.SetAssetPrice(a.Ticker, float64(a.Price)/model.CentsPerUnit)
	}
	return nil
}

func validQuantity(q decimal.Decimal) bool {
	return q.IsPositive() && q.Equal(q.Truncate(QuantityPlaces))
}

var maxCents = decimal.NewFromInt(math.MaxInt64)

// cost возвращает стоимость quantity единиц по цене price, округлённую до копейки.
func cost(price int64, quantity decimal.Decimal) (int64, error) {
	total := decimal.NewFromInt(price).Mul(quantity).Round(0)
	if !total.IsPositive() || total.GreaterThan(maxCents) {
		return 0, model.ErrInvalidAmount
	}
	return total.IntPart(), nil
}

func findAsset(s *model.State, ticker string) (*model.Asset, error) {
	a := s.Asset(strings.ToUpper(ticker))
	if a == nil {
		return nil, model.ErrAssetNotFound
	}
	return a, nil
}

// Buy покупает quantity единиц инструмента по текущей цене.
func (x *Exchange) Buy(ctx context.Context, accountID, ticker string, quantity decimal.Decimal) (Trade, error) {
	if !validQuantity(quantity) {
		return Trade{}, model.ErrInvalidAmount
	}

	var trade Trade
	err := x.ledger.Update(ctx, func(tx *ledger.Tx) error {
		acc, err := tx.Account(accountID)
		if err != nil {
			return err
		}
		asset, err := findAsset(tx.State(), ticker)
		if err != nil {
			return err
		}
		total, err := cost(asset.Price, quantity)
		if err != nil {
			return err
		}
		comment := fmt.Sprintf("Buy %s %s", quantity, asset.Ticker)
		if _, err := tx.Debit(acc, total, model.TxAssetBuy, comment); err != nil {
			return err
		}
		if acc.Holdings == nil {
			acc.Holdings = make(map[string]decimal.Decimal)
		}
		acc.Holdings[asset.Ticker] = acc.Holdings[asset.Ticker].Add(quantity)
		trade = Trade{Ticker: asset.Ticker, Quantity: quantity, Price: asset.Price, Total: total}
		return nil
	})
	if err != nil {
		return Trade{}, err
	}
	return trade, nil
}

// Sell продаёт quantity единиц инструмента по текущей цене.
func (x *Exchange) Sell(ctx context.Context, accountID, ticker string, quantity decimal.Decimal) (Trade, error) {
	if !validQuantity(quantity) {
		return Trade{}, model.ErrInvalidAmount
	}

	var trade Trade
	err := x.ledger.Update(ctx, func(tx *ledger.Tx) error {
		acc, err := tx.Account(accountID)
		if err != nil {
			return err
		}
		asset, err := findAsset(tx.State(), ticker)
		if err != nil {
			return err
		}
		held := acc.Holdings[asset.Ticker]
		if held.LessThan(quantity) {
			return model.ErrInsufficientHoldings
		}
		total, err := cost(asset.Price, quantity)
		if err != nil {
			return err
		}
		tx.Credit(acc, total, model.TxAssetSell, fmt.Sprintf("Sell %s %s", quantity, asset.Ticker))
		if rest := held.Sub(quantity); rest.IsPositive() {
			acc.Holdings[asset.Ticker] = rest
		} else {
			delete(acc.Holdings, asset.Ticker)
		}
		trade = Trade{Ticker: asset.Ticker, Quantity: quantity, Price: asset.Price, Total: total}
		return nil
	})
	if err != nil {
		return Trade{}, err
	}
	return trade, nil
}

// AssetUpdate — параметры инструмента, добавляемого или изменяемого администратором.
type AssetUpdate struct {
	Ticker string
	Name   string
	Type   model.AssetType
	Price  int64
}

// UpsertAsset добавляет инструмент или обновляет название, тип и цену существующего.
// Тикер приводится к верхнему регистру.
func (x *Exchange) UpsertAsset(ctx context.Context, u AssetUpdate) (model.Asset, error) {
	u.Ticker = strings.ToUpper(strings.TrimSpace(u.Ticker))
	u.Name = strings.TrimSpace(u.Name)
	if u.Ticker == "" || u.Name == "" || u.Price <= 0 ||
		(u.Type != model.AssetStock && u.Type != model.AssetCrypto) {
		return model.Asset{}, model.ErrInvalidAsset
	}

	var out model.Asset
	err := x.ledger.Update(ctx, func(tx *ledger.Tx) error {
		s := tx.State()
		if a := s.Asset(u.Ticker); a != nil {
			a.Name = u.Name
			a.Type = u.Type
			a.Price = u.Price
			out = *a
		} else {
			out = model.Asset{Ticker: u.Ticker, Name: u.Name, Type: u.Type, Price: u.Price}
			s.Assets = append(s.Assets, out)
		}
		out.History = slices.Clone(out.History)
		return nil
	})
	if err != nil {
		return model.Asset{}, err
	}
	x.metrics.SetAssetPrice(out.Ticker, float64(out.Price)/model.CentsPerUnit)
	return out, nil
}
