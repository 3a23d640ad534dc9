package exchange

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/virtual-bank/internal/ledger"
	"github.com/mmeshcher/virtual-bank/internal/model"
	"github.com/mmeshcher/virtual-bank/internal/repository"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newExchange(t *testing.T) (*Exchange, *ledger.Ledger) {
	t.Helper()
	l, err := ledger.New(context.Background(), repository.NewMemoryStore(), nil, nil,
		ledger.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	_, err = l.CreateAccount(context.Background(), "alice", nil, false, 1000_00)
	require.NoError(t, err)
	return New(l, rand.New(rand.NewPCG(7, 7)), nil), l
}

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestBuyAndSell(t *testing.T) {
	x, l := newExchange(t)
	ctx := context.Background()

	trade, err := x.Buy(ctx, "alice", "tch", qty("2"))
	require.NoError(t, err)
	assert.Equal(t, "TCH", trade.Ticker)
	assert.Equal(t, int64(300_00), trade.Total)

	acc, err := l.Account("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(700_00), acc.Balance)
	assert.True(t, qty("2").Equal(acc.Holdings["TCH"]))

	_, err = x.Sell(ctx, "alice", "TCH", qty("3"))
	assert.ErrorIs(t, err, model.ErrInsufficientHoldings)
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	trade, err = x.Sell(ctx, "alice", "TCH", qty("2"))
	require.NoError(t, err)
	assert.Equal(t, int64(300_00), trade.Total)

	acc, err = l.Account("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1000_00), acc.Balance)
	assert.NotContains(t, acc.Holdings, "TCH")
}

func TestBuy_Errors(t *testing.T) {
	x, _ := newExchange(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		account  string
		ticker   string
		quantity string
		want     error
	}{
		{name: "zero quantity", account: "alice", ticker: "TCH", quantity: "0", want: model.ErrInvalidAmount},
		{name: "negative quantity", account: "alice", ticker: "TCH", quantity: "-1", want: model.ErrInvalidAmount},
		{name: "too many decimal places", account: "alice", ticker: "TCH", quantity: "0.000000001", want: model.ErrInvalidAmount},
		{name: "rounds to zero cost", account: "alice", ticker: "TCH", quantity: "0.00000001", want: model.ErrInvalidAmount},
		{name: "unknown asset", account: "alice", ticker: "XYZ", quantity: "1", want: model.ErrAssetNotFound},
		{name: "insufficient funds", account: "alice", ticker: "BTC", quantity: "1", want: model.ErrInsufficientFunds},
		{name: "unknown account", account: "ghost", ticker: "TCH", quantity: "1", want: model.ErrAccountNotFound},
		{name: "cost overflows", account: "alice", ticker: "BTC", quantity: "100000000000000000", want: model.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := x.Buy(ctx, tt.account, tt.ticker, qty(tt.quantity))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSell_FractionalQuantitiesAreExact(t *testing.T) {
	x, l := newExchange(t)
	ctx := context.Background()

	for range 3 {
		_, err := x.Buy(ctx, "alice", "TCH", qty("0.1"))
		require.NoError(t, err)
	}

	acc, err := l.Account("alice")
	require.NoError(t, err)
	assert.Equal(t, "0.3", acc.Holdings["TCH"].String())

	_, err = x.Sell(ctx, "alice", "TCH", qty("0.300000001"))
	assert.ErrorIs(t, err, model.ErrInvalidAmount)
	_, err = x.Sell(ctx, "alice", "TCH", qty("0.30000001"))
	assert.ErrorIs(t, err, model.ErrInsufficientHoldings)

	trade, err := x.Sell(ctx, "alice", "TCH", qty("0.3"))
	require.NoError(t, err)
	assert.Equal(t, int64(45_00), trade.Total)

	acc, err = l.Account("alice")
	require.NoError(t, err)
	assert.NotContains(t, acc.Holdings, "TCH")
	assert.Equal(t, int64(1000_00), acc.Balance)
}

func TestUpsertAsset(t *testing.T) {
	x, _ := newExchange(t)
	ctx := context.Background()

	_, err := x.UpsertAsset(ctx, AssetUpdate{Ticker: "", Name: "Nameless", Type: model.AssetStock, Price: 10_00})
	assert.ErrorIs(t, err, model.ErrInvalidAsset)
	_, err = x.UpsertAsset(ctx, AssetUpdate{Ticker: "NEW", Name: "New", Type: "bond", Price: 10_00})
	assert.ErrorIs(t, err, model.ErrInvalidAsset)
	_, err = x.UpsertAsset(ctx, AssetUpdate{Ticker: "NEW", Name: "New", Type: model.AssetStock, Price: 0})
	assert.ErrorIs(t, err, model.ErrInvalidAsset)

	created, err := x.UpsertAsset(ctx, AssetUpdate{Ticker: " sol ", Name: "Solana", Type: model.AssetCrypto, Price: 150_00})
	require.NoError(t, err)
	assert.Equal(t, "SOL", created.Ticker)

	updated, err := x.UpsertAsset(ctx, AssetUpdate{Ticker: "tch", Name: "TechCorp Holdings", Type: model.AssetStock, Price: 200_00})
	require.NoError(t, err)
	assert.Equal(t, int64(200_00), updated.Price)

	assets := x.Assets()
	require.Len(t, assets, 5)
	assert.Equal(t, "TechCorp Holdings", assets[0].Name)
	assert.Equal(t, "SOL", assets[4].Ticker)
}

func TestUpdatePrices(t *testing.T) {
	x, _ := newExchange(t)
	before := x.Assets()

	for range 5 {
		require.NoError(t, x.UpdatePrices(context.Background(), now))
	}

	after := x.Assets()
	require.Len(t, after, len(before))
	for i, a := range after {
		assert.Len(t, a.History, 5)
		assert.Equal(t, before[i].Price, a.History[0])

		vol := stockVolatility
		if a.Type == model.AssetCrypto {
			vol = cryptoVolatility
		}
		prev := a.History[len(a.History)-1]
		assert.InDelta(t, float64(prev), float64(a.Price), float64(prev)*vol+1)
		assert.GreaterOrEqual(t, a.Price, int64(1))
	}
}

func TestUpdatePrices_HistoryBounded(t *testing.T) {
	x, _ := newExchange(t)
	for range historyLen + 10 {
		require.NoError(t, x.UpdatePrices(context.Background(), now))
	}
	for _, a := range x.Assets() {
		assert.Len(t, a.History, historyLen)
	}
}
