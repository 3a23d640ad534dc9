package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/virtual-bank/internal/model"
	"github.com/mmeshcher/virtual-bank/internal/repository"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.NotificationEvent
}

func (r *recordingNotifier) Publish(_ context.Context, events []model.NotificationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

type failingStore struct {
	repository.MemoryStore
	fail bool
}

func (f *failingStore) Save(ctx context.Context, state *model.State) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.MemoryStore.Save(ctx, state)
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("tx-%d", n)
	}
}

func newTestLedger(t *testing.T, store Persister) (*Ledger, *recordingNotifier) {
	t.Helper()
	if store == nil {
		store = repository.NewMemoryStore()
	}
	n := &recordingNotifier{}
	l, err := New(context.Background(), store, n, nil,
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(sequentialIDs()),
	)
	require.NoError(t, err)
	return l, n
}

func seed(t *testing.T, l *Ledger, id string, balance int64) {
	t.Helper()
	_, err := l.CreateAccount(context.Background(), id, nil, false, balance)
	require.NoError(t, err)
}

func TestNew_LoadsSnapshot(t *testing.T) {
	store := repository.NewMemoryStore()
	state := model.NewState()
	state.Accounts["alice"] = &model.Account{ID: "alice", Balance: 500}
	require.NoError(t, store.Save(context.Background(), state))

	l, _ := newTestLedger(t, store)

	acc, err := l.Account("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(500), acc.Balance)
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	l, n := newTestLedger(t, nil)
	seed(t, l, "alice", 100)

	err := l.Update(context.Background(), func(tx *Tx) error {
		acc, _ := tx.Account("alice")
		acc.Balance = 0
		tx.Notify(acc, "should not be sent")
		return model.ErrPolicyViolation
	})
	require.ErrorIs(t, err, model.ErrPolicyViolation)

	acc, err := l.Account("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), acc.Balance)
	assert.Empty(t, acc.Notifications)
	assert.Empty(t, n.events)
}

func TestUpdate_PanicReleasesLock(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	seed(t, l, "alice", 100)

	assert.Panics(t, func() {
		_ = l.Update(context.Background(), func(tx *Tx) error {
			acc, _ := tx.Account("alice")
			acc.Balance = 0
			panic("boom")
		})
	})

	done := make(chan error, 1)
	go func() {
		done <- l.Update(context.Background(), func(tx *Tx) error {
			acc, _ := tx.Account("alice")
			tx.Credit(acc, 1, model.TxEventGain, "after panic")
			return nil
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ledger is still locked after a panic in an update")
	}

	acc, err := l.Account("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(101), acc.Balance)
}

func TestUpdate_PersistFailureKeepsState(t *testing.T) {
	store := &failingStore{}
	l, n := newTestLedger(t, store)
	seed(t, l, "alice", 100)

	store.fail = true
	err := l.Update(context.Background(), func(tx *Tx) error {
		acc, _ := tx.Account("alice")
		tx.Credit(acc, 50, model.TxEventGain, "gain")
		tx.Notify(acc, "gain")
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist state")

	acc, err := l.Account("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), acc.Balance)
	assert.Empty(t, n.events)
}

func TestUpdate_NoChangeSkipsSave(t *testing.T) {
	store := repository.NewMemoryStore()
	l, _ := newTestLedger(t, store)
	seed(t, l, "alice", 100)
	saves := store.Saves()

	err := l.Update(context.Background(), func(*Tx) error { return ErrNoChange })
	require.NoError(t, err)
	assert.Equal(t, saves, store.Saves())
}

func TestAccount_ReturnsCopy(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	seed(t, l, "alice", 100)

	acc, err := l.Account("alice")
	require.NoError(t, err)
	acc.Balance = 1

	again, err := l.Account("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), again.Balance)

	_, err = l.Account("ghost")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMutate(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	seed(t, l, "alice", 100)

	acc, err := l.Mutate(context.Background(), "alice", func(a *model.Account) error {
		a.LoyaltyPoints = 7
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), acc.LoyaltyPoints)

	_, err = l.Mutate(context.Background(), "ghost", func(*model.Account) error { return nil })
	assert.ErrorIs(t, err, model.ErrAccountNotFound)
}

func TestCreateAccount_Duplicate(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	seed(t, l, "alice", 0)

	_, err := l.CreateAccount(context.Background(), "alice", nil, false, 0)
	assert.ErrorIs(t, err, model.ErrConflict)
}

func TestTx_Reverse(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	seed(t, l, "alice", 100)

	err := l.Update(context.Background(), func(tx *Tx) error {
		acc, _ := tx.Account("alice")
		id, err := tx.Debit(acc, 40, model.TxBidHold, "hold")
		require.NoError(t, err)
		assert.True(t, tx.Reverse(acc, id))
		assert.False(t, tx.Reverse(acc, id))
		assert.False(t, tx.Reverse(acc, "missing"))
		return nil
	})
	require.NoError(t, err)

	acc, _ := l.Account("alice")
	require.Len(t, acc.Transactions, 1)
	assert.True(t, acc.Transactions[0].Reversed)
	assert.Equal(t, model.TxBidHold, acc.Transactions[0].Kind)
}

func TestBroadcast_SkipsAdmins(t *testing.T) {
	l, n := newTestLedger(t, nil)
	seed(t, l, "alice", 0)
	_, err := l.CreateAccount(context.Background(), "admin", nil, true, 0)
	require.NoError(t, err)

	require.NoError(t, l.SendNotification(context.Background(), "", "hello"))

	alice, _ := l.Account("alice")
	admin, _ := l.Account("admin")
	assert.Len(t, alice.Notifications, 1)
	assert.Empty(t, admin.Notifications)
	require.Len(t, n.events, 1)
	assert.True(t, n.events[0].Broadcast())
}

func TestSetBlockedAndMarkRead(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	seed(t, l, "alice", 0)
	ctx := context.Background()

	require.NoError(t, l.SetBlocked(ctx, "alice", true))
	acc, _ := l.Account("alice")
	assert.True(t, acc.IsBlocked)
	assert.Equal(t, 1, acc.UnreadNotifications())

	require.NoError(t, l.MarkNotificationsRead(ctx, "alice"))
	acc, _ = l.Account("alice")
	assert.Equal(t, 0, acc.UnreadNotifications())

	assert.ErrorIs(t, l.SetBlocked(ctx, "ghost", true), model.ErrNotFound)
}

func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	seed(t, l, "alice", 0)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Mutate(context.Background(), "alice", func(a *model.Account) error {
				a.Balance++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	acc, _ := l.Account("alice")
	assert.Equal(t, int64(50), acc.Balance)
}

func TestAdjustBalance(t *testing.T) {
	l, n := newTestLedger(t, nil)
	seed(t, l, "alice", 10_00)
	ctx := context.Background()

	acc, err := l.AdjustBalance(ctx, "alice", 5_00, "bonus")
	require.NoError(t, err)
	assert.Equal(t, int64(15_00), acc.Balance)

	acc, err = l.AdjustBalance(ctx, "alice", -20_00, "fine")
	require.NoError(t, err)
	assert.Equal(t, int64(-5_00), acc.Balance)
	last := acc.Transactions[len(acc.Transactions)-1]
	assert.Equal(t, model.TxAdminAdjustment, last.Kind)
	assert.False(t, last.Positive)
	assert.Equal(t, "fine", last.Comment)
	assert.Len(t, n.events, 2)

	tests := []struct {
		name    string
		id      string
		delta   int64
		comment string
		want    error
	}{
		{name: "zero delta", id: "alice", delta: 0, comment: "x", want: model.ErrInvalidAdjustment},
		{name: "empty comment", id: "alice", delta: 1, comment: "  ", want: model.ErrInvalidAdjustment},
		{name: "too large", id: "alice", delta: MaxAdjustment + 1, comment: "x", want: model.ErrInvalidAdjustment},
		{name: "too small", id: "alice", delta: -MaxAdjustment - 1, comment: "x", want: model.ErrInvalidAdjustment},
		{name: "unknown account", id: "ghost", delta: 1, comment: "x", want: model.ErrAccountNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.AdjustBalance(ctx, tt.id, tt.delta, tt.comment)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBulkAdjustBalance(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	seed(t, l, "alice", 0)
	seed(t, l, "bob", 0)
	ctx := context.Background()

	_, err := l.BulkAdjustBalance(ctx, []string{"alice", "ghost"}, 10_00, "team prize")
	assert.ErrorIs(t, err, model.ErrAccountNotFound)
	alice, _ := l.Account("alice")
	assert.Equal(t, int64(0), alice.Balance)

	accounts, err := l.BulkAdjustBalance(ctx, []string{"bob", "alice", "bob"}, 10_00, "team prize")
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "alice", accounts[0].ID)
	assert.Equal(t, int64(10_00), accounts[0].Balance)
	assert.Equal(t, int64(10_00), accounts[1].Balance)
}

func TestDeleteAccount(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	seed(t, l, "alice", 0)
	seed(t, l, "bob", 0)
	_, err := l.CreateAccount(context.Background(), "admin", nil, true, 0)
	require.NoError(t, err)
	ctx := context.Background()

	err = l.Update(ctx, func(tx *Tx) error {
		tx.State().Auctions.General = model.Auction{
			Status: model.AuctionActive,
			EndsAt: testNow.Add(time.Hour),
			Bids:   []model.Bid{{AccountID: "bob", Amount: 1, Status: model.BidHeld}},
		}
		return nil
	})
	require.NoError(t, err)

	assert.ErrorIs(t, l.DeleteAccount(ctx, "admin"), model.ErrDeleteAdmin)
	assert.ErrorIs(t, l.DeleteAccount(ctx, "bob"), model.ErrAccountHasBids)
	assert.ErrorIs(t, l.DeleteAccount(ctx, "ghost"), model.ErrAccountNotFound)

	require.NoError(t, l.DeleteAccount(ctx, "alice"))
	_, err = l.Account("alice")
	assert.ErrorIs(t, err, model.ErrAccountNotFound)
	assert.Len(t, l.Accounts(), 2)
}
