package ledger

import (
	"time"

	"github.com/mmeshcher/virtual-bank/internal/model"
)

// Tx — изменяемая копия состояния внутри одного вызова Update.
type Tx struct {
	state  *model.State
	now    time.Time
	newID  func() string
	events []model.NotificationEvent
}

// Now возвращает момент, в который выполняется изменение.
func (tx *Tx) Now() time.Time {
	return tx.now
}

// State возвращает изменяемую копию состояния.
func (tx *Tx) State() *model.State {
	return tx.state
}

// NewID возвращает новый идентификатор.
func (tx *Tx) NewID() string {
	return tx.newID()
}

// Account возвращает изменяемый счёт.
func (tx *Tx) Account(id string) (*model.Account, error) {
	acc, ok := tx.state.Accounts[id]
	if !ok {
		return nil, model.ErrAccountNotFound
	}
	return acc, nil
}

// NonAdminAccounts возвращает счета пользователей без прав администратора в порядке идентификаторов.
func (tx *Tx) NonAdminAccounts() []*model.Account {
	ids := tx.state.AccountIDs()
	out := make([]*model.Account, 0, len(ids))
	for _, id := range ids {
		if acc := tx.state.Accounts[id]; !acc.IsAdmin {
			out = append(out, acc)
		}
	}
	return out
}

func (tx *Tx) record(acc *model.Account, kind model.TransactionKind, amount int64, positive bool, comment string) string {
	id := tx.newID()
	acc.Transactions = append(acc.Transactions, model.Transaction{
		ID:       id,
		Kind:     kind,
		Amount:   amount,
		Positive: positive,
		Comment:  comment,
		At:       tx.now,
	})
	return id
}

// Credit зачисляет amount на счёт и возвращает идентификатор записи журнала.
func (tx *Tx) Credit(acc *model.Account, amount int64, kind model.TransactionKind, comment string) string {
	acc.Balance += amount
	return tx.record(acc, kind, amount, true, comment)
}

// Debit списывает amount со счёта, если хватает средств.
func (tx *Tx) Debit(acc *model.Account, amount int64, kind model.TransactionKind, comment string) (string, error) {
	if acc.Balance < amount {
		return "", model.ErrInsufficientFunds
	}
	return tx.ForceDebit(acc, amount, kind, comment), nil
}

// ForceDebit списывает amount без проверки баланса.
func (tx *Tx) ForceDebit(acc *model.Account, amount int64, kind model.TransactionKind, comment string) string {
	acc.Balance -= amount
	return tx.record(acc, kind, amount, false, comment)
}

// link связывает запись txID счёта acc со второй стороной операции.
func link(acc *model.Account, txID, counterparty, linkedTxID string) {
	if t := findTx(acc, txID); t != nil {
		t.Counterparty = counterparty
		t.LinkedTxID = linkedTxID
	}
}

func findTx(acc *model.Account, txID string) *model.Transaction {
	for i := range acc.Transactions {
		if acc.Transactions[i].ID == txID {
			return &acc.Transactions[i]
		}
	}
	return nil
}

// Reverse помечает запись журнала как отменённую. Возвращает false, если запись не найдена или уже отменена.
func (tx *Tx) Reverse(acc *model.Account, txID string) bool {
	t := findTx(acc, txID)
	if t == nil || t.Reversed {
		return false
	}
	t.Reversed = true
	return true
}

// Notify добавляет уведомление на счёт и ставит его в очередь доставки.
func (tx *Tx) Notify(acc *model.Account, text string) {
	acc.Notifications = append(acc.Notifications, model.Notification{Text: text, At: tx.now})
	tx.events = append(tx.events, model.NotificationEvent{AccountID: acc.ID, Text: text, At: tx.now})
}

// Broadcast добавляет уведомление всем пользователям и ставит одно широковещательное событие в очередь доставки.
func (tx *Tx) Broadcast(text string) {
	for _, acc := range tx.NonAdminAccounts() {
		acc.Notifications = append(acc.Notifications, model.Notification{Text: text, At: tx.now})
	}
	tx.events = append(tx.events, model.NotificationEvent{Text: text, At: tx.now})
}
