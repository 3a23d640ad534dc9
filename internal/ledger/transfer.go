package ledger

import (
	"context"
	"fmt"

	"github.com/mmeshcher/virtual-bank/internal/model"
)

// loyaltyUnit — сумма перевода в копейках, за которую начисляется один балл лояльности.
const loyaltyUnit = 100 * model.CentsPerUnit

// TransferResult описывает выполненный перевод.
type TransferResult struct {
	SenderTxID     string `json:"senderTxId"`
	RecipientTxID  string `json:"recipientTxId"`
	LoyaltyAwarded int64  `json:"loyaltyAwarded"`
}

// Transfer переводит amount копеек со счёта fromID на счёт toID.
func (l *Ledger) Transfer(ctx context.Context, fromID, toID string, amount int64, comment string) (TransferResult, error) {
	var res TransferResult

	if amount <= 0 {
		return res, model.ErrInvalidAmount
	}
	if fromID == toID {
		return res, model.ErrSelfTransfer
	}

	err := l.Update(ctx, func(tx *Tx) error {
		from, err := tx.Account(fromID)
		if err != nil {
			return err
		}
		to, ok := tx.State().Accounts[toID]
		if !ok || to.IsAdmin {
			return model.ErrUnknownRecipient
		}
		if from.IsBlocked || to.IsBlocked {
			return model.ErrBlockedAccount
		}

		outComment := fmt.Sprintf("transfer to %s", toID)
		inComment := fmt.Sprintf("transfer from %s", fromID)
		if comment != "" {
			outComment += ": " + comment
			inComment += ": " + comment
		}

		res.SenderTxID, err = tx.Debit(from, amount, model.TxTransferOut, outComment)
		if err != nil {
			return err
		}
		res.RecipientTxID = tx.Credit(to, amount, model.TxTransferIn, inComment)
		link(from, res.SenderTxID, toID, res.RecipientTxID)
		link(to, res.RecipientTxID, fromID, res.SenderTxID)

		from.TotalSent += amount
		res.LoyaltyAwarded = amount / loyaltyUnit
		from.LoyaltyPoints += res.LoyaltyAwarded

		tx.Notify(to, fmt.Sprintf("You received %s from %s", FormatAmount(amount), fromID))
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}

	return res, nil
}

// RevokeResult описывает отменённый перевод.
type RevokeResult struct {
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	Amount      int64  `json:"amount"`
}

// RevokeTransfer отменяет перевод по идентификатору записи отправителя: сумма списывается у получателя,
// даже если его баланс станет отрицательным, и возвращается отправителю. Обе записи перевода помечаются отменёнными.
func (l *Ledger) RevokeTransfer(ctx context.Context, senderTxID string) (RevokeResult, error) {
	var res RevokeResult
	err := l.Update(ctx, func(tx *Tx) error {
		var (
			sender *model.Account
			out    *model.Transaction
		)
		for _, id := range tx.State().AccountIDs() {
			acc := tx.State().Accounts[id]
			if t := findTx(acc, senderTxID); t != nil && t.Kind == model.TxTransferOut {
				sender, out = acc, t
				break
			}
		}
		if out == nil {
			return model.ErrTxNotFound
		}
		if out.Reversed {
			return model.ErrAlreadyReversed
		}
		recipient, err := tx.Account(out.Counterparty)
		if err != nil {
			return err
		}

		amount := out.Amount
		out.Reversed = true
		if in := findTx(recipient, out.LinkedTxID); in != nil {
			in.Reversed = true
		}

		tx.ForceDebit(recipient, amount, model.TxTransferRevoke, fmt.Sprintf("transfer from %s revoked", sender.ID))
		tx.Credit(sender, amount, model.TxTransferReturn, fmt.Sprintf("transfer to %s revoked by the administrator", recipient.ID))
		tx.Notify(recipient, fmt.Sprintf("The transfer of %s from %s was revoked", FormatAmount(amount), sender.ID))
		tx.Notify(sender, fmt.Sprintf("Your transfer of %s to %s was revoked and returned", FormatAmount(amount), recipient.ID))

		res = RevokeResult{SenderID: sender.ID, RecipientID: recipient.ID, Amount: amount}
		return nil
	})
	if err != nil {
		return RevokeResult{}, err
	}
	return res, nil
}

// FormatAmount форматирует сумму в копейках как денежную строку.
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/model.CentsPerUnit, cents%model.CentsPerUnit)
}
