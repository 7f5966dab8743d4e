package ledger

import (
	"github.com/chris/cash-settlement/pkg/models"
	"github.com/shopspring/decimal"
)

// ExpectedBalance replays the transaction log of one account on top of its
// opening balance.
//
// Credits (deposits, interest, commission, refunds) count once COMPLETED.
// Withdrawals count in every status because the funds are locked at request
// time; a failed withdrawal is offset by its own refund row.
func ExpectedBalance(initial decimal.Decimal, txs []models.Transaction) decimal.Decimal {
	balance := initial
	for _, tx := range txs {
		switch tx.Kind {
		case models.WITHDRAW:
			balance = balance.Sub(tx.Amount)
		case models.DEPOSIT, models.INTEREST, models.COMMISSION:
			if tx.Status == models.COMPLETED {
				balance = balance.Add(tx.Amount)
			}
		}
	}
	return balance
}
