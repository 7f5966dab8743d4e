package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chris/cash-settlement/pkg/ledger"
	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/providers"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DepositIntent is returned to the user after opening a deposit.
type DepositIntent struct {
	TransactionID string `json:"transaction_id"`
	providers.PaymentIntent
}

// RequestDeposit opens a payment with the provider named by method and records a
// PENDING intent keyed on the provider's reference.
func (p *Pipeline) RequestDeposit(ctx context.Context, accountID string, amount decimal.Decimal, method string) (*DepositIntent, error) {
	if !amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}
	initiator, ok := p.providers.Initiator(method)
	if !ok {
		return nil, fmt.Errorf("%s: %w", method, ErrNoInitiator)
	}
	if _, err := p.store.GetAccount(ctx, accountID); err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", accountID, err)
	}

	intent, err := initiator.CreatePayment(ctx, providers.PaymentRequest{
		AccountID: accountID,
		Amount:    amount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s payment: %w", method, err)
	}

	receipt, err := p.ledger.Record(ctx, accountID, amount, ledger.Entry{
		Kind:        models.DEPOSIT,
		ExternalRef: intent.ExternalRef,
		Metadata: map[string]string{
			models.MetaProvider: method,
			models.MetaMethod:   method,
		},
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("deposit requested",
		zap.String("account_id", accountID),
		zap.String("transaction_id", receipt.TransactionID),
		zap.String("external_ref", intent.ExternalRef),
		zap.String("amount", amount.String()))
	return &DepositIntent{TransactionID: receipt.TransactionID, PaymentIntent: *intent}, nil
}

// PollReport summarises a PollPending run.
type PollReport struct {
	Checked int            `json:"checked"`
	Results map[Result]int `json:"results"`
	Errors  int            `json:"errors"`
}

// StaleDeposits lists PENDING deposits older than olderThan.
func (p *Pipeline) StaleDeposits(ctx context.Context, olderThan time.Duration) ([]models.Transaction, error) {
	return p.store.ListTransactionsByStatus(ctx, models.DEPOSIT, models.PENDING, p.now().Add(-olderThan))
}

// PollPending asks the providers about every stale PENDING deposit. A failure on
// one deposit does not stop the others.
func (p *Pipeline) PollPending(ctx context.Context, olderThan time.Duration) (PollReport, error) {
	report := PollReport{Results: make(map[Result]int)}
	pending, err := p.StaleDeposits(ctx, olderThan)
	if err != nil {
		return report, fmt.Errorf("failed to list pending deposits: %w", err)
	}

	for _, tx := range pending {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++
		result, err := p.PollOne(ctx, tx.ID)
		if err != nil {
			report.Errors++
			p.logger.Warn("failed to poll deposit", zap.String("transaction_id", tx.ID), zap.Error(err))
			continue
		}
		report.Results[result]++
	}
	return report, nil
}

// PollOne polls the provider for a single deposit intent and processes the answer.
func (p *Pipeline) PollOne(ctx context.Context, txID string) (Result, error) {
	tx, err := p.store.GetTransaction(ctx, txID)
	if err != nil {
		return "", err
	}
	if tx.Kind != models.DEPOSIT || tx.Status != models.PENDING {
		return ResultIgnored, nil
	}

	provider := tx.Metadata[models.MetaProvider]
	poller, ok := p.providers.Poller(provider)
	if !ok {
		return ResultIgnored, nil
	}

	event, err := poller.PollStatus(ctx, tx.ExternalRef)
	if err != nil {
		return "", fmt.Errorf("failed to poll %s: %w", tx.ExternalRef, err)
	}
	if event.ExternalRef != tx.ExternalRef {
		return "", fmt.Errorf("%w: poll answered %s for %s", providers.ErrMalformedPayload, event.ExternalRef, tx.ExternalRef)
	}
	if event.AccountID == "" {
		event.AccountID = tx.AccountID
	}
	event.Provider = provider

	result, err := p.Process(ctx, event)
	if errors.Is(err, ledger.ErrAmountMismatch) {
		// Underpaid deposits stay pending until a later poll or webhook.
		return ResultPending, nil
	}
	return result, err
}
