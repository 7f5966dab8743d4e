package withdrawal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chris/cash-settlement/pkg/ledger"
	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/payout"
	"github.com/chris/cash-settlement/pkg/payout/mocks"
	"github.com/chris/cash-settlement/pkg/storage"
	"github.com/chris/cash-settlement/pkg/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const destination = "0x52908400098527886E0F7030069857D2E4169EE7"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	svc     *Service
	store   *memory.Store
	payouts *mocks.Adapter
}

func newFixture(t *testing.T, opening string) fixture {
	t.Helper()
	store := memory.New()
	store.SetClock(func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) })
	ctx := context.Background()
	_, err := store.CreateAccount(ctx, &models.Account{ID: "acct-1", Balance: d(opening)})
	require.NoError(t, err)
	require.NoError(t, store.UpdateSystemConfig(ctx, &models.SystemConfig{
		InterestRatePercent:  d("5"),
		WithdrawalFeePercent: d("1.5"),
	}))

	payouts := new(mocks.Adapter)
	svc := New(ledger.New(store, zap.NewNop()), store, payouts, Options{}, nil, zap.NewNop())
	return fixture{svc: svc, store: store, payouts: payouts}
}

func (f fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	a, err := f.store.GetAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	return a.Balance
}

func (f fixture) assertInvariant(t *testing.T, opening string) {
	t.Helper()
	expected := ledger.ExpectedBalance(d(opening), f.store.Transactions("acct-1"))
	assert.True(t, expected.Equal(f.balance(t)), "balance %s, log replays to %s", f.balance(t), expected)
	assert.False(t, f.balance(t).IsNegative())
}

func (f fixture) tx(t *testing.T, id string) *models.Transaction {
	t.Helper()
	tx, err := f.store.GetTransaction(context.Background(), id)
	require.NoError(t, err)
	return tx
}

func TestRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("Fee Is Display Only", func(t *testing.T) {
		f := newFixture(t, "100")
		req, err := f.svc.Request(ctx, "acct-1", d("100"), destination)
		require.NoError(t, err)

		assert.True(t, req.Fee.Equal(d("1.5")))
		assert.True(t, f.balance(t).IsZero())
		tx := f.tx(t, req.TransactionID)
		assert.Equal(t, models.PENDING, tx.Status)
		assert.True(t, tx.Amount.Equal(d("100")))
		assert.Equal(t, "1.5", tx.Metadata[models.MetaFee])
		assert.Equal(t, destination, tx.Metadata[models.MetaDestination])
		f.assertInvariant(t, "100")
	})

	t.Run("Insufficient Funds", func(t *testing.T) {
		f := newFixture(t, "10")
		_, err := f.svc.Request(ctx, "acct-1", d("10.01"), destination)
		assert.ErrorIs(t, err, storage.ErrInsufficientFunds)
		assert.True(t, f.balance(t).Equal(d("10")))
		assert.Empty(t, f.store.Transactions("acct-1"))
	})

	t.Run("Invalid Destination", func(t *testing.T) {
		f := newFixture(t, "10")
		_, err := f.svc.Request(ctx, "acct-1", d("1"), "not-an-address")
		assert.ErrorIs(t, err, ErrInvalidDestination)
	})

	t.Run("Invalid Amount", func(t *testing.T) {
		f := newFixture(t, "10")
		_, err := f.svc.Request(ctx, "acct-1", d("-1"), destination)
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	})

	t.Run("Concurrent Requests Cannot Overdraw", func(t *testing.T) {
		f := newFixture(t, "100")
		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.svc.Request(ctx, "acct-1", d("60"), destination)
			}(i)
		}
		wg.Wait()

		var insufficient int
		for _, err := range errs {
			if errors.Is(err, storage.ErrInsufficientFunds) {
				insufficient++
			} else {
				assert.NoError(t, err)
			}
		}
		assert.Equal(t, 1, insufficient)
		assert.True(t, f.balance(t).Equal(d("40")))
		f.assertInvariant(t, "100")
	})
}

func TestReject(t *testing.T) {
	ctx := context.Background()

	t.Run("Restores Balance Exactly", func(t *testing.T) {
		f := newFixture(t, "100")
		req, err := f.svc.Request(ctx, "acct-1", d("37.25"), destination)
		require.NoError(t, err)

		_, err = f.svc.Reject(ctx, req.TransactionID, "admin-1", "kyc incomplete")
		require.NoError(t, err)

		assert.True(t, f.balance(t).Equal(d("100")))
		tx := f.tx(t, req.TransactionID)
		assert.Equal(t, models.FAILED, tx.Status)
		assert.Equal(t, "kyc incomplete", tx.Metadata[models.MetaReason])
		assert.Equal(t, "admin-1", tx.Metadata[models.MetaRejectedBy])
		f.assertInvariant(t, "100")
	})

	t.Run("Second Reject Is Invalid State", func(t *testing.T) {
		f := newFixture(t, "100")
		req, err := f.svc.Request(ctx, "acct-1", d("50"), destination)
		require.NoError(t, err)
		_, err = f.svc.Reject(ctx, req.TransactionID, "admin-1", "no")
		require.NoError(t, err)

		_, err = f.svc.Reject(ctx, req.TransactionID, "admin-1", "no")
		assert.ErrorIs(t, err, storage.ErrInvalidState)
		assert.True(t, f.balance(t).Equal(d("100")))
		f.assertInvariant(t, "100")
	})
}

func TestApprove(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		f := newFixture(t, "100")
		req, err := f.svc.Request(ctx, "acct-1", d("50"), destination)
		require.NoError(t, err)

		f.payouts.On("CreatePayout", mock.Anything, mock.MatchedBy(func(r payout.Request) bool {
			return r.IdempotencyKey == req.TransactionID && r.Destination == destination && r.Amount.Equal(d("50"))
		})).Return("batch-1", nil).Once()

		tx, err := f.svc.Approve(ctx, req.TransactionID, "admin-1")
		require.NoError(t, err)
		assert.Equal(t, models.PROCESSING, tx.Status)
		assert.Equal(t, "batch-1", tx.PayoutRef)
		assert.Equal(t, "admin-1", tx.Metadata[models.MetaApprovedBy])
		assert.True(t, f.balance(t).Equal(d("50")))
		f.payouts.AssertExpectations(t)
	})

	t.Run("Second Approve Is Invalid State", func(t *testing.T) {
		f := newFixture(t, "100")
		req, err := f.svc.Request(ctx, "acct-1", d("50"), destination)
		require.NoError(t, err)
		f.payouts.On("CreatePayout", mock.Anything, mock.Anything).Return("batch-1", nil).Once()

		_, err = f.svc.Approve(ctx, req.TransactionID, "admin-1")
		require.NoError(t, err)
		_, err = f.svc.Approve(ctx, req.TransactionID, "admin-2")
		assert.ErrorIs(t, err, storage.ErrInvalidState)

		f.payouts.AssertNumberOfCalls(t, "CreatePayout", 1)
		f.assertInvariant(t, "100")
	})

	t.Run("Concurrent Approvals Pay Once", func(t *testing.T) {
		f := newFixture(t, "100")
		req, err := f.svc.Request(ctx, "acct-1", d("50"), destination)
		require.NoError(t, err)
		f.payouts.On("CreatePayout", mock.Anything, mock.Anything).Return("batch-1", nil)

		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = f.svc.Approve(ctx, req.TransactionID, "admin")
			}()
		}
		wg.Wait()
		f.payouts.AssertNumberOfCalls(t, "CreatePayout", 1)
	})

	t.Run("Transient Returns To Pending", func(t *testing.T) {
		f := newFixture(t, "100")
		req, err := f.svc.Request(ctx, "acct-1", d("50"), destination)
		require.NoError(t, err)
		f.payouts.On("CreatePayout", mock.Anything, mock.Anything).Return("", payout.ErrProviderTransient).Once()

		_, err = f.svc.Approve(ctx, req.TransactionID, "admin-1")
		assert.ErrorIs(t, err, payout.ErrProviderTransient)
		assert.Equal(t, models.PENDING, f.tx(t, req.TransactionID).Status)
		assert.True(t, f.balance(t).Equal(d("50")))

		// The admin can retry.
		f.payouts.On("CreatePayout", mock.Anything, mock.Anything).Return("batch-2", nil).Once()
		tx, err := f.svc.Approve(ctx, req.TransactionID, "admin-1")
		require.NoError(t, err)
		assert.Equal(t, "batch-2", tx.PayoutRef)
		f.assertInvariant(t, "100")
	})

	t.Run("Permanent Refunds", func(t *testing.T) {
		f := newFixture(t, "100")
		req, err := f.svc.Request(ctx, "acct-1", d("50"), destination)
		require.NoError(t, err)
		f.payouts.On("CreatePayout", mock.Anything, mock.Anything).Return("", payout.ErrProviderPermanent).Once()

		_, err = f.svc.Approve(ctx, req.TransactionID, "admin-1")
		assert.ErrorIs(t, err, payout.ErrProviderPermanent)
		assert.Equal(t, models.FAILED, f.tx(t, req.TransactionID).Status)
		assert.True(t, f.balance(t).Equal(d("100")))
		f.assertInvariant(t, "100")
	})

	t.Run("Unknown Stays Processing", func(t *testing.T) {
		f := newFixture(t, "100")
		req, err := f.svc.Request(ctx, "acct-1", d("50"), destination)
		require.NoError(t, err)
		f.payouts.On("CreatePayout", mock.Anything, mock.Anything).Return("", payout.ErrProviderUnknown).Once()

		tx, err := f.svc.Approve(ctx, req.TransactionID, "admin-1")
		assert.ErrorIs(t, err, payout.ErrProviderUnknown)
		require.NotNil(t, tx)
		stored := f.tx(t, req.TransactionID)
		assert.Equal(t, models.PROCESSING, stored.Status)
		assert.Empty(t, stored.PayoutRef)
		assert.Equal(t, "true", stored.Metadata[models.MetaPayoutUnknown])
		assert.True(t, f.balance(t).Equal(d("50")))
		f.assertInvariant(t, "100")
	})
}

func approved(t *testing.T, f fixture, amount, ref string) string {
	t.Helper()
	ctx := context.Background()
	req, err := f.svc.Request(ctx, "acct-1", d(amount), destination)
	require.NoError(t, err)
	f.payouts.On("CreatePayout", mock.Anything, mock.MatchedBy(func(r payout.Request) bool {
		return r.IdempotencyKey == req.TransactionID
	})).Return(ref, nil).Once()
	_, err = f.svc.Approve(ctx, req.TransactionID, "admin-1")
	require.NoError(t, err)
	return req.TransactionID
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("Finished Completes", func(t *testing.T) {
		f := newFixture(t, "100")
		id := approved(t, f, "50", "batch-1")
		f.payouts.On("GetPayoutStatus", mock.Anything, "batch-1").Return(payout.StatusFinished, nil).Once()

		outcome, err := f.svc.Reconcile(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, OutcomeCompleted, outcome)
		assert.Equal(t, models.COMPLETED, f.tx(t, id).Status)
		assert.True(t, f.balance(t).Equal(d("50")))
		f.assertInvariant(t, "100")
	})

	t.Run("Rejected Refunds Exactly Once", func(t *testing.T) {
		f := newFixture(t, "100")
		id := approved(t, f, "50", "batch-1")
		f.payouts.On("GetPayoutStatus", mock.Anything, "batch-1").Return(payout.StatusRejected, nil).Once()

		outcome, err := f.svc.Reconcile(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, OutcomeRefunded, outcome)

		_, err = f.svc.Reconcile(ctx, id)
		assert.ErrorIs(t, err, storage.ErrInvalidState)

		assert.True(t, f.balance(t).Equal(d("100")))
		var refunds int
		for _, tx := range f.store.Transactions("acct-1") {
			if tx.IsCompensation() {
				refunds++
			}
		}
		assert.Equal(t, 1, refunds)
		f.assertInvariant(t, "100")
	})

	t.Run("Concurrent Reconcile Refunds Once", func(t *testing.T) {
		f := newFixture(t, "100")
		id := approved(t, f, "50", "batch-1")
		f.payouts.On("GetPayoutStatus", mock.Anything, "batch-1").Return(payout.StatusFailed, nil)

		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = f.svc.Reconcile(ctx, id)
			}()
		}
		wg.Wait()
		assert.True(t, f.balance(t).Equal(d("100")))
		f.assertInvariant(t, "100")
	})

	t.Run("Transient Is Swallowed", func(t *testing.T) {
		f := newFixture(t, "100")
		id := approved(t, f, "50", "batch-1")
		f.payouts.On("GetPayoutStatus", mock.Anything, "batch-1").Return(payout.Status(""), payout.ErrProviderTransient).Once()

		outcome, err := f.svc.Reconcile(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, OutcomePending, outcome)
		assert.Equal(t, models.PROCESSING, f.tx(t, id).Status)
	})

	t.Run("Pending Is Noop", func(t *testing.T) {
		f := newFixture(t, "100")
		id := approved(t, f, "50", "batch-1")
		f.payouts.On("GetPayoutStatus", mock.Anything, "batch-1").Return(payout.StatusPending, nil).Once()

		outcome, err := f.svc.Reconcile(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, OutcomePending, outcome)
	})

	t.Run("Not Processing", func(t *testing.T) {
		f := newFixture(t, "100")
		req, err := f.svc.Request(ctx, "acct-1", d("50"), destination)
		require.NoError(t, err)
		_, err = f.svc.Reconcile(ctx, req.TransactionID)
		assert.ErrorIs(t, err, storage.ErrInvalidState)
	})
}

// lookupAdapter is a payout adapter that can also search by idempotency key.
type lookupAdapter struct {
	*mocks.Adapter
	lookup *mocks.Lookup
}

func (l lookupAdapter) LookupPayout(ctx context.Context, key string, since time.Time) (string, bool, error) {
	return l.lookup.LookupPayout(ctx, key, since)
}

func TestReconcileRecoversLostRef(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "100")
	lookup := new(mocks.Lookup)
	f.svc.payouts = lookupAdapter{Adapter: f.payouts, lookup: lookup}

	req, err := f.svc.Request(ctx, "acct-1", d("50"), destination)
	require.NoError(t, err)
	f.payouts.On("CreatePayout", mock.Anything, mock.Anything).Return("", payout.ErrProviderUnknown).Once()
	_, err = f.svc.Approve(ctx, req.TransactionID, "admin-1")
	require.ErrorIs(t, err, payout.ErrProviderUnknown)

	lookup.On("LookupPayout", mock.Anything, req.TransactionID, mock.Anything).Return("batch-9", true, nil).Once()
	f.payouts.On("GetPayoutStatus", mock.Anything, "batch-9").Return(payout.StatusFinished, nil).Once()

	outcome, err := f.svc.Reconcile(ctx, req.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	tx := f.tx(t, req.TransactionID)
	assert.Equal(t, "batch-9", tx.PayoutRef)
	assert.Equal(t, models.COMPLETED, tx.Status)
	lookup.AssertExpectations(t)
}

// unsent approves a withdrawal whose payout outcome was never learned.
func unsent(t *testing.T, f fixture, amount string) string {
	t.Helper()
	req, err := f.svc.Request(context.Background(), "acct-1", d(amount), destination)
	require.NoError(t, err)
	f.payouts.On("CreatePayout", mock.Anything, mock.Anything).Return("", payout.ErrProviderUnknown).Once()
	_, err = f.svc.Approve(context.Background(), req.TransactionID, "admin-1")
	require.ErrorIs(t, err, payout.ErrProviderUnknown)
	return req.TransactionID
}

func TestReconcileUnresolved(t *testing.T) {
	ctx := context.Background()
	approvedAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("Waits Before Deadline", func(t *testing.T) {
		f := newFixture(t, "100")
		lookup := new(mocks.Lookup)
		f.svc.payouts = lookupAdapter{Adapter: f.payouts, lookup: lookup}
		f.svc.now = func() time.Time { return approvedAt.Add(time.Hour) }
		id := unsent(t, f, "50")
		lookup.On("LookupPayout", mock.Anything, id, mock.Anything).Return("", false, nil).Once()

		outcome, err := f.svc.Reconcile(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, OutcomePending, outcome)
		assert.Equal(t, models.PROCESSING, f.tx(t, id).Status)
		assert.True(t, f.balance(t).Equal(d("50")))
	})

	t.Run("Refunds After Deadline", func(t *testing.T) {
		f := newFixture(t, "100")
		lookup := new(mocks.Lookup)
		f.svc.payouts = lookupAdapter{Adapter: f.payouts, lookup: lookup}
		f.svc.now = func() time.Time { return approvedAt.Add(DefaultUnresolvedAfter + time.Minute) }
		id := unsent(t, f, "50")
		tx := f.tx(t, id)
		lookup.On("LookupPayout", mock.Anything, id, tx.CreatedAt).Return("", false, nil).Once()

		outcome, err := f.svc.Reconcile(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, OutcomeRefunded, outcome)
		assert.Equal(t, models.FAILED, f.tx(t, id).Status)
		assert.True(t, f.balance(t).Equal(d("100")))
		f.assertInvariant(t, "100")
		lookup.AssertExpectations(t)

		outcome, err = f.svc.Reconcile(ctx, id)
		assert.ErrorIs(t, err, storage.ErrInvalidState)
		assert.Empty(t, outcome)
		assert.True(t, f.balance(t).Equal(d("100")))
	})

	t.Run("Escalates Without Lookup", func(t *testing.T) {
		f := newFixture(t, "100")
		f.svc.now = func() time.Time { return approvedAt.Add(DefaultUnresolvedAfter + time.Minute) }
		id := unsent(t, f, "50")

		outcome, err := f.svc.Reconcile(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, OutcomePending, outcome)
		assert.Equal(t, models.PROCESSING, f.tx(t, id).Status)
		assert.True(t, f.balance(t).Equal(d("50")))
	})

	t.Run("Configurable Deadline", func(t *testing.T) {
		f := newFixture(t, "100")
		lookup := new(mocks.Lookup)
		f.svc.payouts = lookupAdapter{Adapter: f.payouts, lookup: lookup}
		f.svc.opts.UnresolvedAfter = 30 * time.Minute
		f.svc.now = func() time.Time { return approvedAt.Add(time.Hour) }
		id := unsent(t, f, "50")
		lookup.On("LookupPayout", mock.Anything, id, mock.Anything).Return("", false, nil).Once()

		outcome, err := f.svc.Reconcile(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, OutcomeRefunded, outcome)
	})
}

func TestFailUnsent(t *testing.T) {
	ctx := context.Background()

	t.Run("Refunds Without Provider Record", func(t *testing.T) {
		f := newFixture(t, "100")
		id := unsent(t, f, "50")

		receipt, err := f.svc.FailUnsent(ctx, id, "admin-2", "")
		require.NoError(t, err)
		assert.True(t, receipt.Balance.Equal(d("100")))

		tx := f.tx(t, id)
		assert.Equal(t, models.FAILED, tx.Status)
		f.assertInvariant(t, "100")
	})

	t.Run("Refuses When Provider Has Payout", func(t *testing.T) {
		f := newFixture(t, "100")
		lookup := new(mocks.Lookup)
		f.svc.payouts = lookupAdapter{Adapter: f.payouts, lookup: lookup}
		id := unsent(t, f, "50")
		lookup.On("LookupPayout", mock.Anything, id, mock.Anything).Return("batch-7", true, nil).Once()

		_, err := f.svc.FailUnsent(ctx, id, "admin-2", "stuck")
		assert.ErrorIs(t, err, storage.ErrInvalidState)

		tx := f.tx(t, id)
		assert.Equal(t, models.PROCESSING, tx.Status)
		assert.Equal(t, "batch-7", tx.PayoutRef)
		assert.True(t, f.balance(t).Equal(d("50")))
	})

	t.Run("Refuses With Payout Ref", func(t *testing.T) {
		f := newFixture(t, "100")
		id := approved(t, f, "50", "batch-1")

		_, err := f.svc.FailUnsent(ctx, id, "admin-2", "")
		assert.ErrorIs(t, err, storage.ErrInvalidState)
		assert.Equal(t, models.PROCESSING, f.tx(t, id).Status)
	})
}

func TestReconcileAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "300")
	done := approved(t, f, "50", "batch-1")
	failed := approved(t, f, "60", "batch-2")
	waiting := approved(t, f, "70", "batch-3")

	f.payouts.On("GetPayoutStatus", mock.Anything, "batch-1").Return(payout.StatusFinished, nil).Once()
	f.payouts.On("GetPayoutStatus", mock.Anything, "batch-2").Return(payout.StatusRejected, nil).Once()
	f.payouts.On("GetPayoutStatus", mock.Anything, "batch-3").Return(payout.Status(""), errors.New("bad response")).Once()

	report, err := f.svc.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Checked: 3, Completed: 1, Refunded: 1, Errors: 1}, report)

	assert.Equal(t, models.COMPLETED, f.tx(t, done).Status)
	assert.Equal(t, models.FAILED, f.tx(t, failed).Status)
	assert.Equal(t, models.PROCESSING, f.tx(t, waiting).Status)
	assert.True(t, f.balance(t).Equal(d("180")))
	f.assertInvariant(t, "300")
}

func TestListPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "100")
	_, err := f.svc.Request(ctx, "acct-1", d("10"), destination)
	require.NoError(t, err)
	_, err = f.svc.Request(ctx, "acct-1", d("20"), destination)
	require.NoError(t, err)

	pending, err := f.svc.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}
