package service

import (
	"context"
	"testing"
	"time"

	"ecoswap/internal/db"
	"ecoswap/internal/lock"
	"ecoswap/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// stubLots overrides selected LotRegistry calls on top of a real registry.
type stubLots struct {
	db.LotRegistry
	DecrementLotFunc func(ctx context.Context, lotID, quantity int64) error
	RestoreLotFunc   func(ctx context.Context, lotID, quantity int64) error
}

func (s *stubLots) DecrementLot(ctx context.Context, lotID, quantity int64) error {
	if s.DecrementLotFunc != nil {
		return s.DecrementLotFunc(ctx, lotID, quantity)
	}
	return s.LotRegistry.DecrementLot(ctx, lotID, quantity)
}

func (s *stubLots) RestoreLot(ctx context.Context, lotID, quantity int64) error {
	if s.RestoreLotFunc != nil {
		return s.RestoreLotFunc(ctx, lotID, quantity)
	}
	return s.LotRegistry.RestoreLot(ctx, lotID, quantity)
}

type stubTransactions struct {
	db.TransactionLog
	AppendFunc func(ctx context.Context, t models.Transaction) error
}

func (s *stubTransactions) Append(ctx context.Context, t models.Transaction) error {
	if s.AppendFunc != nil {
		return s.AppendFunc(ctx, t)
	}
	return s.TransactionLog.Append(ctx, t)
}

type stubRetirements struct {
	db.RetirementStore
	UpdatePendingFunc func(ctx context.Context, r models.RetirementRecord) error
}

func (s *stubRetirements) UpdatePending(ctx context.Context, r models.RetirementRecord) error {
	if s.UpdatePendingFunc != nil {
		return s.UpdatePendingFunc(ctx, r)
	}
	return s.RetirementStore.UpdatePending(ctx, r)
}

type countingBalances struct {
	db.BalanceStore
	getAccountCalls int
}

func (c *countingBalances) GetAccount(ctx context.Context, accountID string) (models.Account, error) {
	c.getAccountCalls++
	return c.BalanceStore.GetAccount(ctx, accountID)
}

type fixture struct {
	stores      db.Stores
	locker      *lock.Keyed
	accounts    AccountService
	purchases   PurchaseService
	retirements RetirementService
	reports     ReportingService
}

var fixedNow = time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC)

func newFixture(t *testing.T, stores db.Stores, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{stores: stores, locker: lock.NewKeyed()}
	f.reports = NewReportingService(stores, time.Minute)
	all := append([]Option{
		WithLocker(f.locker),
		WithNotifier(f.reports),
		WithLockTimeout(time.Second),
		WithClock(func() time.Time { return fixedNow }),
	}, opts...)
	f.accounts = NewAccountService(stores.Balances, stores.Lots, 0, all...)
	f.purchases = NewPurchaseService(stores.Balances, stores.Lots, stores.Transactions, nil, all...)
	f.retirements = NewRetirementService(stores.Balances, stores.Retirements, all...)
	return f
}

func (f *fixture) account(t *testing.T, id string, balance int64) {
	t.Helper()
	_, err := f.accounts.OpenAccount(context.Background(), id)
	require.NoError(t, err)
	if balance > 0 {
		_, err = f.accounts.MintCoins(context.Background(), id, balance)
		require.NoError(t, err)
	}
}

func (f *fixture) lot(t *testing.T, credits int64) int64 {
	t.Helper()
	lot, err := f.accounts.ListLot(context.Background(), models.NewLot{
		Source:         models.SourceSolar,
		IssuerName:     "Sunfield Co-op",
		TotalCredits:   credits,
		PricePerCredit: decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	return lot.ID
}

func (f *fixture) balance(t *testing.T, id string) int64 {
	t.Helper()
	b, err := f.stores.Balances.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (f *fixture) remaining(t *testing.T, lotID int64) int64 {
	t.Helper()
	lot, err := f.stores.Lots.GetLot(context.Background(), lotID)
	require.NoError(t, err)
	return lot.RemainingCredits
}
