package service

import (
	"context"
	"errors"
	"testing"

	"ecoswap/internal/db"
	"ecoswap/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportingService_WalletAndSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, db.NewMemoryStores())
	f.account(t, "u1", 1000)

	rec, err := f.retirements.RequestRetirement(ctx, "u1", 250, "", false)
	require.NoError(t, err)
	_, err = f.retirements.ConfirmRetirement(ctx, rec.ID, "u1")
	require.NoError(t, err)
	_, err = f.retirements.RequestRetirement(ctx, "u1", 100, "", false)
	require.NoError(t, err)

	w, err := f.reports.GetWallet(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(750), w.Balance)
	assert.Equal(t, int64(250), w.TotalRetired)
	assert.Equal(t, int64(100), w.PendingRetirement)
	assert.Equal(t, 1, w.PendingRetirements)

	sum, err := f.reports.GetRetirementSummary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(250), sum.TotalRetired)
	assert.Equal(t, int64(250), sum.CO2OffsetTons)
	assert.Equal(t, int64(750), sum.AvailableForRetirement)
	assert.Equal(t, 1, sum.ConfirmedRetirements)
	assert.Equal(t, 1, sum.PendingRetirements)
	assert.Equal(t, 25.0, sum.NetZeroProgress)
	assert.Equal(t, int64(1000), sum.TotalCoins)
	require.NotNil(t, sum.LastRetiredAt)
	assert.Equal(t, fixedNow, *sum.LastRetiredAt)

	pending, err := f.reports.GetPendingRetirements(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(100), pending[0].CoinsRetired)
}

func TestReportingService_NetZeroProgressCaps(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, db.NewMemoryStores())
	f.account(t, "u1", 80)

	_, err := f.retirements.RequestRetirement(ctx, "u1", 80, "", true)
	require.NoError(t, err)

	sum, err := f.reports.GetRetirementSummary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, sum.NetZeroProgress)

	f.account(t, "empty", 0)
	sum, err = f.reports.GetRetirementSummary(ctx, "empty")
	require.NoError(t, err)
	assert.Equal(t, 0.0, sum.NetZeroProgress)
	assert.Nil(t, sum.LastRetiredAt)
}

func TestReportingService_UnknownAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, db.NewMemoryStores())

	_, err := f.reports.GetWallet(ctx, "ghost")
	assert.True(t, errors.Is(err, models.ErrAccountNotFound))
	_, err = f.reports.GetPurchaseHistory(ctx, "ghost")
	assert.True(t, errors.Is(err, models.ErrNotFound))
	_, err = f.reports.GetRetirementSummary(ctx, "ghost")
	assert.True(t, errors.Is(err, models.ErrNotFound))
	_, err = f.reports.GetLot(ctx, 7)
	assert.True(t, errors.Is(err, models.ErrLotNotFound))
}

func TestReportingService_CachesUntilChanged(t *testing.T) {
	ctx := context.Background()
	stores := db.NewMemoryStores()
	counting := &countingBalances{BalanceStore: stores.Balances}
	stores.Balances = counting
	f := newFixture(t, stores)
	f.account(t, "u1", 100)
	lotID := f.lot(t, 10)

	before := counting.getAccountCalls
	w, err := f.reports.GetWallet(ctx, "u1")
	require.NoError(t, err)
	_, err = f.reports.GetWallet(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before+1, counting.getAccountCalls)
	assert.Equal(t, int64(100), w.Balance)

	listing, err := f.reports.GetMarketplaceListing(ctx)
	require.NoError(t, err)
	require.Len(t, listing, 1)

	_, err = f.purchases.Purchase(ctx, "u1", lotID, 10)
	require.NoError(t, err)

	w, err = f.reports.GetWallet(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(90), w.Balance)

	listing, err = f.reports.GetMarketplaceListing(ctx)
	require.NoError(t, err)
	assert.Empty(t, listing)

	all, err := f.reports.GetAllLots(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestReportingService_NoCache(t *testing.T) {
	ctx := context.Background()
	stores := db.NewMemoryStores()
	counting := &countingBalances{BalanceStore: stores.Balances}
	stores.Balances = counting
	_, err := stores.Balances.OpenAccount(ctx, "u1", 5)
	require.NoError(t, err)

	r := NewReportingService(stores, 0)
	for i := 0; i < 3; i++ {
		_, err := r.GetWallet(ctx, "u1")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, counting.getAccountCalls)
}
