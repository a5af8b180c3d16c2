package service

import (
	"context"
	"fmt"

	"ecoswap/internal/db"
	"ecoswap/internal/lock"
	"ecoswap/internal/models"

	"go.uber.org/zap"
)

const DefaultOpeningBalance int64 = 2500

// AccountService covers the administrative side of the ledger: opening
// accounts, minting coins and listing lots on the marketplace.
type AccountService interface {
	OpenAccount(ctx context.Context, accountID string) (models.Account, error)
	MintCoins(ctx context.Context, accountID string, amount int64) (models.Account, error)
	ListLot(ctx context.Context, lot models.NewLot) (models.CreditLot, error)
}

type accountService struct {
	options
	balances       db.BalanceStore
	lots           db.LotRegistry
	openingBalance int64
}

func NewAccountService(balances db.BalanceStore, lots db.LotRegistry, openingBalance int64, opts ...Option) AccountService {
	if openingBalance < 0 {
		openingBalance = DefaultOpeningBalance
	}
	return &accountService{
		options:        newOptions(opts),
		balances:       balances,
		lots:           lots,
		openingBalance: openingBalance,
	}
}

// OpenAccount is idempotent: an existing account is returned unchanged.
func (s *accountService) OpenAccount(ctx context.Context, accountID string) (models.Account, error) {
	if accountID == "" {
		return models.Account{}, fmt.Errorf("account id is required: %w", models.ErrInvalidArgument)
	}
	acc, err := s.balances.OpenAccount(ctx, accountID, s.openingBalance)
	if err != nil {
		return models.Account{}, err
	}
	s.notifier.AccountChanged(accountID)
	s.log.Info("Account opened", zap.String("accountID", accountID), zap.Int64("balance", acc.Balance))
	return acc, nil
}

func (s *accountService) MintCoins(ctx context.Context, accountID string, amount int64) (models.Account, error) {
	if amount <= 0 {
		return models.Account{}, fmt.Errorf("mint amount must be positive: %w", models.ErrInvalidArgument)
	}

	unlock, err := s.acquire(ctx, lock.AccountKey(accountID))
	if err != nil {
		return models.Account{}, err
	}
	defer unlock()

	if err := s.balances.Credit(ctx, accountID, amount); err != nil {
		return models.Account{}, err
	}
	s.metrics.AddCoinsMinted(amount)
	s.notifier.AccountChanged(accountID)

	acc, err := s.balances.GetAccount(ctx, accountID)
	if err != nil {
		return models.Account{}, err
	}
	s.log.Info("Coins minted", zap.String("accountID", accountID), zap.Int64("amount", amount))
	return acc, nil
}

func (s *accountService) ListLot(ctx context.Context, lot models.NewLot) (models.CreditLot, error) {
	if err := lot.Validate(); err != nil {
		return models.CreditLot{}, err
	}
	id, err := s.lots.ListLot(ctx, lot)
	if err != nil {
		return models.CreditLot{}, err
	}
	s.notifier.MarketplaceChanged()

	listed, err := s.lots.GetLot(ctx, id)
	if err != nil {
		return models.CreditLot{}, err
	}
	s.log.Info("Lot listed",
		zap.Int64("lotID", id),
		zap.String("source", string(lot.Source)),
		zap.Int64("credits", lot.TotalCredits))
	return listed, nil
}
