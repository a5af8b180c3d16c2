package service

import (
	"context"
	"errors"
	"fmt"

	"ecoswap/internal/db"
	"ecoswap/internal/lock"
	"ecoswap/internal/models"
	"ecoswap/internal/pricing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PurchaseService interface {
	Purchase(ctx context.Context, accountID string, lotID int64, quantity int64) (models.Transaction, error)
}

type purchaseService struct {
	options
	balances db.BalanceStore
	lots     db.LotRegistry
	txLog    db.TransactionLog
	pricing  pricing.Policy
}

func NewPurchaseService(balances db.BalanceStore, lots db.LotRegistry, txLog db.TransactionLog, policy pricing.Policy, opts ...Option) PurchaseService {
	if policy == nil {
		policy = pricing.OneToOne()
	}
	return &purchaseService{
		options:  newOptions(opts),
		balances: balances,
		lots:     lots,
		txLog:    txLog,
		pricing:  policy,
	}
}

// Purchase buys quantity credits from a lot. The account is debited, the lot
// decremented and a completed transaction appended, or nothing changes.
func (s *purchaseService) Purchase(ctx context.Context, accountID string, lotID int64, quantity int64) (tr models.Transaction, err error) {
	started := s.now()
	defer func() { s.metrics.ObservePurchase(err, quantity, started) }()

	if accountID == "" {
		return models.Transaction{}, fmt.Errorf("account id is required: %w", models.ErrInvalidArgument)
	}
	if quantity <= 0 {
		return models.Transaction{}, fmt.Errorf("quantity must be positive: %w", models.ErrInvalidArgument)
	}

	unlock, err := s.acquire(ctx, lock.AccountKey(accountID), lock.LotKey(lotID))
	if err != nil {
		s.log.Warn("purchase lock not acquired", zap.String("accountID", accountID), zap.Int64("lotID", lotID), zap.Error(err))
		return models.Transaction{}, err
	}
	defer unlock()

	lot, err := s.lots.GetLot(ctx, lotID)
	if err != nil {
		return models.Transaction{}, err
	}
	if quantity > lot.RemainingCredits {
		return models.Transaction{}, fmt.Errorf("%w: lot %d has %d, requested %d",
			models.ErrInsufficientCredits, lotID, lot.RemainingCredits, quantity)
	}
	cost, err := s.pricing.Cost(lot, quantity)
	if err != nil {
		return models.Transaction{}, err
	}

	// Past this point the caller can no longer abandon the purchase: it runs
	// to completion or is rolled back.
	wctx := context.WithoutCancel(ctx)

	if err := s.balances.Debit(wctx, accountID, cost); err != nil {
		return models.Transaction{}, err
	}

	if err := s.lots.DecrementLot(wctx, lotID, quantity); err != nil {
		// Another process sharing the database drained the lot after GetLot.
		// Nothing was decremented, so a plain refund restores the state.
		if errors.Is(err, models.ErrInsufficientCredits) {
			if refundErr := s.balances.Credit(wctx, accountID, cost); refundErr == nil {
				s.notifier.AccountChanged(accountID)
				s.log.Warn("Lot drained before decrement, purchase refunded",
					zap.String("accountID", accountID), zap.Int64("lotID", lotID), zap.Int64("quantity", quantity))
				return models.Transaction{}, err
			}
		}
		return models.Transaction{}, s.compensate(wctx, accountID, lotID, quantity, cost, false, err)
	}

	tr = models.Transaction{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		LotID:      lotID,
		Quantity:   quantity,
		CoinsSpent: cost,
		Timestamp:  s.now().UTC(),
		Status:     models.TransactionCompleted,
	}
	if err := s.txLog.Append(wctx, tr); err != nil {
		return models.Transaction{}, s.compensate(wctx, accountID, lotID, quantity, cost, true, err)
	}

	s.notifier.AccountChanged(accountID)
	s.notifier.MarketplaceChanged()
	s.log.Info("Credits purchased",
		zap.String("transactionID", tr.ID),
		zap.String("accountID", accountID),
		zap.Int64("lotID", lotID),
		zap.Int64("quantity", quantity),
		zap.Int64("cost", cost))
	return tr, nil
}

// compensate reverses a debit (and a lot decrement when restoreLot is set)
// after a later step failed. The returned error always wraps
// models.ErrInternalInconsistency.
func (s *purchaseService) compensate(ctx context.Context, accountID string, lotID, quantity, cost int64, restoreLot bool, cause error) error {
	s.metrics.IncCompensation()

	var rollbackErrs []error
	if restoreLot {
		if err := s.lots.RestoreLot(ctx, lotID, quantity); err != nil {
			rollbackErrs = append(rollbackErrs, fmt.Errorf("restore lot: %w", err))
		}
	}
	if err := s.balances.Credit(ctx, accountID, cost); err != nil {
		rollbackErrs = append(rollbackErrs, fmt.Errorf("refund: %w", err))
	}

	s.notifier.AccountChanged(accountID)
	s.notifier.MarketplaceChanged()

	fields := []zap.Field{
		zap.String("accountID", accountID),
		zap.Int64("lotID", lotID),
		zap.Int64("quantity", quantity),
		zap.Int64("cost", cost),
		zap.Error(cause),
	}
	if len(rollbackErrs) > 0 {
		fields = append(fields, zap.NamedError("rollbackError", errors.Join(rollbackErrs...)))
		s.log.Error("purchase rollback incomplete, manual reconciliation required", fields...)
	} else {
		s.log.Error("purchase rolled back after partial failure", fields...)
	}
	return fmt.Errorf("%w: purchase of lot %d by %s: %v", models.ErrInternalInconsistency, lotID, accountID, cause)
}
