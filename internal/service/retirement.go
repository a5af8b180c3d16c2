package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ecoswap/internal/db"
	"ecoswap/internal/lock"
	"ecoswap/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const certificatePrefix = "ECO-RET-"

// certificateSuffixLengths are tried in order while a certificate number
// collides. The last one spans the whole id and cannot collide.
var certificateSuffixLengths = []int{8, 16, 32}

type RetirementService interface {
	// RequestRetirement records an intent to retire coins. With autoConfirm
	// the coins are debited immediately and the record is born confirmed.
	RequestRetirement(ctx context.Context, accountID string, coins int64, reason string, autoConfirm bool) (models.RetirementRecord, error)
	ConfirmRetirement(ctx context.Context, retirementID, accountID string) (models.RetirementRecord, error)
	CancelRetirement(ctx context.Context, retirementID, accountID string) (models.RetirementRecord, error)
	// UpdateRetirement edits a pending record. An empty reason keeps the
	// current one.
	UpdateRetirement(ctx context.Context, retirementID, accountID string, coins int64, reason string) (models.RetirementRecord, error)
}

type retirementService struct {
	options
	balances    db.BalanceStore
	retirements db.RetirementStore
}

func NewRetirementService(balances db.BalanceStore, retirements db.RetirementStore, opts ...Option) RetirementService {
	return &retirementService{
		options:     newOptions(opts),
		balances:    balances,
		retirements: retirements,
	}
}

func (s *retirementService) RequestRetirement(ctx context.Context, accountID string, coins int64, reason string, autoConfirm bool) (rec models.RetirementRecord, err error) {
	started := s.now()
	defer func() { s.metrics.ObserveRetirement("request", err, started) }()

	if accountID == "" {
		return models.RetirementRecord{}, fmt.Errorf("account id is required: %w", models.ErrInvalidArgument)
	}
	if coins <= 0 {
		return models.RetirementRecord{}, fmt.Errorf("coins to retire must be positive: %w", models.ErrInvalidArgument)
	}
	if strings.TrimSpace(reason) == "" {
		reason = models.DefaultRetirementReason
	}

	unlock, err := s.acquire(ctx, lock.AccountKey(accountID))
	if err != nil {
		return models.RetirementRecord{}, err
	}
	defer unlock()

	if _, err := s.balances.GetAccount(ctx, accountID); err != nil {
		return models.RetirementRecord{}, err
	}

	now := s.now().UTC()
	rec = models.RetirementRecord{
		ID:            uuid.NewString(),
		AccountID:     accountID,
		CoinsRetired:  coins,
		CO2OffsetTons: coins,
		Reason:        reason,
		Status:        models.RetirementPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if !autoConfirm {
		if err := s.retirements.Create(ctx, rec); err != nil {
			return models.RetirementRecord{}, fmt.Errorf("failed to create retirement: %w", err)
		}
		s.notifier.AccountChanged(accountID)
		s.log.Info("Retirement requested",
			zap.String("retirementID", rec.ID),
			zap.String("accountID", accountID),
			zap.Int64("coins", coins))
		return rec, nil
	}

	wctx := context.WithoutCancel(ctx)
	if err := s.balances.Debit(wctx, accountID, coins); err != nil {
		return models.RetirementRecord{}, err
	}
	if err := s.storeConfirmed(wctx, &rec, now, s.retirements.Create); err != nil {
		return models.RetirementRecord{}, s.refund(wctx, rec, err)
	}
	s.finishConfirm(rec)
	return rec, nil
}

func (s *retirementService) ConfirmRetirement(ctx context.Context, retirementID, accountID string) (rec models.RetirementRecord, err error) {
	started := s.now()
	defer func() { s.metrics.ObserveRetirement("confirm", err, started) }()

	unlock, err := s.acquire(ctx, lock.AccountKey(accountID), lock.RetirementKey(retirementID))
	if err != nil {
		return models.RetirementRecord{}, err
	}
	defer unlock()

	rec, err = s.loadPending(ctx, retirementID, accountID)
	if err != nil {
		return models.RetirementRecord{}, err
	}

	wctx := context.WithoutCancel(ctx)
	// A failed debit leaves the record pending so the caller may top up and retry.
	if err := s.balances.Debit(wctx, accountID, rec.CoinsRetired); err != nil {
		return models.RetirementRecord{}, err
	}

	if err := s.storeConfirmed(wctx, &rec, s.now().UTC(), s.retirements.UpdatePending); err != nil {
		refundErr := s.refund(wctx, rec, err)
		if errors.Is(err, models.ErrInvalidState) {
			// Someone else moved the record on; the refund already restored the balance.
			return models.RetirementRecord{}, err
		}
		return models.RetirementRecord{}, refundErr
	}
	s.finishConfirm(rec)
	return rec, nil
}

func (s *retirementService) CancelRetirement(ctx context.Context, retirementID, accountID string) (rec models.RetirementRecord, err error) {
	started := s.now()
	defer func() { s.metrics.ObserveRetirement("cancel", err, started) }()

	unlock, err := s.acquire(ctx, lock.AccountKey(accountID), lock.RetirementKey(retirementID))
	if err != nil {
		return models.RetirementRecord{}, err
	}
	defer unlock()

	rec, err = s.loadPending(ctx, retirementID, accountID)
	if err != nil {
		return models.RetirementRecord{}, err
	}
	rec.Status = models.RetirementCancelled
	rec.UpdatedAt = s.now().UTC()
	if err := s.retirements.UpdatePending(ctx, rec); err != nil {
		return models.RetirementRecord{}, err
	}

	s.notifier.AccountChanged(accountID)
	s.log.Info("Retirement cancelled", zap.String("retirementID", retirementID), zap.String("accountID", accountID))
	return rec, nil
}

func (s *retirementService) UpdateRetirement(ctx context.Context, retirementID, accountID string, coins int64, reason string) (rec models.RetirementRecord, err error) {
	started := s.now()
	defer func() { s.metrics.ObserveRetirement("update", err, started) }()

	if coins <= 0 {
		return models.RetirementRecord{}, fmt.Errorf("coins to retire must be positive: %w", models.ErrInvalidArgument)
	}

	unlock, err := s.acquire(ctx, lock.AccountKey(accountID), lock.RetirementKey(retirementID))
	if err != nil {
		return models.RetirementRecord{}, err
	}
	defer unlock()

	rec, err = s.loadPending(ctx, retirementID, accountID)
	if err != nil {
		return models.RetirementRecord{}, err
	}
	rec.CoinsRetired = coins
	rec.CO2OffsetTons = coins
	if strings.TrimSpace(reason) != "" {
		rec.Reason = reason
	}
	rec.UpdatedAt = s.now().UTC()
	if err := s.retirements.UpdatePending(ctx, rec); err != nil {
		return models.RetirementRecord{}, err
	}

	s.notifier.AccountChanged(accountID)
	s.log.Info("Retirement updated",
		zap.String("retirementID", retirementID),
		zap.String("accountID", accountID),
		zap.Int64("coins", coins))
	return rec, nil
}

// loadPending fetches a record owned by accountID that is still pending.
// Records owned by other accounts are reported as not found.
func (s *retirementService) loadPending(ctx context.Context, retirementID, accountID string) (models.RetirementRecord, error) {
	if retirementID == "" || accountID == "" {
		return models.RetirementRecord{}, fmt.Errorf("retirement id and account id are required: %w", models.ErrInvalidArgument)
	}
	rec, err := s.retirements.Get(ctx, retirementID)
	if err != nil {
		return models.RetirementRecord{}, err
	}
	if rec.AccountID != accountID {
		return models.RetirementRecord{}, models.ErrRetirementNotFound
	}
	if !rec.Pending() {
		return models.RetirementRecord{}, fmt.Errorf("retirement %s is %s: %w", retirementID, rec.Status, models.ErrInvalidState)
	}
	return rec, nil
}

func (s *retirementService) finishConfirm(rec models.RetirementRecord) {
	s.metrics.AddCoinsRetired(rec.CoinsRetired)
	s.notifier.AccountChanged(rec.AccountID)
	s.log.Info("Retirement confirmed",
		zap.String("retirementID", rec.ID),
		zap.String("accountID", rec.AccountID),
		zap.Int64("coins", rec.CoinsRetired),
		zap.String("certificate", rec.CertificateNumber))
}

// refund credits back a debit whose record write failed.
func (s *retirementService) refund(ctx context.Context, rec models.RetirementRecord, cause error) error {
	s.metrics.IncCompensation()
	s.notifier.AccountChanged(rec.AccountID)
	fields := []zap.Field{
		zap.String("retirementID", rec.ID),
		zap.String("accountID", rec.AccountID),
		zap.Int64("coins", rec.CoinsRetired),
		zap.Error(cause),
	}
	if err := s.balances.Credit(ctx, rec.AccountID, rec.CoinsRetired); err != nil {
		s.log.Error("retirement refund failed, manual reconciliation required", append(fields, zap.NamedError("rollbackError", err))...)
	} else {
		s.log.Error("retirement rolled back after partial failure", fields...)
	}
	return fmt.Errorf("%w: retirement %s: %v", models.ErrInternalInconsistency, rec.ID, cause)
}

// storeConfirmed marks rec confirmed and writes it, lengthening the
// certificate suffix while the number is already taken.
func (s *retirementService) storeConfirmed(ctx context.Context, rec *models.RetirementRecord, at time.Time,
	write func(context.Context, models.RetirementRecord) error,
) error {
	var err error
	for _, n := range certificateSuffixLengths {
		markConfirmed(rec, at, n)
		if err = write(ctx, *rec); !errors.Is(err, models.ErrDuplicateCertificate) {
			return err
		}
		s.log.Warn("Certificate number taken, retrying with a longer suffix",
			zap.String("retirementID", rec.ID),
			zap.String("certificate", rec.CertificateNumber))
	}
	return err
}

func markConfirmed(rec *models.RetirementRecord, at time.Time, suffixLen int) {
	rec.Status = models.RetirementConfirmed
	rec.CertificateNumber = certificateNumber(rec.ID, at, suffixLen)
	rec.UpdatedAt = at
	rec.CompletedAt = &at
}

// CertificateNumber formats ECO-RET-YYYYMMDD-XXXXXXXX from the confirmation
// date and the first eight characters of the retirement id.
func CertificateNumber(retirementID string, at time.Time) string {
	return certificateNumber(retirementID, at, certificateSuffixLengths[0])
}

func certificateNumber(retirementID string, at time.Time, suffixLen int) string {
	suffix := strings.ReplaceAll(retirementID, "-", "")
	if len(suffix) > suffixLen {
		suffix = suffix[:suffixLen]
	}
	return certificatePrefix + at.UTC().Format("20060102") + "-" + strings.ToUpper(suffix)
}
