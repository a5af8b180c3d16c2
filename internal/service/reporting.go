package service

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"ecoswap/internal/db"
	"ecoswap/internal/models"

	"github.com/patrickmn/go-cache"
)

type Wallet struct {
	AccountID          string    `json:"accountId"`
	Balance            int64     `json:"balance"`
	TotalRetired       int64     `json:"totalRetired"`
	PendingRetirement  int64     `json:"pendingRetirement"`
	PendingRetirements int       `json:"pendingRetirements"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

type RetirementSummary struct {
	AccountID              string     `json:"accountId"`
	TotalRetired           int64      `json:"totalRetired"`
	CO2OffsetTons          int64      `json:"co2OffsetTons"`
	AvailableForRetirement int64      `json:"availableForRetirement"`
	TotalCoins             int64      `json:"totalCoins"`
	PendingRetirements     int        `json:"pendingRetirements"`
	ConfirmedRetirements   int        `json:"confirmedRetirements"`
	NetZeroProgress        float64    `json:"netZeroProgress"`
	LastRetiredAt          *time.Time `json:"lastRetiredAt,omitempty"`
}

// ReportingService answers read-only queries. Views may be served from a
// short-lived cache that is dropped whenever the underlying state changes.
type ReportingService interface {
	ChangeNotifier

	GetWallet(ctx context.Context, accountID string) (Wallet, error)
	GetPurchaseHistory(ctx context.Context, accountID string) ([]models.Transaction, error)
	GetRetirementHistory(ctx context.Context, accountID string) ([]models.RetirementRecord, error)
	GetPendingRetirements(ctx context.Context, accountID string) ([]models.RetirementRecord, error)
	GetRetirementSummary(ctx context.Context, accountID string) (RetirementSummary, error)
	GetMarketplaceListing(ctx context.Context) ([]models.CreditLot, error)
	GetAllLots(ctx context.Context) ([]models.CreditLot, error)
	GetLot(ctx context.Context, lotID int64) (models.CreditLot, error)
}

const marketplaceKey = "marketplace"

var accountViews = []string{"wallet", "purchases", "retirements", "summary"}

type reportingService struct {
	stores db.Stores
	cache  *cache.Cache

	// mu orders cache writes against invalidations; gen is bumped on every
	// invalidation so a view computed before it is never stored after it.
	mu  sync.Mutex
	gen uint64
}

// NewReportingService caches views for ttl. A non-positive ttl disables caching.
func NewReportingService(stores db.Stores, ttl time.Duration) ReportingService {
	r := &reportingService{stores: stores}
	if ttl > 0 {
		r.cache = cache.New(ttl, 2*ttl)
	}
	return r
}

func accountKey(view, accountID string) string {
	return view + ":" + accountID
}

func (r *reportingService) AccountChanged(accountID string) {
	if r.cache == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	for _, view := range accountViews {
		r.cache.Delete(accountKey(view, accountID))
	}
}

func (r *reportingService) MarketplaceChanged() {
	if r.cache == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.cache.Delete(marketplaceKey)
}

func (r *reportingService) generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

func (r *reportingService) store(key string, gen uint64, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen == r.gen {
		r.cache.SetDefault(key, v)
	}
}

// cached serves key from the cache or computes and stores it.
func cached[T any](r *reportingService, key string, load func() (T, error)) (T, error) {
	if r.cache == nil {
		return load()
	}
	if v, ok := r.cache.Get(key); ok {
		if t, ok := v.(T); ok {
			return t, nil
		}
	}
	gen := r.generation()
	v, err := load()
	if err != nil {
		var zero T
		return zero, err
	}
	r.store(key, gen, v)
	return v, nil
}

func (r *reportingService) GetWallet(ctx context.Context, accountID string) (Wallet, error) {
	return cached(r, accountKey("wallet", accountID), func() (Wallet, error) {
		acc, err := r.stores.Balances.GetAccount(ctx, accountID)
		if err != nil {
			return Wallet{}, err
		}
		recs, err := r.stores.Retirements.ListByAccount(ctx, accountID)
		if err != nil {
			return Wallet{}, fmt.Errorf("failed to list retirements: %w", err)
		}
		w := Wallet{AccountID: acc.ID, Balance: acc.Balance, UpdatedAt: acc.UpdatedAt}
		for _, rec := range recs {
			switch rec.Status {
			case models.RetirementConfirmed:
				w.TotalRetired += rec.CoinsRetired
			case models.RetirementPending:
				w.PendingRetirement += rec.CoinsRetired
				w.PendingRetirements++
			}
		}
		return w, nil
	})
}

func (r *reportingService) GetPurchaseHistory(ctx context.Context, accountID string) ([]models.Transaction, error) {
	return cached(r, accountKey("purchases", accountID), func() ([]models.Transaction, error) {
		if _, err := r.stores.Balances.GetAccount(ctx, accountID); err != nil {
			return nil, err
		}
		return r.stores.Transactions.ListByAccount(ctx, accountID)
	})
}

func (r *reportingService) GetRetirementHistory(ctx context.Context, accountID string) ([]models.RetirementRecord, error) {
	return cached(r, accountKey("retirements", accountID), func() ([]models.RetirementRecord, error) {
		if _, err := r.stores.Balances.GetAccount(ctx, accountID); err != nil {
			return nil, err
		}
		return r.stores.Retirements.ListByAccount(ctx, accountID)
	})
}

func (r *reportingService) GetPendingRetirements(ctx context.Context, accountID string) ([]models.RetirementRecord, error) {
	all, err := r.GetRetirementHistory(ctx, accountID)
	if err != nil {
		return nil, err
	}
	pending := make([]models.RetirementRecord, 0, len(all))
	for _, rec := range all {
		if rec.Pending() {
			pending = append(pending, rec)
		}
	}
	return pending, nil
}

// GetRetirementSummary reports net-zero progress as the share of all coins
// the account has held that are now retired, capped at 100.
func (r *reportingService) GetRetirementSummary(ctx context.Context, accountID string) (RetirementSummary, error) {
	return cached(r, accountKey("summary", accountID), func() (RetirementSummary, error) {
		acc, err := r.stores.Balances.GetAccount(ctx, accountID)
		if err != nil {
			return RetirementSummary{}, err
		}
		recs, err := r.stores.Retirements.ListByAccount(ctx, accountID)
		if err != nil {
			return RetirementSummary{}, fmt.Errorf("failed to list retirements: %w", err)
		}
		sum := RetirementSummary{AccountID: accountID, AvailableForRetirement: acc.Balance}
		for _, rec := range recs {
			switch rec.Status {
			case models.RetirementConfirmed:
				sum.TotalRetired += rec.CoinsRetired
				sum.CO2OffsetTons += rec.CO2OffsetTons
				sum.ConfirmedRetirements++
				if at := rec.CompletedAt; at != nil && (sum.LastRetiredAt == nil || at.After(*sum.LastRetiredAt)) {
					ts := *at
					sum.LastRetiredAt = &ts
				}
			case models.RetirementPending:
				sum.PendingRetirements++
			}
		}
		sum.TotalCoins = acc.Balance + sum.TotalRetired
		if sum.TotalCoins > 0 {
			sum.NetZeroProgress = math.Min(100, math.Round(float64(sum.TotalRetired)/float64(sum.TotalCoins)*10000)/100)
		}
		return sum, nil
	})
}

func (r *reportingService) GetMarketplaceListing(ctx context.Context) ([]models.CreditLot, error) {
	return cached(r, marketplaceKey, func() ([]models.CreditLot, error) {
		lots := make([]models.CreditLot, 0)
		for lot, err := range r.stores.Lots.ListAvailable(ctx) {
			if err != nil {
				return nil, fmt.Errorf("failed to list marketplace: %w", err)
			}
			lots = append(lots, lot)
		}
		return lots, nil
	})
}

func (r *reportingService) GetAllLots(ctx context.Context) ([]models.CreditLot, error) {
	return r.stores.Lots.ListAll(ctx)
}

func (r *reportingService) GetLot(ctx context.Context, lotID int64) (models.CreditLot, error) {
	return r.stores.Lots.GetLot(ctx, lotID)
}
