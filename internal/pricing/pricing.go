package pricing

import (
	"fmt"

	"ecoswap/internal/models"

	"github.com/shopspring/decimal"
)

// Policy turns a purchase of credits from a lot into a coin cost.
type Policy interface {
	Cost(lot models.CreditLot, quantity int64) (int64, error)
}

// RatePolicy charges quantity * pricePerCredit * CoinsPerCredit coins,
// rounded up to a whole coin.
type RatePolicy struct {
	CoinsPerCredit decimal.Decimal
}

func NewRatePolicy(coinsPerCredit decimal.Decimal) (RatePolicy, error) {
	if !coinsPerCredit.IsPositive() {
		return RatePolicy{}, fmt.Errorf("coins per credit must be positive: %w", models.ErrInvalidArgument)
	}
	return RatePolicy{CoinsPerCredit: coinsPerCredit}, nil
}

// OneToOne is the default policy: one coin buys one credit at unit price.
func OneToOne() RatePolicy {
	return RatePolicy{CoinsPerCredit: decimal.NewFromInt(1)}
}

func (p RatePolicy) Cost(lot models.CreditLot, quantity int64) (int64, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("quantity must be positive: %w", models.ErrInvalidArgument)
	}
	if !lot.PricePerCredit.IsPositive() {
		return 0, fmt.Errorf("lot %d has non-positive price: %w", lot.ID, models.ErrInvalidArgument)
	}
	cost := decimal.NewFromInt(quantity).
		Mul(lot.PricePerCredit).
		Mul(p.CoinsPerCredit).
		Ceil()
	if cost.GreaterThan(decimal.NewFromInt(maxCoins)) {
		return 0, fmt.Errorf("cost %s out of range: %w", cost, models.ErrInvalidArgument)
	}
	return cost.IntPart(), nil
}

const maxCoins = int64(1) << 53
