package api

import (
	"ecoswap/internal/models"

	"github.com/shopspring/decimal"
)

type ErrorResponse struct {
	Errors string `json:"errors"`
}

type OpenAccountRequest struct {
	AccountID string `json:"accountId" binding:"required"`
}

type MintRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

type ListLotRequest struct {
	Source         string          `json:"source" binding:"required"`
	IssuerName     string          `json:"issuerName"`
	Description    string          `json:"description"`
	TotalCredits   int64           `json:"totalCredits" binding:"required,gt=0"`
	PricePerCredit decimal.Decimal `json:"pricePerCredit"`
}

func (r ListLotRequest) toNewLot() (models.NewLot, error) {
	src, err := models.ParseSource(r.Source)
	if err != nil {
		return models.NewLot{}, err
	}
	return models.NewLot{
		Source:         src,
		IssuerName:     r.IssuerName,
		Description:    r.Description,
		TotalCredits:   r.TotalCredits,
		PricePerCredit: r.PricePerCredit,
	}, nil
}

type PurchaseRequest struct {
	AccountID string `json:"accountId" binding:"required"`
	LotID     int64  `json:"lotId" binding:"required,gt=0"`
	Quantity  int64  `json:"quantity" binding:"required"`
}

type RetirementRequest struct {
	AccountID   string `json:"accountId" binding:"required"`
	Coins       int64  `json:"coins" binding:"required"`
	Reason      string `json:"reason"`
	AutoConfirm bool   `json:"autoConfirm"`
}

type ConfirmRetirementRequest struct {
	AccountID string `json:"accountId" binding:"required"`
}

type UpdateRetirementRequest struct {
	AccountID string `json:"accountId" binding:"required"`
	Coins     int64  `json:"coins" binding:"required"`
	Reason    string `json:"reason"`
}
