package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Source string

const (
	SourceSolar       Source = "solar"
	SourceForestation Source = "forestation"
	SourceOther       Source = "other"
)

// ParseSource accepts the source names used by the tokenization pipeline,
// including the legacy "solar_panel" spelling.
func ParseSource(s string) (Source, error) {
	switch s {
	case "solar", "solar_panel":
		return SourceSolar, nil
	case "forestation":
		return SourceForestation, nil
	case "other":
		return SourceOther, nil
	}
	return "", fmt.Errorf("unknown lot source %q: %w", s, ErrInvalidArgument)
}

type Account struct {
	ID        string    `json:"accountId"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type CreditLot struct {
	ID               int64           `json:"lotId"`
	Source           Source          `json:"source"`
	IssuerName       string          `json:"issuerName,omitempty"`
	Description      string          `json:"description,omitempty"`
	TotalCredits     int64           `json:"totalCredits"`
	RemainingCredits int64           `json:"remainingCredits"`
	PricePerCredit   decimal.Decimal `json:"pricePerCredit"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// Available reports whether the lot still has credits to sell.
func (l CreditLot) Available() bool {
	return l.RemainingCredits > 0
}

// NewLot is the input for listing a lot on the marketplace.
type NewLot struct {
	Source         Source
	IssuerName     string
	Description    string
	TotalCredits   int64
	PricePerCredit decimal.Decimal
}

func (n NewLot) Validate() error {
	switch n.Source {
	case SourceSolar, SourceForestation, SourceOther:
	default:
		return fmt.Errorf("unknown lot source %q: %w", n.Source, ErrInvalidArgument)
	}
	if n.TotalCredits <= 0 {
		return fmt.Errorf("total credits must be positive: %w", ErrInvalidArgument)
	}
	if !n.PricePerCredit.IsPositive() {
		return fmt.Errorf("price per credit must be positive: %w", ErrInvalidArgument)
	}
	return nil
}

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

type Transaction struct {
	ID         string            `json:"transactionId"`
	AccountID  string            `json:"accountId"`
	LotID      int64             `json:"lotId"`
	Quantity   int64             `json:"quantity"`
	CoinsSpent int64             `json:"coinsSpent"`
	Timestamp  time.Time         `json:"timestamp"`
	Status     TransactionStatus `json:"status"`
}

type RetirementStatus string

const (
	RetirementPending   RetirementStatus = "pending"
	RetirementConfirmed RetirementStatus = "confirmed"
	RetirementCancelled RetirementStatus = "cancelled"
)

// DefaultRetirementReason is used when a request carries no reason.
const DefaultRetirementReason = "Net Zero Goal"

type RetirementRecord struct {
	ID                string           `json:"retirementId"`
	AccountID         string           `json:"accountId"`
	CoinsRetired      int64            `json:"coinsRetired"`
	CO2OffsetTons     int64            `json:"co2OffsetTons"`
	Reason            string           `json:"reason"`
	CertificateNumber string           `json:"certificateNumber,omitempty"`
	Status            RetirementStatus `json:"status"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
	CompletedAt       *time.Time       `json:"completedAt,omitempty"`
}

// Pending reports whether the record can still be edited, confirmed or cancelled.
func (r RetirementRecord) Pending() bool {
	return r.Status == RetirementPending
}
