package db

import (
	"context"
	"database/sql"
	"fmt"
	"iter"

	"ecoswap/internal/config"
	"ecoswap/internal/models"

	_ "github.com/lib/pq"
)

// BalanceStore owns account balances. Every mutation is atomic on its own;
// no caller ever observes a negative balance.
type BalanceStore interface {
	OpenAccount(ctx context.Context, accountID string, openingBalance int64) (models.Account, error)
	GetAccount(ctx context.Context, accountID string) (models.Account, error)
	GetBalance(ctx context.Context, accountID string) (int64, error)
	Debit(ctx context.Context, accountID string, amount int64) error
	Credit(ctx context.Context, accountID string, amount int64) error
}

// LotRegistry owns credit lots.
type LotRegistry interface {
	ListLot(ctx context.Context, lot models.NewLot) (int64, error)
	GetLot(ctx context.Context, lotID int64) (models.CreditLot, error)
	DecrementLot(ctx context.Context, lotID int64, quantity int64) error
	// RestoreLot undoes a DecrementLot of the same quantity. It is only used
	// for compensation and never lifts remaining credits above the total.
	RestoreLot(ctx context.Context, lotID int64, quantity int64) error
	// ListAvailable yields lots with remaining credits by ascending lot id.
	// Each range over the sequence reads the store again.
	ListAvailable(ctx context.Context) iter.Seq2[models.CreditLot, error]
	ListAll(ctx context.Context) ([]models.CreditLot, error)
}

// TransactionLog is append-only.
type TransactionLog interface {
	Append(ctx context.Context, t models.Transaction) error
	ListByAccount(ctx context.Context, accountID string) ([]models.Transaction, error)
}

type RetirementStore interface {
	Create(ctx context.Context, r models.RetirementRecord) error
	Get(ctx context.Context, retirementID string) (models.RetirementRecord, error)
	// UpdatePending overwrites a record only while the stored copy is still
	// pending; otherwise it fails with models.ErrInvalidState.
	UpdatePending(ctx context.Context, r models.RetirementRecord) error
	ListByAccount(ctx context.Context, accountID string) ([]models.RetirementRecord, error)
}

// Stores bundles one implementation of each store.
type Stores struct {
	Balances     BalanceStore
	Lots         LotRegistry
	Transactions TransactionLog
	Retirements  RetirementStore
}

func NewPostgresStores(dbConn *sql.DB) Stores {
	return Stores{
		Balances:     NewBalanceStore(dbConn),
		Lots:         NewLotRegistry(dbConn),
		Transactions: NewTransactionLog(dbConn),
		Retirements:  NewRetirementStore(dbConn),
	}
}

func Connect(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database at %s:%s: %w", cfg.DatabaseHost, cfg.DatabasePort, err)
	}
	return db, nil
}
