package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"

	"ecoswap/internal/models"

	"github.com/lib/pq"
)

const defaultPageSize = 100

type balanceStoreImplementation struct {
	db *sql.DB
}

func NewBalanceStore(dbConn *sql.DB) BalanceStore {
	return &balanceStoreImplementation{db: dbConn}
}

func (b *balanceStoreImplementation) OpenAccount(ctx context.Context, accountID string, openingBalance int64) (models.Account, error) {
	if accountID == "" || openingBalance < 0 {
		return models.Account{}, fmt.Errorf("open account %q: %w", accountID, models.ErrInvalidArgument)
	}
	_, err := b.db.ExecContext(ctx,
		"INSERT INTO accounts (account_id, balance) VALUES ($1, $2) ON CONFLICT (account_id) DO NOTHING",
		accountID, openingBalance)
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to open account %q: %w", accountID, err)
	}
	return b.GetAccount(ctx, accountID)
}

func (b *balanceStoreImplementation) GetAccount(ctx context.Context, accountID string) (models.Account, error) {
	var a models.Account
	err := b.db.QueryRowContext(ctx,
		"SELECT account_id, balance, created_at, updated_at FROM accounts WHERE account_id=$1", accountID).
		Scan(&a.ID, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, fmt.Errorf("%w: %s", models.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to get account %q: %w", accountID, err)
	}
	return a, nil
}

func (b *balanceStoreImplementation) GetBalance(ctx context.Context, accountID string) (int64, error) {
	a, err := b.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return a.Balance, nil
}

func (b *balanceStoreImplementation) Debit(ctx context.Context, accountID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("debit amount %d: %w", amount, models.ErrInvalidArgument)
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	balance, err := lockBalance(ctx, tx, accountID)
	if err != nil {
		return err
	}
	if balance < amount {
		return fmt.Errorf("%w: account %s has %d, needs %d", models.ErrInsufficientBalance, accountID, balance, amount)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE accounts SET balance = balance - $1, updated_at = now() WHERE account_id=$2", amount, accountID); err != nil {
		return fmt.Errorf("failed to decrease balance: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit debit: %w", err)
	}
	return nil
}

func (b *balanceStoreImplementation) Credit(ctx context.Context, accountID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount %d: %w", amount, models.ErrInvalidArgument)
	}
	res, err := b.db.ExecContext(ctx,
		"UPDATE accounts SET balance = balance + $1, updated_at = now() WHERE account_id=$2", amount, accountID)
	if err != nil {
		return fmt.Errorf("failed to increase balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", models.ErrAccountNotFound, accountID)
	}
	return nil
}

func lockBalance(ctx context.Context, tx *sql.Tx, accountID string) (int64, error) {
	var balance int64
	err := tx.QueryRowContext(ctx, "SELECT balance FROM accounts WHERE account_id=$1 FOR UPDATE", accountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", models.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance for account %q: %w", accountID, err)
	}
	return balance, nil
}

type lotRegistryImplementation struct {
	db       *sql.DB
	pageSize int
}

func NewLotRegistry(dbConn *sql.DB) LotRegistry {
	return &lotRegistryImplementation{db: dbConn, pageSize: defaultPageSize}
}

const lotColumns = "lot_id, source, issuer_name, description, total_credits, remaining_credits, price_per_credit, created_at"

func scanLot(row interface{ Scan(...any) error }) (models.CreditLot, error) {
	var l models.CreditLot
	err := row.Scan(&l.ID, &l.Source, &l.IssuerName, &l.Description,
		&l.TotalCredits, &l.RemainingCredits, &l.PricePerCredit, &l.CreatedAt)
	return l, err
}

func (r *lotRegistryImplementation) ListLot(ctx context.Context, lot models.NewLot) (int64, error) {
	if err := lot.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := r.db.QueryRowContext(ctx, `
INSERT INTO credit_lots (source, issuer_name, description, total_credits, remaining_credits, price_per_credit)
VALUES ($1, $2, $3, $4, $4, $5)
RETURNING lot_id`,
		lot.Source, lot.IssuerName, lot.Description, lot.TotalCredits, lot.PricePerCredit).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert lot: %w", err)
	}
	return id, nil
}

func (r *lotRegistryImplementation) GetLot(ctx context.Context, lotID int64) (models.CreditLot, error) {
	l, err := scanLot(r.db.QueryRowContext(ctx, "SELECT "+lotColumns+" FROM credit_lots WHERE lot_id=$1", lotID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.CreditLot{}, fmt.Errorf("%w: %d", models.ErrLotNotFound, lotID)
	}
	if err != nil {
		return models.CreditLot{}, fmt.Errorf("failed to get lot %d: %w", lotID, err)
	}
	return l, nil
}

func (r *lotRegistryImplementation) DecrementLot(ctx context.Context, lotID int64, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("decrement quantity %d: %w", quantity, models.ErrInvalidArgument)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	remaining, _, err := lockLot(ctx, tx, lotID)
	if err != nil {
		return err
	}
	if quantity > remaining {
		return fmt.Errorf("%w: lot %d has %d, requested %d", models.ErrInsufficientCredits, lotID, remaining, quantity)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE credit_lots SET remaining_credits = remaining_credits - $1 WHERE lot_id=$2", quantity, lotID); err != nil {
		return fmt.Errorf("failed to decrement lot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit lot decrement: %w", err)
	}
	return nil
}

func (r *lotRegistryImplementation) RestoreLot(ctx context.Context, lotID int64, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("restore quantity %d: %w", quantity, models.ErrInvalidArgument)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	remaining, total, err := lockLot(ctx, tx, lotID)
	if err != nil {
		return err
	}
	if remaining+quantity > total {
		return fmt.Errorf("restore %d on lot %d would exceed total %d: %w", quantity, lotID, total, models.ErrInternalInconsistency)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE credit_lots SET remaining_credits = remaining_credits + $1 WHERE lot_id=$2", quantity, lotID); err != nil {
		return fmt.Errorf("failed to restore lot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit lot restore: %w", err)
	}
	return nil
}

func lockLot(ctx context.Context, tx *sql.Tx, lotID int64) (remaining, total int64, err error) {
	err = tx.QueryRowContext(ctx,
		"SELECT remaining_credits, total_credits FROM credit_lots WHERE lot_id=$1 FOR UPDATE", lotID).
		Scan(&remaining, &total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("%w: %d", models.ErrLotNotFound, lotID)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to lock lot %d: %w", lotID, err)
	}
	return remaining, total, nil
}

func (r *lotRegistryImplementation) ListAvailable(ctx context.Context) iter.Seq2[models.CreditLot, error] {
	return func(yield func(models.CreditLot, error) bool) {
		var after int64
		for {
			page, err := r.availablePage(ctx, after)
			if err != nil {
				yield(models.CreditLot{}, err)
				return
			}
			for _, l := range page {
				after = l.ID
				if !yield(l, nil) {
					return
				}
			}
			if len(page) < r.pageSize {
				return
			}
		}
	}
}

func (r *lotRegistryImplementation) availablePage(ctx context.Context, after int64) ([]models.CreditLot, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+lotColumns+`
FROM credit_lots
WHERE remaining_credits > 0 AND lot_id > $1
ORDER BY lot_id
LIMIT $2`, after, r.pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to query available lots: %w", err)
	}
	defer rows.Close()
	return collectLots(rows)
}

func (r *lotRegistryImplementation) ListAll(ctx context.Context) ([]models.CreditLot, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+lotColumns+" FROM credit_lots ORDER BY lot_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()
	return collectLots(rows)
}

func collectLots(rows *sql.Rows) ([]models.CreditLot, error) {
	var lots []models.CreditLot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		lots = append(lots, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lots: %w", err)
	}
	return lots, nil
}

type transactionLogImplementation struct {
	db *sql.DB
}

func NewTransactionLog(dbConn *sql.DB) TransactionLog {
	return &transactionLogImplementation{db: dbConn}
}

func (t *transactionLogImplementation) Append(ctx context.Context, tr models.Transaction) error {
	_, err := t.db.ExecContext(ctx, `
INSERT INTO credit_transactions (transaction_id, account_id, lot_id, quantity, coins_spent, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tr.ID, tr.AccountID, tr.LotID, tr.Quantity, tr.CoinsSpent, tr.Status, tr.Timestamp)
	if isUniqueViolation(err) {
		return fmt.Errorf("transaction %s already recorded: %w", tr.ID, models.ErrInvalidState)
	}
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (t *transactionLogImplementation) ListByAccount(ctx context.Context, accountID string) ([]models.Transaction, error) {
	rows, err := t.db.QueryContext(ctx, `
SELECT transaction_id, account_id, lot_id, quantity, coins_spent, status, created_at
FROM credit_transactions
WHERE account_id=$1
ORDER BY created_at DESC, transaction_id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var trans []models.Transaction
	for rows.Next() {
		var tr models.Transaction
		if err := rows.Scan(&tr.ID, &tr.AccountID, &tr.LotID, &tr.Quantity, &tr.CoinsSpent, &tr.Status, &tr.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		trans = append(trans, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return trans, nil
}

type retirementStoreImplementation struct {
	db *sql.DB
}

func NewRetirementStore(dbConn *sql.DB) RetirementStore {
	return &retirementStoreImplementation{db: dbConn}
}

const retirementColumns = "retirement_id, account_id, coins_retired, co2_offset_tons, reason, certificate_number, status, created_at, updated_at, completed_at"

func scanRetirement(row interface{ Scan(...any) error }) (models.RetirementRecord, error) {
	var (
		r           models.RetirementRecord
		certificate sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(&r.ID, &r.AccountID, &r.CoinsRetired, &r.CO2OffsetTons, &r.Reason,
		&certificate, &r.Status, &r.CreatedAt, &r.UpdatedAt, &completedAt)
	if err != nil {
		return models.RetirementRecord{}, err
	}
	r.CertificateNumber = certificate.String
	if completedAt.Valid {
		ts := completedAt.Time
		r.CompletedAt = &ts
	}
	return r, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// certificateConstraint is the name Postgres gives the UNIQUE on
// credit_retirements.certificate_number.
const certificateConstraint = "credit_retirements_certificate_number_key"

func violatesConstraint(err error, constraint string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == constraint
}

// isInvalidTextRepresentation reports a malformed key, e.g. a non-UUID id on
// databases created before retirement ids became TEXT.
func isInvalidTextRepresentation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22P02"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *retirementStoreImplementation) Create(ctx context.Context, r models.RetirementRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO credit_retirements (`+retirementColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.AccountID, r.CoinsRetired, r.CO2OffsetTons, r.Reason,
		nullString(r.CertificateNumber), r.Status, r.CreatedAt, r.UpdatedAt, r.CompletedAt)
	if violatesConstraint(err, certificateConstraint) {
		return fmt.Errorf("%w: %s", models.ErrDuplicateCertificate, r.CertificateNumber)
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("retirement %s already exists: %w", r.ID, models.ErrInvalidState)
	}
	if err != nil {
		return fmt.Errorf("failed to insert retirement: %w", err)
	}
	return nil
}

func (s *retirementStoreImplementation) Get(ctx context.Context, retirementID string) (models.RetirementRecord, error) {
	r, err := scanRetirement(s.db.QueryRowContext(ctx,
		"SELECT "+retirementColumns+" FROM credit_retirements WHERE retirement_id=$1", retirementID))
	if errors.Is(err, sql.ErrNoRows) || isInvalidTextRepresentation(err) {
		return models.RetirementRecord{}, fmt.Errorf("%w: %s", models.ErrRetirementNotFound, retirementID)
	}
	if err != nil {
		return models.RetirementRecord{}, fmt.Errorf("failed to get retirement %q: %w", retirementID, err)
	}
	return r, nil
}

func (s *retirementStoreImplementation) UpdatePending(ctx context.Context, r models.RetirementRecord) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE credit_retirements
SET coins_retired=$2, co2_offset_tons=$3, reason=$4, certificate_number=$5, status=$6, updated_at=$7, completed_at=$8
WHERE retirement_id=$1 AND status='pending'`,
		r.ID, r.CoinsRetired, r.CO2OffsetTons, r.Reason, nullString(r.CertificateNumber), r.Status, r.UpdatedAt, r.CompletedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", models.ErrDuplicateCertificate, r.CertificateNumber)
	}
	if err != nil {
		return fmt.Errorf("failed to update retirement: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.Get(ctx, r.ID); err != nil {
			return err
		}
		return fmt.Errorf("retirement %s is no longer pending: %w", r.ID, models.ErrInvalidState)
	}
	return nil
}

func (s *retirementStoreImplementation) ListByAccount(ctx context.Context, accountID string) ([]models.RetirementRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+retirementColumns+`
FROM credit_retirements
WHERE account_id=$1
ORDER BY created_at DESC, retirement_id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query retirements: %w", err)
	}
	defer rows.Close()

	var recs []models.RetirementRecord
	for rows.Next() {
		r, err := scanRetirement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan retirement: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate retirements: %w", err)
	}
	return recs, nil
}
