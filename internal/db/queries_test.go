package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"ecoswap/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lotRowColumns = []string{"lot_id", "source", "issuer_name", "description", "total_credits", "remaining_credits", "price_per_credit", "created_at"}

func newMock(t *testing.T) (sqlmock.Sqlmock, Stores) {
	t.Helper()
	dbConn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = dbConn.Close() })
	return mock, NewPostgresStores(dbConn)
}

func TestBalanceStore_Debit_Success(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT balance FROM accounts WHERE account_id=\\$1 FOR UPDATE").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(1000))
	mock.ExpectExec("UPDATE accounts SET balance = balance - \\$1").
		WithArgs(int64(500), "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Balances.Debit(context.Background(), "u1", 500))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceStore_Debit_Insufficient(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT balance FROM accounts WHERE account_id=\\$1 FOR UPDATE").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(150))
	mock.ExpectRollback()

	err := s.Balances.Debit(context.Background(), "u1", 200)
	assert.True(t, errors.Is(err, models.ErrInsufficientBalance), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceStore_Debit_UnknownAccount(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT balance FROM accounts").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}))
	mock.ExpectRollback()

	err := s.Balances.Debit(context.Background(), "ghost", 1)
	assert.True(t, errors.Is(err, models.ErrNotFound), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceStore_Credit_UnknownAccount(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectExec("UPDATE accounts SET balance = balance \\+ \\$1").
		WithArgs(int64(10), "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Balances.Credit(context.Background(), "ghost", 10)
	assert.True(t, errors.Is(err, models.ErrAccountNotFound), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceStore_OpenAccount(t *testing.T) {
	mock, s := newMock(t)
	now := time.Now()

	mock.ExpectExec("INSERT INTO accounts .* ON CONFLICT \\(account_id\\) DO NOTHING").
		WithArgs("u1", int64(2500)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT account_id, balance, created_at, updated_at FROM accounts WHERE account_id=\\$1").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"account_id", "balance", "created_at", "updated_at"}).
			AddRow("u1", 2500, now, now))

	a, err := s.Balances.OpenAccount(context.Background(), "u1", 2500)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), a.Balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLotRegistry_ListLot(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectQuery("INSERT INTO credit_lots").
		WithArgs(models.SourceSolar, "Sunfarm", "", int64(500), decimal.NewFromInt(1)).
		WillReturnRows(sqlmock.NewRows([]string{"lot_id"}).AddRow(7))

	id, err := s.Lots.ListLot(context.Background(), models.NewLot{
		Source:         models.SourceSolar,
		IssuerName:     "Sunfarm",
		TotalCredits:   500,
		PricePerCredit: decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLotRegistry_ListLot_Invalid(t *testing.T) {
	_, s := newMock(t)
	_, err := s.Lots.ListLot(context.Background(), models.NewLot{Source: "wind", TotalCredits: 1, PricePerCredit: decimal.NewFromInt(1)})
	assert.True(t, errors.Is(err, models.ErrInvalidArgument))
}

func TestLotRegistry_DecrementLot_Insufficient(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT remaining_credits, total_credits FROM credit_lots WHERE lot_id=\\$1 FOR UPDATE").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"remaining_credits", "total_credits"}).AddRow(10, 500))
	mock.ExpectRollback()

	err := s.Lots.DecrementLot(context.Background(), 3, 11)
	assert.True(t, errors.Is(err, models.ErrInsufficientCredits), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLotRegistry_DecrementLot_Success(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT remaining_credits, total_credits FROM credit_lots").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"remaining_credits", "total_credits"}).AddRow(10, 500))
	mock.ExpectExec("UPDATE credit_lots SET remaining_credits = remaining_credits - \\$1 WHERE lot_id=\\$2").
		WithArgs(int64(10), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Lots.DecrementLot(context.Background(), 3, 10))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLotRegistry_RestoreLot_CannotExceedTotal(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT remaining_credits, total_credits FROM credit_lots").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"remaining_credits", "total_credits"}).AddRow(495, 500))
	mock.ExpectRollback()

	err := s.Lots.RestoreLot(context.Background(), 3, 10)
	assert.True(t, errors.Is(err, models.ErrInternalInconsistency), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLotRegistry_ListAvailable_Pages(t *testing.T) {
	dbConn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer dbConn.Close()
	reg := &lotRegistryImplementation{db: dbConn, pageSize: 2}
	now := time.Now()

	mock.ExpectQuery("SELECT .* FROM credit_lots\\s+WHERE remaining_credits > 0 AND lot_id > \\$1").
		WithArgs(int64(0), 2).
		WillReturnRows(sqlmock.NewRows(lotRowColumns).
			AddRow(1, "solar", "", "", 10, 10, "1", now).
			AddRow(4, "forestation", "", "", 10, 5, "1.5", now))
	mock.ExpectQuery("SELECT .* FROM credit_lots\\s+WHERE remaining_credits > 0 AND lot_id > \\$1").
		WithArgs(int64(4), 2).
		WillReturnRows(sqlmock.NewRows(lotRowColumns).
			AddRow(9, "other", "", "", 3, 3, "2", now))

	var ids []int64
	for lot, err := range reg.ListAvailable(context.Background()) {
		require.NoError(t, err)
		ids = append(ids, lot.ID)
	}
	assert.Equal(t, []int64{1, 4, 9}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLotRegistry_ListAvailable_StopsEarly(t *testing.T) {
	dbConn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer dbConn.Close()
	reg := &lotRegistryImplementation{db: dbConn, pageSize: 2}

	mock.ExpectQuery("SELECT .* FROM credit_lots").
		WithArgs(int64(0), 2).
		WillReturnRows(sqlmock.NewRows(lotRowColumns).
			AddRow(1, "solar", "", "", 10, 10, "1", time.Now()).
			AddRow(2, "solar", "", "", 10, 10, "1", time.Now()))

	for lot := range reg.ListAvailable(context.Background()) {
		assert.Equal(t, int64(1), lot.ID)
		break
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionLog_Append(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectExec("INSERT INTO credit_transactions").
		WithArgs("tx-1", "u1", int64(2), int64(5), int64(5), models.TransactionCompleted, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.Transactions.Append(context.Background(), models.Transaction{
		ID: "tx-1", AccountID: "u1", LotID: 2, Quantity: 5, CoinsSpent: 5,
		Status: models.TransactionCompleted, Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionLog_Append_Duplicate(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectExec("INSERT INTO credit_transactions").
		WillReturnError(&pq.Error{Code: "23505"})

	err := s.Transactions.Append(context.Background(), models.Transaction{ID: "tx-1", AccountID: "u1"})
	assert.True(t, errors.Is(err, models.ErrInvalidState))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetirementStore_UpdatePending_NotPending(t *testing.T) {
	mock, s := newMock(t)
	now := time.Now()

	mock.ExpectExec("UPDATE credit_retirements").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT .* FROM credit_retirements WHERE retirement_id=\\$1").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"retirement_id", "account_id", "coins_retired", "co2_offset_tons", "reason",
			"certificate_number", "status", "created_at", "updated_at", "completed_at"}).
			AddRow("r1", "u1", 200, 200, "Net Zero", "ECO-RET-1", "confirmed", now, now, now))

	err := s.Retirements.UpdatePending(context.Background(), models.RetirementRecord{ID: "r1", Status: models.RetirementCancelled})
	assert.True(t, errors.Is(err, models.ErrInvalidState), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetirementStore_UpdatePending_CertificateTaken(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectExec("UPDATE credit_retirements").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "credit_retirements_certificate_number_key"})

	err := s.Retirements.UpdatePending(context.Background(), models.RetirementRecord{
		ID: "r1", Status: models.RetirementConfirmed, CertificateNumber: "ECO-RET-20250304-AAAA0000",
	})
	assert.True(t, errors.Is(err, models.ErrDuplicateCertificate), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetirementStore_Get_NullCertificate(t *testing.T) {
	mock, s := newMock(t)
	now := time.Now()

	mock.ExpectQuery("SELECT .* FROM credit_retirements WHERE retirement_id=\\$1").
		WithArgs("r2").
		WillReturnRows(sqlmock.NewRows([]string{"retirement_id", "account_id", "coins_retired", "co2_offset_tons", "reason",
			"certificate_number", "status", "created_at", "updated_at", "completed_at"}).
			AddRow("r2", "u1", 50, 50, "Net Zero Goal", nil, "pending", now, now, nil))

	r, err := s.Retirements.Get(context.Background(), "r2")
	require.NoError(t, err)
	assert.Equal(t, models.RetirementPending, r.Status)
	assert.Empty(t, r.CertificateNumber)
	assert.Nil(t, r.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetirementStore_Get_MalformedID(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectQuery("SELECT .* FROM credit_retirements WHERE retirement_id=\\$1").
		WithArgs("abc").
		WillReturnError(&pq.Error{Code: "22P02", Message: `invalid input syntax for type uuid: "abc"`})

	_, err := s.Retirements.Get(context.Background(), "abc")
	assert.ErrorIs(t, err, models.ErrRetirementNotFound)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
