package db

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"ecoswap/internal/models"
)

// NewMemoryStores returns process-local stores for development and tests.
// Each store guards its own records; none of them share state.
func NewMemoryStores() Stores {
	return Stores{
		Balances:     NewMemoryBalanceStore(),
		Lots:         NewMemoryLotRegistry(),
		Transactions: NewMemoryTransactionLog(),
		Retirements:  NewMemoryRetirementStore(),
	}
}

type memoryBalanceStore struct {
	mu       sync.RWMutex
	accounts map[string]models.Account
	now      func() time.Time
}

func NewMemoryBalanceStore() BalanceStore {
	return &memoryBalanceStore{accounts: make(map[string]models.Account), now: time.Now}
}

func (m *memoryBalanceStore) OpenAccount(_ context.Context, accountID string, openingBalance int64) (models.Account, error) {
	if accountID == "" || openingBalance < 0 {
		return models.Account{}, fmt.Errorf("open account %q: %w", accountID, models.ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[accountID]; ok {
		return a, nil
	}
	now := m.now().UTC()
	a := models.Account{ID: accountID, Balance: openingBalance, CreatedAt: now, UpdatedAt: now}
	m.accounts[accountID] = a
	return a, nil
}

func (m *memoryBalanceStore) GetAccount(_ context.Context, accountID string) (models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return models.Account{}, fmt.Errorf("%w: %s", models.ErrAccountNotFound, accountID)
	}
	return a, nil
}

func (m *memoryBalanceStore) GetBalance(ctx context.Context, accountID string) (int64, error) {
	a, err := m.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return a.Balance, nil
}

func (m *memoryBalanceStore) Debit(_ context.Context, accountID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("debit amount %d: %w", amount, models.ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrAccountNotFound, accountID)
	}
	if a.Balance < amount {
		return fmt.Errorf("%w: account %s has %d, needs %d", models.ErrInsufficientBalance, accountID, a.Balance, amount)
	}
	a.Balance -= amount
	a.UpdatedAt = m.now().UTC()
	m.accounts[accountID] = a
	return nil
}

func (m *memoryBalanceStore) Credit(_ context.Context, accountID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount %d: %w", amount, models.ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrAccountNotFound, accountID)
	}
	a.Balance += amount
	a.UpdatedAt = m.now().UTC()
	m.accounts[accountID] = a
	return nil
}

type memoryLotRegistry struct {
	mu     sync.RWMutex
	lots   map[int64]models.CreditLot
	ids    []int64 // ascending, ids are never reused
	nextID int64
	now    func() time.Time
}

func NewMemoryLotRegistry() LotRegistry {
	return &memoryLotRegistry{lots: make(map[int64]models.CreditLot), nextID: 1, now: time.Now}
}

func (m *memoryLotRegistry) ListLot(_ context.Context, lot models.NewLot) (int64, error) {
	if err := lot.Validate(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.lots[id] = models.CreditLot{
		ID:               id,
		Source:           lot.Source,
		IssuerName:       lot.IssuerName,
		Description:      lot.Description,
		TotalCredits:     lot.TotalCredits,
		RemainingCredits: lot.TotalCredits,
		PricePerCredit:   lot.PricePerCredit,
		CreatedAt:        m.now().UTC(),
	}
	m.ids = append(m.ids, id)
	return id, nil
}

func (m *memoryLotRegistry) GetLot(_ context.Context, lotID int64) (models.CreditLot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lots[lotID]
	if !ok {
		return models.CreditLot{}, fmt.Errorf("%w: %d", models.ErrLotNotFound, lotID)
	}
	return l, nil
}

func (m *memoryLotRegistry) DecrementLot(_ context.Context, lotID int64, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("decrement quantity %d: %w", quantity, models.ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lots[lotID]
	if !ok {
		return fmt.Errorf("%w: %d", models.ErrLotNotFound, lotID)
	}
	if quantity > l.RemainingCredits {
		return fmt.Errorf("%w: lot %d has %d, requested %d", models.ErrInsufficientCredits, lotID, l.RemainingCredits, quantity)
	}
	l.RemainingCredits -= quantity
	m.lots[lotID] = l
	return nil
}

func (m *memoryLotRegistry) RestoreLot(_ context.Context, lotID int64, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("restore quantity %d: %w", quantity, models.ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lots[lotID]
	if !ok {
		return fmt.Errorf("%w: %d", models.ErrLotNotFound, lotID)
	}
	if l.RemainingCredits+quantity > l.TotalCredits {
		return fmt.Errorf("restore %d on lot %d would exceed total %d: %w", quantity, lotID, l.TotalCredits, models.ErrInternalInconsistency)
	}
	l.RemainingCredits += quantity
	m.lots[lotID] = l
	return nil
}

func (m *memoryLotRegistry) ListAvailable(ctx context.Context) iter.Seq2[models.CreditLot, error] {
	return func(yield func(models.CreditLot, error) bool) {
		var after int64
		for {
			if err := ctx.Err(); err != nil {
				yield(models.CreditLot{}, err)
				return
			}
			l, ok := m.nextAvailable(after)
			if !ok {
				return
			}
			after = l.ID
			if !yield(l, nil) {
				return
			}
		}
	}
}

func (m *memoryLotRegistry) nextAvailable(after int64) (models.CreditLot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := sort.Search(len(m.ids), func(i int) bool { return m.ids[i] > after })
	for ; i < len(m.ids); i++ {
		if l := m.lots[m.ids[i]]; l.Available() {
			return l, true
		}
	}
	return models.CreditLot{}, false
}

func (m *memoryLotRegistry) ListAll(_ context.Context) ([]models.CreditLot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lots := make([]models.CreditLot, 0, len(m.ids))
	for _, id := range m.ids {
		lots = append(lots, m.lots[id])
	}
	return lots, nil
}

type memoryTransactionLog struct {
	mu        sync.RWMutex
	byAccount map[string][]models.Transaction
	seen      map[string]struct{}
}

func NewMemoryTransactionLog() TransactionLog {
	return &memoryTransactionLog{
		byAccount: make(map[string][]models.Transaction),
		seen:      make(map[string]struct{}),
	}
}

func (m *memoryTransactionLog) Append(_ context.Context, t models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.seen[t.ID]; dup {
		return fmt.Errorf("transaction %s already recorded: %w", t.ID, models.ErrInvalidState)
	}
	m.seen[t.ID] = struct{}{}
	m.byAccount[t.AccountID] = append(m.byAccount[t.AccountID], t)
	return nil
}

// ListByAccount returns the newest transaction first.
func (m *memoryTransactionLog) ListByAccount(_ context.Context, accountID string) ([]models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.byAccount[accountID]
	out := make([]models.Transaction, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		out = append(out, src[i])
	}
	return out, nil
}

type memoryRetirementStore struct {
	mu           sync.RWMutex
	records      map[string]models.RetirementRecord
	order        map[string][]string
	certificates map[string]string
}

func NewMemoryRetirementStore() RetirementStore {
	return &memoryRetirementStore{
		records:      make(map[string]models.RetirementRecord),
		order:        make(map[string][]string),
		certificates: make(map[string]string),
	}
}

// claimCertificate records number as issued to id. Callers hold m.mu.
func (m *memoryRetirementStore) claimCertificate(number, id string) error {
	if number == "" {
		return nil
	}
	if owner, ok := m.certificates[number]; ok && owner != id {
		return fmt.Errorf("%w: %s", models.ErrDuplicateCertificate, number)
	}
	m.certificates[number] = id
	return nil
}

func (m *memoryRetirementStore) Create(_ context.Context, r models.RetirementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.records[r.ID]; dup {
		return fmt.Errorf("retirement %s already exists: %w", r.ID, models.ErrInvalidState)
	}
	if err := m.claimCertificate(r.CertificateNumber, r.ID); err != nil {
		return err
	}
	m.records[r.ID] = r
	m.order[r.AccountID] = append(m.order[r.AccountID], r.ID)
	return nil
}

func (m *memoryRetirementStore) Get(_ context.Context, retirementID string) (models.RetirementRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[retirementID]
	if !ok {
		return models.RetirementRecord{}, fmt.Errorf("%w: %s", models.ErrRetirementNotFound, retirementID)
	}
	return r, nil
}

func (m *memoryRetirementStore) UpdatePending(_ context.Context, r models.RetirementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[r.ID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrRetirementNotFound, r.ID)
	}
	if !cur.Pending() {
		return fmt.Errorf("retirement %s is no longer pending: %w", r.ID, models.ErrInvalidState)
	}
	if err := m.claimCertificate(r.CertificateNumber, r.ID); err != nil {
		return err
	}
	r.AccountID = cur.AccountID
	r.CreatedAt = cur.CreatedAt
	m.records[r.ID] = r
	return nil
}

// ListByAccount returns the newest record first.
func (m *memoryRetirementStore) ListByAccount(_ context.Context, accountID string) ([]models.RetirementRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.order[accountID]
	out := make([]models.RetirementRecord, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, m.records[ids[i]])
	}
	return out, nil
}
