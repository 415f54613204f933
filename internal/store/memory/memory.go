package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"berezcashier/backend/internal/domain"
	"berezcashier/backend/internal/store"
	"berezcashier/backend/internal/xid"
)

// DefaultTenantID is the tenant all seed data belongs to.
const DefaultTenantID = "toko-berez-01"

type Store struct {
	mu               sync.RWMutex
	products         map[string]map[string]domain.Product
	accounts         map[string]map[string]domain.Account
	transactionsByID map[string]map[string]domain.Transaction
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			TenantID:  DefaultTenantID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	intp := func(v int) *int { return &v }

	products := []domain.Product{
		{ID: "prd-mie-01", Name: "Mie Goreng Instan", Type: domain.ProductTypeTangible, PriceCents: 3500, CostCents: 2700, StockQty: intp(120), Active: true},
		{ID: "prd-telur-01", Name: "Telur 10 Butir", Type: domain.ProductTypeTangible, PriceCents: 26500, CostCents: 23100, StockQty: intp(40), Active: true},
		{ID: "prd-susu-01", Name: "Susu UHT 1L", Type: domain.ProductTypeTangible, PriceCents: 18900, CostCents: 13600, StockQty: intp(55), Active: true},
		{ID: "prd-roti-01", Name: "Roti Tawar", Type: domain.ProductTypeTangible, PriceCents: 17800, CostCents: 12500, StockQty: intp(25), Active: true},
		{ID: "prd-kopi-01", Name: "Kopi Sachet", Type: domain.ProductTypeTangible, PriceCents: 2600, CostCents: 1700, StockQty: intp(300), Active: true},
		{ID: "prd-gula-01", Name: "Gula 1kg", Type: domain.ProductTypeTangible, PriceCents: 17400, CostCents: 15300, StockQty: intp(60), Active: true},
		{ID: "prd-air-01", Name: "Air Mineral 600ml", Type: domain.ProductTypeTangible, PriceCents: 3900, CostCents: 3200, StockQty: intp(200), Active: true},
		{ID: "prd-bungkus-01", Name: "Jasa Bungkus Kado", Type: domain.ProductTypeService, PriceCents: 5000, CostCents: 0, Active: true},
		{ID: "prd-antar-01", Name: "Jasa Antar Instan", Type: domain.ProductTypeService, PriceCents: 15000, CostCents: 0, Active: true},
	}

	accounts := []domain.Account{
		{ID: "acc-kas", Code: "1-10001", Name: "Kas", Category: "asset"},
		{ID: "acc-bank", Code: "1-10002", Name: "Bank BCA", Category: "asset"},
		{ID: "acc-qris", Code: "1-10003", Name: "Piutang QRIS", Category: "asset"},
		{ID: "acc-persediaan", Code: "1-10100", Name: "Persediaan Barang Dagang", Category: "asset"},
		{ID: "acc-utang-ppn", Code: "2-20001", Name: "Utang PPN Keluaran", Category: "liability"},
		{ID: "acc-utang-layanan", Code: "2-20002", Name: domain.ServiceFeePayableAccountName, Category: "liability"},
		{ID: "acc-penjualan", Code: "4-40001", Name: "Pendapatan Penjualan", Category: "revenue"},
		{ID: "acc-diskon", Code: "4-40002", Name: "Diskon Penjualan", Category: "revenue"},
		{ID: "acc-hpp", Code: "5-50001", Name: "Harga Pokok Penjualan", Category: "expense"},
	}

	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		p.TenantID = DefaultTenantID
		p.CreatedAt = now
		productMap[p.ID] = p
	}

	accountMap := make(map[string]domain.Account, len(accounts))
	for _, a := range accounts {
		a.TenantID = DefaultTenantID
		accountMap[a.ID] = a
	}

	return &Store{
		products:         map[string]map[string]domain.Product{DefaultTenantID: productMap},
		accounts:         map[string]map[string]domain.Account{DefaultTenantID: accountMap},
		transactionsByID: map[string]map[string]domain.Transaction{DefaultTenantID: {}},
		usersByUsername:  seedUsers(),
	}
}

func (s *Store) ListProducts(_ context.Context, tenantID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Product, 0, len(s.products[tenantID]))
	for _, p := range s.products[tenantID] {
		if !p.Active {
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.TenantID == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.products[product.TenantID] == nil {
		s.products[product.TenantID] = map[string]domain.Product{}
	}
	if _, exists := s.products[product.TenantID][product.ID]; exists {
		return nil, fmt.Errorf("%w: product %s already exists", store.ErrInvalidInput, product.ID)
	}
	s.products[product.TenantID][product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, tenantID string, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.products[tenantID][productID]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := p
	return &found, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, tenantID string, productIDs []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if p, exists := s.products[tenantID][id]; exists {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) RestockProduct(_ context.Context, tenantID string, productID string, qty int, unitCostCents int64) (int, error) {
	if qty < 1 || unitCostCents < 1 {
		return 0, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.products[tenantID][productID]
	if !exists {
		return 0, store.ErrNotFound
	}
	if p.Type != domain.ProductTypeTangible {
		return 0, fmt.Errorf("%w: product %s is not a tangible good", store.ErrInvalidInput, productID)
	}

	current := 0
	if p.StockQty != nil {
		current = *p.StockQty
	}
	updated := current + qty
	p.StockQty = &updated
	p.CostCents = unitCostCents
	s.products[tenantID][productID] = p
	return updated, nil
}

func (s *Store) FindAccounts(_ context.Context, tenantID string, category string, namePrefix string) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := strings.ToLower(namePrefix)
	out := make([]domain.Account, 0, len(s.accounts[tenantID]))
	for _, a := range s.accounts[tenantID] {
		if category != "" && a.Category != category {
			continue
		}
		if prefix != "" && !strings.HasPrefix(strings.ToLower(a.Name), prefix) {
			continue
		}
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b domain.Account) int {
		return strings.Compare(a.Code, b.Code)
	})
	return out, nil
}

func (s *Store) GetAccount(_ context.Context, tenantID string, accountID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.accounts[tenantID][accountID]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := a
	return &found, nil
}

func (s *Store) CreateAccount(_ context.Context, account domain.Account) (*domain.Account, error) {
	if account.ID == "" || account.TenantID == "" || account.Name == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accounts[account.TenantID] == nil {
		s.accounts[account.TenantID] = map[string]domain.Account{}
	}
	if _, exists := s.accounts[account.TenantID][account.ID]; exists {
		return nil, fmt.Errorf("%w: account %s already exists", store.ErrInvalidInput, account.ID)
	}
	s.accounts[account.TenantID][account.ID] = account
	created := account
	return &created, nil
}

// applyStockDeltas validates every delta against current stock before
// mutating anything, so a failing item leaves all stock untouched. Caller
// must hold the write lock.
func (s *Store) applyStockDeltas(tenantID string, deltas []domain.StockAdjustment) error {
	staged := make(map[string]domain.Product, len(deltas))
	for _, delta := range deltas {
		p, exists := s.products[tenantID][delta.ProductID]
		if !exists {
			return fmt.Errorf("%w: product %s", store.ErrNotFound, delta.ProductID)
		}
		if p.Type != domain.ProductTypeTangible || p.StockQty == nil {
			return fmt.Errorf("%w: product %s has no stock", store.ErrInvalidInput, delta.ProductID)
		}
		updated := *p.StockQty + delta.Qty
		if updated < 0 {
			return fmt.Errorf("%w: insufficient stock for %s", store.ErrInvalidInput, delta.ProductID)
		}
		p.StockQty = &updated
		staged[delta.ProductID] = p
	}
	for id, p := range staged {
		s.products[tenantID][id] = p
	}
	return nil
}

func (s *Store) CreateTransaction(_ context.Context, tx domain.Transaction, deltas []domain.StockAdjustment) (*domain.Transaction, error) {
	if tx.ID == "" || tx.TenantID == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transactionsByID[tx.TenantID] == nil {
		s.transactionsByID[tx.TenantID] = map[string]domain.Transaction{}
	}
	if _, exists := s.transactionsByID[tx.TenantID][tx.ID]; exists {
		return nil, fmt.Errorf("%w: transaction %s already exists", store.ErrInvalidInput, tx.ID)
	}
	if err := s.applyStockDeltas(tx.TenantID, deltas); err != nil {
		return nil, err
	}

	s.transactionsByID[tx.TenantID][tx.ID] = tx
	created := tx
	return &created, nil
}

func (s *Store) SettleTransaction(_ context.Context, tx domain.Transaction, deltas []domain.StockAdjustment) (*domain.Transaction, error) {
	if tx.ID == "" || tx.TenantID == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.transactionsByID[tx.TenantID][tx.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if existing.PaymentStatus != domain.PaymentPending && existing.PaymentStatus != domain.PaymentFailed {
		return nil, store.ErrNotSettleable
	}
	if err := s.applyStockDeltas(tx.TenantID, deltas); err != nil {
		return nil, err
	}

	s.transactionsByID[tx.TenantID][tx.ID] = tx
	saved := tx
	return &saved, nil
}

func (s *Store) GetTransaction(_ context.Context, tenantID string, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, exists := s.transactionsByID[tenantID][id]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := tx
	return &found, nil
}

func (s *Store) ListTransactions(_ context.Context, tenantID string, paymentStatus string, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Transaction, 0, len(s.transactionsByID[tenantID]))
	for _, tx := range s.transactionsByID[tenantID] {
		if paymentStatus != "" && tx.PaymentStatus != paymentStatus {
			continue
		}
		out = append(out, tx)
	}
	slices.SortFunc(out, func(a, b domain.Transaction) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("%w: user %s already exists", store.ErrInvalidInput, user.Username)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return out, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
