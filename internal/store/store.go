package store

import (
	"context"
	"errors"

	"berezcashier/backend/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotSettleable = errors.New("transaction is not settleable")
)

// Repository is the persistence boundary for the cashier backend. The
// postgres implementation backs production; the memory implementation backs
// tests and dev mode. CreateTransaction, SettleTransaction and
// RestockProduct are atomic: either every staged write lands or none do.
type Repository interface {
	ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, tenantID string, productID string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, tenantID string, productIDs []string) (map[string]domain.Product, error)

	// RestockProduct runs a read-modify-write transaction: stock += qty,
	// cost basis overwritten with unitCostCents. Returns the updated stock.
	RestockProduct(ctx context.Context, tenantID string, productID string, qty int, unitCostCents int64) (int, error)

	FindAccounts(ctx context.Context, tenantID string, category string, namePrefix string) ([]domain.Account, error)
	GetAccount(ctx context.Context, tenantID string, accountID string) (*domain.Account, error)
	CreateAccount(ctx context.Context, account domain.Account) (*domain.Account, error)

	// CreateTransaction persists the transaction document and applies the
	// staged stock deltas in one atomic batch.
	CreateTransaction(ctx context.Context, tx domain.Transaction, deltas []domain.StockAdjustment) (*domain.Transaction, error)
	// SettleTransaction overwrites the mutable fields of a pending/failed
	// transaction and applies the staged stock deltas atomically.
	SettleTransaction(ctx context.Context, tx domain.Transaction, deltas []domain.StockAdjustment) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, tenantID string, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, tenantID string, paymentStatus string, limit int) ([]domain.Transaction, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
