package store

import (
	"context"
	"errors"
	"fmt"

	"dukalink/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidState      = errors.New("invalid state")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// InsufficientStockError reports which product could not be deducted and how
// many units were available at the time the unit of work was rolled back.
// errors.Is(err, ErrInsufficientStock) matches it.
type InsufficientStockError struct {
	ProductID string
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d", e.ProductID, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Repository is the transactional store behind the stock ledger, transfer
// workflow and sale transaction. Every composite write (CreateSale,
// ApproveTransfer, AddStock) is one all-or-nothing unit of work: either all
// of its sub-writes commit or none do.
type Repository interface {
	CreateStore(ctx context.Context, s domain.Store) (*domain.Store, error)
	GetStore(ctx context.Context, storeID string) (*domain.Store, error)
	ListStores(ctx context.Context) ([]domain.Store, error)

	// AddStock upserts the (store, product) record and increments its
	// quantity. The record is created on first addition and never deleted.
	AddStock(ctx context.Context, req domain.AddStockRequest) (*domain.StockRecord, error)
	GetStock(ctx context.Context, storeID string, productID string) (*domain.StockRecord, error)
	ListStockByStore(ctx context.Context, storeID string) ([]domain.StockRecord, error)

	CreateTransfer(ctx context.Context, transfer domain.Transfer) (*domain.Transfer, error)
	GetTransfer(ctx context.Context, transferID string) (*domain.Transfer, error)
	// ApproveTransfer deducts from the source record, credits the destination
	// (created if absent) and marks the transfer approved, atomically. Fails
	// with ErrInvalidState unless the transfer is pending, and with
	// *InsufficientStockError when the source cannot cover the quantity.
	ApproveTransfer(ctx context.Context, transferID string, approverID string) (*domain.Transfer, error)
	RejectTransfer(ctx context.Context, transferID string) (*domain.Transfer, error)
	ListTransfers(ctx context.Context, storeID string, direction string, status string, limit int) ([]domain.Transfer, error)
	CountPendingTransfers(ctx context.Context, storeID string) (domain.TransferCounts, error)

	// CreateSale resolves or creates the customer by phone, writes the sale
	// and deducts every line in order, all inside one unit of work. The first
	// line that cannot be covered aborts the whole sale.
	CreateSale(ctx context.Context, sale domain.Sale, customer domain.CustomerRef) (*domain.Sale, *domain.Customer, error)
	GetSale(ctx context.Context, saleID string) (*domain.Sale, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
