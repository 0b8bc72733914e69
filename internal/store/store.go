package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"retailpos/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrConflict           = errors.New("conflict")
)

// Repository is implemented by the in-memory and Postgres stores. Every
// operation that moves stock writes its inventory ledger rows in the same
// atomic unit and fails with ErrInsufficientStock instead of going negative.
type Repository interface {
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product, createdBy string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	ListCategories(ctx context.Context) ([]domain.CategorySummary, error)

	ApplyStockChanges(ctx context.Context, changes []domain.StockChange) ([]domain.InventoryTransaction, error)
	ListInventoryTransactions(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryTransaction, error)

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	GetSaleByNumber(ctx context.Context, number string) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	CompleteSale(ctx context.Context, id string, payment domain.SalePayment) (*domain.Sale, error)
	CancelSale(ctx context.Context, id string, reason string, cancelledBy string, at time.Time) (*domain.Sale, error)
	ReturnSaleItems(ctx context.Context, ret domain.SaleReturn) (*domain.Sale, *domain.SaleReturn, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	GetCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, filter domain.CustomerFilter) ([]domain.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error

	GetSettings(ctx context.Context) (map[string]string, error)
	SaveSettings(ctx context.Context, values map[string]string) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// SaleNumber formats the human-facing sale number for the n-th sale of a day.
// The day is taken in day's own location, which callers set to the store
// timezone.
func SaleNumber(day time.Time, n int) string {
	return fmt.Sprintf("S-%s-%04d", day.Format("20060102"), n)
}
