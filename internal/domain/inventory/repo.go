package inventory

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, item *Item) error
	GetByID(ctx context.Context, id uuid.UUID) (*Item, error)
	// GetForUpdate reads the item and locks its row until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Item, error)
	Update(ctx context.Context, item *Item) error
	SetQuantity(ctx context.Context, id uuid.UUID, quantity int) error
	List(ctx context.Context) ([]*Item, error)
	LowStock(ctx context.Context) ([]*Item, error)
	AddTransaction(ctx context.Context, tx *Transaction) error
	Transactions(ctx context.Context, itemID uuid.UUID, limit int) ([]*Transaction, error)
}
