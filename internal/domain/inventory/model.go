package inventory

import (
	"time"

	"github.com/google/uuid"
)

type Item struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	Category         string    `json:"category"`
	Quantity         int       `json:"quantity"`
	Unit             string    `json:"unit"`
	ReorderThreshold int       `json:"reorder_threshold"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// LowStock reports whether the item is below its reorder threshold.
func (i *Item) LowStock() bool {
	return i.Quantity < i.ReorderThreshold
}

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Transaction is one immutable stock movement.
type Transaction struct {
	ID             uuid.UUID `json:"id"`
	ItemID         uuid.UUID `json:"item_id"`
	Direction      Direction `json:"direction"`
	Quantity       int       `json:"quantity"`
	QuantityBefore int       `json:"quantity_before"`
	QuantityAfter  int       `json:"quantity_after"`
	Reason         string    `json:"reason"`
	Actor          string    `json:"actor"`
	CreatedAt      time.Time `json:"created_at"`
}

type CreateInput struct {
	Name             string `json:"name"`
	Category         string `json:"category"`
	Quantity         int    `json:"quantity"`
	Unit             string `json:"unit"`
	ReorderThreshold int    `json:"reorder_threshold"`
}

// UpdateInput edits item metadata. Quantity only changes through Adjust.
type UpdateInput struct {
	Name             *string `json:"name"`
	Category         *string `json:"category"`
	Unit             *string `json:"unit"`
	ReorderThreshold *int    `json:"reorder_threshold"`
}

type AdjustInput struct {
	Direction Direction `json:"direction"`
	Quantity  int       `json:"quantity"`
	Reason    string    `json:"reason"`
}
