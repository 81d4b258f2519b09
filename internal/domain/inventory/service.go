package inventory

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/internal/domain/auditlog"
	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
	"github.com/clinicdesk/clinicdesk/internal/platform/events"
)

// TransactionLimit caps the movement history returned per item.
const TransactionLimit = 100

// MaxQuantity is the largest count the INTEGER columns hold.
const MaxQuantity = math.MaxInt32

var ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", apperr.ErrConflict)

type Service struct {
	repo  Repository
	tx    db.Transactor
	audit auditlog.Recorder
	bus   events.Publisher
}

func NewService(repo Repository, tx db.Transactor, audit auditlog.Recorder, bus events.Publisher) *Service {
	return &Service{repo: repo, tx: tx, audit: audit, bus: bus}
}

func (s *Service) publish(id uuid.UUID) {
	s.bus.Publish(events.InventoryChanged, id.String())
	s.bus.Publish(events.AuditLogCreated, "")
}

// Create adds an item. A positive opening quantity is recorded as an
// inbound movement so the ledger always explains the stored quantity.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Item, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, apperr.Validation("name is required")
	}
	if in.Quantity < 0 || in.Quantity > MaxQuantity {
		return nil, apperr.Validation("quantity must be between 0 and %d", MaxQuantity)
	}
	if in.ReorderThreshold < 0 || in.ReorderThreshold > MaxQuantity {
		return nil, apperr.Validation("reorder_threshold must be between 0 and %d", MaxQuantity)
	}

	item := &Item{
		Name:             in.Name,
		Category:         strings.TrimSpace(in.Category),
		Quantity:         in.Quantity,
		Unit:             strings.TrimSpace(in.Unit),
		ReorderThreshold: in.ReorderThreshold,
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, item); err != nil {
			return err
		}
		if item.Quantity > 0 {
			err := s.repo.AddTransaction(ctx, &Transaction{
				ItemID:        item.ID,
				Direction:     DirectionIn,
				Quantity:      item.Quantity,
				QuantityAfter: item.Quantity,
				Reason:        "Opening stock",
				Actor:         auth.Actor(ctx),
			})
			if err != nil {
				return err
			}
		}
		_, err := s.audit.Record(ctx, auth.Actor(ctx), auditlog.ActionInventoryCreated,
			fmt.Sprintf("Added %s (%d %s)", item.Name, item.Quantity, item.Unit))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create inventory item: %w", err)
	}
	s.publish(item.ID)
	return item, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*Item, error) {
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return nil, apperr.Validation("name must not be empty")
	}
	if in.ReorderThreshold != nil && (*in.ReorderThreshold < 0 || *in.ReorderThreshold > MaxQuantity) {
		return nil, apperr.Validation("reorder_threshold must be between 0 and %d", MaxQuantity)
	}

	var item *Item
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		item, err = s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if in.Name != nil {
			item.Name = strings.TrimSpace(*in.Name)
		}
		if in.Category != nil {
			item.Category = *in.Category
		}
		if in.Unit != nil {
			item.Unit = *in.Unit
		}
		if in.ReorderThreshold != nil {
			item.ReorderThreshold = *in.ReorderThreshold
		}
		if err := s.repo.Update(ctx, item); err != nil {
			return err
		}
		_, err = s.audit.Record(ctx, auth.Actor(ctx), auditlog.ActionInventoryUpdated,
			fmt.Sprintf("Updated %s", item.Name))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update inventory item: %w", err)
	}
	s.publish(item.ID)
	return item, nil
}

// Adjust moves stock in or out. The row is locked for the duration of the
// transaction and an outbound movement larger than the stored quantity
// fails with ErrInsufficientStock before anything is written.
func (s *Service) Adjust(ctx context.Context, id uuid.UUID, in AdjustInput) (*Item, *Transaction, error) {
	if in.Direction != DirectionIn && in.Direction != DirectionOut {
		return nil, nil, apperr.Validation("direction must be in or out")
	}
	if in.Quantity <= 0 || in.Quantity > MaxQuantity {
		return nil, nil, apperr.Validation("quantity must be between 1 and %d", MaxQuantity)
	}

	var (
		item *Item
		move *Transaction
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		item, err = s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		after := item.Quantity + in.Quantity
		if in.Direction == DirectionOut {
			after = item.Quantity - in.Quantity
		}
		if after < 0 {
			return fmt.Errorf("%s has %d, cannot remove %d: %w", item.Name, item.Quantity, in.Quantity, ErrInsufficientStock)
		}
		if after > MaxQuantity {
			return apperr.Validation("%s has %d, adding %d exceeds %d", item.Name, item.Quantity, in.Quantity, MaxQuantity)
		}

		if err := s.repo.SetQuantity(ctx, id, after); err != nil {
			return err
		}
		move = &Transaction{
			ItemID:         id,
			Direction:      in.Direction,
			Quantity:       in.Quantity,
			QuantityBefore: item.Quantity,
			QuantityAfter:  after,
			Reason:         strings.TrimSpace(in.Reason),
			Actor:          auth.Actor(ctx),
		}
		if err := s.repo.AddTransaction(ctx, move); err != nil {
			return err
		}
		item.Quantity = after

		sign := "+"
		if in.Direction == DirectionOut {
			sign = "-"
		}
		_, err = s.audit.Record(ctx, move.Actor, auditlog.ActionInventoryAdjusted,
			fmt.Sprintf("%s %s%d (%d to %d) %s", item.Name, sign, in.Quantity, move.QuantityBefore, after, move.Reason))
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("adjust inventory: %w", err)
	}
	s.publish(item.ID)
	return item, move, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Item, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*Item, error) {
	return s.repo.List(ctx)
}

// LowStock lists items whose quantity is below their reorder threshold.
func (s *Service) LowStock(ctx context.Context) ([]*Item, error) {
	return s.repo.LowStock(ctx)
}

func (s *Service) Transactions(ctx context.Context, itemID uuid.UUID) ([]*Transaction, error) {
	if _, err := s.repo.GetByID(ctx, itemID); err != nil {
		return nil, err
	}
	return s.repo.Transactions(ctx, itemID, TransactionLimit)
}
