package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

type repoPG struct {
	pool db.Querier
}

func NewRepo(pool db.Querier) Repository {
	return &repoPG{pool: pool}
}

const itemCols = `id, name, category, quantity, unit, reorder_threshold, created_at, updated_at`

func scanItem(row pgx.Row) (*Item, error) {
	var i Item
	err := row.Scan(&i.ID, &i.Name, &i.Category, &i.Quantity, &i.Unit, &i.ReorderThreshold,
		&i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (r *repoPG) queryItems(ctx context.Context, sql string, args ...any) ([]*Item, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, apperr.FromPG("list inventory", err)
	}
	defer rows.Close()

	out := []*Item{}
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inventory item: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, item *Item) error {
	item.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO inventory (id, name, category, quantity, unit, reorder_threshold)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		item.ID, item.Name, item.Category, item.Quantity, item.Unit, item.ReorderThreshold,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	return apperr.FromPG("insert inventory item", err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Item, error) {
	i, err := scanItem(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+itemCols+` FROM inventory WHERE id = $1`, id))
	return i, apperr.FromPG("get inventory item", err)
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Item, error) {
	i, err := scanItem(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+itemCols+` FROM inventory WHERE id = $1 FOR UPDATE`, id))
	return i, apperr.FromPG("lock inventory item", err)
}

func (r *repoPG) Update(ctx context.Context, item *Item) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE inventory SET name = $2, category = $3, unit = $4, reorder_threshold = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		item.ID, item.Name, item.Category, item.Unit, item.ReorderThreshold,
	).Scan(&item.UpdatedAt)
	return apperr.FromPG("update inventory item", err)
}

func (r *repoPG) SetQuantity(ctx context.Context, id uuid.UUID, quantity int) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE inventory SET quantity = $2, updated_at = NOW() WHERE id = $1`, id, quantity)
	if err != nil {
		return apperr.FromPG("set inventory quantity", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set inventory quantity: %w", apperr.ErrNotFound)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context) ([]*Item, error) {
	return r.queryItems(ctx, `SELECT `+itemCols+` FROM inventory ORDER BY name`)
}

func (r *repoPG) LowStock(ctx context.Context) ([]*Item, error) {
	return r.queryItems(ctx,
		`SELECT `+itemCols+` FROM inventory WHERE quantity < reorder_threshold ORDER BY quantity, name`)
}

func (r *repoPG) AddTransaction(ctx context.Context, t *Transaction) error {
	t.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO inventory_transactions (id, item_id, direction, quantity, quantity_before, quantity_after, reason, actor)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		t.ID, t.ItemID, t.Direction, t.Quantity, t.QuantityBefore, t.QuantityAfter, t.Reason, t.Actor,
	).Scan(&t.CreatedAt)
	return apperr.FromPG("insert inventory transaction", err)
}

func (r *repoPG) Transactions(ctx context.Context, itemID uuid.UUID, limit int) ([]*Transaction, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, item_id, direction, quantity, quantity_before, quantity_after, reason, actor, created_at
		FROM inventory_transactions WHERE item_id = $1
		ORDER BY created_at DESC LIMIT $2`, itemID, limit)
	if err != nil {
		return nil, apperr.FromPG("list inventory transactions", err)
	}
	defer rows.Close()

	out := []*Transaction{}
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.ItemID, &t.Direction, &t.Quantity, &t.QuantityBefore,
			&t.QuantityAfter, &t.Reason, &t.Actor, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan inventory transaction: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
