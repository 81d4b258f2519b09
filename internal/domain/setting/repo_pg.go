package setting

import (
	"context"
	"encoding/json"
	"fmt"

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

const settingCols = `key, value, updated_by, updated_at`

func scanSetting(row pgx.Row) (*Setting, error) {
	var s Setting
	var raw string
	if err := row.Scan(&s.Key, &raw, &s.UpdatedBy, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Value = json.RawMessage(raw)
	return &s, nil
}

func (r *repoPG) Get(ctx context.Context, key string) (*Setting, error) {
	s, err := scanSetting(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+settingCols+` FROM settings WHERE key = $1`, key))
	return s, apperr.FromPG("get setting", err)
}

func (r *repoPG) Put(ctx context.Context, key string, value json.RawMessage, updatedBy string) (*Setting, error) {
	s, err := scanSetting(db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO settings (key, value, updated_by, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = NOW()
		RETURNING `+settingCols,
		key, string(value), updatedBy))
	return s, apperr.FromPG("put setting", err)
}

func (r *repoPG) List(ctx context.Context) ([]*Setting, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+settingCols+` FROM settings ORDER BY key`)
	if err != nil {
		return nil, apperr.FromPG("list settings", err)
	}
	defer rows.Close()

	out := []*Setting{}
	for rows.Next() {
		s, err := scanSetting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
