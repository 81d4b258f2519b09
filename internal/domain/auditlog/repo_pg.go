package auditlog

import (
	"context"
	"fmt"
	"strings"

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

const entryCols = `id, actor, action, description, created_at`

func (r *repoPG) Create(ctx context.Context, e *Entry) error {
	e.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO audit_logs (id, actor, action, description)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		e.ID, e.Actor, e.Action, e.Description,
	).Scan(&e.CreatedAt)
	return apperr.FromPG("insert audit log", err)
}

func (r *repoPG) ListRecent(ctx context.Context, limit int) ([]*Entry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+entryCols+` FROM audit_logs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, apperr.FromPG("list audit logs", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (r *repoPG) Search(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	where, args := buildWhere(f)
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.FromPG("count audit logs", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM audit_logs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		entryCols, where, len(args)+1, len(args)+2)
	rows, err := conn.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, apperr.FromPG("search audit logs", err)
	}
	defer rows.Close()

	entries, err := collectEntries(rows)
	return entries, total, err
}

func buildWhere(f Filter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Actor != "" {
		add(`actor ILIKE $%d ESCAPE '\'`, db.ContainsPattern(f.Actor))
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at < $%d", *f.To)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func collectEntries(rows pgx.Rows) ([]*Entry, error) {
	out := []*Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
