// Package reporting runs predefined clinic measures over a date range and
// exports them as JSON or CSV.
package reporting

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

// DefaultRangeDays is the span used when a request names no range.
const DefaultRangeDays = 30

// maxRangeDays bounds a single report.
const maxRangeDays = 366

// Measure is a parameterised report query. Params says how many of
// (from, to, timezone) the SQL binds, in that order.
type Measure struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Columns     []string `json:"columns"`
	Ranged      bool     `json:"ranged"`
	SQL         string   `json:"-"`
	Params      int      `json:"-"`
}

// Report holds the result of running a measure.
type Report struct {
	MeasureID   string           `json:"measure_id"`
	MeasureName string           `json:"measure_name"`
	From        string           `json:"from,omitempty"`
	To          string           `json:"to,omitempty"`
	GeneratedAt time.Time        `json:"generated_at"`
	Columns     []string         `json:"columns"`
	Rows        []map[string]any `json:"rows"`
}

// PredefinedMeasures lists every report the clinic can run.
var PredefinedMeasures = []Measure{
	{
		ID:          "encounters-per-day",
		Name:        "Encounters per Day",
		Description: "Number of encounters on each clinic day in the range",
		Columns:     []string{"day", "encounters"},
		Ranged:      true,
		Params:      3,
		SQL: `SELECT to_char((occurred_at AT TIME ZONE $3)::date, 'YYYY-MM-DD') AS day, COUNT(*) AS encounters
			FROM encounters
			WHERE (occurred_at AT TIME ZONE $3)::date BETWEEN $1::date AND $2::date
			GROUP BY 1 ORDER BY 1`,
	},
	{
		ID:          "top-complaints",
		Name:        "Top Chief Complaints",
		Description: "The ten most frequent chief complaints in the range",
		Columns:     []string{"complaint", "encounters"},
		Ranged:      true,
		Params:      3,
		SQL: `SELECT LOWER(TRIM(chief_complaint)) AS complaint, COUNT(*) AS encounters
			FROM encounters
			WHERE (occurred_at AT TIME ZONE $3)::date BETWEEN $1::date AND $2::date
			GROUP BY 1 ORDER BY 2 DESC, 1 LIMIT 10`,
	},
	{
		ID:          "appointments-by-status",
		Name:        "Appointments by Status",
		Description: "Appointments booked in the range grouped by status",
		Columns:     []string{"status", "appointments"},
		Ranged:      true,
		Params:      2,
		SQL: `SELECT status, COUNT(*) AS appointments
			FROM appointments
			WHERE date BETWEEN $1::date AND $2::date
			GROUP BY status ORDER BY status`,
	},
	{
		ID:          "inventory-movements",
		Name:        "Inventory Movements",
		Description: "Stock received and dispensed per item in the range",
		Columns:     []string{"item", "unit", "stock_in", "stock_out"},
		Ranged:      true,
		Params:      3,
		SQL: `SELECT i.name AS item, i.unit,
				COALESCE(SUM(t.quantity) FILTER (WHERE t.direction = 'in'), 0) AS stock_in,
				COALESCE(SUM(t.quantity) FILTER (WHERE t.direction = 'out'), 0) AS stock_out
			FROM inventory_transactions t
			JOIN inventory i ON i.id = t.item_id
			WHERE (t.created_at AT TIME ZONE $3)::date BETWEEN $1::date AND $2::date
			GROUP BY i.name, i.unit ORDER BY i.name`,
	},
	{
		ID:          "low-stock",
		Name:        "Low Stock",
		Description: "Items currently below their reorder threshold",
		Columns:     []string{"item", "category", "quantity", "reorder_threshold", "unit"},
		SQL: `SELECT name AS item, category, quantity, reorder_threshold, unit
			FROM inventory
			WHERE quantity < reorder_threshold
			ORDER BY name`,
	},
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *Measure {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

// Range is an inclusive span of clinic dates.
type Range struct {
	From time.Time
	To   time.Time
}

// ParseRange reads YYYY-MM-DD bounds. Missing bounds default to the last
// DefaultRangeDays days ending today.
func ParseRange(from, to string, today time.Time) (Range, error) {
	r := Range{To: today}
	if to != "" {
		t, err := time.Parse(time.DateOnly, to)
		if err != nil {
			return r, apperr.Validation("invalid to date %q", to)
		}
		r.To = t
	}
	r.From = r.To.AddDate(0, 0, -(DefaultRangeDays - 1))
	if from != "" {
		f, err := time.Parse(time.DateOnly, from)
		if err != nil {
			return r, apperr.Validation("invalid from date %q", from)
		}
		r.From = f
	}
	if r.From.After(r.To) {
		return r, apperr.Validation("from must not be after to")
	}
	if r.To.Sub(r.From) > maxRangeDays*24*time.Hour {
		return r, apperr.Validation("range exceeds %d days", maxRangeDays)
	}
	return r, nil
}

// TimezoneSource supplies the clinic timezone that defines a day.
type TimezoneSource interface {
	Timezone(ctx context.Context) *time.Location
}

type Service struct {
	pool db.Querier
	tz   TimezoneSource
	now  func() time.Time
}

func NewService(pool db.Querier, tz TimezoneSource) *Service {
	return &Service{pool: pool, tz: tz, now: time.Now}
}

func (s *Service) location(ctx context.Context) *time.Location {
	if s.tz == nil {
		return time.UTC
	}
	return s.tz.Timezone(ctx)
}

// Today is the current clinic date.
func (s *Service) Today(ctx context.Context) time.Time {
	now := s.now().In(s.location(ctx))
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// Run executes the measure over r.
func (s *Service) Run(ctx context.Context, id string, r Range) (*Report, error) {
	m := FindMeasure(id)
	if m == nil {
		return nil, fmt.Errorf("measure %q: %w", id, apperr.ErrNotFound)
	}

	params := []any{r.From.Format(time.DateOnly), r.To.Format(time.DateOnly), s.location(ctx).String()}
	rows, err := s.query(ctx, m.SQL, params[:m.Params]...)
	if err != nil {
		return nil, apperr.FromPG("run "+m.ID, err)
	}

	rep := &Report{
		MeasureID:   m.ID,
		MeasureName: m.Name,
		GeneratedAt: s.now().UTC(),
		Columns:     m.Columns,
		Rows:        rows,
	}
	if m.Ranged {
		rep.From = r.From.Format(time.DateOnly)
		rep.To = r.To.Format(time.DateOnly)
	}
	return rep, nil
}

func (s *Service) query(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	rows, err := db.Conn(ctx, s.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	results := []map[string]any{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// WriteCSV writes the report with a header row in column order.
func WriteCSV(w io.Writer, rep *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(rep.Columns); err != nil {
		return fmt.Errorf("report csv: write header: %w", err)
	}
	record := make([]string, len(rep.Columns))
	for _, row := range rep.Rows {
		for i, col := range rep.Columns {
			record[i] = cell(row[col])
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("report csv: write record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

// FileName is the download name for a report export.
func FileName(rep *Report) string {
	if rep.From == "" {
		return fmt.Sprintf("%s-%s.csv", rep.MeasureID, rep.GeneratedAt.Format(time.DateOnly))
	}
	return fmt.Sprintf("%s-%s-%s.csv", rep.MeasureID, rep.From, rep.To)
}
