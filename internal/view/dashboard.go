package view

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/domain/appointment"
	"github.com/clinicdesk/clinicdesk/internal/domain/inventory"
	"github.com/clinicdesk/clinicdesk/internal/platform/events"
	"github.com/clinicdesk/clinicdesk/internal/platform/metrics"
)

// LowStockFlag holds the clinic date on which the low-stock alert last
// fired.
const LowStockFlag = "dashboard.low_stock_alert_date"

// DefaultPollInterval is the dashboard poll period.
const DefaultPollInterval = 30 * time.Second

type AppointmentSource interface {
	ListByDate(ctx context.Context, date string) ([]*appointment.Appointment, error)
	CountByDate(ctx context.Context, date string) (appointment.DayCounts, error)
}

type EncounterCounter interface {
	CountBetween(ctx context.Context, from, to time.Time) (int, error)
}

type LowStockSource interface {
	LowStock(ctx context.Context) ([]*inventory.Item, error)
}

type PatientCounter interface {
	Count(ctx context.Context) (int, error)
}

type TimezoneSource interface {
	Timezone(ctx context.Context) *time.Location
}

// Flags stores small date-stamped markers outside the database.
type Flags interface {
	GetFlag(ctx context.Context, name string) (string, error)
	SetFlag(ctx context.Context, name, value string) error
}

type DashboardSources struct {
	Appointments AppointmentSource
	Encounters   EncounterCounter
	Inventory    LowStockSource
	Patients     PatientCounter
	Timezone     TimezoneSource
}

type DashboardData struct {
	Date            string                     `json:"date"`
	Timezone        string                     `json:"timezone"`
	EncountersToday int                        `json:"encounters_today"`
	ScheduledToday  int                        `json:"scheduled_today"`
	CheckedInToday  int                        `json:"checked_in_today"`
	CompletedToday  int                        `json:"completed_today"`
	Appointments    []*appointment.Appointment `json:"appointments"`
	LowStock        []*inventory.Item          `json:"low_stock"`
	TotalPatients   int                        `json:"total_patients"`
}

type Dashboard struct {
	*Controller[DashboardData]
	src    DashboardSources
	flags  Flags
	bus    *events.Bus
	logger zerolog.Logger
	now    func() time.Time
}

func NewDashboard(bus *events.Bus, src DashboardSources, flags Flags, interval time.Duration, m *metrics.EventMetrics, logger zerolog.Logger) *Dashboard {
	d := &Dashboard{src: src, flags: flags, bus: bus, logger: logger, now: time.Now}
	d.Controller = NewController(bus, d.fetch, Options[DashboardData]{
		Name: "dashboard",
		Events: []events.Name{
			events.AppointmentCreated,
			events.AppointmentStatusChanged,
			events.EncounterCreated,
			events.InventoryChanged,
			events.PatientUpdated,
			events.SettingsChanged,
		},
		Interval:  interval,
		OnApplied: d.alertLowStock,
		Metrics:   m,
		Logger:    logger,
	})
	return d
}

func (d *Dashboard) fetch(ctx context.Context) (DashboardData, error) {
	loc := time.UTC
	if d.src.Timezone != nil {
		loc = d.src.Timezone.Timezone(ctx)
	}
	now := d.now().In(loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	date := start.Format(time.DateOnly)

	out := DashboardData{Date: date, Timezone: loc.String()}

	counts, err := d.src.Appointments.CountByDate(ctx, date)
	if err != nil {
		return out, fmt.Errorf("count appointments: %w", err)
	}
	out.ScheduledToday, out.CheckedInToday, out.CompletedToday = counts.Scheduled, counts.CheckedIn, counts.Completed

	if out.Appointments, err = d.src.Appointments.ListByDate(ctx, date); err != nil {
		return out, fmt.Errorf("list appointments: %w", err)
	}
	if out.EncountersToday, err = d.src.Encounters.CountBetween(ctx, start, start.AddDate(0, 0, 1)); err != nil {
		return out, fmt.Errorf("count encounters: %w", err)
	}
	if out.LowStock, err = d.src.Inventory.LowStock(ctx); err != nil {
		return out, fmt.Errorf("low stock: %w", err)
	}
	if out.TotalPatients, err = d.src.Patients.Count(ctx); err != nil {
		return out, fmt.Errorf("count patients: %w", err)
	}
	return out, nil
}

// alertLowStock publishes low-stock-alert at most once per clinic day,
// no matter how often the dashboard refreshes.
func (d *Dashboard) alertLowStock(ctx context.Context, data DashboardData) {
	if len(data.LowStock) == 0 {
		return
	}
	last, err := d.flags.GetFlag(ctx, LowStockFlag)
	if err != nil {
		d.logger.Warn().Err(err).Msg("read low stock flag")
		return
	}
	if last == data.Date {
		return
	}
	if err := d.flags.SetFlag(ctx, LowStockFlag, data.Date); err != nil {
		d.logger.Warn().Err(err).Msg("write low stock flag")
		return
	}
	d.bus.Publish(events.LowStockAlert, strconv.Itoa(len(data.LowStock)))
}
