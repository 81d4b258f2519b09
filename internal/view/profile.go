package view

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/domain/appointment"
	"github.com/clinicdesk/clinicdesk/internal/domain/encounter"
	"github.com/clinicdesk/clinicdesk/internal/domain/patient"
	"github.com/clinicdesk/clinicdesk/internal/platform/events"
	"github.com/clinicdesk/clinicdesk/internal/platform/metrics"
)

// DefaultProfileCapacity bounds how many patient profiles stay mounted.
const DefaultProfileCapacity = 64

// profileHistory caps the encounters loaded into a profile.
const profileHistory = 50

type PatientSource interface {
	Get(ctx context.Context, studentID string) (*patient.Patient, error)
}

type EncounterSource interface {
	List(ctx context.Context, f encounter.Filter, limit, offset int) ([]*encounter.Encounter, int, error)
}

type StudentAppointments interface {
	ListByStudent(ctx context.Context, studentID string) ([]*appointment.Appointment, error)
}

type ProfileSources struct {
	Patients     PatientSource
	Encounters   EncounterSource
	Appointments StudentAppointments
}

type ProfileData struct {
	Patient      *patient.Patient           `json:"patient"`
	Encounters   []*encounter.Encounter     `json:"encounters"`
	Appointments []*appointment.Appointment `json:"appointments"`
}

var profileEvents = []events.Name{
	events.EncounterCreated,
	events.EncounterUpdated,
	events.PatientUpdated,
	events.AppointmentCreated,
	events.AppointmentStatusChanged,
}

func newProfile(bus *events.Bus, src ProfileSources, studentID string, m *metrics.EventMetrics, logger zerolog.Logger) *Controller[ProfileData] {
	fetch := func(ctx context.Context) (ProfileData, error) {
		var out ProfileData
		var err error
		if out.Patient, err = src.Patients.Get(ctx, studentID); err != nil {
			return out, fmt.Errorf("get patient: %w", err)
		}
		if out.Encounters, _, err = src.Encounters.List(ctx, encounter.Filter{StudentID: studentID}, profileHistory, 0); err != nil {
			return out, fmt.Errorf("list encounters: %w", err)
		}
		if out.Appointments, err = src.Appointments.ListByStudent(ctx, studentID); err != nil {
			return out, fmt.Errorf("list appointments: %w", err)
		}
		return out, nil
	}
	return NewController(bus, fetch, Options[ProfileData]{
		Name:    "profile",
		Events:  profileEvents,
		Filter:  func(evt events.Event) bool { return evt.Detail == studentID },
		Metrics: m,
		Logger:  logger.With().Str("student_id", studentID).Logger(),
	})
}

// Profiles mounts patient profiles on demand and keeps the most recently
// used ones. The least recently used profile is unmounted when the
// registry is full.
type Profiles struct {
	bus      *events.Bus
	src      ProfileSources
	metrics  *metrics.EventMetrics
	logger   zerolog.Logger
	capacity int

	mu    sync.Mutex
	order *list.List
	byID  map[string]*list.Element
}

type profileEntry struct {
	studentID string
	view      *Controller[ProfileData]
}

func NewProfiles(bus *events.Bus, src ProfileSources, capacity int, m *metrics.EventMetrics, logger zerolog.Logger) *Profiles {
	if capacity <= 0 {
		capacity = DefaultProfileCapacity
	}
	return &Profiles{
		bus:      bus,
		src:      src,
		metrics:  m,
		logger:   logger,
		capacity: capacity,
		order:    list.New(),
		byID:     make(map[string]*list.Element),
	}
}

// Get returns the mounted profile for studentID, mounting it first if
// needed. A profile whose initial read failed is not kept.
func (p *Profiles) Get(ctx context.Context, studentID string) (Snapshot[ProfileData], error) {
	studentID = strings.ToUpper(strings.TrimSpace(studentID))

	p.mu.Lock()
	if el, ok := p.byID[studentID]; ok {
		p.order.MoveToFront(el)
		view := el.Value.(*profileEntry).view
		p.mu.Unlock()
		return view.Snapshot(), nil
	}
	p.mu.Unlock()

	view := newProfile(p.bus, p.src, studentID, p.metrics, p.logger)
	if err := view.Mount(context.WithoutCancel(ctx)); err != nil {
		return Snapshot[ProfileData]{}, err
	}
	snap := view.Snapshot()
	if snap.Err != nil {
		view.Unmount()
		return snap, snap.Err
	}

	var evicted []*Controller[ProfileData]
	p.mu.Lock()
	if el, ok := p.byID[studentID]; ok {
		// mounted concurrently by another request
		p.order.MoveToFront(el)
		evicted = append(evicted, view)
	} else {
		p.byID[studentID] = p.order.PushFront(&profileEntry{studentID: studentID, view: view})
		for p.order.Len() > p.capacity {
			oldest := p.order.Back()
			entry := p.order.Remove(oldest).(*profileEntry)
			delete(p.byID, entry.studentID)
			evicted = append(evicted, entry.view)
		}
	}
	p.mu.Unlock()

	for _, v := range evicted {
		v.Unmount()
	}
	return snap, nil
}

func (p *Profiles) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}

// Close unmounts every profile.
func (p *Profiles) Close() {
	p.mu.Lock()
	var views []*Controller[ProfileData]
	for el := p.order.Front(); el != nil; el = el.Next() {
		views = append(views, el.Value.(*profileEntry).view)
	}
	p.order.Init()
	p.byID = make(map[string]*list.Element)
	p.mu.Unlock()

	for _, v := range views {
		v.Unmount()
	}
}
