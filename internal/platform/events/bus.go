// Package events is the in-process domain event bus. Services publish a
// named event after a successful write; mounted views subscribe and refetch.
package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Name identifies a domain event.
type Name string

const (
	AppointmentCreated       Name = "appointment-created"
	AppointmentStatusChanged Name = "appointment-status-changed"
	EncounterCreated         Name = "encounter-created"
	EncounterUpdated         Name = "encounter-updated"
	PatientUpdated           Name = "patient-updated"
	InventoryChanged         Name = "inventory-changed"
	LowStockAlert            Name = "low-stock-alert"
	AuditLogCreated          Name = "audit-log-created"
	BackupCompleted          Name = "backup-completed"
	SettingsChanged          Name = "settings-changed"
)

// Known lists every event name the application publishes.
var Known = []Name{
	AppointmentCreated, AppointmentStatusChanged, EncounterCreated, EncounterUpdated,
	PatientUpdated, InventoryChanged, LowStockAlert, AuditLogCreated, BackupCompleted,
	SettingsChanged,
}

// Event is a fire-and-forget notification. Detail is an optional scalar
// (an id, a count or a timestamp), never a full payload.
type Event struct {
	Name   Name      `json:"name"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Handler consumes an event. It runs on the publisher's goroutine and must
// not block.
type Handler func(Event)

// Publisher is the narrow interface services depend on.
type Publisher interface {
	Publish(name Name, detail string)
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bus dispatches events synchronously to subscribers.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	byName map[Name][]subscription
	all    []subscription
	logger zerolog.Logger
	now    func() time.Time
}

func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		byName: make(map[Name][]subscription),
		logger: logger,
		now:    time.Now,
	}
}

// Subscribe registers handler for name. The returned function removes it
// and is safe to call more than once.
func (b *Bus) Subscribe(name Name, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.byName[name] = append(b.byName[name], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.byName[name] = remove(b.byName[name], id)
			if len(b.byName[name]) == 0 {
				delete(b.byName, name)
			}
		})
	}
}

// SubscribeAll registers handler for every event.
func (b *Bus) SubscribeAll(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.all = remove(b.all, id)
		})
	}
}

// Publish delivers the event to each current subscriber exactly once. The
// subscriber list is copied first, so handlers may unsubscribe themselves.
func (b *Bus) Publish(name Name, detail string) {
	evt := Event{Name: name, Detail: detail, At: b.now().UTC()}

	b.mu.RLock()
	targets := make([]subscription, 0, len(b.byName[name])+len(b.all))
	targets = append(targets, b.byName[name]...)
	targets = append(targets, b.all...)
	b.mu.RUnlock()

	for _, sub := range targets {
		b.dispatch(sub, evt)
	}
}

func (b *Bus) dispatch(sub subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("event", string(evt.Name)).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("event handler panicked")
		}
	}()
	sub.handler(evt)
}

// SubscriberCount returns the number of handlers registered for name,
// excluding catch-all subscribers.
func (b *Bus) SubscriberCount(name Name) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byName[name])
}

func remove(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
