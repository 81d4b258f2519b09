// Package eventstest provides an in-memory events.Publisher for tests.
package eventstest

import (
	"sync"

	"github.com/clinicdesk/clinicdesk/internal/platform/events"
)

// Recorder keeps every published event so a test can assert exactly which
// events a service emitted.
type Recorder struct {
	mu     sync.Mutex
	events []events.Event
}

var _ events.Publisher = (*Recorder)(nil)

func (r *Recorder) Publish(name events.Name, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events.Event{Name: name, Detail: detail})
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// Count returns how many times name was published.
func (r *Recorder) Count(name events.Name) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Name == name {
			n++
		}
	}
	return n
}
