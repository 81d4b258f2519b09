package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "Scheduled"
	StatusCheckedIn Status = "Checked-in"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
	StatusNoShow    Status = "No-show"
)

// transitions lists the statuses reachable from each non-terminal status.
var transitions = map[Status][]Status{
	StatusScheduled: {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn: {StatusCompleted, StatusCancelled},
}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCheckedIn, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanTransition reports whether an appointment in from may move to to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Appointment struct {
	ID          uuid.UUID `json:"id"`
	StudentID   string    `json:"student_id"`
	PatientName string    `json:"patient_name"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	Type        string    `json:"type"`
	Clinician   string    `json:"clinician"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type CreateInput struct {
	StudentID   string `json:"student_id"`
	PatientName string `json:"patient_name"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Type        string `json:"type"`
	Clinician   string `json:"clinician"`
}

// DayCounts are the per-day figures shown on the dashboard.
type DayCounts struct {
	Scheduled int `json:"scheduled"`
	CheckedIn int `json:"checked_in"`
	Completed int `json:"completed"`
	Total     int `json:"total"`
}
