package patient

import (
	"time"

	"github.com/google/uuid"
)

type Patient struct {
	ID          uuid.UUID  `json:"id"`
	StudentID   string     `json:"student_id"`
	Name        string     `json:"name"`
	Year        string     `json:"year"`
	LastVisit   *time.Time `json:"last_visit,omitempty"`
	Medications string     `json:"medications"`
	Allergies   string     `json:"allergies"`
	Notes       string     `json:"notes"`
	Attachments []string   `json:"attachments"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Student is a row of the read-only school directory.
type Student struct {
	ID        uuid.UUID `json:"id"`
	StudentID string    `json:"student_id"`
	Name      string    `json:"name"`
	Year      string    `json:"year"`
	Course    string    `json:"course"`
	Email     string    `json:"email"`
}

// UpdateInput carries a partial profile edit. Nil fields are left alone.
type UpdateInput struct {
	Name        *string   `json:"name"`
	Year        *string   `json:"year"`
	Medications *string   `json:"medications"`
	Allergies   *string   `json:"allergies"`
	Notes       *string   `json:"notes"`
	Attachments *[]string `json:"attachments"`
}

func (in UpdateInput) apply(p *Patient) {
	if in.Name != nil {
		p.Name = *in.Name
	}
	if in.Year != nil {
		p.Year = *in.Year
	}
	if in.Medications != nil {
		p.Medications = *in.Medications
	}
	if in.Allergies != nil {
		p.Allergies = *in.Allergies
	}
	if in.Notes != nil {
		p.Notes = *in.Notes
	}
	if in.Attachments != nil {
		p.Attachments = *in.Attachments
	}
}

// LookupSource says which collection answered a lookup.
type LookupSource string

const (
	SourcePatients LookupSource = "patients"
	SourceStudents LookupSource = "students"
)

// LookupResult is the answer to a student id lookup. Exactly one of
// Patient and Student is set.
type LookupResult struct {
	Source  LookupSource `json:"source"`
	Patient *Patient     `json:"patient,omitempty"`
	Student *Student     `json:"student,omitempty"`
}

// Name returns the display name of whichever record was found.
func (r *LookupResult) Name() string {
	if r.Patient != nil {
		return r.Patient.Name
	}
	if r.Student != nil {
		return r.Student.Name
	}
	return ""
}
