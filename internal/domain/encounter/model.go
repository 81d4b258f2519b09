package encounter

import (
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
)

// Vital sign ranges accepted on intake.
const (
	MinTemperature = 30.0
	MaxTemperature = 45.0
	MinPulse       = 30
	MaxPulse       = 200
	MinWeight      = 1.0
	MaxWeight      = 500.0
)

var bloodPressureRE = regexp.MustCompile(`^\d{2,3}/\d{2,3}$`)

// Vitals are optional; a nil field was not measured.
type Vitals struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	Pulse         *int     `json:"pulse,omitempty"`
	BloodPressure *string  `json:"blood_pressure,omitempty"`
	Weight        *float64 `json:"weight,omitempty"`
}

func (v Vitals) Validate() error {
	if v.Temperature != nil && (*v.Temperature < MinTemperature || *v.Temperature > MaxTemperature) {
		return apperr.Validation("temperature must be between %.0f and %.0f", MinTemperature, MaxTemperature)
	}
	if v.Pulse != nil && (*v.Pulse < MinPulse || *v.Pulse > MaxPulse) {
		return apperr.Validation("pulse must be between %d and %d", MinPulse, MaxPulse)
	}
	if v.BloodPressure != nil && !bloodPressureRE.MatchString(*v.BloodPressure) {
		return apperr.Validation("blood_pressure must look like 120/80")
	}
	if v.Weight != nil && (*v.Weight < MinWeight || *v.Weight > MaxWeight) {
		return apperr.Validation("weight must be between %.0f and %.0f", MinWeight, MaxWeight)
	}
	return nil
}

// merge overlays the measured fields of corr onto v.
func (v Vitals) merge(corr Vitals) Vitals {
	if corr.Temperature != nil {
		v.Temperature = corr.Temperature
	}
	if corr.Pulse != nil {
		v.Pulse = corr.Pulse
	}
	if corr.BloodPressure != nil {
		v.BloodPressure = corr.BloodPressure
	}
	if corr.Weight != nil {
		v.Weight = corr.Weight
	}
	return v
}

type Encounter struct {
	ID             uuid.UUID  `json:"id"`
	StudentID      string     `json:"student_id"`
	PatientName    string     `json:"patient_name"`
	ClinicianID    *uuid.UUID `json:"clinician_id,omitempty"`
	Clinician      string     `json:"clinician"`
	OccurredAt     time.Time  `json:"occurred_at"`
	ChiefComplaint string     `json:"chief_complaint"`
	History        string     `json:"history"`
	Exam           string     `json:"exam"`
	Plan           string     `json:"plan"`
	Vitals         Vitals     `json:"vitals"`
	Attachments    []string   `json:"attachments"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type CreateInput struct {
	StudentID      string     `json:"student_id"`
	PatientName    string     `json:"patient_name"`
	OccurredAt     *time.Time `json:"occurred_at"`
	ChiefComplaint string     `json:"chief_complaint"`
	History        string     `json:"history"`
	Exam           string     `json:"exam"`
	Plan           string     `json:"plan"`
	Vitals         Vitals     `json:"vitals"`
	Attachments    []string   `json:"attachments"`
}

// Filter narrows encounter listings. From is inclusive and To exclusive.
type Filter struct {
	StudentID string
	From      *time.Time
	To        *time.Time
}
