package encounter

import (
	"errors"
	"testing"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
)

func ptr[T any](v T) *T { return &v }

func TestVitals_Validate(t *testing.T) {
	tests := []struct {
		name    string
		vitals  Vitals
		wantErr bool
	}{
		{"empty", Vitals{}, false},
		{"normal", Vitals{Temperature: ptr(36.8), Pulse: ptr(72), BloodPressure: ptr("120/80"), Weight: ptr(61.5)}, false},
		{"temperature bounds", Vitals{Temperature: ptr(30.0)}, false},
		{"hypothermic reading", Vitals{Temperature: ptr(29.9)}, true},
		{"fever out of range", Vitals{Temperature: ptr(45.1)}, true},
		{"pulse low", Vitals{Pulse: ptr(29)}, true},
		{"pulse high", Vitals{Pulse: ptr(201)}, true},
		{"bp three digits", Vitals{BloodPressure: ptr("140/100")}, false},
		{"bp missing slash", Vitals{BloodPressure: ptr("12080")}, true},
		{"bp text", Vitals{BloodPressure: ptr("high")}, true},
		{"weight zero", Vitals{Weight: ptr(0.0)}, true},
		{"weight huge", Vitals{Weight: ptr(501.0)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.vitals.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestVitals_Merge(t *testing.T) {
	stored := Vitals{Temperature: ptr(38.5), Pulse: ptr(90)}
	got := stored.merge(Vitals{Temperature: ptr(37.2), BloodPressure: ptr("110/70")})

	if *got.Temperature != 37.2 || *got.Pulse != 90 || *got.BloodPressure != "110/70" || got.Weight != nil {
		t.Errorf("unexpected merge result %+v", got)
	}
}
