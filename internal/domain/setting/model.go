package setting

import (
	"encoding/json"
	"time"
)

// Well-known keys.
const (
	KeyTimezone     = "timezone"
	KeyLastBackupAt = "last_backup_at"
	KeyClinicName   = "clinic_name"
)

// DefaultTimezone is used when no timezone setting exists.
const DefaultTimezone = "Asia/Manila"

// Setting is a JSON value stored under a key.
type Setting struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedBy string          `json:"updated_by"`
	UpdatedAt time.Time       `json:"updated_at"`
}
