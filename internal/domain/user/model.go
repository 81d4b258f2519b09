package user

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// DisplayName formats a staff member's name from the local part of their
// email: dr.* gets "Dr. ", nurse.* gets "Nr. " after dropping one leading
// "Nurse ", admin.* gets "Admin ". Any other email leaves name unchanged.
func DisplayName(name, email string) string {
	local := strings.ToLower(email)
	switch {
	case strings.HasPrefix(local, "dr."):
		return "Dr. " + name
	case strings.HasPrefix(local, "nurse."):
		return "Nr. " + strings.TrimPrefix(name, "Nurse ")
	case strings.HasPrefix(local, "admin."):
		return "Admin " + name
	default:
		return name
	}
}

func (u *User) fillDisplayName() {
	u.DisplayName = DisplayName(u.Name, u.Email)
}

type CreateInput struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Password string `json:"password"`
}
