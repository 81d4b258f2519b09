package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/internal/domain/auditlog"
	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
	"github.com/clinicdesk/clinicdesk/internal/platform/events"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

type Service struct {
	repo  Repository
	tx    db.Transactor
	audit auditlog.Recorder
	bus   events.Publisher
}

func NewService(repo Repository, tx db.Transactor, audit auditlog.Recorder, bus events.Publisher) *Service {
	return &Service{repo: repo, tx: tx, audit: audit, bus: bus}
}

// Create registers a staff account with a bcrypt-hashed password.
func (s *Service) Create(ctx context.Context, in CreateInput) (*User, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, apperr.Validation("invalid email %q", in.Email)
	}
	if in.Name == "" {
		return nil, apperr.Validation("name is required")
	}
	if !auth.IsValidRole(in.Role) {
		return nil, apperr.Validation("invalid role %q", in.Role)
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Validation("%v", err)
	}

	u := &User{Email: in.Email, Name: in.Name, Role: in.Role, PasswordHash: hash}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, u); err != nil {
			return err
		}
		_, err := s.audit.Record(ctx, auth.Actor(ctx), auditlog.ActionUserCreated,
			fmt.Sprintf("Created %s account for %s", u.Role, u.Email))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	u.fillDisplayName()
	s.bus.Publish(events.AuditLogCreated, "")
	return u, nil
}

// Authenticate checks credentials. Unknown emails and wrong passwords both
// return ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := s.repo.GetByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := auth.CheckPassword(u.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	u.fillDisplayName()
	return u, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	u.fillDisplayName()
	return u, nil
}

func (s *Service) List(ctx context.Context) ([]*User, error) {
	users, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		u.fillDisplayName()
	}
	return users, nil
}

// Identity converts a user into the claims carried by its session.
func Identity(u *User) auth.Identity {
	return auth.Identity{
		UserID:      u.ID.String(),
		Email:       u.Email,
		Name:        u.Name,
		Role:        u.Role,
		DisplayName: DisplayName(u.Name, u.Email),
	}
}
