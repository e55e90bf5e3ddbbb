package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"anagami/internal/domain"
	"anagami/internal/engine/auth"
	"anagami/internal/events"
	"anagami/internal/repo"
)

const minPasswordLength = 8

var ErrInvalidCredentials = errors.New("invalid email or password")

type UserCreateOptions struct {
	Email    string
	Name     string
	Role     string
	Password string
	ActorID  string
}

func hashPassword(pw string) (string, error) {
	if len(pw) < minPasswordLength {
		return "", invalid("password", "password must be at least %d characters", minPasswordLength)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

func (e Engine) newUser(opts UserCreateOptions) (domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(opts.Email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return domain.User{}, invalid("email", "invalid email %q", opts.Email)
	}
	role := strings.ToLower(strings.TrimSpace(opts.Role))
	if role == "" {
		role = auth.RoleAgent
	}
	if !auth.ValidRole(role) {
		return domain.User{}, invalid("role", "invalid role %q", opts.Role)
	}
	hash, err := hashPassword(opts.Password)
	if err != nil {
		return domain.User{}, err
	}
	now := e.stamp()
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = email
	}
	return domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		Role:         role,
		IsActive:     true,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (e Engine) insertUser(ctx context.Context, tx *sql.Tx, u domain.User, actorID string) error {
	if _, err := e.Repo.GetUserByEmail(ctx, u.Email); err == nil {
		return ConflictError{Message: fmt.Sprintf("user %s already exists", u.Email)}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return e.audit(ctx, tx, events.UserCreate, "user", u.ID, actorID, events.EventPayload{"email": u.Email, "role": u.Role})
}

// CreateUser requires an admin actor.
func (e Engine) CreateUser(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	u, err := e.newUser(opts)
	if err != nil {
		return u, err
	}
	err = e.mutate(ctx, opts.ActorID, auth.RoleAdmin, func(tx *sql.Tx) error {
		return e.insertUser(ctx, tx, u, opts.ActorID)
	})
	return u, err
}

// BootstrapUser creates a user without an acting principal. Used by seeding and the CLI.
func (e Engine) BootstrapUser(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	u, err := e.newUser(opts)
	if err != nil {
		return u, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return u, err
	}
	defer tx.Rollback()
	if err := e.insertUser(ctx, tx, u, ""); err != nil {
		return u, err
	}
	return u, tx.Commit()
}

type UserUpdateOptions struct {
	ID       string
	Name     *string
	Role     *string
	IsActive *bool
	Password *string
	ActorID  string
}

func (e Engine) UpdateUser(ctx context.Context, opts UserUpdateOptions) (domain.User, error) {
	var u domain.User
	err := e.mutate(ctx, opts.ActorID, auth.RoleAdmin, func(tx *sql.Tx) error {
		var err error
		if u, err = e.Repo.GetUserTx(ctx, tx, opts.ID); err != nil {
			return err
		}
		changed := []string{}
		if opts.Name != nil && strings.TrimSpace(*opts.Name) != "" {
			u.Name = strings.TrimSpace(*opts.Name)
			changed = append(changed, "name")
		}
		if opts.Role != nil {
			role := strings.ToLower(strings.TrimSpace(*opts.Role))
			if !auth.ValidRole(role) {
				return invalid("role", "invalid role %q", *opts.Role)
			}
			u.Role = role
			changed = append(changed, "role")
		}
		if opts.IsActive != nil {
			if !*opts.IsActive && u.ID == opts.ActorID {
				return invalid("is_active", "cannot deactivate yourself")
			}
			u.IsActive = *opts.IsActive
			changed = append(changed, "is_active")
		}
		if opts.Password != nil {
			if u.PasswordHash, err = hashPassword(*opts.Password); err != nil {
				return err
			}
			changed = append(changed, "password")
		}
		u.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateUser(ctx, tx, u); err != nil {
			return err
		}
		return e.audit(ctx, tx, events.UserUpdate, "user", u.ID, opts.ActorID, events.EventPayload{"fields": changed, "role": u.Role, "is_active": u.IsActive})
	})
	return u, err
}

// Authenticate checks credentials of an active user.
func (e Engine) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	u, err := e.Repo.GetUserByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil || !u.IsActive {
		return domain.User{}, ErrInvalidCredentials
	}
	return u, nil
}
