package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const (
	RoleViewer  = "viewer"
	RoleAgent   = "agent"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

var roleLevel = map[string]int{
	RoleViewer:  1,
	RoleAgent:   2,
	RoleManager: 3,
	RoleAdmin:   4,
}

// ForbiddenError indicates the actor's role is below the required one.
type ForbiddenError struct {
	Required string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s required", e.Required)
}

// Level returns the ordinal of role, 0 when unknown.
func Level(role string) int {
	return roleLevel[strings.ToLower(strings.TrimSpace(role))]
}

func ValidRole(role string) bool {
	return Level(role) > 0
}

// RoleAtLeast reports whether role meets the required role.
func RoleAtLeast(role, required string) bool {
	lvl := Level(role)
	return lvl > 0 && lvl >= Level(required)
}

// Service resolves actor roles from the users table.
type Service struct {
	DB *sql.DB
}

// ActorRole returns the role of an active user. Unknown or inactive users have no role.
func (s Service) ActorRole(ctx context.Context, tx *sql.Tx, actorID string) (string, error) {
	if actorID == "" {
		return "", errors.New("actor_id required")
	}
	var role string
	var active int
	q := `SELECT role, is_active FROM users WHERE id=?`
	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, q, actorID)
	} else {
		row = s.DB.QueryRowContext(ctx, q, actorID)
	}
	err := row.Scan(&role, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if active != 1 {
		return "", nil
	}
	return role, nil
}

// Require fails with ForbiddenError unless the actor holds at least the required role.
func (s Service) Require(ctx context.Context, tx *sql.Tx, actorID, required string) error {
	role, err := s.ActorRole(ctx, tx, actorID)
	if err != nil {
		return err
	}
	if !RoleAtLeast(role, required) {
		return ForbiddenError{Required: required}
	}
	return nil
}
