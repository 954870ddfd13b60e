package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUserNotFound is returned by UserService for unknown ids.
var ErrUserNotFound = errors.New("user not found")

// DefaultConvertRoles may run conversions when no role list is configured.
var DefaultConvertRoles = []string{"ADMIN", "MANAGER", "SALES", "PURCHASING"}

type userService struct {
	pool *pgxpool.Pool
}

// NewUserService constructs a UserService backed by PostgreSQL.
func NewUserService(pool *pgxpool.Pool) UserService {
	return &userService{pool: pool}
}

func (s *userService) GetByID(ctx context.Context, userID int) (*User, error) {
	u := &User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, company_id, username, email, role, is_active, created_at
		FROM users
		WHERE id = $1`,
		userID,
	).Scan(&u.ID, &u.CompanyID, &u.Username, &u.Email, &u.Role, &u.IsActive, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: id=%d", ErrUserNotFound, userID)
		}
		return nil, fmt.Errorf("failed to fetch user id=%d: %w", userID, err)
	}
	return u, nil
}

// rolePermissionChecker allows active users of the document's company whose
// role is in the configured set.
type rolePermissionChecker struct {
	users UserService
	roles map[string]bool
}

// NewRolePermissionChecker builds a PermissionChecker over the users table.
// An empty role list falls back to DefaultConvertRoles.
func NewRolePermissionChecker(users UserService, roles []string) PermissionChecker {
	if len(roles) == 0 {
		roles = DefaultConvertRoles
	}
	set := make(map[string]bool, len(roles))
	for _, r := range roles {
		set[strings.ToUpper(strings.TrimSpace(r))] = true
	}
	return &rolePermissionChecker{users: users, roles: set}
}

func (c *rolePermissionChecker) CanConvert(ctx context.Context, actorID, tenantID, _ int) (bool, error) {
	if actorID == 0 {
		return false, nil
	}
	u, err := c.users.GetByID(ctx, actorID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.IsActive && u.CompanyID == tenantID && c.roles[strings.ToUpper(u.Role)], nil
}
