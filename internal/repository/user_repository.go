package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/unclebandit/phishguard-backend/internal/model"
)

// UserRepositoryInterface defines methods used by service
type UserRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.User, error)
	ExistingIDs(ctx context.Context, ids []int) ([]int, error)
	ListSuperAdmins(ctx context.Context) ([]model.User, error)
	ListOrgAdmins(ctx context.Context, orgID int) ([]model.User, error)
}

// UserRepository is the concrete implementation
type UserRepository struct {
	DB *sql.DB
}

const userColumns = `id, email, first_name, last_name, department, organization_id, role`

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	var orgID sql.NullInt64
	if err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Department, &orgID, &u.Role); err != nil {
		return nil, err
	}
	if orgID.Valid {
		id := int(orgID.Int64)
		u.OrganizationID = &id
	}
	return &u, nil
}

// GetByID fetches a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id int) (*model.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // not found
		}
		return nil, err
	}
	return u, nil
}

// ExistingIDs returns the subset of ids that belong to a user.
func (r *UserRepository) ExistingIDs(ctx context.Context, ids []int) ([]int, error) {
	arr := make([]int64, len(ids))
	for i, id := range ids {
		arr[i] = int64(id)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM users WHERE id = ANY($1)`, pq.Array(arr))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found = append(found, id)
	}
	return found, rows.Err()
}

func (r *UserRepository) listWhere(ctx context.Context, where string, args ...any) ([]model.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (r *UserRepository) ListSuperAdmins(ctx context.Context) ([]model.User, error) {
	return r.listWhere(ctx, `role = $1`, model.RoleSuperAdmin)
}

func (r *UserRepository) ListOrgAdmins(ctx context.Context, orgID int) ([]model.User, error) {
	return r.listWhere(ctx, `role = $1 AND organization_id = $2`, model.RoleOrgAdmin, orgID)
}

var _ UserRepositoryInterface = (*UserRepository)(nil)
