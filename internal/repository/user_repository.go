package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erp-suite/ticketflow/internal/domain"
)

// UserRepository serves user reference data.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	ListActiveByDepartment(ctx context.Context, departmentID int64) ([]domain.User, error)
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository instantiates repository.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userColumns = `id, username, full_name, role, department_id, is_admin, is_active, created_at`

func (r *userRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	var user domain.User
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Username,
		&user.FullName,
		&user.Role,
		&user.DepartmentID,
		&user.IsAdmin,
		&user.IsActive,
		&user.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) ListActiveByDepartment(ctx context.Context, departmentID int64) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE department_id=$1 AND is_active ORDER BY full_name ASC`
	rows, err := r.pool.Query(ctx, query, departmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.User
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(
			&user.ID,
			&user.Username,
			&user.FullName,
			&user.Role,
			&user.DepartmentID,
			&user.IsAdmin,
			&user.IsActive,
			&user.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, user)
	}
	return result, rows.Err()
}
