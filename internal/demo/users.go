package demo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/Plawn/r2e-sub001/pkg/errors"
)

// User is a directory entry.
type User struct {
	ID    int64  `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Email string `db:"email" json:"email"`
}

// CreateUserRequest is the body of POST /users.
type CreateUserRequest struct {
	Name  string `json:"name" validate:"required,min=2"`
	Email string `json:"email" validate:"required,email"`
}

// UserCreated is emitted after a user is inserted.
type UserCreated struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UserRepo reads and writes the users table.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

func (r *UserRepo) Get(ctx context.Context, id int64) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, `SELECT id, name, email FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("USER_NOT_FOUND", "User not found").Build()
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to load user")
	}
	return &u, nil
}

func (r *UserRepo) List(ctx context.Context) ([]User, error) {
	users := []User{}
	if err := r.db.SelectContext(ctx, &users, `SELECT id, name, email FROM users ORDER BY id`); err != nil {
		return nil, apperrors.Wrap(err, "failed to list users")
	}
	return users, nil
}

// Insert runs inside the request transaction.
func (r *UserRepo) Insert(ctx context.Context, tx *sqlx.Tx, req CreateUserRequest) (*User, error) {
	u := User{Name: req.Name, Email: req.Email}
	row := tx.QueryRowxContext(ctx, `INSERT INTO users (name, email) VALUES ($1, $2) RETURNING id`, req.Name, req.Email)
	if err := row.Scan(&u.ID); err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return &u, nil
}

// DBCheck reports database reachability to the health plugin.
type DBCheck struct {
	DB *sqlx.DB
}

func (c *DBCheck) Name() string { return "database" }

func (c *DBCheck) Check(ctx context.Context) error { return c.DB.PingContext(ctx) }

// Stats counts background activity.
type Stats struct {
	heartbeats atomic.Int64
	created    atomic.Int64
}

func (s *Stats) Heartbeats() int64 { return s.heartbeats.Load() }
func (s *Stats) Created() int64    { return s.created.Load() }
