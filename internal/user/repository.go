// Package user provides read-side user lookups for the purchase core.
package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrUserNotFound is returned when no user matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// User is the subset of account data the purchase core reads.
type User struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// Repository defines user lookups.
type Repository interface {
	GetByID(ctx context.Context, id string) (*User, error)

	// FindByEmail matches users by email, case-insensitively and allowing
	// partial matches. Used only by the webhook last-resort path, where the
	// Stripe customer email may differ in case or carry a plus-suffix.
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// InMemoryRepository implements Repository with in-memory storage.
type InMemoryRepository struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewInMemoryRepository creates a new in-memory user repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{users: make(map[string]*User)}
}

// Insert adds a user. Test/seed helper.
func (r *InMemoryRepository) Insert(u *User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *u
	r.users[u.ID] = &copied
}

// GetByID retrieves a user by ID.
func (r *InMemoryRepository) GetByID(_ context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

// FindByEmail matches a user by email, case-insensitive partial match.
func (r *InMemoryRepository) FindByEmail(_ context.Context, email string) (*User, error) {
	if email == "" {
		return nil, ErrUserNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	needle := strings.ToLower(email)
	for _, u := range r.users {
		stored := strings.ToLower(u.Email)
		if strings.Contains(stored, needle) || strings.Contains(needle, stored) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, ErrUserNotFound
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new Postgres user repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID retrieves a user by ID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT id, email, name, created_at FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// FindByEmail matches a user by email with ILIKE. Ordered by creation so
// the match is deterministic when several rows qualify.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	if email == "" {
		return nil, ErrUserNotFound
	}
	query := `
		SELECT id, email, name, created_at
		FROM users
		WHERE email ILIKE '%' || $1 || '%'
		ORDER BY created_at ASC
		LIMIT 1
	`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var createdAt time.Time
	err := row.Scan(&u.ID, &u.Email, &u.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.CreatedAt = &createdAt
	return &u, nil
}
