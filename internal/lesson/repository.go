// Package lesson provides repository implementations for lesson persistence.
package lesson

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLessonNotFound is returned when a lesson is not found.
var ErrLessonNotFound = errors.New("lesson not found")

// Repository defines methods for lesson persistence. The purchase core
// only reads lessons; Insert exists for seeding and the creator upload flow.
type Repository interface {
	Insert(ctx context.Context, l *Lesson) error
	GetByID(ctx context.Context, id string) (*Lesson, error)

	// GetByTitle returns the lesson with the exact title. Used only by the
	// webhook last-resort path to resolve a lesson from a Stripe line-item
	// description.
	GetByTitle(ctx context.Context, title string) (*Lesson, error)
}

// InMemoryRepository implements Repository with in-memory storage.
type InMemoryRepository struct {
	mu      sync.RWMutex
	lessons map[string]*Lesson
}

// NewInMemoryRepository creates a new in-memory lesson repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		lessons: make(map[string]*Lesson),
	}
}

// Insert adds a new lesson.
func (r *InMemoryRepository) Insert(_ context.Context, l *Lesson) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	now := time.Now()
	if l.CreatedAt == nil {
		l.CreatedAt = &now
	}

	copied := *l
	r.lessons[l.ID] = &copied
	return nil
}

// GetByID retrieves a lesson by ID.
func (r *InMemoryRepository) GetByID(_ context.Context, id string) (*Lesson, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.lessons[id]
	if !ok {
		return nil, ErrLessonNotFound
	}
	copied := *l
	return &copied, nil
}

// GetByTitle retrieves a lesson by exact title.
func (r *InMemoryRepository) GetByTitle(_ context.Context, title string) (*Lesson, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, l := range r.lessons {
		if l.Title == title {
			copied := *l
			return &copied, nil
		}
	}
	return nil, ErrLessonNotFound
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new Postgres lesson repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const lessonColumns = `id, creator_id, title, description, price_cents, mux_playback_id, created_at, updated_at`

// Insert adds a new lesson row.
func (r *PostgresRepository) Insert(ctx context.Context, l *Lesson) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	now := time.Now()
	if l.CreatedAt == nil {
		l.CreatedAt = &now
	}
	if l.UpdatedAt == nil {
		l.UpdatedAt = &now
	}

	query := `
		INSERT INTO lessons (` + lessonColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		l.ID, l.CreatorID, l.Title, l.Description, l.PriceCents, l.MuxPlaybackID,
		l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert lesson: %w", err)
	}
	return nil
}

// GetByID retrieves a lesson by ID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Lesson, error) {
	query := `SELECT ` + lessonColumns + ` FROM lessons WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByTitle retrieves a lesson by exact title. When several lessons share
// a title the most recent wins; the webhook fallback is best-effort anyway.
func (r *PostgresRepository) GetByTitle(ctx context.Context, title string) (*Lesson, error) {
	query := `
		SELECT ` + lessonColumns + `
		FROM lessons
		WHERE title = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, title))
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*Lesson, error) {
	var l Lesson
	var createdAt, updatedAt time.Time
	err := row.Scan(&l.ID, &l.CreatorID, &l.Title, &l.Description, &l.PriceCents,
		&l.MuxPlaybackID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrLessonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan lesson: %w", err)
	}
	l.CreatedAt = &createdAt
	l.UpdatedAt = &updatedAt
	return &l, nil
}
