package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sync-editor/backend/internal/model"
)

// ArchiveRepository records the final state of evicted sessions.
type ArchiveRepository struct {
	db *sql.DB
}

// NewArchiveRepository creates a new ArchiveRepository.
func NewArchiveRepository(db *sql.DB) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

// Save inserts one archive row for sess.
func (r *ArchiveRepository) Save(ctx context.Context, sess model.Session, endedAt time.Time) error {
	query := `
		INSERT INTO session_archive (session_id, content, language, last_modified, ended_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		sess.ID,
		sess.Content,
		sess.Language,
		sess.LastModified.UTC(),
		endedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}

	return nil
}

// ListBySession returns the archives of a session, newest first.
func (r *ArchiveRepository) ListBySession(ctx context.Context, sessionID string) ([]*model.ArchivedSession, error) {
	query := `
		SELECT id, session_id, content, language, last_modified, ended_at
		FROM session_archive
		WHERE session_id = ?
		ORDER BY ended_at DESC, id DESC
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}
	defer rows.Close()

	var archives []*model.ArchivedSession
	for rows.Next() {
		a := &model.ArchivedSession{}
		err := rows.Scan(
			&a.ID,
			&a.SessionID,
			&a.Content,
			&a.Language,
			&a.LastModified,
			&a.EndedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan archive: %w", err)
		}
		archives = append(archives, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating archives: %w", err)
	}

	return archives, nil
}

// Latest returns the most recent archive of a session.
func (r *ArchiveRepository) Latest(ctx context.Context, sessionID string) (*model.ArchivedSession, error) {
	query := `
		SELECT id, session_id, content, language, last_modified, ended_at
		FROM session_archive
		WHERE session_id = ?
		ORDER BY ended_at DESC, id DESC
		LIMIT 1
	`

	a := &model.ArchivedSession{}
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&a.ID,
		&a.SessionID,
		&a.Content,
		&a.Language,
		&a.LastModified,
		&a.EndedAt,
	)
	if err == sql.ErrNoRows {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get archive: %w", err)
	}

	return a, nil
}
