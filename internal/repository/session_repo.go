// Package repository persists terminal session records.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/remote-agent-terminal/webterm/internal/model"
	"github.com/remote-agent-terminal/webterm/internal/protocol"
)

const sessionColumns = `id, command, env, status, exit_code, pid, term_cols, term_rows, remote_addr, log_file_path, preview_line, created_at, updated_at`

// SessionRepository provides data access for sessions.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session.
func (r *SessionRepository) Create(ctx context.Context, s *model.Session) error {
	envJSON, err := s.EnvToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize env: %w", err)
	}

	query := `INSERT INTO sessions (` + sessionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		s.ID,
		s.Command,
		envJSON,
		s.Status,
		s.ExitCode,
		s.PID,
		s.Cols,
		s.Rows,
		s.RemoteAddr,
		s.LogFilePath,
		s.PreviewLine,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`

	s, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// List returns sessions newest first. An empty status lists all of them.
func (r *SessionRepository) List(ctx context.Context, status model.SessionStatus) ([]*model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*model.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// Delete removes a session.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return expectOne(result)
}

// UpdateStatus records a status change and, when known, the exit code.
func (r *SessionRepository) UpdateStatus(ctx context.Context, id string, status model.SessionStatus, exitCode *int) error {
	query := `UPDATE sessions SET status = ?, exit_code = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, status, exitCode, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return expectOne(result)
}

// UpdatePID records the process ID.
func (r *SessionRepository) UpdatePID(ctx context.Context, id string, pid int) error {
	query := `UPDATE sessions SET pid = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, pid, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update pid: %w", err)
	}
	return expectOne(result)
}

// UpdateGeometry records the terminal size last applied.
func (r *SessionRepository) UpdateGeometry(ctx context.Context, id string, g protocol.Geometry) error {
	query := `UPDATE sessions SET term_cols = ?, term_rows = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, g.Cols, g.Rows, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update geometry: %w", err)
	}
	return expectOne(result)
}

// UpdatePreviewLine updates the preview line of a session.
func (r *SessionRepository) UpdatePreviewLine(ctx context.Context, id string, previewLine string) error {
	query := `UPDATE sessions SET preview_line = ?, updated_at = ? WHERE id = ?`

	if _, err := r.db.ExecContext(ctx, query, previewLine, time.Now(), id); err != nil {
		return fmt.Errorf("failed to update preview line: %w", err)
	}
	return nil
}

// CountActive returns the number of running sessions.
func (r *SessionRepository) CountActive(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE status = ?`, model.SessionStatusRunning).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}
	return count, nil
}

// CloseStale marks sessions still recorded as running as closed. Used at
// startup, when no process from a previous run can still be attached.
func (r *SessionRepository) CloseStale(ctx context.Context) (int64, error) {
	query := `UPDATE sessions SET status = ?, updated_at = ? WHERE status = ?`

	result, err := r.db.ExecContext(ctx, query, model.SessionStatusClosed, time.Now(), model.SessionStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to close stale sessions: %w", err)
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*model.Session, error) {
	s := &model.Session{}
	var (
		envJSON     sql.NullString
		exitCode    sql.NullInt64
		pid         sql.NullInt64
		remoteAddr  sql.NullString
		logFilePath sql.NullString
		previewLine sql.NullString
	)

	err := row.Scan(
		&s.ID,
		&s.Command,
		&envJSON,
		&s.Status,
		&exitCode,
		&pid,
		&s.Cols,
		&s.Rows,
		&remoteAddr,
		&logFilePath,
		&previewLine,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if envJSON.Valid {
		if err := s.EnvFromJSON(envJSON.String); err != nil {
			return nil, fmt.Errorf("failed to parse env: %w", err)
		}
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		s.ExitCode = &code
	}
	if pid.Valid {
		p := int(pid.Int64)
		s.PID = &p
	}
	s.RemoteAddr = remoteAddr.String
	s.LogFilePath = logFilePath.String
	s.PreviewLine = previewLine.String

	return s, nil
}

func expectOne(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return model.ErrSessionNotFound
	}
	return nil
}
