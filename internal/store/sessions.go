package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/p-dazzeo/realm/internal/domain"
)

const sessionColumns = `id, session_id, status, upload_method, total_files, processed_files,
	failed_files, errors, warnings, project_id, created_at, updated_at, expires_at`

func (q *queries) CreateSession(ctx context.Context, s *domain.UploadSession) error {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = s.CreatedAt
	if s.Errors == nil {
		s.Errors = []string{}
	}
	if s.Warnings == nil {
		s.Warnings = []string{}
	}
	errs, err := encodeList(s.Errors)
	if err != nil {
		return err
	}
	warnings, err := encodeList(s.Warnings)
	if err != nil {
		return err
	}

	row := q.queryRow(ctx, `
		INSERT INTO upload_sessions (
			session_id, status, upload_method, total_files, processed_files, failed_files,
			errors, warnings, project_id, created_at, updated_at, expires_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		RETURNING id
	`,
		s.SessionID, string(s.Status), string(s.UploadMethod), s.TotalFiles, s.ProcessedFiles, s.FailedFiles,
		errs, warnings, nullableInt64(s.ProjectID),
		q.d.timeArg(s.CreatedAt), q.d.timeArg(s.UpdatedAt), q.d.timeArg(s.ExpiresAt),
	)
	if err := row.Scan(&s.ID); err != nil {
		return fmt.Errorf("insert upload session: %w", q.d.wrap(err))
	}
	return nil
}

func (q *queries) GetSession(ctx context.Context, sessionID string) (*domain.UploadSession, error) {
	row := q.queryRow(ctx, `SELECT `+sessionColumns+` FROM upload_sessions WHERE session_id = ?`, sessionID)
	s, err := scanSession(row)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// UpdateSession only matches rows whose current status may move to s.Status,
// so a terminal session can never be rewritten.
func (q *queries) UpdateSession(ctx context.Context, s *domain.UploadSession) error {
	preds := s.Status.Predecessors()
	if len(preds) == 0 {
		return ErrInvalidTransition
	}
	errs, err := encodeList(s.Errors)
	if err != nil {
		return err
	}
	warnings, err := encodeList(s.Warnings)
	if err != nil {
		return err
	}
	updated := time.Now().UTC()

	args := []any{
		string(s.Status), string(s.UploadMethod), s.TotalFiles, s.ProcessedFiles, s.FailedFiles,
		errs, warnings, nullableInt64(s.ProjectID), q.d.timeArg(updated), s.SessionID,
	}
	for _, p := range preds {
		args = append(args, string(p))
	}
	res, err := q.exec(ctx, `
		UPDATE upload_sessions
		SET status = ?, upload_method = ?, total_files = ?, processed_files = ?, failed_files = ?,
		    errors = ?, warnings = ?, project_id = ?, updated_at = ?
		WHERE session_id = ? AND status IN (`+makePlaceholders(len(preds))+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("update upload session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var count int
		if err := q.queryRow(ctx, `SELECT COUNT(1) FROM upload_sessions WHERE session_id = ?`, s.SessionID).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrInvalidTransition
	}
	s.UpdatedAt = updated
	return nil
}

func (q *queries) ListStaleSessions(ctx context.Context, now time.Time) ([]domain.UploadSession, error) {
	rows, err := q.query(ctx, `
		SELECT `+sessionColumns+`
		FROM upload_sessions
		WHERE status IN (?, ?) AND expires_at < ?
		ORDER BY expires_at, id
	`, string(domain.StatusPending), string(domain.StatusProcessing), q.d.timeArg(now))
	if err != nil {
		return nil, fmt.Errorf("list stale sessions: %w", err)
	}
	defer rows.Close()

	sessions := []domain.UploadSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func scanSession(row scanner) (*domain.UploadSession, error) {
	var (
		s         domain.UploadSession
		status    string
		method    string
		errs      string
		warnings  string
		projectID sql.NullInt64
		created   dbTime
		updated   dbTime
		expires   dbTime
	)
	if err := row.Scan(
		&s.ID, &s.SessionID, &status, &method, &s.TotalFiles, &s.ProcessedFiles,
		&s.FailedFiles, &errs, &warnings, &projectID, &created, &updated, &expires,
	); err != nil {
		return nil, err
	}
	s.Status = domain.UploadStatus(status)
	s.UploadMethod = domain.UploadMethod(method)
	var err error
	if s.Errors, err = decodeList(errs); err != nil {
		return nil, fmt.Errorf("decode session errors: %w", err)
	}
	if s.Warnings, err = decodeList(warnings); err != nil {
		return nil, fmt.Errorf("decode session warnings: %w", err)
	}
	s.ProjectID = int64Ptr(projectID)
	s.CreatedAt = created.Time
	s.UpdatedAt = updated.Time
	s.ExpiresAt = expires.Time
	return &s, nil
}
