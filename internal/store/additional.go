package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/p-dazzeo/realm/internal/domain"
)

const additionalColumns = `id, uuid, project_id, filename, file_path, file_size,
	mime_type, content_hash, description, created_at, updated_at`

func (q *queries) CreateAdditionalFile(ctx context.Context, f *domain.AdditionalFile) error {
	if f.UUID == uuid.Nil {
		f.UUID = uuid.New()
	}
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	row := q.queryRow(ctx, `
		INSERT INTO additional_project_files (
			uuid, project_id, filename, file_path, file_size,
			mime_type, content_hash, description, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?)
		RETURNING id
	`,
		f.UUID, f.ProjectID, f.Filename, f.FilePath, f.FileSize,
		f.MimeType, f.ContentHash, nullableString(f.Description),
		q.d.timeArg(f.CreatedAt), q.d.timeArg(f.UpdatedAt),
	)
	if err := row.Scan(&f.ID); err != nil {
		return fmt.Errorf("insert additional file: %w", q.d.wrap(err))
	}
	return nil
}

func (q *queries) GetAdditionalFile(ctx context.Context, id int64) (*domain.AdditionalFile, error) {
	row := q.queryRow(ctx, `SELECT `+additionalColumns+` FROM additional_project_files WHERE id = ?`, id)
	f, err := scanAdditionalFile(row)
	if err != nil {
		return nil, notFound(err)
	}
	return f, nil
}

func (q *queries) ListAdditionalFiles(ctx context.Context, projectID int64) ([]domain.AdditionalFile, error) {
	rows, err := q.query(ctx, `SELECT `+additionalColumns+` FROM additional_project_files WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list additional files: %w", err)
	}
	defer rows.Close()

	files := []domain.AdditionalFile{}
	for rows.Next() {
		f, err := scanAdditionalFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

// UpdateAdditionalFile rewrites the mutable metadata of an additional file.
func (q *queries) UpdateAdditionalFile(ctx context.Context, f *domain.AdditionalFile) error {
	f.UpdatedAt = time.Now().UTC()
	res, err := q.exec(ctx, `
		UPDATE additional_project_files
		SET filename = ?, description = ?, updated_at = ?
		WHERE id = ?
	`, f.Filename, nullableString(f.Description), q.d.timeArg(f.UpdatedAt), f.ID)
	if err != nil {
		return fmt.Errorf("update additional file: %w", err)
	}
	return requireAffected(res)
}

// DeleteAdditionalFile removes the row and returns it so the caller can
// remove the file on disk.
func (q *queries) DeleteAdditionalFile(ctx context.Context, id int64) (*domain.AdditionalFile, error) {
	f, err := q.GetAdditionalFile(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := q.exec(ctx, `DELETE FROM additional_project_files WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("delete additional file: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return f, nil
}

func scanAdditionalFile(row scanner) (*domain.AdditionalFile, error) {
	var (
		f           domain.AdditionalFile
		description sql.NullString
		created     dbTime
		updated     dbTime
	)
	if err := row.Scan(
		&f.ID, &f.UUID, &f.ProjectID, &f.Filename, &f.FilePath, &f.FileSize,
		&f.MimeType, &f.ContentHash, &description, &created, &updated,
	); err != nil {
		return nil, err
	}
	f.Description = stringPtr(description)
	f.CreatedAt = created.Time
	f.UpdatedAt = updated.Time
	return &f, nil
}
