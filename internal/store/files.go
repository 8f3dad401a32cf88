package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/p-dazzeo/realm/internal/domain"
)

const fileColumns = `id, project_id, filename, file_path, file_extension, file_size,
	content, content_hash, parsed_data, language, line_count, is_binary, created_at, updated_at`

func (q *queries) CreateProjectFile(ctx context.Context, f *domain.ProjectFile) error {
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	var language any
	if f.Language != "" {
		language = f.Language
	}

	row := q.queryRow(ctx, `
		INSERT INTO project_files (
			project_id, filename, file_path, file_extension, file_size,
			content, content_hash, parsed_data, language, line_count, is_binary,
			created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		RETURNING id
	`,
		f.ProjectID, f.Filename, f.FilePath, f.FileExtension, f.FileSize,
		nullableString(f.Content), f.ContentHash, nullableJSON(f.ParsedData), language, f.LineCount, f.IsBinary,
		q.d.timeArg(f.CreatedAt), q.d.timeArg(f.UpdatedAt),
	)
	if err := row.Scan(&f.ID); err != nil {
		return fmt.Errorf("insert project file %s: %w", f.FilePath, q.d.wrap(err))
	}
	return nil
}

func (q *queries) GetProjectFile(ctx context.Context, id int64) (*domain.ProjectFile, error) {
	row := q.queryRow(ctx, `SELECT `+fileColumns+` FROM project_files WHERE id = ?`, id)
	f, err := scanProjectFile(row)
	if err != nil {
		return nil, notFound(err)
	}
	return f, nil
}

func (q *queries) ListProjectFiles(ctx context.Context, projectID int64) ([]domain.ProjectFile, error) {
	rows, err := q.query(ctx, `SELECT `+fileColumns+` FROM project_files WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project files: %w", err)
	}
	defer rows.Close()

	files := []domain.ProjectFile{}
	for rows.Next() {
		f, err := scanProjectFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

func (q *queries) DeleteProjectFile(ctx context.Context, id int64) error {
	res, err := q.exec(ctx, `DELETE FROM project_files WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete project file: %w", err)
	}
	return requireAffected(res)
}

func scanProjectFile(row scanner) (*domain.ProjectFile, error) {
	var (
		f          domain.ProjectFile
		content    sql.NullString
		parsedData []byte
		language   sql.NullString
		created    dbTime
		updated    dbTime
	)
	if err := row.Scan(
		&f.ID, &f.ProjectID, &f.Filename, &f.FilePath, &f.FileExtension, &f.FileSize,
		&content, &f.ContentHash, &parsedData, &language, &f.LineCount, &f.IsBinary,
		&created, &updated,
	); err != nil {
		return nil, err
	}
	f.Content = stringPtr(content)
	if len(parsedData) > 0 {
		f.ParsedData = json.RawMessage(parsedData)
	}
	f.Language = language.String
	f.CreatedAt = created.Time
	f.UpdatedAt = updated.Time
	return &f, nil
}
