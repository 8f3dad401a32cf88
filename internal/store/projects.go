package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/p-dazzeo/realm/internal/domain"
)

const projectColumns = `id, uuid, name, description, upload_method, upload_status,
	original_filename, file_size, parser_response, parser_version, created_at, updated_at`

func (q *queries) CreateProject(ctx context.Context, p *domain.Project) error {
	if p.UUID == uuid.Nil {
		p.UUID = uuid.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt

	row := q.queryRow(ctx, `
		INSERT INTO projects (
			uuid, name, description, upload_method, upload_status,
			original_filename, file_size, parser_response, parser_version,
			created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?)
		RETURNING id
	`,
		p.UUID, p.Name, nullableString(p.Description), string(p.UploadMethod), string(p.UploadStatus),
		p.OriginalFilename, p.FileSize, nullableJSON(p.ParserResponse), nullableString(p.ParserVersion),
		q.d.timeArg(p.CreatedAt), q.d.timeArg(p.UpdatedAt),
	)
	if err := row.Scan(&p.ID); err != nil {
		return fmt.Errorf("insert project: %w", q.d.wrap(err))
	}
	return nil
}

func (q *queries) GetProject(ctx context.Context, id int64) (*domain.Project, error) {
	row := q.queryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (q *queries) GetProjectByUUID(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	row := q.queryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE uuid = ?`, id)
	p, err := scanProject(row)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (q *queries) GetProjectsWithRelations(ctx context.Context, ids []int64, rel Relations) ([]domain.ProjectView, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	in := makePlaceholders(len(ids))

	rows, err := q.query(ctx, `SELECT `+projectColumns+` FROM projects WHERE id IN (`+in+`) ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	var views []domain.ProjectView
	index := make(map[int64]int, len(ids))
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[p.ID] = len(views)
		views = append(views, domain.ProjectView{Project: *p})
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return views, nil
	}

	if rel.Has(RelFiles) {
		rows, err := q.query(ctx, `SELECT `+fileColumns+` FROM project_files WHERE project_id IN (`+in+`) ORDER BY id`, args...)
		if err != nil {
			return nil, fmt.Errorf("query project files: %w", err)
		}
		for rows.Next() {
			f, err := scanProjectFile(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			if i, ok := index[f.ProjectID]; ok {
				views[i].Files = append(views[i].Files, *f)
			}
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	if rel.Has(RelAdditionalFiles) {
		rows, err := q.query(ctx, `SELECT `+additionalColumns+` FROM additional_project_files WHERE project_id IN (`+in+`) ORDER BY id`, args...)
		if err != nil {
			return nil, fmt.Errorf("query additional files: %w", err)
		}
		for rows.Next() {
			f, err := scanAdditionalFile(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			if i, ok := index[f.ProjectID]; ok {
				views[i].AdditionalFiles = append(views[i].AdditionalFiles, *f)
			}
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return views, nil
}

func (q *queries) ListProjects(ctx context.Context, filter domain.ListFilter, page domain.Page) ([]domain.ProjectSummary, error) {
	page = page.Normalize()

	query := `
		SELECT p.id, p.uuid, p.name, p.description, p.upload_method, p.upload_status,
		       p.original_filename, p.file_size, p.created_at,
		       COUNT(f.id), CAST(COALESCE(SUM(f.file_size), 0) AS BIGINT)
		FROM projects p
		LEFT JOIN project_files f ON f.project_id = p.id
	`
	var args []any
	if filter.UploadMethod != nil {
		query += ` WHERE p.upload_method = ?`
		args = append(args, string(*filter.UploadMethod))
	}
	query += `
		GROUP BY p.id, p.uuid, p.name, p.description, p.upload_method, p.upload_status,
		         p.original_filename, p.file_size, p.created_at
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT ? OFFSET ?
	`
	args = append(args, page.Limit, page.Offset)

	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	out := []domain.ProjectSummary{}
	for rows.Next() {
		var (
			s           domain.ProjectSummary
			description sql.NullString
			method      string
			status      string
			created     dbTime
		)
		if err := rows.Scan(
			&s.ID, &s.UUID, &s.Name, &description, &method, &status,
			&s.OriginalFilename, &s.FileSize, &created,
			&s.FileCount, &s.TotalSize,
		); err != nil {
			return nil, err
		}
		s.Description = stringPtr(description)
		s.UploadMethod = domain.UploadMethod(method)
		s.UploadStatus = domain.UploadStatus(status)
		s.CreatedAt = created.Time
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q *queries) UpdateProject(ctx context.Context, p *domain.Project) error {
	p.UpdatedAt = time.Now().UTC()
	res, err := q.exec(ctx, `
		UPDATE projects
		SET name = ?, description = ?, upload_method = ?, upload_status = ?,
		    original_filename = ?, file_size = ?, parser_response = ?, parser_version = ?,
		    updated_at = ?
		WHERE id = ?
	`,
		p.Name, nullableString(p.Description), string(p.UploadMethod), string(p.UploadStatus),
		p.OriginalFilename, p.FileSize, nullableJSON(p.ParserResponse), nullableString(p.ParserVersion),
		q.d.timeArg(p.UpdatedAt), p.ID,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return requireAffected(res)
}

// DeleteProject deletes children explicitly before the parent; the cascade
// on the foreign keys is a backstop.
func (q *queries) DeleteProject(ctx context.Context, id int64) (*DeletedProject, error) {
	p, err := q.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := q.query(ctx, `SELECT file_path FROM additional_project_files WHERE project_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query artifact paths: %w", err)
	}
	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return nil, err
		}
		paths = append(paths, path)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := q.exec(ctx, `DELETE FROM project_files WHERE project_id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete project files: %w", err)
	}
	if _, err := q.exec(ctx, `DELETE FROM additional_project_files WHERE project_id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete additional files: %w", err)
	}
	res, err := q.exec(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("delete project: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return &DeletedProject{Project: *p, ArtifactPaths: paths}, nil
}

func scanProject(row scanner) (*domain.Project, error) {
	var (
		p              domain.Project
		description    sql.NullString
		method         string
		status         string
		parserResponse []byte
		parserVersion  sql.NullString
		created        dbTime
		updated        dbTime
	)
	if err := row.Scan(
		&p.ID, &p.UUID, &p.Name, &description, &method, &status,
		&p.OriginalFilename, &p.FileSize, &parserResponse, &parserVersion,
		&created, &updated,
	); err != nil {
		return nil, err
	}
	p.Description = stringPtr(description)
	p.UploadMethod = domain.UploadMethod(method)
	p.UploadStatus = domain.UploadStatus(status)
	if len(parserResponse) > 0 {
		p.ParserResponse = json.RawMessage(parserResponse)
	}
	p.ParserVersion = stringPtr(parserVersion)
	p.CreatedAt = created.Time
	p.UpdatedAt = updated.Time
	return &p, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
