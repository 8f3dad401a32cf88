package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/p-dazzeo/realm/internal/domain"
)

// Relations selects which children GetProjectsWithRelations eager-loads.
type Relations uint8

const (
	RelFiles Relations = 1 << iota
	RelAdditionalFiles
)

// RelAll loads every child collection.
const RelAll = RelFiles | RelAdditionalFiles

// Has reports whether r includes rel.
func (r Relations) Has(rel Relations) bool {
	return r&rel != 0
}

// DeletedProject describes what a project delete removed, so the caller can
// clean up on-disk artifacts once the transaction has committed.
type DeletedProject struct {
	Project       domain.Project
	ArtifactPaths []string
}

// ProjectRepository persists projects.
type ProjectRepository interface {
	CreateProject(ctx context.Context, p *domain.Project) error
	GetProject(ctx context.Context, id int64) (*domain.Project, error)
	GetProjectByUUID(ctx context.Context, id uuid.UUID) (*domain.Project, error)
	GetProjectsWithRelations(ctx context.Context, ids []int64, rel Relations) ([]domain.ProjectView, error)
	ListProjects(ctx context.Context, filter domain.ListFilter, page domain.Page) ([]domain.ProjectSummary, error)
	UpdateProject(ctx context.Context, p *domain.Project) error
	// DeleteProject removes the project and its children in one transaction.
	DeleteProject(ctx context.Context, id int64) (*DeletedProject, error)
}

// ProjectFileRepository persists extracted files. Rows are immutable once
// written; they go away with their project.
type ProjectFileRepository interface {
	CreateProjectFile(ctx context.Context, f *domain.ProjectFile) error
	GetProjectFile(ctx context.Context, id int64) (*domain.ProjectFile, error)
	ListProjectFiles(ctx context.Context, projectID int64) ([]domain.ProjectFile, error)
	DeleteProjectFile(ctx context.Context, id int64) error
}

// AdditionalFileRepository persists supplementary project files.
type AdditionalFileRepository interface {
	CreateAdditionalFile(ctx context.Context, f *domain.AdditionalFile) error
	GetAdditionalFile(ctx context.Context, id int64) (*domain.AdditionalFile, error)
	ListAdditionalFiles(ctx context.Context, projectID int64) ([]domain.AdditionalFile, error)
	UpdateAdditionalFile(ctx context.Context, f *domain.AdditionalFile) error
	DeleteAdditionalFile(ctx context.Context, id int64) (*domain.AdditionalFile, error)
}

// SessionRepository persists upload sessions.
type SessionRepository interface {
	CreateSession(ctx context.Context, s *domain.UploadSession) error
	GetSession(ctx context.Context, sessionID string) (*domain.UploadSession, error)
	// UpdateSession writes counters and status. A status change that is not
	// forward-only returns ErrInvalidTransition.
	UpdateSession(ctx context.Context, s *domain.UploadSession) error
	// ListStaleSessions returns non-terminal sessions whose expiry is before now.
	ListStaleSessions(ctx context.Context, now time.Time) ([]domain.UploadSession, error)
}

// Repositories groups every aggregate repository.
type Repositories interface {
	ProjectRepository
	ProjectFileRepository
	AdditionalFileRepository
	SessionRepository
}

// Tx is a unit of work. Writes become visible only after the enclosing
// WithTx returns nil.
type Tx interface {
	Repositories
	// Savepoint runs fn so that its writes can be undone without aborting
	// the enclosing transaction.
	Savepoint(ctx context.Context, fn func(Tx) error) error
}

// Store defines persistence behavior for projects, files and sessions.
type Store interface {
	Repositories
	WithTx(ctx context.Context, fn func(Tx) error) error
	Migrate(ctx context.Context) error
	Close() error
}
