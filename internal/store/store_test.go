package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-dazzeo/realm/internal/domain"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	s, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "realm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func newProject(name string) *domain.Project {
	return &domain.Project{
		Name:             name,
		UploadMethod:     domain.MethodDirect,
		UploadStatus:     domain.StatusProcessing,
		OriginalFilename: name + ".zip",
		FileSize:         128,
	}
}

func newFile(projectID int64, path string, content string) *domain.ProjectFile {
	return &domain.ProjectFile{
		ProjectID:     projectID,
		Filename:      filepath.Base(path),
		FilePath:      path,
		FileExtension: filepath.Ext(path),
		FileSize:      int64(len(content)),
		Content:       &content,
		ContentHash:   "hash-" + path,
		Language:      "cobol",
		LineCount:     1,
	}
}

func newSession(id string) *domain.UploadSession {
	return &domain.UploadSession{
		SessionID:    id,
		Status:       domain.StatusPending,
		UploadMethod: domain.MethodParser,
		ExpiresAt:    time.Now().UTC().Add(time.Hour),
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestProjectRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	desc := "payroll batch"
	p := newProject("payroll")
	p.Description = &desc
	p.ParserResponse = json.RawMessage(`{"success":true}`)
	require.NoError(t, s.CreateProject(ctx, p))
	require.NotZero(t, p.ID)
	require.NotEqual(t, uuid.Nil, p.UUID)

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "payroll", got.Name)
	require.NotNil(t, got.Description)
	assert.Equal(t, desc, *got.Description)
	assert.JSONEq(t, `{"success":true}`, string(got.ParserResponse))
	assert.Nil(t, got.ParserVersion)
	assert.WithinDuration(t, p.CreatedAt, got.CreatedAt, time.Millisecond)

	byUUID, err := s.GetProjectByUUID(ctx, p.UUID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, byUUID.ID)

	got.UploadStatus = domain.StatusCompleted
	require.NoError(t, s.UpdateProject(ctx, got))
	again, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, again.UploadStatus)

	_, err = s.GetProject(ctx, p.ID+100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProjectFileRequiresProject(t *testing.T) {
	s := openTestStore(t)
	err := s.CreateProjectFile(context.Background(), newFile(999, "a.cbl", "x"))
	assert.ErrorIs(t, err, ErrConstraint)
}

func TestListProjectsAggregatesAndFilters(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first := newProject("first")
	require.NoError(t, s.CreateProject(ctx, first))
	require.NoError(t, s.CreateProjectFile(ctx, newFile(first.ID, "a.cbl", "abcd")))
	require.NoError(t, s.CreateProjectFile(ctx, newFile(first.ID, "b.cbl", "ef")))

	second := newProject("second")
	second.UploadMethod = domain.MethodParser
	require.NoError(t, s.CreateProject(ctx, second))

	all, err := s.ListProjects(ctx, domain.ListFilter{}, domain.Page{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "newest first")
	assert.Equal(t, 0, all[0].FileCount)
	assert.Equal(t, 2, all[1].FileCount)
	assert.Equal(t, int64(6), all[1].TotalSize)

	method := domain.MethodParser
	parserOnly, err := s.ListProjects(ctx, domain.ListFilter{UploadMethod: &method}, domain.Page{})
	require.NoError(t, err)
	require.Len(t, parserOnly, 1)
	assert.Equal(t, "second", parserOnly[0].Name)

	paged, err := s.ListProjects(ctx, domain.ListFilter{}, domain.Page{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, first.ID, paged[0].ID)
}

func TestGetProjectsWithRelations(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	p := newProject("rel")
	require.NoError(t, s.CreateProject(ctx, p))
	require.NoError(t, s.CreateProjectFile(ctx, newFile(p.ID, "src/a.cbl", "one")))
	require.NoError(t, s.CreateAdditionalFile(ctx, &domain.AdditionalFile{
		ProjectID: p.ID, Filename: "notes.md", FilePath: "/tmp/notes.md", FileSize: 3, MimeType: "text/markdown",
	}))

	views, err := s.GetProjectsWithRelations(ctx, []int64{p.ID}, RelFiles)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Len(t, views[0].Files, 1)
	assert.Empty(t, views[0].AdditionalFiles)

	views, err = s.GetProjectsWithRelations(ctx, []int64{p.ID, p.ID + 1}, RelAll)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Len(t, views[0].Files, 1)
	require.Len(t, views[0].AdditionalFiles, 1)
	assert.Equal(t, "notes.md", views[0].AdditionalFiles[0].Filename)
}

func TestDeleteProjectRemovesChildren(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	p := newProject("doomed")
	require.NoError(t, s.CreateProject(ctx, p))
	f := newFile(p.ID, "a.cbl", "x")
	require.NoError(t, s.CreateProjectFile(ctx, f))
	extra := &domain.AdditionalFile{ProjectID: p.ID, Filename: "doc.txt", FilePath: "/data/doc.txt"}
	require.NoError(t, s.CreateAdditionalFile(ctx, extra))

	deleted, err := s.DeleteProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, deleted.Project.ID)
	assert.Equal(t, []string{"/data/doc.txt"}, deleted.ArtifactPaths)

	_, err = s.GetProjectFile(ctx, f.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetAdditionalFile(ctx, extra.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.DeleteProject(ctx, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdditionalFileUpdate(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	p := newProject("extras")
	require.NoError(t, s.CreateProject(ctx, p))
	f := &domain.AdditionalFile{ProjectID: p.ID, Filename: "design.pdf", FilePath: "/x/design.pdf", MimeType: "application/pdf"}
	require.NoError(t, s.CreateAdditionalFile(ctx, f))

	desc := "design notes"
	f.Description = &desc
	require.NoError(t, s.UpdateAdditionalFile(ctx, f))

	got, err := s.GetAdditionalFile(ctx, f.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Description)
	assert.Equal(t, desc, *got.Description)
	assert.Equal(t, "/x/design.pdf", got.FilePath)

	removed, err := s.DeleteAdditionalFile(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "/x/design.pdf", removed.FilePath)

	list, err := s.ListAdditionalFiles(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSessionTransitions(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sess := newSession("sess-1")
	require.NoError(t, s.CreateSession(ctx, sess))

	sess.Status = domain.StatusProcessing
	sess.TotalFiles = 2
	sess.Warnings = append(sess.Warnings, "skipped 1 file")
	require.NoError(t, s.UpdateSession(ctx, sess))

	p := newProject("done")
	require.NoError(t, s.CreateProject(ctx, p))
	sess.Status = domain.StatusCompleted
	sess.ProcessedFiles = 2
	sess.ProjectID = &p.ID
	require.NoError(t, s.UpdateSession(ctx, sess))

	got, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, []string{"skipped 1 file"}, got.Warnings)
	assert.Equal(t, []string{}, got.Errors)
	require.NotNil(t, got.ProjectID)
	assert.Equal(t, p.ID, *got.ProjectID)

	got.Status = domain.StatusFailed
	assert.ErrorIs(t, s.UpdateSession(ctx, got), ErrInvalidTransition)

	got.Status = domain.StatusProcessing
	assert.ErrorIs(t, s.UpdateSession(ctx, got), ErrInvalidTransition)

	missing := newSession("missing")
	missing.Status = domain.StatusFailed
	assert.ErrorIs(t, s.UpdateSession(ctx, missing), ErrNotFound)
}

func TestSessionCounterInvariantEnforced(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sess := newSession("counters")
	require.NoError(t, s.CreateSession(ctx, sess))

	sess.Status = domain.StatusProcessing
	sess.TotalFiles = 1
	sess.ProcessedFiles = 1
	sess.FailedFiles = 1
	err := s.UpdateSession(ctx, sess)
	assert.ErrorIs(t, err, ErrConstraint)
}

func TestCompletedSessionRequiresProject(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sess := newSession("orphan")
	sess.Status = domain.StatusProcessing
	require.NoError(t, s.CreateSession(ctx, sess))

	sess.Status = domain.StatusCompleted
	assert.ErrorIs(t, s.UpdateSession(ctx, sess), ErrConstraint)
}

func TestListStaleSessions(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now().UTC()

	stale := newSession("stale")
	stale.ExpiresAt = now.Add(-time.Minute)
	require.NoError(t, s.CreateSession(ctx, stale))

	fresh := newSession("fresh")
	require.NoError(t, s.CreateSession(ctx, fresh))

	expiredButFailed := newSession("failed")
	expiredButFailed.Status = domain.StatusFailed
	expiredButFailed.ExpiresAt = now.Add(-time.Hour)
	require.NoError(t, s.CreateSession(ctx, expiredButFailed))

	sessions, err := s.ListStaleSessions(ctx, now)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "stale", sessions[0].SessionID)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	boom := errors.New("boom")
	var id int64
	err := s.WithTx(ctx, func(tx Tx) error {
		p := newProject("ghost")
		if err := tx.CreateProject(ctx, p); err != nil {
			return err
		}
		id = p.ID
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetProject(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSavepointIsolatesFailedWrite(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	var projectID int64
	err := s.WithTx(ctx, func(tx Tx) error {
		p := newProject("partial")
		if err := tx.CreateProject(ctx, p); err != nil {
			return err
		}
		projectID = p.ID

		require.NoError(t, tx.Savepoint(ctx, func(sp Tx) error {
			return sp.CreateProjectFile(ctx, newFile(p.ID, "good.cbl", "ok"))
		}))
		spErr := tx.Savepoint(ctx, func(sp Tx) error {
			if err := sp.CreateProjectFile(ctx, newFile(p.ID, "bad.cbl", "written then undone")); err != nil {
				return err
			}
			return errors.New("persist failed")
		})
		require.Error(t, spErr)
		return nil
	})
	require.NoError(t, err)

	files, err := s.ListProjectFiles(ctx, projectID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "good.cbl", files[0].FilePath)
}

func TestRebindNumbersPlaceholders(t *testing.T) {
	d := dialect{numbered: true}
	assert.Equal(t, "SELECT $1, $2 WHERE a IN ($3,$4)", d.rebind("SELECT ?, ? WHERE a IN ("+makePlaceholders(2)+")"))
	assert.Equal(t, "SELECT ?", dialect{}.rebind("SELECT ?"))
}
