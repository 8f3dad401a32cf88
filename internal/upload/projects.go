package upload

import (
	"context"
	"errors"

	"github.com/p-dazzeo/realm/internal/apperr"
	"github.com/p-dazzeo/realm/internal/cache"
	"github.com/p-dazzeo/realm/internal/domain"
	"github.com/p-dazzeo/realm/internal/parser"
	"github.com/p-dazzeo/realm/internal/store"
)

const (
	parserStatusDisabled = "disabled"
	sessionExpiredError  = "session expired before completion"
)

// GetSession returns the progress view of an upload session.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.UploadSessionView, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeErr("get session", "session", sessionID, err)
	}
	view := domain.NewSessionView(*sess)
	return &view, nil
}

// ListProjects returns one page of project summaries, newest first.
func (s *Service) ListProjects(ctx context.Context, filter domain.ListFilter, page domain.Page, useCache bool) ([]domain.ProjectSummary, error) {
	if filter.UploadMethod != nil && !filter.UploadMethod.Valid() {
		return nil, apperr.Validation("upload_method must be parser or direct")
	}
	var (
		list []domain.ProjectSummary
		err  error
	)
	if useCache {
		list, err = s.store.ListProjectsCached(ctx, filter, page, cache.Options{TTL: s.cfg.CacheTTL})
	} else {
		list, err = s.store.ListProjects(ctx, filter, page)
	}
	if err != nil {
		return nil, apperr.Internal("list projects", err)
	}
	return list, nil
}

// GetProject returns a project, with its files and additional files when
// includeFiles is set.
func (s *Service) GetProject(ctx context.Context, id int64, includeFiles bool) (*domain.ProjectView, error) {
	if !includeFiles {
		p, err := s.store.GetProject(ctx, id)
		if err != nil {
			return nil, storeErr("get project", "project", id, err)
		}
		return &domain.ProjectView{Project: *p}, nil
	}

	views, err := s.store.GetProjectsWithRelations(ctx, []int64{id}, store.RelAll)
	if err != nil {
		return nil, storeErr("get project", "project", id, err)
	}
	if len(views) == 0 {
		return nil, apperr.NotFound("project", id)
	}
	view := views[0]
	if view.Files == nil {
		view.Files = []domain.ProjectFile{}
	}
	if view.AdditionalFiles == nil {
		view.AdditionalFiles = []domain.AdditionalFile{}
	}
	return &view, nil
}

// DeleteProject removes a project with its files, then its on-disk artifacts.
// Artifact cleanup failures are logged; the rows are already gone.
func (s *Service) DeleteProject(ctx context.Context, id int64) error {
	deleted, err := s.store.DeleteProject(ctx, id)
	if err != nil {
		return storeErr("delete project", "project", id, err)
	}
	if s.artifacts != nil {
		for _, path := range deleted.ArtifactPaths {
			if err := s.artifacts.Remove(path); err != nil {
				s.logger.Warn("project.artifact_cleanup_failed", "project_id", id, "path", path, "error", err)
			}
		}
		if err := s.artifacts.RemoveProject(deleted.Project.UUID); err != nil {
			s.logger.Warn("project.artifact_cleanup_failed", "project_id", id, "error", err)
		}
	}
	s.logger.Info("project.deleted", "project_id", id, "artifacts", len(deleted.ArtifactPaths))
	return nil
}

// TestParserConnectivity probes the parser service outside of any upload.
func (s *Service) TestParserConnectivity(ctx context.Context) domain.ParserConnectivity {
	out := domain.ParserConnectivity{
		Enabled: s.cfg.ParserEnabled,
		URL:     s.cfg.ParserURL,
		Status:  parserStatusDisabled,
	}
	if s.parser == nil {
		out.Detail = "parser integration is disabled"
		return out
	}
	h := s.parser.Health(ctx)
	out.Available = h.Available
	out.Status = h.Status
	out.Detail = h.Detail
	if h.URL != "" {
		out.URL = h.URL
	}
	if !out.Available && out.Status == "" {
		out.Status = parser.StatusUnreachable
	}
	return out
}

// StaleSessions lists sessions that expired before reaching a terminal state.
func (s *Service) StaleSessions(ctx context.Context) ([]domain.UploadSession, error) {
	sessions, err := s.store.ListStaleSessions(ctx, s.now().UTC())
	if err != nil {
		return nil, apperr.Internal("list stale sessions", err)
	}
	return sessions, nil
}

// ReapStaleSessions fails every expired non-terminal session and reports how
// many were changed. Sessions that finished concurrently are left alone.
func (s *Service) ReapStaleSessions(ctx context.Context) (int, error) {
	sessions, err := s.StaleSessions(ctx)
	if err != nil {
		return 0, err
	}
	reaped := 0
	for i := range sessions {
		sess := &sessions[i]
		sess.Status = domain.StatusFailed
		sess.Errors = append(sess.Errors, sessionExpiredError)
		if err := s.store.UpdateSession(ctx, sess); err != nil {
			if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrNotFound) {
				continue
			}
			return reaped, apperr.Internal("reap session", err)
		}
		reaped++
		s.logger.Info("session.reaped", "session_id", sess.SessionID)
	}
	return reaped, nil
}
