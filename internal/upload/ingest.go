package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/p-dazzeo/realm/internal/apperr"
	"github.com/p-dazzeo/realm/internal/archive"
	"github.com/p-dazzeo/realm/internal/domain"
	"github.com/p-dazzeo/realm/internal/parser"
	"github.com/p-dazzeo/realm/internal/store"
)

const maxProjectNameLen = 255

// errAllFilesFailed aborts the ingest transaction so no empty project is left.
var errAllFilesFailed = errors.New("every file failed to persist")

// IngestRequest is one archive upload.
type IngestRequest struct {
	ProjectName string
	Description string
	Filename    string
	Data        []byte

	// stripRoot drops the single wrapper directory of a repository tarball.
	stripRoot bool
}

// IngestRepoRequest names a GitHub repository snapshot to ingest.
type IngestRepoRequest struct {
	Owner       string
	Repo        string
	Ref         string
	ProjectName string
	Description string
}

// Ingest extracts an archive, optionally enriches it through the parser
// service and persists it as a project. A failed result is returned together
// with the error that caused it whenever a session was created.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*domain.UploadResult, error) {
	const op = "ingest"
	started := s.now()

	name := strings.TrimSpace(req.ProjectName)
	if err := validateIngest(name, req); err != nil {
		return nil, err
	}

	method := domain.MethodDirect
	if s.parserEnabled() {
		method = domain.MethodParser
	}
	sess := &domain.UploadSession{
		SessionID:    uuid.NewString(),
		Status:       domain.StatusPending,
		UploadMethod: method,
		Errors:       []string{},
		Warnings:     []string{},
		CreatedAt:    started.UTC(),
		ExpiresAt:    started.UTC().Add(s.cfg.SessionTTL),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, apperr.Internal(op, err)
	}
	logger := s.logger.With("session_id", sess.SessionID, "project_name", name)
	logger.Info("upload.started", "filename", req.Filename, "size", len(req.Data), "method", method)

	extracted, err := s.extractor.Extract(ctx, req.Data, req.Filename)
	if err != nil {
		logger.Warn("upload.extraction_failed", "error", err)
		s.failSession(ctx, sess, apperr.PublicMessage(err))
		s.observe(sess, started)
		return s.failedResult(sess, apperr.PublicMessage(err)), err
	}
	s.metrics.Skipped(skippedCount(extracted))
	if req.stripRoot {
		archive.StripCommonRoot(extracted.Files)
	}

	sess.Warnings = append(sess.Warnings, extracted.Warnings...)
	sess.TotalFiles = len(extracted.Files)
	sess.Status = domain.StatusProcessing
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return nil, apperr.Internal(op, err)
	}

	var analysis *parser.Response
	if method == domain.MethodParser {
		analysis, err = s.parser.Parse(ctx, name, parserFiles(extracted.Files))
		if err != nil {
			sess.Warnings = append(sess.Warnings, "Parser failed, falling back to direct upload: "+apperr.PublicMessage(err))
			logger.Warn("parser.fallback", "error", err)
			s.metrics.ParserFallback()
			method = domain.MethodDirect
			sess.UploadMethod = method
			analysis = nil
		}
	}

	project := &domain.Project{
		Name:             name,
		UploadMethod:     method,
		UploadStatus:     domain.StatusProcessing,
		OriginalFilename: req.Filename,
		FileSize:         int64(len(req.Data)),
	}
	if desc := strings.TrimSpace(req.Description); desc != "" {
		project.Description = &desc
	}
	if analysis != nil {
		project.ParserResponse = projectAnalysis(analysis)
		if analysis.Version != "" {
			version := analysis.Version
			project.ParserVersion = &version
		}
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		return s.persist(ctx, tx, project, sess, extracted.Files, analysis)
	})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		// Left in processing; ReapStaleSessions reconciles it after expiry.
		logger.Warn("upload.cancelled", "error", ctx.Err())
		return nil, apperr.Internal(op, ctx.Err())
	case errors.Is(err, errAllFilesFailed):
		logger.Warn("upload.all_files_failed", "failed_files", sess.FailedFiles)
		s.failSession(ctx, sess, "")
		s.observe(sess, started)
		return s.failedResult(sess, fmt.Sprintf("Upload failed: all %d files failed to persist", sess.TotalFiles)), nil
	default:
		logger.Error("upload.persist_failed", "error", err)
		sess.ProcessedFiles = 0
		sess.FailedFiles = sess.TotalFiles
		sess.ProjectID = nil
		s.failSession(ctx, sess, "failed to persist project")
		s.observe(sess, started)
		return s.failedResult(sess, "failed to persist project"), apperr.Internal(op, err)
	}

	s.observe(sess, started)
	logger.Info("upload.completed",
		"project_id", project.ID,
		"method", method,
		"processed_files", sess.ProcessedFiles,
		"failed_files", sess.FailedFiles,
	)
	projectID := project.ID
	return &domain.UploadResult{
		Success:      true,
		SessionID:    sess.SessionID,
		ProjectID:    &projectID,
		UploadMethod: method,
		Message:      fmt.Sprintf("Project '%s' uploaded successfully using %s method", name, method),
		Warnings:     sess.Warnings,
	}, nil
}

// IngestRepository downloads a repository tarball and ingests it.
func (s *Service) IngestRepository(ctx context.Context, req IngestRepoRequest) (*domain.UploadResult, error) {
	if s.github == nil {
		return nil, apperr.Validation("github ingestion is not configured")
	}
	name := strings.TrimSpace(req.ProjectName)
	if name == "" {
		name = req.Repo
	}
	snapshot, err := s.github.FetchTarball(ctx, req.Owner, req.Repo, req.Ref)
	if err != nil {
		return nil, err
	}
	return s.Ingest(ctx, IngestRequest{
		ProjectName: name,
		Description: req.Description,
		Filename:    snapshot.Filename,
		Data:        snapshot.Data,
		stripRoot:   true,
	})
}

// persist writes the project and its files inside tx. Each file gets its own
// savepoint so one bad file does not abort the rest.
func (s *Service) persist(ctx context.Context, tx store.Tx, project *domain.Project, sess *domain.UploadSession, files []archive.ExtractedFile, analysis *parser.Response) error {
	if err := tx.CreateProject(ctx, project); err != nil {
		return err
	}

	for i := range files {
		f := &files[i]
		pf, err := buildProjectFile(project.ID, f)
		if err == nil {
			if analysis != nil {
				if parsed, ok := lookupAnalysis(analysis, f); ok {
					pf.ParsedData = parsed.Raw
					if parsed.Language != "" {
						pf.Language = parsed.Language
					}
				} else {
					sess.Warnings = append(sess.Warnings, "no parser data for "+f.RelativePath)
				}
			}
			if spErr := tx.Savepoint(ctx, func(sp store.Tx) error {
				return sp.CreateProjectFile(ctx, pf)
			}); spErr != nil {
				err = apperr.FilePersist(f.RelativePath, spErr)
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			sess.FailedFiles++
			sess.Errors = append(sess.Errors, apperr.PublicMessage(err))
			s.logger.Warn("upload.file_failed", "session_id", sess.SessionID, "path", f.RelativePath, "error", err)
			continue
		}
		sess.ProcessedFiles++
	}

	if sess.ProcessedFiles == 0 {
		return errAllFilesFailed
	}

	project.UploadStatus = domain.StatusCompleted
	if err := tx.UpdateProject(ctx, project); err != nil {
		return err
	}
	sess.Status = domain.StatusCompleted
	sess.ProjectID = &project.ID
	return tx.UpdateSession(ctx, sess)
}

// buildProjectFile converts an extracted entry into its stored form.
func buildProjectFile(projectID int64, f *archive.ExtractedFile) (*domain.ProjectFile, error) {
	pf := &domain.ProjectFile{
		ProjectID:     projectID,
		Filename:      f.Filename,
		FilePath:      f.RelativePath,
		FileExtension: f.Extension,
		FileSize:      f.Size,
		ContentHash:   f.ContentHash,
		Language:      f.Language,
		IsBinary:      f.IsBinary,
	}
	if f.IsBinary {
		return pf, nil
	}
	if !utf8.Valid(f.Content) {
		return nil, apperr.FilePersist(f.RelativePath, apperr.Validation("content cannot be decoded as UTF-8"))
	}
	content := string(f.Content)
	pf.Content = &content
	pf.LineCount = countLines(content)
	return pf, nil
}

// countLines counts newline-separated segments, so empty content is one line.
func countLines(content string) int {
	return strings.Count(content, "\n") + 1
}

func validateIngest(name string, req IngestRequest) error {
	switch {
	case name == "":
		return apperr.Validation("project name is required")
	case utf8.RuneCountInString(name) > maxProjectNameLen:
		return apperr.Validation(fmt.Sprintf("project name must be at most %d characters", maxProjectNameLen))
	case len(req.Data) == 0:
		return apperr.Validation("uploaded file is empty")
	}
	return nil
}

// parserFiles selects the decodable text files for the parse request.
func parserFiles(files []archive.ExtractedFile) []parser.File {
	out := make([]parser.File, 0, len(files))
	for _, f := range files {
		if f.IsBinary || !utf8.Valid(f.Content) {
			continue
		}
		out = append(out, parser.File{
			Filename:     f.Filename,
			RelativePath: f.RelativePath,
			Content:      string(f.Content),
			Size:         f.Size,
		})
	}
	return out
}

func lookupAnalysis(resp *parser.Response, f *archive.ExtractedFile) (parser.FileAnalysis, bool) {
	if resp.Data == nil {
		return parser.FileAnalysis{}, false
	}
	if a, ok := resp.Data.Files[f.RelativePath]; ok {
		return a, true
	}
	a, ok := resp.Data.Files[f.Filename]
	return a, ok
}

// projectAnalysis keeps the project-level part of the parser payload; the
// per-file entries are stored on each file.
func projectAnalysis(resp *parser.Response) json.RawMessage {
	if resp.Data == nil {
		return nil
	}
	payload := struct {
		Success        bool            `json:"success"`
		Version        string          `json:"version,omitempty"`
		ProjectSummary json.RawMessage `json:"project_summary,omitempty"`
		Dependencies   json.RawMessage `json:"dependencies,omitempty"`
		Architecture   json.RawMessage `json:"architecture,omitempty"`
		FileCount      int             `json:"file_count"`
	}{
		Success:        resp.Success,
		Version:        resp.Version,
		ProjectSummary: resp.Data.ProjectSummary,
		Dependencies:   resp.Data.Dependencies,
		Architecture:   resp.Data.Architecture,
		FileCount:      len(resp.Data.Files),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return raw
}

func skippedCount(r *archive.Result) int {
	n := 0
	for _, c := range r.Skipped {
		n += c
	}
	return n
}

// failSession marks sess failed, appending msg to its errors when set.
func (s *Service) failSession(ctx context.Context, sess *domain.UploadSession, msg string) {
	if msg != "" {
		sess.Errors = append(sess.Errors, msg)
	}
	sess.Status = domain.StatusFailed
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		s.logger.Error("upload.session_update_failed", "session_id", sess.SessionID, "error", err)
	}
}

func (s *Service) failedResult(sess *domain.UploadSession, msg string) *domain.UploadResult {
	return &domain.UploadResult{
		Success:      false,
		SessionID:    sess.SessionID,
		UploadMethod: sess.UploadMethod,
		Message:      msg,
		Warnings:     sess.Warnings,
	}
}

func (s *Service) observe(sess *domain.UploadSession, started time.Time) {
	s.metrics.ObserveUpload(string(sess.UploadMethod), string(sess.Status), s.now().Sub(started))
	s.metrics.Files(sess.ProcessedFiles, sess.FailedFiles)
}
