package upload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/p-dazzeo/realm/internal/apperr"
	"github.com/p-dazzeo/realm/internal/artifacts"
	"github.com/p-dazzeo/realm/internal/domain"
	"github.com/p-dazzeo/realm/internal/store"
)

// AddAdditionalFile stores a supplementary file for an existing project.
// The artifact is written first and removed again if the row cannot be saved.
func (s *Service) AddAdditionalFile(ctx context.Context, projectID int64, filename string, data []byte, description string) (*domain.AdditionalFile, error) {
	const op = "add additional file"
	if s.artifacts == nil {
		return nil, apperr.Validation("additional files are not configured")
	}
	filename = strings.TrimSpace(filename)
	switch {
	case filename == "":
		return nil, apperr.Validation("filename is required")
	case len(data) == 0:
		return nil, apperr.Validation("uploaded file is empty")
	case s.cfg.MaxFileSize > 0 && int64(len(data)) > s.cfg.MaxFileSize:
		return nil, apperr.Validation(fmt.Sprintf("file exceeds the size limit of %d bytes", s.cfg.MaxFileSize))
	}

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, storeErr(op, "project", projectID, err)
	}

	art, err := s.artifacts.Save(project.UUID, filename, data)
	if err != nil {
		return nil, apperr.FilePersist(filename, err)
	}

	f := &domain.AdditionalFile{
		ProjectID:   projectID,
		Filename:    artifacts.SanitizeFilename(filename),
		FilePath:    art.Path,
		FileSize:    art.Size,
		MimeType:    art.MimeType,
		ContentHash: art.SHA256,
	}
	if desc := strings.TrimSpace(description); desc != "" {
		f.Description = &desc
	}
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateAdditionalFile(ctx, f)
	})
	if err != nil {
		if rmErr := s.artifacts.Remove(art.Path); rmErr != nil {
			s.logger.Warn("additional_file.cleanup_failed", "path", art.Path, "error", rmErr)
		}
		return nil, storeErr(op, "project", projectID, err)
	}
	s.logger.Info("additional_file.created", "project_id", projectID, "id", f.ID, "size", f.FileSize)
	return f, nil
}

func (s *Service) GetAdditionalFile(ctx context.Context, id int64) (*domain.AdditionalFile, error) {
	f, err := s.store.GetAdditionalFile(ctx, id)
	if err != nil {
		return nil, storeErr("get additional file", "additional file", id, err)
	}
	return f, nil
}

// OpenAdditionalFile returns the row and its content. The caller closes the file.
func (s *Service) OpenAdditionalFile(ctx context.Context, id int64) (*domain.AdditionalFile, *os.File, error) {
	const op = "open additional file"
	f, err := s.store.GetAdditionalFile(ctx, id)
	if err != nil {
		return nil, nil, storeErr(op, "additional file", id, err)
	}
	if s.artifacts == nil {
		return nil, nil, apperr.Validation("additional files are not configured")
	}
	file, err := s.artifacts.Open(f.FilePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("additional_file.content_missing", "id", id, "path", f.FilePath)
			return nil, nil, apperr.NotFound("additional file content", id)
		}
		return nil, nil, apperr.Internal(op, err)
	}
	return f, file, nil
}

// ListAdditionalFiles returns the additional files of a project.
func (s *Service) ListAdditionalFiles(ctx context.Context, projectID int64) ([]domain.AdditionalFile, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, storeErr("list additional files", "project", projectID, err)
	}
	files, err := s.store.ListAdditionalFiles(ctx, projectID)
	if err != nil {
		return nil, apperr.Internal("list additional files", err)
	}
	return files, nil
}

// UpdateAdditionalFile replaces the description. An empty description clears it.
func (s *Service) UpdateAdditionalFile(ctx context.Context, id int64, description string) (*domain.AdditionalFile, error) {
	var updated *domain.AdditionalFile
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		f, err := tx.GetAdditionalFile(ctx, id)
		if err != nil {
			return err
		}
		if desc := strings.TrimSpace(description); desc != "" {
			f.Description = &desc
		} else {
			f.Description = nil
		}
		if err := tx.UpdateAdditionalFile(ctx, f); err != nil {
			return err
		}
		updated = f
		return nil
	})
	if err != nil {
		return nil, storeErr("update additional file", "additional file", id, err)
	}
	return updated, nil
}

// DeleteAdditionalFile removes the row and then the file on disk. A cleanup
// failure is logged only.
func (s *Service) DeleteAdditionalFile(ctx context.Context, id int64) error {
	var removed *domain.AdditionalFile
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		removed, err = tx.DeleteAdditionalFile(ctx, id)
		return err
	})
	if err != nil {
		return storeErr("delete additional file", "additional file", id, err)
	}
	if s.artifacts != nil {
		if err := s.artifacts.Remove(removed.FilePath); err != nil {
			s.logger.Warn("additional_file.cleanup_failed", "id", id, "path", removed.FilePath, "error", err)
		}
	}
	return nil
}
