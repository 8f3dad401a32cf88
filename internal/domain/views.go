package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProjectSummary is the list-view representation of a project.
type ProjectSummary struct {
	ID               int64        `json:"id"`
	UUID             uuid.UUID    `json:"uuid"`
	Name             string       `json:"name"`
	Description      *string      `json:"description,omitempty"`
	UploadMethod     UploadMethod `json:"upload_method"`
	UploadStatus     UploadStatus `json:"upload_status"`
	OriginalFilename string       `json:"original_filename"`
	FileSize         int64        `json:"file_size"`
	FileCount        int          `json:"file_count"`
	TotalSize        int64        `json:"total_size"`
	CreatedAt        time.Time    `json:"created_at"`
}

// ProjectView is a project with its optionally loaded children.
type ProjectView struct {
	Project
	Files           []ProjectFile    `json:"files,omitempty"`
	AdditionalFiles []AdditionalFile `json:"additional_files,omitempty"`
}

// UploadSessionView is what callers see when polling an upload.
type UploadSessionView struct {
	UploadSession
	Progress float64 `json:"progress"`
}

// NewSessionView derives the progress percentage from the session counters.
func NewSessionView(s UploadSession) UploadSessionView {
	view := UploadSessionView{UploadSession: s}
	if s.TotalFiles > 0 {
		view.Progress = float64(s.ProcessedFiles+s.FailedFiles) / float64(s.TotalFiles) * 100
	}
	if view.Errors == nil {
		view.Errors = []string{}
	}
	if view.Warnings == nil {
		view.Warnings = []string{}
	}
	return view
}

// UploadResult is returned to callers of an ingest.
type UploadResult struct {
	Success      bool         `json:"success"`
	SessionID    string       `json:"session_id"`
	ProjectID    *int64       `json:"project_id,omitempty"`
	UploadMethod UploadMethod `json:"upload_method"`
	Message      string       `json:"message"`
	Warnings     []string     `json:"warnings"`
}

// ParserConnectivity reports the outcome of a standalone parser probe.
type ParserConnectivity struct {
	Enabled   bool   `json:"parser_enabled"`
	Available bool   `json:"parser_available"`
	Status    string `json:"status"`
	URL       string `json:"parser_url"`
	Detail    string `json:"detail,omitempty"`
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// ListFilter narrows project listings.
type ListFilter struct {
	UploadMethod *UploadMethod
}

// Page is an offset/limit window.
type Page struct {
	Offset int
	Limit  int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}
