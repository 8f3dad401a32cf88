package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// UploadMethod records which ingest path produced a project.
type UploadMethod string

const (
	MethodParser UploadMethod = "parser"
	MethodDirect UploadMethod = "direct"
)

// Valid reports whether m is a known upload method.
func (m UploadMethod) Valid() bool {
	return m == MethodParser || m == MethodDirect
}

// UploadStatus captures lifecycle of an upload session and its project.
type UploadStatus string

const (
	StatusPending    UploadStatus = "pending"
	StatusProcessing UploadStatus = "processing"
	StatusCompleted  UploadStatus = "completed"
	StatusFailed     UploadStatus = "failed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s UploadStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a session may move from s to next.
// Status only moves forward; a non-terminal status may be rewritten in place
// so counters can be updated without a state change.
func (s UploadStatus) CanTransition(next UploadStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusPending || next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusProcessing || next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Predecessors lists the statuses a session may hold before moving to s.
func (s UploadStatus) Predecessors() []UploadStatus {
	var out []UploadStatus
	for _, from := range []UploadStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		if from.CanTransition(s) {
			out = append(out, from)
		}
	}
	return out
}

// Project is one uploaded codebase.
type Project struct {
	ID               int64           `json:"id"`
	UUID             uuid.UUID       `json:"uuid"`
	Name             string          `json:"name"`
	Description      *string         `json:"description,omitempty"`
	UploadMethod     UploadMethod    `json:"upload_method"`
	UploadStatus     UploadStatus    `json:"upload_status"`
	OriginalFilename string          `json:"original_filename"`
	FileSize         int64           `json:"file_size"`
	ParserResponse   json.RawMessage `json:"parser_response,omitempty"`
	ParserVersion    *string         `json:"parser_version,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ProjectFile is one file extracted from an archive and attributed to a project.
type ProjectFile struct {
	ID            int64           `json:"id"`
	ProjectID     int64           `json:"project_id"`
	Filename      string          `json:"filename"`
	FilePath      string          `json:"file_path"`
	FileExtension string          `json:"file_extension"`
	FileSize      int64           `json:"file_size"`
	Content       *string         `json:"content,omitempty"`
	ContentHash   string          `json:"content_hash"`
	ParsedData    json.RawMessage `json:"parsed_data,omitempty"`
	Language      string          `json:"language,omitempty"`
	LineCount     int             `json:"line_count"`
	IsBinary      bool            `json:"is_binary"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// AdditionalFile is a supplementary file attached to a project after ingest.
// Its content lives on disk at FilePath.
type AdditionalFile struct {
	ID          int64     `json:"id"`
	UUID        uuid.UUID `json:"uuid"`
	ProjectID   int64     `json:"project_id"`
	Filename    string    `json:"filename"`
	FilePath    string    `json:"-"`
	FileSize    int64     `json:"file_size"`
	MimeType    string    `json:"mime_type"`
	ContentHash string    `json:"content_hash"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UploadSession is the progress and audit record for one ingest.
type UploadSession struct {
	ID             int64        `json:"-"`
	SessionID      string       `json:"session_id"`
	Status         UploadStatus `json:"status"`
	UploadMethod   UploadMethod `json:"upload_method"`
	TotalFiles     int          `json:"total_files"`
	ProcessedFiles int          `json:"processed_files"`
	FailedFiles    int          `json:"failed_files"`
	Errors         []string     `json:"errors"`
	Warnings       []string     `json:"warnings"`
	ProjectID      *int64       `json:"project_id,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	ExpiresAt      time.Time    `json:"expires_at"`
}

// Expired reports whether the session outlived its expiry without finishing.
func (s *UploadSession) Expired(now time.Time) bool {
	return !s.Status.Terminal() && now.After(s.ExpiresAt)
}
