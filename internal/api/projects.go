package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/p-dazzeo/realm/internal/apperr"
	"github.com/p-dazzeo/realm/internal/domain"
	"github.com/p-dazzeo/realm/internal/upload"
)

type ingestGitHubRequest struct {
	Owner       string `json:"owner"`
	Repo        string `json:"repo"`
	Ref         string `json:"ref"`
	ProjectName string `json:"project_name"`
	Description string `json:"description"`
}

type updateAdditionalFileRequest struct {
	Description string `json:"description"`
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	filename, data, err := h.readMultipartFile(w, r, h.cfg.MaxProjectSize)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	res, err := h.svc.Ingest(r.Context(), upload.IngestRequest{
		ProjectName: r.FormValue("project_name"),
		Description: r.FormValue("description"),
		Filename:    filename,
		Data:        data,
	})
	h.writeUploadResult(w, r, res, err)
}

func (h *Handler) handleIngestGitHub(w http.ResponseWriter, r *http.Request) {
	var req ingestGitHubRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	res, err := h.svc.IngestRepository(r.Context(), upload.IngestRepoRequest{
		Owner:       req.Owner,
		Repo:        req.Repo,
		Ref:         req.Ref,
		ProjectName: req.ProjectName,
		Description: req.Description,
	})
	h.writeUploadResult(w, r, res, err)
}

// writeUploadResult answers 201 on success. A failed ingest that still
// produced a session is reported with its result body.
func (h *Handler) writeUploadResult(w http.ResponseWriter, r *http.Request, res *domain.UploadResult, err error) {
	switch {
	case res == nil:
		h.writeAppError(w, r, err)
	case res.Success:
		writeJSON(w, http.StatusCreated, res)
	default:
		status := http.StatusUnprocessableEntity
		if err != nil && statusFor(err) >= http.StatusInternalServerError {
			status = statusFor(err)
			h.logger.Error("api.upload_failed", "session_id", res.SessionID, "error", err)
		}
		writeJSON(w, status, res)
	}
}

func (h *Handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter domain.ListFilter
	if m := q.Get("upload_method"); m != "" {
		method := domain.UploadMethod(m)
		filter.UploadMethod = &method
	}
	skip, err := queryInt(q.Get("skip"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "skip must be a non-negative integer")
		return
	}
	limit, err := queryInt(q.Get("limit"), domain.DefaultPageLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	useCache, _ := strconv.ParseBool(q.Get("use_cache"))

	list, err := h.svc.ListProjects(r.Context(), filter, domain.Page{Offset: skip, Limit: limit}, useCache)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "projectID")
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	includeFiles, _ := strconv.ParseBool(r.URL.Query().Get("include_files"))
	view, err := h.svc.GetProject(r.Context(), id, includeFiles)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "projectID")
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	if err := h.svc.DeleteProject(r.Context(), id); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListAdditionalFiles(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "projectID")
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	files, err := h.svc.ListAdditionalFiles(r.Context(), id)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (h *Handler) handleAddAdditionalFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "projectID")
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	filename, data, err := h.readMultipartFile(w, r, h.cfg.MaxFileSize)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	f, err := h.svc.AddAdditionalFile(r.Context(), id, filename, data, r.FormValue("description"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (h *Handler) handleGetAdditionalFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "fileID")
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	f, err := h.svc.GetAdditionalFile(r.Context(), id)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *Handler) handleDownloadAdditionalFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "fileID")
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	f, content, err := h.svc.OpenAdditionalFile(r.Context(), id)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	defer content.Close()

	if f.MimeType != "" {
		w.Header().Set("Content-Type", f.MimeType)
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.Filename}))
	http.ServeContent(w, r, f.Filename, f.UpdatedAt, content)
}

func (h *Handler) handleUpdateAdditionalFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "fileID")
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	var req updateAdditionalFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	f, err := h.svc.UpdateAdditionalFile(r.Context(), id, req.Description)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *Handler) handleDeleteAdditionalFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "fileID")
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	if err := h.svc.DeleteAdditionalFile(r.Context(), id); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// readMultipartFile reads the "file" part, capping the body at limit plus
// room for the other form fields.
func (h *Handler) readMultipartFile(w http.ResponseWriter, r *http.Request, limit int64) (string, []byte, error) {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return "", nil, bodyError(err, limit)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, apperr.Validation("file is required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, bodyError(err, limit)
	}
	if limit > 0 && int64(len(data)) > limit {
		return "", nil, tooLarge(limit)
	}
	return header.Filename, data, nil
}

func bodyError(err error, limit int64) error {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) || strings.Contains(err.Error(), "request body too large") {
		return tooLarge(limit)
	}
	return apperr.Validation("invalid multipart form")
}

func tooLarge(limit int64) error {
	return apperr.Extraction("read upload",
		fmt.Sprintf("upload exceeds the size limit of %d bytes", limit),
		apperr.ErrSizeLimitExceeded)
}

func queryInt(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New("invalid integer")
	}
	return v, nil
}
