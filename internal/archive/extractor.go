// Package archive turns an uploaded archive or single file into a filtered,
// normalized list of in-memory file records. It never touches the database
// and writes nothing to disk.
package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"golang.org/x/text/unicode/norm"

	"github.com/p-dazzeo/realm/internal/apperr"
	"github.com/p-dazzeo/realm/internal/config"
)

// binarySniffLen bounds the NUL-byte scan used to flag binary content.
const binarySniffLen = 8000

// Skip reasons, also used as metric labels.
const (
	ReasonIgnored         = "hidden or ignored path"
	ReasonUnsafe          = "unsafe path"
	ReasonLink            = "links are not supported"
	ReasonExtension       = "extension not allowed"
	ReasonDuplicate       = "duplicate path"
	ReasonFileTooLarge    = "exceeds max file size"
	ReasonProjectTooLarge = "exceeds max project size"
)

var ignoredNames = map[string]struct{}{
	"__pycache__":  {},
	".git":         {},
	".svn":         {},
	".hg":          {},
	"node_modules": {},
	".DS_Store":    {},
	"Thumbs.db":    {},
	".vscode":      {},
	".idea":        {},
	"dist":         {},
	"build":        {},
	"target":       {},
	"bin":          {},
	"obj":          {},
}

// Policy bounds what survives extraction.
type Policy struct {
	// AllowedExtensions are lower-case with a leading dot. Empty allows any.
	AllowedExtensions []string
	AllowNoExtension  bool
	MaxFileSize       int64
	MaxProjectSize    int64
	// MaxUploadSize caps the raw upload before it is opened. Zero disables it.
	MaxUploadSize int64
}

// PolicyFromConfig derives the extraction policy from runtime config.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		AllowedExtensions: cfg.AllowedExtensions,
		AllowNoExtension:  cfg.AllowNoExtension,
		MaxFileSize:       cfg.MaxFileSize,
		MaxProjectSize:    cfg.MaxProjectSize,
		MaxUploadSize:     cfg.MaxProjectSize,
	}
}

// ExtractedFile is one surviving archive entry.
type ExtractedFile struct {
	Filename     string
	RelativePath string
	Extension    string
	Size         int64
	Content      []byte
	ContentHash  string
	IsBinary     bool
	Language     string
}

// Result is the outcome of a successful extraction.
type Result struct {
	Format   Format
	Files    []ExtractedFile
	Warnings []string
	Skipped  map[string]int
}

// TotalSize sums the sizes of all surviving files.
func (r *Result) TotalSize() int64 {
	var total int64
	for _, f := range r.Files {
		total += f.Size
	}
	return total
}

// Extractor applies a Policy to uploaded archives.
type Extractor struct {
	policy  Policy
	allowed map[string]struct{}
	logger  *slog.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(policy Policy, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]struct{}, len(policy.AllowedExtensions))
	for _, ext := range policy.AllowedExtensions {
		allowed[strings.ToLower(ext)] = struct{}{}
	}
	return &Extractor{policy: policy, allowed: allowed, logger: logger}
}

// Extract reads data as the format implied by filename and returns the files
// that pass the policy. Zero survivors is an EmptyProject extraction error.
func (e *Extractor) Extract(ctx context.Context, data []byte, filename string) (*Result, error) {
	if len(data) == 0 {
		return nil, apperr.Extraction("extract", "uploaded file is empty", apperr.ErrEmptyProject)
	}
	if e.policy.MaxUploadSize > 0 && int64(len(data)) > e.policy.MaxUploadSize {
		return nil, apperr.Extraction("extract",
			fmt.Sprintf("upload exceeds the size limit of %d bytes", e.policy.MaxUploadSize),
			apperr.ErrSizeLimitExceeded)
	}

	format := DetectFormat(filename, data)
	c := &collector{extractor: e, seen: make(map[string]struct{}), skipped: make(map[string]int)}

	var err error
	switch format {
	case FormatZip:
		err = c.walkZip(ctx, data)
	case FormatTar:
		err = c.walkTar(ctx, bytes.NewReader(data))
	case FormatTarGz:
		var gz *gzip.Reader
		gz, err = gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, unsupported(format, err)
		}
		defer gz.Close()
		err = c.walkTar(ctx, gz)
	case FormatGzip:
		var gz *gzip.Reader
		gz, err = gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, unsupported(format, err)
		}
		defer gz.Close()
		err = c.visit(gunzippedName(filename), -1, gz)
	default:
		err = c.visit(singleName(filename), int64(len(data)), bytes.NewReader(data))
	}
	if err != nil {
		return nil, err
	}

	if len(c.files) == 0 {
		e.logger.Info("archive.extract.empty", "format", format, "skipped", len(c.warnings))
		return nil, &apperr.Error{
			Kind:    apperr.KindExtraction,
			Op:      "extract",
			Message: "no files in the upload passed the extension and size filters",
			Fix:     "check the allowed extensions and size limits",
			Err:     apperr.ErrEmptyProject,
		}
	}

	e.logger.Debug("archive.extract.complete",
		"format", format,
		"files", len(c.files),
		"skipped", len(c.warnings),
	)
	return &Result{Format: format, Files: c.files, Warnings: c.warnings, Skipped: c.skipped}, nil
}

type collector struct {
	extractor *Extractor
	files     []ExtractedFile
	warnings  []string
	skipped   map[string]int
	seen      map[string]struct{}
	total     int64
}

func (c *collector) walkZip(ctx context.Context, data []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return unsupported(FormatZip, err)
	}
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		info := f.FileInfo()
		if info.IsDir() {
			continue
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			c.skip(f.Name, ReasonLink)
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return apperr.Extraction("extract", fmt.Sprintf("cannot read archive entry %s", f.Name), err)
		}
		err = c.visit(f.Name, int64(f.UncompressedSize64), rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *collector) walkTar(ctx context.Context, r io.Reader) error {
	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return unsupported(FormatTar, err)
		}
		switch hdr.Typeflag {
		case tar.TypeReg:
			if err := c.visit(hdr.Name, hdr.Size, tr); err != nil {
				return err
			}
		case tar.TypeSymlink, tar.TypeLink:
			c.skip(hdr.Name, ReasonLink)
		}
	}
}

// visit applies the policy to one regular entry. Only the reader-level
// failures are returned; policy rejections become warnings.
func (c *collector) visit(name string, declared int64, r io.Reader) error {
	p := c.extractor.policy

	rel, ok := normalizePath(name)
	if !ok {
		c.skip(name, ReasonUnsafe)
		return nil
	}
	if ignoredPath(rel) {
		c.skip(rel, ReasonIgnored)
		return nil
	}
	ext := strings.ToLower(path.Ext(rel))
	if !c.extractor.extensionAllowed(ext) {
		c.skip(rel, ReasonExtension)
		return nil
	}
	if _, dup := c.seen[rel]; dup {
		c.skip(rel, ReasonDuplicate)
		return nil
	}
	if p.MaxFileSize > 0 && declared > p.MaxFileSize {
		c.skip(rel, ReasonFileTooLarge)
		return nil
	}

	var content []byte
	var err error
	if p.MaxFileSize > 0 {
		content, err = io.ReadAll(io.LimitReader(r, p.MaxFileSize+1))
	} else {
		content, err = io.ReadAll(r)
	}
	if err != nil {
		return apperr.Extraction("extract", fmt.Sprintf("cannot read archive entry %s", rel), err)
	}
	size := int64(len(content))
	if p.MaxFileSize > 0 && size > p.MaxFileSize {
		c.skip(rel, ReasonFileTooLarge)
		return nil
	}
	if p.MaxProjectSize > 0 && c.total+size > p.MaxProjectSize {
		c.skip(rel, ReasonProjectTooLarge)
		return nil
	}

	c.seen[rel] = struct{}{}
	c.total += size
	sum := sha256.Sum256(content)
	c.files = append(c.files, ExtractedFile{
		Filename:     path.Base(rel),
		RelativePath: rel,
		Extension:    ext,
		Size:         size,
		Content:      content,
		ContentHash:  hex.EncodeToString(sum[:]),
		IsBinary:     isBinary(content),
		Language:     DetectLanguage(rel),
	})
	return nil
}

func (c *collector) skip(name, reason string) {
	c.skipped[reason]++
	c.warnings = append(c.warnings, fmt.Sprintf("skipped %s: %s", name, reason))
}

func (e *Extractor) extensionAllowed(ext string) bool {
	if ext == "" {
		return e.policy.AllowNoExtension
	}
	if len(e.allowed) == 0 {
		return true
	}
	_, ok := e.allowed[ext]
	return ok
}

// normalizePath converts an entry name into a clean, forward-slash,
// NFC-normalized relative path. It rejects names escaping the archive root.
func normalizePath(name string) (string, bool) {
	p := strings.ReplaceAll(name, "\\", "/")
	p = norm.NFC.String(p)
	if strings.HasPrefix(p, "/") || (len(p) > 1 && p[1] == ':') {
		return "", false
	}
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "./")
	if p == "." || p == "" || p == ".." || strings.HasPrefix(p, "../") {
		return "", false
	}
	return p, true
}

func ignoredPath(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
		if _, ok := ignoredNames[seg]; ok {
			return true
		}
	}
	return false
}

// StripCommonRoot removes a single top-level directory shared by every file,
// as found in GitHub repository tarballs, and returns it. Nothing changes when
// any file sits at the top level or the files have different roots.
func StripCommonRoot(files []ExtractedFile) string {
	var root string
	for i, f := range files {
		idx := strings.IndexByte(f.RelativePath, '/')
		if idx < 0 {
			return ""
		}
		top := f.RelativePath[:idx]
		if i == 0 {
			root = top
		} else if top != root {
			return ""
		}
	}
	if root == "" {
		return ""
	}
	prefix := root + "/"
	for i := range files {
		files[i].RelativePath = strings.TrimPrefix(files[i].RelativePath, prefix)
	}
	return root
}

func isBinary(content []byte) bool {
	sniff := content
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	return bytes.IndexByte(sniff, 0) >= 0
}

func singleName(filename string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	return name
}

// gunzippedName is the entry name of a compressed single file.
func gunzippedName(filename string) string {
	name := singleName(filename)
	if i := len(name) - len(".gz"); i > 0 && strings.EqualFold(name[i:], ".gz") {
		return name[:i]
	}
	return name
}

func unsupported(format Format, err error) *apperr.Error {
	return apperr.Extraction("extract",
		fmt.Sprintf("upload could not be read as %s", format),
		fmt.Errorf("%w: %v", apperr.ErrUnsupportedFormat, err))
}
