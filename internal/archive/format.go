package archive

import (
	"bytes"
	"strings"
)

// Format identifies how an upload is packed.
type Format string

const (
	FormatZip    Format = "zip"
	FormatTar    Format = "tar"
	FormatTarGz  Format = "tar.gz"
	FormatGzip   Format = "gzip"
	FormatSingle Format = "file"
)

var (
	zipMagic  = []byte("PK\x03\x04")
	gzipMagic = []byte{0x1f, 0x8b}
	tarMagic  = []byte("ustar")
)

// DetectFormat picks a format from the declared filename, falling back to
// magic bytes when the name carries no archive extension.
func DetectFormat(filename string, data []byte) Format {
	name := strings.ToLower(strings.TrimSpace(filename))
	switch {
	case strings.HasSuffix(name, ".zip"):
		return FormatZip
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(name, ".gz"):
		return FormatGzip
	case strings.HasSuffix(name, ".tar"):
		return FormatTar
	}

	switch {
	case bytes.HasPrefix(data, zipMagic):
		return FormatZip
	case bytes.HasPrefix(data, gzipMagic):
		return FormatTarGz
	case len(data) > 262 && bytes.Equal(data[257:262], tarMagic):
		return FormatTar
	}
	return FormatSingle
}
