// Package export renders a document version as standalone HTML or PDF.
package export

import (
	"errors"
	"strings"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

type Request struct {
	DocumentID      string
	VersionNumber   int
	Format          Format
	IncludeComments bool
}

type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("export format unsupported")
	// ErrPDFDependencyMissing means no Chromium binary is on PATH.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
