// Package pdftext extracts plain text from PDF, plain-text and markdown documents on disk.
package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"genpipe/internal/capability"
	"genpipe/internal/domain"
	"genpipe/internal/infra"
)

// MaxBytes bounds how much extracted text a document may yield.
const MaxBytes = 4 << 20

// Extractor reads local documents; it needs no credentials.
type Extractor struct {
	logger *infra.Logger
}

// NewExtractor returns an extractor logging through logger, or nowhere when nil.
func NewExtractor(logger *infra.Logger) *Extractor {
	return &Extractor{logger: infra.OrNop(logger)}
}

// Extract dispatches on MIME type, falling back to the file extension.
func (e *Extractor) Extract(ctx context.Context, req capability.ExtractRequest) (*capability.ExtractResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kind := strings.ToLower(strings.TrimSpace(req.MIME))
	if kind == "" {
		kind = mimeFromExt(req.Path)
	}
	var (
		res *capability.ExtractResult
		err error
	)
	switch kind {
	case "application/pdf":
		res, err = extractPDF(req.Path)
	case "text/plain", "text/markdown":
		res, err = extractText(req.Path)
	default:
		return nil, domain.Invalid("source.path", "unsupported document type %q", kind)
	}
	if err != nil {
		return nil, err
	}
	res.Text = strings.TrimSpace(res.Text)
	if res.Text == "" {
		return nil, domain.Invalid("source.path", "document contains no extractable text")
	}
	e.logger.Debug().Str("path", req.Path).Int("pages", res.Pages).Int("chars", utf8.RuneCountInString(res.Text)).Msg("pdftext: extracted")
	return res, nil
}

// HasCredentials is always true; extraction is local.
func (e *Extractor) HasCredentials() bool { return true }

func extractPDF(path string) (*capability.ExtractResult, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pdftext: open pdf: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("pdftext: read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(plain, MaxBytes)); err != nil {
		return nil, fmt.Errorf("pdftext: read pdf text: %w", err)
	}
	return &capability.ExtractResult{Text: buf.String(), Pages: r.NumPage()}, nil
}

func extractText(path string) (*capability.ExtractResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pdftext: open document: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("pdftext: read document: %w", err)
	}
	if !utf8.Valid(data) {
		return nil, domain.Invalid("source.path", "document is not valid UTF-8")
	}
	return &capability.ExtractResult{Text: string(data), Pages: 1}, nil
}

// MIMEFor returns the document MIME type for path, or "" when unsupported.
func MIMEFor(path string) string {
	return mimeFromExt(path)
}

func mimeFromExt(path string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "pdf":
		return "application/pdf"
	case "txt":
		return "text/plain"
	case "md", "markdown":
		return "text/markdown"
	default:
		return ""
	}
}

var (
	_ capability.Extractor    = (*Extractor)(nil)
	_ capability.Credentialed = (*Extractor)(nil)
)
