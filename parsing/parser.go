// Package parsing turns uploaded files into text elements for the chunker.
package parsing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
)

// ErrUnsupportedType indicates no parser is registered for a file type.
var ErrUnsupportedType = errors.New("unsupported file type")

// Element is a contiguous run of text with its structural position.
type Element struct {
	Text         string
	PageNumber   int
	SectionTitle string
	// Level is the heading depth for heading elements and 0 for body text.
	Level int
}

// Result is the parsed content of one file.
type Result struct {
	Content  string
	Elements []Element
}

// Parser extracts text from one kind of file.
type Parser interface {
	Parse(ctx context.Context, name string, r io.Reader) (*Result, error)
}

// ParserFunc adapts a function to the Parser interface.
type ParserFunc func(ctx context.Context, name string, r io.Reader) (*Result, error)

func (f ParserFunc) Parse(ctx context.Context, name string, r io.Reader) (*Result, error) {
	return f(ctx, name, r)
}

// Registry dispatches to a parser by normalized file type.
type Registry struct {
	parsers map[string]Parser
	logger  *slog.Logger
}

// NewRegistry returns a registry with the built-in parsers: plain text,
// markdown, PDF, and docx/odt/rtf.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		parsers: make(map[string]Parser),
		logger:  logger.With("component", "parser"),
	}
	text := &TextParser{}
	md := &MarkdownParser{}
	pdf := &PDFParser{logger: r.logger}
	office := &OfficeParser{}
	r.Register("txt", text)
	r.Register("text", text)
	r.Register("csv", text)
	r.Register("md", md)
	r.Register("markdown", md)
	r.Register("pdf", pdf)
	r.Register("docx", office)
	r.Register("odt", office)
	r.Register("rtf", office)
	return r
}

// Register adds or replaces the parser for fileType.
func (r *Registry) Register(fileType string, p Parser) {
	r.parsers[NormalizeType(fileType)] = p
}

// Supports reports whether fileType has a parser.
func (r *Registry) Supports(fileType string) bool {
	_, ok := r.parsers[NormalizeType(fileType)]
	return ok
}

// Types returns the registered file types.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.parsers))
	for t := range r.parsers {
		out = append(out, t)
	}
	return out
}

// Parse parses r with the parser registered for fileType.
func (r *Registry) Parse(ctx context.Context, fileType, name string, in io.Reader) (*Result, error) {
	p, ok := r.parsers[NormalizeType(fileType)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, fileType)
	}
	r.logger.Debug("parsing file", "name", name, "type", fileType)
	res, err := p.Parse(ctx, name, in)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return res, nil
}

// NormalizeType maps "PDF", ".pdf", "application/pdf" and "report.pdf" to "pdf".
func NormalizeType(fileType string) string {
	t := strings.ToLower(strings.TrimSpace(fileType))
	if i := strings.LastIndexAny(t, "/."); i >= 0 {
		t = t[i+1:]
	}
	switch t {
	case "plain":
		return "txt"
	case "vnd.openxmlformats-officedocument.wordprocessingml.document":
		return "docx"
	case "vnd.oasis.opendocument.text":
		return "odt"
	}
	return t
}

// TypeFromName derives a file type from a file name's extension.
func TypeFromName(name string) string {
	return NormalizeType(filepath.Ext(name))
}

// joinElements rebuilds the flat content of a result.
func joinElements(elems []Element) string {
	var b strings.Builder
	for i, e := range elems {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(e.Text)
	}
	return b.String()
}
