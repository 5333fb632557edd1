package parsing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dslipak/pdf"
)

// PDFParser extracts the plain text of every page.
type PDFParser struct {
	logger *slog.Logger
}

func (p *PDFParser) Parse(ctx context.Context, name string, r io.Reader) (*Result, error) {
	path, cleanup, err := spool(r, ".pdf")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	f, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	var elems []Element
	numPages := f.NumPage()
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := f.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := pageText(ctx, page)
		if err != nil {
			// one unreadable page doesn't fail the document
			p.log().Warn("skipping unreadable page", "name", name, "page", i, "err", err)
			continue
		}
		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}
		elems = append(elems, Element{Text: content, PageNumber: i})
	}
	return &Result{Content: joinElements(elems), Elements: elems}, nil
}

func (p *PDFParser) log() *slog.Logger {
	if p.logger == nil {
		return slog.Default()
	}
	return p.logger
}

// pageText runs the extractor off the caller's goroutine so a malformed
// content stream can neither hang past ctx nor panic the process.
func pageText(ctx context.Context, page pdf.Page) (string, error) {
	type result struct {
		content string
		err     error
	}
	resCh := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- result{err: fmt.Errorf("page extraction panicked: %v", r)}
			}
		}()
		content, err := page.GetPlainText(nil)
		resCh <- result{content, err}
	}()
	select {
	case r := <-resCh:
		return r.content, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// spool copies r to a temporary file with the given extension.
func spool(r io.Reader, ext string) (string, func(), error) {
	f, err := os.CreateTemp("", "kbase-*"+ext)
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		cleanup()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return f.Name(), cleanup, nil
}
