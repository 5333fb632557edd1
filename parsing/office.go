package parsing

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/lu4p/cat"
)

// OfficeParser reads .docx, .odt and .rtf files. The extractor has no page
// information, so the whole document is one body element on page 1.
type OfficeParser struct{}

func (OfficeParser) Parse(ctx context.Context, name string, r io.Reader) (*Result, error) {
	ext := "." + TypeFromName(name)
	path, cleanup, err := spool(r, ext)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	text, err := cat.File(path)
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", ext, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return &Result{}, nil
	}
	elems := []Element{{Text: text, PageNumber: 1}}
	return &Result{Content: text, Elements: elems}, nil
}
