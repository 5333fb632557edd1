// Package chunking splits parsed documents into preview chunks.
package chunking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/parsing"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 64
	DefaultTokenModel   = "gpt-3.5-turbo"
)

// ErrNoContent is returned when a parse result has no text to chunk.
var ErrNoContent = errors.New("document has no text content")

// Chunker turns a parse result into ordered preview chunks.
type Chunker interface {
	Chunk(ctx context.Context, res *parsing.Result, hints Hints) ([]core.PreviewChunk, error)
}

// Hints adjusts chunking for one document. Zero values fall back to the
// splitter's configuration.
type Hints struct {
	FileType     string
	ChunkSize    int
	ChunkOverlap int
}

// TokenCounter returns the token length of text.
type TokenCounter func(text string) int

// ModelTokens counts tokens with the tokenizer of the named model.
func ModelTokens(model string) TokenCounter {
	return func(text string) int {
		return llms.CountTokens(model, text)
	}
}

// WordTokens approximates tokens by whitespace-separated words.
func WordTokens(text string) int {
	return len(strings.Fields(text))
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithChunkSize sets the target chunk size in tokens.
func WithChunkSize(n int) Option {
	return func(s *Splitter) { s.chunkSize = n }
}

// WithChunkOverlap sets the token overlap between neighbouring chunks.
func WithChunkOverlap(n int) Option {
	return func(s *Splitter) { s.chunkOverlap = n }
}

// WithTokenCounter replaces the tokenizer.
func WithTokenCounter(fn TokenCounter) Option {
	return func(s *Splitter) { s.count = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Splitter) { s.logger = logger }
}

// Splitter is the default Chunker. Headings become their own chunks with a
// hierarchy level; body text is split recursively on paragraph, line,
// sentence and word boundaries and parented to the nearest heading.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	count        TokenCounter
	logger       *slog.Logger
}

// New returns a Splitter.
func New(opts ...Option) *Splitter {
	s := &Splitter{
		chunkSize:    DefaultChunkSize,
		chunkOverlap: DefaultChunkOverlap,
		count:        ModelTokens(DefaultTokenModel),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "chunker")
	return s
}

func (s *Splitter) Chunk(ctx context.Context, res *parsing.Result, hints Hints) ([]core.PreviewChunk, error) {
	if res == nil || len(res.Elements) == 0 {
		return nil, ErrNoContent
	}
	size, overlap := s.chunkSize, s.chunkOverlap
	if hints.ChunkSize > 0 {
		size = hints.ChunkSize
	}
	if hints.ChunkOverlap > 0 {
		overlap = hints.ChunkOverlap
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", core.ErrInvalidInput, overlap, size)
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithSeparators([]string{"\n\n", "\n", ". ", " ", ""}),
		textsplitter.WithLenFunc(s.count),
	)

	var (
		chunks []core.PreviewChunk
		// headings[level-1] is the index of the open heading at that level
		headings []int
	)
	parentOf := func(level int) *int {
		limit := len(headings)
		if level > 0 && level-1 < limit {
			limit = level - 1
		}
		for i := limit - 1; i >= 0; i-- {
			if headings[i] >= 0 {
				p := headings[i]
				return &p
			}
		}
		return nil
	}

	for _, el := range res.Elements {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := strings.TrimSpace(el.Text)
		if text == "" {
			continue
		}
		if el.Level > 0 {
			idx := len(chunks)
			chunks = append(chunks, core.PreviewChunk{
				Index:      idx,
				Text:       text,
				TokenCount: s.count(text),
				Metadata: core.ChunkMetadata{
					PageNumber:     el.PageNumber,
					SectionTitle:   el.SectionTitle,
					HierarchyLevel: el.Level,
					ParentIndex:    parentOf(el.Level),
				},
			})
			for len(headings) < el.Level {
				headings = append(headings, -1)
			}
			headings = headings[:el.Level]
			headings[el.Level-1] = idx
			continue
		}

		pieces, err := splitter.SplitText(text)
		if err != nil {
			return nil, fmt.Errorf("split text: %w", err)
		}
		parent := parentOf(0)
		for _, piece := range pieces {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				continue
			}
			var p *int
			if parent != nil {
				v := *parent
				p = &v
			}
			chunks = append(chunks, core.PreviewChunk{
				Index:      len(chunks),
				Text:       piece,
				TokenCount: s.count(piece),
				Metadata: core.ChunkMetadata{
					PageNumber:   el.PageNumber,
					SectionTitle: el.SectionTitle,
					ParentIndex:  p,
				},
			})
		}
	}
	if len(chunks) == 0 {
		return nil, ErrNoContent
	}
	s.logger.Debug("chunked document", "type", hints.FileType, "elements", len(res.Elements), "chunks", len(chunks))
	return chunks, nil
}
