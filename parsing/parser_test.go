package parsing

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeType(t *testing.T) {
	tests := map[string]string{
		"PDF":             "pdf",
		".pdf":            "pdf",
		"application/pdf": "pdf",
		"report.PDF":      "pdf",
		"text/plain":      "txt",
		"md":              "md",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "docx",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeType(in), in)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(nil)
	assert.True(t, r.Supports("PDF"))
	assert.True(t, r.Supports("docx"))
	assert.False(t, r.Supports("exe"))

	_, err := r.Parse(context.Background(), "exe", "a.exe", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	r.Register("fail", ParserFunc(func(ctx context.Context, name string, in io.Reader) (*Result, error) {
		return nil, errors.New("corrupt")
	}))
	_, err = r.Parse(context.Background(), "fail", "a.fail", strings.NewReader("x"))
	assert.ErrorContains(t, err, "corrupt")
}

func TestTextParser(t *testing.T) {
	res, err := TextParser{}.Parse(context.Background(), "a.txt", strings.NewReader("  hello world \n"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Content)
	require.Len(t, res.Elements, 1)
	assert.Equal(t, 1, res.Elements[0].PageNumber)

	res, err = TextParser{}.Parse(context.Background(), "empty.txt", strings.NewReader("   "))
	require.NoError(t, err)
	assert.Empty(t, res.Elements)
}

func TestMarkdownParser(t *testing.T) {
	doc := strings.Join([]string{
		"Preamble text.",
		"# Returns",
		"Items can be returned within 30 days.",
		"## Exceptions",
		"```",
		"# not a heading",
		"```",
		"Final sale items.",
	}, "\n")

	res, err := MarkdownParser{}.Parse(context.Background(), "policy.md", strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, res.Elements, 5)

	assert.Equal(t, Element{Text: "Preamble text.", PageNumber: 1}, res.Elements[0])
	assert.Equal(t, 1, res.Elements[1].Level)
	assert.Equal(t, "Returns", res.Elements[1].Text)
	assert.Equal(t, "Returns", res.Elements[2].SectionTitle)
	assert.Equal(t, 2, res.Elements[3].Level)
	assert.Contains(t, res.Elements[4].Text, "# not a heading")
	assert.Equal(t, "Exceptions", res.Elements[4].SectionTitle)
}
