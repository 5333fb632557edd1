package parsing

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// TextParser reads plain text as a single body element.
type TextParser struct{}

func (TextParser) Parse(ctx context.Context, name string, r io.Reader) (*Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return &Result{}, nil
	}
	elems := []Element{{Text: text, PageNumber: 1}}
	return &Result{Content: text, Elements: elems}, nil
}

// MarkdownParser splits markdown on ATX headings. Each heading becomes a
// heading element and the text under it a body element carrying the
// heading as its section title.
type MarkdownParser struct{}

func (MarkdownParser) Parse(ctx context.Context, name string, r io.Reader) (*Result, error) {
	var (
		elems   []Element
		section string
		body    strings.Builder
		inFence bool
	)
	flush := func() {
		text := strings.TrimSpace(body.String())
		body.Reset()
		if text != "" {
			elems = append(elems, Element{Text: text, PageNumber: 1, SectionTitle: section})
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		if level, title, ok := headingOf(line); ok && !inFence {
			flush()
			section = title
			elems = append(elems, Element{Text: title, PageNumber: 1, SectionTitle: title, Level: level})
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	return &Result{Content: joinElements(elems), Elements: elems}, nil
}

func headingOf(line string) (int, string, bool) {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 || level >= len(line) || line[level] != ' ' {
		return 0, "", false
	}
	title := strings.TrimSpace(strings.TrimRight(line[level:], "# "))
	if title == "" {
		return 0, "", false
	}
	return level, title, true
}
