package document

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// markdownSplitter splits markdown documents into header-bounded sections.
// Each H1/H2 section becomes one logical page for the chunker, so retrieval
// hits carry section-level provenance.
type markdownSplitter struct {
	parser goldmark.Markdown
}

func newMarkdownSplitter() *markdownSplitter {
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	return &markdownSplitter{parser: md}
}

// Split returns the document's sections in source order. A document with no
// headers is returned whole as a single section. Content before the first
// header is preserved as its own leading section.
func (s *markdownSplitter) Split(source []byte) ([]string, error) {
	reader := text.NewReader(source)
	doc := s.parser.Parser().Parse(reader)

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(2),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect TOC: %w", err)
	}

	if len(tree.Items) == 0 {
		return []string{string(source)}, nil
	}

	// Collect header start offsets in document order.
	starts := collectHeaderStarts(doc, source, tree.Items)
	if len(starts) == 0 {
		return []string{string(source)}, nil
	}
	// TOC items nest H2s under their H1, so a leading H2 can come back
	// out of document order.
	sort.Ints(starts)

	var sections []string
	if preamble := strings.TrimSpace(string(source[:starts[0]])); preamble != "" {
		sections = append(sections, preamble)
	}
	for i, start := range starts {
		end := len(source)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		if section := strings.TrimSpace(string(source[start:end])); section != "" {
			sections = append(sections, section)
		}
	}

	return sections, nil
}

// collectHeaderStarts walks TOC items and resolves each header's byte offset.
func collectHeaderStarts(doc ast.Node, source []byte, items toc.Items) []int {
	var starts []int
	var walk func(items toc.Items)
	walk = func(items toc.Items) {
		for _, item := range items {
			if node := findHeaderByID(doc, string(item.ID)); node != nil {
				seg := node.Lines().At(0)
				// The segment starts after the "#" markers; rewind to
				// the line start so the header text stays in the section.
				start := seg.Start
				for start > 0 && source[start-1] != '\n' {
					start--
				}
				starts = append(starts, start)
			}
			if len(item.Items) > 0 {
				walk(item.Items)
			}
		}
	}
	walk(items)
	return starts
}

// findHeaderByID locates a heading node by its auto-generated ID.
func findHeaderByID(node ast.Node, id string) ast.Node {
	var found ast.Node
	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() == ast.KindHeading {
			heading := n.(*ast.Heading)
			headingID, ok := heading.AttributeString("id")
			if ok && string(headingID.([]byte)) == id {
				found = n
				return ast.WalkStop, nil
			}
		}
		return ast.WalkContinue, nil
	})
	return found
}
