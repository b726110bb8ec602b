// ABOUTME: Flattens model markdown output into plain text for chat platforms.
// ABOUTME: Walks the goldmark AST: emphasis stripped, structure kept as line breaks and bullets.

package format

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Flatten renders markdown as plain text. Most messaging platforms display
// raw markdown markers verbatim, so replies are flattened before delivery:
// emphasis and code markers are dropped, headings and paragraphs become
// blank-line separated blocks, list items become "- " bullets, and link
// destinations are kept in parentheses when they differ from the link text.
func Flatten(markdown string) string {
	source := []byte(markdown)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte('\n')
				}
			}

		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				writeCodeLines(&b, n, source)
				b.WriteByte('\n')
				return ast.WalkSkipChildren, nil
			}

		case *ast.ListItem:
			if entering {
				b.WriteString("- ")
			} else {
				b.WriteByte('\n')
			}

		case *ast.Link:
			if !entering {
				dest := string(node.Destination)
				if dest != "" && dest != innerText(node, source) {
					b.WriteString(" (" + dest + ")")
				}
			}

		case *ast.AutoLink:
			if entering {
				b.Write(node.URL(source))
				return ast.WalkSkipChildren, nil
			}

		case *ast.Image:
			// Alt text only; binary references mean nothing in chat.
			if entering {
				b.WriteString(innerText(node, source))
				return ast.WalkSkipChildren, nil
			}

		case *ast.Heading, *ast.Paragraph, *ast.Blockquote:
			if !entering {
				b.WriteString("\n\n")
			}
		}
		return ast.WalkContinue, nil
	})

	return collapseBlankLines(strings.TrimSpace(b.String()))
}

// writeCodeLines copies a code block's raw lines.
func writeCodeLines(b *strings.Builder, n ast.Node, source []byte) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
}

// innerText concatenates the text content below a node.
func innerText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			if t, ok := child.(*ast.Text); ok {
				b.Write(t.Segment.Value(source))
			}
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// collapseBlankLines reduces runs of three or more newlines to a single
// blank line.
func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}
