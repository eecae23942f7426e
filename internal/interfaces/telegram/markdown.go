package telegram

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownToTelegramHTML converts Markdown to Telegram-safe HTML.
// Telegram HTML supports <b>, <i>, <s>, <code>, <pre>, <a href="">.
// Rendering through the AST guarantees well-formed tags, unlike raw
// Markdown parse_mode.
func MarkdownToTelegramHTML(markdown string) string {
	if markdown == "" {
		return ""
	}

	src := []byte(markdown)
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	r := &tgRenderer{src: src}
	r.renderChildren(&buf, doc)

	return strings.TrimRight(buf.String(), "\n")
}

// tgRenderer walks the goldmark AST and emits the Telegram HTML subset.
type tgRenderer struct {
	src []byte
}

func (r *tgRenderer) renderNode(w *bytes.Buffer, node ast.Node) {
	switch n := node.(type) {
	case *ast.Paragraph:
		r.renderChildren(w, n)
		w.WriteString("\n\n")

	case *ast.Heading:
		// Telegram has no heading tags; bold stands in.
		w.WriteString("<b>")
		r.renderChildren(w, n)
		w.WriteString("</b>\n\n")

	case *ast.ThematicBreak:
		w.WriteString("———\n\n")

	case *ast.Blockquote:
		var inner bytes.Buffer
		r.renderChildren(&inner, n)
		for _, line := range strings.Split(strings.TrimRight(inner.String(), "\n"), "\n") {
			w.WriteString("▎")
			w.WriteString(line)
			w.WriteString("\n")
		}
		w.WriteString("\n")

	case *ast.FencedCodeBlock:
		lang := string(n.Language(r.src))
		if lang != "" {
			fmt.Fprintf(w, "<pre><code class=\"language-%s\">", html.EscapeString(lang))
		} else {
			w.WriteString("<pre><code>")
		}
		r.writeLines(w, n)
		w.WriteString("</code></pre>\n\n")

	case *ast.CodeBlock:
		w.WriteString("<pre><code>")
		r.writeLines(w, n)
		w.WriteString("</code></pre>\n\n")

	case *ast.List:
		r.renderList(w, n)

	case *ast.ListItem:
		r.renderChildren(w, n)

	case *ast.Text:
		w.WriteString(html.EscapeString(string(n.Segment.Value(r.src))))
		if n.SoftLineBreak() || n.HardLineBreak() {
			w.WriteString("\n")
		}

	case *ast.String:
		w.WriteString(html.EscapeString(string(n.Value)))

	case *ast.CodeSpan:
		w.WriteString("<code>")
		r.renderCodeSpanText(w, n)
		w.WriteString("</code>")

	case *ast.Emphasis:
		tag := "i"
		if n.Level == 2 {
			tag = "b"
		}
		fmt.Fprintf(w, "<%s>", tag)
		r.renderChildren(w, n)
		fmt.Fprintf(w, "</%s>", tag)

	case *ast.Link:
		fmt.Fprintf(w, "<a href=\"%s\">", html.EscapeString(string(n.Destination)))
		r.renderChildren(w, n)
		w.WriteString("</a>")

	case *ast.AutoLink:
		url := html.EscapeString(string(n.URL(r.src)))
		fmt.Fprintf(w, "<a href=\"%s\">%s</a>", url, url)

	case *ast.Image:
		// No inline images over Telegram text; degrade to a link label.
		fmt.Fprintf(w, "[image: %s]", html.EscapeString(string(n.Destination)))

	default:
		r.renderChildren(w, node)
	}
}

func (r *tgRenderer) renderChildren(w *bytes.Buffer, node ast.Node) {
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		r.renderNode(w, child)
	}
}

func (r *tgRenderer) writeLines(w *bytes.Buffer, node ast.Node) {
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		w.WriteString(html.EscapeString(string(line.Value(r.src))))
	}
}

func (r *tgRenderer) renderCodeSpanText(w *bytes.Buffer, node ast.Node) {
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		if t, ok := child.(*ast.Text); ok {
			w.WriteString(html.EscapeString(string(t.Segment.Value(r.src))))
		} else {
			r.renderCodeSpanText(w, child)
		}
	}
}

func (r *tgRenderer) renderList(w *bytes.Buffer, list *ast.List) {
	idx := list.Start
	for child := list.FirstChild(); child != nil; child = child.NextSibling() {
		if list.IsOrdered() {
			fmt.Fprintf(w, "%d. ", idx)
			idx++
		} else {
			w.WriteString("• ")
		}
		var itemBuf bytes.Buffer
		r.renderChildren(&itemBuf, child)
		for i, line := range strings.Split(strings.TrimRight(itemBuf.String(), "\n"), "\n") {
			if i > 0 {
				w.WriteString("\n  ")
			}
			w.WriteString(line)
		}
		w.WriteString("\n")
	}
	w.WriteString("\n")
}

// StripMarkdownForPlaintext removes Markdown formatting entirely. Used
// as the fallback when Telegram rejects the HTML rendering.
var reStripMD = regexp.MustCompile("(?s)```[^`]*```|`[^`]+`|\\*\\*|__|\\*|_|~~|#{1,6} |\\[([^]]+)\\]\\([^)]+\\)|!\\[[^]]*\\]\\([^)]+\\)")

func StripMarkdownForPlaintext(md string) string {
	return reStripMD.ReplaceAllStringFunc(md, func(match string) string {
		switch {
		case strings.HasPrefix(match, "!["):
			return ""
		case strings.HasPrefix(match, "["):
			if idx := strings.Index(match, "]("); idx > 0 {
				return match[1:idx]
			}
			return match
		case strings.HasPrefix(match, "```"):
			inner := strings.TrimSuffix(strings.TrimPrefix(match, "```"), "```")
			if idx := strings.Index(inner, "\n"); idx >= 0 {
				inner = inner[idx+1:]
			}
			return inner
		case strings.HasPrefix(match, "`"):
			return strings.Trim(match, "`")
		case strings.HasPrefix(match, "#"):
			return ""
		default:
			return ""
		}
	})
}
