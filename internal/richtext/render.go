// Package richtext renders the repository's structured rich text as HTML.
//
// This package is the single trust boundary where repository content becomes
// markup that pages inject unescaped (template.HTML). It accepts only the
// structured element/span schema: every text run and attribute value is
// escaped here, link targets are restricted to safe schemes, and embed
// provider HTML is never passed through. Nothing else in the module may build
// template.HTML from repository data.
package richtext

import (
	"html"
	"html/template"
	"net/url"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/starford/spacetraveling/internal/models"
)

// Render renders one content block: its heading followed by its body. An
// empty body renders as an empty content area.
func Render(block models.ContentBlock) template.HTML {
	var b strings.Builder
	b.WriteString(`<section class="post-block">`)
	if block.Heading != "" {
		b.WriteString("<h2>")
		b.WriteString(html.EscapeString(block.Heading))
		b.WriteString("</h2>")
	}
	b.WriteString(`<div class="post-body">`)
	writeElements(&b, block.Body)
	b.WriteString("</div></section>")
	return template.HTML(b.String()) //nolint:gosec // built from escaped structured input only
}

// RenderAll renders blocks in order.
func RenderAll(blocks []models.ContentBlock) []template.HTML {
	out := make([]template.HTML, len(blocks))
	for i, block := range blocks {
		out[i] = Render(block)
	}
	return out
}

// RenderSpans renders a sequence of rich-text elements without a wrapper.
func RenderSpans(spans []models.RichTextSpan) template.HTML {
	var b strings.Builder
	writeElements(&b, spans)
	return template.HTML(b.String()) //nolint:gosec // built from escaped structured input only
}

// AsText joins the plain text of the elements with newlines.
func AsText(spans []models.RichTextSpan) string {
	parts := make([]string, 0, len(spans))
	for _, s := range spans {
		if s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func writeElements(b *strings.Builder, spans []models.RichTextSpan) {
	openList := ""
	for _, el := range spans {
		list := listTag(el.Type)
		if list != openList {
			if openList != "" {
				b.WriteString("</" + openList + ">")
			}
			if list != "" {
				b.WriteString("<" + list + ">")
			}
			openList = list
		}
		writeElement(b, el)
	}
	if openList != "" {
		b.WriteString("</" + openList + ">")
	}
}

func listTag(elementType string) string {
	switch elementType {
	case "list-item":
		return "ul"
	case "o-list-item":
		return "ol"
	}
	return ""
}

func writeElement(b *strings.Builder, el models.RichTextSpan) {
	switch el.Type {
	case "heading1", "heading2", "heading3", "heading4", "heading5", "heading6":
		tag := "h" + strings.TrimPrefix(el.Type, "heading")
		wrap(b, tag, el)
	case "preformatted":
		wrap(b, "pre", el)
	case "list-item", "o-list-item":
		wrap(b, "li", el)
	case "image":
		src, ok := safeURL(el.URL)
		if !ok {
			return
		}
		b.WriteString(`<p class="block-img"><img src="`)
		b.WriteString(html.EscapeString(src))
		b.WriteString(`" alt="`)
		b.WriteString(html.EscapeString(el.Alt))
		b.WriteString(`" /></p>`)
	case "embed":
		if el.Oembed == nil {
			return
		}
		href, ok := safeURL(el.Oembed.EmbedURL)
		if !ok {
			return
		}
		title := el.Oembed.Title
		if title == "" {
			title = href
		}
		b.WriteString(`<div class="block-embed"><a href="`)
		b.WriteString(html.EscapeString(href))
		b.WriteString(`" target="_blank" rel="noopener noreferrer">`)
		b.WriteString(html.EscapeString(title))
		b.WriteString("</a></div>")
	default:
		wrap(b, "p", el)
	}
}

func wrap(b *strings.Builder, tag string, el models.RichTextSpan) {
	b.WriteString("<" + tag + ">")
	writeInline(b, el.Text, el.Spans)
	b.WriteString("</" + tag + ">")
}

// mark is a formatting range that renders to an open/close tag pair.
type mark struct {
	start, end int
	order      int
	open       string
	close      string
}

// writeInline renders text with its formatting ranges. Offsets are UTF-16
// code units. Overlapping ranges are closed and reopened around each other so
// the output stays well formed.
func writeInline(b *strings.Builder, text string, spans []models.Formatting) {
	units := utf16.Encode([]rune(text))
	n := len(units)

	marks := make([]mark, 0, len(spans))
	bounds := map[int]struct{}{0: {}, n: {}}
	for i, s := range spans {
		start, end := max(s.Start, 0), min(s.End, n)
		if start >= end {
			continue
		}
		open, closeTag, ok := tagsFor(s)
		if !ok {
			continue
		}
		marks = append(marks, mark{start: start, end: end, order: i, open: open, close: closeTag})
		bounds[start] = struct{}{}
		bounds[end] = struct{}{}
	}
	sort.SliceStable(marks, func(i, j int) bool {
		if marks[i].start != marks[j].start {
			return marks[i].start < marks[j].start
		}
		if marks[i].end != marks[j].end {
			return marks[i].end > marks[j].end
		}
		return marks[i].order < marks[j].order
	})

	points := make([]int, 0, len(bounds))
	for p := range bounds {
		points = append(points, p)
	}
	sort.Ints(points)

	var stack []*mark
	for k := 0; k+1 < len(points); k++ {
		from, to := points[k], points[k+1]
		var want []*mark
		for i := range marks {
			if marks[i].start <= from && marks[i].end >= to {
				want = append(want, &marks[i])
			}
		}
		common := 0
		for common < len(stack) && common < len(want) && stack[common] == want[common] {
			common++
		}
		for i := len(stack) - 1; i >= common; i-- {
			b.WriteString(stack[i].close)
		}
		for _, m := range want[common:] {
			b.WriteString(m.open)
		}
		stack = want
		writeText(b, string(utf16.Decode(units[from:to])))
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteString(stack[i].close)
	}
}

func writeText(b *strings.Builder, s string) {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if i > 0 {
			b.WriteString("<br />")
		}
		b.WriteString(html.EscapeString(line))
	}
}

func tagsFor(s models.Formatting) (string, string, bool) {
	switch s.Type {
	case "strong":
		return "<strong>", "</strong>", true
	case "em":
		return "<em>", "</em>", true
	case "label":
		if s.Data == nil || s.Data.Label == "" {
			return "", "", false
		}
		return `<span class="` + html.EscapeString(s.Data.Label) + `">`, "</span>", true
	case "hyperlink":
		if s.Data == nil {
			return "", "", false
		}
		href, ok := safeURL(s.Data.URL)
		if !ok {
			return "", "", false
		}
		open := `<a href="` + html.EscapeString(href) + `"`
		if s.Data.Target != "" {
			open += ` target="` + html.EscapeString(s.Data.Target) + `" rel="noopener noreferrer"`
		}
		return open + ">", "</a>", true
	}
	return "", "", false
}

// safeURL accepts relative references and http, https and mailto URLs.
func safeURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	switch strings.ToLower(u.Scheme) {
	case "", "http", "https", "mailto":
		return u.String(), true
	}
	return "", false
}
