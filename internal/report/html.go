package report

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html"
	"io"
	"strings"

	"fkd-backend/internal/render/svg"
	"fkd-backend/internal/scenario"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

const printCSS = `
@page { size: A4; margin: 20mm; }
body { font-family: 'Noto Serif JP', 'Hiragino Mincho ProN', serif; font-size: 10pt; line-height: 1.8; color: #333333; max-width: 170mm; margin: 0 auto; }
h1, h2, .kicker, figcaption { font-family: 'Noto Sans JP', 'Hiragino Kaku Gothic ProN', sans-serif; }
.kicker { font-size: 10pt; color: #555555; font-weight: bold; margin-bottom: 0; }
h1 { font-size: 18pt; text-align: center; color: #1a1a1a; }
hr { border: 0; border-top: 1px solid #2c3e50; }
h2 { font-size: 13pt; color: #2c3e50; background: #ecf0f1; padding: 4px; margin-top: 16pt; break-after: avoid; }
p.small { font-size: 9pt; color: #666666; }
figure { text-align: center; margin: 0 0 10pt; break-inside: avoid; }
figure img { max-width: 160mm; max-height: 120mm; }
figcaption { font-size: 9pt; font-weight: bold; color: #555555; }
figure.scenario svg { max-width: 100%; height: auto; }
`

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Linkify),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	goldmark.WithRendererOptions(goldmarkhtml.WithUnsafe()),
)

// markdownBody writes the document body as markdown. Figures, the
// scenario diagram and note paragraphs are embedded as raw HTML.
func markdownBody(doc Document, images map[Figure]loadedImage) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "<p class=\"kicker\">%s</p>\n\n", html.EscapeString(doc.Kicker))
	fmt.Fprintf(&buf, "# %s\n\n---\n\n", escapeMarkdown(doc.Title))

	for _, s := range doc.Sections {
		if s.Title != "" {
			fmt.Fprintf(&buf, "## %s\n\n", escapeMarkdown(s.Title))
		}
		for _, b := range s.Blocks {
			writeMarkdownBlock(&buf, b, images)
		}
	}
	return buf.Bytes()
}

func writeMarkdownBlock(buf *bytes.Buffer, b Block, images map[Figure]loadedImage) {
	switch b := b.(type) {
	case Paragraph:
		if b.Small {
			fmt.Fprintf(buf, "<p class=\"small\">%s</p>\n\n", html.EscapeString(b.Text))
			return
		}
		fmt.Fprintf(buf, "%s\n\n", escapeMarkdown(b.Text))
	case Field:
		fmt.Fprintf(buf, "<strong>%s：</strong>%s\n\n", html.EscapeString(b.Label), escapeMarkdown(b.Value))
	case Source:
		if b.Url == "" {
			fmt.Fprintf(buf, "%s\n\n", escapeMarkdown(b.Text))
			return
		}
		if b.Text != "" {
			fmt.Fprintf(buf, "%s ", escapeMarkdown(b.Text))
		}
		fmt.Fprintf(buf, "[%s](<%s>)\n\n", escapeMarkdown(b.Url), b.Url)
	case Figure:
		img, ok := images[b]
		if !ok || img.placeholder != "" {
			placeholder := img.placeholder
			if placeholder == "" {
				placeholder = fetchFailed(b.Caption)
			}
			fmt.Fprintf(buf, "<p class=\"small\">%s</p>\n\n", html.EscapeString(placeholder))
			return
		}
		fmt.Fprintf(
			buf,
			"<figure><img src=\"data:image/%s;base64,%s\" alt=\"%s\"><figcaption>%s</figcaption></figure>\n\n",
			img.format,
			base64.StdEncoding.EncodeToString(img.data),
			html.EscapeString(b.Caption),
			html.EscapeString(b.Caption),
		)
	case Diagram:
		layout := scenario.Layout(b.Scenario, DiagramBounds)
		if layout == nil {
			return
		}
		buf.WriteString("<figure class=\"scenario\">\n")
		buf.Write(svg.Render(layout.Draw()))
		buf.WriteString("</figure>\n\n")
	}
}

var markdownEscaper = func() *strings.Replacer {
	const punctuation = "\\`*_{}[]()<>#+-.!|~&"
	pairs := make([]string, 0, len(punctuation)*2)
	for _, c := range punctuation {
		pairs = append(pairs, string(c), "\\"+string(c))
	}
	return strings.NewReplacer(pairs...)
}()

// escapeMarkdown makes text render literally.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func (r *Renderer) renderHTML(w io.Writer, doc Document, images map[Figure]loadedImage) error {
	var body bytes.Buffer
	if err := markdown.Convert(markdownBody(doc, images), &body); err != nil {
		return fmt.Errorf("convert markdown: %w", err)
	}

	var out bytes.Buffer
	out.WriteString("<!DOCTYPE html>\n<html lang=\"ja\">\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&out, "<title>%s</title>\n", html.EscapeString(doc.Title))
	fmt.Fprintf(&out, "<style>%s</style>\n", printCSS)
	out.WriteString("</head>\n<body>\n<article>\n")
	out.Write(body.Bytes())
	out.WriteString("</article>\n</body>\n</html>\n")

	if _, err := w.Write(out.Bytes()); err != nil {
		return fmt.Errorf("write html: %w", err)
	}
	return nil
}
