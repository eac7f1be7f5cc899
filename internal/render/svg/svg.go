// Package svg renders scenario drawings as standalone SVG documents.
package svg

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"fkd-backend/internal/scenario"
)

const (
	fontFamily     = `'Noto Serif JP', 'Hiragino Mincho ProN', 'MS Mincho', serif`
	boldFontFamily = `'Noto Sans JP', 'Hiragino Kaku Gothic ProN', 'MS Gothic', sans-serif`
)

// escape makes s safe as XML character data. Invalid UTF-8 and control
// characters become U+FFFD.
func escape(s string) string {
	var sb strings.Builder
	// strings.Builder writes never fail
	_ = xml.EscapeText(&sb, []byte(s))
	return sb.String()
}

func Render(d scenario.Drawing) []byte {
	var buf bytes.Buffer
	// bytes.Buffer writes never fail
	_ = Write(&buf, d)
	return buf.Bytes()
}

func Write(w io.Writer, d scenario.Drawing) error {
	var buf bytes.Buffer
	fmt.Fprintf(
		&buf,
		`<svg xmlns="http://www.w3.org/2000/svg" width="%.2f" height="%.2f" viewBox="0 0 %.2f %.2f">`+"\n",
		d.Width, d.Height, d.Width, d.Height,
	)
	writeGroup(&buf, d.Root, 1)
	buf.WriteString("</svg>\n")

	_, err := w.Write(buf.Bytes())
	return err
}

func writeGroup(buf *bytes.Buffer, g scenario.Group, depth int) {
	indent := bytes.Repeat([]byte("  "), depth)

	transformed := g.TranslateX != 0 || g.TranslateY != 0 || (g.Scale != 0 && g.Scale != 1)
	if transformed {
		scale := g.Scale
		if scale == 0 {
			scale = 1
		}
		buf.Write(indent)
		fmt.Fprintf(buf, `<g transform="translate(%.2f %.2f) scale(%.4f)">`+"\n", g.TranslateX, g.TranslateY, scale)
		depth++
		indent = bytes.Repeat([]byte("  "), depth)
	}

	for _, cmd := range g.Children {
		switch c := cmd.(type) {
		case scenario.Group:
			writeGroup(buf, c, depth)
			continue
		case scenario.Rect:
			buf.Write(indent)
			fmt.Fprintf(
				buf,
				`<rect x="%.2f" y="%.2f" width="%.2f" height="%.2f" fill="%s" stroke="%s" stroke-width="%.2f" data-category="%s"/>`,
				c.X, c.Y, c.Width, c.Height, c.Fill, c.Stroke, c.StrokeWidth, c.Category,
			)
		case scenario.Line:
			buf.Write(indent)
			fmt.Fprintf(
				buf,
				`<line x1="%.2f" y1="%.2f" x2="%.2f" y2="%.2f" stroke="%s" stroke-width="%.2f"/>`,
				c.X1, c.Y1, c.X2, c.Y2, c.Stroke, c.StrokeWidth,
			)
		case scenario.Text:
			family := fontFamily
			weight := "normal"
			if c.Bold {
				family = boldFontFamily
				weight = "bold"
			}
			buf.Write(indent)
			fmt.Fprintf(
				buf,
				`<text x="%.2f" y="%.2f" font-family="%s" font-size="%.2f" font-weight="%s" fill="%s">%s</text>`,
				c.X, c.Y, escape(family), c.Size, weight, c.Fill, escape(c.Content),
			)
		default:
			continue
		}
		buf.WriteByte('\n')
	}

	if transformed {
		buf.Write(bytes.Repeat([]byte("  "), depth-1))
		buf.WriteString("</g>\n")
	}
}
