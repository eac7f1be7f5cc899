package report

import (
	"fmt"
	"io"
	"strings"

	"fkd-backend/internal/scenario"

	"github.com/fumiama/go-docx"
)

const (
	docxBodyFont    = "Yu Mincho"
	docxHeadingFont = "Yu Gothic"

	// emuPerPoint converts points to English Metric Units.
	emuPerPoint = 12700
)

// twips converts points to twentieths of a point.
func twips(pt float64) int {
	return int(pt * 20)
}

// halfPoints formats a font size for Run.Size.
func halfPoints(pt float64) string {
	return fmt.Sprintf("%d", int(pt*2+0.5))
}

func hexColor(c scenario.Color) string {
	return strings.ToUpper(strings.TrimPrefix(string(c), "#"))
}

type docxWriter struct {
	doc    *docx.Docx
	images map[Figure]loadedImage
}

func (r *Renderer) renderDOCX(w io.Writer, doc Document, images map[Figure]loadedImage) error {
	dw := &docxWriter{
		doc:    docx.New().WithDefaultTheme().WithA4Page(),
		images: images,
	}

	dw.run(dw.doc.AddParagraph(), doc.Kicker, styleLabel)
	dw.run(dw.doc.AddParagraph().Justification("center"), doc.Title, styleTitle)
	dw.rule()

	for _, s := range doc.Sections {
		if s.Title != "" {
			dw.heading(s.Title)
		}
		for _, b := range s.Blocks {
			dw.block(b)
		}
	}

	if _, err := dw.doc.WriteTo(w); err != nil {
		return fmt.Errorf("write docx: %w", err)
	}
	return nil
}

func (d *docxWriter) run(p *docx.Paragraph, text string, st textStyle) *docx.Run {
	font := docxBodyFont
	if st.bold {
		font = docxHeadingFont
	}
	run := p.AddText(text).
		Size(halfPoints(st.size)).
		Color(hexColor(st.color)).
		Font(font, font, font, "eastAsia")
	if st.bold {
		run.Bold()
	}
	return run
}

func (d *docxWriter) rule() {
	p := d.doc.AddParagraph()
	p.Properties = &docx.ParagraphProperties{
		Spacing: &docx.Spacing{Line: twips(1), LineRule: "exact"},
		Shade:   &docx.Shade{Val: "clear", Color: "auto", Fill: hexColor(headingColor)},
	}
	p.AddText(" ")
}

func (d *docxWriter) heading(title string) {
	p := d.doc.AddParagraph()
	p.Properties = &docx.ParagraphProperties{
		Spacing: &docx.Spacing{Before: twips(styleHeading.spaceBefore)},
		Shade:   &docx.Shade{Val: "clear", Color: "auto", Fill: hexColor(headingFill)},
	}
	d.run(p, title, styleHeading)
}

func (d *docxWriter) block(b Block) {
	switch b := b.(type) {
	case Paragraph:
		st := styleBody
		if b.Small {
			st = styleSmall
		}
		d.run(d.doc.AddParagraph(), b.Text, st)
	case Field:
		p := d.doc.AddParagraph()
		d.run(p, b.Label+"：", styleFieldLabel)
		d.run(p, b.Value, styleBody)
	case Source:
		p := d.doc.AddParagraph()
		if b.Url == "" {
			d.run(p, b.Text, styleBody)
			return
		}
		if b.Text != "" {
			d.run(p, b.Text+" ", styleBody)
		}
		p.AddLink(b.Url, b.Url)
	case Figure:
		d.figure(b)
	case Diagram:
		d.diagram(b)
	}
}

func (d *docxWriter) figure(f Figure) {
	img := d.images[f]
	if img.placeholder != "" {
		d.run(d.doc.AddParagraph(), img.placeholder, styleSmall)
		return
	}

	p := d.doc.AddParagraph().Justification("center")
	run, err := p.AddInlineDrawing(img.data)
	if err != nil {
		d.run(d.doc.AddParagraph(), embedFailed(f.Caption), styleSmall)
		return
	}
	w, h := figureSize(img, figureMaxWidth, figureMaxHeight)
	resizeDrawing(run, int64(w*emuPerPoint), int64(h*emuPerPoint))

	d.run(d.doc.AddParagraph().Justification("center"), f.Caption, styleCaption)
}

// resizeDrawing overrides the extent AddInlineDrawing picks for an image.
func resizeDrawing(run *docx.Run, cx, cy int64) {
	for _, child := range run.Children {
		drawing, ok := child.(*docx.Drawing)
		if !ok || drawing.Inline == nil {
			continue
		}
		if drawing.Inline.Extent != nil {
			drawing.Inline.Extent.CX = cx
			drawing.Inline.Extent.CY = cy
		}
		graphic := drawing.Inline.Graphic
		if graphic != nil && graphic.GraphicData != nil && graphic.GraphicData.Pic != nil && graphic.GraphicData.Pic.SpPr != nil {
			graphic.GraphicData.Pic.SpPr.Xfrm.Ext.CX = cx
			graphic.GraphicData.Pic.SpPr.Xfrm.Ext.CY = cy
		}
	}
}

// diagram writes the scenario as one shaded paragraph per bar, indented
// by the bar's x offset and spaced by the vertical gap above it.
func (d *docxWriter) diagram(diag Diagram) {
	layout := scenario.Layout(diag.Scenario, DiagramBounds)
	if layout == nil {
		return
	}

	caption := d.doc.AddParagraph()
	d.run(caption, scenario.AxisCaption, textStyle{bold: true, size: scenario.CaptionFontSize, color: scenario.CaptionColor})

	braceAt := map[int]scenario.Brace{}
	for _, b := range layout.Braces {
		for i, bar := range layout.Bars {
			if bar.Category == b.Category {
				braceAt[i] = b
				break
			}
		}
	}

	prevBottom := layout.Bars[0].Y
	for i, bar := range layout.Bars {
		if b, ok := braceAt[i]; ok {
			p := d.doc.AddParagraph()
			p.Properties = &docx.ParagraphProperties{
				Ind: &docx.Ind{Left: twips(bar.X)},
			}
			d.run(p, b.Category.Label(), textStyle{bold: true, size: scenario.BraceFontSize, color: scenario.BraceLabel})
		}

		p := d.doc.AddParagraph()
		p.Properties = &docx.ParagraphProperties{
			Ind: &docx.Ind{Left: twips(bar.X)},
			Spacing: &docx.Spacing{
				Before:   twips(max(0, bar.Y-prevBottom)),
				Line:     twips(bar.Height),
				LineRule: "exact",
			},
		}
		run := d.run(p, bar.Label(), textStyle{size: scenario.LabelFontSize * layout.Scale, color: scenario.LabelColor})
		run.Shade("clear", "auto", hexColor(bar.Category.Fill()))
		prevBottom = bar.Y + bar.Height
	}
}
