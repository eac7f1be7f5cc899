package report

import (
	"bytes"
	"fmt"
	"io"

	"fkd-backend/internal/scenario"

	"github.com/go-pdf/fpdf"
)

const (
	a4Width    = 210 * scenario.Millimeter
	a4Height   = 297 * scenario.Millimeter
	pageMargin = 20 * scenario.Millimeter
	// framePadding is the inner padding each side of the text frame.
	framePadding = 6.0

	coreFamily = "Helvetica"
	fontFamily = "fkd"
)

var (
	titleColor   = scenario.Color("#1a1a1a")
	headingColor = scenario.Color("#2c3e50")
	headingFill  = scenario.Color("#ecf0f1")
	bodyColor    = scenario.Color("#333333")
	labelColor   = scenario.Color("#555555")
	smallColor   = scenario.Color("#666666")
	linkColor    = scenario.Color("#0000ff")
)

type textStyle struct {
	bold        bool
	size        float64
	leading     float64
	spaceBefore float64
	spaceAfter  float64
	color       scenario.Color
	align       string
}

var (
	styleTitle      = textStyle{bold: true, size: 18, leading: 26, spaceAfter: 12, color: titleColor, align: "C"}
	styleHeading    = textStyle{bold: true, size: 13, leading: 20, spaceBefore: 16, spaceAfter: 6, color: headingColor, align: "L"}
	styleBody       = textStyle{size: 10, leading: 18, spaceAfter: 6, color: bodyColor, align: "L"}
	styleLabel      = textStyle{bold: true, size: 10, leading: 16, spaceAfter: 2, color: labelColor, align: "L"}
	styleFieldLabel = textStyle{bold: true, size: 10, color: bodyColor}
	styleSmall      = textStyle{size: 9, leading: 14, spaceAfter: 4, color: smallColor, align: "L"}
	styleCaption    = textStyle{bold: true, size: 9, leading: 14, spaceAfter: 10, color: labelColor, align: "C"}
)

type pdfWriter struct {
	pdf    *fpdf.Fpdf
	family string
	images map[Figure]loadedImage
	seq    int
}

func (r *Renderer) renderPDF(w io.Writer, doc Document, images map[Figure]loadedImage) error {
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	pdf.SetTitle(doc.Title, true)
	pdf.SetCreator("fkd", true)

	family := coreFamily
	if r.regularFont != nil {
		family = fontFamily
		pdf.AddUTF8FontFromBytes(family, "", r.regularFont)
		pdf.AddUTF8FontFromBytes(family, "B", r.boldFont)
		if err := pdf.Error(); err != nil {
			return fmt.Errorf("load font: %w", err)
		}
	}

	pw := &pdfWriter{pdf: pdf, family: family, images: images}
	pdf.AddPage()

	pdf.Ln(10 * scenario.Millimeter)
	pw.paragraph(doc.Kicker, styleLabel, false)
	pw.paragraph(doc.Title, styleTitle, false)
	pw.rule()
	pdf.Ln(5 * scenario.Millimeter)

	for i, s := range doc.Sections {
		if s.Title != "" {
			pw.paragraph(s.Title, styleHeading, true)
		}
		for _, b := range s.Blocks {
			pw.block(b)
		}
		if s.Title == "" && i == 0 {
			pdf.Ln(3 * scenario.Millimeter)
		}
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func (p *pdfWriter) setStyle(st textStyle) {
	style := ""
	if st.bold {
		style = "B"
	}
	p.pdf.SetFont(p.family, style, st.size)
	p.pdf.SetTextColor(rgb(st.color))
}

func (p *pdfWriter) paragraph(text string, st textStyle, fill bool) {
	if st.spaceBefore > 0 {
		p.pdf.Ln(st.spaceBefore)
	}
	p.setStyle(st)
	if fill {
		p.pdf.SetFillColor(rgb(headingFill))
	}
	p.pdf.MultiCell(0, st.leading, text, "", st.align, fill)
	p.pdf.Ln(st.spaceAfter)
}

func (p *pdfWriter) rule() {
	left, _, right, _ := p.pdf.GetMargins()
	width, _ := p.pdf.GetPageSize()
	y := p.pdf.GetY()
	p.pdf.SetDrawColor(rgb(headingColor))
	p.pdf.SetLineWidth(1)
	p.pdf.Line(left, y, width-right, y)
	p.pdf.Ln(1)
}

func (p *pdfWriter) block(b Block) {
	switch b := b.(type) {
	case Paragraph:
		st := styleBody
		if b.Small {
			st = styleSmall
		}
		p.paragraph(b.Text, st, false)
	case Field:
		p.field(b)
	case Source:
		p.source(b)
	case Figure:
		p.figure(b)
	case Diagram:
		p.diagram(b)
	}
}

func (p *pdfWriter) field(f Field) {
	p.setStyle(styleFieldLabel)
	p.pdf.Write(styleBody.leading, f.Label+"：")
	p.setStyle(styleBody)
	p.pdf.Write(styleBody.leading, f.Value)
	p.pdf.Ln(styleBody.leading + styleBody.spaceAfter)
}

func (p *pdfWriter) source(s Source) {
	if s.Url == "" {
		p.paragraph(s.Text, styleBody, false)
		return
	}
	p.setStyle(styleBody)
	if s.Text != "" {
		p.pdf.Write(styleBody.leading, s.Text+" ")
	}
	p.pdf.SetTextColor(rgb(linkColor))
	p.pdf.SetFontStyle("U")
	p.pdf.WriteLinkString(styleBody.leading, s.Url, s.Url)
	p.pdf.SetFontStyle("")
	p.pdf.Ln(styleBody.leading + styleBody.spaceAfter)
}

func (p *pdfWriter) figure(f Figure) {
	img := p.images[f]
	if img.placeholder != "" {
		p.paragraph(img.placeholder, styleSmall, false)
		return
	}

	p.seq++
	name := fmt.Sprintf("figure-%d", p.seq)
	info := p.pdf.RegisterImageOptionsReader(
		name,
		fpdf.ImageOptions{ImageType: img.format},
		bytes.NewReader(img.data),
	)
	if info == nil || !p.pdf.Ok() {
		p.pdf.ClearError()
		p.paragraph(embedFailed(f.Caption), styleSmall, false)
		return
	}

	w, h := figureSize(img, figureMaxWidth, figureMaxHeight)
	if p.remaining() < h {
		p.pdf.AddPage()
	}
	pageWidth, _ := p.pdf.GetPageSize()
	x := (pageWidth - w) / 2
	y := p.pdf.GetY()
	p.pdf.ImageOptions(name, x, y, w, h, false, fpdf.ImageOptions{ImageType: img.format}, 0, "")
	p.pdf.SetY(y + h + 4)
	p.paragraph(f.Caption, styleCaption, false)
	p.pdf.Ln(3 * scenario.Millimeter)
}

// remaining is the vertical space left above the bottom margin.
func (p *pdfWriter) remaining() float64 {
	_, height := p.pdf.GetPageSize()
	_, bottom := p.pdf.GetAutoPageBreak()
	return height - bottom - p.pdf.GetY()
}

// DiagramBounds is the text frame of an A4 page.
var DiagramBounds = scenario.Bounds{
	MaxWidth:  a4Width - 2*pageMargin - 2*framePadding,
	MaxHeight: a4Height - 2*pageMargin - 2*framePadding,
}

func (p *pdfWriter) diagram(d Diagram) {
	layout := scenario.Layout(d.Scenario, DiagramBounds)
	if layout == nil {
		return
	}
	p.pdf.Ln(3 * scenario.Millimeter)
	if p.remaining() < layout.CanvasHeight {
		p.pdf.AddPage()
	}

	left, _, _, _ := p.pdf.GetMargins()
	x0 := left + framePadding
	y0 := p.pdf.GetY()

	drawing := layout.Draw()
	scenario.Walk(drawing.Root, func(cmd scenario.Command, tx, ty, k float64) {
		ox, oy := x0+tx, y0+ty
		switch c := cmd.(type) {
		case scenario.Rect:
			p.pdf.SetFillColor(rgb(c.Fill))
			p.pdf.SetDrawColor(rgb(c.Stroke))
			p.pdf.SetLineWidth(c.StrokeWidth * k)
			p.pdf.Rect(ox+c.X*k, oy+c.Y*k, c.Width*k, c.Height*k, "FD")
		case scenario.Line:
			p.pdf.SetDrawColor(rgb(c.Stroke))
			p.pdf.SetLineWidth(c.StrokeWidth * k)
			p.pdf.Line(ox+c.X1*k, oy+c.Y1*k, ox+c.X2*k, oy+c.Y2*k)
		case scenario.Text:
			style := ""
			if c.Bold {
				style = "B"
			}
			p.pdf.SetFont(p.family, style, c.Size*k)
			p.pdf.SetTextColor(rgb(c.Fill))
			p.pdf.Text(ox+c.X*k, oy+c.Y*k, c.Content)
		}
	})

	p.pdf.SetY(y0 + drawing.Height + 5*scenario.Millimeter)
}
