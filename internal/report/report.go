// Package report renders case records as paginated documents.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strconv"
	"strings"

	"fkd-backend/internal/components/assert"
	"fkd-backend/internal/components/telemetry"
	"fkd-backend/internal/scenario"
	"fkd-backend/internal/scrapers/fkd"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const (
	report_renderer_new    = "renderer.new"
	report_renderer_image  = "renderer.image"
	report_renderer_render = "renderer.render"
)

var tracer = otel.Tracer("fkd.report")

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatHTML Format = "html"
)

var Formats = []Format{FormatPDF, FormatDOCX, FormatHTML}

// Ext is the file extension without the leading dot.
func (f Format) Ext() string {
	return string(f)
}

// ParseFormats parses format names, accepting comma separated lists.
func ParseFormats(names []string) ([]Format, error) {
	var out []Format
	seen := map[Format]bool{}
	for _, name := range names {
		for _, part := range strings.Split(name, ",") {
			f := Format(strings.ToLower(strings.TrimSpace(part)))
			if f == "" {
				continue
			}
			switch f {
			case FormatPDF, FormatDOCX, FormatHTML:
			default:
				return nil, fmt.Errorf("unknown report format %q", part)
			}
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out, nil
}

// ImageSource fetches the images a report embeds.
type ImageSource interface {
	Representative(ctx context.Context, name string) ([]byte, error)
	Multimedia(ctx context.Context, id string) ([]byte, error)
}

type Options struct {
	// Images may be nil, in which case every figure renders as a
	// placeholder.
	Images ImageSource
	// FontFile is a TrueType font with Japanese glyphs used for body
	// text. BoldFontFile is used for headings and defaults to FontFile.
	FontFile     string
	BoldFontFile string
	// ImageConcurrency bounds parallel image fetches per report.
	ImageConcurrency int
}

type Renderer struct {
	images           ImageSource
	imageConcurrency int
	regularFont      []byte
	boldFont         []byte
	tel              telemetry.API
}

func NewRenderer(opts Options, tel telemetry.API) (*Renderer, error) {
	assert.NotNil(tel)
	tel = telemetry.NewScopedAPI("report", tel)

	r := &Renderer{
		images:           opts.Images,
		imageConcurrency: opts.ImageConcurrency,
		tel:              tel,
	}
	if r.imageConcurrency <= 0 {
		r.imageConcurrency = 4
	}

	if opts.FontFile != "" {
		font, err := os.ReadFile(opts.FontFile)
		if err != nil {
			return nil, fmt.Errorf("read font: %w", err)
		}
		r.regularFont = font
		r.boldFont = font
	}
	if opts.BoldFontFile != "" {
		font, err := os.ReadFile(opts.BoldFontFile)
		if err != nil {
			return nil, fmt.Errorf("read bold font: %w", err)
		}
		r.boldFont = font
		if r.regularFont == nil {
			r.regularFont = font
		}
	}
	if r.regularFont == nil {
		tel.ReportWarning(report_renderer_new, errors.New("no font file configured, PDF text falls back to a core font without Japanese glyphs"))
	}

	return r, nil
}

// Render writes the report of a record in the given format.
func (r *Renderer) Render(ctx context.Context, format Format, w io.Writer, record fkd.CaseRecord) error {
	ctx, span := tracer.Start(ctx, "report.Renderer.Render")
	defer span.End()
	span.SetAttributes(
		attribute.String("case_id", record.CaseId),
		attribute.String("format", string(format)),
	)

	doc := Build(record)
	images := r.loadImages(ctx, doc)

	var err error
	switch format {
	case FormatPDF:
		err = r.renderPDF(w, doc, images)
	case FormatDOCX:
		err = r.renderDOCX(w, doc, images)
	case FormatHTML:
		err = r.renderHTML(w, doc, images)
	default:
		err = fmt.Errorf("unknown report format %q", format)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		r.tel.ReportBroken(report_renderer_render, err, record.CaseId, string(format))
		return err
	}
	return nil
}

// loadedImage is a fetched and validated figure. Placeholder is set when
// the figure cannot be shown.
type loadedImage struct {
	data        []byte
	format      string
	width       int
	height      int
	placeholder string
}

func fetchFailed(caption string) string {
	return fmt.Sprintf("[画像取得失敗: %s]", caption)
}

func embedFailed(caption string) string {
	return fmt.Sprintf("[画像読み込みエラー: %s]", caption)
}

func (r *Renderer) loadImages(ctx context.Context, doc Document) map[Figure]loadedImage {
	figures := doc.Figures()
	loaded := make([]loadedImage, len(figures))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(r.imageConcurrency)
	for i, fig := range figures {
		group.Go(func() error {
			loaded[i] = r.loadImage(ctx, fig)
			return nil
		})
	}
	// loadImage never fails, failures become placeholders
	_ = group.Wait()

	out := make(map[Figure]loadedImage, len(figures))
	for i, fig := range figures {
		out[fig] = loaded[i]
	}
	return out
}

func (r *Renderer) loadImage(ctx context.Context, fig Figure) loadedImage {
	if r.images == nil {
		return loadedImage{placeholder: fetchFailed(fig.Caption)}
	}

	var (
		data []byte
		err  error
	)
	switch fig.Kind {
	case RepresentativeFigure:
		data, err = r.images.Representative(ctx, fig.Ref)
	case MultimediaFigure:
		data, err = r.images.Multimedia(ctx, fig.Ref)
	}
	if err != nil {
		r.tel.ReportWarning(report_renderer_image, err, fig.Ref)
		return loadedImage{placeholder: fetchFailed(fig.Caption)}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		r.tel.ReportWarning(report_renderer_image, fmt.Errorf("decode image: %w", err), fig.Ref)
		return loadedImage{placeholder: embedFailed(fig.Caption)}
	}
	return loadedImage{
		data:   data,
		format: format,
		width:  cfg.Width,
		height: cfg.Height,
	}
}

// figureSize fits an image into maxWidth x maxHeight keeping its aspect
// ratio. Pixels count as points.
func figureSize(img loadedImage, maxWidth, maxHeight float64) (float64, float64) {
	iw, ih := float64(img.width), float64(img.height)
	ratio := min(maxWidth/iw, maxHeight/ih)
	return iw * ratio, ih * ratio
}

const (
	figureMaxWidth  = 160 * scenario.Millimeter
	figureMaxHeight = 120 * scenario.Millimeter
)

// rgb parses a "#rrggbb" color.
func rgb(c scenario.Color) (int, int, int) {
	s := strings.TrimPrefix(string(c), "#")
	if len(s) != 6 {
		return 0, 0, 0
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, 0, 0
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)
}
