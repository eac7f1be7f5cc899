package report

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"strings"
	"testing"

	"fkd-backend/internal/components/telemetry"
	"fkd-backend/internal/scenario"
	"fkd-backend/internal/scrapers/fkd"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type fakeImages struct {
	images map[string][]byte
}

func (f fakeImages) get(key string) ([]byte, error) {
	data, ok := f.images[key]
	if !ok {
		return nil, errors.New("404 not found")
	}
	return data, nil
}

func (f fakeImages) Representative(_ context.Context, name string) ([]byte, error) {
	return f.get("df/" + name)
}

func (f fakeImages) Multimedia(_ context.Context, id string) ([]byte, error) {
	return f.get("mf/" + id)
}

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, width, height))))
	return buf.Bytes()
}

func testRecord() fkd.CaseRecord {
	return fkd.CaseRecord{
		CaseId:         "CZ0200703",
		Url:            "https://www.shippai.org/fkd/cf/CZ0200703.html",
		CaseName:       "浜岡原発タービンの損傷",
		Date:           "2006-06-15",
		Location:       "静岡県御前崎市",
		Facility:       "浜岡原子力発電所5号機",
		Summary:        "定格出力運転中にタービンが損傷した。",
		Phenomenon:     "タービン振動が上昇し、自動停止した。",
		Process:        "振動が上昇した。\n\n原子炉を手動停止した。",
		Cause:          "羽根の設計が共振を考慮していなかった。",
		Countermeasure: "羽根を改良設計品に取り替えた。",
		Knowledge:      []string{"共振を確認すること。", "試験を十分に行うこと。"},
		Scenario: scenario.Structure{
			Cause:  [][]string{{"設計不良", "共振の見落とし", "強度不足"}},
			Action: [][]string{{"運転継続", "振動上昇", "警報無視"}},
			Result: [][]string{{"羽根破損", "自動停止"}},
		},
		Images: fkd.Images{
			Representative: "DZ0200703.png",
			Multimedia: []fkd.Multimedia{
				{Id: "MZ1", Caption: "図1 損傷箇所"},
				{Id: "MZ2", Caption: "図2 羽根"},
				{Id: "MZ3"},
			},
		},
		Sources:         []string{"中部電力 プレスリリース", "報道発表 https://example.com/a"},
		Casualties:      fkd.Casualties{Injuries: 3},
		FinancialDamage: "約100億円",
		Field:           "機械",
		Authors:         []string{"小林 英男", "(東京大学)"},
	}
}

func testImages(t *testing.T) fakeImages {
	return fakeImages{images: map[string][]byte{
		"df/DZ0200703.png": testPNG(t, 40, 20),
		"mf/MZ1":           []byte("not an image"),
	}}
}

func sectionTitles(sections []Section) []string {
	titles := make([]string, len(sections))
	for i, s := range sections {
		titles[i] = s.Title
	}
	return titles
}

func TestSections(t *testing.T) {
	sections := Sections(testRecord())

	expected := []string{
		"", "代表図", "事例概要", "事象", "経過", "原因", "対策", "知識化",
		"シナリオ", "マルチメディアファイル", "情報源", "被害情報", "", "データ作成者",
	}
	if diff := cmp.Diff(expected, sectionTitles(sections)); diff != "" {
		t.Fatal(diff)
	}

	byTitle := map[string]Section{}
	for _, s := range sections {
		byTitle[s.Title] = s
	}

	require.Equal(t, []Block{
		Paragraph{Text: "振動が上昇した。"},
		Paragraph{Text: "原子炉を手動停止した。"},
	}, byTitle["経過"].Blocks)
	require.Equal(t, []Block{
		Paragraph{Text: "・共振を確認すること。"},
		Paragraph{Text: "・試験を十分に行うこと。"},
	}, byTitle["知識化"].Blocks)
	require.Equal(t, []Block{
		Field{Label: "死者数", Value: "0"},
		Field{Label: "負傷者数", Value: "3"},
		Field{Label: "被害金額", Value: "約100億円"},
	}, byTitle["被害情報"].Blocks)
	require.Equal(t, []Block{
		Source{Text: "中部電力 プレスリリース"},
		Source{Text: "報道発表", Url: "https://example.com/a"},
	}, byTitle["情報源"].Blocks)
	require.Equal(t, Figure{Kind: MultimediaFigure, Ref: "MZ3", Caption: "MZ3"}, byTitle["マルチメディアファイル"].Blocks[2])

	scenarioBlocks := byTitle["シナリオ"].Blocks
	require.Len(t, scenarioBlocks, 2)
	require.Equal(t, Paragraph{Text: ScenarioIntro, Small: true}, scenarioBlocks[0])

	require.Equal(t, []Block{Field{Label: "分野", Value: "機械"}}, sections[len(sections)-2].Blocks)
}

func TestSectionsOmitEmpty(t *testing.T) {
	doc := Build(fkd.CaseRecord{CaseName: "空の事例"})
	require.Equal(t, Kicker, doc.Kicker)
	require.Equal(t, "空の事例", doc.Title)
	require.Equal(t, []string{"", "被害情報"}, sectionTitles(doc.Sections))
	require.Empty(t, doc.Figures())
}

func TestParseSource(t *testing.T) {
	cases := []struct {
		line     string
		expected Source
	}{
		{line: "新聞記事", expected: Source{Text: "新聞記事"}},
		{line: "http://a.example/x?y=1", expected: Source{Url: "http://a.example/x?y=1"}},
		{line: "資料 https://b.example/p 2006年", expected: Source{Text: "資料", Url: "https://b.example/p"}},
		{line: "  前置き  https://c.example", expected: Source{Text: "前置き", Url: "https://c.example"}},
	}
	for _, c := range cases {
		t.Run(c.line, func(t *testing.T) {
			require.Equal(t, c.expected, ParseSource(c.line))
		})
	}
}

func TestParseFormats(t *testing.T) {
	formats, err := ParseFormats([]string{"pdf,html", "PDF", " docx "})
	require.NoError(t, err)
	require.Equal(t, []Format{FormatPDF, FormatHTML, FormatDOCX}, formats)

	_, err = ParseFormats([]string{"pdf,odt"})
	require.Error(t, err)
}

func TestLoadImages(t *testing.T) {
	tel := telemetry.NewRecordingAPI()
	renderer, err := NewRenderer(Options{Images: testImages(t)}, tel)
	require.NoError(t, err)

	doc := Build(testRecord())
	images := renderer.loadImages(context.Background(), doc)
	require.Len(t, images, 4)

	rep := images[Figure{Kind: RepresentativeFigure, Ref: "DZ0200703.png", Caption: RepresentativeCaption}]
	require.Empty(t, rep.placeholder)
	require.Equal(t, "png", rep.format)
	require.Equal(t, 40, rep.width)
	require.Equal(t, 20, rep.height)

	broken := images[Figure{Kind: MultimediaFigure, Ref: "MZ1", Caption: "図1 損傷箇所"}]
	require.Equal(t, "[画像読み込みエラー: 図1 損傷箇所]", broken.placeholder)

	missing := images[Figure{Kind: MultimediaFigure, Ref: "MZ2", Caption: "図2 羽根"}]
	require.Equal(t, "[画像取得失敗: 図2 羽根]", missing.placeholder)

	require.Len(t, tel.Reports("warning", report_renderer_image), 3)
}

func TestFigureSize(t *testing.T) {
	w, h := figureSize(loadedImage{width: 800, height: 200}, 100, 100)
	require.InDelta(t, 100, w, 1e-9)
	require.InDelta(t, 25, h, 1e-9)

	w, h = figureSize(loadedImage{width: 10, height: 20}, 100, 100)
	require.InDelta(t, 50, w, 1e-9)
	require.InDelta(t, 100, h, 1e-9)
}

func TestRGB(t *testing.T) {
	r, g, b := rgb("#2c3e50")
	require.Equal(t, []int{0x2c, 0x3e, 0x50}, []int{r, g, b})

	r, g, b = rgb("bad")
	require.Equal(t, []int{0, 0, 0}, []int{r, g, b})
}

func render(t *testing.T, format Format, images ImageSource) (string, *telemetry.RecordingAPI) {
	t.Helper()
	tel := telemetry.NewRecordingAPI()
	renderer, err := NewRenderer(Options{Images: images}, tel)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, renderer.Render(context.Background(), format, &buf, testRecord()))
	return buf.String(), tel
}

func TestRenderHTML(t *testing.T) {
	out, _ := render(t, FormatHTML, testImages(t))

	for _, expected := range []string{
		"<!DOCTYPE html>",
		"<title>浜岡原発タービンの損傷</title>",
		`<p class="kicker">失敗事例</p>`,
		"浜岡原発タービンの損傷</h1>",
		"事例概要</h2>",
		"<strong>事例発生日付：</strong>2006-06-15",
		"data:image/png;base64,",
		"[画像読み込みエラー: 図1 損傷箇所]",
		"[画像取得失敗: 図2 羽根]",
		`href="https://example.com/a"`,
		`<figure class="scenario">`,
		"<svg",
		"01. 設計不良",
		"08. 自動停止",
		"約100億円",
	} {
		require.Contains(t, out, expected)
	}
	require.Equal(t, 8, strings.Count(out, "<rect "))
}

func TestRenderHTMLEscapesMarkup(t *testing.T) {
	record := fkd.CaseRecord{
		CaseName: "A & B",
		Summary:  "<script>alert(1)</script> *not emphasis*",
	}
	renderer, err := NewRenderer(Options{}, telemetry.NewRecordingAPI())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, renderer.Render(context.Background(), FormatHTML, &buf, record))
	out := buf.String()

	require.NotContains(t, out, "<script>")
	require.NotContains(t, out, "<em>")
	require.Contains(t, out, "&lt;script&gt;")
	require.Contains(t, out, "*not emphasis*")
}

func TestRenderPDF(t *testing.T) {
	out, tel := render(t, FormatPDF, testImages(t))
	require.True(t, strings.HasPrefix(out, "%PDF-"))
	require.Empty(t, tel.Reports("broken", ""))
	require.Len(t, tel.Reports("warning", report_renderer_new), 1)
}

func TestRenderPDFWithoutImages(t *testing.T) {
	out, _ := render(t, FormatPDF, nil)
	require.True(t, strings.HasPrefix(out, "%PDF-"))
}

func TestRenderDOCX(t *testing.T) {
	out, _ := render(t, FormatDOCX, testImages(t))

	archive, err := zip.NewReader(strings.NewReader(out), int64(len(out)))
	require.NoError(t, err)

	var document string
	var media int
	for _, f := range archive.File {
		if strings.HasPrefix(f.Name, "word/media/") {
			media++
		}
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		document = string(body)
	}

	require.Equal(t, 1, media)
	for _, expected := range []string{
		"浜岡原発タービンの損傷",
		"事例概要",
		"原因",
		"01. 設計不良",
		"08. 自動停止",
		"[画像取得失敗: 図2 羽根]",
		"DCE6F1",
	} {
		require.Contains(t, document, expected)
	}
}

func TestRenderUnknownFormat(t *testing.T) {
	tel := telemetry.NewRecordingAPI()
	renderer, err := NewRenderer(Options{}, tel)
	require.NoError(t, err)

	err = renderer.Render(context.Background(), Format("odt"), io.Discard, testRecord())
	require.Error(t, err)
	require.Len(t, tel.Reports("broken", report_renderer_render), 1)
}

func TestNewRendererMissingFont(t *testing.T) {
	_, err := NewRenderer(Options{FontFile: t.TempDir() + "/missing.ttf"}, telemetry.NewRecordingAPI())
	require.Error(t, err)
}
