package report

import (
	"regexp"
	"strconv"
	"strings"

	"fkd-backend/internal/scenario"
	"fkd-backend/internal/scrapers/fkd"
)

const (
	Kicker = "失敗事例"

	// ScenarioIntro precedes the scenario diagram.
	ScenarioIntro = "以下は「失敗マンダラ」の概念に従った対角線図です。" +
		"左上（原因）から右下（結果）へ、時系列に沿って脈絡として展開しています。"

	RepresentativeCaption = "代表図"
)

// Block is one element of a section: Paragraph, Field, Figure, Diagram
// or Source.
type Block interface {
	block()
}

type Paragraph struct {
	Text string
	// Small paragraphs use the note style.
	Small bool
}

// Field is a "label：value" line.
type Field struct {
	Label string
	Value string
}

type FigureKind int

const (
	RepresentativeFigure FigureKind = iota
	MultimediaFigure
)

// Figure is an image fetched through an ImageSource. Ref is the df/ file
// name for representative figures and the mf/ id for multimedia files.
type Figure struct {
	Kind    FigureKind
	Ref     string
	Caption string
}

type Diagram struct {
	Scenario scenario.Structure
}

// Source is an information source line. Url is empty when the line has
// no link.
type Source struct {
	Text string
	Url  string
}

func (Paragraph) block() {}
func (Field) block()     {}
func (Figure) block()    {}
func (Diagram) block()   {}
func (Source) block()    {}

// Section is a headed run of blocks. Sections with an empty title are
// rendered without a heading.
type Section struct {
	Title  string
	Blocks []Block
}

type Document struct {
	Kicker   string
	Title    string
	Sections []Section
}

// Figures lists every figure of the document in order.
func (d Document) Figures() []Figure {
	var figures []Figure
	for _, s := range d.Sections {
		for _, b := range s.Blocks {
			if f, ok := b.(Figure); ok {
				figures = append(figures, f)
			}
		}
	}
	return figures
}

var sourceUrl = regexp.MustCompile(`https?://\S+`)

// Build arranges a record into the report layout.
func Build(record fkd.CaseRecord) Document {
	return Document{
		Kicker:   Kicker,
		Title:    record.CaseName,
		Sections: Sections(record),
	}
}

// Sections returns the report sections of a record in reading order.
// Empty optional fields produce no section.
func Sections(record fkd.CaseRecord) []Section {
	sections := []Section{{
		Blocks: []Block{
			Field{Label: "事例名称", Value: record.CaseName},
			Field{Label: "事例発生日付", Value: record.Date},
			Field{Label: "事例発生地", Value: record.Location},
			Field{Label: "事例発生場所", Value: record.Facility},
		},
	}}

	if record.Images.Representative != "" {
		sections = append(sections, Section{
			Title: "代表図",
			Blocks: []Block{Figure{
				Kind:    RepresentativeFigure,
				Ref:     record.Images.Representative,
				Caption: RepresentativeCaption,
			}},
		})
	}

	texts := []struct {
		title string
		value string
	}{
		{"事例概要", record.Summary},
		{"事象", record.Phenomenon},
		{"経過", record.Process},
		{"原因", record.Cause},
		{"対処", record.Response},
		{"対策", record.Countermeasure},
	}
	for _, t := range texts {
		if t.value != "" {
			sections = append(sections, textSection(t.title, t.value))
		}
	}

	if len(record.Knowledge) > 0 {
		lines := make([]string, len(record.Knowledge))
		for i, k := range record.Knowledge {
			lines[i] = "・" + k
		}
		sections = append(sections, textSection("知識化", strings.Join(lines, "\n")))
	}
	if record.Background != "" {
		sections = append(sections, textSection("背景", record.Background))
	}

	if !record.Scenario.Empty() {
		sections = append(sections, Section{
			Title: "シナリオ",
			Blocks: []Block{
				Paragraph{Text: ScenarioIntro, Small: true},
				Diagram{Scenario: record.Scenario},
			},
		})
	}

	if len(record.Images.Multimedia) > 0 {
		s := Section{Title: "マルチメディアファイル"}
		for _, m := range record.Images.Multimedia {
			caption := m.Caption
			if caption == "" {
				caption = m.Id
			}
			s.Blocks = append(s.Blocks, Figure{Kind: MultimediaFigure, Ref: m.Id, Caption: caption})
		}
		sections = append(sections, s)
	}

	if len(record.Sources) > 0 {
		s := Section{Title: "情報源"}
		for _, src := range record.Sources {
			s.Blocks = append(s.Blocks, ParseSource(src))
		}
		sections = append(sections, s)
	}

	damage := Section{
		Title: "被害情報",
		Blocks: []Block{
			Field{Label: "死者数", Value: strconv.Itoa(record.Casualties.Deaths)},
			Field{Label: "負傷者数", Value: strconv.Itoa(record.Casualties.Injuries)},
		},
	}
	if record.FinancialDamage != "" {
		damage.Blocks = append(damage.Blocks, Field{Label: "被害金額", Value: record.FinancialDamage})
	}
	sections = append(sections, damage)

	if record.SocialImpact != "" {
		sections = append(sections, textSection("社会への影響", record.SocialImpact))
	}
	if record.Notes != "" {
		sections = append(sections, textSection("備考", record.Notes))
	}
	if record.Field != "" {
		sections = append(sections, Section{
			Blocks: []Block{Field{Label: "分野", Value: record.Field}},
		})
	}
	if len(record.Authors) > 0 {
		sections = append(sections, textSection("データ作成者", strings.Join(record.Authors, "\n")))
	}

	return sections
}

// ParseSource splits a source line into its leading text and the first
// URL in it.
func ParseSource(line string) Source {
	loc := sourceUrl.FindStringIndex(line)
	if loc == nil {
		return Source{Text: line}
	}
	return Source{
		Text: strings.TrimSpace(line[:loc[0]]),
		Url:  line[loc[0]:loc[1]],
	}
}

func textSection(title, value string) Section {
	s := Section{Title: title}
	for _, line := range strings.Split(value, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		s.Blocks = append(s.Blocks, Paragraph{Text: line})
	}
	return s
}
