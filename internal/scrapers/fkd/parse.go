package fkd

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"fkd-backend/internal/docmodel"
	"fkd-backend/internal/scenario"
	"fkd-backend/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/antzucaro/matchr"
)

// labelCellColor is the background of the label column on case pages.
const labelCellColor = "#DFE9F2"

const (
	labelCaseName       = "事例名称"
	labelDate           = "事例発生日付"
	labelLocation       = "事例発生地"
	labelFacility       = "事例発生場所"
	labelPhenomenon     = "事象"
	labelResponse       = "対処"
	labelKnowledge      = "知識化"
	labelBackground     = "背景"
	labelRepresentative = "代表図"
	labelMultimedia     = "マルチメディアファイル"
	labelSources        = "情報源"
	labelDeaths         = "死者数"
	labelInjuries       = "負傷者数"
	labelDamage         = "被害金額"
	labelSocialImpact   = "社会への影響"
	labelNotes          = "備考"
	labelField          = "分野"
	labelAuthors        = "データ作成者"
)

var knownLabels = []string{
	labelCaseName, labelDate, labelLocation, labelFacility,
	LabelSummary, labelPhenomenon, LabelProcess, LabelCause, labelResponse,
	LabelCountermeasure, labelKnowledge, labelBackground, labelRepresentative,
	LabelScenario, labelMultimedia, labelSources, labelDeaths, labelInjuries,
	labelDamage, labelSocialImpact, labelNotes, labelField, labelAuthors,
}

// labelSimilarity is the Jaro-Winkler score above which a label cell that
// matches no known label exactly is taken to be a variant spelling.
const labelSimilarity = 0.9

var caseIdRegex = regexp.MustCompile(`/cf/(\w+)\.html`)

// CaseID extracts the case identifier from a case page url.
func CaseID(caseUrl string) (string, error) {
	m := caseIdRegex.FindStringSubmatch(caseUrl)
	if m == nil {
		return "", fmt.Errorf("no case id in url: %s", caseUrl)
	}
	return m[1], nil
}

type fieldMap map[string]*goquery.Selection

var labelNoise = strings.NewReplacer(" ", "", "\u3000", "", "\u00a0", "", "：", "", ":", "")

func normalizeLabel(label string) string {
	return labelNoise.Replace(strings.TrimSpace(label))
}

// lookup returns the value cell of label. Labels are matched exactly, then
// ignoring whitespace and colons, then by similarity against cells whose
// label is not itself a known one.
func (f fieldMap) lookup(label string) *goquery.Selection {
	if v, ok := f[label]; ok {
		return v
	}
	candidates := make([]string, 0, len(f))
	for candidate := range f {
		candidates = append(candidates, candidate)
	}
	sort.Strings(candidates)

	target := normalizeLabel(label)
	for _, candidate := range candidates {
		if normalizeLabel(candidate) == target {
			return f[candidate]
		}
	}

	var best *goquery.Selection
	var bestScore float64
	for _, candidate := range candidates {
		normalized := normalizeLabel(candidate)
		if isKnownLabel(normalized) {
			continue
		}
		score := matchr.JaroWinkler(normalized, target, false)
		if score >= labelSimilarity && score > bestScore {
			best = f[candidate]
			bestScore = score
		}
	}
	return best
}

func isKnownLabel(label string) bool {
	for _, known := range knownLabels {
		if label == known {
			return true
		}
	}
	return false
}

func (f fieldMap) text(label string) string {
	v := f.lookup(label)
	if v == nil {
		return ""
	}
	return htmlutil.StrippedText(v)
}

func (f fieldMap) paragraphs(label string) string {
	v := f.lookup(label)
	if v == nil {
		return ""
	}
	return htmlutil.Paragraphs(htmlutil.RawText(v))
}

func (f fieldMap) raw(label string) string {
	v := f.lookup(label)
	if v == nil {
		return ""
	}
	return htmlutil.RawText(v)
}

// ParseCase extracts a case record from a case page. The scenario is left
// empty; the returned url points at the scenario page when one is linked.
func ParseCase(doc *goquery.Document, caseUrl string) (CaseRecord, string, error) {
	caseId, err := CaseID(caseUrl)
	if err != nil {
		return CaseRecord{}, "", err
	}
	base, err := url.Parse(caseUrl)
	if err != nil {
		return CaseRecord{}, "", err
	}

	fields := fieldMap{}
	var multimedia []Multimedia
	seenMultimedia := map[Multimedia]bool{}
	addMultimedia := func(href, caption string) {
		entry := Multimedia{
			Id:      strings.TrimSuffix(path.Base(href), path.Ext(href)),
			Caption: caption,
		}
		if seenMultimedia[entry] {
			return
		}
		seenMultimedia[entry] = true
		multimedia = append(multimedia, entry)
	}

	rows := doc.Find("table tr")
	rows.Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		labelCell := cells.First()
		valueCell := cells.Last()
		if !strings.EqualFold(labelCell.AttrOr("bgcolor", ""), labelCellColor) {
			return
		}
		label := htmlutil.StrippedText(labelCell)

		if label == labelMultimedia {
			link := valueCell.Find("a").First()
			if link.Length() > 0 {
				addMultimedia(link.AttrOr("href", ""), htmlutil.StrippedText(link))
			}
			return
		}
		fields[label] = valueCell
	})

	// continuation rows of a multimedia block have no label cell
	rows.Find("td a").Each(func(_ int, link *goquery.Selection) {
		href := link.AttrOr("href", "")
		if strings.Contains(href, "/mf/") {
			addMultimedia(href, htmlutil.StrippedText(link))
		}
	})

	record := CaseRecord{
		CaseId:         caseId,
		Url:            caseUrl,
		CaseName:       fields.text(labelCaseName),
		Date:           ParseDate(fields.text(labelDate)),
		Location:       fields.text(labelLocation),
		Facility:       fields.text(labelFacility),
		Summary:        fields.text(LabelSummary),
		Phenomenon:     fields.text(labelPhenomenon),
		Process:        fields.paragraphs(LabelProcess),
		Cause:          fields.paragraphs(LabelCause),
		Response:       fields.paragraphs(labelResponse),
		Countermeasure: fields.paragraphs(LabelCountermeasure),
		Knowledge:      []string{},
		Background:     fields.paragraphs(labelBackground),
		Scenario: scenario.Structure{
			Cause:  [][]string{},
			Action: [][]string{},
			Result: [][]string{},
		},
		Images: Images{
			Multimedia: []Multimedia{},
		},
		Sources: htmlutil.Lines(fields.raw(labelSources)),
		Casualties: Casualties{
			Deaths:   ParseInt(fields.text(labelDeaths)),
			Injuries: ParseInt(fields.text(labelInjuries)),
		},
		FinancialDamage: fields.text(labelDamage),
		SocialImpact:    fields.text(labelSocialImpact),
		Notes:           fields.text(labelNotes),
		Field:           fields.text(labelField),
		Authors:         []string{},
	}
	if record.Sources == nil {
		record.Sources = []string{}
	}
	if fields.lookup(labelKnowledge) != nil {
		record.Knowledge = ParseKnowledge(fields.raw(labelKnowledge))
	}
	if cell := fields.lookup(labelRepresentative); cell != nil {
		src := cell.Find("img").First().AttrOr("src", "")
		if src != "" {
			record.Images.Representative = path.Base(src)
		}
	}
	record.Images.Multimedia = append(record.Images.Multimedia, multimedia...)

	authors := strings.ReplaceAll(fields.paragraphs(labelAuthors), "\u00a0", " ")
	record.Authors = append(record.Authors, htmlutil.Lines(authors)...)

	return record, scenarioLink(doc, fields, base), nil
}

// scenarioLink is the anchor of the scenario field, else the first link to
// a scenario page anywhere on the page.
func scenarioLink(doc *goquery.Document, fields fieldMap, base *url.URL) string {
	var href string
	if cell := fields.lookup(LabelScenario); cell != nil {
		href = cell.Find("a").First().AttrOr("href", "")
	}
	if href == "" {
		doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			candidate := a.AttrOr("href", "")
			if strings.Contains(candidate, "/sf/") {
				href = candidate
				return false
			}
			return true
		})
	}
	if href == "" {
		return ""
	}
	link, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(link).String()
}

// ScenarioFragment locates the left column of a scenario page, the first
// top-aligned cell whose width contains 60%. The whole page is returned
// when no such cell exists.
func ScenarioFragment(doc *goquery.Document) *docmodel.Node {
	var column *goquery.Selection
	doc.Find(`td[valign="top"]`).EachWithBreak(func(_ int, td *goquery.Selection) bool {
		if strings.Contains(td.AttrOr("width", ""), "60%") {
			column = td
			return false
		}
		return true
	})
	if column != nil {
		return docmodel.FromHTML(column.Nodes[0])
	}
	if len(doc.Nodes) == 0 {
		return nil
	}
	return docmodel.FromHTML(doc.Nodes[0])
}

var dateRegex = regexp.MustCompile(`(\d{4})年(\d{1,2})月(\d{1,2})日`)

// ParseDate turns "2004年8月9日" into "2004-08-09". Text without such a
// date is returned unchanged.
func ParseDate(text string) string {
	m := dateRegex.FindStringSubmatch(text)
	if m == nil {
		return text
	}
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	return fmt.Sprintf("%s-%02d-%02d", m[1], month, day)
}

var intRegex = regexp.MustCompile(`\d+`)

// ParseInt returns the first run of digits in text, or 0.
func ParseInt(text string) int {
	m := intRegex.FindString(text)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

var knowledgeNumberRegex = regexp.MustCompile(`^[0-9０-９]+[．.]\s*`)
var knowledgeNumberLineRegex = regexp.MustCompile(`(?m)^[0-9０-９]+[．.]\s*`)

// ParseKnowledge splits the lessons-learned text into items. It accepts
// "・" bullets (continuation lines are appended to the previous bullet),
// numbered lines such as "1．" or "2." and otherwise keeps the whole text
// as one item.
func ParseKnowledge(raw string) []string {
	text := strings.TrimSpace(raw)
	items := []string{}

	switch {
	case strings.Contains(text, "・"):
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "・") {
				items = append(items, strings.TrimSpace(strings.TrimPrefix(line, "・")))
			} else if line != "" && len(items) > 0 {
				items[len(items)-1] += line
			}
		}
	case knowledgeNumberLineRegex.MatchString(text):
		var current []string
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if knowledgeNumberRegex.MatchString(line) {
				if len(current) > 0 {
					items = append(items, strings.Join(current, ""))
				}
				current = []string{knowledgeNumberRegex.ReplaceAllString(line, "")}
			} else if len(current) > 0 {
				current = append(current, line)
			}
		}
		if len(current) > 0 {
			items = append(items, strings.Join(current, ""))
		}
	case text != "":
		items = append(items, text)
	}
	return items
}
