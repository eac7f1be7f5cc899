package scenario

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"fkd-backend/internal/docmodel"
)

type AnomalyKind string

const (
	// AnomalyDuplicateNumber: two items carried the same number, the one
	// seen last in document order was kept.
	AnomalyDuplicateNumber AnomalyKind = "duplicate_number"
	// AnomalyNumberGap: item numbers did not form 1..n, items were
	// renumbered in sorted order.
	AnomalyNumberGap AnomalyKind = "number_gap"
	// AnomalyMissingBody: a numbered cell had no body cell in its row.
	AnomalyMissingBody AnomalyKind = "missing_body"
	// AnomalyMissingSpacer: a separator image had no spacer in its row.
	AnomalyMissingSpacer AnomalyKind = "missing_spacer"
	// AnomalyMalformedGeometry: the spacer width was missing, not a whole
	// pixel count, or below the grammar origin.
	AnomalyMalformedGeometry AnomalyKind = "malformed_geometry"
	// AnomalyIndexOutOfRange: a separator pointed past the decoded items.
	AnomalyIndexOutOfRange AnomalyKind = "index_out_of_range"
	// AnomalyExtraBoundary: more than two category boundaries were found,
	// only the first two are used.
	AnomalyExtraBoundary AnomalyKind = "extra_boundary"
)

// Anomaly is a data problem found while decoding. Anomalies never stop
// decoding, they describe what was dropped or reinterpreted.
type Anomaly struct {
	Kind   AnomalyKind
	Detail string
}

func (a Anomaly) String() string {
	return fmt.Sprintf("%s: %s", a.Kind, a.Detail)
}

type Extraction struct {
	// Items are sorted and renumbered 1..n.
	Items     []NumberedItem
	Marks     []SeparatorMark
	Anomalies []Anomaly
}

var itemNumberRegex = regexp.MustCompile(`^(\d+)\.`)

// Extract reads numbered items and separator marks from a scenario page
// fragment. A nil fragment yields an empty extraction.
func Extract(fragment *docmodel.Node) Extraction {
	var out Extraction
	if fragment == nil {
		return out
	}
	out.Items = extractItems(fragment, &out.Anomalies)
	out.Marks = extractMarks(fragment, &out.Anomalies)
	return out
}

func extractItems(fragment *docmodel.Node, anomalies *[]Anomaly) []NumberedItem {
	byNumber := map[int]string{}
	for _, b := range fragment.ByTag("b") {
		label := b.Text()
		m := itemNumberRegex.FindStringSubmatch(label)
		if m == nil {
			continue
		}
		number, err := strconv.Atoi(m[1])
		if err != nil || number <= 0 {
			continue
		}

		row := b.Closest("tr")
		if row == nil {
			*anomalies = append(*anomalies, Anomaly{
				Kind:   AnomalyMissingBody,
				Detail: fmt.Sprintf("item %d is not inside a row", number),
			})
			continue
		}
		cells := row.ByTag("td")
		if len(cells) < 3 {
			*anomalies = append(*anomalies, Anomaly{
				Kind:   AnomalyMissingBody,
				Detail: fmt.Sprintf("item %d row has %d cells", number, len(cells)),
			})
			continue
		}

		if _, seen := byNumber[number]; seen {
			*anomalies = append(*anomalies, Anomaly{
				Kind:   AnomalyDuplicateNumber,
				Detail: fmt.Sprintf("item %d appears more than once", number),
			})
		}
		byNumber[number] = cells[2].Text()
	}

	numbers := make([]int, 0, len(byNumber))
	for n := range byNumber {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	items := make([]NumberedItem, len(numbers))
	var gaps []string
	for i, n := range numbers {
		if n != i+1 {
			gaps = append(gaps, strconv.Itoa(n))
		}
		items[i] = NumberedItem{Number: i + 1, Text: byNumber[n]}
	}
	if len(gaps) > 0 {
		*anomalies = append(*anomalies, Anomaly{
			Kind:   AnomalyNumberGap,
			Detail: fmt.Sprintf("renumbered items %s", strings.Join(gaps, ", ")),
		})
	}
	return items
}

func extractMarks(fragment *docmodel.Node, anomalies *[]Anomaly) []SeparatorMark {
	var marks []SeparatorMark
	for _, img := range fragment.ByTag("img") {
		src := img.AttrOr("src", "")

		var strength Strength
		switch {
		case strings.Contains(src, SingleMarkerToken):
			strength = Single
		case strings.Contains(src, DoubleMarkerToken):
			strength = Double
		default:
			continue
		}

		afterIdx, anomaly, ok := markPosition(img)
		if !ok {
			anomaly.Detail = fmt.Sprintf("%s separator %q: %s", strength, src, anomaly.Detail)
			*anomalies = append(*anomalies, anomaly)
			continue
		}
		marks = append(marks, SeparatorMark{
			AfterItemIndex: afterIdx,
			Strength:       strength,
		})
	}
	return marks
}

func markPosition(img *docmodel.Node) (int, Anomaly, bool) {
	row := img.Closest("tr")
	if row == nil {
		return 0, Anomaly{Kind: AnomalyMissingSpacer, Detail: "not inside a row"}, false
	}
	spacer := row.FindFirst(func(n *docmodel.Node) bool {
		return n.Tag == "img" && strings.Contains(n.AttrOr("src", ""), SpacerToken)
	})
	if spacer == nil {
		return 0, Anomaly{Kind: AnomalyMissingSpacer, Detail: "no spacer in row"}, false
	}

	width, ok := spacer.Width()
	if !ok {
		return 0, Anomaly{
			Kind:   AnomalyMalformedGeometry,
			Detail: fmt.Sprintf("unreadable spacer width %q", spacer.AttrOr("width", "")),
		}, false
	}
	px, ok := width.Pixels()
	if !ok {
		return 0, Anomaly{
			Kind:   AnomalyMalformedGeometry,
			Detail: fmt.Sprintf("spacer width %q is not a whole pixel count", spacer.AttrOr("width", "")),
		}, false
	}
	afterIdx, ok := AfterItemIndex(px)
	if !ok {
		return 0, Anomaly{
			Kind:   AnomalyMalformedGeometry,
			Detail: fmt.Sprintf("spacer width %d yields a negative group index", px),
		}, false
	}
	return afterIdx, Anomaly{}, true
}

// Resolve splits items into categories at the DOUBLE marks and groups each
// category. Items are sorted by number first, SINGLE marks do not affect
// the result since grouping is fixed at GroupSize.
//
// With two boundaries b1 <= b2 the items are [0,b1) cause, [b1,b2) action
// and [b2,n) result. With one boundary there is no action. With none every
// item is a cause.
func Resolve(items []NumberedItem, marks []SeparatorMark) (Structure, []Anomaly) {
	var anomalies []Anomaly

	sorted := make([]NumberedItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Number < sorted[j].Number
	})
	texts := make([]string, len(sorted))
	for i, item := range sorted {
		texts[i] = item.Text
	}
	n := len(texts)

	var boundaries []int
	for _, m := range marks {
		if m.AfterItemIndex < 0 || m.AfterItemIndex > n-1 {
			anomalies = append(anomalies, Anomaly{
				Kind: AnomalyIndexOutOfRange,
				Detail: fmt.Sprintf(
					"%s separator after index %d with %d items",
					m.Strength, m.AfterItemIndex, n,
				),
			})
		}
		if m.Strength == Double {
			boundaries = append(boundaries, m.AfterItemIndex+1)
		}
	}
	sort.Ints(boundaries)
	if len(boundaries) > 2 {
		anomalies = append(anomalies, Anomaly{
			Kind:   AnomalyExtraBoundary,
			Detail: fmt.Sprintf("%d category boundaries, using %v", len(boundaries), boundaries[:2]),
		})
		boundaries = boundaries[:2]
	}

	clamp := func(b int) int {
		return max(0, min(b, n))
	}

	var cause, action, result []string
	switch len(boundaries) {
	case 2:
		b1, b2 := clamp(boundaries[0]), clamp(boundaries[1])
		cause, action, result = texts[:b1], texts[b1:b2], texts[b2:]
	case 1:
		b1 := clamp(boundaries[0])
		cause, result = texts[:b1], texts[b1:]
	default:
		cause = texts
	}

	return Structure{
		Cause:  Regroup(cause),
		Action: Regroup(action),
		Result: Regroup(result),
	}, anomalies
}

// Decode recovers the scenario structure of a page fragment. It never
// fails, malformed markers are dropped and a fragment without numbered
// items gives an empty structure.
func Decode(fragment *docmodel.Node) Structure {
	s, _ := DecodeWithAnomalies(fragment)
	return s
}

func DecodeWithAnomalies(fragment *docmodel.Node) (Structure, []Anomaly) {
	extraction := Extract(fragment)
	s, anomalies := Resolve(extraction.Items, extraction.Marks)
	return s, append(extraction.Anomalies, anomalies...)
}
