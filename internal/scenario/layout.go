package scenario

import (
	"fmt"
)

// Millimeter in points. Layout coordinates are points with the origin at
// the top left and y growing downwards.
const Millimeter = 72.0 / 25.4

const (
	BarWidth     = 42 * Millimeter
	BarHeight    = 5.5 * Millimeter
	StepX        = 3.8 * Millimeter
	StepY        = 7.2 * Millimeter
	SingleGap    = 3 * Millimeter
	DoubleGap    = 5 * Millimeter
	MarginLeft   = 2 * Millimeter
	MarginTop    = 8 * Millimeter
	MarginBottom = 5 * Millimeter
	MarginRight  = 15 * Millimeter

	LabelFontSize   = 7.5
	BraceFontSize   = 10.0
	CaptionFontSize = 7.0

	labelInsetX        = 2 * Millimeter
	labelInsetBaseline = 1.5 * Millimeter
	braceOffset        = 2 * Millimeter
	braceTick          = 2 * Millimeter
	doubleOverhang     = 1 * Millimeter
	doubleRuleOffset   = 1.0
	captionBaseline    = 4 * Millimeter
	captionShift       = 15 * Millimeter

	AxisCaption = "（時間の進行）→"
)

// Bounds limits the size of a diagram. Zero fields are unbounded.
type Bounds struct {
	MaxWidth  float64
	MaxHeight float64
}

type Bar struct {
	X, Y, Width, Height float64
	Number              int
	Text                string
	Category            Category
}

// Label is the text drawn inside the bar.
func (b Bar) Label() string {
	return fmt.Sprintf("%02d. %s", b.Number, b.Text)
}

// Separator is a horizontal rule between two consecutive bars. A DOUBLE
// separator is drawn as two rules at Y±doubleRuleOffset (scaled).
type Separator struct {
	AfterItemIndex int
	Strength       Strength
	X1, X2, Y      float64
}

// Brace is the bracket drawn right of a category, spanning from the top of
// its first bar to the bottom of its last one.
type Brace struct {
	Category    Category
	X           float64
	Top, Bottom float64
}

type Diagram struct {
	Bars       []Bar
	Separators []Separator
	Braces     []Brace

	CauseCount int
	ActionEnd  int
	Total      int

	NaturalWidth  float64
	NaturalHeight float64
	// Scale is the uniform shrink factor already applied to every
	// coordinate, 1 when the diagram fits its bounds.
	Scale        float64
	CanvasWidth  float64
	CanvasHeight float64
}

// Marks returns the separators placed between items: DOUBLE after the last
// cause and the last action item, SINGLE after every other group end, none
// after the final item.
func Marks(s Structure) []SeparatorMark {
	causeCount, actionEnd, total := s.Boundaries()

	strengths := map[int]Strength{}
	idx := 0
	for _, c := range categories {
		for _, g := range s.Groups(c) {
			idx += len(g)
			strengths[idx-1] = Single
		}
	}
	if causeCount > 0 {
		strengths[causeCount-1] = Double
	}
	if actionEnd > causeCount {
		strengths[actionEnd-1] = Double
	}

	var marks []SeparatorMark
	for i := 0; i < total-1; i++ {
		strength, ok := strengths[i]
		if !ok {
			continue
		}
		marks = append(marks, SeparatorMark{AfterItemIndex: i, Strength: strength})
	}
	return marks
}

// Layout places the scenario as a staircase of bars. It returns nil when
// the structure has no items. When the natural size exceeds bounds the
// whole diagram is shrunk by a single factor, keeping its aspect ratio.
func Layout(s Structure, bounds Bounds) *Diagram {
	items := s.Flatten()
	if len(items) == 0 {
		return nil
	}
	causeCount, actionEnd, total := s.Boundaries()

	marks := Marks(s)
	after := make(map[int]Strength, len(marks))
	for _, m := range marks {
		after[m.AfterItemIndex] = m.Strength
	}

	ys := make([]float64, total)
	cursor := MarginTop
	for i := range items {
		ys[i] = cursor
		cursor += StepY
		strength, ok := after[i]
		if !ok {
			continue
		}
		if strength == Double {
			cursor += DoubleGap
		} else {
			cursor += SingleGap
		}
	}

	d := &Diagram{
		CauseCount:    causeCount,
		ActionEnd:     actionEnd,
		Total:         total,
		NaturalWidth:  MarginLeft + float64(total)*StepX + BarWidth + MarginRight,
		NaturalHeight: cursor + MarginBottom,
		Scale:         1,
	}

	for i, item := range items {
		d.Bars = append(d.Bars, Bar{
			X:        MarginLeft + float64(i)*StepX,
			Y:        ys[i],
			Width:    BarWidth,
			Height:   BarHeight,
			Number:   item.Number,
			Text:     item.Text,
			Category: item.Category,
		})
	}

	for _, m := range marks {
		i := m.AfterItemIndex
		y := (ys[i] + BarHeight + ys[i+1]) / 2
		x1 := MarginLeft + float64(i+1)*StepX
		x2 := x1 + BarWidth
		if m.Strength == Double {
			x1 -= doubleOverhang
			x2 += doubleOverhang
		}
		d.Separators = append(d.Separators, Separator{
			AfterItemIndex: i,
			Strength:       m.Strength,
			X1:             x1,
			X2:             x2,
			Y:              y,
		})
	}

	spans := []struct {
		category    Category
		first, last int
	}{
		{Cause, 0, causeCount - 1},
		{Action, causeCount, actionEnd - 1},
		{Result, actionEnd, total - 1},
	}
	for _, span := range spans {
		if span.last < span.first {
			continue
		}
		d.Braces = append(d.Braces, Brace{
			Category: span.category,
			X:        MarginLeft + float64(span.last)*StepX + BarWidth + braceOffset,
			Top:      ys[span.first],
			Bottom:   ys[span.last] + BarHeight,
		})
	}

	d.Scale = fitScale(d.NaturalWidth, d.NaturalHeight, bounds)
	if d.Scale < 1 {
		d.scale(d.Scale)
	}
	d.CanvasWidth = d.NaturalWidth * d.Scale
	d.CanvasHeight = d.NaturalHeight * d.Scale

	return d
}

func fitScale(width, height float64, bounds Bounds) float64 {
	scale := 1.0
	if bounds.MaxWidth > 0 && width > bounds.MaxWidth {
		scale = min(scale, bounds.MaxWidth/width)
	}
	if bounds.MaxHeight > 0 && height > bounds.MaxHeight {
		scale = min(scale, bounds.MaxHeight/height)
	}
	return scale
}

func (d *Diagram) scale(k float64) {
	for i := range d.Bars {
		b := &d.Bars[i]
		b.X *= k
		b.Y *= k
		b.Width *= k
		b.Height *= k
	}
	for i := range d.Separators {
		s := &d.Separators[i]
		s.X1 *= k
		s.X2 *= k
		s.Y *= k
	}
	for i := range d.Braces {
		b := &d.Braces[i]
		b.X *= k
		b.Top *= k
		b.Bottom *= k
	}
}
