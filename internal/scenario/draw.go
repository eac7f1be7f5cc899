package scenario

// Color is a "#rrggbb" hex string.
type Color string

const (
	CauseFill    Color = "#dce6f1"
	ActionFill   Color = "#e2efda"
	ResultFill   Color = "#fce4d6"
	BarStroke    Color = "#666666"
	LabelColor   Color = "#1a1a1a"
	DoubleRule   Color = "#2c3e50"
	SingleRule   Color = "#999999"
	BraceColor   Color = "#333333"
	BraceLabel   Color = "#2c3e50"
	CaptionColor Color = "#666666"
)

const (
	barStrokeWidth    = 0.5
	doubleStrokeWidth = 1.2
	singleStrokeWidth = 0.5
	braceStrokeWidth  = 0.8
	braceLabelRaise   = 3.0
)

func (c Category) Fill() Color {
	switch c {
	case Action:
		return ActionFill
	case Result:
		return ResultFill
	}
	return CauseFill
}

// Command is one drawing primitive: Rect, Line, Text or Group.
type Command interface {
	command()
}

type Rect struct {
	X, Y, Width, Height float64
	Fill                Color
	Stroke              Color
	StrokeWidth         float64
	// Category records which scenario category the rectangle stands for.
	Category Category
}

type Line struct {
	X1, Y1, X2, Y2 float64
	Stroke         Color
	StrokeWidth    float64
}

// Text is drawn with its baseline at Y.
type Text struct {
	X, Y    float64
	Content string
	Size    float64
	Fill    Color
	// Bold selects the heading face (category labels and axis caption).
	Bold bool
}

// Group applies translate(TranslateX, TranslateY) then scale(Scale) to its
// children.
type Group struct {
	TranslateX float64
	TranslateY float64
	Scale      float64
	Children   []Command
}

func (Rect) command()  {}
func (Line) command()  {}
func (Text) command()  {}
func (Group) command() {}

type Drawing struct {
	Width  float64
	Height float64
	Root   Group
}

// Draw converts the layout into drawing commands. Font sizes and stroke
// widths follow the diagram scale.
func (d *Diagram) Draw() Drawing {
	k := d.Scale
	var cmds []Command

	for _, b := range d.Bars {
		cmds = append(cmds,
			Rect{
				X:           b.X,
				Y:           b.Y,
				Width:       b.Width,
				Height:      b.Height,
				Fill:        b.Category.Fill(),
				Stroke:      BarStroke,
				StrokeWidth: barStrokeWidth * k,
				Category:    b.Category,
			},
			Text{
				X:       b.X + labelInsetX*k,
				Y:       b.Y + b.Height - labelInsetBaseline*k,
				Content: b.Label(),
				Size:    LabelFontSize * k,
				Fill:    LabelColor,
			},
		)
	}

	for _, b := range d.Braces {
		tick := braceTick * k
		cmds = append(cmds,
			Line{X1: b.X, Y1: b.Top, X2: b.X, Y2: b.Bottom, Stroke: BraceColor, StrokeWidth: braceStrokeWidth * k},
			Line{X1: b.X, Y1: b.Top, X2: b.X - tick, Y2: b.Top, Stroke: BraceColor, StrokeWidth: braceStrokeWidth * k},
			Line{X1: b.X, Y1: b.Bottom, X2: b.X - tick, Y2: b.Bottom, Stroke: BraceColor, StrokeWidth: braceStrokeWidth * k},
			Text{
				X:       b.X + braceOffset*k,
				Y:       (b.Top+b.Bottom)/2 + braceLabelRaise*k,
				Content: b.Category.Label(),
				Size:    BraceFontSize * k,
				Fill:    BraceLabel,
				Bold:    true,
			},
		)
	}

	for _, s := range d.Separators {
		if s.Strength == Double {
			off := doubleRuleOffset * k
			cmds = append(cmds,
				Line{X1: s.X1, Y1: s.Y - off, X2: s.X2, Y2: s.Y - off, Stroke: DoubleRule, StrokeWidth: doubleStrokeWidth * k},
				Line{X1: s.X1, Y1: s.Y + off, X2: s.X2, Y2: s.Y + off, Stroke: DoubleRule, StrokeWidth: doubleStrokeWidth * k},
			)
			continue
		}
		cmds = append(cmds, Line{X1: s.X1, Y1: s.Y, X2: s.X2, Y2: s.Y, Stroke: SingleRule, StrokeWidth: singleStrokeWidth * k})
	}

	cmds = append(cmds, Text{
		X:       (d.NaturalWidth/2 - captionShift) * k,
		Y:       captionBaseline * k,
		Content: AxisCaption,
		Size:    CaptionFontSize * k,
		Fill:    CaptionColor,
		Bold:    true,
	})

	return Drawing{
		Width:  d.CanvasWidth,
		Height: d.CanvasHeight,
		Root:   Group{Scale: 1, Children: cmds},
	}
}

// Walk calls visit for every non-group command with the accumulated
// transform of its enclosing groups.
func Walk(root Group, visit func(cmd Command, tx, ty, scale float64)) {
	walk(root, 0, 0, 1, visit)
}

func walk(g Group, tx, ty, scale float64, visit func(Command, float64, float64, float64)) {
	s := g.Scale
	if s == 0 {
		s = 1
	}
	tx += g.TranslateX * scale
	ty += g.TranslateY * scale
	scale *= s
	for _, c := range g.Children {
		if child, ok := c.(Group); ok {
			walk(child, tx, ty, scale, visit)
			continue
		}
		visit(c, tx, ty, scale)
	}
}

// CategoryCounts counts the bars of each category in a drawing.
func CategoryCounts(drawing Drawing) (cause, action, result int) {
	Walk(drawing.Root, func(cmd Command, _, _, _ float64) {
		r, ok := cmd.(Rect)
		if !ok {
			return
		}
		switch r.Category {
		case Cause:
			cause++
		case Action:
			action++
		case Result:
			result++
		}
	})
	return cause, action, result
}
