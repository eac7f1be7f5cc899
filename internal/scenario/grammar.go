package scenario

// The visual grammar of scenario pages. Separator rows carry a transparent
// spacer image whose width advances by SpacerStep per group of GroupSize
// items, starting at SpacerOrigin.
const (
	GroupSize    = 3
	SpacerOrigin = 15
	SpacerStep   = 20

	SingleMarkerToken = "sinario_line_1"
	DoubleMarkerToken = "sinario_line_2"
	SpacerToken       = "space.gif"
)

// GroupIndex maps a spacer width to the 0-based group the separator
// follows. Widths below SpacerOrigin have no group.
func GroupIndex(width int) (int, bool) {
	if width < SpacerOrigin {
		return 0, false
	}
	return (width - SpacerOrigin) / SpacerStep, true
}

// AfterItemIndex maps a spacer width to the 0-based index of the last item
// of the group the separator follows.
func AfterItemIndex(width int) (int, bool) {
	idx, ok := GroupIndex(width)
	if !ok {
		return 0, false
	}
	return (idx+1)*GroupSize - 1, true
}
