// Package docmodel is a small read-only tree over parsed HTML. It exposes only
// what the scenario decoder and the case page extractor need: descendant
// search, nearest-ancestor lookup, attributes and normalized text.
package docmodel

import (
	"io"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

const DocumentTag = "#document"

type Node struct {
	// Tag is the lowercased element name, DocumentTag for the root of a
	// parsed document and empty for text nodes.
	Tag string
	// Attrs holds attributes keyed by lowercased name. Repeated attributes
	// keep the first value, like browsers do.
	Attrs map[string]string
	// Data is the text content of a text node.
	Data     string
	Children []*Node
	Parent   *Node
	// Index is the position of an element among its parent's element
	// children. Text nodes carry -1.
	Index int
}

func Parse(r io.Reader) (*Node, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	return FromHTML(root), nil
}

func ParseString(s string) (*Node, error) {
	return Parse(strings.NewReader(s))
}

// FromHTML converts an x/net/html tree. Comments and doctypes are dropped.
func FromHTML(n *html.Node) *Node {
	if n == nil {
		return nil
	}
	return convert(n, nil)
}

func convert(n *html.Node, parent *Node) *Node {
	out := &Node{Parent: parent, Index: -1}
	switch n.Type {
	case html.DocumentNode:
		out.Tag = DocumentTag
	case html.ElementNode:
		out.Tag = strings.ToLower(n.Data)
		out.Attrs = make(map[string]string, len(n.Attr))
		for _, a := range n.Attr {
			key := strings.ToLower(a.Key)
			if _, exists := out.Attrs[key]; exists {
				continue
			}
			out.Attrs[key] = a.Val
		}
	case html.TextNode:
		out.Data = n.Data
	default:
		return nil
	}

	elementIdx := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		child := convert(c, out)
		if child == nil {
			continue
		}
		if child.IsElement() {
			child.Index = elementIdx
			elementIdx++
		}
		out.Children = append(out.Children, child)
	}
	return out
}

func (n *Node) IsText() bool {
	return n.Tag == ""
}

func (n *Node) IsElement() bool {
	return n.Tag != "" && n.Tag != DocumentTag
}

func (n *Node) Attr(key string) (string, bool) {
	if n == nil || n.Attrs == nil {
		return "", false
	}
	v, ok := n.Attrs[strings.ToLower(key)]
	return v, ok
}

// AttrOr returns the attribute value or fallback when it is missing.
func (n *Node) AttrOr(key, fallback string) string {
	v, ok := n.Attr(key)
	if !ok {
		return fallback
	}
	return v
}

// Find returns every descendant (not n itself) matching pred in document
// order.
func (n *Node) Find(pred func(*Node) bool) []*Node {
	var out []*Node
	n.walk(func(d *Node) bool {
		if pred(d) {
			out = append(out, d)
		}
		return true
	})
	return out
}

// FindFirst returns the first descendant in document order matching pred.
func (n *Node) FindFirst(pred func(*Node) bool) *Node {
	var found *Node
	n.walk(func(d *Node) bool {
		if pred(d) {
			found = d
			return false
		}
		return true
	})
	return found
}

func (n *Node) ByTag(tag string) []*Node {
	tag = strings.ToLower(tag)
	return n.Find(func(d *Node) bool { return d.Tag == tag })
}

// walk visits descendants depth-first, stopping once visit returns false.
func (n *Node) walk(visit func(*Node) bool) bool {
	if n == nil {
		return true
	}
	for _, c := range n.Children {
		if !visit(c) {
			return false
		}
		if !c.walk(visit) {
			return false
		}
	}
	return true
}

// Closest returns the nearest proper ancestor with the given tag.
func (n *Node) Closest(tag string) *Node {
	if n == nil {
		return nil
	}
	tag = strings.ToLower(tag)
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Tag == tag {
			return p
		}
	}
	return nil
}

// Text returns the text of all descendant text nodes, each trimmed of
// surrounding whitespace and joined without a separator. Line breaks
// therefore vanish.
func (n *Node) Text() string {
	var sb strings.Builder
	n.text(&sb, true)
	return sb.String()
}

// RawText returns descendant text untouched, except that <br> becomes a
// newline and CRLF is normalized to LF.
func (n *Node) RawText() string {
	var sb strings.Builder
	n.text(&sb, false)
	return strings.ReplaceAll(sb.String(), "\r\n", "\n")
}

func (n *Node) text(sb *strings.Builder, trim bool) {
	if n == nil {
		return
	}
	if n.IsText() {
		if trim {
			sb.WriteString(strings.TrimSpace(n.Data))
		} else {
			sb.WriteString(n.Data)
		}
		return
	}
	if n.Tag == "br" && !trim {
		sb.WriteByte('\n')
		return
	}
	for _, c := range n.Children {
		c.text(sb, trim)
	}
}

type Length struct {
	Value float64
	// Unit is the lowercased suffix ("", "px", "%", ...).
	Unit string
}

// Pixels reports the length as a whole number of pixels. Percentages,
// other units and fractional values are not pixel widths.
func (l Length) Pixels() (int, bool) {
	if l.Unit != "" && l.Unit != "px" {
		return 0, false
	}
	if l.Value != float64(int(l.Value)) {
		return 0, false
	}
	return int(l.Value), true
}

var lengthRegex = regexp.MustCompile(`^\s*([+-]?(?:\d+\.?\d*|\.\d+))\s*([a-zA-Z%]*)\s*$`)

func ParseLength(s string) (Length, bool) {
	m := lengthRegex.FindStringSubmatch(s)
	if m == nil {
		return Length{}, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Length{}, false
	}
	return Length{Value: v, Unit: strings.ToLower(m[2])}, true
}

// Width parses the width attribute.
func (n *Node) Width() (Length, bool) {
	raw, ok := n.Attr("width")
	if !ok {
		return Length{}, false
	}
	return ParseLength(raw)
}
