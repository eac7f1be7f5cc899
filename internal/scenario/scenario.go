// Package scenario decodes the cause/action/result chain of a failure case
// from the visual grammar of a scenario page, and lays the chain back out
// as a diagonal staircase diagram.
//
// Both directions are pure functions and safe for concurrent use.
package scenario

import (
	"encoding/json"
	"fmt"
)

type Category int

const (
	Cause Category = iota
	Action
	Result
)

var categories = []Category{Cause, Action, Result}

func (c Category) String() string {
	switch c {
	case Cause:
		return "cause"
	case Action:
		return "action"
	case Result:
		return "result"
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// Label is the heading used for the category on reports and diagrams.
func (c Category) Label() string {
	switch c {
	case Cause:
		return "原因"
	case Action:
		return "行動"
	case Result:
		return "結果"
	}
	return c.String()
}

type NumberedItem struct {
	Number   int
	Text     string
	Category Category
}

type Strength int

const (
	Single Strength = iota
	Double
)

func (s Strength) String() string {
	if s == Double {
		return "double"
	}
	return "single"
}

// SeparatorMark is a visual break between the item at AfterItemIndex and
// the one following it, indexes being 0-based over the sorted items.
type SeparatorMark struct {
	AfterItemIndex int
	Strength       Strength
}

// Structure is the persisted form of a scenario. Each category is a list of
// presentation groups of at most GroupSize item texts.
//
// It marshals as {"cause": [[...]], "action": [...], "result": [...]} with
// empty categories written as [] rather than null.
type Structure struct {
	Cause  [][]string `json:"cause"`
	Action [][]string `json:"action"`
	Result [][]string `json:"result"`
}

type structureJSON Structure

func (s Structure) MarshalJSON() ([]byte, error) {
	out := structureJSON{
		Cause:  nonNil(s.Cause),
		Action: nonNil(s.Action),
		Result: nonNil(s.Result),
	}
	return json.Marshal(out)
}

func nonNil(groups [][]string) [][]string {
	out := make([][]string, len(groups))
	for i, g := range groups {
		if g == nil {
			g = []string{}
		}
		out[i] = g
	}
	return out
}

func (s Structure) Groups(c Category) [][]string {
	switch c {
	case Cause:
		return s.Cause
	case Action:
		return s.Action
	case Result:
		return s.Result
	}
	return nil
}

// Texts returns the item texts of one category in order.
func (s Structure) Texts(c Category) []string {
	var out []string
	for _, g := range s.Groups(c) {
		out = append(out, g...)
	}
	return out
}

// Flatten numbers every item 1..n in cause, action, result order.
func (s Structure) Flatten() []NumberedItem {
	var items []NumberedItem
	for _, c := range categories {
		for _, text := range s.Texts(c) {
			items = append(items, NumberedItem{
				Number:   len(items) + 1,
				Text:     text,
				Category: c,
			})
		}
	}
	return items
}

func (s Structure) Counts() (cause, action, result int) {
	return len(s.Texts(Cause)), len(s.Texts(Action)), len(s.Texts(Result))
}

// Boundaries returns the number of cause items, the exclusive end of the
// action items and the total number of items.
func (s Structure) Boundaries() (causeCount, actionEnd, total int) {
	cause, action, result := s.Counts()
	return cause, cause + action, cause + action + result
}

func (s Structure) Empty() bool {
	_, _, total := s.Boundaries()
	return total == 0
}

// Regroup re-chunks every category into groups of GroupSize.
func (s Structure) Regroup() Structure {
	return Structure{
		Cause:  Regroup(s.Texts(Cause)),
		Action: Regroup(s.Texts(Action)),
		Result: Regroup(s.Texts(Result)),
	}
}

// Regroup chunks texts into consecutive groups of GroupSize, the last one
// possibly shorter.
func Regroup(texts []string) [][]string {
	groups := [][]string{}
	for i := 0; i < len(texts); i += GroupSize {
		end := min(i+GroupSize, len(texts))
		group := make([]string, end-i)
		copy(group, texts[i:end])
		groups = append(groups, group)
	}
	return groups
}
