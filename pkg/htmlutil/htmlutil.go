// Package htmlutil extracts normalized text and links from goquery
// selections.
package htmlutil

import (
	"bytes"
	"context"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/html"
)

var tracer = otel.Tracer("fkd.pkg.htmlutil")

// GetText concatenates the raw text of every text node under node. <br>
// elements become newlines when keepBreaks is set.
func GetText(node *html.Node, keepBreaks bool) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer, keepBreaks, false)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer, keepBreaks, strip bool) {
	if node == nil {
		return
	}
	switch node.Type {
	case html.TextNode:
		if strip {
			buffer.WriteString(strings.TrimSpace(node.Data))
		} else {
			buffer.WriteString(node.Data)
		}
		return
	case html.ElementNode:
		if keepBreaks && node.Data == "br" {
			buffer.WriteByte('\n')
			return
		}
	case html.CommentNode:
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer, keepBreaks, strip)
		child = child.NextSibling
	}
}

// StrippedText trims every text fragment of the selection and joins them
// without a separator, so line breaks disappear.
func StrippedText(sel *goquery.Selection) string {
	var buffer bytes.Buffer
	for _, n := range sel.Nodes {
		getTextRecursive(n, &buffer, false, true)
	}
	return buffer.String()
}

// RawText returns the selection text with <br> turned into newlines and
// CRLF normalized to LF.
func RawText(sel *goquery.Selection) string {
	var buffer bytes.Buffer
	for _, n := range sel.Nodes {
		getTextRecursive(n, &buffer, true, false)
	}
	return strings.ReplaceAll(buffer.String(), "\r\n", "\n")
}

// Paragraphs trims every line, joins consecutive non-empty lines with a
// newline and separates the resulting paragraphs with a blank line.
func Paragraphs(raw string) string {
	var paragraphs []string
	var current []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			current = append(current, line)
			continue
		}
		if len(current) > 0 {
			paragraphs = append(paragraphs, strings.Join(current, "\n"))
			current = nil
		}
	}
	if len(current) > 0 {
		paragraphs = append(paragraphs, strings.Join(current, "\n"))
	}
	return strings.Join(paragraphs, "\n\n")
}

// Lines returns the trimmed non-empty lines of raw.
func Lines(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

type Anchor struct {
	Name string
	Href string
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// GetAnchors returns the anchors of sel with hrefs resolved against base.
// Anchors with unparsable hrefs are skipped.
func GetAnchors(ctx context.Context, sel *goquery.Selection, base *url.URL) []Anchor {
	_, span := tracer.Start(ctx, "GetAnchors")
	defer span.End()

	anchors := []Anchor{}
	for _, n := range sel.Nodes {
		href := ""
		for _, a := range n.Attr {
			if a.Key == "href" {
				href = a.Val
				break
			}
		}

		link, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "got error while parsing url")
			continue
		}
		if base != nil {
			link = base.ResolveReference(link)
		}

		name := GetText(n, false)
		name = removeNonPrintable(name)
		name = strings.Trim(name, " \t\n")
		name = innerWhitespace.ReplaceAllString(name, " ")

		linkStr := link.String()
		anchors = append(anchors, Anchor{
			Name: name,
			Href: linkStr,
		})
		span.AddEvent("anchor", trace.WithAttributes(
			attribute.String("name", name),
			attribute.String("url", linkStr),
		))
	}

	return anchors
}
