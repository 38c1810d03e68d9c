// Package markup exposes a narrow query surface over rendered HTML.
package markup

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Node answers selector queries relative to one element or document.
type Node interface {
	// Exists reports whether sel matches at least one element.
	Exists(sel string) bool
	// Text returns the text of the first element matching sel.
	Text(sel string) (string, bool)
	// Attr returns attribute name of the first element matching sel.
	Attr(sel, name string) (string, bool)
	// All returns every element matching sel, in document order.
	All(sel string) []Node
	// Content is the node's own text, descendants included.
	Content() string
}

type selection struct {
	s *goquery.Selection
}

func Parse(html string) (Node, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	return selection{s: doc.Selection}, nil
}

func (n selection) Exists(sel string) bool {
	return n.s.Find(sel).Length() > 0
}

func (n selection) Text(sel string) (string, bool) {
	found := n.s.Find(sel).First()
	if found.Length() == 0 {
		return "", false
	}
	return found.Text(), true
}

func (n selection) Attr(sel, name string) (string, bool) {
	found := n.s.Find(sel).First()
	if found.Length() == 0 {
		return "", false
	}
	return found.Attr(name)
}

func (n selection) All(sel string) []Node {
	var out []Node
	n.s.Find(sel).Each(func(_ int, s *goquery.Selection) {
		out = append(out, selection{s: s})
	})
	return out
}

func (n selection) Content() string {
	return n.s.Text()
}
