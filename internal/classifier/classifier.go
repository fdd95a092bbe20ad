// Package classifier assigns exactly one creative type to a fetched ad detail
// document. Rules run in a fixed order and the first match wins: the preview
// container's explicit marker, then the "about this ad" label, then structural
// evidence from the most to the least specific format.
package classifier

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/adlibrary-crawler/internal/crawler"
)

// Source names the rule family that produced a classification.
type Source string

// Rule families in evaluation order.
const (
	SourceMarker    Source = "marker"
	SourceLabel     Source = "label"
	SourceStructure Source = "structure"
	SourceNone      Source = "none"
)

// Rule is one entry in the dispatch table.
type Rule struct {
	Name   string
	Source Source
	Type   crawler.CreativeType
	Match  func(doc *goquery.Document) bool
}

// Result is the outcome of classification.
type Result struct {
	Type   crawler.CreativeType
	Source Source
	Rule   string
	// Note explains an UNKNOWN result.
	Note string
}

// Classifier evaluates its rules in order.
type Classifier struct {
	rules []Rule
}

// New builds a classifier over rules. With no rules the default table is used.
func New(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Rules returns a copy of the table, in order.
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Classify returns the first matching rule's type, or UNKNOWN with a note.
func (c *Classifier) Classify(doc *goquery.Document) Result {
	if doc == nil {
		return Result{Type: crawler.CreativeUnknown, Source: SourceNone, Note: "no document"}
	}
	for _, rule := range c.rules {
		if rule.Match(doc) {
			return Result{Type: rule.Type, Source: rule.Source, Rule: rule.Name}
		}
	}
	return Result{
		Type:   crawler.CreativeUnknown,
		Source: SourceNone,
		Note:   fmt.Sprintf("no marker, label, or structural evidence matched (%d rules)", len(c.rules)),
	}
}
