package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/dataharvest/reaper/internal/types"
)

// Field is one declarative column assignment: candidate selectors tried in
// declared order, the first non-empty result transformed and assigned, the
// default (or the not-available sentinel) otherwise.
type Field struct {
	// Column is the output column name.
	Column string

	// Selectors are CSS selectors tried in order.
	Selectors []string

	// XPath selectors tried after the CSS candidates, for markup the CSS
	// engine cannot reach.
	XPath []string

	// Attr extracts an attribute instead of text ("" means text).
	Attr string

	// Transforms are applied in order to the winning value.
	Transforms []Transform

	// Default applies when every candidate comes up empty. An empty
	// Default yields the not-available sentinel.
	Default string
}

// ExtractInto resolves the field against a parsed document and assigns the
// result to rec.
func (f Field) ExtractInto(rec *types.Record, doc *goquery.Document, root *html.Node) {
	val := f.resolve(doc, root)
	if val == "" {
		if f.Default != "" {
			rec.Set(f.Column, f.Default)
		} else {
			rec.SetNA(f.Column)
		}
		return
	}
	rec.Set(f.Column, val)
}

// ExtractFrom resolves the field against a selection subtree (one listing
// card among many) and assigns the result to rec.
func (f Field) ExtractFrom(rec *types.Record, sel *goquery.Selection) {
	var val string
	for _, s := range f.Selectors {
		val = f.value(sel.Find(s))
		if val != "" {
			break
		}
	}
	if val == "" {
		if f.Default != "" {
			rec.Set(f.Column, f.Default)
		} else {
			rec.SetNA(f.Column)
		}
		return
	}
	for _, tr := range f.Transforms {
		val = tr(val)
	}
	rec.Set(f.Column, val)
}

func (f Field) resolve(doc *goquery.Document, root *html.Node) string {
	var val string
	for _, s := range f.Selectors {
		if doc == nil {
			break
		}
		val = f.value(doc.Find(s))
		if val != "" {
			break
		}
	}
	if val == "" && root != nil {
		for _, xp := range f.XPath {
			node, err := htmlquery.Query(root, xp)
			if err != nil || node == nil {
				continue
			}
			if f.Attr != "" {
				val = htmlquery.SelectAttr(node, f.Attr)
			} else {
				val = strings.TrimSpace(htmlquery.InnerText(node))
			}
			if val != "" {
				break
			}
		}
	}
	for _, tr := range f.Transforms {
		val = tr(val)
	}
	return val
}

func (f Field) value(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	if f.Attr != "" {
		v, _ := sel.First().Attr(f.Attr)
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(sel.First().Text())
}
