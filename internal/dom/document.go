// Package dom wraps rendered HTML in a small query surface used by the
// listing fetcher and the extraction chain.
package dom

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jaytaylor/html2text"
)

// Anchor is a link discovered on a page.
type Anchor struct {
	Href string
	Text string
}

// Document is a parsed HTML page.
type Document struct {
	doc  *goquery.Document
	html string
	base *url.URL
}

// Parse builds a Document from rendered markup. baseURL resolves relative
// hrefs and may be empty.
func Parse(html, baseURL string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	d := &Document{doc: doc, html: html}
	if baseURL != "" {
		base, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
		}
		d.base = base
	}
	return d, nil
}

// Attr returns the named attribute of the first element matching selector.
func (d *Document) Attr(selector, name string) (string, bool) {
	sel := d.doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", false
	}
	return sel.Attr(name)
}

// Text returns the trimmed text of the first element matching selector.
func (d *Document) Text(selector string) (string, bool) {
	sel := d.doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", false
	}
	return strings.TrimSpace(sel.Text()), true
}

// Texts returns the trimmed text of every element matching selector.
func (d *Document) Texts(selector string) []string {
	var out []string
	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, strings.TrimSpace(s.Text()))
	})
	return out
}

// BodyText returns the page's visible text with scripts and styles removed.
func (d *Document) BodyText() string {
	text, err := html2text.FromString(d.html, html2text.Options{TextOnly: true})
	if err != nil {
		return strings.TrimSpace(d.doc.Find("body").Text())
	}
	return strings.TrimSpace(text)
}

// Anchors returns every element matching selector with its href resolved
// against the document URL. Elements without an href are skipped.
func (d *Document) Anchors(selector string) []Anchor {
	var out []Anchor
	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		out = append(out, Anchor{
			Href: d.resolve(strings.TrimSpace(href)),
			Text: strings.TrimSpace(s.Text()),
		})
	})
	return out
}

func (d *Document) resolve(href string) string {
	if d.base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return d.base.ResolveReference(ref).String()
}
