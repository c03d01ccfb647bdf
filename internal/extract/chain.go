// Package extract resolves a catalog item's canonical name from a rendered
// detail page through an ordered chain of strategies.
package extract

import (
	"regexp"

	"github.com/JakeFAU/cardname-harvester/internal/names"
)

// Document is the query surface the strategies read from.
type Document interface {
	Attr(selector, name string) (string, bool)
	Text(selector string) (string, bool)
	Texts(selector string) []string
	BodyText() string
}

// Strategy proposes a raw name candidate from a document.
type Strategy struct {
	Name    string
	Extract func(doc Document) string
}

var (
	headingSuffix = regexp.MustCompile(`^(.+?)\s*\(`)
	bodySetCode   = regexp.MustCompile(`^(.+?)\s*\(DM`)
)

// TitleSelectors are tried in order by the heading strategy.
var TitleSelectors = []string{"h3", "h1", ".cardname", ".product_name", ".detailHeader h1"}

// MetaTitle reads the og:title content attribute.
func MetaTitle() Strategy {
	return Strategy{
		Name: "meta_title",
		Extract: func(doc Document) string {
			content, _ := doc.Attr(`meta[property="og:title"]`, "content")
			return content
		},
	}
}

// FirstTitle returns the first non-empty text among the first match of each
// selector.
func FirstTitle(selectors ...string) Strategy {
	return Strategy{
		Name: "title_selector",
		Extract: func(doc Document) string {
			for _, sel := range selectors {
				if text, ok := doc.Text(sel); ok && text != "" {
					return text
				}
			}
			return ""
		},
	}
}

// HeadingPattern scans h3 elements for "<name> (" text.
func HeadingPattern() Strategy {
	return Strategy{
		Name: "heading_pattern",
		Extract: func(doc Document) string {
			for _, text := range doc.Texts("h3") {
				if m := headingSuffix.FindStringSubmatch(text); m != nil {
					return m[1]
				}
			}
			return ""
		},
	}
}

// BodyPattern scans the visible page text for "<name> (DM".
func BodyPattern() Strategy {
	return Strategy{
		Name: "body_pattern",
		Extract: func(doc Document) string {
			if m := bodySetCode.FindStringSubmatch(doc.BodyText()); m != nil {
				return m[1]
			}
			return ""
		},
	}
}

// DefaultStrategies returns the production strategy order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		MetaTitle(),
		FirstTitle(TitleSelectors...),
		HeadingPattern(),
		BodyPattern(),
	}
}

// Chain tries strategies in order; the first non-empty sanitized candidate wins.
type Chain struct {
	strategies []Strategy
}

// NewChain builds a Chain. With no strategies it uses DefaultStrategies.
func NewChain(strategies ...Strategy) *Chain {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Chain{strategies: strategies}
}

// Name returns the extracted name, or "" when every strategy failed.
func (c *Chain) Name(doc Document) string {
	name, _ := c.Resolve(doc)
	return name
}

// Resolve returns the extracted name and the strategy that produced it.
func (c *Chain) Resolve(doc Document) (string, string) {
	for _, s := range c.strategies {
		if name := names.Sanitize(s.Extract(doc)); name != "" {
			return name, s.Name
		}
	}
	return "", ""
}

// AnchorName is the fast-mode path: listing anchor text sanitized directly.
func (c *Chain) AnchorName(text string) string {
	return names.Sanitize(text)
}
