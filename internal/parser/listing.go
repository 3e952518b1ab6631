package parser

import (
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/closet-scraper/internal/config"
	"github.com/maltedev/closet-scraper/internal/models"
)

var pricePattern = regexp.MustCompile(`\$\s?\d[\d,]*(?:\.\d{1,2})?`)

// ListingParser extracts listing detail pages using a selector profile.
type ListingParser struct {
	sel     config.DetailSelectors
	baseURL *url.URL
	logger  *slog.Logger
}

func NewListingParser(selectors *config.Selectors, logger *slog.Logger) *ListingParser {
	if selectors == nil {
		selectors = config.DefaultSelectors()
	}
	if logger == nil {
		logger = slog.Default()
	}

	base, err := url.Parse(selectors.BaseURL)
	if err != nil || selectors.BaseURL == "" {
		base = nil
	}

	return &ListingParser{
		sel:     selectors.Detail,
		baseURL: base,
		logger:  logger.With("component", "listing_parser"),
	}
}

func (p *ListingParser) Extract(doc *goquery.Document, sourceURL string) (*models.Product, []Warning) {
	product := models.NewProduct(ProductID(sourceURL), sourceURL)
	if IsFallbackID(product.ProductID) {
		p.logger.Warn("could not derive listing id from url", "url", sourceURL, "id", product.ProductID)
	}

	if doc == nil {
		return product, []Warning{{Field: "document", Message: "no document to extract from"}}
	}

	var warnings []Warning
	collect := func(w *Warning) {
		if w != nil {
			warnings = append(warnings, *w)
		}
	}

	var w *Warning
	product.Title, w = guard("title", func() (string, *Warning) { return p.text(doc, "title", p.sel.Title) })
	collect(w)
	product.Brand, w = guard("brand", func() (string, *Warning) { return p.text(doc, "brand", p.sel.Brand) })
	collect(w)

	prices, w := guard("price", func() ([2]string, *Warning) { return p.prices(doc) })
	product.Price, product.DiscountedPrice = prices[0], prices[1]
	collect(w)

	product.Size, w = guard("size", func() (string, *Warning) { return p.text(doc, "size", p.sel.Size) })
	collect(w)
	product.Colors, w = guard("colors", func() ([]string, *Warning) { return p.list(doc, "colors", p.sel.Colors) })
	collect(w)
	product.Categories, w = guard("categories", func() ([]string, *Warning) { return p.list(doc, "categories", p.sel.Categories) })
	collect(w)
	product.Description, w = guard("description", func() (string, *Warning) { return p.description(doc) })
	collect(w)
	product.ImageURLs, w = guard("images", func() ([]string, *Warning) { return p.images(doc) })
	collect(w)
	product.SellerUsername, w = guard("seller", func() (string, *Warning) { return p.seller(doc) })
	collect(w)
	product.ListingDate, w = guard("listing_date", func() (string, *Warning) { return p.listingDate(doc) })
	collect(w)

	if product.Colors == nil {
		product.Colors = []string{}
	}
	if product.Categories == nil {
		product.Categories = []string{}
	}
	if product.ImageURLs == nil {
		product.ImageURLs = []string{}
	}

	for _, warning := range warnings {
		p.logger.Debug("field not extracted", "url", sourceURL, "field", warning.Field, "reason", warning.Message)
	}

	return product, warnings
}

func (p *ListingParser) first(doc *goquery.Document, field, selector string) (*goquery.Selection, *Warning) {
	if selector == "" {
		return nil, &Warning{Field: field, Message: "no selector configured"}
	}
	s := doc.Find(selector).First()
	if s.Length() == 0 {
		return nil, &Warning{Field: field, Message: fmt.Sprintf("selector %q matched nothing", selector)}
	}
	return s, nil
}

func (p *ListingParser) text(doc *goquery.Document, field, selector string) (string, *Warning) {
	s, w := p.first(doc, field, selector)
	if w != nil {
		return "", w
	}
	v := collapseSpace(s.Text())
	if v == "" {
		return "", &Warning{Field: field, Message: "element is empty"}
	}
	return v, nil
}

func (p *ListingParser) list(doc *goquery.Document, field, selector string) ([]string, *Warning) {
	if selector == "" {
		return []string{}, &Warning{Field: field, Message: "no selector configured"}
	}

	seen := make(map[string]bool)
	out := []string{}
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		v := collapseSpace(s.Text())
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	})

	if len(out) == 0 {
		return out, &Warning{Field: field, Message: fmt.Sprintf("selector %q matched nothing", selector)}
	}
	return out, nil
}

// prices returns [listed price, sale price]. A struck-through original
// price means the current price is a discount.
func (p *ListingParser) prices(doc *goquery.Document) ([2]string, *Warning) {
	var out [2]string

	s, w := p.first(doc, "price", p.sel.Price)
	if w != nil {
		return out, w
	}

	own := s.Clone()
	own.Children().Remove()
	current := pricePattern.FindString(own.Text())
	if current == "" {
		current = pricePattern.FindString(s.Text())
	}
	if current == "" {
		return out, &Warning{Field: "price", Message: fmt.Sprintf("no price in %q", collapseSpace(s.Text()))}
	}
	current = normalizePrice(current)

	original := ""
	if p.sel.OriginalPrice != "" {
		if o := doc.Find(p.sel.OriginalPrice).First(); o.Length() > 0 {
			original = normalizePrice(pricePattern.FindString(o.Text()))
		}
	}

	if original != "" && original != current {
		out[0], out[1] = original, current
	} else {
		out[0] = current
	}
	return out, nil
}

func (p *ListingParser) description(doc *goquery.Document) (string, *Warning) {
	s, w := p.first(doc, "description", p.sel.Description)
	if w != nil {
		return "", w
	}

	var lines []string
	for _, line := range strings.Split(s.Text(), "\n") {
		if line = collapseSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return "", &Warning{Field: "description", Message: "element is empty"}
	}
	return strings.Join(lines, "\n"), nil
}

func (p *ListingParser) images(doc *goquery.Document) ([]string, *Warning) {
	if p.sel.Images == "" {
		return []string{}, &Warning{Field: "images", Message: "no selector configured"}
	}

	seen := make(map[string]bool)
	out := []string{}
	doc.Find(p.sel.Images).Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if src == "" || strings.HasPrefix(src, "data:") {
			src, _ = s.Attr("data-src")
		}
		src = strings.TrimSpace(src)
		if src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		abs := p.resolve(src)
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
	})

	if len(out) == 0 {
		return out, &Warning{Field: "images", Message: "no image sources found"}
	}
	return out, nil
}

func (p *ListingParser) seller(doc *goquery.Document) (string, *Warning) {
	v, w := p.text(doc, "seller", p.sel.Seller)
	if w != nil {
		return "", w
	}
	return strings.TrimPrefix(v, "@"), nil
}

func (p *ListingParser) listingDate(doc *goquery.Document) (string, *Warning) {
	s, w := p.first(doc, "listing_date", p.sel.ListingDate)
	if w != nil {
		return "", w
	}
	if dt, ok := s.Attr("datetime"); ok && strings.TrimSpace(dt) != "" {
		return strings.TrimSpace(dt), nil
	}
	v := collapseSpace(s.Text())
	if v == "" {
		return "", &Warning{Field: "listing_date", Message: "element is empty"}
	}
	return v, nil
}

func (p *ListingParser) resolve(ref string) string {
	if p.baseURL == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return p.baseURL.ResolveReference(u).String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func normalizePrice(s string) string {
	return strings.ReplaceAll(s, " ", "")
}
