package parser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/closet-scraper/internal/models"
)

// Parser turns a fetched detail page into a product record. It never fails
// as a whole; problems with individual fields come back as warnings.
type Parser interface {
	Extract(doc *goquery.Document, sourceURL string) (*models.Product, []Warning)
}

// Warning describes one field that could not be extracted.
type Warning struct {
	Field   string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Field, w.Message)
}

// ParseHTML builds a goquery document from raw page content.
func ParseHTML(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// guard runs one field extraction, turning a panic into a warning for that
// field only.
func guard[T any](field string, fn func() (T, *Warning)) (v T, w *Warning) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v = zero
			w = &Warning{Field: field, Message: fmt.Sprintf("recovered: %v", r)}
		}
	}()
	return fn()
}
