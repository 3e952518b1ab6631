package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Selectors is the CSS selector profile for one marketplace.
type Selectors struct {
	BaseURL string           `yaml:"base_url"`
	Listing ListingSelectors `yaml:"listing"`
	Detail  DetailSelectors  `yaml:"detail"`
}

type ListingSelectors struct {
	Item     string `yaml:"item"`
	Link     string `yaml:"link"`
	LinkAttr string `yaml:"link_attr"`
}

type DetailSelectors struct {
	Ready         string `yaml:"ready"`
	Title         string `yaml:"title"`
	Brand         string `yaml:"brand"`
	Price         string `yaml:"price"`
	OriginalPrice string `yaml:"original_price"`
	Size          string `yaml:"size"`
	Colors        string `yaml:"colors"`
	Categories    string `yaml:"categories"`
	Description   string `yaml:"description"`
	Images        string `yaml:"images"`
	Seller        string `yaml:"seller"`
	ListingDate   string `yaml:"listing_date"`
}

// DefaultSelectors returns the built-in Poshmark profile.
func DefaultSelectors() *Selectors {
	return &Selectors{
		BaseURL: "https://poshmark.com",
		Listing: ListingSelectors{
			Item:     "div.tiles_container > div",
			Link:     "div.card.card--small > a",
			LinkAttr: "href",
		},
		Detail: DetailSelectors{
			Ready:         "h1",
			Title:         "h1",
			Brand:         "a.listing__brand",
			Price:         "p.h1",
			OriginalPrice: "p.h1 span",
			Size:          "div.listing__size-selector-con button, .size-selector__size-option",
			Colors:        "a[data-et-name='color']",
			Categories:    "a[data-et-name='category'], a[data-et-name='department']",
			Description:   "div.listing__description",
			Images:        "div.slideshow img, img.img__container",
			Seller:        "a.listing__header-closet-name, span.listing__header-closet-name",
			ListingDate:   "span.listing__header-time, time",
		},
	}
}

// LoadSelectors reads a YAML profile. Keys missing from the file keep the
// built-in defaults. An empty path returns the defaults.
func LoadSelectors(path string) (*Selectors, error) {
	sel := DefaultSelectors()
	if path == "" {
		return sel, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read selectors file: %w", err)
	}

	if err := yaml.Unmarshal(data, sel); err != nil {
		return nil, fmt.Errorf("failed to parse selectors file: %w", err)
	}

	if err := sel.Validate(); err != nil {
		return nil, err
	}

	return sel, nil
}

func (s *Selectors) Validate() error {
	if s.Listing.Item == "" || s.Listing.Link == "" {
		return fmt.Errorf("listing item and link selectors are required")
	}
	if s.Detail.Ready == "" {
		return fmt.Errorf("detail ready selector is required")
	}
	if s.Listing.LinkAttr == "" {
		s.Listing.LinkAttr = "href"
	}
	return nil
}
