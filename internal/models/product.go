package models

import (
	"time"
)

// Product is one extracted listing. Every field except URL and ProductID
// may be empty.
type Product struct {
	ProductID       string    `json:"productId"`
	Title           string    `json:"productTitle"`
	Brand           string    `json:"brandName"`
	Price           string    `json:"price"`
	DiscountedPrice string    `json:"discountedPrice"`
	Size            string    `json:"size"`
	Colors          []string  `json:"colors"`
	Categories      []string  `json:"categories"`
	Description     string    `json:"description"`
	URL             string    `json:"productUrl"`
	ImageURLs       []string  `json:"imageUrls"`
	SellerUsername  string    `json:"sellerUsername"`
	ListingDate     string    `json:"listingDate"`
	ScrapedAt       time.Time `json:"scrapedAt"`
}

func NewProduct(id, url string) *Product {
	return &Product{
		ProductID:  id,
		URL:        url,
		Colors:     make([]string, 0),
		Categories: make([]string, 0),
		ImageURLs:  make([]string, 0),
		ScrapedAt:  time.Now(),
	}
}

// IsEmpty reports whether no scraped field beyond the identity was filled.
func (p *Product) IsEmpty() bool {
	return p.Title == "" && p.Brand == "" && p.Price == "" && p.DiscountedPrice == "" &&
		p.Size == "" && len(p.Colors) == 0 && len(p.Categories) == 0 &&
		p.Description == "" && len(p.ImageURLs) == 0 && p.SellerUsername == "" &&
		p.ListingDate == ""
}

// Outcome is the result of processing one URL: Product on success, Reason
// on failure.
type Outcome struct {
	URL     string   `json:"url"`
	Product *Product `json:"product,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

func (o Outcome) Success() bool {
	return o.Product != nil
}

// Failure pairs a URL with the reason it could not be scraped.
type Failure struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}
