package walmart

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/BearBump/PriceWatch/internal/extract"
	"github.com/gocolly/colly/v2"
	"github.com/shopspring/decimal"
)

const sourceName = "Walmart"

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

var urlRe = regexp.MustCompile(`^https?://(www\.)?walmart\.(com|ca)/ip/`)

type Extractor struct {
	timeout time.Duration
}

func New() *Extractor {
	return &Extractor{timeout: 10 * time.Second}
}

func (e *Extractor) WithTimeout(d time.Duration) *Extractor {
	if d > 0 {
		e.timeout = d
	}
	return e
}

func (e *Extractor) SourceName() string { return sourceName }

func (e *Extractor) Matches(rawURL string) bool { return urlRe.MatchString(rawURL) }

// ldProduct — product payload из script type="application/ld+json",
// Walmart обычно кладёт данные целиком туда.
type ldProduct struct {
	Type   string `json:"@type"`
	Name   string `json:"name"`
	Image  any    `json:"image"`
	Offers struct {
		Price         json.Number `json:"price"`
		PriceCurrency string      `json:"priceCurrency"`
		Availability  string      `json:"availability"`
	} `json:"offers"`
}

func (e *Extractor) Extract(ctx context.Context, rawURL string) (extract.ExtractedProduct, error) {
	if err := ctx.Err(); err != nil {
		return extract.ExtractedProduct{}, extract.NewError(extract.KindFetchFailed, sourceName, rawURL, err)
	}

	c := colly.NewCollector(colly.UserAgent(userAgent))
	c.SetRequestTimeout(e.timeout)

	var ld ldProduct
	var ldFound bool
	var name, priceRaw, availability string
	var fetchErr error

	c.OnHTML(`script[type="application/ld+json"]`, func(el *colly.HTMLElement) {
		if ldFound {
			return
		}
		var p ldProduct
		if json.Unmarshal([]byte(el.Text), &p) == nil && p.Type == "Product" {
			ld = p
			ldFound = true
		}
	})
	c.OnHTML(`h1[itemprop="name"], h1.prod-ProductTitle`, func(el *colly.HTMLElement) {
		if name == "" {
			name = strings.TrimSpace(el.Text)
		}
	})
	c.OnHTML(`span[itemprop="price"], span.price-characteristic`, func(el *colly.HTMLElement) {
		if priceRaw == "" {
			priceRaw = strings.TrimSpace(el.Text)
		}
	})
	c.OnHTML("span.product-availability-message", func(el *colly.HTMLElement) {
		availability = strings.ToLower(strings.TrimSpace(el.Text))
	})
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := c.Visit(rawURL); err != nil && fetchErr == nil {
		fetchErr = err
	}
	if fetchErr != nil {
		return extract.ExtractedProduct{}, extract.NewError(extract.KindFetchFailed, sourceName, rawURL, fetchErr)
	}

	out := extract.ExtractedProduct{
		Currency:   "USD",
		InStock:    true,
		SourceName: sourceName,
	}
	if strings.Contains(rawURL, ".ca/") {
		out.Currency = "CAD"
	}

	var priceOK bool
	if ldFound {
		out.Name = ld.Name
		if d, err := decimal.NewFromString(ld.Offers.Price.String()); err == nil {
			out.Price = d
			priceOK = true
		}
		if ld.Offers.PriceCurrency != "" {
			out.Currency = ld.Offers.PriceCurrency
		}
		if ld.Offers.Availability != "" {
			out.InStock = strings.Contains(ld.Offers.Availability, "InStock")
		}
		if img, ok := ld.Image.(string); ok && img != "" {
			out.ImageURL = &img
		}
	}
	if out.Name == "" {
		out.Name = name
	}
	if !priceOK {
		out.Price, priceOK = extract.ParsePrice(priceRaw)
	}
	if availability != "" && !ldFound {
		out.InStock = !strings.Contains(availability, "out of stock") && !strings.Contains(availability, "unavailable")
	}

	if out.Name == "" && !priceOK {
		return extract.ExtractedProduct{}, extract.NewError(extract.KindParseFailed, sourceName, rawURL, nil)
	}
	if out.Name == "" || !priceOK {
		return extract.ExtractedProduct{}, extract.NewError(extract.KindIncompleteData, sourceName, rawURL, nil)
	}
	return out, nil
}
