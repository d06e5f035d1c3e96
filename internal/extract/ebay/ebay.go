package ebay

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/BearBump/PriceWatch/internal/extract"
	"github.com/gocolly/colly/v2"
)

const sourceName = "eBay"

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

var urlRe = regexp.MustCompile(`^https?://(www\.)?ebay\.(com|co\.uk|de|fr|es|it|com\.au|ca)/itm/`)

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

func (e *Extractor) Extract(ctx context.Context, rawURL string) (extract.ExtractedProduct, error) {
	if err := ctx.Err(); err != nil {
		return extract.ExtractedProduct{}, extract.NewError(extract.KindFetchFailed, sourceName, rawURL, err)
	}

	c := colly.NewCollector(colly.UserAgent(userAgent))
	c.SetRequestTimeout(e.timeout)

	var name, priceRaw, priceContent, availability, imageURL string
	var fetchErr error

	c.OnHTML("h1#itemTitle", func(el *colly.HTMLElement) {
		// eBay префиксует заголовок текстом "Details about".
		name = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(el.Text), "Details about"))
	})
	c.OnHTML("span#prcIsum, span#mm-saleDscPrc", func(el *colly.HTMLElement) {
		if priceRaw == "" {
			priceRaw = strings.TrimSpace(el.Text)
			priceContent = el.Attr("content")
		}
	})
	c.OnHTML("span#qtySubTxt", func(el *colly.HTMLElement) {
		availability = strings.ToLower(strings.TrimSpace(el.Text))
	})
	c.OnHTML("img#icImg", func(el *colly.HTMLElement) {
		imageURL = el.Attr("src")
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

	price, priceOK := extract.ParsePrice(priceRaw)
	if name == "" && !priceOK {
		return extract.ExtractedProduct{}, extract.NewError(extract.KindParseFailed, sourceName, rawURL, nil)
	}
	if name == "" || !priceOK {
		return extract.ExtractedProduct{}, extract.NewError(extract.KindIncompleteData, sourceName, rawURL, nil)
	}

	// content attr вида "USD 12.50" надёжнее символа в тексте.
	currency := ""
	if parts := strings.Fields(priceContent); len(parts) >= 2 {
		currency = parts[0]
	}
	if currency == "" {
		switch {
		case strings.Contains(priceRaw, "AU$"):
			currency = "AUD"
		case strings.Contains(priceRaw, "C $"):
			currency = "CAD"
		default:
			currency = extract.CurrencyOf(priceRaw)
		}
	}

	inStock := true
	if availability != "" {
		inStock = !strings.Contains(availability, "out of stock") && !strings.Contains(availability, "sold out")
	}

	out := extract.ExtractedProduct{
		Name:       name,
		Price:      price,
		Currency:   currency,
		InStock:    inStock,
		SourceName: sourceName,
	}
	if imageURL != "" {
		out.ImageURL = &imageURL
	}
	return out, nil
}
