package amazon

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/BearBump/PriceWatch/internal/extract"
	"github.com/gocolly/colly/v2"
)

const sourceName = "Amazon"

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

var urlRe = regexp.MustCompile(`^https?://(www\.)?amazon\.(com|ca|co\.uk|de|fr|es|it|co\.jp|in)/`)

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

	// Коллектор на каждый запрос: состояние OnHTML-обработчиков не должно
	// делиться между параллельными извлечениями.
	c := colly.NewCollector(colly.UserAgent(userAgent))
	c.SetRequestTimeout(e.timeout)

	var name, priceRaw, availability, imageURL, description string
	var fetchErr error

	c.OnHTML("span#productTitle", func(el *colly.HTMLElement) {
		name = strings.TrimSpace(el.Text)
	})
	c.OnHTML("span.a-offscreen", func(el *colly.HTMLElement) {
		if priceRaw == "" {
			priceRaw = strings.TrimSpace(el.Text)
		}
	})
	c.OnHTML("div#availability", func(el *colly.HTMLElement) {
		availability = strings.ToLower(strings.TrimSpace(el.Text))
	})
	c.OnHTML("img#landingImage", func(el *colly.HTMLElement) {
		imageURL = el.Attr("src")
	})
	c.OnHTML("div#productDescription", func(el *colly.HTMLElement) {
		description = strings.TrimSpace(el.Text)
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

	inStock := true
	if availability != "" {
		inStock = strings.Contains(availability, "in stock")
	}

	out := extract.ExtractedProduct{
		Name:       name,
		Price:      price,
		Currency:   extract.CurrencyOf(priceRaw),
		InStock:    inStock,
		SourceName: sourceName,
	}
	if imageURL != "" {
		out.ImageURL = &imageURL
	}
	if description != "" {
		out.Description = &description
	}
	return out, nil
}
