package extract

import (
	"context"
	"log/slog"
)

// Registry маппит URL продукта на плагин-источник. Набор плагинов заполняется
// один раз при старте процесса и дальше только читается, поэтому без мьютекса.
type Registry struct {
	extractors []Extractor
}

func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{}
	for _, e := range extractors {
		r.Register(e)
	}
	return r
}

func (r *Registry) Register(e Extractor) {
	r.extractors = append(r.extractors, e)
	slog.Info("extractor registered", "source", e.SourceName())
}

// Resolve returns the first registered extractor whose Matches accepts the
// URL. When several could match, registration order is the tie-break.
func (r *Registry) Resolve(rawURL string) (Extractor, error) {
	for _, e := range r.extractors {
		if e.Matches(rawURL) {
			return e, nil
		}
	}
	return nil, NewError(KindNoPluginForURL, "", rawURL, nil)
}

func (r *Registry) Extract(ctx context.Context, rawURL string) (ExtractedProduct, error) {
	e, err := r.Resolve(rawURL)
	if err != nil {
		return ExtractedProduct{}, err
	}
	return e.Extract(ctx, rawURL)
}

func (r *Registry) Sources() []string {
	out := make([]string, 0, len(r.extractors))
	for _, e := range r.extractors {
		out = append(out, e.SourceName())
	}
	return out
}
