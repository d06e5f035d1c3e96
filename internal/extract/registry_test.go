package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type stubExtractor struct {
	name   string
	prefix string
}

func (e *stubExtractor) SourceName() string        { return e.name }
func (e *stubExtractor) Matches(rawURL string) bool { return strings.HasPrefix(rawURL, e.prefix) }
func (e *stubExtractor) Extract(_ context.Context, rawURL string) (ExtractedProduct, error) {
	return ExtractedProduct{
		Name:       "from " + e.name,
		Price:      decimal.New(100, -2),
		Currency:   "USD",
		InStock:    true,
		SourceName: e.name,
	}, nil
}

func TestRegistry_ResolveFirstMatchWins(t *testing.T) {
	// Оба подходят под https://shop.test/ — выигрывает зарегистрированный первым.
	first := &stubExtractor{name: "First", prefix: "https://shop.test/"}
	second := &stubExtractor{name: "Second", prefix: "https://shop.test/"}
	other := &stubExtractor{name: "Other", prefix: "https://other.test/"}

	r := NewRegistry(first, second, other)

	e, err := r.Resolve("https://shop.test/item/1")
	require.NoError(t, err)
	require.Equal(t, "First", e.SourceName())

	e, err = r.Resolve("https://other.test/item/2")
	require.NoError(t, err)
	require.Equal(t, "Other", e.SourceName())
}

func TestRegistry_ResolveNoPlugin(t *testing.T) {
	r := NewRegistry(&stubExtractor{name: "First", prefix: "https://shop.test/"})

	_, err := r.Resolve("https://nowhere.example/x")
	require.Error(t, err)
	require.Equal(t, KindNoPluginForURL, KindOf(err))

	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, "https://nowhere.example/x", e.URL)
}

func TestRegistry_Extract(t *testing.T) {
	r := NewRegistry(&stubExtractor{name: "First", prefix: "https://shop.test/"})

	ep, err := r.Extract(context.Background(), "https://shop.test/item/1")
	require.NoError(t, err)
	require.Equal(t, "from First", ep.Name)

	_, err = r.Extract(context.Background(), "https://nowhere.example/x")
	require.Equal(t, KindNoPluginForURL, KindOf(err))
}

func TestRegistry_Sources(t *testing.T) {
	r := NewRegistry(
		&stubExtractor{name: "A", prefix: "a"},
		&stubExtractor{name: "B", prefix: "b"},
	)
	require.Equal(t, []string{"A", "B"}, r.Sources())
}

func TestKindOf_NonExtractionError(t *testing.T) {
	require.Equal(t, ErrorKind(""), KindOf(context.Canceled))
	require.Equal(t, ErrorKind(""), KindOf(nil))
}
