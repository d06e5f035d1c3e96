package watchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/PriceWatch/internal/extract"
	"github.com/BearBump/PriceWatch/internal/models"
	"github.com/BearBump/PriceWatch/internal/notify"
	"github.com/BearBump/PriceWatch/internal/services/alerts"
	"github.com/BearBump/PriceWatch/internal/services/products"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeStore покрывает и products.Repository, и alerts.Repository,
// как это делает pgwatch.Storage.
type fakeStore struct {
	products map[uint64]*models.TrackedProduct
	obs      []*models.PriceObservation
	alerts   map[uint64]*models.AlertRule

	nextProductID uint64
	nextObsID     uint64
	nextAlertID   uint64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products: map[uint64]*models.TrackedProduct{},
		alerts:   map[uint64]*models.AlertRule{},
	}
}

func (s *fakeStore) CreateProduct(_ context.Context, url string, ep extract.ExtractedProduct) (*models.TrackedProduct, error) {
	s.nextProductID++
	now := time.Now().UTC()
	p := &models.TrackedProduct{
		ID: s.nextProductID, Name: ep.Name, URL: url, SourceName: ep.SourceName,
		ImageURL: ep.ImageURL, Description: ep.Description, Active: true,
		CreatedAt: now, UpdatedAt: now,
	}
	s.products[p.ID] = p
	return p, nil
}

func (s *fakeStore) GetProduct(_ context.Context, id uint64) (*models.TrackedProduct, error) {
	return s.products[id], nil
}

func (s *fakeStore) ListProducts(_ context.Context, onlyActive bool) ([]*models.TrackedProduct, error) {
	var out []*models.TrackedProduct
	for _, p := range s.products {
		if !onlyActive || p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) SetProductActive(_ context.Context, id uint64, active bool) error {
	if p, ok := s.products[id]; ok {
		p.Active = active
	}
	return nil
}

func (s *fakeStore) UpdateProductSnapshot(_ context.Context, id uint64, _ extract.ExtractedProduct) error {
	return nil
}

func (s *fakeStore) InsertPricePoint(_ context.Context, productID uint64, price decimal.Decimal, currency string, inStock bool, observedAt time.Time) (*models.PriceObservation, error) {
	s.nextObsID++
	o := &models.PriceObservation{
		ID: s.nextObsID, ProductID: productID,
		Price: price, Currency: currency, InStock: inStock, ObservedAt: observedAt,
	}
	s.obs = append(s.obs, o)
	return o, nil
}

func (s *fakeStore) LatestPricePoint(_ context.Context, productID uint64) (*models.PriceObservation, error) {
	var latest *models.PriceObservation
	for _, o := range s.obs {
		if o.ProductID == productID {
			latest = o
		}
	}
	return latest, nil
}

func (s *fakeStore) ListPricePoints(_ context.Context, productID uint64, limit, offset int) ([]*models.PriceObservation, error) {
	var out []*models.PriceObservation
	for _, o := range s.obs {
		if o.ProductID == productID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateAlert(_ context.Context, a models.AlertRule) (*models.AlertRule, error) {
	s.nextAlertID++
	a.ID = s.nextAlertID
	a.CreatedAt = time.Now().UTC()
	s.alerts[a.ID] = &a
	return &a, nil
}

func (s *fakeStore) GetAlert(_ context.Context, id uint64) (*models.AlertRule, error) {
	return s.alerts[id], nil
}

func (s *fakeStore) ListAlertsForProduct(_ context.Context, productID uint64) ([]*models.AlertRule, error) {
	var out []*models.AlertRule
	for _, a := range s.alerts {
		if a.ProductID == productID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeStore) ListActiveAlertsForProduct(ctx context.Context, productID uint64) ([]*models.AlertRule, error) {
	all, _ := s.ListAlertsForProduct(ctx, productID)
	var out []*models.AlertRule
	for _, a := range all {
		if a.IsActive {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeStore) ClaimNotification(_ context.Context, alertID uint64, now time.Time, cooldown time.Duration) (bool, error) {
	return true, nil
}

func (s *fakeStore) SetAlertActive(_ context.Context, id uint64, active bool) error {
	if a, ok := s.alerts[id]; ok {
		a.IsActive = active
	}
	return nil
}

func (s *fakeStore) DeleteAlert(_ context.Context, id uint64) error {
	delete(s.alerts, id)
	return nil
}

type testExtractor struct{}

func (testExtractor) SourceName() string    { return "TestShop" }
func (testExtractor) Matches(u string) bool { return len(u) >= 18 && u[:18] == "https://shop.test/" }
func (testExtractor) Extract(_ context.Context, rawURL string) (extract.ExtractedProduct, error) {
	return extract.ExtractedProduct{
		Name:       "Widget",
		Price:      decimal.RequireFromString("25.00"),
		Currency:   "USD",
		InStock:    true,
		SourceName: "TestShop",
	}, nil
}

type fakeNotifier struct {
	channel    models.Channel
	configured bool
	sent       int
}

func (f *fakeNotifier) Channel() models.Channel { return f.channel }
func (f *fakeNotifier) IsConfigured() bool      { return f.configured }
func (f *fakeNotifier) Send(context.Context, string, string, string, notify.AlertContext) error {
	f.sent++
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeStore, *fakeNotifier) {
	t.Helper()
	store := newFakeStore()
	reg := extract.NewRegistry(testExtractor{})

	email := &fakeNotifier{channel: models.ChannelEmail, configured: true}
	sms := &fakeNotifier{channel: models.ChannelSMS, configured: false}
	disp := notify.NewDispatcher(email, sms)

	api := New(
		products.New(store, reg, nil, 0),
		alerts.New(store, disp, 0),
		disp,
	)

	r := chi.NewRouter()
	api.Routes(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts, store, email
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestAddProduct(t *testing.T) {
	ts, store, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/products", map[string]string{
		"url": "https://shop.test/p/1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	product := body["product"].(map[string]any)
	require.Equal(t, "Widget", product["name"])
	require.Equal(t, "TestShop", product["source"])
	obs := body["observation"].(map[string]any)
	require.Equal(t, "25.00", obs["price"])
	require.Len(t, store.obs, 1)
}

func TestAddProduct_NoPlugin(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/products", map[string]string{
		"url": "https://unknown.example/item",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, "NO_PLUGIN_FOR_URL", body["kind"])
}

func TestGetProduct_NotFound(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/products/42", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/products/abc", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProductLifecycle(t *testing.T) {
	ts, store, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/products", map[string]string{
		"url": "https://shop.test/p/1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/products/1/refresh", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, store.obs, 2)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/products/1/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["observations"], 2)

	resp, obs := doJSON(t, http.MethodGet, ts.URL+"/api/products/1/latest", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "25.00", obs["price"])

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/products/1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, store.products[1].Active, "delete is a soft delete")
}

func TestCreateAlert(t *testing.T) {
	ts, _, _ := newTestServer(t)

	_, _ = doJSON(t, http.MethodPost, ts.URL+"/api/products", map[string]string{
		"url": "https://shop.test/p/1",
	})

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/alerts", map[string]any{
		"product_id":   1,
		"target_price": "20.00",
		"email":        "user@example.com",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "20.00", body["target_price"])
	require.Equal(t, true, body["is_active"])

	// Валидация: цель должна быть положительной.
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/alerts", map[string]any{
		"product_id":   1,
		"target_price": "0",
		"email":        "user@example.com",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, body["error"], "targetPrice")

	resp, list := doJSON(t, http.MethodGet, ts.URL+"/api/products/1/alerts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, list["alerts"], 1)
}

func TestPatchAlert(t *testing.T) {
	ts, store, _ := newTestServer(t)

	_, _ = doJSON(t, http.MethodPost, ts.URL+"/api/products", map[string]string{
		"url": "https://shop.test/p/1",
	})
	_, _ = doJSON(t, http.MethodPost, ts.URL+"/api/alerts", map[string]any{
		"product_id": 1, "target_price": "20.00", "email": "user@example.com",
	})

	resp, _ := doJSON(t, http.MethodPatch, ts.URL+"/api/alerts/1", map[string]any{"is_active": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, store.alerts[1].IsActive)

	resp, _ = doJSON(t, http.MethodPatch, ts.URL+"/api/alerts/1", map[string]any{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/alerts/1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, store.alerts)
}

func TestTestNotification(t *testing.T) {
	ts, _, email := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/notifications/test", map[string]string{
		"channel": "email", "recipient": "user@example.com", "message": "ping",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, email.sent)

	// sms зарегистрирован, но не настроен.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/notifications/test", map[string]string{
		"channel": "sms", "recipient": "+15551234567",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/notifications/test", map[string]string{
		"channel": "pigeon", "recipient": "coop",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
