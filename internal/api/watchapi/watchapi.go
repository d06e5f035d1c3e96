package watchapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/PriceWatch/internal/extract"
	"github.com/BearBump/PriceWatch/internal/models"
	"github.com/BearBump/PriceWatch/internal/notify"
	"github.com/BearBump/PriceWatch/internal/services/alerts"
	"github.com/BearBump/PriceWatch/internal/services/products"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type WatchAPI struct {
	products   *products.Service
	alerts     *alerts.Service
	dispatcher *notify.Dispatcher
}

func New(p *products.Service, a *alerts.Service, d *notify.Dispatcher) *WatchAPI {
	return &WatchAPI{products: p, alerts: a, dispatcher: d}
}

func (a *WatchAPI) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Post("/", a.addProduct)
			r.Get("/", a.listProducts)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.getProduct)
				r.Delete("/", a.deleteProduct)
				r.Post("/refresh", a.refreshProduct)
				r.Get("/history", a.priceHistory)
				r.Get("/latest", a.latestPrice)
				r.Get("/alerts", a.listAlerts)
			})
		})
		r.Route("/alerts", func(r chi.Router) {
			r.Post("/", a.createAlert)
			r.Delete("/{id}", a.deleteAlert)
			r.Patch("/{id}", a.patchAlert)
		})
		r.Post("/notifications/test", a.testNotification)
	})
}

type productDTO struct {
	ID          uint64  `json:"id"`
	Name        string  `json:"name"`
	URL         string  `json:"url"`
	Source      string  `json:"source"`
	ImageURL    *string `json:"image_url,omitempty"`
	Description *string `json:"description,omitempty"`
	Active      bool    `json:"active"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

type observationDTO struct {
	ID         uint64 `json:"id"`
	ProductID  uint64 `json:"product_id"`
	Price      string `json:"price"`
	Currency   string `json:"currency"`
	InStock    bool   `json:"in_stock"`
	ObservedAt string `json:"observed_at"`
}

type alertDTO struct {
	ID             uint64  `json:"id"`
	ProductID      uint64  `json:"product_id"`
	TargetPrice    string  `json:"target_price"`
	Email          *string `json:"email,omitempty"`
	Phone          *string `json:"phone,omitempty"`
	TelegramChatID *string `json:"telegram_chat_id,omitempty"`
	IsActive       bool    `json:"is_active"`
	LastNotifiedAt *string `json:"last_notified_at,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

func toProductDTO(p *models.TrackedProduct) productDTO {
	return productDTO{
		ID: p.ID, Name: p.Name, URL: p.URL, Source: p.SourceName,
		ImageURL: p.ImageURL, Description: p.Description, Active: p.Active,
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toObservationDTO(o *models.PriceObservation) observationDTO {
	return observationDTO{
		ID: o.ID, ProductID: o.ProductID,
		Price: o.Price.StringFixed(2), Currency: o.Currency, InStock: o.InStock,
		ObservedAt: o.ObservedAt.UTC().Format(time.RFC3339),
	}
}

func toAlertDTO(al *models.AlertRule) alertDTO {
	dto := alertDTO{
		ID: al.ID, ProductID: al.ProductID,
		TargetPrice: al.TargetPrice.StringFixed(2),
		Email:       al.Email, Phone: al.Phone, TelegramChatID: al.TelegramChatID,
		IsActive:  al.IsActive,
		CreatedAt: al.CreatedAt.UTC().Format(time.RFC3339),
	}
	if al.LastNotifiedAt != nil {
		s := al.LastNotifiedAt.UTC().Format(time.RFC3339)
		dto.LastNotifiedAt = &s
	}
	return dto
}

func (a *WatchAPI) addProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	p, obs, err := a.products.AddProduct(r.Context(), req.URL)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"product":     toProductDTO(p),
		"observation": toObservationDTO(obs),
	})
}

func (a *WatchAPI) listProducts(w http.ResponseWriter, r *http.Request) {
	onlyActive := r.URL.Query().Get("all") != "true"
	ps, err := a.products.ListProducts(r.Context(), onlyActive)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]productDTO, 0, len(ps))
	for _, p := range ps {
		out = append(out, toProductDTO(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": out})
}

func (a *WatchAPI) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := a.products.GetProduct(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

func (a *WatchAPI) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.products.DeactivateProduct(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (a *WatchAPI) refreshProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	obs, err := a.products.RefreshProduct(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if obs == nil {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	writeJSON(w, http.StatusOK, toObservationDTO(obs))
}

func (a *WatchAPI) priceHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	obs, err := a.products.ListPriceHistory(r.Context(), id, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]observationDTO, 0, len(obs))
	for _, o := range obs {
		out = append(out, toObservationDTO(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"observations": out})
}

func (a *WatchAPI) latestPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	obs, err := a.products.LatestPrice(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if obs == nil {
		writeError(w, http.StatusNotFound, "no observations for product")
		return
	}
	writeJSON(w, http.StatusOK, toObservationDTO(obs))
}

func (a *WatchAPI) createAlert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID      uint64  `json:"product_id"`
		TargetPrice    string  `json:"target_price"`
		Email          *string `json:"email"`
		Phone          *string `json:"phone"`
		TelegramChatID *string `json:"telegram_chat_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	target, err := decimal.NewFromString(req.TargetPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "target_price: must be a decimal number")
		return
	}

	al, err := a.alerts.CreateAlert(r.Context(), models.AlertRule{
		ProductID:      req.ProductID,
		TargetPrice:    target,
		Email:          req.Email,
		Phone:          req.Phone,
		TelegramChatID: req.TelegramChatID,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAlertDTO(al))
}

func (a *WatchAPI) listAlerts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	als, err := a.alerts.ListAlertsForProduct(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]alertDTO, 0, len(als))
	for _, al := range als {
		out = append(out, toAlertDTO(al))
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": out})
}

func (a *WatchAPI) deleteAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.alerts.DeleteAlert(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (a *WatchAPI) patchAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsActive == nil {
		writeError(w, http.StatusBadRequest, "is_active is required")
		return
	}
	if err := a.alerts.SetAlertActive(r.Context(), id, *req.IsActive); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"is_active": *req.IsActive})
}

func (a *WatchAPI) testNotification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Channel   string `json:"channel"`
		Recipient string `json:"recipient"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Channel == "" || req.Recipient == "" {
		writeError(w, http.StatusBadRequest, "channel and recipient are required")
		return
	}
	if req.Message == "" {
		req.Message = "PriceWatch test notification"
	}

	err := a.dispatcher.SendTest(r.Context(), models.Channel(req.Channel), req.Recipient, req.Message)
	switch err.(type) {
	case nil:
		writeJSON(w, http.StatusOK, map[string]any{"sent": true})
	case *notify.UnknownChannelError:
		writeError(w, http.StatusBadRequest, err.Error())
	case *notify.NotConfiguredError:
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// writeServiceError мапит ошибки сервисного слоя в HTTP-статусы:
// ошибки валидации — 400, таксономия экстракции — 4xx/5xx по виду,
// всё остальное — 500.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *alerts.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, verr.Error())
		return
	}

	switch extract.KindOf(err) {
	case extract.KindNoPluginForURL:
		writeErrorKind(w, http.StatusUnprocessableEntity, err.Error(), string(extract.KindNoPluginForURL))
	case extract.KindFetchFailed:
		writeErrorKind(w, http.StatusBadGateway, err.Error(), string(extract.KindFetchFailed))
	case extract.KindParseFailed:
		writeErrorKind(w, http.StatusBadGateway, err.Error(), string(extract.KindParseFailed))
	case extract.KindIncompleteData:
		writeErrorKind(w, http.StatusBadGateway, err.Error(), string(extract.KindIncompleteData))
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeErrorKind(w http.ResponseWriter, status int, msg, kind string) {
	writeJSON(w, status, map[string]any{"error": msg, "kind": kind})
}
