package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/rl1809/keyshop/internal/core/domain"
	"github.com/rl1809/keyshop/internal/core/service"
)

type HTTPHandler struct {
	orders        *service.OrderService
	notifications *service.NotificationService
	catalog       *service.CatalogService
	logger        *zap.Logger
	maxQuantity   int
}

type PurchaseHTTPRequest struct {
	ProductID     int64       `json:"product_id"`
	Quantity      json.Number `json:"quantity"`
	TransactionID string      `json:"transaction_id"`
}

type VerifyHTTPRequest struct {
	TransactionID string `json:"transaction_id"`
}

type CreateProductHTTPRequest struct {
	Name                  string `json:"name"`
	Description           string `json:"description"`
	Price                 int64  `json:"price"`
	Status                string `json:"status"`
	StockWarningThreshold *int   `json:"stock_warning_threshold"`
}

type AddKeysHTTPRequest struct {
	Keys []struct {
		SerialNo string `json:"serial_no"`
		Pin      string `json:"pin"`
	} `json:"keys"`
}

type listResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Count   int    `json:"count"`
	Results any    `json:"results"`
}

type productResponse struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Product ProductView `json:"product"`
}

func NewHTTPHandler(
	orders *service.OrderService,
	notifications *service.NotificationService,
	catalog *service.CatalogService,
	logger *zap.Logger,
	maxQuantity int,
) *HTTPHandler {
	return &HTTPHandler{
		orders:        orders,
		notifications: notifications,
		catalog:       catalog,
		logger:        logger,
		maxQuantity:   maxQuantity,
	}
}

func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(h.logger))
	r.Use(loggingMiddleware(h.logger))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/product/purchase", h.Purchase)
		r.Post("/transaction/verify", h.VerifyTransaction)

		r.Get("/notifications", h.ListNotifications)
		r.Patch("/notifications/{id}/mark_as_read", h.MarkNotificationRead)

		r.Get("/products", h.ListProducts)
		r.Get("/products/{id}", h.GetProduct)
		r.Get("/products/{id}/stock", h.ProductStock)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/products", h.CreateProduct)
			r.Post("/products/{id}/keys", h.AddKeys)
			r.Delete("/products/{id}", h.DeleteProduct)
			r.Delete("/product-keys/{id}", h.DeleteKey)
		})
	})
	return otelhttp.NewHandler(r, "keyshop.http")
}

func (h *HTTPHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Envelope{Message: msgInvalidRequest})
		return
	}
	var req PurchaseHTTPRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Envelope{Message: msgInvalidRequest, TransactionID: salvageTransactionID(body)})
		return
	}

	quantity, err := parseQuantity(req.Quantity, h.maxQuantity)
	if err != nil {
		h.writeError(w, domain.WithTransaction(req.TransactionID, err))
		return
	}

	order, err := h.orders.PlaceOrder(r.Context(), service.PlaceOrderRequest{
		ProductID:     req.ProductID,
		Quantity:      quantity,
		TransactionID: req.TransactionID,
		Actor:         actorOf(r),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, presentOrder(*order))
}

// salvageTransactionID pulls the transaction id out of a body that failed to decode, so the
// rejection can still be correlated.
func salvageTransactionID(body []byte) string {
	var partial struct {
		TransactionID string `json:"transaction_id"`
	}
	if err := json.Unmarshal(body, &partial); err != nil {
		return ""
	}
	return partial.TransactionID
}

// parseQuantity rejects fractional, non-positive and oversized quantities before the engine runs.
func parseQuantity(raw json.Number, limit int) (int, error) {
	n, err := strconv.Atoi(raw.String())
	if err != nil || n <= 0 || n > limit {
		return 0, domain.ErrInvalidQuantity
	}
	return n, nil
}

func (h *HTTPHandler) VerifyTransaction(w http.ResponseWriter, r *http.Request) {
	var req VerifyHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Envelope{Message: msgInvalidRequest})
		return
	}

	order, err := h.orders.FindByTransaction(r.Context(), req.TransactionID)
	if errors.Is(err, domain.ErrTransactionNotFound) {
		writeJSON(w, http.StatusOK, Envelope{Message: msgTransactionNotFound})
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, presentOrder(*order))
}

func (h *HTTPHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	items, err := h.notifications.ListUnread(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	views := make([]NotificationView, 0, len(items))
	for _, n := range items {
		views = append(views, presentNotification(n))
	}
	writeJSON(w, http.StatusOK, listResponse{Status: true, Message: msgSuccess, Count: len(views), Results: views})
}

func (h *HTTPHandler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(r.Context(), id, actorOf(r)); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Status: true, Message: msgNotificationRead})
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	entries, err := h.catalog.ListCatalog(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	views := make([]ProductView, 0, len(entries))
	for _, e := range entries {
		views = append(views, presentCatalogEntry(e))
	}
	writeJSON(w, http.StatusOK, listResponse{Status: true, Message: msgSuccess, Count: len(views), Results: views})
}

func (h *HTTPHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	product, err := h.catalog.Product(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, productResponse{Status: true, Message: msgSuccess, Product: presentProduct(*product)})
}

func (h *HTTPHandler) ProductStock(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	level, err := h.catalog.Stock(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, presentStock(id, level))
}

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Envelope{Message: msgInvalidRequest})
		return
	}
	product, err := h.catalog.CreateProduct(r.Context(), service.ProductInput{
		Name:                  req.Name,
		Description:           req.Description,
		Price:                 req.Price,
		Status:                domain.ProductStatus(req.Status),
		StockWarningThreshold: req.StockWarningThreshold,
	}, actorOf(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, productResponse{Status: true, Message: msgSuccess, Product: presentProduct(*product)})
}

func (h *HTTPHandler) AddKeys(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req AddKeysHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Envelope{Message: msgInvalidRequest})
		return
	}
	inputs := make([]domain.KeyInput, 0, len(req.Keys))
	for _, k := range req.Keys {
		inputs = append(inputs, domain.KeyInput{SerialNo: k.SerialNo, Pin: k.Pin})
	}
	keys, err := h.catalog.AddKeys(r.Context(), id, inputs, actorOf(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	ids := make([]int64, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k.ID)
	}
	writeJSON(w, http.StatusCreated, listResponse{Status: true, Message: msgSuccess, Count: len(ids), Results: ids})
}

func (h *HTTPHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.catalog.SoftDeleteProduct(r.Context(), id, actorOf(r)); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Status: true, Message: msgProductDeleted})
}

func (h *HTTPHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.catalog.SoftDeleteKey(r.Context(), id, actorOf(r)); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Status: true, Message: msgKeyDeleted})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	mapped := mapError(err)
	if mapped.httpStatus >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, mapped.httpStatus, failure(err))
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, Envelope{Message: "Invalid id"})
		return 0, false
	}
	return id, true
}

func actorOf(r *http.Request) string {
	return r.Header.Get(headerActor)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
