// Package handler содержит HTTP-обработчики API сервиса CropChain.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dpratama/cropchain-system/internal/marketref"
	"github.com/dpratama/cropchain-system/internal/middleware"
	"github.com/dpratama/cropchain-system/internal/model"
	"github.com/dpratama/cropchain-system/internal/repository"
	"github.com/dpratama/cropchain-system/internal/service"
	"github.com/dpratama/cropchain-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Login(ctx context.Context, email string) (*model.User, error)
	GetProducts(ctx context.Context, filter model.ProductFilter) ([]model.Product, error)
	GetProductByID(ctx context.Context, id string) (*model.Product, error)
	GetAgentProducts(ctx context.Context, agentID string) ([]model.Product, error)
	UpdatePrice(ctx context.Context, productID, agentID string, newPrice int64, reason string) (*model.Product, error)
	GetPriceHistory(ctx context.Context, productID string) ([]model.PriceLog, error)
	CreateOrder(ctx context.Context, buyerID, productID string, quantity int64) (*model.Order, error)
	GetAgentOrders(ctx context.Context, agentID string) ([]model.Order, error)
	GetReferencePrices() []marketref.ReferencePrice
}

// Handler реализует HTTP-обработчики API сервиса CropChain.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type loginRequest struct {
	Email string `json:"email"`
}

type userResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	Email   string `json:"email"`
	Balance int64  `json:"balance"`
}

// Login выполняет вход пользователя по адресу электронной почты и устанавливает cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.service.Login(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, user.ID)
	writeJSON(w, http.StatusOK, userResponse{
		ID:      user.ID,
		Name:    user.Name,
		Role:    string(user.Role),
		Email:   user.Email,
		Balance: user.Balance,
	})
}

type productResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Price       int64  `json:"price"`
	Stock       int64  `json:"stock"`
	Unit        string `json:"unit"`
	Location    string `json:"location"`
	AgentID     string `json:"agent_id"`
	AgentName   string `json:"agent_name"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
	UpdatedAt   string `json:"updated_at"`
}

func toProductResponse(p model.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Category:    string(p.Category),
		Price:       p.Price,
		Stock:       p.Stock,
		Unit:        p.Unit,
		Location:    p.Location,
		AgentID:     p.AgentID,
		AgentName:   p.AgentName,
		Description: p.Description,
		ImageURL:    p.ImageURL,
		UpdatedAt:   p.UpdatedAt.Format(time.RFC3339),
	}
}

func toProductResponses(products []model.Product) []productResponse {
	res := make([]productResponse, 0, len(products))
	for _, p := range products {
		res = append(res, toProductResponse(p))
	}
	return res
}

func parseProductFilter(r *http.Request) (model.ProductFilter, error) {
	q := r.URL.Query()
	filter := model.ProductFilter{
		Location: q.Get("location"),
		Search:   q.Get("search"),
	}

	if raw := q.Get("category"); raw != "" {
		c, ok := validation.ParseCategory(raw)
		if !ok {
			return filter, errors.New("unknown category")
		}
		filter.Category = string(c)
	}

	for _, bound := range []struct {
		param string
		dst   *int64
	}{
		{"min_price", &filter.MinPrice},
		{"max_price", &filter.MaxPrice},
	} {
		raw := q.Get(bound.param)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return filter, errors.New("invalid " + bound.param)
		}
		*bound.dst = v
	}

	return filter, nil
}

// GetProducts возвращает каталог товаров с учётом фильтров из строки запроса.
func (h *Handler) GetProducts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseProductFilter(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	products, err := h.service.GetProducts(r.Context(), filter)
	if err != nil {
		h.logger.Error("get products error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toProductResponses(products))
}

// GetProduct возвращает один товар по идентификатору.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.service.GetProductByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get product error", zap.Error(err), zap.String("product", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toProductResponse(*p))
}

type priceLogResponse struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	OldPrice  int64  `json:"old_price"`
	NewPrice  int64  `json:"new_price"`
	ChangedBy string `json:"changed_by"`
	Timestamp string `json:"timestamp"`
	Reason    string `json:"reason"`
}

// GetPriceHistory возвращает журнал изменений цены товара, новые записи первыми.
// Для неизвестного товара возвращается пустой список.
func (h *Handler) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	history, err := h.service.GetPriceHistory(r.Context(), id)
	if err != nil {
		h.logger.Error("get price history error", zap.Error(err), zap.String("product", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]priceLogResponse, 0, len(history))
	for _, l := range history {
		resp = append(resp, priceLogResponse{
			ID:        l.ID,
			ProductID: l.ProductID,
			OldPrice:  l.OldPrice,
			NewPrice:  l.NewPrice,
			ChangedBy: l.ChangedBy,
			Timestamp: l.Timestamp.Format(time.RFC3339),
			Reason:    l.Reason,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type updatePriceRequest struct {
	NewPrice int64  `json:"new_price"`
	Reason   string `json:"reason"`
}

// UpdatePrice меняет цену товара от имени аутентифицированного агента.
func (h *Handler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	agentID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id := chi.URLParam(r, "id")

	var req updatePriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.UpdatePrice(r.Context(), id, agentID, req.NewPrice, req.Reason)
	if err != nil {
		middleware.RecordMarketOperation("update_price", false)
		switch {
		case errors.Is(err, service.ErrInvalidPrice):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, repository.ErrNotProductOwner):
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		case errors.Is(err, repository.ErrProductNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("update price error", zap.Error(err), zap.String("product", id), zap.String("agent", agentID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	middleware.RecordMarketOperation("update_price", true)
	writeJSON(w, http.StatusOK, toProductResponse(*p))
}

// GetAgentProducts возвращает товары текущего агента.
func (h *Handler) GetAgentProducts(w http.ResponseWriter, r *http.Request) {
	agentID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	products, err := h.service.GetAgentProducts(r.Context(), agentID)
	if err != nil {
		h.logger.Error("get agent products error", zap.Error(err), zap.String("agent", agentID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toProductResponses(products))
}

type createOrderRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

type orderItemResponse struct {
	ProductID       string `json:"product_id"`
	ProductName     string `json:"product_name"`
	Quantity        int64  `json:"quantity"`
	PriceAtPurchase int64  `json:"price_at_purchase"`
}

type orderResponse struct {
	ID          string              `json:"id"`
	BuyerID     string              `json:"buyer_id"`
	AgentID     string              `json:"agent_id"`
	TotalAmount int64               `json:"total_amount"`
	Status      string              `json:"status"`
	CreatedAt   string              `json:"created_at"`
	Items       []orderItemResponse `json:"items"`
}

func toOrderResponse(o model.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResponse{
			ProductID:       it.ProductID,
			ProductName:     it.ProductName,
			Quantity:        it.Quantity,
			PriceAtPurchase: it.PriceAtPurchase,
		})
	}

	return orderResponse{
		ID:          o.ID,
		BuyerID:     o.BuyerID,
		AgentID:     o.AgentID,
		TotalAmount: o.TotalAmount,
		Status:      string(o.Status),
		CreatedAt:   o.CreatedAt.Format(time.RFC3339),
		Items:       items,
	}
}

// CreateOrder создаёт заказ текущего покупателя на указанный товар.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.ProductID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.CreateOrder(r.Context(), buyerID, req.ProductID, req.Quantity)
	if err != nil {
		middleware.RecordMarketOperation("create_order", false)
		switch {
		case errors.Is(err, service.ErrInvalidQuantity):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, repository.ErrProductNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("create order error", zap.Error(err), zap.String("buyer", buyerID), zap.String("product", req.ProductID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	middleware.RecordMarketOperation("create_order", true)
	writeJSON(w, http.StatusCreated, toOrderResponse(*order))
}

// GetAgentOrders возвращает заказы на товары текущего агента.
func (h *Handler) GetAgentOrders(w http.ResponseWriter, r *http.Request) {
	agentID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.GetAgentOrders(r.Context(), agentID)
	if err != nil {
		h.logger.Error("get agent orders error", zap.Error(err), zap.String("agent", agentID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetReferencePrices возвращает кешированные региональные справочные цены.
func (h *Handler) GetReferencePrices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.GetReferencePrices())
}
