// Package repository содержит реализации хранилища данных маркетплейса.
package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dpratama/cropchain-system/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Используется в
// эталонном развёртывании без БД и в тестах.
type MemoryRepository struct {
	mu        sync.RWMutex
	users     map[string]model.User
	products  map[string]model.Product
	priceLogs []model.PriceLog
	orders    []model.Order

	// Пер-товарные мьютексы сериализуют составную операцию обновления цены:
	// обновления разных товаров не блокируют друг друга.
	lockMu       sync.Mutex
	productLocks map[string]*sync.Mutex

	logSeq   atomic.Int64
	orderSeq atomic.Int64
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:        make(map[string]model.User),
		products:     make(map[string]model.Product),
		productLocks: make(map[string]*sync.Mutex),
	}
}

// NewSeededMemoryRepository создаёт хранилище с начальными данными маркетплейса.
func NewSeededMemoryRepository() *MemoryRepository {
	r := NewMemoryRepository()
	now := time.Now()

	users := []model.User{
		{ID: "u1", Name: "Budi Santoso", Role: model.RoleAgent, Email: "agent@cropchain.com", Balance: 5000000},
		{ID: "u2", Name: "Restoran Pagi Sore", Role: model.RoleBuyer, Email: "buyer@cropchain.com", Balance: 10000000},
		{ID: "u3", Name: "System Admin", Role: model.RoleAdmin, Email: "admin@cropchain.com", Balance: 0},
	}
	for _, u := range users {
		r.users[u.ID] = u
	}

	products := []model.Product{
		{
			ID:          "p1",
			Name:        "Cabai Rawit Merah Premium",
			Category:    model.CategoryVegetables,
			Price:       45000,
			Stock:       150,
			Unit:        "kg",
			Location:    "Brebes, Jawa Tengah",
			AgentID:     "u1",
			AgentName:   "Budi Santoso",
			Description: "Cabai rawit merah segar kualitas super, panen hari ini.",
			ImageURL:    "https://picsum.photos/400/300?random=1",
			UpdatedAt:   now,
		},
		{
			ID:          "p2",
			Name:        "Bawang Merah Brebes",
			Category:    model.CategoryVegetables,
			Price:       32000,
			Stock:       500,
			Unit:        "kg",
			Location:    "Brebes, Jawa Tengah",
			AgentID:     "u1",
			AgentName:   "Budi Santoso",
			Description: "Bawang merah lokal, ukuran sedang hingga besar.",
			ImageURL:    "https://picsum.photos/400/300?random=2",
			UpdatedAt:   now,
		},
		{
			ID:          "p3",
			Name:        "Mangga Gedong Gincu",
			Category:    model.CategoryFruit,
			Price:       28000,
			Stock:       200,
			Unit:        "kg",
			Location:    "Cirebon, Jawa Barat",
			AgentID:     "u1",
			AgentName:   "Budi Santoso",
			Description: "Mangga masak pohon, manis dan harum.",
			ImageURL:    "https://picsum.photos/400/300?random=3",
			UpdatedAt:   now,
		},
	}
	for _, p := range products {
		r.products[p.ID] = p
	}

	r.priceLogs = append(r.priceLogs, model.PriceLog{
		ID:        "l1",
		ProductID: "p1",
		OldPrice:  40000,
		NewPrice:  45000,
		ChangedBy: "u1",
		Timestamp: now.Add(-24 * time.Hour),
		Reason:    "Kenaikan harga pupuk",
	})
	r.logSeq.Store(1)

	return r
}

// Close освобождает ресурсы хранилища.
func (r *MemoryRepository) Close() error {
	return nil
}

// AddUser добавляет пользователя. Используется при посеве данных и в тестах.
func (r *MemoryRepository) AddUser(u model.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
}

// AddProduct добавляет товар. Используется при посеве данных и в тестах.
func (r *MemoryRepository) AddProduct(p model.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p
}

// GetUserByEmail возвращает пользователя по адресу электронной почты.
func (r *MemoryRepository) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.Email == email {
			found := u
			return &found, nil
		}
	}
	return nil, ErrUserNotFound
}

// GetProducts возвращает товары, удовлетворяющие всем заданным условиям фильтра.
func (r *MemoryRepository) GetProducts(_ context.Context, filter model.ProductFilter) ([]model.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]model.Product, 0, len(r.products))
	for _, p := range r.products {
		if matchesFilter(p, filter) {
			res = append(res, p)
		}
	}
	return res, nil
}

func matchesFilter(p model.Product, f model.ProductFilter) bool {
	if f.Category != "" && string(p.Category) != f.Category {
		return false
	}
	if f.Location != "" && !strings.Contains(p.Location, f.Location) {
		return false
	}
	if f.MinPrice > 0 && p.Price < f.MinPrice {
		return false
	}
	if f.MaxPrice > 0 && p.Price > f.MaxPrice {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(p.Name), q) && !strings.Contains(strings.ToLower(p.Location), q) {
			return false
		}
	}
	return true
}

// GetProductByID возвращает товар по идентификатору.
func (r *MemoryRepository) GetProductByID(_ context.Context, id string) (*model.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	found := p
	return &found, nil
}

// GetAgentProducts возвращает товары, принадлежащие агенту.
func (r *MemoryRepository) GetAgentProducts(_ context.Context, agentID string) ([]model.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Product
	for _, p := range r.products {
		if p.AgentID == agentID {
			res = append(res, p)
		}
	}
	return res, nil
}

func (r *MemoryRepository) productLock(productID string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()

	l, ok := r.productLocks[productID]
	if !ok {
		l = &sync.Mutex{}
		r.productLocks[productID] = l
	}
	return l
}

// UpdateProductPrice атомарно меняет цену товара и дописывает запись журнала.
// Проверка владельца выполняется до любых изменений; при отказе состояние
// хранилища не меняется.
func (r *MemoryRepository) UpdateProductPrice(_ context.Context, productID, agentID string, newPrice int64, reason string) (*model.Product, error) {
	lock := r.productLock(productID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	p, ok := r.products[productID]
	r.mu.RUnlock()

	if !ok {
		return nil, ErrProductNotFound
	}
	if p.AgentID != agentID {
		return nil, ErrNotProductOwner
	}

	now := time.Now()
	oldPrice := p.Price
	p.Price = newPrice
	p.UpdatedAt = now

	entry := model.PriceLog{
		ID:        fmt.Sprintf("l%d", r.logSeq.Add(1)),
		ProductID: productID,
		OldPrice:  oldPrice,
		NewPrice:  newPrice,
		ChangedBy: agentID,
		Timestamp: now,
		Reason:    reason,
	}

	r.mu.Lock()
	r.products[productID] = p
	r.priceLogs = append(r.priceLogs, entry)
	r.mu.Unlock()

	updated := p
	return &updated, nil
}

// GetPriceHistory возвращает журнал изменений цены товара, новые записи первыми.
// Для неизвестного товара возвращается пустой список.
func (r *MemoryRepository) GetPriceHistory(_ context.Context, productID string) ([]model.PriceLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Журнал пополняется в хронологическом порядке, поэтому обратный
	// проход даёт сортировку по времени по убыванию.
	var res []model.PriceLog
	for i := len(r.priceLogs) - 1; i >= 0; i-- {
		if r.priceLogs[i].ProductID == productID {
			res = append(res, r.priceLogs[i])
		}
	}
	return res, nil
}

// CreateOrder создаёт заказ на один товар, фиксируя текущую цену.
// Наличие и списание остатков не проверяются.
func (r *MemoryRepository) CreateOrder(_ context.Context, buyerID, productID string, quantity int64) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[productID]
	if !ok {
		return nil, ErrProductNotFound
	}

	order := model.Order{
		ID:          fmt.Sprintf("ord-%d", r.orderSeq.Add(1)),
		BuyerID:     buyerID,
		AgentID:     p.AgentID,
		TotalAmount: p.Price * quantity,
		Status:      model.OrderStatusPaidWaitingConfirm,
		CreatedAt:   time.Now(),
		Items: []model.OrderItem{{
			ProductID:       p.ID,
			ProductName:     p.Name,
			Quantity:        quantity,
			PriceAtPurchase: p.Price,
		}},
	}
	r.orders = append(r.orders, order)

	created := order
	created.Items = append([]model.OrderItem(nil), order.Items...)
	return &created, nil
}

// GetAgentOrders возвращает заказы на товары агента.
func (r *MemoryRepository) GetAgentOrders(_ context.Context, agentID string) ([]model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Order
	for _, o := range r.orders {
		if o.AgentID == agentID {
			copied := o
			copied.Items = append([]model.OrderItem(nil), o.Items...)
			res = append(res, copied)
		}
	}
	return res, nil
}
