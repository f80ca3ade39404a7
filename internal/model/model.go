// Package model содержит доменные сущности маркетплейса CropChain.
package model

import "time"

// UserRole описывает роль пользователя в системе.
type UserRole string

const (
	RoleBuyer UserRole = "BUYER"
	RoleAgent UserRole = "AGENT"
	RoleAdmin UserRole = "ADMIN"
)

// User представляет пользователя системы. Баланс хранится в целых
// денежных единицах и используется только для симуляции эскроу.
type User struct {
	ID      string
	Name    string
	Role    UserRole
	Email   string
	Balance int64
}

// ProductCategory описывает категорию товара.
type ProductCategory string

const (
	CategoryVegetables ProductCategory = "Vegetables"
	CategoryFruit      ProductCategory = "Fruit"
	CategoryGrains     ProductCategory = "Grains"
	CategorySpices     ProductCategory = "Spices"
)

// Categories перечисляет все известные категории товаров.
func Categories() []ProductCategory {
	return []ProductCategory{CategoryVegetables, CategoryFruit, CategoryGrains, CategorySpices}
}

// Product описывает товар, выставленный агентом. AgentID неизменяем после
// создания; цену и UpdatedAt меняет только операция обновления цены.
type Product struct {
	ID          string
	Name        string
	Category    ProductCategory
	Price       int64
	Stock       int64
	Unit        string
	Location    string
	AgentID     string
	AgentName   string
	Description string
	ImageURL    string
	UpdatedAt   time.Time
}

// PriceLog описывает запись журнала изменения цены. Записи неизменяемы:
// журнал только пополняется, существующие записи никогда не правятся.
type PriceLog struct {
	ID        string
	ProductID string
	OldPrice  int64
	NewPrice  int64
	ChangedBy string
	Timestamp time.Time
	Reason    string
}

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusPendingPayment     OrderStatus = "PENDING_PAYMENT"
	OrderStatusPaidWaitingConfirm OrderStatus = "PAID_WAITING_CONFIRMATION"
	OrderStatusShipped            OrderStatus = "SHIPPED"
	OrderStatusCompleted          OrderStatus = "COMPLETED"
	OrderStatusCancelled          OrderStatus = "CANCELLED"
)

// OrderItem описывает позицию заказа с зафиксированной на момент покупки ценой.
type OrderItem struct {
	ProductID       string
	ProductName     string
	Quantity        int64
	PriceAtPurchase int64
}

// Order описывает заказ покупателя. TotalAmount всегда равен сумме
// PriceAtPurchase*Quantity по всем позициям.
type Order struct {
	ID          string
	BuyerID     string
	AgentID     string
	TotalAmount int64
	Status      OrderStatus
	CreatedAt   time.Time
	Items       []OrderItem
}

// ProductFilter задаёт необязательные условия выборки каталога.
// Все заданные условия применяются одновременно. Нулевые значения
// означают отсутствие условия (цены в каталоге строго положительны).
type ProductFilter struct {
	Category string
	Location string
	MinPrice int64
	MaxPrice int64
	Search   string
}
