// Package service реализует бизнес-логику маркетплейса CropChain.
package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dpratama/cropchain-system/internal/marketref"
	"github.com/dpratama/cropchain-system/internal/model"
)

// DefaultPriceChangeReason подставляется в журнал, если агент не указал причину.
const DefaultPriceChangeReason = "Routine adjustment"

// ErrInvalidPrice возвращается при попытке установить неположительную цену.
var (
	ErrInvalidPrice = errors.New("price must be positive")
	// ErrInvalidQuantity возвращается при неположительном количестве в заказе.
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetProducts(ctx context.Context, filter model.ProductFilter) ([]model.Product, error)
	GetProductByID(ctx context.Context, id string) (*model.Product, error)
	GetAgentProducts(ctx context.Context, agentID string) ([]model.Product, error)
	UpdateProductPrice(ctx context.Context, productID, agentID string, newPrice int64, reason string) (*model.Product, error)
	GetPriceHistory(ctx context.Context, productID string) ([]model.PriceLog, error)
	CreateOrder(ctx context.Context, buyerID, productID string, quantity int64) (*model.Order, error)
	GetAgentOrders(ctx context.Context, agentID string) ([]model.Order, error)
}

// Service содержит бизнес-логику маркетплейса CropChain.
type Service struct {
	repo      Repository
	refClient *marketref.Client

	refMu     sync.RWMutex
	refPrices map[string]marketref.ReferencePrice
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом ленты справочных цен.
func NewService(repo Repository, refClient *marketref.Client) *Service {
	return &Service{
		repo:      repo,
		refClient: refClient,
		refPrices: make(map[string]marketref.ReferencePrice),
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Login возвращает пользователя по адресу электронной почты.
// Пароли в системе отсутствуют: личность подтверждается внешним слоем.
func (s *Service) Login(ctx context.Context, email string) (*model.User, error) {
	return s.repo.GetUserByEmail(ctx, email)
}

// GetProducts возвращает товары каталога, удовлетворяющие фильтру.
func (s *Service) GetProducts(ctx context.Context, filter model.ProductFilter) ([]model.Product, error) {
	return s.repo.GetProducts(ctx, filter)
}

// GetProductByID возвращает товар по идентификатору.
func (s *Service) GetProductByID(ctx context.Context, id string) (*model.Product, error) {
	return s.repo.GetProductByID(ctx, id)
}

// GetAgentProducts возвращает товары, принадлежащие агенту.
func (s *Service) GetAgentProducts(ctx context.Context, agentID string) ([]model.Product, error) {
	return s.repo.GetAgentProducts(ctx, agentID)
}

// UpdatePrice меняет цену товара от имени агента и дописывает запись журнала.
// Неположительная цена отклоняется до обращения к хранилищу. Пустая причина
// заменяется стандартной.
func (s *Service) UpdatePrice(ctx context.Context, productID, agentID string, newPrice int64, reason string) (*model.Product, error) {
	if newPrice <= 0 {
		return nil, ErrInvalidPrice
	}

	if strings.TrimSpace(reason) == "" {
		reason = DefaultPriceChangeReason
	}

	return s.repo.UpdateProductPrice(ctx, productID, agentID, newPrice, reason)
}

// GetPriceHistory возвращает журнал изменений цены товара, новые записи первыми.
// Для неизвестного товара возвращается пустой список, а не ошибка.
func (s *Service) GetPriceHistory(ctx context.Context, productID string) ([]model.PriceLog, error) {
	return s.repo.GetPriceHistory(ctx, productID)
}

// CreateOrder создаёт заказ покупателя на указанный товар. Цена фиксируется
// на момент вызова: последующие изменения цены не влияют на созданный заказ.
func (s *Service) CreateOrder(ctx context.Context, buyerID, productID string, quantity int64) (*model.Order, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	return s.repo.CreateOrder(ctx, buyerID, productID, quantity)
}

// GetAgentOrders возвращает заказы на товары агента.
func (s *Service) GetAgentOrders(ctx context.Context, agentID string) ([]model.Order, error) {
	return s.repo.GetAgentOrders(ctx, agentID)
}

// GetReferencePrices возвращает снимок кеша справочных цен по категориям.
func (s *Service) GetReferencePrices() []marketref.ReferencePrice {
	s.refMu.RLock()
	defer s.refMu.RUnlock()

	res := make([]marketref.ReferencePrice, 0, len(s.refPrices))
	for _, c := range model.Categories() {
		if p, ok := s.refPrices[string(c)]; ok {
			res = append(res, p)
		}
	}
	return res
}

// StartReferenceUpdates запускает фоновый процесс обновления кеша справочных цен.
func (s *Service) StartReferenceUpdates(ctx context.Context) {
	if s.refClient == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		s.refreshReferencePrices(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.refreshReferencePrices(ctx)
			}
		}
	}()
}

func (s *Service) refreshReferencePrices(ctx context.Context) {
	for _, c := range model.Categories() {
		resp, statusCode, retryAfter, err := s.refClient.GetReferencePrice(ctx, string(c))
		if err != nil {
			continue
		}

		if statusCode == 429 {
			if retryAfter > 0 {
				timer := time.NewTimer(retryAfter)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			continue
		}

		if resp == nil {
			continue
		}

		s.refMu.Lock()
		s.refPrices[resp.Category] = *resp
		s.refMu.Unlock()
	}
}
