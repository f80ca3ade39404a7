package service

import (
	"context"
	"errors"
	"testing"

	"github.com/dpratama/cropchain-system/internal/model"
	"github.com/dpratama/cropchain-system/internal/repository"
)

type stubRepo struct {
	user    *model.User
	userErr error

	products    []model.Product
	productsErr error

	updatedProduct *model.Product
	updateErr      error
	gotProductID   string
	gotAgentID     string
	gotNewPrice    int64
	gotReason      string

	history    []model.PriceLog
	historyErr error

	order       *model.Order
	orderErr    error
	gotQuantity int64

	orders    []model.Order
	ordersErr error
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubRepo) GetProducts(ctx context.Context, filter model.ProductFilter) ([]model.Product, error) {
	return s.products, s.productsErr
}

func (s *stubRepo) GetProductByID(ctx context.Context, id string) (*model.Product, error) {
	return nil, repository.ErrProductNotFound
}

func (s *stubRepo) GetAgentProducts(ctx context.Context, agentID string) ([]model.Product, error) {
	return s.products, s.productsErr
}

func (s *stubRepo) UpdateProductPrice(ctx context.Context, productID, agentID string, newPrice int64, reason string) (*model.Product, error) {
	s.gotProductID = productID
	s.gotAgentID = agentID
	s.gotNewPrice = newPrice
	s.gotReason = reason
	return s.updatedProduct, s.updateErr
}

func (s *stubRepo) GetPriceHistory(ctx context.Context, productID string) ([]model.PriceLog, error) {
	return s.history, s.historyErr
}

func (s *stubRepo) CreateOrder(ctx context.Context, buyerID, productID string, quantity int64) (*model.Order, error) {
	s.gotQuantity = quantity
	return s.order, s.orderErr
}

func (s *stubRepo) GetAgentOrders(ctx context.Context, agentID string) ([]model.Order, error) {
	return s.orders, s.ordersErr
}

func TestUpdatePrice_RejectsNonPositivePrice(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil)

	for _, price := range []int64{0, -45000} {
		_, err := svc.UpdatePrice(context.Background(), "p1", "u1", price, "")
		if !errors.Is(err, ErrInvalidPrice) {
			t.Fatalf("price %d: err = %v, want ErrInvalidPrice", price, err)
		}
	}

	if repo.gotProductID != "" {
		t.Fatalf("repository must not be called for invalid price")
	}
}

func TestUpdatePrice_DefaultsEmptyReason(t *testing.T) {
	repo := &stubRepo{updatedProduct: &model.Product{ID: "p1", Price: 50000}}
	svc := NewService(repo, nil)

	for _, reason := range []string{"", "   "} {
		_, err := svc.UpdatePrice(context.Background(), "p1", "u1", 50000, reason)
		if err != nil {
			t.Fatalf("UpdatePrice error: %v", err)
		}
		if repo.gotReason != DefaultPriceChangeReason {
			t.Fatalf("reason = %q, want %q", repo.gotReason, DefaultPriceChangeReason)
		}
	}
}

func TestUpdatePrice_KeepsSuppliedReason(t *testing.T) {
	repo := &stubRepo{updatedProduct: &model.Product{ID: "p1", Price: 50000}}
	svc := NewService(repo, nil)

	p, err := svc.UpdatePrice(context.Background(), "p1", "u1", 50000, "Supply shock")
	if err != nil {
		t.Fatalf("UpdatePrice error: %v", err)
	}
	if repo.gotReason != "Supply shock" {
		t.Fatalf("reason = %q, want %q", repo.gotReason, "Supply shock")
	}
	if p.Price != 50000 {
		t.Fatalf("price = %d, want 50000", p.Price)
	}
}

func TestUpdatePrice_PropagatesOwnershipError(t *testing.T) {
	repo := &stubRepo{updateErr: repository.ErrNotProductOwner}
	svc := NewService(repo, nil)

	_, err := svc.UpdatePrice(context.Background(), "p1", "u2", 60000, "")
	if !errors.Is(err, repository.ErrNotProductOwner) {
		t.Fatalf("err = %v, want ErrNotProductOwner", err)
	}
}

func TestCreateOrder_RejectsNonPositiveQuantity(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil)

	for _, q := range []int64{0, -1} {
		_, err := svc.CreateOrder(context.Background(), "u2", "p1", q)
		if !errors.Is(err, ErrInvalidQuantity) {
			t.Fatalf("quantity %d: err = %v, want ErrInvalidQuantity", q, err)
		}
	}

	if repo.gotQuantity != 0 {
		t.Fatalf("repository must not be called for invalid quantity")
	}
}

func TestCreateOrder_PropagatesNotFound(t *testing.T) {
	repo := &stubRepo{orderErr: repository.ErrProductNotFound}
	svc := NewService(repo, nil)

	_, err := svc.CreateOrder(context.Background(), "u2", "missing", 10)
	if !errors.Is(err, repository.ErrProductNotFound) {
		t.Fatalf("err = %v, want ErrProductNotFound", err)
	}
}

func TestGetPriceHistory_EmptyForUnknownProduct(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil)

	history, err := svc.GetPriceHistory(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetPriceHistory error: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("history length = %d, want 0", len(history))
	}
}

func TestGetReferencePrices_EmptyWithoutFeed(t *testing.T) {
	svc := NewService(&stubRepo{}, nil)

	if got := svc.GetReferencePrices(); len(got) != 0 {
		t.Fatalf("reference prices = %v, want empty", got)
	}
}
