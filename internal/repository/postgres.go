package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dpratama/cropchain-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure и Deadlock: конкурентные
		// обновления цены одного товара сериализуются блокировкой строки.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetUserByEmail возвращает пользователя по адресу электронной почты.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, role, email, balance FROM users WHERE email = $1`,
		email,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Name, &u.Role, &u.Email, &u.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

const productColumns = `id, name, category, price, stock, unit, location, agent_id, agent_name, description, image_url, updated_at`

func scanProduct(row pgx.Row) (*model.Product, error) {
	var p model.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.Category, &p.Price, &p.Stock, &p.Unit,
		&p.Location, &p.AgentID, &p.AgentName, &p.Description, &p.ImageURL, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectProducts(rows pgx.Rows) ([]model.Product, error) {
	defer rows.Close()

	var res []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetProducts возвращает товары, удовлетворяющие всем заданным условиям фильтра.
func (r *PostgresRepository) GetProducts(ctx context.Context, filter model.ProductFilter) ([]model.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE 1=1`
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Category != "" {
		query += ` AND category = ` + arg(filter.Category)
	}
	if filter.Location != "" {
		query += ` AND location LIKE ` + arg("%"+filter.Location+"%")
	}
	if filter.MinPrice > 0 {
		query += ` AND price >= ` + arg(filter.MinPrice)
	}
	if filter.MaxPrice > 0 {
		query += ` AND price <= ` + arg(filter.MaxPrice)
	}
	if filter.Search != "" {
		p := arg("%" + strings.ToLower(filter.Search) + "%")
		query += ` AND (LOWER(name) LIKE ` + p + ` OR LOWER(location) LIKE ` + p + `)`
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}

	return collectProducts(rows)
}

// GetProductByID возвращает товар по идентификатору.
func (r *PostgresRepository) GetProductByID(ctx context.Context, id string) (*model.Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// GetAgentProducts возвращает товары, принадлежащие агенту.
func (r *PostgresRepository) GetAgentProducts(ctx context.Context, agentID string) ([]model.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE agent_id = $1`, agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("select agent products: %w", err)
	}

	return collectProducts(rows)
}

// UpdateProductPrice атомарно меняет цену товара и дописывает запись журнала.
// Строка товара блокируется на время транзакции, поэтому конкурентные
// обновления одного товара выполняются строго последовательно.
func (r *PostgresRepository) UpdateProductPrice(ctx context.Context, productID, agentID string, newPrice int64, reason string) (*model.Product, error) {
	var updated *model.Product

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var oldPrice int64
		var ownerID string
		err = tx.QueryRow(ctx,
			`SELECT price, agent_id FROM products WHERE id = $1 FOR UPDATE`,
			productID,
		).Scan(&oldPrice, &ownerID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrProductNotFound
			}
			return fmt.Errorf("lock product: %w", err)
		}

		if ownerID != agentID {
			return ErrNotProductOwner
		}

		_, err = tx.Exec(ctx,
			`UPDATE products SET price = $2, updated_at = now() WHERE id = $1`,
			productID, newPrice,
		)
		if err != nil {
			return fmt.Errorf("update price: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO price_logs (id, product_id, old_price, new_price, changed_by, reason)
			 VALUES ('l' || nextval('price_log_seq'), $1, $2, $3, $4, $5)`,
			productID, oldPrice, newPrice, agentID, reason,
		)
		if err != nil {
			return fmt.Errorf("insert price log: %w", err)
		}

		updated, err = scanProduct(tx.QueryRow(ctx,
			`SELECT `+productColumns+` FROM products WHERE id = $1`, productID,
		))
		if err != nil {
			return fmt.Errorf("select updated product: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// GetPriceHistory возвращает журнал изменений цены товара, новые записи первыми.
// Для неизвестного товара возвращается пустой список.
func (r *PostgresRepository) GetPriceHistory(ctx context.Context, productID string) ([]model.PriceLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, product_id, old_price, new_price, changed_by, logged_at, reason
		 FROM price_logs
		 WHERE product_id = $1
		 ORDER BY logged_at DESC`,
		productID,
	)
	if err != nil {
		return nil, fmt.Errorf("select price logs: %w", err)
	}
	defer rows.Close()

	var res []model.PriceLog
	for rows.Next() {
		var l model.PriceLog
		if err := rows.Scan(&l.ID, &l.ProductID, &l.OldPrice, &l.NewPrice, &l.ChangedBy, &l.Timestamp, &l.Reason); err != nil {
			return nil, fmt.Errorf("scan price log: %w", err)
		}
		res = append(res, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateOrder создаёт заказ на один товар, фиксируя текущую цену.
// Наличие и списание остатков не проверяются.
func (r *PostgresRepository) CreateOrder(ctx context.Context, buyerID, productID string, quantity int64) (*model.Order, error) {
	var created *model.Order

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		// Блокируем строку товара, чтобы зафиксированная цена соответствовала
		// подтверждённому состоянию, а не промежуточному.
		var p model.Product
		err = tx.QueryRow(ctx,
			`SELECT id, name, price, agent_id FROM products WHERE id = $1 FOR UPDATE`,
			productID,
		).Scan(&p.ID, &p.Name, &p.Price, &p.AgentID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrProductNotFound
			}
			return fmt.Errorf("lock product: %w", err)
		}

		order := model.Order{
			BuyerID:     buyerID,
			AgentID:     p.AgentID,
			TotalAmount: p.Price * quantity,
			Status:      model.OrderStatusPaidWaitingConfirm,
			Items: []model.OrderItem{{
				ProductID:       p.ID,
				ProductName:     p.Name,
				Quantity:        quantity,
				PriceAtPurchase: p.Price,
			}},
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO orders (id, buyer_id, agent_id, total_amount, status)
			 VALUES ('ord-' || nextval('order_seq'), $1, $2, $3, $4)
			 RETURNING id, created_at`,
			order.BuyerID, order.AgentID, order.TotalAmount, string(order.Status),
		).Scan(&order.ID, &order.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO order_items (order_id, product_id, product_name, quantity, price_at_purchase)
			 VALUES ($1, $2, $3, $4, $5)`,
			order.ID, p.ID, p.Name, quantity, p.Price,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		created = &order
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// GetAgentOrders возвращает заказы на товары агента.
func (r *PostgresRepository) GetAgentOrders(ctx context.Context, agentID string) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT o.id, o.buyer_id, o.agent_id, o.total_amount, o.status, o.created_at,
		        i.product_id, i.product_name, i.quantity, i.price_at_purchase
		 FROM orders o
		 JOIN order_items i ON i.order_id = o.id
		 WHERE o.agent_id = $1
		 ORDER BY o.created_at DESC, o.id`,
		agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	index := make(map[string]int)

	for rows.Next() {
		var o model.Order
		var item model.OrderItem
		var status string
		err := rows.Scan(
			&o.ID, &o.BuyerID, &o.AgentID, &o.TotalAmount, &status, &o.CreatedAt,
			&item.ProductID, &item.ProductName, &item.Quantity, &item.PriceAtPurchase,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}

		if i, ok := index[o.ID]; ok {
			res[i].Items = append(res[i].Items, item)
			continue
		}

		o.Status = model.OrderStatus(status)
		o.Items = []model.OrderItem{item}
		index[o.ID] = len(res)
		res = append(res, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
