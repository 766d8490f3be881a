package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// Repository is the durable store of orders. Every write is scoped to a single
// order and is atomic.
type Repository interface {
	// CreateOrder inserts the order and its items in one transaction and
	// assigns ID, CreatedAt and UpdatedAt.
	CreateOrder(ctx context.Context, order *Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	ListOrders(ctx context.Context, params ListParams) ([]Order, error)
	CountOrders(ctx context.Context, status *Status) (int, error)
	// UpdateOrderStatus is a compare-and-set: it only writes when the stored
	// status still equals from. Returns ErrOrderNotFound or ErrStatusConflict.
	// It returns the new updated_at.
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to Status) (time.Time, error)
	// MarkOrderPaid moves a PENDING order to PAID and attaches the receipt in
	// one transaction. It reports false, with no error, when the order was not
	// PENDING (including when it does not exist) and nothing was written.
	MarkOrderPaid(ctx context.Context, event PaidEvent, paidAt time.Time) (bool, error)
}

const orderColumns = `id, total_amount, total_items, status, paid, paid_at, payment_charge_id, created_at, updated_at`

type postgresRepository struct {
	db     *pgxpool.Pool
	reader *sqlx.DB
}

// NewRepository writes through the pgx pool and reads through sqlx on top of
// the same pool.
func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{
		db:     db,
		reader: sqlx.NewDb(stdlib.OpenDBFromPool(db), "pgx"),
	}
}

func (r *postgresRepository) CreateOrder(ctx context.Context, order *Order) (err error) {
	orderID, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("repository: failed to generate order ID: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Stringer("order_id_attempted", orderID).Msg("repository: panic during CreateOrder, rolling back")
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Stringer("order_id_attempted", orderID).Msg("repository: failed to rollback transaction")
			}
		}
	}()

	now := time.Now().UTC()

	queryOrder := `
		INSERT INTO order_service.orders (id, total_amount, total_items, status, paid, created_at, updated_at)
		VALUES ($1, $2, $3, $4, false, $5, $5)
	`
	if _, err = tx.Exec(ctx, queryOrder, orderID, order.TotalAmount, order.TotalItems, string(order.Status), now); err != nil {
		return fmt.Errorf("repository: failed to insert order: %w", mapPgError(err))
	}

	queryItem := `
		INSERT INTO order_service.order_items (order_id, product_id, position, quantity, price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	batch := &pgx.Batch{}
	for i, item := range order.Items {
		batch.Queue(queryItem, orderID, item.ProductID, i, item.Quantity, item.Price, now)
	}
	results := tx.SendBatch(ctx, batch)
	for range order.Items {
		if _, err = results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("repository: failed to insert order item for order %s: %w", orderID, mapPgError(err))
		}
	}
	if err = results.Close(); err != nil {
		return fmt.Errorf("repository: failed to flush order items for order %s: %w", orderID, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository: failed to commit transaction: %w", err)
	}

	order.ID = orderID
	order.CreatedAt = now
	order.UpdatedAt = now
	for i := range order.Items {
		order.Items[i].OrderID = orderID
		order.Items[i].CreatedAt = now
	}

	return nil
}

func (r *postgresRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	var order Order
	queryOrder := `SELECT ` + orderColumns + ` FROM order_service.orders WHERE id = $1`
	if err := r.reader.GetContext(ctx, &order, queryOrder, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", id, err)
	}

	order.Items = make([]OrderItem, 0)
	queryItems := `
		SELECT order_id, product_id, quantity, price, created_at
		FROM order_service.order_items
		WHERE order_id = $1
		ORDER BY position
	`
	if err := r.reader.SelectContext(ctx, &order.Items, queryItems, id); err != nil {
		return nil, fmt.Errorf("repository: failed to select order items for order id %s: %w", id, err)
	}

	var receipt Receipt
	queryReceipt := `SELECT order_id, receipt_url, created_at FROM order_service.order_receipts WHERE order_id = $1`
	err := r.reader.GetContext(ctx, &receipt, queryReceipt, id)
	switch {
	case err == nil:
		order.Receipt = &receipt
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("repository: failed to select receipt for order id %s: %w", id, err)
	}

	return &order, nil
}

func (r *postgresRepository) ListOrders(ctx context.Context, params ListParams) ([]Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM order_service.orders
		WHERE ($1::text IS NULL OR status = $1::text)
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3
	`

	orders := make([]Order, 0, params.Limit)
	if err := r.reader.SelectContext(ctx, &orders, query, statusArg(params.Status), params.Limit, params.Offset()); err != nil {
		return nil, fmt.Errorf("repository: failed to list orders: %w", err)
	}

	return orders, nil
}

func (r *postgresRepository) CountOrders(ctx context.Context, status *Status) (int, error) {
	query := `SELECT count(*) FROM order_service.orders WHERE ($1::text IS NULL OR status = $1::text)`

	var total int
	if err := r.reader.GetContext(ctx, &total, query, statusArg(status)); err != nil {
		return 0, fmt.Errorf("repository: failed to count orders: %w", err)
	}

	return total, nil
}

func (r *postgresRepository) UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to Status) (time.Time, error) {
	query := `
		UPDATE order_service.orders
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
		RETURNING updated_at
	`

	var updatedAt time.Time
	err := r.db.QueryRow(ctx, query, string(to), time.Now().UTC(), id, string(from)).Scan(&updatedAt)
	if err == nil {
		return updatedAt, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		log.Error().Err(err).Stringer("order_id", id).Stringer("new_status", to).Msg("repository: failed to update order status")
		return time.Time{}, fmt.Errorf("repository: failed to update order status %s: %w", id, err)
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM order_service.orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return time.Time{}, fmt.Errorf("repository: failed to check order %s existence: %w", id, err)
	}
	if !exists {
		log.Warn().Stringer("order_id", id).Stringer("new_status", to).Msg("repository: order not found for status update")
		return time.Time{}, ErrOrderNotFound
	}

	return time.Time{}, ErrStatusConflict
}

func (r *postgresRepository) MarkOrderPaid(ctx context.Context, event PaidEvent, paidAt time.Time) (applied bool, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if !applied || err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	paidAt = paidAt.UTC()

	queryOrder := `
		UPDATE order_service.orders
		SET status = $1, paid = true, paid_at = $2, payment_charge_id = $3, updated_at = $2
		WHERE id = $4 AND status = $5
	`
	cmdTag, err := tx.Exec(ctx, queryOrder, string(StatusPaid), paidAt, event.PaymentID, event.OrderID, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("repository: failed to mark order %s paid: %w", event.OrderID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return false, nil
	}

	queryReceipt := `
		INSERT INTO order_service.order_receipts (order_id, receipt_url, created_at)
		VALUES ($1, $2, $3)
	`
	if _, err = tx.Exec(ctx, queryReceipt, event.OrderID, event.ReceiptURL, paidAt); err != nil {
		if isUniqueViolation(err) {
			log.Warn().Stringer("order_id", event.OrderID).Msg("repository: receipt already attached, skipping paid transition")
			return false, nil
		}
		return false, fmt.Errorf("repository: failed to insert receipt for order %s: %w", event.OrderID, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("repository: failed to commit paid transition for order %s: %w", event.OrderID, err)
	}

	return true, nil
}

func statusArg(status *Status) *string {
	if status == nil {
		return nil
	}
	s := string(*status)
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgerrcode.CheckViolation, pgerrcode.UniqueViolation, pgerrcode.NotNullViolation:
		return fmt.Errorf("%s: %w", pgErr.Message, ErrValidation)
	default:
		return err
	}
}
