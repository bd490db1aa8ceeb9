package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/cartsync/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// PostgresRepository serves user profiles, product thumbnails and orders.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(cred *Credentials) (*PostgresRepository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "cartsync_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

// Profile sub-resources return (nil, nil) for an unknown user so the
// validators report every field as missing.

func (r *PostgresRepository) GetBillingInfo(ctx context.Context, userID string) (*domain.BillingInfo, error) {
	query := `SELECT COALESCE(business_name, ''), COALESCE(billing_rut, ''), COALESCE(business_line, ''),
	                 COALESCE(billing_address, ''), COALESCE(billing_region, ''), COALESCE(billing_commune, '')
	          FROM user_profiles WHERE user_id = $1`

	var b domain.BillingInfo
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&b.BusinessName,
		&b.BillingRut,
		&b.BusinessLine,
		&b.BillingAddress,
		&b.BillingRegion,
		&b.BillingCommune,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query billing info: %w", err)
	}
	return &b, nil
}

func (r *PostgresRepository) GetTransferInfo(ctx context.Context, userID string) (*domain.TransferInfo, error) {
	query := `SELECT COALESCE(account_holder, ''), COALESCE(bank, ''), COALESCE(account_number, ''),
	                 COALESCE(account_type, ''), COALESCE(transfer_rut, ''), COALESCE(confirmation_email, '')
	          FROM user_profiles WHERE user_id = $1`

	var t domain.TransferInfo
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&t.AccountHolder,
		&t.Bank,
		&t.AccountNumber,
		&t.AccountType,
		&t.TransferRut,
		&t.ConfirmationEmail,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query transfer info: %w", err)
	}
	return &t, nil
}

func (r *PostgresRepository) GetShippingInfo(ctx context.Context, userID string) (*domain.ShippingInfo, error) {
	query := `SELECT COALESCE(shipping_region, ''), COALESCE(shipping_commune, ''),
	                 COALESCE(shipping_address, ''), COALESCE(shipping_number, '')
	          FROM user_profiles WHERE user_id = $1`

	var s domain.ShippingInfo
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&s.Region, &s.Commune, &s.Address, &s.Number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query shipping info: %w", err)
	}
	return &s, nil
}

// GetThumbnail returns the main (lowest image_order) image of a product, or
// nil when the product has none.
func (r *PostgresRepository) GetThumbnail(ctx context.Context, productID string) (*domain.Thumbnail, error) {
	query := `SELECT product_id, COALESCE(thumbnail_url, ''), COALESCE(thumbnails, '{}'::jsonb), COALESCE(thumbnail_signature, '')
	          FROM product_images WHERE product_id = $1
	          ORDER BY image_order LIMIT 1`

	t, err := scanThumbnail(r.db.QueryRowContext(ctx, query, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query thumbnail: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) GetThumbnails(ctx context.Context, productIDs []string) ([]domain.Thumbnail, error) {
	query := `SELECT DISTINCT ON (product_id)
	                 product_id, COALESCE(thumbnail_url, ''), COALESCE(thumbnails, '{}'::jsonb), COALESCE(thumbnail_signature, '')
	          FROM product_images WHERE product_id = ANY($1)
	          ORDER BY product_id, image_order`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(productIDs))
	if err != nil {
		return nil, fmt.Errorf("query thumbnails: %w", err)
	}
	defer rows.Close()

	var out []domain.Thumbnail
	for rows.Next() {
		t, err := scanThumbnail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thumbnail row: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanThumbnail(s scanner) (*domain.Thumbnail, error) {
	var t domain.Thumbnail
	var variants []byte
	if err := s.Scan(&t.ProductID, &t.ThumbnailURL, &variants, &t.Signature); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(variants, &t.Variants); err != nil {
		return nil, fmt.Errorf("unmarshal thumbnail variants: %w", err)
	}
	return &t, nil
}

func (r *PostgresRepository) CreateOrder(ctx context.Context, o *domain.Order) error {
	query := `INSERT INTO orders (order_id, cart_id, user_id, payment_status, total_amount, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
	          RETURNING updated_at`

	err := r.db.QueryRowContext(ctx, query, o.ID, o.CartID, o.UserID, o.PaymentStatus, o.TotalAmount).Scan(&o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	query := `SELECT order_id, cart_id, user_id, payment_status, total_amount, updated_at
	          FROM orders WHERE order_id = $1`

	var o domain.Order
	err := r.db.QueryRowContext(ctx, query, orderID).Scan(
		&o.ID, &o.CartID, &o.UserID, &o.PaymentStatus, &o.TotalAmount, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}
	return &o, nil
}

func (r *PostgresRepository) UpdatePaymentStatus(ctx context.Context, orderID string, status domain.PaymentStatus) (*domain.Order, error) {
	query := `UPDATE orders SET payment_status = $2, updated_at = NOW()
	          WHERE order_id = $1
	          RETURNING order_id, cart_id, user_id, payment_status, total_amount, updated_at`

	var o domain.Order
	err := r.db.QueryRowContext(ctx, query, orderID, status).Scan(
		&o.ID, &o.CartID, &o.UserID, &o.PaymentStatus, &o.TotalAmount, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update payment status: %w", err)
	}
	return &o, nil
}
