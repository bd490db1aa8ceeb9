package repository

import (
	"context"
	"testing"
	"time"

	"github.com/fjod/cartsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestPostgres(t *testing.T) (*PostgresRepository, func()) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &Credentials{
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "./migrations",
	}

	repo, err := NewPostgresRepository(creds)
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations(creds))

	cleanup := func() {
		repo.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}
	return repo, cleanup
}

func TestPostgres_ProfileInfo(t *testing.T) {
	repo, cleanup := setupTestPostgres(t)
	defer cleanup()
	ctx := context.Background()

	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, business_name, billing_rut, bank, shipping_region, shipping_commune)
		VALUES ('u1', 'Comercial Sur', '12.345.678-5', 'Banco Estado', 'RM', 'Santiago')`)
	require.NoError(t, err)

	b, err := repo.GetBillingInfo(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "Comercial Sur", b.BusinessName)
	assert.Equal(t, "", b.BusinessLine)

	tr, err := repo.GetTransferInfo(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Banco Estado", tr.Bank)

	s, err := repo.GetShippingInfo(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Santiago", s.Commune)

	missing, err := repo.GetBillingInfo(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPostgres_Thumbnails(t *testing.T) {
	repo, cleanup := setupTestPostgres(t)
	defer cleanup()
	ctx := context.Background()

	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO product_images (product_id, image_order, image_url, thumbnail_url, thumbnails, thumbnail_signature) VALUES
		('p1', 0, 'p1-main.jpg', 'p1-thumb.webp', '{"mobile":"p1-m.webp"}', 'sig-a'),
		('p1', 1, 'p1-side.jpg', 'p1-side.webp', NULL, 'sig-b'),
		('p2', 0, 'p2-main.jpg', 'p2-thumb.webp', NULL, NULL)`)
	require.NoError(t, err)

	th, err := repo.GetThumbnail(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, th)
	assert.Equal(t, "p1-thumb.webp", th.ThumbnailURL)
	assert.Equal(t, "sig-a", th.Signature)
	assert.Equal(t, "p1-m.webp", th.Variants["mobile"])

	none, err := repo.GetThumbnail(ctx, "p9")
	require.NoError(t, err)
	assert.Nil(t, none)

	many, err := repo.GetThumbnails(ctx, []string{"p1", "p2", "p9"})
	require.NoError(t, err)
	assert.Len(t, many, 2)
}

func TestPostgres_Orders(t *testing.T) {
	repo, cleanup := setupTestPostgres(t)
	defer cleanup()
	ctx := context.Background()

	o := &domain.Order{ID: "o1", CartID: "c1", UserID: "u1", PaymentStatus: domain.PaymentPending, TotalAmount: 15990}
	require.NoError(t, repo.CreateOrder(ctx, o))
	assert.False(t, o.UpdatedAt.IsZero())

	paid, err := repo.UpdatePaymentStatus(ctx, "o1", domain.PaymentPaid)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, paid.PaymentStatus)
	assert.Equal(t, "c1", paid.CartID)

	got, err := repo.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 15990.0, got.TotalAmount)

	_, err = repo.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
	_, err = repo.UpdatePaymentStatus(ctx, "missing", domain.PaymentPaid)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
