package pgwatch

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/PriceWatch/internal/extract"
	"github.com/BearBump/PriceWatch/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPGWatch_RepoFlow(t *testing.T) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "pricewatch_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/pricewatch_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	img := "https://shop.test/p/1.jpg"
	ep := extract.ExtractedProduct{
		Name:       "Mechanical Keyboard",
		Price:      decimal.RequireFromString("89.99"),
		Currency:   "USD",
		InStock:    true,
		ImageURL:   &img,
		SourceName: "Amazon",
	}
	product, err := st.CreateProduct(ctx, "https://shop.test/p/1", ep)
	require.NoError(t, err)
	require.NotZero(t, product.ID)
	require.True(t, product.Active)
	require.Equal(t, "Amazon", product.SourceName)

	// Повторное добавление того же URL не падает на unique constraint,
	// а возвращает ту же строку с обновлённым снапшотом.
	require.NoError(t, st.SetProductActive(ctx, product.ID, false))
	ep.Name = "Mechanical Keyboard v2"
	again, err := st.CreateProduct(ctx, "https://shop.test/p/1", ep)
	require.NoError(t, err)
	require.Equal(t, product.ID, again.ID)
	require.Equal(t, "Mechanical Keyboard v2", again.Name)
	require.True(t, again.Active)

	got, err := st.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	require.Equal(t, "Mechanical Keyboard v2", got.Name)

	missing, err := st.GetProduct(ctx, 99999)
	require.NoError(t, err)
	require.Nil(t, missing)

	active, err := st.ListActiveProducts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	// История цен: последнее наблюдение определяется по observed_at, id
	// ломает ничью.
	t0 := time.Now().UTC().Add(-2 * time.Hour)
	first, err := st.InsertPricePoint(ctx, product.ID, decimal.RequireFromString("99.90"), "USD", true, t0)
	require.NoError(t, err)
	require.NotZero(t, first.ID)
	require.True(t, first.Price.Equal(decimal.RequireFromString("99.90")))

	t1 := time.Now().UTC().Add(-1 * time.Hour)
	second, err := st.InsertPricePoint(ctx, product.ID, decimal.RequireFromString("89.99"), "USD", true, t1)
	require.NoError(t, err)

	latest, err := st.LatestPricePoint(ctx, product.ID)
	require.NoError(t, err)
	require.Equal(t, second.ID, latest.ID)
	require.True(t, latest.Price.Equal(decimal.RequireFromString("89.99")))
	require.WithinDuration(t, t1, latest.ObservedAt, time.Second)

	noHistory, err := st.LatestPricePoint(ctx, 99999)
	require.NoError(t, err)
	require.Nil(t, noHistory)

	page, err := st.ListPricePoints(ctx, product.ID, 1, 0)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, second.ID, page[0].ID)

	page, err = st.ListPricePoints(ctx, product.ID, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, first.ID, page[0].ID)

	// Алерты и cooldown-claim.
	email := "buyer@example.com"
	alert, err := st.CreateAlert(ctx, models.AlertRule{
		ProductID:   product.ID,
		TargetPrice: decimal.RequireFromString("90.00"),
		Email:       &email,
	})
	require.NoError(t, err)
	require.NotZero(t, alert.ID)
	require.True(t, alert.IsActive)
	require.Nil(t, alert.LastNotifiedAt)
	require.True(t, alert.TargetPrice.Equal(decimal.RequireFromString("90.00")))

	rules, err := st.ListActiveAlertsForProduct(ctx, product.ID)
	require.NoError(t, err)
	require.Len(t, rules, 1)

	ids, err := st.ListProductIDsWithActiveAlerts(ctx)
	require.NoError(t, err)
	require.Equal(t, []uint64{product.ID}, ids)

	cooldown := 24 * time.Hour
	now := time.Now().UTC()

	claimed, err := st.ClaimNotification(ctx, alert.ID, now, cooldown)
	require.NoError(t, err)
	require.True(t, claimed)

	// Внутри окна повторный claim отклоняется.
	claimed, err = st.ClaimNotification(ctx, alert.ID, now.Add(time.Minute), cooldown)
	require.NoError(t, err)
	require.False(t, claimed)

	_, err = st.db.Exec(ctx, `UPDATE price_alerts SET last_notified_at = now() - interval '25 hours' WHERE id = $1`, alert.ID)
	require.NoError(t, err)

	claimed, err = st.ClaimNotification(ctx, alert.ID, time.Now().UTC(), cooldown)
	require.NoError(t, err)
	require.True(t, claimed)

	reloaded, err := st.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastNotifiedAt)

	// Выключенное правило claim не проходит.
	require.NoError(t, st.SetAlertActive(ctx, alert.ID, false))
	claimed, err = st.ClaimNotification(ctx, alert.ID, now.Add(48*time.Hour), cooldown)
	require.NoError(t, err)
	require.False(t, claimed)
	require.NoError(t, st.SetAlertActive(ctx, alert.ID, true))

	// Деактивация продукта прячет его правила из активных выборок,
	// но не удаляет их.
	require.NoError(t, st.SetProductActive(ctx, product.ID, false))

	rules, err = st.ListActiveAlertsForProduct(ctx, product.ID)
	require.NoError(t, err)
	require.Empty(t, rules)

	ids, err = st.ListProductIDsWithActiveAlerts(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)

	all, err := st.ListAlertsForProduct(ctx, product.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, st.DeleteAlert(ctx, alert.ID))
	require.Error(t, st.DeleteAlert(ctx, alert.ID))
}
