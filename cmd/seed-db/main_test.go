package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-coupons/internal/domain/auth"
	"github.com/xenking/kart-coupons/internal/repository/sqlite"
)

func TestRunSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kart.db")
	opts := options{
		storage:      "sqlite",
		sqlitePath:   path,
		apiKey:       "secret",
		apiKeyPepper: "pepper",
	}

	require.NoError(t, run(ctx, opts))
	// Seeding twice keeps working.
	require.NoError(t, run(ctx, opts))

	store, err := sqlite.New(ctx, path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	products, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 5)

	c, err := store.FindByCode(ctx, "SAVE8")
	require.NoError(t, err)
	assert.True(t, c.CountByQuantity)
	assert.True(t, c.IndividualUseOnly)
	assert.Equal(t, 8, c.UsageLimit)

	info, err := store.FindByHash(ctx, auth.HashKey([]byte("pepper"), "secret"))
	require.NoError(t, err)
	assert.True(t, info.HasScope(auth.ScopeManageCoupons))
}

func TestLoadDataFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"x","name":"Tea","price":2.5,"category":"Drinks"}]`), 0o600))

	d, err := loadData(options{productsFile: path, apiKey: "k"})
	require.NoError(t, err)
	require.Len(t, d.Products, 1)
	assert.Equal(t, "Tea", d.Products[0].Name)

	_, err = loadData(options{productsFile: filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, err)
}

func TestRunUnknownStorage(t *testing.T) {
	err := run(context.Background(), options{storage: "redis", apiKey: "k"})
	assert.ErrorContains(t, err, `unknown storage "redis"`)
}
