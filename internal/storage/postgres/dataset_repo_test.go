package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finkargo/tip-analytics/internal/config"
	"github.com/finkargo/tip-analytics/internal/core"
	"github.com/finkargo/tip-analytics/internal/providers"
)

var _ providers.DatasetStore = (*DB)(nil)

func testDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("TIP_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TIP_TEST_DATABASE_URL not set")
	}
	cfg := config.DatabaseConfig{URL: url, ConnectRetries: 1}

	require.NoError(t, Migrate(cfg, nil))
	db, err := Connect(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestConnect_RequiresURL(t *testing.T) {
	_, err := Connect(context.Background(), config.DatabaseConfig{}, nil)
	assert.ErrorIs(t, err, ErrNoDatabaseURL)
	assert.ErrorIs(t, Migrate(config.DatabaseConfig{}, nil), ErrNoDatabaseURL)
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "000001_create_tenant_datasets.up.sql")
	assert.Contains(t, names, "000002_create_upload_log.down.sql")
}

func TestDatasetRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	tenant := "it-" + t.Name()

	require.NoError(t, db.SaveDataset(ctx, tenant, "sku\nA\n"))
	require.NoError(t, db.SaveDataset(ctx, tenant, "sku\nB\n"))

	all, err := db.LoadDatasets(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sku\nB\n", all[tenant])

	deleted, err := db.DeleteDataset(ctx, tenant)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = db.DeleteDataset(ctx, tenant)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestUploadLog(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	tenant := "it-" + t.Name()

	require.NoError(t, db.RecordUpload(ctx, tenant, core.UploadResult{Success: false, Message: "no valid rows"}))
	require.NoError(t, db.RecordUpload(ctx, tenant, core.UploadResult{Success: true, RowsProcessed: 8, SkippedRows: 2}))

	records, err := db.ListUploads(ctx, tenant, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].Success)
	assert.Equal(t, 2, records[0].SkippedRows)
	assert.NotEmpty(t, records[1].ID)
}
