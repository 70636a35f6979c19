package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/finkargo/tip-analytics/internal/core"
)

// SaveDataset stores the raw upload, replacing any previous one for the tenant.
func (db *DB) SaveDataset(ctx context.Context, tenantID, content string) error {
	query := `
        INSERT INTO tenant_datasets (tenant_id, content, uploaded_at, updated_at)
        VALUES ($1, $2, NOW(), NOW())
        ON CONFLICT (tenant_id) DO UPDATE SET
            content = EXCLUDED.content,
            updated_at = NOW()
    `
	if _, err := db.ExecContext(ctx, query, tenantID, content); err != nil {
		return fmt.Errorf("postgres: save dataset for %s: %w", tenantID, err)
	}
	return nil
}

// LoadDatasets returns the stored upload of every tenant.
func (db *DB) LoadDatasets(ctx context.Context) (map[string]string, error) {
	var rows []struct {
		TenantID string `db:"tenant_id"`
		Content  string `db:"content"`
	}
	if err := db.SelectContext(ctx, &rows, `SELECT tenant_id, content FROM tenant_datasets`); err != nil {
		return nil, fmt.Errorf("postgres: load datasets: %w", err)
	}

	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.TenantID] = r.Content
	}
	return out, nil
}

func (db *DB) DeleteDataset(ctx context.Context, tenantID string) (bool, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM tenant_datasets WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return false, fmt.Errorf("postgres: delete dataset for %s: %w", tenantID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordUpload appends an upload outcome to the log. Results without an
// upload id, such as rejected uploads, get a fresh one.
func (db *DB) RecordUpload(ctx context.Context, tenantID string, result core.UploadResult) error {
	id := result.UploadID
	if id == "" {
		id = uuid.NewString()
	}

	query := `
        INSERT INTO dataset_uploads (
            id, tenant_id, success, rows_processed, skipped_rows, message, created_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6, NOW()
        )`
	_, err := db.ExecContext(ctx, query,
		id, tenantID, result.Success, result.RowsProcessed, result.SkippedRows, result.Message,
	)
	if err != nil {
		return fmt.Errorf("postgres: record upload for %s: %w", tenantID, err)
	}
	return nil
}

// ListUploads returns the tenant's most recent uploads, newest first.
func (db *DB) ListUploads(ctx context.Context, tenantID string, limit int) ([]core.UploadRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	var records []core.UploadRecord
	query := `
        SELECT id, tenant_id, success, rows_processed, skipped_rows, message, created_at
        FROM dataset_uploads
        WHERE tenant_id = $1
        ORDER BY created_at DESC
        LIMIT $2
    `
	if err := db.SelectContext(ctx, &records, query, tenantID, limit); err != nil {
		return nil, fmt.Errorf("postgres: list uploads for %s: %w", tenantID, err)
	}
	return records, nil
}
